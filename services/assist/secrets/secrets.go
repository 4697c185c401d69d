// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package secrets seals small credentials (chat API key, TURN
// credential) in mlocked memory so they never reach swap.
//
// Secrets are held in memguard enclaves and decrypted only inside
// Reveal, which hands the caller a transient copy. On systems without
// sufficient RLIMIT_MEMLOCK the package refuses to seal unless
// ASSIST_INSECURE_MEMORY=true, in which case values are kept as plain
// strings and a warning is logged once.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
// Credentials are tiny; 64 KB covers the enclave plus memguard's canary
// pages on any mainstream kernel default.
const MinMlockLimitKB = 64

// ErrEmptySecret is returned when revealing a secret that was never set.
var ErrEmptySecret = errors.New("secret is empty")

var (
	initOnce            sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// Init prepares memguard exactly once: installs the interrupt handler
// that purges secure memory on SIGINT/SIGTERM and probes the mlock
// limit. Called implicitly by Seal; exported so main can front-load it.
func Init() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		} else {
			slog.Warn("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"env_override", "ASSIST_INSECURE_MEMORY=true",
			)
		}
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK and compares against the
// minimum. Returns (sufficient, currentKB); currentKB is -1 when the
// limit is unlimited or unreadable.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// Secret is a sealed credential. The zero value is empty.
type Secret struct {
	enclave *memguard.Enclave
	// plain is only populated in insecure-memory mode.
	plain string
}

// Seal wraps value in an enclave. An empty value yields an empty
// Secret without touching memguard.
func Seal(value string) (*Secret, error) {
	if value == "" {
		return &Secret{}, nil
	}

	Init()

	if !mlockSufficient {
		if os.Getenv("ASSIST_INSECURE_MEMORY") == "true" {
			return &Secret{plain: value}, nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB; raise the limit or set ASSIST_INSECURE_MEMORY=true",
			currentMlockLimitKB, MinMlockLimitKB,
		)
	}

	return &Secret{enclave: memguard.NewEnclave([]byte(value))}, nil
}

// FromEnv seals the value of the named environment variable.
// A missing or empty variable yields an empty Secret, not an error;
// callers decide whether the credential is mandatory.
func FromEnv(key string) (*Secret, error) {
	return Seal(os.Getenv(key))
}

// IsZero reports whether the secret holds no value.
func (s *Secret) IsZero() bool {
	return s == nil || (s.enclave == nil && s.plain == "")
}

// Reveal decrypts the secret and returns a transient copy. Callers
// must not retain the returned string beyond the immediate use site.
func (s *Secret) Reveal() (string, error) {
	if s.IsZero() {
		return "", ErrEmptySecret
	}
	if s.enclave == nil {
		return s.plain, nil
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open enclave: %w", err)
	}
	defer buf.Destroy()

	return string(buf.Bytes()), nil
}

// Purge wipes all memguard-allocated memory. Called during shutdown.
func Purge() {
	memguard.Purge()
}
