// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fault defines the error taxonomy that crosses component
// boundaries: the wire-visible kinds reported to peers and the codes
// attached to null analysis results.
//
// Propagation rules: node-local errors never cross sibling branches,
// peer-local errors never cross peers, and room-local fatal errors
// never cross rooms. Anything user-visible is either a typed error
// envelope on the peer's own socket or a null-payload result with a
// code from this package.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the wire-visible classification of a failure.
type Kind string

const (
	// KindBadRequest marks a malformed message or missing required
	// field. Reported to the offending peer, never fatal.
	KindBadRequest Kind = "bad_request"

	// KindNotFound marks an absent target peer or room. Reported to
	// the sender.
	KindNotFound Kind = "not_found"

	// KindOverloaded marks a mailbox or rate-limiter rejection. The
	// client is told to back off.
	KindOverloaded Kind = "overloaded"

	// KindUpstream marks a chat or vector backend failure after
	// retries. The affected analysis kind is skipped for that turn.
	KindUpstream Kind = "upstream"

	// KindTimeout marks a deadline expiry on a gateway call or graph
	// node. Surfaced as error_code="timeout" on the null result.
	KindTimeout Kind = "timeout"

	// KindFatal marks an unrecoverable invariant violation. The
	// affected room is torn down and its peers notified.
	KindFatal Kind = "fatal"
)

// Sentinel errors for the fault package.
var (
	// ErrBadRequest is returned for malformed or incomplete messages.
	ErrBadRequest = errors.New("malformed or incomplete message")

	// ErrNotFound is returned when a target peer or room is absent.
	ErrNotFound = errors.New("target not found")

	// ErrOverloaded is returned on mailbox or rate-limit rejection.
	ErrOverloaded = errors.New("over capacity")

	// ErrUpstream is returned when a backend failed after retries.
	ErrUpstream = errors.New("upstream backend failed")

	// ErrFatal is returned on an unrecoverable invariant violation.
	ErrFatal = errors.New("invariant violation")
)

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

// Error returns the error message.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with a Kind. Returns nil when err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies err for wire reporting.
//
// An explicit *Error wins. Context cancellation and deadline expiry map
// to timeout. Sentinels map to their kind. Everything else is treated
// as upstream: unclassified failures come from dependencies, and fatal
// must always be an explicit decision.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrOverloaded):
		return KindOverloaded
	case errors.Is(err, ErrFatal):
		return KindFatal
	default:
		return KindUpstream
	}
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
