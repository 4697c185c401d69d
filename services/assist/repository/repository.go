// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repository persists acknowledged turns and analysis results
// in an embedded BadgerDB store.
//
// # Description
//
// Writes happen write-behind from the room agent's worker goroutine,
// never on the signaling hot path. Result writes are idempotent per
// (turn, kind): the first write wins and replays are no-ops, matching
// the agent's own dedup behavior.
//
// # Key Layout
//
//	t/<session_id>/<index>       → Turn (JSON)
//	r/<session_id>/<index>/<kind> → AnalysisResult (JSON)
//
// Indexes are zero-padded so Badger's lexicographic iteration yields
// turns in session order.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
)

// Config holds configuration for the repository store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode for tests.
	InMemory bool

	// SyncWrites fsyncs every write. Write-behind persistence can
	// afford to keep this off; crash loss is bounded to the last few
	// turns of live sessions.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. Nil disables them.
	Logger *slog.Logger
}

// Repository is the persistence capability used by room agents and the
// session reaper.
type Repository interface {
	// SaveTurn persists one acknowledged turn.
	SaveTurn(ctx context.Context, sessionID string, turn datatypes.Turn) error

	// SaveResult persists one analysis result. Idempotent per
	// (session, turn, kind); replays return nil without writing.
	SaveResult(ctx context.Context, result datatypes.AnalysisResult) error

	// SessionTurns returns all persisted turns of a session in index
	// order. Unknown sessions yield an empty slice.
	SessionTurns(ctx context.Context, sessionID string) ([]datatypes.Turn, error)

	// SessionResults returns all persisted results of a session,
	// ordered by turn index then kind.
	SessionResults(ctx context.Context, sessionID string) ([]datatypes.AnalysisResult, error)

	// Close releases the store. Further calls fail.
	Close() error
}

// ErrClosed is returned by operations on a closed repository.
var ErrClosed = errors.New("repository is closed")

// badgerRepository implements Repository on BadgerDB.
type badgerRepository struct {
	db     *badger.DB
	logger *slog.Logger
}

// New opens the repository store at cfg.Path, creating the directory
// when missing.
func New(cfg Config) (Repository, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent repository")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create repository directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open repository store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &badgerRepository{
		db:     db,
		logger: logger.With("component", "repository"),
	}, nil
}

// SaveTurn implements Repository.
func (r *badgerRepository) SaveTurn(ctx context.Context, sessionID string, turn datatypes.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn %d: %w", turn.Index, err)
	}

	key := turnKey(sessionID, turn.Index)
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return r.wrap("save turn", err)
	}
	return nil
}

// SaveResult implements Repository.
func (r *badgerRepository) SaveResult(ctx context.Context, result datatypes.AnalysisResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode %s result for turn %d: %w", result.Kind, result.TurnID, err)
	}

	key := resultKey(result.SessionID, result.TurnID, result.Kind)
	err = r.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(key)
		if getErr == nil {
			// First write wins; a replayed turn produces identical
			// results, so there is nothing to reconcile.
			return nil
		}
		if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return r.wrap("save result", err)
	}
	return nil
}

// SessionTurns implements Repository.
func (r *badgerRepository) SessionTurns(ctx context.Context, sessionID string) ([]datatypes.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(fmt.Sprintf("t/%s/", sessionID))
	turns := []datatypes.Turn{}

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var turn datatypes.Turn
				if err := json.Unmarshal(val, &turn); err != nil {
					return fmt.Errorf("decode turn at %s: %w", it.Item().Key(), err)
				}
				turns = append(turns, turn)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.wrap("load turns", err)
	}
	return turns, nil
}

// SessionResults implements Repository.
func (r *badgerRepository) SessionResults(ctx context.Context, sessionID string) ([]datatypes.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(fmt.Sprintf("r/%s/", sessionID))
	results := []datatypes.AnalysisResult{}

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var res datatypes.AnalysisResult
				if err := json.Unmarshal(val, &res); err != nil {
					return fmt.Errorf("decode result at %s: %w", it.Item().Key(), err)
				}
				results = append(results, res)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.wrap("load results", err)
	}
	return results, nil
}

// Close implements Repository.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}

func (r *badgerRepository) wrap(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// turnKey builds t/<session>/<index> with a zero-padded index so
// iteration order matches session order.
func turnKey(sessionID string, index int) []byte {
	return []byte(fmt.Sprintf("t/%s/%010d", sessionID, index))
}

// resultKey builds r/<session>/<index>/<kind>.
func resultKey(sessionID string, turnID int, kind datatypes.AnalysisKind) []byte {
	return []byte(fmt.Sprintf("r/%s/%010d/%s", sessionID, turnID, kind))
}

// badgerLogger adapts Badger's printf logging onto slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

var _ Repository = (*badgerRepository)(nil)
