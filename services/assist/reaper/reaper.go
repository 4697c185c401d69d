// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reaper sweeps idle room agents on a schedule.
//
// # Description
//
// Rooms normally tear their agent down when the last peer leaves, but a
// room whose peers all vanished without a leave (network partition,
// crashed clients) keeps its agent and session alive. The reaper runs a
// ticker + done channel loop that asks the agent registry to close
// anything idle beyond a configurable duration. Sweeps can also be
// invoked on demand.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Start and Stop guard
// the running state with a mutex; RunNow delegates to the target, which
// does its own locking.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultInterval  = time.Minute
	DefaultIdleAfter = 30 * time.Minute
)

// Target is the registry the reaper sweeps. *agent.Manager implements it.
type Target interface {
	// SweepIdle closes everything idle for at least the given duration
	// and returns how many were closed.
	SweepIdle(idle time.Duration) int
}

// Config holds the sweep schedule.
type Config struct {
	// Interval is how often the background loop sweeps.
	Interval time.Duration

	// IdleAfter is the inactivity threshold for closing an agent.
	IdleAfter time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Reaper drives periodic idle sweeps against a Target.
type Reaper struct {
	target    Target
	interval  time.Duration
	idleAfter time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New builds a stopped reaper. Call Start to begin sweeping.
func New(target Target, cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultIdleAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		target:    target,
		interval:  cfg.Interval,
		idleAfter: cfg.IdleAfter,
		logger:    logger.With("component", "reaper"),
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep loop. It returns an error when
// the reaper is already running. The loop exits on Stop or when ctx is
// cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("reaper is already running")
	}
	r.running = true
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	r.logger.Info("idle sweep starting",
		"interval", r.interval.String(),
		"idle_after", r.idleAfter.String(),
	)
	go r.loop(ctx, done)
	return nil
}

// Stop halts the background loop. Safe to call multiple times; a
// stopped reaper may be started again.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	close(r.done)
	r.running = false
	r.logger.Info("idle sweep stopped")
	return nil
}

// RunNow performs one sweep immediately and returns how many agents
// were closed. Usable whether or not the loop is running.
func (r *Reaper) RunNow() int {
	closed := r.target.SweepIdle(r.idleAfter)
	if closed > 0 {
		r.logger.Info("idle sessions reaped", "count", closed)
	}
	return closed
}

func (r *Reaper) loop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("idle sweep stopped", "reason", "context cancelled")
			return
		case <-done:
			return
		case <-ticker.C:
			r.RunNow()
		}
	}
}
