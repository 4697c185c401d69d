// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reaper

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingTarget struct {
	mu     sync.Mutex
	idles  []time.Duration
	reaped int
}

func (t *countingTarget) SweepIdle(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idles = append(t.idles, idle)
	return t.reaped
}

func (t *countingTarget) sweeps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.idles)
}

func (t *countingTarget) lastIdle() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.idles) == 0 {
		return 0
	}
	return t.idles[len(t.idles)-1]
}

func waitForSweeps(t *testing.T, target *countingTarget, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if target.sweeps() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("saw %d sweeps, want at least %d", target.sweeps(), n)
}

func TestReaper_RunNow(t *testing.T) {
	target := &countingTarget{reaped: 3}
	r := New(target, Config{IdleAfter: 10 * time.Minute})

	if got := r.RunNow(); got != 3 {
		t.Fatalf("RunNow = %d, want 3", got)
	}
	if got := target.lastIdle(); got != 10*time.Minute {
		t.Fatalf("sweep idle threshold = %v, want 10m", got)
	}
}

func TestReaper_DefaultsApplied(t *testing.T) {
	r := New(&countingTarget{}, Config{})
	if r.interval != DefaultInterval {
		t.Fatalf("interval = %v, want %v", r.interval, DefaultInterval)
	}
	if r.idleAfter != DefaultIdleAfter {
		t.Fatalf("idleAfter = %v, want %v", r.idleAfter, DefaultIdleAfter)
	}
}

func TestReaper_LoopSweepsOnTicker(t *testing.T) {
	target := &countingTarget{}
	r := New(target, Config{Interval: 10 * time.Millisecond, IdleAfter: time.Minute})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForSweeps(t, target, 2)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	settled := target.sweeps()
	time.Sleep(50 * time.Millisecond)
	// One in-flight tick may land after Stop; the loop must not keep going.
	if target.sweeps() > settled+1 {
		t.Fatalf("sweeps continued after Stop: %d then %d", settled, target.sweeps())
	}
}

func TestReaper_StartTwiceFails(t *testing.T) {
	r := New(&countingTarget{}, Config{Interval: time.Hour})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer r.Stop()

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded, want error")
	}
}

func TestReaper_StopIdempotentAndRestartable(t *testing.T) {
	target := &countingTarget{}
	r := New(target, Config{Interval: 10 * time.Millisecond})

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitForSweeps(t, target, 1)
	r.Stop()
}

func TestReaper_ContextCancelStopsLoop(t *testing.T) {
	target := &countingTarget{}
	r := New(target, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForSweeps(t, target, 1)

	cancel()
	time.Sleep(30 * time.Millisecond)
	settled := target.sweeps()
	time.Sleep(50 * time.Millisecond)
	if target.sweeps() > settled {
		t.Fatalf("sweeps continued after cancel: %d then %d", settled, target.sweeps())
	}
}
