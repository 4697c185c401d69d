// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"testing"
	"time"
)

func TestRateLimit_Disabled(t *testing.T) {
	rl := NewRateLimit(0)
	if rl.Enabled() {
		t.Fatal("zero per-minute policy should be disabled")
	}

	limiter := rl.Limiter()
	for i := 0; i < 10_000; i++ {
		if !limiter.Allow() {
			t.Fatalf("disabled limiter rejected frame %d", i)
		}
	}
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	rl := NewRateLimit(60) // 1 frame/s, burst 5
	limiter := rl.Limiter()

	now := time.Now()
	for i := 0; i < 5; i++ {
		if !limiter.AllowN(now, 1) {
			t.Fatalf("frame %d inside burst rejected", i)
		}
	}
	if limiter.AllowN(now, 1) {
		t.Fatal("frame beyond burst allowed")
	}
}

func TestRateLimit_RefillsOverTime(t *testing.T) {
	rl := NewRateLimit(60)
	limiter := rl.Limiter()

	now := time.Now()
	for limiter.AllowN(now, 1) {
	}

	// 1 frame/s policy: two seconds buys two more frames.
	later := now.Add(2 * time.Second)
	if !limiter.AllowN(later, 1) {
		t.Fatal("first refilled token rejected")
	}
	if !limiter.AllowN(later, 1) {
		t.Fatal("second refilled token rejected")
	}
	if limiter.AllowN(later, 1) {
		t.Fatal("third token allowed before refill")
	}
}

func TestRateLimit_PerConnectionIsolation(t *testing.T) {
	rl := NewRateLimit(60)
	a, b := rl.Limiter(), rl.Limiter()

	now := time.Now()
	for a.AllowN(now, 1) {
	}
	if !b.AllowN(now, 1) {
		t.Fatal("draining one connection's bucket starved another")
	}
}

func TestRateLimit_MinimumBurst(t *testing.T) {
	rl := NewRateLimit(6) // 0.1 frame/s, burst clamps to minBurst
	limiter := rl.Limiter()

	now := time.Now()
	for i := 0; i < minBurst; i++ {
		if !limiter.AllowN(now, 1) {
			t.Fatalf("frame %d inside minimum burst rejected", i)
		}
	}
}
