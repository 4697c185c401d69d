// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides connection-scoped policies for the
// signaling transport.
//
// # Description
//
// The signaling socket is the only client-writable surface of the
// service, so inbound abuse control lives here. Each WebSocket
// connection gets its own token bucket from the shared RateLimit
// policy; the read loop consumes one token per inbound frame and
// rejects the frame when the bucket is empty. Buckets are per
// connection, never shared, so one noisy peer cannot starve another.
//
// # Thread Safety
//
// RateLimit is immutable after construction. The *rate.Limiter values
// it hands out are safe for concurrent use, though the socket read
// loop is the only caller in practice.
package middleware

import (
	"golang.org/x/time/rate"
)

// minBurst keeps a fresh connection from being rejected on its very
// first join frame even under tight limits.
const minBurst = 5

// RateLimit builds per-connection token buckets from a frames-per-minute
// policy.
type RateLimit struct {
	perMinute int
	burst     int
}

// NewRateLimit returns a policy allowing perMinute inbound frames per
// connection, with a burst of one tenth of the minute allowance.
// Non-positive perMinute disables limiting.
func NewRateLimit(perMinute int) *RateLimit {
	burst := perMinute / 10
	if burst < minBurst {
		burst = minBurst
	}
	return &RateLimit{perMinute: perMinute, burst: burst}
}

// Enabled reports whether the policy limits anything.
func (r *RateLimit) Enabled() bool { return r.perMinute > 0 }

// Limiter returns a fresh token bucket for one connection.
func (r *RateLimit) Limiter() *rate.Limiter {
	if !r.Enabled() {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(r.perMinute)/60.0), r.burst)
}
