// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/observability"
)

var tracer = otel.Tracer("assist.chat")

// RetryConfig tunes the resilient gateway wrapper.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first failure.
	// Zero disables retries entirely.
	MaxRetries int

	// BaseDelay is the first backoff interval; each retry doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// JitterPercent randomizes each delay by ±N% so concurrent rooms
	// do not hammer a recovering backend in lockstep.
	JitterPercent int
}

// DefaultRetryConfig returns the production retry posture: two retries,
// 200ms base doubled per attempt, capped at 5s, ±20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterPercent: 20,
	}
}

// ResilientGateway wraps another Gateway with retry, tracing, and call
// latency metrics. Analysis nodes talk to this type, never to the raw
// backend client.
//
// # Thread Safety
//
// Stateless beyond configuration; safe to share across rooms.
type ResilientGateway struct {
	inner   Gateway
	config  RetryConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResilientGateway wraps inner. A nil metrics handle disables
// instrument updates, which keeps unit tests free of registry setup.
func NewResilientGateway(inner Gateway, config RetryConfig, metrics *observability.Metrics) *ResilientGateway {
	if config.BaseDelay <= 0 {
		config.BaseDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	return &ResilientGateway{
		inner:   inner,
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "chat_gateway"),
	}
}

// Complete implements Gateway with retry on transient failures.
func (g *ResilientGateway) Complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "chat.Complete")
	defer span.End()

	var out string
	err := g.withRetry(ctx, span, "complete", func() error {
		var callErr error
		out, callErr = g.inner.Complete(ctx, prompt, params)
		return callErr
	})
	return out, err
}

// Stream implements Gateway. The stream is retried only while no chunk
// has been delivered; once fn has seen bytes, a broken stream is
// surfaced to the caller rather than replayed from the top.
func (g *ResilientGateway) Stream(ctx context.Context, prompt string, params GenerationParams, fn func(chunk string) error) error {
	ctx, span := tracer.Start(ctx, "chat.Stream")
	defer span.End()

	delivered := false
	wrapped := func(chunk string) error {
		delivered = true
		return fn(chunk)
	}

	return g.withRetry(ctx, span, "stream", func() error {
		err := g.inner.Stream(ctx, prompt, params, wrapped)
		if err != nil && delivered {
			return &permanentError{err: err}
		}
		return err
	})
}

// Embed implements Gateway with retry on transient failures.
func (g *ResilientGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "chat.Embed")
	span.SetAttributes(attribute.Int("chat.embed.batch_size", len(texts)))
	defer span.End()

	var out [][]float32
	err := g.withRetry(ctx, span, "embed", func() error {
		var callErr error
		out, callErr = g.inner.Embed(ctx, texts)
		return callErr
	})
	return out, err
}

// withRetry runs op until success, a non-retryable error, or attempt
// exhaustion. Latency is recorded once for the whole call including
// backoff sleeps, since that is what the analysis node experiences.
func (g *ResilientGateway) withRetry(ctx context.Context, span trace.Span, opName string, op func() error) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.backoff(attempt)
			g.logger.Warn("retrying gateway call",
				"op", opName,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				g.record(opName, start, false)
				span.SetStatus(codes.Error, ctx.Err().Error())
				return ctx.Err()
			}
		}

		lastErr = op()
		if lastErr == nil {
			g.record(opName, start, true)
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			lastErr = perm.err
			break
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	g.record(opName, start, false)
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return lastErr
}

func (g *ResilientGateway) record(opName string, start time.Time, success bool) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordGatewayCall(opName, time.Since(start).Seconds(), success)
	if !success {
		g.metrics.RecordError(observability.ComponentGateway, "upstream")
	}
}

// backoff computes the delay before retry n (1-based) with jitter.
func (g *ResilientGateway) backoff(attempt int) time.Duration {
	delay := g.config.BaseDelay * (1 << uint(attempt-1))
	if delay > g.config.MaxDelay {
		delay = g.config.MaxDelay
	}
	if g.config.JitterPercent > 0 {
		jitter := int64(delay) * int64(g.config.JitterPercent) / 100
		delay += time.Duration(rand.Int63n(2*jitter+1) - jitter)
	}
	return delay
}

// permanentError stops the retry loop regardless of classification.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// isRetryable reports whether err is worth another attempt.
//
// Cancellation is the caller's decision and is never retried. Deadline
// expiry, connection resets, and timeouts from the transport are
// transient. Protocol-level failures like ErrNoChoices are not: the
// backend answered, it just answered badly.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrNoChoices) || errors.Is(err, ErrEmptyPrompt) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

var _ Gateway = (*ResilientGateway)(nil)
