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
	"net"
	"sync"
	"testing"
	"time"
)

// fakeGateway scripts per-call outcomes for retry tests.
type fakeGateway struct {
	mu sync.Mutex

	completeErrs []error // consumed per call; nil entry means success
	completeOut  string
	embedOut     [][]float32
	embedErr     error
	streamChunks []string
	streamErr    error // returned after chunks are delivered
	openErr      error // returned before any chunk

	completeCalls int
	embedCalls    int
	streamCalls   int
}

func (f *fakeGateway) Complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.completeCalls
	f.completeCalls++
	if call < len(f.completeErrs) && f.completeErrs[call] != nil {
		return "", f.completeErrs[call]
	}
	return f.completeOut, nil
}

func (f *fakeGateway) Stream(ctx context.Context, prompt string, params GenerationParams, fn func(chunk string) error) error {
	f.mu.Lock()
	f.streamCalls++
	openErr := f.openErr
	f.openErr = nil // only the first open fails
	f.mu.Unlock()

	if openErr != nil {
		return openErr
	}
	for _, c := range f.streamChunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return f.streamErr
}

func (f *fakeGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedOut, nil
}

var _ Gateway = (*fakeGateway)(nil)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		JitterPercent: 0,
	}
}

func TestResilientGateway_CompleteRetriesTransient(t *testing.T) {
	transient := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	fake := &fakeGateway{
		completeErrs: []error{transient, transient, nil},
		completeOut:  `{"summary":"ok"}`,
	}
	g := NewResilientGateway(fake, fastRetryConfig(), nil)

	out, err := g.Complete(context.Background(), "analyze", GenerationParams{})
	if err != nil {
		t.Fatalf("Complete() error = %v, want nil after retries", err)
	}
	if out != `{"summary":"ok"}` {
		t.Errorf("Complete() = %q, want scripted output", out)
	}
	if fake.completeCalls != 3 {
		t.Errorf("completeCalls = %d, want 3 (1 initial + 2 retries)", fake.completeCalls)
	}
}

func TestResilientGateway_CompleteExhaustsRetries(t *testing.T) {
	transient := &net.OpError{Op: "read", Err: errors.New("connection reset")}
	fake := &fakeGateway{
		completeErrs: []error{transient, transient, transient, transient},
	}
	g := NewResilientGateway(fake, fastRetryConfig(), nil)

	_, err := g.Complete(context.Background(), "analyze", GenerationParams{})
	if err == nil {
		t.Fatal("Complete() error = nil, want failure after exhaustion")
	}
	if fake.completeCalls != 3 {
		t.Errorf("completeCalls = %d, want 3", fake.completeCalls)
	}
}

func TestResilientGateway_NoRetryOnProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no choices", ErrNoChoices},
		{"empty prompt", ErrEmptyPrompt},
		{"missing key", ErrMissingAPIKey},
		{"cancellation", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeGateway{completeErrs: []error{tt.err, nil}}
			g := NewResilientGateway(fake, fastRetryConfig(), nil)

			_, err := g.Complete(context.Background(), "analyze", GenerationParams{})
			if !errors.Is(err, tt.err) {
				t.Fatalf("Complete() error = %v, want %v", err, tt.err)
			}
			if fake.completeCalls != 1 {
				t.Errorf("completeCalls = %d, want 1 (no retry)", fake.completeCalls)
			}
		})
	}
}

func TestResilientGateway_StreamNotResumedAfterFirstChunk(t *testing.T) {
	fake := &fakeGateway{
		streamChunks: []string{"partial "},
		streamErr:    &net.OpError{Op: "read", Err: errors.New("connection reset")},
	}
	g := NewResilientGateway(fake, fastRetryConfig(), nil)

	var got string
	err := g.Stream(context.Background(), "draft", GenerationParams{}, func(chunk string) error {
		got += chunk
		return nil
	})
	if err == nil {
		t.Fatal("Stream() error = nil, want mid-stream failure surfaced")
	}
	if fake.streamCalls != 1 {
		t.Errorf("streamCalls = %d, want 1 (no replay after delivery)", fake.streamCalls)
	}
	if got != "partial " {
		t.Errorf("delivered = %q, want the chunk seen before the break", got)
	}
}

func TestResilientGateway_StreamRetriesFailedOpen(t *testing.T) {
	fake := &fakeGateway{
		openErr:      &net.OpError{Op: "dial", Err: errors.New("connection refused")},
		streamChunks: []string{"hello", " world"},
	}
	g := NewResilientGateway(fake, fastRetryConfig(), nil)

	var got string
	err := g.Stream(context.Background(), "draft", GenerationParams{}, func(chunk string) error {
		got += chunk
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v, want success on retry", err)
	}
	if fake.streamCalls != 2 {
		t.Errorf("streamCalls = %d, want 2", fake.streamCalls)
	}
	if got != "hello world" {
		t.Errorf("delivered = %q, want full stream", got)
	}
}

func TestResilientGateway_ContextCancelDuringBackoff(t *testing.T) {
	transient := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	fake := &fakeGateway{
		completeErrs: []error{transient, transient, transient},
	}
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Hour, MaxDelay: time.Hour}
	g := NewResilientGateway(fake, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Complete(ctx, "analyze", GenerationParams{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Complete() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Complete() did not return after cancellation; backoff sleep not interruptible")
	}
}

func TestIsRetryable(t *testing.T) {
	var timeoutErr net.Error = &net.DNSError{IsTimeout: true}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"net timeout", timeoutErr, true},
		{"no choices", ErrNoChoices, false},
		{"unknown defaults retryable", errors.New("http 503"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
