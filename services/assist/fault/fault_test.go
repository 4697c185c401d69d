// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"explicit wrap wins", Wrap(KindOverloaded, errors.New("mailbox full")), KindOverloaded},
		{"wrapped deep still found", fmt.Errorf("deliver: %w", Wrap(KindNotFound, errors.New("no such peer"))), KindNotFound},
		{"deadline maps to timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"cancellation maps to timeout", context.Canceled, KindTimeout},
		{"bad request sentinel", fmt.Errorf("parse: %w", ErrBadRequest), KindBadRequest},
		{"overloaded sentinel", ErrOverloaded, KindOverloaded},
		{"fatal sentinel", fmt.Errorf("rooms index: %w", ErrFatal), KindFatal},
		{"unclassified defaults to upstream", errors.New("connection reset"), KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if err := Wrap(KindUpstream, nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(KindFatal, cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("errors.As failed to find *Error")
	}
	if fe.Kind != KindFatal {
		t.Errorf("Kind = %q, want %q", fe.Kind, KindFatal)
	}
}

func TestIsKind(t *testing.T) {
	err := Errorf(KindTimeout, "node %s exceeded %ds", "summarize", 10)
	if !IsKind(err, KindTimeout) {
		t.Error("IsKind(timeout) = false, want true")
	}
	if IsKind(err, KindUpstream) {
		t.Error("IsKind(upstream) = true, want false")
	}
	if IsKind(nil, KindUpstream) {
		t.Error("IsKind(nil) = true, want false")
	}
}
