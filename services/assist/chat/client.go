// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat is the narrow gateway to the chat/embedding model.
package chat

import (
	"context"
	"errors"
)

// GenerationParams tunes a single completion call. Nil fields leave
// the backend default untouched.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Gateway is the capability set the analysis graph depends on.
// Implementations carry no state beyond the client handle and are safe
// to share across rooms. All methods honor ctx cancellation.
type Gateway interface {
	// Complete returns the full model response for prompt.
	Complete(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Stream invokes fn for each response chunk in arrival order.
	// A non-nil error from fn aborts the stream and is returned.
	Stream(ctx context.Context, prompt string, params GenerationParams, fn func(chunk string) error) error

	// Embed returns one dense vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Sentinel errors for the chat package.
var (
	// ErrNoChoices is returned when the backend answers without any
	// completion choices.
	ErrNoChoices = errors.New("backend returned no choices")

	// ErrMissingAPIKey is returned when the configured backend
	// requires a key and none was provided.
	ErrMissingAPIKey = errors.New("chat API key not configured")

	// ErrEmptyPrompt is returned for a blank prompt; the graph never
	// calls the gateway with nothing to say.
	ErrEmptyPrompt = errors.New("prompt is empty")
)
