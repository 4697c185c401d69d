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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/secrets"
)

// systemPrompt frames every completion. The per-customer static prefix
// travels inside the user prompt so the byte-identity contract stays in
// the caller's hands.
const systemPrompt = "You are the analysis engine of a live consultation assistant. " +
	"Answer in the strict JSON format each instruction requests, with no prose around it. " +
	"Conversations may be in Korean; keep extracted fields in the conversation language."

// OpenAIConfig configures the OpenAI-compatible gateway.
type OpenAIConfig struct {
	// BaseURL overrides the endpoint for OpenAI-compatible servers
	// (vLLM, Ollama's /v1, LocalAI). Empty uses api.openai.com.
	BaseURL string

	// Model is the chat completion model (CHAT_MODEL).
	Model string

	// EmbeddingModel is the embedding model (EMBEDDING_MODEL).
	EmbeddingModel string

	// APIKey is the sealed CHAT_API_KEY. Required unless BaseURL
	// points at a local server.
	APIKey *secrets.Secret

	// Timeout bounds each HTTP request. Zero means 60s.
	Timeout time.Duration
}

// OpenAIGateway talks to any OpenAI-compatible backend.
type OpenAIGateway struct {
	client         *openai.Client
	model          string
	embeddingModel string
}

// NewOpenAIGateway builds the gateway once at startup. Authentication
// and endpoint routing are fixed here; per-call variation is limited to
// GenerationParams.
func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat model is required")
	}

	apiKey := ""
	if !cfg.APIKey.IsZero() {
		revealed, err := cfg.APIKey.Reveal()
		if err != nil {
			return nil, fmt.Errorf("reveal chat API key: %w", err)
		}
		apiKey = revealed
	}
	if apiKey == "" {
		if cfg.BaseURL == "" {
			return nil, ErrMissingAPIKey
		}
		// Local OpenAI-compatible servers accept any bearer token.
		apiKey = "not-needed"
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
		slog.Warn("EMBEDDING_MODEL not set, using default", "model", embeddingModel)
	}

	slog.Info("initializing chat gateway",
		"model", cfg.Model,
		"embedding_model", embeddingModel,
		"base_url_set", cfg.BaseURL != "",
	)

	return &OpenAIGateway{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: embeddingModel,
	}, nil
}

// Complete implements Gateway.
func (o *OpenAIGateway) Complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	req := o.buildRequest(prompt, params)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Gateway.
func (o *OpenAIGateway) Stream(ctx context.Context, prompt string, params GenerationParams, fn func(chunk string) error) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}

	req := o.buildRequest(prompt, params)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive stream chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
}

// Embed implements Gateway.
func (o *OpenAIGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (o *OpenAIGateway) buildRequest(prompt string, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

var _ Gateway = (*OpenAIGateway)(nil)
