// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/secrets"
)

// runServe assembles the assist service from environment configuration
// and blocks until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) {
	secrets.Init()
	defer secrets.Purge()
	defer logger.Close()

	chatKey, err := secrets.FromEnv("CHAT_API_KEY")
	if err != nil {
		log.Fatalf("Sealing CHAT_API_KEY: %v", err)
	}
	turnCredential, err := secrets.FromEnv("TURN_CREDENTIAL")
	if err != nil {
		log.Fatalf("Sealing TURN_CREDENTIAL: %v", err)
	}

	cfg := assist.Config{
		Port:                  envInt("ASSIST_PORT"),
		GinMode:               os.Getenv("GIN_MODE"),
		MaxConcurrentRequests: envInt("MAX_CONCURRENT_REQUESTS"),
		RequestTimeout:        envSeconds("REQUEST_TIMEOUT"),
		RateLimitPerMinute:    envInt("RATE_LIMIT_PER_MINUTE"),
		ChatBaseURL:           os.Getenv("CHAT_BASE_URL"),
		ChatModel:             os.Getenv("CHAT_MODEL"),
		ChatAPIKey:            chatKey,
		EmbeddingModel:        os.Getenv("EMBEDDING_MODEL"),
		EmbeddingDim:          envInt("EMBEDDING_DIM"),
		VectorDBURL:           os.Getenv("VECTOR_DB_URL"),
		VectorCollection:      os.Getenv("VECTOR_COLLECTION"),
		TurnServerURL:         os.Getenv("TURN_SERVER_URL"),
		TurnUsername:          os.Getenv("TURN_USERNAME"),
		TurnCredential:        turnCredential,
		IntentConfigPath:      os.Getenv("INTENT_CONFIG"),
		DataDir:               os.Getenv("DATA_DIR"),
		SessionIdleAfter:      envSeconds("SESSION_IDLE_TIMEOUT"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := assist.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Assembling assist service: %v", err)
	}
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Assist service exited: %v", err)
	}
}

// envInt reads an integer environment variable. Unset or empty yields
// zero so the service defaults apply; a malformed value aborts rather
// than silently running with defaults.
func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s: %q is not an integer", key, raw)
	}
	return n
}

// envSeconds reads a duration given as whole seconds.
func envSeconds(key string) time.Duration {
	return time.Duration(envInt(key)) * time.Second
}

// envDefault reads a string environment variable with a fallback.
func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
