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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

// runCacheClear drops semantic cache entries, optionally scoped to one
// category. The knowledge documents themselves are untouched.
func runCacheClear(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collection := cacheCollection
	if collection == "" {
		collection = envDefault("VECTOR_COLLECTION", "AssistDocs")
	}

	// Clearing deletes by filter and never embeds, so no gateway.
	store := openStore(ctx, collection, nil)
	cache := vectorstore.NewSemanticCache(store, vectorstore.CacheConfig{Collection: collection}, nil)

	deleted, err := cache.Clear(ctx, cacheCategory)
	if err != nil {
		log.Fatalf("Clearing cache: %v", err)
	}
	if cacheCategory != "" {
		log.Printf("Cleared %d cached responses in category %q from %s%s",
			deleted, cacheCategory, collection, vectorstore.CacheClassSuffix)
		return
	}
	log.Printf("Cleared %d cached responses from %s%s",
		deleted, collection, vectorstore.CacheClassSuffix)
}
