// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorstore provides dense-vector similarity search over
// document collections and a semantic cache that short-circuits
// repeated queries by embedding similarity.
//
// # Description
//
// Two collections back the package: a content collection holding
// (id, embedding, text, metadata) tuples, and a cache collection whose
// entries reference content documents by id. All embeddings share one
// dimension, fixed at schema creation.
//
// # Thread Safety
//
// Store implementations and the SemanticCache are safe for concurrent
// use across rooms.
package vectorstore

import (
	"context"
	"errors"
)

// Document is a content item in a vector collection. Page is nil for
// sources without pagination.
type Document struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Source   string `json:"source"`
	Page     *int   `json:"page,omitempty"`
	Category string `json:"category"`
	Title    string `json:"title"`
}

// ScoredDocument pairs a document with its cosine distance to the
// query. Lower is closer.
type ScoredDocument struct {
	Document
	Distance float32 `json:"distance"`
}

// SearchFilter restricts a search to rows whose Field equals Value.
// Nil means no restriction.
type SearchFilter struct {
	Field string
	Value string
}

// Embedder is the slice of the chat gateway the store depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the vector search capability used by analysis nodes and the
// semantic cache.
//
// All operations honor ctx cancellation. A store running without a
// reachable backend returns empty results from searches rather than
// errors, so the analysis graph keeps producing the non-RAG kinds.
type Store interface {
	// SimilaritySearch embeds query and returns up to k documents in
	// ascending cosine distance. k=0 returns an empty slice without
	// touching the backend.
	SimilaritySearch(ctx context.Context, collection, query string, k int, filter *SearchFilter) ([]Document, error)

	// SimilaritySearchWithScore is SimilaritySearch with distances.
	SimilaritySearchWithScore(ctx context.Context, collection, query string, k int, filter *SearchFilter) ([]ScoredDocument, error)

	// Upsert embeds each document's content and persists the batch.
	// Document IDs are derived from content, so re-seeding the same
	// corpus is idempotent. Returns the number of stored documents.
	Upsert(ctx context.Context, collection string, docs []Document) (int, error)

	// FetchByID returns the stored document with the given id from
	// collection, or fault.ErrNotFound.
	FetchByID(ctx context.Context, collection, id string) (*Document, error)

	// Ready reports whether a vector backend is reachable. False means
	// the store is in degraded mode.
	Ready() bool
}

// Sentinel errors for the vectorstore package.
var (
	// ErrNoBackend is returned by write operations when no vector
	// backend was configured. Reads degrade to empty results instead.
	ErrNoBackend = errors.New("vector backend not configured")

	// ErrEmbeddingMismatch is returned when the embedder yields a
	// different number of vectors than texts sent.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
)
