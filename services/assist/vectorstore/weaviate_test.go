// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

// countingEmbedder records calls so tests can assert the store skipped
// embedding entirely.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	dim   int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
		out[i][0] = 1
	}
	return out, nil
}

func newDegradedStore(embedder Embedder) *WeaviateStore {
	cfg := WeaviateConfig{EmbeddingDim: 8}
	cfg.applyDefaults()
	return &WeaviateStore{
		embedder: embedder,
		config:   cfg,
		logger:   slog.Default(),
	}
}

func TestWeaviateStore_DegradedSearchReturnsEmpty(t *testing.T) {
	embedder := &countingEmbedder{dim: 8}
	store := newDegradedStore(embedder)

	docs, err := store.SimilaritySearch(context.Background(), "AssistDocs", "환불하고 싶어요", 3, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch() error = %v, want nil in degraded mode", err)
	}
	if len(docs) != 0 {
		t.Errorf("SimilaritySearch() = %d docs, want 0", len(docs))
	}
	if embedder.calls != 0 {
		t.Errorf("embedder.calls = %d, want 0 (no backend, no embedding)", embedder.calls)
	}
}

func TestWeaviateStore_ZeroKSkipsBackend(t *testing.T) {
	embedder := &countingEmbedder{dim: 8}
	store := newDegradedStore(embedder)

	docs, err := store.SimilaritySearch(context.Background(), "AssistDocs", "q", 0, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch(k=0) error = %v, want nil", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("SimilaritySearch(k=0) = %v, want non-nil empty slice", docs)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder.calls = %d, want 0 for k=0", embedder.calls)
	}
}

func TestWeaviateStore_DegradedUpsertFails(t *testing.T) {
	store := newDegradedStore(&countingEmbedder{dim: 8})

	_, err := store.Upsert(context.Background(), "AssistDocs", []Document{{Content: "doc"}})
	if !errors.Is(err, ErrNoBackend) {
		t.Fatalf("Upsert() error = %v, want ErrNoBackend", err)
	}
}

func TestWeaviateStore_EmptyUpsertIsNoop(t *testing.T) {
	store := newDegradedStore(&countingEmbedder{dim: 8})

	n, err := store.Upsert(context.Background(), "AssistDocs", nil)
	if err != nil || n != 0 {
		t.Fatalf("Upsert(nil) = (%d, %v), want (0, nil)", n, err)
	}
}

func TestSemanticCache_DegradedIsMiss(t *testing.T) {
	store := newDegradedStore(&countingEmbedder{dim: 8})
	cache := NewSemanticCache(store, CacheConfig{Collection: "AssistDocs"}, nil)

	res, err := cache.Search(context.Background(), "VIP 조건이 뭐예요?", "faq", 3)
	if err != nil {
		t.Fatalf("Search() error = %v, want nil in degraded mode", err)
	}
	if res.CacheHit {
		t.Error("Search() hit = true, want miss with no backend")
	}
	if len(res.Documents) != 0 {
		t.Errorf("Search() = %d docs, want 0", len(res.Documents))
	}
}

func TestSemanticCache_DegradedClearErrors(t *testing.T) {
	store := newDegradedStore(&countingEmbedder{dim: 8})
	cache := NewSemanticCache(store, CacheConfig{Collection: "AssistDocs"}, nil)

	if _, err := cache.Clear(context.Background(), ""); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("Clear() error = %v, want ErrNoBackend", err)
	}
}

func TestDeterministicID_StableAcrossCalls(t *testing.T) {
	a := deterministicID("반품 정책: 구매 후 14일 이내")
	b := deterministicID("반품 정책: 구매 후 14일 이내")
	c := deterministicID("다른 내용")

	if a != b {
		t.Errorf("same content produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different content produced the same id")
	}
}

func TestIndexTypeFor(t *testing.T) {
	tests := []struct {
		dim  int
		want string
	}{
		{768, "flat"},
		{1536, "flat"},
		{2000, "flat"},
		{2001, "hnsw"},
		{3072, "hnsw"},
	}

	for _, tt := range tests {
		if got := indexTypeFor(tt.dim); got != tt.want {
			t.Errorf("indexTypeFor(%d) = %q, want %q", tt.dim, got, tt.want)
		}
	}
}

func TestEmbedQuery_SingleFlightSharesResult(t *testing.T) {
	embedder := &countingEmbedder{dim: 4}
	store := newDegradedStore(embedder)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.embedQuery(context.Background(), "동일한 질문")
		}()
	}
	wg.Wait()

	embedder.mu.Lock()
	calls := embedder.calls
	embedder.mu.Unlock()
	if calls >= workers {
		t.Errorf("embedder.calls = %d, want fewer than %d (singleflight dedup)", calls, workers)
	}
}
