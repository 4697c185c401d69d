// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
)

var tracer = otel.Tracer("assist.vectorstore")

// WeaviateConfig configures the Weaviate-backed store.
type WeaviateConfig struct {
	// URL of the Weaviate instance (VECTOR_DB_URL). Scheme optional,
	// http assumed. Empty starts the store in degraded mode.
	URL string

	// EmbeddingDim is the expected vector width (EMBEDDING_DIM). Used
	// for schema creation and write-time validation.
	EmbeddingDim int

	// MaxRetries bounds re-attempts on transient backend failures.
	MaxRetries int

	// BaseDelay is the first backoff interval, doubled per attempt and
	// capped at MaxDelay. ±20% jitter is applied to every delay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (c *WeaviateConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 150 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 3 * time.Second
	}
}

// WeaviateStore implements Store on a Weaviate backend.
//
// A nil client (backend unreachable or unconfigured at startup) keeps
// the store alive in degraded mode: searches return empty slices and
// writes return ErrNoBackend.
type WeaviateStore struct {
	client   *weaviate.Client
	embedder Embedder
	config   WeaviateConfig
	logger   *slog.Logger

	// embedGroup collapses concurrent embeddings of identical text
	// into one gateway call. Analysis branches frequently embed the
	// same turn within milliseconds of each other.
	embedGroup singleflight.Group
}

// NewWeaviateStore connects to Weaviate and ensures the collection
// schemas exist. An unreachable backend is logged and tolerated; the
// returned store starts degraded rather than failing the service.
func NewWeaviateStore(ctx context.Context, cfg WeaviateConfig, embedder Embedder, collection string) (*WeaviateStore, error) {
	cfg.applyDefaults()
	logger := slog.Default().With("component", "vectorstore")

	store := &WeaviateStore{
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}

	if cfg.URL == "" {
		logger.Warn("VECTOR_DB_URL not set, vector search disabled")
		return store, nil
	}

	clientCfg := weaviate.Config{
		Host:   cfg.URL,
		Scheme: "http",
	}
	if strings.HasPrefix(cfg.URL, "https://") {
		clientCfg.Scheme = "https"
		clientCfg.Host = strings.TrimPrefix(cfg.URL, "https://")
	} else if strings.HasPrefix(cfg.URL, "http://") {
		clientCfg.Host = strings.TrimPrefix(cfg.URL, "http://")
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ready, err := client.Misc().ReadyChecker().Do(readyCtx)
	if err != nil || !ready {
		logger.Warn("vector backend unreachable, starting degraded",
			"url", cfg.URL,
			"error", err,
		)
		return store, nil
	}

	if err := EnsureSchema(ctx, client, collection, cfg.EmbeddingDim); err != nil {
		return nil, err
	}

	store.client = client
	logger.Info("vector store ready",
		"url", cfg.URL,
		"collection", collection,
		"embedding_dim", cfg.EmbeddingDim,
	)
	return store, nil
}

// Ready implements Store.
func (s *WeaviateStore) Ready() bool {
	return s.client != nil
}

// SimilaritySearch implements Store.
func (s *WeaviateStore) SimilaritySearch(ctx context.Context, collection, query string, k int, filter *SearchFilter) ([]Document, error) {
	scored, err := s.SimilaritySearchWithScore(ctx, collection, query, k, filter)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(scored))
	for i, sd := range scored {
		docs[i] = sd.Document
	}
	return docs, nil
}

// SimilaritySearchWithScore implements Store.
func (s *WeaviateStore) SimilaritySearchWithScore(ctx context.Context, collection, query string, k int, filter *SearchFilter) ([]ScoredDocument, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.SimilaritySearch")
	span.SetAttributes(
		attribute.String("vectorstore.collection", collection),
		attribute.Int("vectorstore.k", k),
	)
	defer span.End()

	if k <= 0 {
		return []ScoredDocument{}, nil
	}
	if s.client == nil {
		s.logger.Debug("search in degraded mode, returning empty", "collection", collection)
		return []ScoredDocument{}, nil
	}

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, fmt.Errorf("embed query: %w", err))
	}

	hits, err := s.searchNear(ctx, collection, vec, k, filter)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredDocument, 0, len(hits))
	for _, h := range hits {
		var dist float32
		if h.Additional.Distance != nil {
			dist = *h.Additional.Distance
		} else if h.Additional.Certainty != nil {
			// certainty = (1+cos)/2, cosine distance = 1-cos
			dist = 2 * (1 - *h.Additional.Certainty)
		}
		out = append(out, ScoredDocument{
			Document: Document{
				ID:       h.Additional.ID,
				Content:  h.Content,
				Source:   h.Source,
				Page:     h.Page,
				Category: h.Category,
				Title:    h.Title,
			},
			Distance: dist,
		})
	}
	return out, nil
}

// searchNear runs one nearVector query with retry and parses the hits.
func (s *WeaviateStore) searchNear(ctx context.Context, collection string, vec []float32, k int, filter *SearchFilter) ([]datatypes.DocumentResult, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "page"},
		{Name: "category"},
		{Name: "title"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
			{Name: "certainty"},
		}},
	}

	var resp *models.GraphQLResponse
	err := s.withRetry(ctx, "search", func() error {
		q := s.client.GraphQL().Get().
			WithClassName(collection).
			WithFields(fields...).
			WithNearVector(nearVector).
			WithLimit(k)
		if filter != nil {
			q = q.WithWhere(filters.Where().
				WithPath([]string{filter.Field}).
				WithOperator(filters.Equal).
				WithValueString(filter.Value))
		}
		var doErr error
		resp, doErr = q.Do(ctx)
		if doErr != nil {
			return doErr
		}
		return datatypes.GraphQLErrors(resp)
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, fmt.Errorf("similarity search on %s: %w", collection, err))
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.GetResponse](resp)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, err)
	}
	return parsed.DocumentsOf(collection)
}

// Upsert implements Store. IDs are the first 16 bytes of the content's
// SHA-256, so identical content maps to the same object and re-seeding
// is idempotent.
func (s *WeaviateStore) Upsert(ctx context.Context, collection string, docs []Document) (int, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Upsert")
	span.SetAttributes(
		attribute.String("vectorstore.collection", collection),
		attribute.Int("vectorstore.batch_size", len(docs)),
	)
	defer span.End()

	if len(docs) == 0 {
		return 0, nil
	}
	if s.client == nil {
		return 0, ErrNoBackend
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fault.Wrap(fault.KindUpstream, fmt.Errorf("embed batch: %w", err))
	}
	if len(vectors) != len(docs) {
		return 0, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrEmbeddingMismatch, len(docs), len(vectors))
	}

	objects := make([]*models.Object, len(docs))
	for i, d := range docs {
		page := 0
		if d.Page != nil {
			page = *d.Page
		}
		props := datatypes.DocumentProperties{
			Content:  d.Content,
			Source:   d.Source,
			Page:     page,
			Category: d.Category,
			Title:    d.Title,
		}
		objects[i] = &models.Object{
			Class:      collection,
			ID:         deterministicID(d.Content),
			Vector:     vectors[i],
			Properties: props.ToMap(),
		}
	}

	var resp []models.ObjectsGetResponse
	err = s.withRetry(ctx, "upsert", func() error {
		var doErr error
		resp, doErr = s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		return doErr
	})
	if err != nil {
		return 0, fault.Wrap(fault.KindUpstream, fmt.Errorf("batch upsert to %s: %w", collection, err))
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				s.logger.Warn("batch item rejected", "collection", collection, "error", e.Message)
			}
		}
	}
	return stored, nil
}

// FetchByID implements Store.
func (s *WeaviateStore) FetchByID(ctx context.Context, collection, id string) (*Document, error) {
	if s.client == nil {
		return nil, fault.Wrap(fault.KindNotFound, fault.ErrNotFound)
	}

	var objs []*models.Object
	err := s.withRetry(ctx, "fetch", func() error {
		var doErr error
		objs, doErr = s.client.Data().ObjectsGetter().
			WithClassName(collection).
			WithID(id).
			Do(ctx)
		return doErr
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, fmt.Errorf("fetch %s/%s: %w", collection, id, err))
	}
	if len(objs) == 0 {
		return nil, fault.Wrap(fault.KindNotFound, fault.ErrNotFound)
	}

	doc := &Document{ID: id}
	props, ok := objs[0].Properties.(map[string]interface{})
	if !ok {
		return doc, nil
	}
	if v, ok := props["content"].(string); ok {
		doc.Content = v
	}
	if v, ok := props["source"].(string); ok {
		doc.Source = v
	}
	if v, ok := props["category"].(string); ok {
		doc.Category = v
	}
	if v, ok := props["title"].(string); ok {
		doc.Title = v
	}
	if v, ok := props["page"].(float64); ok && v > 0 {
		p := int(v)
		doc.Page = &p
	}
	return doc, nil
}

// embedQuery embeds a single text, deduplicating concurrent calls for
// the same text through singleflight.
func (s *WeaviateStore) embedQuery(ctx context.Context, query string) ([]float32, error) {
	v, err, _ := s.embedGroup.Do(query, func() (any, error) {
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("%w: sent 1 text, got %d vectors", ErrEmbeddingMismatch, len(vecs))
		}
		return vecs[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// withRetry runs op with exponential backoff on transient failures.
func (s *WeaviateStore) withRetry(ctx context.Context, opName string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt)
			s.logger.Warn("retrying vector backend call",
				"op", opName,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (s *WeaviateStore) backoff(attempt int) time.Duration {
	delay := s.config.BaseDelay * (1 << uint(attempt-1))
	if delay > s.config.MaxDelay {
		delay = s.config.MaxDelay
	}
	jitter := int64(delay) / 5
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(2*jitter+1) - jitter)
	}
	return delay
}

// isTransient reports whether a backend error is worth another attempt.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	// GraphQL-level errors are deterministic; retrying replays them.
	return false
}

// deterministicID folds content into a stable UUID.
func deterministicID(content string) strfmt.UUID {
	hash := sha256.Sum256([]byte(content))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

var _ Store = (*WeaviateStore)(nil)
