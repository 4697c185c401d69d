// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/observability"
)

// similarityEpsilon is the window within which two candidates count as
// equally distant and the tie-break keys decide.
const similarityEpsilon = 1e-6

// CacheConfig tunes the semantic cache.
type CacheConfig struct {
	// Collection is the content collection the cache fronts. The cache
	// class name is derived by appending CacheClassSuffix.
	Collection string

	// MinSimilarity is τ: the cosine similarity at or above which a
	// cached entry answers the query. Default 0.45.
	MinSimilarity float64

	// CandidateWindow is how many nearest cache entries to pull for
	// client-side tie-breaking. Default 4.
	CandidateWindow int
}

func (c *CacheConfig) applyDefaults() {
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.45
	}
	if c.CandidateWindow <= 0 {
		c.CandidateWindow = 4
	}
}

// SemanticCache answers repeated queries from prior results instead of
// re-searching the content collection.
//
// # Description
//
// A lookup embeds the query, pulls the nearest cache entries within the
// category, and picks the best by similarity with hit_count and
// created_at as tie-breaks. At or above MinSimilarity the referenced
// documents are returned and the entry's hit_count incremented; below
// it, the content collection is searched and a fresh entry inserted.
// Entries never expire on their own; Clear removes them.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent identical queries share one
// embedding call through the store's singleflight group.
type SemanticCache struct {
	store   *WeaviateStore
	config  CacheConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewSemanticCache builds a cache over store's backend. A nil metrics
// handle disables instrument updates.
func NewSemanticCache(store *WeaviateStore, config CacheConfig, metrics *observability.Metrics) *SemanticCache {
	config.applyDefaults()
	return &SemanticCache{
		store:   store,
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "semantic_cache"),
	}
}

// cacheClass returns the Weaviate class holding cache entries.
func (c *SemanticCache) cacheClass() string {
	return c.config.Collection + CacheClassSuffix
}

// SearchResult is the outcome of one cache-first lookup.
type SearchResult struct {
	// Documents are the answers in rank order. On a hit the distance
	// of every document is the query-to-entry distance; per-document
	// distances are not stored with cache entries.
	Documents []ScoredDocument

	// CacheHit reports whether a cache entry answered the query.
	CacheHit bool

	// MatchSimilarity is the query-to-entry cosine similarity on a
	// hit, zero otherwise.
	MatchSimilarity float64
}

// Search runs the cache-first protocol for query within category and
// returns up to k scored documents plus whether the cache answered.
//
// Degraded backend behaves as a permanent miss over an empty corpus:
// empty results, no insert, no error.
func (c *SemanticCache) Search(ctx context.Context, query, category string, k int) (*SearchResult, error) {
	ctx, span := tracer.Start(ctx, "cache.Search")
	defer span.End()

	if k <= 0 {
		return &SearchResult{Documents: []ScoredDocument{}}, nil
	}
	if !c.store.Ready() {
		c.recordLookup(category, false)
		return &SearchResult{Documents: []ScoredDocument{}}, nil
	}

	vec, err := c.store.embedQuery(ctx, query)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, fmt.Errorf("embed cache query: %w", err))
	}

	best, err := c.lookup(ctx, vec, category)
	if err != nil {
		// A broken cache must not break search; fall through to the
		// content collection.
		c.logger.Warn("cache lookup failed, searching directly", "error", err)
		best = nil
	}

	if best != nil {
		docs := c.resolveDocs(ctx, best.docIDs, k)
		c.bumpHitCount(ctx, best)
		c.recordLookup(category, true)
		c.logger.Debug("cache hit",
			"category", category,
			"similarity", best.similarity,
			"hit_count", best.hitCount+1,
		)
		scored := make([]ScoredDocument, len(docs))
		for i, d := range docs {
			scored[i] = ScoredDocument{Document: d, Distance: float32(1 - best.similarity)}
		}
		return &SearchResult{Documents: scored, CacheHit: true, MatchSimilarity: best.similarity}, nil
	}

	scored, err := c.store.SimilaritySearchWithScore(ctx, c.config.Collection, query, k, &SearchFilter{Field: "category", Value: category})
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(scored))
	for i, d := range scored {
		docs[i] = d.Document
	}
	c.insertEntry(ctx, query, vec, category, docs)
	c.recordLookup(category, false)
	return &SearchResult{Documents: scored, CacheHit: false}, nil
}

// Clear removes cache entries. An empty category removes everything.
// Returns the number of deleted entries.
func (c *SemanticCache) Clear(ctx context.Context, category string) (int64, error) {
	if !c.store.Ready() {
		return 0, ErrNoBackend
	}

	where := filters.Where().
		WithPath([]string{"created_at"}).
		WithOperator(filters.GreaterThanEqual).
		WithValueInt(0)
	if category != "" {
		where = filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueString(category)
	}

	resp, err := c.store.client.Batch().ObjectsBatchDeleter().
		WithClassName(c.cacheClass()).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return 0, fault.Wrap(fault.KindUpstream, fmt.Errorf("clear cache: %w", err))
	}

	var deleted int64
	if resp != nil && resp.Results != nil {
		deleted = resp.Results.Successful
	}
	c.logger.Info("cache cleared", "category", category, "deleted", deleted)
	return deleted, nil
}

// candidate is one cache row under tie-break evaluation.
type candidate struct {
	id         string
	similarity float64
	hitCount   int
	createdAt  int64
	docIDs     []string
}

// lookup pulls the candidate window and returns the winner, or nil on
// a miss.
func (c *SemanticCache) lookup(ctx context.Context, vec []float32, category string) (*candidate, error) {
	nearVector := c.store.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	where := filters.Where().
		WithPath([]string{"category"}).
		WithOperator(filters.Equal).
		WithValueString(category)

	fields := []graphql.Field{
		{Name: "query_text"},
		{Name: "category"},
		{Name: "doc_ids"},
		{Name: "hit_count"},
		{Name: "created_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
			{Name: "certainty"},
		}},
	}

	var resp *models.GraphQLResponse
	err := c.store.withRetry(ctx, "cache_lookup", func() error {
		var doErr error
		resp, doErr = c.store.client.GraphQL().Get().
			WithClassName(c.cacheClass()).
			WithFields(fields...).
			WithNearVector(nearVector).
			WithWhere(where).
			WithLimit(c.config.CandidateWindow).
			Do(ctx)
		if doErr != nil {
			return doErr
		}
		return datatypes.GraphQLErrors(resp)
	})
	if err != nil {
		return nil, err
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.GetResponse](resp)
	if err != nil {
		return nil, err
	}
	hits, err := parsed.CacheEntriesOf(c.cacheClass())
	if err != nil {
		return nil, err
	}

	cands := make([]candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, candidate{
			id:         h.Additional.ID,
			similarity: similarityOf(h.Additional),
			hitCount:   h.HitCount,
			createdAt:  h.CreatedAt,
			docIDs:     h.DocIDs,
		})
	}
	return bestCandidate(cands, c.config.MinSimilarity), nil
}

// bestCandidate orders candidates by similarity, breaking ties by
// hit_count then recency, and returns the winner when it clears the
// similarity floor.
func bestCandidate(cands []candidate, minSimilarity float64) *candidate {
	if len(cands) == 0 {
		return nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		diff := cands[i].similarity - cands[j].similarity
		if math.Abs(diff) > similarityEpsilon {
			return diff > 0
		}
		if cands[i].hitCount != cands[j].hitCount {
			return cands[i].hitCount > cands[j].hitCount
		}
		return cands[i].createdAt > cands[j].createdAt
	})

	if cands[0].similarity < minSimilarity {
		return nil
	}
	winner := cands[0]
	return &winner
}

// similarityOf converts Weaviate's distance metrics back to cosine
// similarity. Weaviate reports cosine distance = 1-cos and certainty =
// (1+cos)/2; either recovers cos.
func similarityOf(add datatypes.Additional) float64 {
	if add.Distance != nil {
		return 1 - float64(*add.Distance)
	}
	if add.Certainty != nil {
		return 2*float64(*add.Certainty) - 1
	}
	return -1
}

// resolveDocs loads up to k referenced documents, skipping ids whose
// documents were removed since the entry was written.
func (c *SemanticCache) resolveDocs(ctx context.Context, docIDs []string, k int) []Document {
	docs := make([]Document, 0, len(docIDs))
	for _, id := range docIDs {
		if len(docs) >= k {
			break
		}
		doc, err := c.store.FetchByID(ctx, c.config.Collection, id)
		if err != nil {
			if !fault.IsKind(err, fault.KindNotFound) {
				c.logger.Warn("failed to resolve cached doc", "id", id, "error", err)
			}
			continue
		}
		docs = append(docs, *doc)
	}
	return docs
}

// bumpHitCount persists the incremented counter. Failure downgrades
// the entry's future tie-break standing but not this response.
func (c *SemanticCache) bumpHitCount(ctx context.Context, best *candidate) {
	err := c.store.client.Data().Updater().
		WithClassName(c.cacheClass()).
		WithID(best.id).
		WithProperties(map[string]interface{}{
			"hit_count": best.hitCount + 1,
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		c.logger.Warn("failed to bump hit_count", "id", best.id, "error", err)
	}
}

// insertEntry records a fresh miss. Write failures are logged and
// swallowed; the search result already in hand is what matters.
func (c *SemanticCache) insertEntry(ctx context.Context, query string, vec []float32, category string, docs []Document) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	props := datatypes.CacheEntryProperties{
		QueryText: query,
		Category:  category,
		DocIDs:    ids,
		HitCount:  0,
		CreatedAt: time.Now().UnixMilli(),
	}

	obj := &models.Object{
		Class:      c.cacheClass(),
		ID:         strfmt.UUID(uuid.NewString()),
		Vector:     vec,
		Properties: props.ToMap(),
	}
	_, err := c.store.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		c.logger.Warn("failed to insert cache entry", "category", category, "error", err)
	}
}

func (c *SemanticCache) recordLookup(category string, hit bool) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCacheLookup(category, hit)
}
