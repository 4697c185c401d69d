// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

// FAQCategory is the document category FAQ entries are seeded under.
const FAQCategory = "faq"

// DefaultFAQResults bounds the FAQ entries returned per turn.
const DefaultFAQResults = 3

// FAQSearcher is the slice of the semantic cache the node depends on.
type FAQSearcher interface {
	Search(ctx context.Context, query, category string, k int) (*vectorstore.SearchResult, error)
}

// FAQSearchNode answers the customer's utterance from the FAQ corpus,
// cache-first: a semantically close prior query is served from the
// cache without touching the primary collection.
type FAQSearchNode struct {
	graph.BaseNode
	cache FAQSearcher
	k     int
}

// NewFAQSearchNode creates the FAQ retriever. It has no dependencies
// and starts with the first wave.
func NewFAQSearchNode(cache FAQSearcher) *FAQSearchNode {
	return &FAQSearchNode{
		BaseNode: graph.BaseNode{
			NodeName: "faq_search",
			NodeKind: datatypes.KindFAQ,
		},
		cache: cache,
		k:     DefaultFAQResults,
	}
}

// WithTopK overrides the entry cap.
func (n *FAQSearchNode) WithTopK(k int) *FAQSearchNode {
	if k > 0 {
		n.k = k
	}
	return n
}

// Execute returns the top entries with similarity scores plus whether
// the semantic cache answered. A degraded backend yields an empty
// entry list, not an error.
func (n *FAQSearchNode) Execute(ctx context.Context, state *graph.State) (*graph.Patch, error) {
	if n.cache == nil {
		return nil, fmt.Errorf("%w: semantic cache", ErrNilDependency)
	}

	query := strings.TrimSpace(state.LatestCustomerText())
	if query == "" {
		return nil, ErrNoCustomerTurn
	}

	res, err := n.cache.Search(ctx, query, FAQCategory, n.k)
	if err != nil {
		return nil, fmt.Errorf("faq search: %w", err)
	}

	entries := make([]datatypes.FAQEntry, 0, len(res.Documents))
	for _, doc := range res.Documents {
		entries = append(entries, datatypes.FAQEntry{
			DocID:      doc.ID,
			Question:   doc.Title,
			Answer:     doc.Content,
			Similarity: 1 - float64(doc.Distance),
		})
	}

	return &graph.Patch{Payload: &datatypes.FAQPayload{
		Entries:    entries,
		CacheHit:   res.CacheHit,
		Similarity: res.MatchSimilarity,
	}}, nil
}
