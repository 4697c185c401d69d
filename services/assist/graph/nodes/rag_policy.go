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
	"math"
	"strings"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/intents"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

// DefaultMaxRecommendations bounds the policy suggestions per turn.
const DefaultMaxRecommendations = 3

// termsSnippetRunes bounds the quoted terms excerpt per suggestion.
const termsSnippetRunes = 200

// RAGPolicyNode retrieves policy documents scoped by the classified
// intent label. Retrieval only; the terms excerpt and rationale are
// assembled from the stored documents without a completion call.
type RAGPolicyNode struct {
	graph.BaseNode
	store      vectorstore.Store
	collection string
	maxRecs    int
}

// NewRAGPolicyNode creates the policy retriever downstream of intent.
// Documents are searched in collection, filtered to the category that
// matches the intent label.
func NewRAGPolicyNode(store vectorstore.Store, collection string) *RAGPolicyNode {
	return &RAGPolicyNode{
		BaseNode: graph.BaseNode{
			NodeName:         "rag_policy",
			NodeKind:         datatypes.KindRAG,
			NodeDependencies: []string{"intent"},
		},
		store:      store,
		collection: collection,
		maxRecs:    DefaultMaxRecommendations,
	}
}

// WithMaxRecommendations overrides the suggestion cap.
func (n *RAGPolicyNode) WithMaxRecommendations(k int) *RAGPolicyNode {
	if k > 0 {
		n.maxRecs = k
	}
	return n
}

// Execute returns up to the configured number of ranked suggestions.
// A null intent upstream widens the search to the whole corpus instead
// of guessing a label; a degraded store yields an empty suggestion
// list, not an error.
func (n *RAGPolicyNode) Execute(ctx context.Context, state *graph.State) (*graph.Patch, error) {
	if n.store == nil {
		return nil, fmt.Errorf("%w: vector store", ErrNilDependency)
	}

	query := strings.TrimSpace(state.LatestCustomerText())
	if query == "" {
		return nil, ErrNoCustomerTurn
	}

	label := intents.GeneralLabel
	if res, ok := state.ResultFor(datatypes.KindIntent); ok && !res.IsNull() {
		if ip, ok := res.Payload.(*datatypes.IntentPayload); ok && ip.Label != "" {
			label = ip.Label
		}
	}
	var filter *vectorstore.SearchFilter
	if label != intents.GeneralLabel {
		filter = &vectorstore.SearchFilter{Field: "category", Value: label}
	}

	scored, err := n.store.SimilaritySearchWithScore(ctx, n.collection, query, n.maxRecs, filter)
	if err != nil {
		return nil, fmt.Errorf("policy search: %w", err)
	}

	recs := make([]datatypes.Recommendation, 0, len(scored))
	for _, doc := range scored {
		title := doc.Title
		if title == "" {
			title = doc.Source
		}
		sim := 1 - float64(doc.Distance)
		recs = append(recs, datatypes.Recommendation{
			Title:     title,
			Terms:     snippet(doc.Content, termsSnippetRunes),
			Rationale: fmt.Sprintf("%s 문의와 유사도 %d%%의 약관 조항", label, int(math.Round(sim*100))),
		})
	}

	return &graph.Patch{Payload: &datatypes.RAGPayload{
		IntentLabel:     label,
		Recommendations: recs,
	}}, nil
}
