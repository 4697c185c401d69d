// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"fmt"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/chat"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

// Config carries the shared dependencies for the production graph.
type Config struct {
	// Gateway serves the model nodes. Required.
	Gateway chat.Gateway

	// Store serves rag_policy. Required.
	Store vectorstore.Store

	// Cache serves faq_search. Required.
	Cache *vectorstore.SemanticCache

	// Collection is the primary document collection.
	Collection string

	// MaxRecommendations and FAQResults override the node defaults
	// when positive.
	MaxRecommendations int
	FAQResults         int
}

// BuildAnalysisGraph assembles the production topology:
//
//	summarize
//	intent ── rag_policy ─┐
//	                      ├─ draft_reply (also reads summarize)
//	faq_search            │
//	sentiment ── risk     │
//
// One graph instance serves every room.
func BuildAnalysisGraph(cfg Config) (*graph.Graph, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("%w: chat gateway", ErrNilDependency)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: vector store", ErrNilDependency)
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("%w: semantic cache", ErrNilDependency)
	}

	rag := NewRAGPolicyNode(cfg.Store, cfg.Collection).
		WithMaxRecommendations(cfg.MaxRecommendations)
	faq := NewFAQSearchNode(cfg.Cache).
		WithTopK(cfg.FAQResults)

	return graph.NewBuilder("analysis").
		AddNode(NewSummarizeNode(cfg.Gateway)).
		AddNode(NewIntentNode(cfg.Gateway)).
		AddNode(NewSentimentNode(cfg.Gateway)).
		AddNode(rag).
		AddNode(faq).
		AddNode(NewRiskNode()).
		AddNode(NewDraftReplyNode(cfg.Gateway)).
		Build()
}
