// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package nodes provides the concrete analysis nodes of the per-turn
// pipeline.
//
// # Overview
//
// Each node implements graph.Node and reads the session snapshot,
// calling the chat gateway or the vector store as its contract
// requires. BuildAnalysisGraph wires them into the production
// topology:
//
//	SUMMARIZE
//	INTENT ─── RAG_POLICY ─┐
//	                       ├─ DRAFT_REPLY (also reads SUMMARIZE)
//	FAQ_SEARCH             │
//	SENTIMENT ─ RISK       │
//
// Branches without edges between them run in parallel; results stream
// out per node as they finish.
//
// # Node Categories
//
// Model nodes (one chat completion each):
//   - SummarizeNode: incremental rolling summary of the transcript
//   - IntentNode: classifies the last customer utterance
//   - SentimentNode: valence/arousal estimate for the customer side
//   - DraftReplyNode: candidate replies from summary, intent and policy
//
// Retrieval nodes (vector store, no completion):
//   - RAGPolicyNode: policy documents scoped by the intent label
//   - FAQSearchNode: cache-first FAQ lookup
//
// Rule nodes (no I/O):
//   - RiskNode: escalation risk from keywords plus sentiment
//
// # Thread Safety
//
// All nodes are safe for concurrent use. One node instance serves every
// room; per-run inputs arrive through the graph state.
//
// # Error Handling
//
// Nodes return wrapped errors and never panic; the executor records a
// failed node as a null result of its kind and keeps the sibling
// branches running. Context cancellation is always respected.
package nodes
