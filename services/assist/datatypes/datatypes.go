// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the domain types shared across the assist
// service: transcript turns, analysis results and their payloads, and
// the typed Weaviate request/response shapes.
package datatypes

import (
	"time"
)

// =============================================================================
// Transcript
// =============================================================================

// SpeakerRole identifies who produced a transcript turn.
type SpeakerRole string

const (
	// RoleAgent is the consultation agent side.
	RoleAgent SpeakerRole = "agent"

	// RoleCustomer is the customer side. Only customer turns trigger
	// the analysis graph.
	RoleCustomer SpeakerRole = "customer"
)

// Valid reports whether the role is one of the known values.
func (r SpeakerRole) Valid() bool {
	return r == RoleAgent || r == RoleCustomer
}

// Turn is one utterance in a session transcript. Immutable once
// appended; Index is assigned by the room agent at append time and is
// monotonically increasing within the session.
type Turn struct {
	// Index is the turn id: the 1-based position within the session.
	Index int `json:"index"`

	// Role is the speaker role (agent or customer).
	Role SpeakerRole `json:"role"`

	// Speaker is the display name of the speaker.
	Speaker string `json:"speaker"`

	// Text is the utterance text from the STT producer.
	Text string `json:"text"`

	// Timestamp is when the utterance was spoken.
	Timestamp time.Time `json:"timestamp"`

	// Confidence is the optional STT confidence in [0,1].
	Confidence *float64 `json:"confidence,omitempty"`
}

// CustomerInfo is the customer binding used to build the static prompt
// prefix. Formatting of the prefix is deterministic: identical inputs
// must yield byte-identical prefixes.
type CustomerInfo struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Tier       string `json:"tier"`
	Memo       string `json:"memo,omitempty"`
}

// =============================================================================
// Analysis Results
// =============================================================================

// AnalysisKind names one analysis node's output family.
type AnalysisKind string

const (
	// KindSummary is the incremental conversation summary.
	KindSummary AnalysisKind = "summary"

	// KindIntent is the customer intent classification.
	KindIntent AnalysisKind = "intent"

	// KindSentiment is the customer sentiment estimate.
	KindSentiment AnalysisKind = "sentiment"

	// KindRAG is the policy recommendation set.
	KindRAG AnalysisKind = "rag"

	// KindFAQ is the FAQ retrieval result.
	KindFAQ AnalysisKind = "faq"

	// KindRisk is the escalation risk assessment.
	KindRisk AnalysisKind = "risk"

	// KindDraft is the suggested reply drafts.
	KindDraft AnalysisKind = "draft"
)

// AllAnalysisKinds lists every kind in deterministic merge order.
var AllAnalysisKinds = []AnalysisKind{
	KindSummary, KindIntent, KindSentiment, KindRAG, KindFAQ, KindRisk, KindDraft,
}

// AnalysisResult is one node's structured output for one turn.
// At most one result is stored per (turn id, kind). A failed node
// yields Payload nil and a non-empty ErrorCode.
type AnalysisResult struct {
	SessionID  string       `json:"session_id"`
	TurnID     int          `json:"turn_id"`
	Kind       AnalysisKind `json:"kind"`
	Payload    any          `json:"payload"`
	ErrorCode  string       `json:"error_code,omitempty"`
	ProducedAt time.Time    `json:"produced_at"`
}

// IsNull reports whether the result carries no payload (node skipped
// or failed).
func (r AnalysisResult) IsNull() bool {
	return r.Payload == nil
}

// SummaryPayload is the summarize node output.
type SummaryPayload struct {
	Summary       string `json:"summary"`
	CustomerIssue string `json:"customer_issue"`
	AgentAction   string `json:"agent_action"`
}

// IntentPayload is the intent node output. Label is drawn from the
// configured label set.
type IntentPayload struct {
	Label         string   `json:"label"`
	Confidence    float64  `json:"confidence"`
	EvidenceSpans []string `json:"evidence_spans"`
}

// SentimentPayload is the sentiment node output.
// Valence is in [-1,1], arousal in [0,1].
type SentimentPayload struct {
	Valence float64 `json:"valence"`
	Arousal float64 `json:"arousal"`
	Tag     string  `json:"tag"`
}

// Recommendation is one ranked policy suggestion from the rag node.
type Recommendation struct {
	Title     string `json:"title"`
	Terms     string `json:"terms"`
	Rationale string `json:"rationale"`
}

// RAGPayload is the rag_policy node output.
type RAGPayload struct {
	IntentLabel     string           `json:"intent_label"`
	Recommendations []Recommendation `json:"recommendations"`
}

// FAQEntry is one retrieved FAQ document with its cosine similarity.
type FAQEntry struct {
	DocID      string  `json:"doc_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Similarity float64 `json:"similarity"`
}

// FAQPayload is the faq_search node output. CacheHit is true when the
// entries came from the semantic cache rather than a full search.
type FAQPayload struct {
	Entries    []FAQEntry `json:"entries"`
	CacheHit   bool       `json:"cache_hit"`
	Similarity float64    `json:"similarity,omitempty"`
}

// Risk levels for RiskPayload.RiskLevel.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskPayload is the risk node output.
type RiskPayload struct {
	RiskLevel string   `json:"risk_level"`
	Reasons   []string `json:"reasons"`
}

// DraftPayload is the draft_reply node output: one to three candidate
// replies the agent may paraphrase.
type DraftPayload struct {
	Candidates []string `json:"candidates"`
}
