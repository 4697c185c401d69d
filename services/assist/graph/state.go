// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"time"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/intents"
)

// State is the read-only input to every node in one run.
//
// Nodes must not mutate it; contributions travel back as Patches. The
// executor exposes upstream results through ResultFor.
type State struct {
	// SessionID is the room/session the turn belongs to.
	SessionID string

	// TurnID is the index of the customer turn that triggered the run.
	TurnID int

	// Turns is the conversation history through TurnID, in index order.
	Turns []datatypes.Turn

	// StaticPrefix is the per-binding system context. It is prepended
	// byte-identically to every prompt so providers can cache it.
	StaticPrefix string

	// CurrentSummary is the rolling summary before this run.
	CurrentSummary string

	// LastSummarizedIndex is the highest turn index folded into
	// CurrentSummary.
	LastSummarizedIndex int

	// ProcessedTurnIDs is the session-lifetime set of turn ids whose
	// runs already completed. The owning session populates it; the
	// executor consults it so a replayed turn is a no-op.
	ProcessedTurnIDs map[int]struct{}

	// Labels is the active intent label set.
	Labels []intents.Label

	// results holds upstream node outputs, written only by the
	// executor between node executions.
	results map[datatypes.AnalysisKind]datatypes.AnalysisResult
}

// Processed reports whether id already went through a full run this
// session.
func (s *State) Processed(id int) bool {
	_, ok := s.ProcessedTurnIDs[id]
	return ok
}

// ResultFor returns the upstream result of kind, if that node has
// finished. A null result (failed upstream) is returned as present;
// callers check IsNull to degrade.
func (s *State) ResultFor(kind datatypes.AnalysisKind) (datatypes.AnalysisResult, bool) {
	r, ok := s.results[kind]
	return r, ok
}

// NewTurns returns the turns not yet folded into CurrentSummary.
func (s *State) NewTurns() []datatypes.Turn {
	out := make([]datatypes.Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		if t.Index > s.LastSummarizedIndex {
			out = append(out, t)
		}
	}
	return out
}

// LatestCustomerText returns the text of the triggering turn, or the
// last customer turn when the trigger is not found.
func (s *State) LatestCustomerText() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Index == s.TurnID {
			return s.Turns[i].Text
		}
	}
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == datatypes.RoleCustomer {
			return s.Turns[i].Text
		}
	}
	return ""
}

// Patch is one node's contribution to the post-run state.
type Patch struct {
	// Payload is the node's analysis output. Nil yields a null result
	// only when ErrorCode is set; a nil payload with no error means
	// the node intentionally emitted its previous value (summarize
	// with no new turns sets Payload to the prior summary instead).
	Payload any

	// CurrentSummary, when non-empty, replaces the rolling summary.
	CurrentSummary string

	// LastSummarizedIndex, when positive, advances the summary
	// watermark. Never moves backwards.
	LastSummarizedIndex int
}

// Output is the merged result of one run.
type Output struct {
	// Results holds one entry per node kind, null-payload entries for
	// failures and timeouts.
	Results map[datatypes.AnalysisKind]datatypes.AnalysisResult

	// CurrentSummary and LastSummarizedIndex carry the summarize
	// node's bookkeeping back to the agent.
	CurrentSummary      string
	LastSummarizedIndex int

	// Duration is the wall time of the run.
	Duration time.Duration
}

// OrderedResults returns the run's results in deterministic kind order.
func (o *Output) OrderedResults() []datatypes.AnalysisResult {
	out := make([]datatypes.AnalysisResult, 0, len(o.Results))
	for _, kind := range datatypes.AllAnalysisKinds {
		if r, ok := o.Results[kind]; ok {
			out = append(out, r)
		}
	}
	return out
}
