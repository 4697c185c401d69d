// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/intents"
)

// Session is the conversation state of one room: the immutable turn
// history, the rolling summary with its watermark, the set of analyzed
// turn ids, and the static prompt prefix of the current customer
// binding.
//
// The worker goroutine is the only writer of history and analysis
// state; intake goroutines read through the mutex for dedup checks and
// may swap the prefix.
type Session struct {
	mu sync.Mutex

	id        string
	turns     []datatypes.Turn
	lastIndex int
	processed map[int]struct{}

	currentSummary      string
	lastSummarizedIndex int

	staticPrefix string
}

func newSession(id string) *Session {
	return &Session{
		id:        id,
		processed: make(map[int]struct{}),
	}
}

// Append adds turn to the history, assigning the next monotonic index
// when turn.Index is zero. A pre-assigned index at or below the last
// appended one is a replay; Append reports false and leaves the
// history untouched.
func (s *Session) Append(turn datatypes.Turn) (datatypes.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case turn.Index == 0:
		s.lastIndex++
		turn.Index = s.lastIndex
	case turn.Index <= s.lastIndex:
		return datatypes.Turn{}, false
	default:
		s.lastIndex = turn.Index
	}

	s.turns = append(s.turns, turn)
	return turn, true
}

// Seen reports whether id was already appended. Zero ids are never
// seen: they have not been assigned yet.
func (s *Session) Seen(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id != 0 && id <= s.lastIndex
}

// Snapshot captures the state handed to one graph run. The turn slice
// header and a copy of the processed set are safe to read concurrently
// with later appends: appended turns are immutable and never mutate
// indices visible to an older header.
func (s *Session) Snapshot(turnID int, labels []intents.Label) *graph.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &graph.State{
		SessionID:           s.id,
		TurnID:              turnID,
		Turns:               s.turns,
		StaticPrefix:        s.staticPrefix,
		CurrentSummary:      s.currentSummary,
		LastSummarizedIndex: s.lastSummarizedIndex,
		ProcessedTurnIDs:    maps.Clone(s.processed),
		Labels:              labels,
	}
}

// CompleteRun records turnID as analyzed and folds the run's summary
// bookkeeping into the session. The summarized watermark never
// retreats.
func (s *Session) CompleteRun(turnID int, out *graph.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed[turnID] = struct{}{}
	if out != nil && out.LastSummarizedIndex > s.lastSummarizedIndex {
		s.currentSummary = out.CurrentSummary
		s.lastSummarizedIndex = out.LastSummarizedIndex
	}
}

// Processed reports whether turnID's graph run already completed.
func (s *Session) Processed(turnID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[turnID]
	return ok
}

// SetCustomerContext rebuilds the static prefix for a customer binding.
// The build is deterministic, so re-sending the same binding leaves the
// prefix bytes untouched and provider-side prompt caches stay warm.
// Reports whether the prefix actually changed.
func (s *Session) SetCustomerContext(info datatypes.CustomerInfo, history []string) bool {
	prefix := BuildPrefix(info, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prefix == s.staticPrefix {
		return false
	}
	s.staticPrefix = prefix
	return true
}

// Prefix returns the active static prefix.
func (s *Session) Prefix() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staticPrefix
}

// Reset clears history, summary, dedup state, and restores the base
// (empty) prefix. The next binding and turn start a fresh session.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = nil
	s.lastIndex = 0
	s.processed = make(map[int]struct{})
	s.currentSummary = ""
	s.lastSummarizedIndex = 0
	s.staticPrefix = ""
}

// TurnCount returns the number of appended turns.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Summary returns the rolling summary and its watermark.
func (s *Session) Summary() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSummary, s.lastSummarizedIndex
}

// BuildPrefix formats a customer binding into the static prompt prefix.
// Identical inputs yield byte-identical output: fields render in fixed
// order, history lines in given order, nothing varies with time or
// turn.
func BuildPrefix(info datatypes.CustomerInfo, history []string) string {
	var b strings.Builder
	b.WriteString("[고객 정보]\n")
	fmt.Fprintf(&b, "고객 ID: %s\n", info.CustomerID)
	fmt.Fprintf(&b, "이름: %s\n", info.Name)
	fmt.Fprintf(&b, "등급: %s", info.Tier)
	if info.Memo != "" {
		fmt.Fprintf(&b, "\n메모: %s", info.Memo)
	}
	if len(history) > 0 {
		b.WriteString("\n\n[이전 상담 이력]")
		for i, h := range history {
			fmt.Fprintf(&b, "\n%d. %s", i+1, h)
		}
	}
	return b.String()
}
