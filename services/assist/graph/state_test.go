// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"testing"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
)

func TestState_NewTurns(t *testing.T) {
	state := testState()
	state.LastSummarizedIndex = 1

	fresh := state.NewTurns()
	if len(fresh) != 2 {
		t.Fatalf("len(NewTurns()) = %d, want 2", len(fresh))
	}
	if fresh[0].Index != 2 || fresh[1].Index != 3 {
		t.Errorf("NewTurns() indexes = %d,%d, want 2,3", fresh[0].Index, fresh[1].Index)
	}

	state.LastSummarizedIndex = 3
	if got := state.NewTurns(); len(got) != 0 {
		t.Errorf("len(NewTurns()) = %d after full fold, want 0", len(got))
	}
}

func TestState_LatestCustomerText(t *testing.T) {
	state := testState()
	if got := state.LatestCustomerText(); got != "지금보다 싼 걸로요" {
		t.Errorf("LatestCustomerText() = %q", got)
	}

	// Trigger id not in the history: falls back to the last customer
	// turn instead of returning nothing.
	state.TurnID = 99
	if got := state.LatestCustomerText(); got != "지금보다 싼 걸로요" {
		t.Errorf("LatestCustomerText() fallback = %q", got)
	}

	empty := &State{SessionID: "room-1", TurnID: 1}
	if got := empty.LatestCustomerText(); got != "" {
		t.Errorf("LatestCustomerText() on empty history = %q, want empty", got)
	}
}

func TestState_Processed(t *testing.T) {
	state := testState()
	if state.Processed(3) {
		t.Error("Processed(3) = true with nil set")
	}
	state.ProcessedTurnIDs = map[int]struct{}{3: {}}
	if !state.Processed(3) {
		t.Error("Processed(3) = false, want true")
	}
	if state.Processed(4) {
		t.Error("Processed(4) = true, want false")
	}
}

func TestState_ResultFor(t *testing.T) {
	state := testState()
	if _, ok := state.ResultFor(datatypes.KindIntent); ok {
		t.Error("ResultFor reported a result before any node ran")
	}

	state.results = map[datatypes.AnalysisKind]datatypes.AnalysisResult{
		datatypes.KindIntent: {Kind: datatypes.KindIntent, ErrorCode: "upstream"},
	}
	r, ok := state.ResultFor(datatypes.KindIntent)
	if !ok {
		t.Fatal("ResultFor missed a recorded result")
	}
	if !r.IsNull() {
		t.Error("null upstream result lost its nullness")
	}
}
