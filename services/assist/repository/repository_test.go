// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
)

func openTestRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleTurn(index int, text string) datatypes.Turn {
	return datatypes.Turn{
		Index:     index,
		Role:      datatypes.RoleCustomer,
		Speaker:   "customer-1",
		Text:      text,
		Timestamp: time.Date(2025, 11, 3, 10, 0, index, 0, time.UTC),
	}
}

func TestSaveTurn_RoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	turns := []datatypes.Turn{
		sampleTurn(1, "환불하고 싶어요"),
		sampleTurn(2, "구매한 지 일주일 됐어요"),
		sampleTurn(3, "영수증은 있어요"),
	}
	for _, turn := range turns {
		if err := repo.SaveTurn(ctx, "session-a", turn); err != nil {
			t.Fatalf("SaveTurn(%d) error = %v", turn.Index, err)
		}
	}

	got, err := repo.SessionTurns(ctx, "session-a")
	if err != nil {
		t.Fatalf("SessionTurns() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("SessionTurns() = %d turns, want 3", len(got))
	}
	for i, turn := range got {
		if turn.Index != i+1 {
			t.Errorf("turn[%d].Index = %d, want %d (index order)", i, turn.Index, i+1)
		}
		if turn.Text != turns[i].Text {
			t.Errorf("turn[%d].Text = %q, want %q", i, turn.Text, turns[i].Text)
		}
	}
}

func TestSessionTurns_IndexOrderAcrossPadding(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// Indexes crossing a digit boundary expose unpadded key layouts:
	// lexicographic "10" sorts before "9".
	for _, idx := range []int{9, 10, 11, 100} {
		if err := repo.SaveTurn(ctx, "s", sampleTurn(idx, "text")); err != nil {
			t.Fatalf("SaveTurn(%d) error = %v", idx, err)
		}
	}

	got, err := repo.SessionTurns(ctx, "s")
	if err != nil {
		t.Fatalf("SessionTurns() error = %v", err)
	}
	want := []int{9, 10, 11, 100}
	for i, turn := range got {
		if turn.Index != want[i] {
			t.Fatalf("turn order = %v..., want %v", turn.Index, want)
		}
	}
}

func TestSessionTurns_SessionIsolation(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveTurn(ctx, "room-1", sampleTurn(1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveTurn(ctx, "room-2", sampleTurn(1, "b")); err != nil {
		t.Fatal(err)
	}

	got, err := repo.SessionTurns(ctx, "room-1")
	if err != nil {
		t.Fatalf("SessionTurns() error = %v", err)
	}
	if len(got) != 1 || got[0].Text != "a" {
		t.Errorf("SessionTurns(room-1) = %+v, want only room-1's turn", got)
	}

	empty, err := repo.SessionTurns(ctx, "room-3")
	if err != nil {
		t.Fatalf("SessionTurns(unknown) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("SessionTurns(unknown) = %d turns, want 0", len(empty))
	}
}

func TestSaveResult_IdempotentPerTurnAndKind(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	first := datatypes.AnalysisResult{
		SessionID:  "s",
		TurnID:     1,
		Kind:       datatypes.KindIntent,
		Payload:    map[string]any{"label": "refund", "confidence": 0.92},
		ProducedAt: time.Now(),
	}
	if err := repo.SaveResult(ctx, first); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}

	// A replayed write for the same (turn, kind) must not overwrite.
	replay := first
	replay.Payload = map[string]any{"label": "overwritten"}
	if err := repo.SaveResult(ctx, replay); err != nil {
		t.Fatalf("SaveResult(replay) error = %v", err)
	}

	got, err := repo.SessionResults(ctx, "s")
	if err != nil {
		t.Fatalf("SessionResults() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("SessionResults() = %d results, want 1", len(got))
	}
	payload, ok := got[0].Payload.(map[string]any)
	if !ok {
		t.Fatalf("Payload type = %T", got[0].Payload)
	}
	if payload["label"] != "refund" {
		t.Errorf("payload label = %v, want first write retained", payload["label"])
	}
}

func TestSaveResult_DistinctKindsCoexist(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for _, kind := range datatypes.AllAnalysisKinds {
		res := datatypes.AnalysisResult{
			SessionID:  "s",
			TurnID:     1,
			Kind:       kind,
			Payload:    map[string]any{"kind": string(kind)},
			ProducedAt: time.Now(),
		}
		if err := repo.SaveResult(ctx, res); err != nil {
			t.Fatalf("SaveResult(%s) error = %v", kind, err)
		}
	}

	got, err := repo.SessionResults(ctx, "s")
	if err != nil {
		t.Fatalf("SessionResults() error = %v", err)
	}
	if len(got) != len(datatypes.AllAnalysisKinds) {
		t.Errorf("SessionResults() = %d results, want %d", len(got), len(datatypes.AllAnalysisKinds))
	}
}

func TestSaveResult_NullResultPersists(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	res := datatypes.AnalysisResult{
		SessionID:  "s",
		TurnID:     2,
		Kind:       datatypes.KindIntent,
		Payload:    nil,
		ErrorCode:  "upstream",
		ProducedAt: time.Now(),
	}
	if err := repo.SaveResult(ctx, res); err != nil {
		t.Fatalf("SaveResult(null) error = %v", err)
	}

	got, err := repo.SessionResults(ctx, "s")
	if err != nil {
		t.Fatalf("SessionResults() error = %v", err)
	}
	if len(got) != 1 || !got[0].IsNull() || got[0].ErrorCode != "upstream" {
		t.Errorf("SessionResults() = %+v, want one null result with error code", got)
	}
}

func TestRepository_ContextCancellation(t *testing.T) {
	repo := openTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.SaveTurn(ctx, "s", sampleTurn(1, "x")); err == nil {
		t.Error("SaveTurn(canceled ctx) error = nil, want context error")
	}
	if _, err := repo.SessionTurns(ctx, "s"); err == nil {
		t.Error("SessionTurns(canceled ctx) error = nil, want context error")
	}
}

func TestRepository_ClosedErrors(t *testing.T) {
	repo, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	repo.Close()

	if err := repo.SaveTurn(context.Background(), "s", sampleTurn(1, "x")); err == nil {
		t.Error("SaveTurn(closed) error = nil, want failure")
	}
}

func TestNew_RequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New(no path) error = nil, want failure")
	}
}
