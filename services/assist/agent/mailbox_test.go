// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
)

func agentTurn(text string) datatypes.Turn {
	return datatypes.Turn{Role: datatypes.RoleAgent, Speaker: "상담사", Text: text}
}

func TestMailbox_FIFO(t *testing.T) {
	m := NewMailbox("room-1", 8, nil)
	for _, text := range []string{"하나", "둘", "셋"} {
		if err := m.Push(customerTurn(text)); err != nil {
			t.Fatalf("push %q: %v", text, err)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"하나", "둘", "셋"} {
		turn, ok := m.Pop(ctx)
		if !ok || turn.Text != want {
			t.Fatalf("pop = (%q, %v), want (%q, true)", turn.Text, ok, want)
		}
	}
	if m.Len() != 0 {
		t.Fatalf("len = %d after drain, want 0", m.Len())
	}
}

func TestMailbox_OverflowEvictsOldestAgentTurn(t *testing.T) {
	m := NewMailbox("room-1", 4, nil)
	m.Push(customerTurn("고객 1"))
	m.Push(agentTurn("상담사 1"))
	m.Push(customerTurn("고객 2"))
	m.Push(agentTurn("상담사 2"))

	// Full. The incoming customer turn displaces the oldest agent turn.
	if err := m.Push(customerTurn("고객 3")); err != nil {
		t.Fatalf("push into full mailbox: %v", err)
	}

	ctx := context.Background()
	var texts []string
	for m.Len() > 0 {
		turn, _ := m.Pop(ctx)
		texts = append(texts, turn.Text)
	}
	want := []string{"고객 1", "고객 2", "상담사 2", "고객 3"}
	if len(texts) != len(want) {
		t.Fatalf("queue = %v, want %v", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("queue[%d] = %q, want %q (full: %v)", i, texts[i], want[i], texts)
		}
	}
}

func TestMailbox_AllCustomerTurnsRejectsOverloaded(t *testing.T) {
	m := NewMailbox("room-1", 3, nil)
	for i := 0; i < 3; i++ {
		if err := m.Push(customerTurn("고객 발화")); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	err := m.Push(customerTurn("넘치는 발화"))
	if err == nil {
		t.Fatal("push into a full all-customer mailbox must fail")
	}
	if !fault.IsKind(err, fault.KindOverloaded) {
		t.Fatalf("error kind = %s, want overloaded", fault.KindOf(err))
	}
	if m.Len() != 3 {
		t.Fatalf("len = %d after rejection, want 3", m.Len())
	}
}

func TestMailbox_PopBlocksUntilPush(t *testing.T) {
	m := NewMailbox("room-1", 4, nil)

	got := make(chan datatypes.Turn, 1)
	go func() {
		turn, ok := m.Pop(context.Background())
		if ok {
			got <- turn
		}
	}()

	time.Sleep(20 * time.Millisecond)
	m.Push(customerTurn("늦게 도착"))

	select {
	case turn := <-got:
		if turn.Text != "늦게 도착" {
			t.Fatalf("popped %q", turn.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestMailbox_PopHonorsContext(t *testing.T) {
	m := NewMailbox("room-1", 4, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := m.Pop(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("pop returned a turn from an empty mailbox")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not observe cancellation")
	}
}

func TestMailbox_CloseDrainsThenStops(t *testing.T) {
	m := NewMailbox("room-1", 4, nil)
	m.Push(customerTurn("마지막 발화"))
	m.Close()

	if err := m.Push(customerTurn("닫힌 뒤")); !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("push after close = %v, want ErrMailboxClosed", err)
	}

	ctx := context.Background()
	if turn, ok := m.Pop(ctx); !ok || turn.Text != "마지막 발화" {
		t.Fatalf("queued turn lost on close: (%q, %v)", turn.Text, ok)
	}
	if _, ok := m.Pop(ctx); ok {
		t.Fatal("pop after drain on a closed mailbox must report false")
	}
}
