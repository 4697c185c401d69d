// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
)

// testNode is a scripted node that records execution.
type testNode struct {
	BaseNode
	mu       sync.Mutex
	executed bool
	payload  any
	err      error
	delay    time.Duration
	sleep    time.Duration // blocks without watching ctx
	patch    *Patch
}

func newTestNode(name string, kind datatypes.AnalysisKind, deps []string) *testNode {
	return &testNode{
		BaseNode: BaseNode{
			NodeName:         name,
			NodeKind:         kind,
			NodeDependencies: deps,
			NodeTimeout:      5 * time.Second,
		},
		payload: name + "_output",
	}
}

func (n *testNode) withError(err error) *testNode { n.err = err; return n }

func (n *testNode) withDelay(d time.Duration) *testNode { n.delay = d; return n }

func (n *testNode) withSleep(d time.Duration) *testNode { n.sleep = d; return n }

func (n *testNode) withPatch(p *Patch) *testNode { n.patch = p; return n }

func (n *testNode) withTimeout(d time.Duration) *testNode { n.NodeTimeout = d; return n }

func (n *testNode) Execute(ctx context.Context, state *State) (*Patch, error) {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n.sleep > 0 {
		time.Sleep(n.sleep)
	}

	n.mu.Lock()
	n.executed = true
	n.mu.Unlock()

	if n.err != nil {
		return nil, n.err
	}
	if n.patch != nil {
		return n.patch, nil
	}
	return &Patch{Payload: n.payload}, nil
}

func (n *testNode) wasExecuted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.executed
}

func testState() *State {
	return &State{
		SessionID: "room-1",
		TurnID:    3,
		Turns: []datatypes.Turn{
			{Index: 1, Role: datatypes.RoleAgent, Text: "안녕하세요, 무엇을 도와드릴까요?"},
			{Index: 2, Role: datatypes.RoleCustomer, Text: "요금제를 바꾸고 싶어요"},
			{Index: 3, Role: datatypes.RoleCustomer, Text: "지금보다 싼 걸로요"},
		},
	}
}

func mustExecutor(t *testing.T, g *Graph, cfg ExecutorConfig) *Executor {
	t.Helper()
	e, err := NewExecutor(g, cfg, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return e
}

// --- Builder ---

func TestBuilder_Build(t *testing.T) {
	g, err := NewBuilder("analysis").
		AddNode(newTestNode("a", datatypes.KindSummary, nil)).
		AddNode(newTestNode("b", datatypes.KindIntent, []string{"a"})).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if g.NodeCount() != 2 {
		t.Errorf("NodeCount() = %d, want 2", g.NodeCount())
	}
	if g.Name() != "analysis" {
		t.Errorf("Name() = %q, want %q", g.Name(), "analysis")
	}
}

func TestBuilder_NilNode(t *testing.T) {
	_, err := NewBuilder("analysis").AddNode(nil).Build()
	if !errors.Is(err, ErrNilNode) {
		t.Errorf("error = %v, want %v", err, ErrNilNode)
	}
}

func TestBuilder_DuplicateNode(t *testing.T) {
	_, err := NewBuilder("analysis").
		AddNode(newTestNode("a", datatypes.KindSummary, nil)).
		AddNode(newTestNode("a", datatypes.KindIntent, nil)).
		Build()
	if !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("error = %v, want %v", err, ErrDuplicateNode)
	}
}

func TestBuilder_MissingDependency(t *testing.T) {
	_, err := NewBuilder("analysis").
		AddNode(newTestNode("a", datatypes.KindSummary, []string{"ghost"})).
		Build()
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("error = %v, want %v", err, ErrNodeNotFound)
	}
}

func TestBuilder_Cycle(t *testing.T) {
	_, err := NewBuilder("analysis").
		AddNode(newTestNode("a", datatypes.KindSummary, []string{"b"})).
		AddNode(newTestNode("b", datatypes.KindIntent, []string{"a"})).
		Build()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error = %v, want CycleError", err)
	}
	if len(cycleErr.Path) == 0 {
		t.Error("CycleError.Path is empty")
	}
}

func TestBuilder_Empty(t *testing.T) {
	_, err := NewBuilder("analysis").Build()
	if !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("error = %v, want %v", err, ErrEmptyGraph)
	}
}

// --- Executor ---

func TestExecutor_RunsAllNodes(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil)
	b := newTestNode("b", datatypes.KindIntent, []string{"a"})
	c := newTestNode("c", datatypes.KindSentiment, []string{"a"})
	d := newTestNode("d", datatypes.KindDraft, []string{"b", "c"})

	g, err := NewBuilder("analysis").AddNode(a).AddNode(b).AddNode(c).AddNode(d).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	out, err := mustExecutor(t, g, ExecutorConfig{}).Run(context.Background(), testState(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, n := range []*testNode{a, b, c, d} {
		if !n.wasExecuted() {
			t.Errorf("node %s never executed", n.Name())
		}
	}
	if len(out.Results) != 4 {
		t.Fatalf("len(Results) = %d, want 4", len(out.Results))
	}
	for kind, r := range out.Results {
		if r.IsNull() {
			t.Errorf("result %s is null, want payload", kind)
		}
		if r.SessionID != "room-1" || r.TurnID != 3 {
			t.Errorf("result %s carries %s/%d, want room-1/3", kind, r.SessionID, r.TurnID)
		}
	}
}

func TestExecutor_FailureIsolation(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil)
	b := newTestNode("b", datatypes.KindIntent, nil).withError(fault.ErrUpstream)
	d := newTestNode("d", datatypes.KindDraft, []string{"a", "b"})

	g, err := NewBuilder("analysis").AddNode(a).AddNode(b).AddNode(d).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	state := testState()
	out, err := mustExecutor(t, g, ExecutorConfig{}).Run(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	intent := out.Results[datatypes.KindIntent]
	if !intent.IsNull() {
		t.Fatal("failed node should produce a null result")
	}
	if intent.ErrorCode != string(fault.KindUpstream) {
		t.Errorf("ErrorCode = %q, want %q", intent.ErrorCode, fault.KindUpstream)
	}

	// The dependent still ran and could observe the null upstream.
	if !d.wasExecuted() {
		t.Error("dependent node skipped after upstream failure")
	}
	if r, ok := state.ResultFor(datatypes.KindIntent); !ok || !r.IsNull() {
		t.Error("dependent state is missing the null upstream result")
	}
	if out.Results[datatypes.KindDraft].IsNull() {
		t.Error("dependent result is null, want success")
	}
}

func TestExecutor_NodeTimeout(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil).
		withDelay(300 * time.Millisecond).
		withTimeout(20 * time.Millisecond)

	g, err := NewBuilder("analysis").AddNode(a).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	out, err := mustExecutor(t, g, ExecutorConfig{}).Run(context.Background(), testState(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r := out.Results[datatypes.KindSummary]
	if !r.IsNull() {
		t.Fatal("timed-out node should produce a null result")
	}
	if r.ErrorCode != string(fault.KindTimeout) {
		t.Errorf("ErrorCode = %q, want %q", r.ErrorCode, fault.KindTimeout)
	}
}

func TestExecutor_GraphDeadlinePartialResults(t *testing.T) {
	// a ignores cancellation and overstays the whole-graph budget, so b
	// never starts and must surface as a timeout null.
	a := newTestNode("a", datatypes.KindSummary, nil).withSleep(120 * time.Millisecond)
	b := newTestNode("b", datatypes.KindIntent, []string{"a"})

	g, err := NewBuilder("analysis").AddNode(a).AddNode(b).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	out, err := mustExecutor(t, g, ExecutorConfig{GraphTimeout: 40 * time.Millisecond}).
		Run(context.Background(), testState(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on deadline expiry", err)
	}

	if b.wasExecuted() {
		t.Error("node past the deadline should not run")
	}
	if len(out.Results) != 2 {
		t.Fatalf("len(Results) = %d, want one result per kind", len(out.Results))
	}
	if out.Results[datatypes.KindSummary].IsNull() {
		t.Error("finished node lost its result on deadline expiry")
	}
	r := out.Results[datatypes.KindIntent]
	if !r.IsNull() || r.ErrorCode != string(fault.KindTimeout) {
		t.Errorf("unfinished kind = %+v, want timeout null", r)
	}
}

func TestExecutor_CancellationPropagates(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil).withDelay(time.Second)

	g, err := NewBuilder("analysis").AddNode(a).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err = mustExecutor(t, g, ExecutorConfig{}).Run(ctx, testState(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestExecutor_ReplayedTurnIsNoOp(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil)

	g, err := NewBuilder("analysis").AddNode(a).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	state := testState()
	state.ProcessedTurnIDs = map[int]struct{}{state.TurnID: {}}

	out, err := mustExecutor(t, g, ExecutorConfig{}).Run(context.Background(), state, nil)
	if !errors.Is(err, ErrDuplicateTurn) {
		t.Fatalf("Run() error = %v, want %v", err, ErrDuplicateTurn)
	}
	if out != nil {
		t.Error("replay produced an output")
	}
	if a.wasExecuted() {
		t.Error("replay executed a node")
	}
}

func TestExecutor_SemaphoreCapsConcurrency(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	track := func() func() {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		return func() {
			mu.Lock()
			running--
			mu.Unlock()
		}
	}

	builder := NewBuilder("analysis")
	kinds := []datatypes.AnalysisKind{datatypes.KindSummary, datatypes.KindIntent, datatypes.KindSentiment}
	for _, kind := range kinds {
		builder.AddNode(&trackingNode{
			testNode: newTestNode(string(kind), kind, nil),
			track:    track,
		})
	}
	g, err := builder.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	sem := make(chan struct{}, 1)
	out, err := mustExecutor(t, g, ExecutorConfig{Semaphore: sem}).
		Run(context.Background(), testState(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Results) != len(kinds) {
		t.Fatalf("len(Results) = %d, want %d", len(out.Results), len(kinds))
	}
	if peak > 1 {
		t.Errorf("peak concurrency = %d, want 1 under a unit semaphore", peak)
	}
}

// trackingNode wraps a testNode with concurrency bookkeeping.
type trackingNode struct {
	*testNode
	track func() func()
}

func (n *trackingNode) Execute(ctx context.Context, state *State) (*Patch, error) {
	done := n.track()
	defer done()
	time.Sleep(10 * time.Millisecond)
	return n.testNode.Execute(ctx, state)
}

func TestExecutor_EmitsOncePerKind(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil)
	b := newTestNode("b", datatypes.KindIntent, nil).withError(fault.ErrUpstream)

	g, err := NewBuilder("analysis").AddNode(a).AddNode(b).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var mu sync.Mutex
	seen := make(map[datatypes.AnalysisKind]int)
	emit := func(r datatypes.AnalysisResult) {
		mu.Lock()
		seen[r.Kind]++
		mu.Unlock()
	}

	if _, err := mustExecutor(t, g, ExecutorConfig{}).Run(context.Background(), testState(), emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if seen[datatypes.KindSummary] != 1 || seen[datatypes.KindIntent] != 1 {
		t.Errorf("emit counts = %v, want exactly one per kind including nulls", seen)
	}
}

func TestExecutor_SummaryBookkeeping(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil).withPatch(&Patch{
		Payload:             &datatypes.SummaryPayload{Summary: "고객이 요금제 변경을 요청함"},
		CurrentSummary:      "고객이 요금제 변경을 요청함",
		LastSummarizedIndex: 3,
	})

	g, err := NewBuilder("analysis").AddNode(a).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	state := testState()
	state.CurrentSummary = "이전 요약"
	state.LastSummarizedIndex = 1

	out, err := mustExecutor(t, g, ExecutorConfig{}).Run(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.CurrentSummary != "고객이 요금제 변경을 요청함" {
		t.Errorf("CurrentSummary = %q", out.CurrentSummary)
	}
	if out.LastSummarizedIndex != 3 {
		t.Errorf("LastSummarizedIndex = %d, want 3", out.LastSummarizedIndex)
	}
}

func TestExecutor_WatermarkNeverRetreats(t *testing.T) {
	a := newTestNode("a", datatypes.KindSummary, nil).withPatch(&Patch{
		Payload:             &datatypes.SummaryPayload{Summary: "stale"},
		CurrentSummary:      "stale",
		LastSummarizedIndex: 1,
	})

	g, err := NewBuilder("analysis").AddNode(a).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	state := testState()
	state.LastSummarizedIndex = 2

	out, err := mustExecutor(t, g, ExecutorConfig{}).Run(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.LastSummarizedIndex != 2 {
		t.Errorf("LastSummarizedIndex = %d, want watermark held at 2", out.LastSummarizedIndex)
	}
}

func TestOutput_OrderedResults(t *testing.T) {
	out := &Output{Results: map[datatypes.AnalysisKind]datatypes.AnalysisResult{
		datatypes.KindDraft:   {Kind: datatypes.KindDraft},
		datatypes.KindSummary: {Kind: datatypes.KindSummary},
		datatypes.KindRisk:    {Kind: datatypes.KindRisk},
	}}

	ordered := out.OrderedResults()
	want := []datatypes.AnalysisKind{datatypes.KindSummary, datatypes.KindRisk, datatypes.KindDraft}
	if len(ordered) != len(want) {
		t.Fatalf("len = %d, want %d", len(ordered), len(want))
	}
	for i, kind := range want {
		if ordered[i].Kind != kind {
			t.Errorf("ordered[%d] = %s, want %s", i, ordered[i].Kind, kind)
		}
	}
}
