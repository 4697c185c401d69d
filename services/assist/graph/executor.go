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
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/observability"
)

var tracer = otel.Tracer("assist.graph")

// EmitFunc receives each result the moment its node finishes, before
// the run returns. Called from node goroutines; implementations must be
// safe for concurrent use.
type EmitFunc func(result datatypes.AnalysisResult)

// ExecutorConfig tunes a graph executor.
type ExecutorConfig struct {
	// GraphTimeout bounds one whole run. Zero means
	// DefaultGraphTimeout. On expiry, completed results are returned
	// and unfinished kinds become timeout nulls.
	GraphTimeout time.Duration

	// Semaphore caps concurrent node executions across all rooms when
	// non-nil. Shared by every executor built from the same service.
	Semaphore chan struct{}
}

// Executor runs a Graph. One instance serves all rooms; per-run state
// lives on the stack of Run.
type Executor struct {
	graph   *Graph
	config  ExecutorConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewExecutor binds a validated graph to its runtime configuration.
// A nil metrics handle disables instrument updates.
func NewExecutor(graph *Graph, config ExecutorConfig, metrics *observability.Metrics) (*Executor, error) {
	if graph == nil {
		return nil, ErrEmptyGraph
	}
	if config.GraphTimeout <= 0 {
		config.GraphTimeout = DefaultGraphTimeout
	}
	return &Executor{
		graph:   graph,
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "graph"),
	}, nil
}

// outcome carries one node's finished work back to the run loop.
type outcome struct {
	node   Node
	patch  *Patch
	result datatypes.AnalysisResult
}

// Run executes every node of the graph against state.
//
// Node failures never abort the run: the failing kind records a null
// result with a wire error code and dependents still execute, reading
// the null through state. emit fires once per kind, including nulls.
//
// The returned error is non-nil only for caller cancellation or a
// malformed graph; deadline expiry returns partial output with nil
// error.
func (e *Executor) Run(ctx context.Context, state *State, emit EmitFunc) (*Output, error) {
	// Replayed turns are no-ops: at-least-once delivery upstream means
	// the same id can arrive twice, and results must stay unique per
	// (turn, kind).
	if state.Processed(state.TurnID) {
		e.logger.Debug("skipping replayed turn",
			"session", state.SessionID,
			"turn", state.TurnID,
		)
		return nil, ErrDuplicateTurn
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.GraphTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "graph.Run",
		trace.WithAttributes(
			attribute.String("graph.name", e.graph.Name()),
			attribute.String("graph.session_id", state.SessionID),
			attribute.Int("graph.turn_id", state.TurnID),
		),
	)
	defer span.End()

	start := time.Now()
	if emit == nil {
		emit = func(datatypes.AnalysisResult) {}
	}
	if state.results == nil {
		state.results = make(map[datatypes.AnalysisKind]datatypes.AnalysisResult, e.graph.NodeCount())
	}

	out := &Output{
		Results:             make(map[datatypes.AnalysisKind]datatypes.AnalysisResult, e.graph.NodeCount()),
		CurrentSummary:      state.CurrentSummary,
		LastSummarizedIndex: state.LastSummarizedIndex,
	}
	completed := make(map[string]bool, e.graph.NodeCount())

	for len(completed) < e.graph.NodeCount() {
		if ctx.Err() != nil {
			break
		}

		ready := e.findReadyNodes(completed)
		if len(ready) == 0 {
			span.SetStatus(codes.Error, ErrNoProgress.Error())
			return out, ErrNoProgress
		}

		outcomes := e.executeWave(ctx, ready, state, emit)

		// Merge in deterministic kind order so concurrent branches
		// cannot reorder bookkeeping between runs.
		sort.Slice(outcomes, func(i, j int) bool {
			return kindRank(outcomes[i].result.Kind) < kindRank(outcomes[j].result.Kind)
		})
		for _, oc := range outcomes {
			completed[oc.node.Name()] = true
			state.results[oc.result.Kind] = oc.result
			out.Results[oc.result.Kind] = oc.result

			if oc.patch == nil {
				continue
			}
			if oc.patch.CurrentSummary != "" {
				out.CurrentSummary = oc.patch.CurrentSummary
				state.CurrentSummary = oc.patch.CurrentSummary
			}
			if oc.patch.LastSummarizedIndex > out.LastSummarizedIndex {
				out.LastSummarizedIndex = oc.patch.LastSummarizedIndex
				state.LastSummarizedIndex = oc.patch.LastSummarizedIndex
			}
		}
	}

	// Deadline expiry: unfinished kinds become timeout nulls so the
	// consumer sees one result per kind.
	if ctx.Err() != nil && len(completed) < e.graph.NodeCount() {
		for _, name := range e.graph.NodeNames() {
			if completed[name] {
				continue
			}
			node, _ := e.graph.Node(name)
			result := e.nullResult(state, node.Kind(), fault.KindTimeout)
			out.Results[result.Kind] = result
			e.recordResult(result)
			emit(result)
		}
		span.AddEvent("graph deadline expired", trace.WithAttributes(
			attribute.Int("graph.completed", len(completed)),
		))
	}

	out.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("graph.results", len(out.Results)))

	// Distinguish room teardown from our own deadline: cancellation
	// propagates, expiry returns the partial output quietly.
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		span.SetStatus(codes.Error, "canceled")
		return out, err
	}

	e.logger.Debug("graph run finished",
		"session", state.SessionID,
		"turn", state.TurnID,
		"duration", out.Duration,
		"results", len(out.Results),
	)
	return out, nil
}

// findReadyNodes returns nodes whose dependencies have all completed.
func (e *Executor) findReadyNodes(completed map[string]bool) []Node {
	ready := make([]Node, 0)
	for _, name := range e.graph.NodeNames() {
		if completed[name] {
			continue
		}
		node, _ := e.graph.Node(name)
		allDone := true
		for _, dep := range node.Dependencies() {
			if !completed[dep] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, node)
		}
	}
	return ready
}

// executeWave runs independent nodes concurrently and collects their
// outcomes.
func (e *Executor) executeWave(ctx context.Context, nodes []Node, state *State, emit EmitFunc) []outcome {
	var wg sync.WaitGroup
	outcomeCh := make(chan outcome, len(nodes))

	for _, node := range nodes {
		wg.Add(1)
		go func(n Node) {
			defer wg.Done()
			oc := e.executeNode(ctx, n, state)
			e.recordResult(oc.result)
			emit(oc.result)
			outcomeCh <- oc
		}(node)
	}

	wg.Wait()
	close(outcomeCh)

	outcomes := make([]outcome, 0, len(nodes))
	for oc := range outcomeCh {
		outcomes = append(outcomes, oc)
	}
	return outcomes
}

// executeNode runs one node under the shared semaphore and its own
// timeout, translating any failure into a null result.
func (e *Executor) executeNode(ctx context.Context, node Node, state *State) outcome {
	ctx, span := tracer.Start(ctx, "graph."+node.Name(),
		trace.WithAttributes(
			attribute.String("graph.node", node.Name()),
			attribute.String("graph.kind", string(node.Kind())),
			attribute.StringSlice("graph.dependencies", node.Dependencies()),
		),
	)
	defer span.End()

	if e.config.Semaphore != nil {
		select {
		case e.config.Semaphore <- struct{}{}:
			defer func() { <-e.config.Semaphore }()
		case <-ctx.Done():
			span.SetStatus(codes.Error, "queued past deadline")
			return outcome{node: node, result: e.nullResult(state, node.Kind(), fault.KindTimeout)}
		}
	}

	nodeCtx, cancel := context.WithTimeout(ctx, node.Timeout())
	defer cancel()

	start := time.Now()
	patch, err := node.Execute(nodeCtx, state)
	duration := time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordNodeDuration(node.Name(), duration.Seconds(), err == nil)
	}

	if err != nil {
		if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
			err = &NodeError{NodeName: node.Name(), Kind: node.Kind(), Err: ErrNodeTimeout}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("node failed",
			"node", node.Name(),
			"session", state.SessionID,
			"turn", state.TurnID,
			"duration", duration,
			"error", err,
		)
		code := fault.KindOf(err)
		if errors.Is(err, ErrNodeTimeout) {
			code = fault.KindTimeout
		}
		return outcome{node: node, result: e.nullResult(state, node.Kind(), code)}
	}

	span.SetStatus(codes.Ok, "")
	result := datatypes.AnalysisResult{
		SessionID:  state.SessionID,
		TurnID:     state.TurnID,
		Kind:       node.Kind(),
		ProducedAt: time.Now(),
	}
	if patch != nil {
		result.Payload = patch.Payload
	}

	e.logger.Debug("node completed",
		"node", node.Name(),
		"session", state.SessionID,
		"duration", duration,
	)
	return outcome{node: node, patch: patch, result: result}
}

// nullResult builds the failure placeholder for a kind.
func (e *Executor) nullResult(state *State, kind datatypes.AnalysisKind, code fault.Kind) datatypes.AnalysisResult {
	if e.metrics != nil {
		e.metrics.RecordError(observability.ComponentGraph, string(code))
	}
	return datatypes.AnalysisResult{
		SessionID:  state.SessionID,
		TurnID:     state.TurnID,
		Kind:       kind,
		Payload:    nil,
		ErrorCode:  string(code),
		ProducedAt: time.Now(),
	}
}

func (e *Executor) recordResult(result datatypes.AnalysisResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordResult(string(result.Kind), result.IsNull())
}

// kindRank positions a kind within the deterministic merge order.
func kindRank(kind datatypes.AnalysisKind) int {
	for i, k := range datatypes.AllAnalysisKinds {
		if k == kind {
			return i
		}
	}
	return len(datatypes.AllAnalysisKinds)
}
