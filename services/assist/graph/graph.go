// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph runs the per-turn analysis pipeline: a directed acyclic
// graph of nodes that each read the session state and contribute a
// patch.
//
// # Description
//
// Branches that share no dependency run in parallel; patches merge in
// the deterministic kind order of datatypes.AllAnalysisKinds. A node
// failure is isolated to its own result kind: the run records a null
// result with an error code and keeps executing, so dependents see the
// gap and degrade instead of dying.
//
// # Thread Safety
//
// Graphs and Executors are immutable after construction and safe to
// share across rooms; each Run carries its own mutable run state.
package graph

import (
	"context"
	"time"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
)

// DefaultNodeTimeout bounds one node execution.
const DefaultNodeTimeout = 10 * time.Second

// DefaultGraphTimeout bounds a whole run; on expiry the completed
// results are returned and the rest become timeout nulls.
const DefaultGraphTimeout = 30 * time.Second

// Node is one analysis step.
type Node interface {
	// Name is the unique node identifier within the graph.
	Name() string

	// Kind is the result kind this node produces.
	Kind() datatypes.AnalysisKind

	// Dependencies lists node names that must finish first.
	Dependencies() []string

	// Timeout bounds one execution; zero means DefaultNodeTimeout.
	Timeout() time.Duration

	// Execute reads state and returns a patch. Implementations honor
	// ctx and return promptly on cancellation.
	Execute(ctx context.Context, state *State) (*Patch, error)
}

// BaseNode implements the descriptive half of Node. Embed it and
// override Execute.
type BaseNode struct {
	NodeName         string
	NodeKind         datatypes.AnalysisKind
	NodeDependencies []string
	NodeTimeout      time.Duration
}

// Name returns the node's unique identifier.
func (n *BaseNode) Name() string {
	return n.NodeName
}

// Kind returns the result kind this node produces.
func (n *BaseNode) Kind() datatypes.AnalysisKind {
	return n.NodeKind
}

// Dependencies returns the names of nodes that must complete first.
func (n *BaseNode) Dependencies() []string {
	if n.NodeDependencies == nil {
		return []string{}
	}
	return n.NodeDependencies
}

// Timeout returns the maximum execution time for this node.
func (n *BaseNode) Timeout() time.Duration {
	if n.NodeTimeout == 0 {
		return DefaultNodeTimeout
	}
	return n.NodeTimeout
}
