// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"errors"
	"fmt"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
)

// Sentinel errors for the graph package.
var (
	// ErrNilNode is returned when a nil node is added to the builder.
	ErrNilNode = errors.New("node must not be nil")

	// ErrDuplicateNode is returned when adding a node with an existing name.
	ErrDuplicateNode = errors.New("node with this name already exists")

	// ErrNodeNotFound is returned when a dependency references an
	// unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoProgress is returned when pending nodes remain but none can
	// run; only a malformed graph reaches this.
	ErrNoProgress = errors.New("no progress possible: missing dependency")

	// ErrNodeTimeout marks a node that exceeded its per-node deadline.
	ErrNodeTimeout = errors.New("node execution timed out")

	// ErrEmptyGraph is returned when building a graph with no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")

	// ErrDuplicateTurn marks a run request for a turn id the session
	// already processed. Callers treat it as a successful no-op.
	ErrDuplicateTurn = errors.New("turn already processed")
)

// NodeError carries the failing node's name and result kind alongside
// the cause, so the run loop can synthesize the right null result.
type NodeError struct {
	NodeName string
	Kind     datatypes.AnalysisKind
	Err      error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeName, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// CycleError reports the node path forming a dependency cycle.
type CycleError struct {
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %v", e.Path)
}
