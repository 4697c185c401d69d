// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"sort"
)

// Graph is a validated, immutable node topology.
type Graph struct {
	name  string
	nodes map[string]Node
	// order lists node names sorted for deterministic scheduling.
	order []string
}

// Name returns the graph's name.
func (g *Graph) Name() string {
	return g.name
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// NodeNames returns node names in deterministic order.
func (g *Graph) NodeNames() []string {
	return g.order
}

// Node returns the named node.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Builder assembles a Graph with validation.
//
// Not safe for concurrent use; build in one goroutine at startup.
type Builder struct {
	name   string
	nodes  map[string]Node
	errors []error
}

// NewBuilder creates a builder for a named graph.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]Node),
	}
}

// AddNode registers a node. Duplicate names are recorded as build
// errors rather than failing immediately, keeping call sites chainable.
func (b *Builder) AddNode(node Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, ErrNilNode)
		return b
	}
	name := node.Name()
	if _, exists := b.nodes[name]; exists {
		b.errors = append(b.errors, &NodeError{NodeName: name, Kind: node.Kind(), Err: ErrDuplicateNode})
		return b
	}
	b.nodes[name] = node
	return b
}

// Build validates dependencies and cycles and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	adjList := make(map[string][]string, len(b.nodes))
	for name, node := range b.nodes {
		for _, dep := range node.Dependencies() {
			if _, exists := b.nodes[dep]; !exists {
				return nil, &NodeError{NodeName: name, Kind: node.Kind(), Err: ErrNodeNotFound}
			}
		}
		adjList[name] = node.Dependencies()
	}

	if err := detectCycles(adjList); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(b.nodes))
	for name := range b.nodes {
		order = append(order, name)
	}
	sort.Strings(order)

	return &Graph{
		name:  b.name,
		nodes: b.nodes,
		order: order,
	}, nil
}

// detectCycles walks the dependency edges depth-first and reports the
// first cycle found.
func detectCycles(adjList map[string][]string) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(node string) error
	dfs = func(node string) error {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range adjList[node] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if recStack[dep] {
				cycleStart := 0
				for i, n := range path {
					if n == dep {
						cycleStart = i
						break
					}
				}
				return &CycleError{Path: append(path[cycleStart:], dep)}
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
		return nil
	}

	names := make([]string, 0, len(adjList))
	for name := range adjList {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}
