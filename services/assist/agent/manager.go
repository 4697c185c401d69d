// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
)

// ErrManagerClosed is returned by deliveries after Close.
var ErrManagerClosed = errors.New("agent manager is closed")

// Manager owns the room → agent registry. Agents are created lazily on
// the first transcript or customer binding for a room and torn down by
// room closure, the idle sweeper, or shutdown.
type Manager struct {
	mu     sync.Mutex
	agents map[string]*Agent
	closed bool

	cfg    Config
	logger *slog.Logger
}

// NewManager validates the shared agent dependencies and returns an
// empty registry.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Executor == nil {
		return nil, errors.New("manager requires a graph executor")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agents: make(map[string]*Agent),
		cfg:    cfg,
		logger: logger.With("component", "agent-manager"),
	}, nil
}

// DeliverTranscript hands one turn to the room's agent, creating the
// agent when the room is new. This is the hub's transcript sink.
func (m *Manager) DeliverTranscript(room string, turn datatypes.Turn) error {
	a, err := m.agentFor(room)
	if err != nil {
		return err
	}
	return a.OnNewTranscript(turn)
}

// SetCustomerContext binds customer info to the room's session,
// creating the agent when needed so a binding may precede the first
// turn.
func (m *Manager) SetCustomerContext(room string, info datatypes.CustomerInfo, history []string) error {
	a, err := m.agentFor(room)
	if err != nil {
		return err
	}
	a.SetCustomerContext(info, history)
	return nil
}

// Reset clears the room's session state. Unknown rooms are a no-op.
func (m *Manager) Reset(room string) {
	m.mu.Lock()
	a := m.agents[room]
	m.mu.Unlock()
	if a != nil {
		a.Reset()
	}
}

// RoomClosed tears down the room's agent. The hub calls this when the
// last peer leaves. Unknown rooms are a no-op.
func (m *Manager) RoomClosed(room string) {
	m.mu.Lock()
	a := m.agents[room]
	delete(m.agents, room)
	m.mu.Unlock()

	if a != nil {
		a.Close()
		m.logger.Info("agent closed", "room", room)
	}
}

// Agent returns the live agent for room, nil when absent. Intended for
// tests and introspection.
func (m *Manager) Agent(room string) *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[room]
}

// Rooms returns the rooms with live agents, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]string, 0, len(m.agents))
	for room := range m.agents {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// SweepIdle closes agents that processed nothing for at least idle and
// returns how many were closed. The reaper drives this on a ticker;
// handlers may call it on demand.
func (m *Manager) SweepIdle(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	m.mu.Lock()
	var stale []*Agent
	for room, a := range m.agents {
		if a.LastActive().Before(cutoff) {
			stale = append(stale, a)
			delete(m.agents, room)
		}
	}
	m.mu.Unlock()

	for _, a := range stale {
		a.Close()
		m.logger.Info("idle agent reaped", "room", a.Room())
	}
	return len(stale)
}

// Close tears down every agent. Further deliveries fail with
// ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.agents = make(map[string]*Agent)
	m.mu.Unlock()

	for _, a := range agents {
		a.Close()
	}
	m.logger.Info("agent manager closed", "agents", len(agents))
	return nil
}

// agentFor returns the room's agent, creating and starting one when
// absent.
func (m *Manager) agentFor(room string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if a, ok := m.agents[room]; ok {
		return a, nil
	}

	a, err := NewAgent(room, m.cfg)
	if err != nil {
		return nil, err
	}
	m.agents[room] = a
	m.logger.Info("agent started", "room", room)
	return a, nil
}
