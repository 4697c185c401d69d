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
	"sync"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/observability"
)

// DefaultMailboxLimit bounds pending turns per room agent.
const DefaultMailboxLimit = 256

// Mailbox drop reasons for metrics.
const (
	dropReasonStaleAgentTurn = "stale_agent_turn"
	dropReasonOverloaded     = "overloaded"
)

// ErrMailboxClosed is returned by Push after Close.
var ErrMailboxClosed = errors.New("mailbox is closed")

// Mailbox is the bounded FIFO queue between the hub's intake and the
// room agent's worker. A full mailbox evicts its oldest non-customer
// turn to make room; when only customer turns remain the push fails
// with fault.ErrOverloaded and the producer must back off.
//
// Safe for concurrent pushes; Pop is intended for a single consumer.
type Mailbox struct {
	mu     sync.Mutex
	queue  []datatypes.Turn
	limit  int
	closed bool

	// wake is 1-buffered: coalesced wakeups are fine because Pop
	// drains the queue before sleeping again.
	wake chan struct{}

	room    string
	metrics *observability.Metrics
}

// NewMailbox creates a mailbox holding at most limit pending turns.
// Non-positive limits fall back to DefaultMailboxLimit. metrics may be
// nil.
func NewMailbox(room string, limit int, metrics *observability.Metrics) *Mailbox {
	if limit <= 0 {
		limit = DefaultMailboxLimit
	}
	return &Mailbox{
		limit:   limit,
		wake:    make(chan struct{}, 1),
		room:    room,
		metrics: metrics,
	}
}

// Push enqueues turn, applying the overflow policy when full.
func (m *Mailbox) Push(turn datatypes.Turn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	if len(m.queue) >= m.limit && !m.evictStaleAgentTurn() {
		m.mu.Unlock()
		m.recordDrop(dropReasonOverloaded)
		return fault.Wrap(fault.KindOverloaded, fault.ErrOverloaded)
	}
	m.queue = append(m.queue, turn)
	depth := len(m.queue)
	m.mu.Unlock()

	m.setDepth(depth)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// evictStaleAgentTurn removes the oldest non-customer turn. Reports
// false when the queue holds only customer turns. Caller holds m.mu.
func (m *Mailbox) evictStaleAgentTurn() bool {
	for i, t := range m.queue {
		if t.Role == datatypes.RoleCustomer {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.recordDrop(dropReasonStaleAgentTurn)
		return true
	}
	return false
}

// Pop blocks until a turn is available, the context is done, or the
// mailbox is closed and drained. The second return is false only when
// no turn is delivered.
func (m *Mailbox) Pop(ctx context.Context) (datatypes.Turn, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			turn := m.queue[0]
			m.queue = m.queue[1:]
			depth := len(m.queue)
			m.mu.Unlock()
			m.setDepth(depth)
			return turn, true
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return datatypes.Turn{}, false
		}
		select {
		case <-ctx.Done():
			return datatypes.Turn{}, false
		case <-m.wake:
		}
	}
}

// Len returns the number of pending turns.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops accepting pushes. Pending turns remain poppable until
// drained. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mailbox) setDepth(depth int) {
	if m.metrics != nil {
		m.metrics.SetMailboxDepth(m.room, depth)
	}
}

func (m *Mailbox) recordDrop(reason string) {
	if m.metrics != nil {
		m.metrics.RecordMailboxDrop(reason)
	}
}
