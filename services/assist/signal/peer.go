// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package signal

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
)

// State is the peer lifecycle phase.
//
// Connecting → Joined → Left | Disconnected. A Left peer may join
// again on the same socket; Disconnected is terminal.
type State int32

const (
	// StateConnecting is the phase between socket upgrade and join.
	StateConnecting State = iota

	// StateJoined means the peer is registered in exactly one room.
	StateJoined

	// StateLeft means the peer left its room but the socket is open.
	StateLeft

	// StateDisconnected means the transport is gone. Terminal.
	StateDisconnected
)

// String returns the lifecycle phase name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// sendBuffer bounds the outbound frame queue per peer. A full buffer
// means the consumer cannot keep up and the hub drops the peer.
const sendBuffer = 32

// Peer is one connected signaling client. The transport layer runs a
// dedicated reader and a single writer per peer; the writer drains
// Outbound until Done closes. Everything else reaches the peer only
// through trySend, so a slow or dead consumer never blocks the hub.
type Peer struct {
	id string

	// nickname and role are written once during join, before the peer
	// is published to a room, and never after.
	nickname string
	role     datatypes.SpeakerRole

	state atomic.Int32

	send chan []byte
	done chan struct{}
	stop sync.Once
}

// NewPeer allocates a peer in the Connecting state with a fresh opaque id.
func NewPeer() *Peer {
	return &Peer{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the server-assigned opaque peer id.
func (p *Peer) ID() string { return p.id }

// Nickname returns the display name bound at join time.
func (p *Peer) Nickname() string { return p.nickname }

// Role returns the join-time role hint. Customer-role peers are
// excluded from the analysis result stream.
func (p *Peer) Role() datatypes.SpeakerRole { return p.role }

// State returns the current lifecycle phase.
func (p *Peer) State() State { return State(p.state.Load()) }

// Outbound is the frame stream the transport writer drains.
func (p *Peer) Outbound() <-chan []byte { return p.send }

// Done closes when the peer is shut down; the transport writer must
// exit then.
func (p *Peer) Done() <-chan struct{} { return p.done }

// bind sets the join-time identity. The hub calls it exactly once per
// join, before adding the peer to a room.
func (p *Peer) bind(nickname string, role datatypes.SpeakerRole) {
	p.nickname = nickname
	p.role = role
}

// enterJoined moves the peer into Joined when its current phase allows
// joining. Reports false for a peer already in a room or already gone.
func (p *Peer) enterJoined() bool {
	return p.state.CompareAndSwap(int32(StateConnecting), int32(StateJoined)) ||
		p.state.CompareAndSwap(int32(StateLeft), int32(StateJoined))
}

func (p *Peer) setState(s State) {
	p.state.Store(int32(s))
}

// trySend queues one frame without blocking. False means the buffer is
// full or the peer is shut down; the caller must treat the peer as dead.
func (p *Peer) trySend(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	case <-p.done:
		return false
	default:
		return false
	}
}

// shutdown releases the transport writer. Idempotent; frames still
// queued are discarded when the writer exits.
func (p *Peer) shutdown() {
	p.stop.Do(func() {
		close(p.done)
	})
}
