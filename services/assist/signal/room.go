// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package signal

import (
	"sync"
)

// Room is one consultation's peer set. It guards only its own members;
// the hub's mutex covers the rooms map itself and is always taken
// first when both are held.
type Room struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

func newRoom() *Room {
	return &Room{peers: make(map[string]*Peer)}
}

// add registers p and returns the peers that were already present.
func (r *Room) add(p *Peer) []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	others := make([]*Peer, 0, len(r.peers))
	for _, q := range r.peers {
		others = append(others, q)
	}
	r.peers[p.ID()] = p
	return others
}

// remove drops the member by id and returns the remaining peers.
// Unknown ids report ok false.
func (r *Room) remove(id string) (remaining []*Peer, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, present := r.peers[id]; !present {
		return nil, false
	}
	delete(r.peers, id)
	remaining = make([]*Peer, 0, len(r.peers))
	for _, q := range r.peers {
		remaining = append(remaining, q)
	}
	return remaining, true
}

// peer looks up a member by id, nil when absent.
func (r *Room) peer(id string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[id]
}

// members snapshots the current peer set.
func (r *Room) members() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, q := range r.peers {
		out = append(out, q)
	}
	return out
}
