// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package signal implements the room-scoped signaling hub.
//
// # Description
//
// Peers join named rooms over one duplex socket each and exchange
// opaque connection-negotiation blobs (offer, answer, ice) that the
// hub forwards verbatim to the addressed peer. Transcript envelopes
// are handed to the room's analysis pipeline; results stream back to
// every non-customer peer in the room. The hub is crash-only: nothing
// survives a restart.
//
// Negotiation payloads are never interpreted and never logged. Log
// records carry only the envelope type, room name and peer ids.
//
// # Thread Safety
//
// All Hub methods are safe for concurrent use. The rooms map is
// guarded by one mutex held only for pointer-level updates; each Room
// guards its own peer set. Outbound delivery never blocks: a peer that
// cannot accept a frame is dropped without touching the rest of the
// room.
package signal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/observability"
)

var tracer = otel.Tracer("assist.hub")

// TranscriptSink consumes transcript turns and room lifecycle events.
// *agent.Manager implements it.
type TranscriptSink interface {
	// DeliverTranscript hands one turn to the room's processing
	// pipeline. It must not block on I/O.
	DeliverTranscript(room string, turn datatypes.Turn) error

	// RoomClosed tells the pipeline the room is gone.
	RoomClosed(room string)
}

// Config wires the hub's collaborators.
type Config struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Hub routes signaling envelopes between the peers of each room and
// bridges transcripts to the per-room agents.
type Hub struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	peerRooms map[string]string
	sink      TranscriptSink
	closed    bool

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewHub builds an empty hub. The transcript sink is attached
// afterwards because the hub and the agent manager reference each
// other.
func NewHub(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:     make(map[string]*Room),
		peerRooms: make(map[string]string),
		logger:    logger.With("component", "hub"),
		metrics:   cfg.Metrics,
	}
}

// AttachSink connects the transcript consumer. Call once at startup,
// before serving traffic.
func (h *Hub) AttachSink(sink TranscriptSink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

// Dispatch routes one validated inbound envelope. Failures are
// peer-local: reported as a typed error on the offending peer's own
// socket, never propagated to other peers.
func (h *Hub) Dispatch(ctx context.Context, p *Peer, env *Envelope) {
	_, span := tracer.Start(ctx, "hub.dispatch")
	span.SetAttributes(
		attribute.String("envelope.type", string(env.Type)),
		attribute.String("peer.id", p.ID()),
	)
	defer span.End()

	if h.metrics != nil {
		h.metrics.RecordEnvelope(string(env.Type), "inbound")
	}

	var err error
	switch env.Type {
	case TypeJoin:
		err = h.join(p, env)
	case TypeLeave:
		err = h.leave(p)
	case TypeOffer, TypeAnswer, TypeICE:
		err = h.route(p, env)
	case TypeTranscript:
		err = h.transcript(p, env)
	default:
		err = fault.Errorf(fault.KindBadRequest, "unsupported inbound type %q", env.Type)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
		h.Reject(p, err)
	}
}

// Reject reports err to the peer as a typed error envelope on its own
// socket. The transport layer also uses it for failures that precede
// dispatch, such as unparsable frames and rate-limit rejections.
func (h *Hub) Reject(p *Peer, err error) {
	kind := fault.KindOf(err)
	if h.metrics != nil {
		h.metrics.RecordError(observability.ComponentHub, string(kind))
	}
	h.logger.Warn("envelope rejected",
		"peer", p.ID(),
		"kind", kind,
		"error", err,
	)
	h.broadcast([]*Peer{p}, errorFrom(err))
}

// Disconnect finalizes a peer whose transport ended: implied leave,
// departure announcement, writer release. Safe for peers that never
// joined and safe to call twice.
func (h *Hub) Disconnect(p *Peer) {
	room, remaining, destroyed, wasMember := h.detach(p)
	p.setState(StateDisconnected)
	p.shutdown()
	if wasMember {
		if h.metrics != nil {
			h.metrics.PeerLeft(room)
		}
		h.logger.Info("peer disconnected", "peer", p.ID(), "room", room)
		h.broadcast(remaining, &Envelope{Type: TypePeerLeft, PeerID: p.ID()})
	}
	if destroyed {
		h.roomClosed(room)
	}
}

// PublishResult streams one analysis result to the room's non-customer
// peers. Results for rooms that closed mid-run are discarded. This is
// the agent package's Publisher.
func (h *Hub) PublishResult(room string, result datatypes.AnalysisResult) {
	h.mu.Lock()
	r := h.rooms[room]
	h.mu.Unlock()
	if r == nil {
		h.logger.Debug("result for closed room discarded",
			"room", room,
			"kind", result.Kind,
			"turn", result.TurnID,
		)
		return
	}

	env, err := resultEnvelope(result)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordError(observability.ComponentHub, string(fault.KindOf(err)))
		}
		h.logger.Error("result envelope failed",
			"room", room,
			"kind", result.Kind,
			"error", err,
		)
		return
	}

	subscribers := make([]*Peer, 0, 2)
	for _, q := range r.members() {
		if q.Role() == datatypes.RoleCustomer {
			continue
		}
		subscribers = append(subscribers, q)
	}
	h.broadcast(subscribers, env)
}

// Snapshot lists live rooms sorted by name, for the listing endpoint.
func (h *Hub) Snapshot() []RoomSnapshot {
	h.mu.Lock()
	names := make([]string, 0, len(h.rooms))
	byName := make(map[string]*Room, len(h.rooms))
	for name, r := range h.rooms {
		names = append(names, name)
		byName[name] = r
	}
	h.mu.Unlock()

	sort.Strings(names)
	out := make([]RoomSnapshot, 0, len(names))
	for _, name := range names {
		members := byName[name].members()
		out = append(out, RoomSnapshot{
			Room:      name,
			PeerCount: len(members),
			Peers:     rosterOf(members),
		})
	}
	return out
}

// RoomSnapshot describes one live room for the listing endpoint.
type RoomSnapshot struct {
	Room      string     `json:"room"`
	PeerCount int        `json:"peer_count"`
	Peers     []PeerInfo `json:"peers"`
}

// Close tears down every room and releases every peer. Joins after
// Close are refused; the hub keeps no state across restarts.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := h.rooms
	sink := h.sink
	h.rooms = make(map[string]*Room)
	h.peerRooms = make(map[string]string)
	h.mu.Unlock()

	goodbye, err := errorEnvelope(fault.KindOverloaded, "hub is shutting down").Encode()
	if err != nil {
		goodbye = nil
	}

	for name, r := range rooms {
		for _, q := range r.members() {
			if goodbye != nil {
				q.trySend(goodbye)
			}
			q.setState(StateDisconnected)
			q.shutdown()
		}
		if h.metrics != nil {
			h.metrics.RoomClosed(name)
		}
		if sink != nil {
			sink.RoomClosed(name)
		}
		h.logger.Info("room closed", "room", name)
	}
}

// =============================================================================
// Inbound Handlers
// =============================================================================

func (h *Hub) join(p *Peer, env *Envelope) error {
	role := datatypes.SpeakerRole(env.Role)
	if role == "" {
		role = datatypes.RoleAgent
	}
	if !p.enterJoined() {
		return fault.Errorf(fault.KindBadRequest, "join rejected in state %s", p.State())
	}
	p.bind(env.Nickname, role)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		p.setState(StateLeft)
		return fault.Errorf(fault.KindOverloaded, "hub is shutting down")
	}
	room := h.rooms[env.Room]
	created := room == nil
	if created {
		room = newRoom()
		h.rooms[env.Room] = room
	}
	h.peerRooms[p.ID()] = env.Room
	others := room.add(p)
	h.mu.Unlock()

	if h.metrics != nil {
		if created {
			h.metrics.RoomOpened()
		}
		h.metrics.PeerJoined(env.Room)
	}
	if created {
		h.logger.Info("room opened", "room", env.Room)
	}
	h.logger.Info("peer joined",
		"peer", p.ID(),
		"room", env.Room,
		"nickname", env.Nickname,
		"role", role,
	)

	h.broadcast([]*Peer{p}, &Envelope{
		Type:   TypeJoined,
		PeerID: p.ID(),
		Peers:  rosterOf(others),
	})
	h.broadcast(others, &Envelope{
		Type:     TypePeerJoined,
		PeerID:   p.ID(),
		Nickname: env.Nickname,
	})
	return nil
}

func (h *Hub) leave(p *Peer) error {
	room, remaining, destroyed, wasMember := h.detach(p)
	if !wasMember {
		return fault.Errorf(fault.KindBadRequest, "leave requires a joined room")
	}
	p.setState(StateLeft)
	if h.metrics != nil {
		h.metrics.PeerLeft(room)
	}
	h.logger.Info("peer left", "peer", p.ID(), "room", room)
	h.broadcast(remaining, &Envelope{Type: TypePeerLeft, PeerID: p.ID()})
	if destroyed {
		h.roomClosed(room)
	}
	return nil
}

// route forwards one negotiation envelope to the peer it addresses.
// The payload crosses this function as opaque bytes.
func (h *Hub) route(p *Peer, env *Envelope) error {
	name, room, err := h.roomOf(p)
	if err != nil {
		return err
	}
	target := room.peer(env.To)
	if target == nil {
		return fault.Errorf(fault.KindNotFound, "peer %q not in room", env.To)
	}

	env.From = p.ID()
	h.broadcast([]*Peer{target}, env)
	h.logger.Debug("signal forwarded",
		"type", env.Type,
		"room", name,
		"from", p.ID(),
		"to", target.ID(),
	)
	return nil
}

// transcript converts one utterance envelope into a session turn and
// hands it to the room's agent mailbox.
func (h *Hub) transcript(p *Peer, env *Envelope) error {
	name, _, err := h.roomOf(p)
	if err != nil {
		return err
	}
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return fault.Errorf(fault.KindUpstream, "transcript pipeline unavailable")
	}

	role := datatypes.SpeakerRole(env.Speaker)
	speaker := env.Nickname
	if speaker == "" && role == p.Role() {
		speaker = p.Nickname()
	}
	turn := datatypes.Turn{
		Index:      env.TurnID,
		Role:       role,
		Speaker:    speaker,
		Text:       env.Text,
		Confidence: env.Confidence,
	}
	if env.TS > 0 {
		turn.Timestamp = time.UnixMilli(env.TS)
	}
	if err := sink.DeliverTranscript(name, turn); err != nil {
		return err
	}
	h.logger.Debug("transcript delivered",
		"room", name,
		"peer", p.ID(),
		"role", role,
		"chars", len(env.Text),
	)
	return nil
}

// =============================================================================
// Internals
// =============================================================================

// roomOf resolves the sender's room. Peers outside any room get a
// bad_request; a dangling index entry is repaired and reported fatal.
func (h *Hub) roomOf(p *Peer) (string, *Room, error) {
	h.mu.Lock()
	name, ok := h.peerRooms[p.ID()]
	room := h.rooms[name]
	if ok && room == nil {
		delete(h.peerRooms, p.ID())
	}
	h.mu.Unlock()

	if !ok {
		return "", nil, fault.Errorf(fault.KindBadRequest, "join a room first")
	}
	if room == nil {
		p.setState(StateLeft)
		return "", nil, fault.Errorf(fault.KindFatal, "room %q no longer exists", name)
	}
	return name, room, nil
}

// detach unlinks p from its room under the hub lock. destroyed means
// the room emptied and was removed from the map.
func (h *Hub) detach(p *Peer) (room string, remaining []*Peer, destroyed, wasMember bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name, ok := h.peerRooms[p.ID()]
	if !ok {
		return "", nil, false, false
	}
	delete(h.peerRooms, p.ID())
	r := h.rooms[name]
	if r == nil {
		return name, nil, false, false
	}
	remaining, wasMember = r.remove(p.ID())
	if wasMember && len(remaining) == 0 {
		delete(h.rooms, name)
		destroyed = true
	}
	return name, remaining, destroyed, wasMember
}

// broadcast fans one envelope out, dropping any peer that cannot
// accept it. Sends never block and never cross to unlisted peers.
func (h *Hub) broadcast(peers []*Peer, env *Envelope) {
	if len(peers) == 0 {
		return
	}
	frame, err := env.Encode()
	if err != nil {
		h.logger.Error("envelope encode failed", "type", env.Type, "error", err)
		return
	}
	for _, q := range peers {
		if q.trySend(frame) {
			if h.metrics != nil {
				h.metrics.RecordEnvelope(string(env.Type), "outbound")
			}
			continue
		}
		h.drop(q, "send buffer full")
	}
}

// drop disconnects a peer whose outbound path failed. Only that peer
// is affected; the rest of the room learns through peer-left.
func (h *Hub) drop(p *Peer, reason string) {
	room, remaining, destroyed, wasMember := h.detach(p)
	p.setState(StateDisconnected)
	p.shutdown()
	h.logger.Warn("peer dropped", "peer", p.ID(), "room", room, "reason", reason)
	if wasMember {
		if h.metrics != nil {
			h.metrics.PeerLeft(room)
		}
		h.broadcast(remaining, &Envelope{Type: TypePeerLeft, PeerID: p.ID()})
	}
	if destroyed {
		h.roomClosed(room)
	}
}

// roomClosed runs the after-effects of room destruction outside any
// lock: the sink tears down the room's agent, which may block while
// the agent's worker drains.
func (h *Hub) roomClosed(name string) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RoomClosed(name)
	}
	if sink != nil {
		sink.RoomClosed(name)
	}
	h.logger.Info("room closed", "room", name)
}

// rosterOf renders peers as wire roster entries in a stable order.
func rosterOf(peers []*Peer) []PeerInfo {
	infos := make([]PeerInfo, 0, len(peers))
	for _, q := range peers {
		infos = append(infos, PeerInfo{PeerID: q.ID(), Nickname: q.Nickname()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PeerID < infos[j].PeerID })
	return infos
}
