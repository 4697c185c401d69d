// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package signal

import (
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
)

// MessageType discriminates the signaling envelope kinds.
type MessageType string

const (
	// TypeJoin registers the sender in a room. Client-sent.
	TypeJoin MessageType = "join"

	// TypeJoined is the server reply to a join: the sender's assigned
	// peer id and the current roster.
	TypeJoined MessageType = "joined"

	// TypePeerJoined announces a new peer to the rest of the room.
	TypePeerJoined MessageType = "peer-joined"

	// TypeLeave removes the sender from its room. Client-sent.
	TypeLeave MessageType = "leave"

	// TypePeerLeft announces a departure to the rest of the room.
	TypePeerLeft MessageType = "peer-left"

	// TypeOffer, TypeAnswer and TypeICE carry connection negotiation
	// blobs between two peers. The payload is opaque: forwarded
	// verbatim, never interpreted, never logged.
	TypeOffer  MessageType = "offer"
	TypeAnswer MessageType = "answer"
	TypeICE    MessageType = "ice"

	// TypeTranscript carries one speech-to-text utterance. Server-bound;
	// the hub hands it to the room's agent.
	TypeTranscript MessageType = "transcript"

	// TypeAgentResult streams one analysis result to room subscribers.
	TypeAgentResult MessageType = "agent-result"

	// TypeError reports a failure on the offending peer's own socket.
	TypeError MessageType = "error"
)

// PeerInfo is one roster entry, used in joined replies and the room
// listing endpoint.
type PeerInfo struct {
	PeerID   string `json:"peer_id"`
	Nickname string `json:"nickname"`
}

// Envelope is the wire message on the signaling socket. One flat shape
// covers every kind; fields a kind does not use stay empty and are
// omitted from the frame. Payload is opaque bytes: for offer, answer
// and ice it is relayed byte-for-byte and must never be unmarshaled or
// written to a log.
//
// The validate tags gate inbound frames only; server-built envelopes
// are never validated.
type Envelope struct {
	Type MessageType `json:"type" validate:"required"`
	From string      `json:"from,omitempty"`
	To   string      `json:"to,omitempty" validate:"required_if=Type offer,required_if=Type answer,required_if=Type ice"`
	Room string      `json:"room,omitempty" validate:"required_if=Type join,max=128"`

	// join; peer-joined reuses Nickname for the announcement and
	// transcript may carry it as the display name of the speaker.
	Nickname string `json:"nickname,omitempty" validate:"max=64"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=agent customer"`

	// joined, peer-joined, peer-left
	PeerID string     `json:"peer_id,omitempty"`
	Peers  []PeerInfo `json:"peers,omitempty"`

	// transcript: Speaker is the speaker role, TS the utterance epoch
	// time in milliseconds (zero means receipt time).
	Speaker    string   `json:"speaker,omitempty" validate:"required_if=Type transcript,omitempty,oneof=agent customer"`
	Text       string   `json:"text,omitempty" validate:"required_if=Type transcript,max=8192"`
	TS         int64    `json:"ts,omitempty" validate:"min=0"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,min=0,max=1"`

	// agent-result; transcript producers may set TurnID so that
	// at-least-once retransmits dedup to one appended turn.
	Kind   string `json:"kind,omitempty"`
	TurnID int    `json:"turn_id,omitempty" validate:"min=0"`

	// offer | answer | ice | agent-result
	Payload json.RawMessage `json:"payload,omitempty"`

	// error; agent-result reuses Code for the null-result error code.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates one inbound frame. Failures are
// bad_request: reported to the offending peer, never fatal.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fault.Errorf(fault.KindBadRequest, "malformed envelope: %v", err)
	}
	if err := validate.Struct(&env); err != nil {
		return nil, fault.Errorf(fault.KindBadRequest, "invalid %s envelope: %v", env.Type, firstViolation(err))
	}
	return &env, nil
}

// Encode renders the envelope as one text frame.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// firstViolation collapses a validator error to its leading field
// failure so peers get one actionable message.
func firstViolation(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field() + " failed " + verrs[0].Tag()
	}
	return err.Error()
}

// errorEnvelope builds the typed error message for a peer's own socket.
func errorEnvelope(code fault.Kind, message string) *Envelope {
	return &Envelope{Type: TypeError, Code: string(code), Message: message}
}

// errorFrom maps err onto its wire envelope via the fault taxonomy.
func errorFrom(err error) *Envelope {
	return errorEnvelope(fault.KindOf(err), err.Error())
}

// resultEnvelope wraps one analysis result for the outbound stream. A
// null result keeps a nil payload and carries the node's error code.
func resultEnvelope(result datatypes.AnalysisResult) (*Envelope, error) {
	env := &Envelope{
		Type:   TypeAgentResult,
		Kind:   string(result.Kind),
		TurnID: result.TurnID,
		Code:   result.ErrorCode,
	}
	if !result.IsNull() {
		payload, err := json.Marshal(result.Payload)
		if err != nil {
			return nil, fault.Errorf(fault.KindFatal, "unencodable %s payload: %v", result.Kind, err)
		}
		env.Payload = payload
	}
	return env, nil
}
