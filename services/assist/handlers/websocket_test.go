// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/middleware"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/signal"
)

func newSocketServer(t *testing.T, limits *middleware.RateLimit) *httptest.Server {
	t.Helper()
	hub := signal.NewHub(signal.Config{})
	t.Cleanup(hub.Close)

	router := gin.New()
	router.GET("/ws", HandleSignalSocket(hub, limits))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialSocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnv(t *testing.T, conn *websocket.Conn, env any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

func readEnv(t *testing.T, conn *websocket.Conn) *signal.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env signal.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return &env
}

func joinSocket(t *testing.T, conn *websocket.Conn, room, nickname string) string {
	t.Helper()
	sendEnv(t, conn, map[string]any{"type": "join", "room": room, "nickname": nickname})
	env := readEnv(t, conn)
	require.Equal(t, signal.TypeJoined, env.Type)
	require.NotEmpty(t, env.PeerID)
	return env.PeerID
}

func TestSignalSocket_JoinRosterAndPeerJoined(t *testing.T) {
	srv := newSocketServer(t, middleware.NewRateLimit(0))

	a := dialSocket(t, srv)
	aID := joinSocket(t, a, "consult-1", "민지")

	b := dialSocket(t, srv)
	sendEnv(t, b, map[string]any{"type": "join", "room": "consult-1", "nickname": "현우"})

	joined := readEnv(t, b)
	require.Equal(t, signal.TypeJoined, joined.Type)
	require.Len(t, joined.Peers, 1)
	assert.Equal(t, aID, joined.Peers[0].PeerID)
	assert.Equal(t, "민지", joined.Peers[0].Nickname)

	notice := readEnv(t, a)
	assert.Equal(t, signal.TypePeerJoined, notice.Type)
	assert.Equal(t, joined.PeerID, notice.PeerID)
	assert.Equal(t, "현우", notice.Nickname)
}

func TestSignalSocket_OfferForwardedVerbatim(t *testing.T) {
	srv := newSocketServer(t, middleware.NewRateLimit(0))

	a := dialSocket(t, srv)
	aID := joinSocket(t, a, "consult-2", "민지")
	b := dialSocket(t, srv)
	sendEnv(t, b, map[string]any{"type": "join", "room": "consult-2", "nickname": "현우"})
	joined := readEnv(t, b)
	bID := joined.PeerID
	readEnv(t, a) // a's peer-joined notice

	payload := `{"sdp":"v=0 o=- 4611731 2 IN IP4 127.0.0.1","type":"offer"}`
	frame := `{"type":"offer","to":"` + bID + `","payload":` + payload + `}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(frame)))

	offer := readEnv(t, b)
	assert.Equal(t, signal.TypeOffer, offer.Type)
	assert.Equal(t, aID, offer.From, "relay must stamp the sender id")
	assert.Equal(t, payload, string(offer.Payload), "payload must arrive byte-equal")
}

func TestSignalSocket_BadFramesGetErrorEnvelopes(t *testing.T) {
	srv := newSocketServer(t, middleware.NewRateLimit(0))
	conn := dialSocket(t, srv)

	// Not JSON at all.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not-json")))
	env := readEnv(t, conn)
	assert.Equal(t, signal.TypeError, env.Type)
	assert.Equal(t, string(fault.KindBadRequest), env.Code)

	// Join without a room.
	sendEnv(t, conn, map[string]any{"type": "join", "nickname": "민지"})
	env = readEnv(t, conn)
	assert.Equal(t, signal.TypeError, env.Type)
	assert.Equal(t, string(fault.KindBadRequest), env.Code)

	// The connection survives both rejections.
	joinSocket(t, conn, "consult-3", "민지")
}

func TestSignalSocket_RateLimitRejects(t *testing.T) {
	// 6/min refills far too slowly to matter in-test; only the burst
	// of 5 frames is available.
	srv := newSocketServer(t, middleware.NewRateLimit(6))
	conn := dialSocket(t, srv)

	joinSocket(t, conn, "consult-4", "민지")

	for i := 0; i < 8; i++ {
		sendEnv(t, conn, map[string]any{"type": "offer", "to": "nobody", "payload": map[string]any{"i": i}})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no overloaded rejection seen")
		env := readEnv(t, conn)
		require.Equal(t, signal.TypeError, env.Type)
		if env.Code == string(fault.KindOverloaded) {
			return
		}
		// Frames inside the burst bounce off the unknown target instead.
		require.Equal(t, string(fault.KindNotFound), env.Code)
	}
}

func TestSignalSocket_CloseBroadcastsPeerLeft(t *testing.T) {
	srv := newSocketServer(t, middleware.NewRateLimit(0))

	a := dialSocket(t, srv)
	joinSocket(t, a, "consult-5", "민지")
	b := dialSocket(t, srv)
	sendEnv(t, b, map[string]any{"type": "join", "room": "consult-5", "nickname": "현우"})
	joined := readEnv(t, b)
	readEnv(t, a) // peer-joined

	require.NoError(t, b.Close())

	left := readEnv(t, a)
	assert.Equal(t, signal.TypePeerLeft, left.Type)
	assert.Equal(t, joined.PeerID, left.PeerID)
}
