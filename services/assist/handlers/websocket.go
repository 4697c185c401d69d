// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/middleware"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/signal"
)

const (
	// writeWait bounds a single frame write to a peer.
	writeWait = 10 * time.Second

	// pongWait is how long a peer may stay silent before the read side
	// gives up on it. Pings go out at pingPeriod to keep healthy peers
	// inside the window.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxFrameBytes bounds one inbound frame. Signaling envelopes are
	// small; the ceiling leaves room for verbose SDP bodies and long
	// transcripts without admitting arbitrarily large payloads.
	maxFrameBytes = 128 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleSignalSocket upgrades the connection and runs the peer's read
// loop: each inbound frame passes the connection's rate limiter, is
// decoded, and is dispatched to the hub. Outbound frames are drained by
// a dedicated write pump so a stalled socket never blocks dispatch.
func HandleSignalSocket(hub *signal.Hub, limits *middleware.RateLimit) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}

		peer := signal.NewPeer()
		slog.Info("signaling client connected", "peer", peer.ID())

		go writePump(ws, peer)
		defer func() {
			hub.Disconnect(peer)
			_ = ws.Close()
		}()

		limiter := limits.Limiter()
		ws.SetReadLimit(maxFrameBytes)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})

		ctx := c.Request.Context()
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				slog.Info("signaling client disconnected", "peer", peer.ID(), "error", err.Error())
				return
			}

			if !limiter.Allow() {
				hub.Reject(peer, fault.Errorf(fault.KindOverloaded, "inbound message rate exceeded"))
				continue
			}

			env, err := signal.Decode(frame)
			if err != nil {
				hub.Reject(peer, err)
				continue
			}
			hub.Dispatch(ctx, peer, env)
		}
	}
}

// writePump owns all writes on the connection: queued frames, pings,
// and the final close frame. It exits when the peer is shut down or
// the socket breaks, closing the connection either way so the read
// loop unblocks.
func writePump(ws *websocket.Conn, peer *signal.Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-peer.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-peer.Done():
			// Flush anything queued before the shutdown envelope so the
			// client sees why it was dropped.
			for {
				select {
				case frame := <-peer.Outbound():
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
