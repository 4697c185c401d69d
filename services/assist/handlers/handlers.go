// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP and WebSocket surface of the
// assist service.
//
// # Description
//
// Each handler is a constructor taking its dependencies and returning a
// gin.HandlerFunc, so routes.SetupRoutes can wire the surface without
// package-level state. The WebSocket handler bridges gorilla/websocket
// connections onto the signaling hub; everything else is plain JSON
// over HTTP.
//
// # Thread Safety
//
// Handlers hold no mutable state of their own; concurrency guarantees
// come from the components they call.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/reaper"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/signal"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRooms returns the live room roster.
func ListRooms(hub *signal.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Snapshot())
	}
}

// SweepSessions triggers an immediate idle-session sweep.
func SweepSessions(r *reaper.Reaper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reaped": r.RunNow()})
	}
}

// statusFor maps an error's fault kind to an HTTP status.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindBadRequest:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindOverloaded:
		return http.StatusTooManyRequests
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
