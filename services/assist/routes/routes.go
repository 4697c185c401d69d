// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the assist service's HTTP surface onto a gin
// router.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/agent"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/handlers"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/middleware"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/reaper"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/signal"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/telemetry"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

// SetupRoutes registers every endpoint.
func SetupRoutes(router *gin.Engine, hub *signal.Hub, agents *agent.Manager,
	cache *vectorstore.SemanticCache, sweeper *reaper.Reaper,
	ice handlers.ICEConfig, limits *middleware.RateLimit) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	// Signaling surface used by the consultation clients.
	router.GET("/ws", handlers.HandleSignalSocket(hub, limits))
	router.GET("/rooms", handlers.ListRooms(hub))
	router.GET("/turn-credentials", handlers.TurnCredentials(ice))

	// Administration endpoints.
	router.POST("/cache/clear", handlers.ClearCache(cache))
	router.POST("/sessions/sweep", handlers.SweepSessions(sweeper))
	rooms := router.Group("/rooms")
	{
		rooms.POST("/:room/context", handlers.BindCustomerContext(agents))
		rooms.POST("/:room/reset", handlers.ResetSession(agents))
	}
}
