// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/agent"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

// ClearCache drops semantic cache entries, all of them or one
// category's via the category query parameter.
func ClearCache(cache *vectorstore.SemanticCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		category := c.Query("category")
		cleared, err := cache.Clear(c.Request.Context(), category)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": cleared, "category": category})
	}
}

// customerContextRequest binds an identified customer and optional
// prior consultation summaries to a room's session.
type customerContextRequest struct {
	Customer datatypes.CustomerInfo `json:"customer"`
	History  []string               `json:"history,omitempty"`
}

// BindCustomerContext attaches CRM context to a room so the analysis
// prompt prefix carries it from the next turn on. The room's agent is
// created when the binding precedes the first transcript.
func BindCustomerContext(agents *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")

		var req customerContextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer context payload"})
			return
		}
		if req.Customer.CustomerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "customer.customer_id is required"})
			return
		}

		if err := agents.SetCustomerContext(room, req.Customer, req.History); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "room": room})
	}
}

// ResetSession clears a room's conversation state while the room stays
// open. Unknown rooms succeed as a no-op.
func ResetSession(agents *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		agents.Reset(room)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "room": room})
	}
}
