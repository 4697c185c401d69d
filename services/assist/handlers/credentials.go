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

	"github.com/gin-gonic/gin"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/secrets"
)

// defaultSTUNServers are handed out even without a TURN deployment so
// peers on open networks can still gather candidates.
var defaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// ICEConfig describes the TURN deployment surfaced to clients. The
// credential stays sealed until a request needs it.
type ICEConfig struct {
	ServerURL  string
	Username   string
	Credential *secrets.Secret
}

// iceServer matches the RTCIceServer dictionary so the response can be
// passed straight into an RTCPeerConnection configuration.
type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TurnCredentials returns the ICE server list for a connecting client.
// Without a configured TURN server the list is STUN-only.
func TurnCredentials(cfg ICEConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		servers := []iceServer{{URLs: defaultSTUNServers}}

		if cfg.ServerURL != "" {
			server := iceServer{URLs: []string{cfg.ServerURL}, Username: cfg.Username}
			if !cfg.Credential.IsZero() {
				credential, err := cfg.Credential.Reveal()
				if err != nil {
					slog.Error("TURN credential unavailable", "error", err)
					c.JSON(http.StatusInternalServerError, gin.H{"error": "TURN credentials unavailable"})
					return
				}
				server.Credential = credential
			}
			servers = append(servers, server)
		}

		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	}
}
