// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the assist service.
//
// # Description
//
// Metrics cover the signaling hub (rooms, peers, envelopes), the room
// agents (mailbox depth, drops), the analysis graph (node duration,
// results by kind), the chat gateway (call latency), and the semantic
// cache (hits/misses). Exposed on /metrics for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "assist"

// Subsystem names
const (
	hubSubsystem     = "hub"
	agentSubsystem   = "agent"
	graphSubsystem   = "graph"
	gatewaySubsystem = "gateway"
	cacheSubsystem   = "cache"
)

// Metrics holds all Prometheus instruments for the assist service.
//
// Initialize once at startup via InitMetrics(); subsequent calls return
// the same instance so tests can share a process-wide registry.
type Metrics struct {
	// RoomsActive tracks the number of live rooms.
	RoomsActive prometheus.Gauge

	// PeersActive tracks connected peers by room.
	// Labels: room
	PeersActive *prometheus.GaugeVec

	// EnvelopesTotal counts envelopes by type and direction.
	// Labels: type (join, offer, transcript, ...), direction (inbound, outbound)
	EnvelopesTotal *prometheus.CounterVec

	// MailboxDepth tracks pending turns per room agent.
	// Labels: room
	MailboxDepth *prometheus.GaugeVec

	// MailboxDropsTotal counts turns dropped by the overflow policy.
	// Labels: reason (stale_agent_turn, overloaded)
	MailboxDropsTotal *prometheus.CounterVec

	// NodeDurationSeconds measures analysis node execution time.
	// Labels: node, status (success, error)
	NodeDurationSeconds *prometheus.HistogramVec

	// ResultsTotal counts emitted analysis results by kind and status.
	// Labels: kind (summary, intent, ...), status (ok, null)
	ResultsTotal *prometheus.CounterVec

	// GatewayCallSeconds measures chat gateway call latency.
	// Labels: op (complete, stream, embed), status (success, error)
	GatewayCallSeconds *prometheus.HistogramVec

	// CacheLookupsTotal counts semantic cache lookups.
	// Labels: category, outcome (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// ErrorsTotal counts wire-visible errors by kind.
	// Labels: component (hub, agent, graph, gateway, store), code
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *Metrics

var initOnce sync.Once

// InitMetrics initializes and registers all instruments exactly once.
//
// Safe to call from multiple packages; the first call wins and later
// calls return the existing instance.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		DefaultMetrics = &Metrics{
			RoomsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: hubSubsystem,
					Name:      "rooms_active",
					Help:      "Number of rooms currently alive",
				},
			),

			PeersActive: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: hubSubsystem,
					Name:      "peers_active",
					Help:      "Number of connected peers per room",
				},
				[]string{"room"},
			),

			EnvelopesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: hubSubsystem,
					Name:      "envelopes_total",
					Help:      "Envelopes processed by type and direction",
				},
				[]string{"type", "direction"},
			),

			MailboxDepth: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "mailbox_depth",
					Help:      "Pending transcript turns per room agent",
				},
				[]string{"room"},
			),

			MailboxDropsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "mailbox_drops_total",
					Help:      "Turns dropped by the mailbox overflow policy",
				},
				[]string{"reason"},
			),

			NodeDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: graphSubsystem,
					Name:      "node_duration_seconds",
					Help:      "Analysis node execution time in seconds",
					Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
				},
				[]string{"node", "status"},
			),

			ResultsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: graphSubsystem,
					Name:      "results_total",
					Help:      "Analysis results emitted by kind and status",
				},
				[]string{"kind", "status"},
			),

			GatewayCallSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "call_seconds",
					Help:      "Chat gateway call latency in seconds",
					Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
				},
				[]string{"op", "status"},
			),

			CacheLookupsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: cacheSubsystem,
					Name:      "lookups_total",
					Help:      "Semantic cache lookups by category and outcome",
				},
				[]string{"category", "outcome"},
			),

			ErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: hubSubsystem,
					Name:      "errors_total",
					Help:      "Wire-visible errors by component and code",
				},
				[]string{"component", "code"},
			),
		}
	})

	return DefaultMetrics
}

// =============================================================================
// Component Names
// =============================================================================

// Component labels error metrics by origin.
type Component string

const (
	// ComponentHub is the signaling hub.
	ComponentHub Component = "hub"

	// ComponentAgent is the per-room agent.
	ComponentAgent Component = "agent"

	// ComponentGraph is the analysis graph runtime.
	ComponentGraph Component = "graph"

	// ComponentGateway is the chat model gateway.
	ComponentGateway Component = "gateway"

	// ComponentStore is the vector store.
	ComponentStore Component = "store"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordEnvelope counts one processed envelope.
func (m *Metrics) RecordEnvelope(envelopeType, direction string) {
	m.EnvelopesTotal.WithLabelValues(envelopeType, direction).Inc()
}

// RecordError counts one wire-visible error.
func (m *Metrics) RecordError(component Component, code string) {
	m.ErrorsTotal.WithLabelValues(string(component), code).Inc()
}

// RecordNodeDuration records one node execution.
func (m *Metrics) RecordNodeDuration(node string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.NodeDurationSeconds.WithLabelValues(node, status).Observe(seconds)
}

// RecordResult counts one emitted analysis result.
func (m *Metrics) RecordResult(kind string, null bool) {
	status := "ok"
	if null {
		status = "null"
	}
	m.ResultsTotal.WithLabelValues(kind, status).Inc()
}

// RecordGatewayCall records one chat gateway call.
func (m *Metrics) RecordGatewayCall(op string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.GatewayCallSeconds.WithLabelValues(op, status).Observe(seconds)
}

// RecordCacheLookup counts one semantic cache lookup.
func (m *Metrics) RecordCacheLookup(category string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(category, outcome).Inc()
}

// SetMailboxDepth updates the pending-turn gauge for a room.
func (m *Metrics) SetMailboxDepth(room string, depth int) {
	m.MailboxDepth.WithLabelValues(room).Set(float64(depth))
}

// RecordMailboxDrop counts one dropped turn.
func (m *Metrics) RecordMailboxDrop(reason string) {
	m.MailboxDropsTotal.WithLabelValues(reason).Inc()
}

// RoomOpened adjusts gauges when a room is created.
func (m *Metrics) RoomOpened() {
	m.RoomsActive.Inc()
}

// PeerJoined adjusts the per-room peer gauge upward.
func (m *Metrics) PeerJoined(room string) {
	m.PeersActive.WithLabelValues(room).Inc()
}

// PeerLeft adjusts the per-room peer gauge downward.
func (m *Metrics) PeerLeft(room string) {
	m.PeersActive.WithLabelValues(room).Dec()
}

// RoomClosed adjusts gauges when a room is destroyed.
func (m *Metrics) RoomClosed(room string) {
	m.RoomsActive.Dec()
	m.PeersActive.DeleteLabelValues(room)
	m.MailboxDepth.DeleteLabelValues(room)
}
