// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent runs per-room analysis workers over the conversation
// transcript.
//
// # Description
//
// One Agent per room. The signaling hub hands transcript turns to the
// agent's bounded mailbox; a single worker goroutine appends them to
// the session history in arrival order and, for customer turns, runs
// the analysis graph against a snapshot of the session. Results stream
// to room subscribers as each node finishes and are persisted
// write-behind. Turn ids are assigned at append time and deduplicate
// replays: a replayed id changes nothing.
//
// # Thread Safety
//
// Intake (OnNewTranscript, SetCustomerContext, Reset) may be called
// from any goroutine. Session state is owned by the worker; intake
// touches it only through the session's mutex.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/datatypes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/fault"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/intents"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/observability"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/repository"
)

var tracer = otel.Tracer("assist.agent")

// Publisher delivers analysis results to a room's subscribers. The
// signaling hub implements it; delivery must not block the caller.
type Publisher interface {
	PublishResult(room string, result datatypes.AnalysisResult)
}

// LabelSource supplies the intent label set active at run time.
// *intents.Registry implements it.
type LabelSource interface {
	Labels() []intents.Label
}

// Config carries the shared dependencies for room agents.
type Config struct {
	// Executor runs the analysis graph. Required.
	Executor *graph.Executor

	// Publisher receives each result as its node finishes. Optional;
	// nil discards results (persistence still applies).
	Publisher Publisher

	// Repository persists turns and results write-behind. Optional.
	Repository repository.Repository

	// Labels supplies the live intent label set. Optional; nil leaves
	// the graph on compiled defaults.
	Labels LabelSource

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *observability.Metrics

	// MailboxLimit bounds pending turns per room. Non-positive means
	// DefaultMailboxLimit.
	MailboxLimit int
}

// Agent owns one room's session state and its worker goroutine.
type Agent struct {
	room    string
	session *Session
	mailbox *Mailbox

	executor  *graph.Executor
	publisher Publisher
	repo      repository.Repository
	labels    LabelSource
	logger    *slog.Logger
	metrics   *observability.Metrics

	cancel context.CancelFunc
	done   chan struct{}

	lastActive atomicTime
}

// NewAgent creates the agent for room and starts its worker.
func NewAgent(room string, cfg Config) (*Agent, error) {
	if cfg.Executor == nil {
		return nil, errors.New("agent requires a graph executor")
	}
	if strings.TrimSpace(room) == "" {
		return nil, fault.Errorf(fault.KindBadRequest, "room name is empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		room:      room,
		session:   newSession(room),
		mailbox:   NewMailbox(room, cfg.MailboxLimit, cfg.Metrics),
		executor:  cfg.Executor,
		publisher: cfg.Publisher,
		repo:      cfg.Repository,
		labels:    cfg.Labels,
		logger:    logger.With("component", "agent", "room", room),
		metrics:   cfg.Metrics,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.lastActive.Store(time.Now())

	go a.run(ctx)
	return a, nil
}

// Room returns the room name the agent serves.
func (a *Agent) Room() string { return a.room }

// OnNewTranscript accepts one transcript turn for processing.
//
// Role must be valid and text non-empty. A turn id the session already
// appended is acknowledged as a no-op without consuming a mailbox
// slot. A full mailbox of customer turns rejects with an overloaded
// fault.
func (a *Agent) OnNewTranscript(turn datatypes.Turn) error {
	if !turn.Role.Valid() {
		return fault.Errorf(fault.KindBadRequest, "unknown speaker role %q", turn.Role)
	}
	if strings.TrimSpace(turn.Text) == "" {
		return fault.Errorf(fault.KindBadRequest, "empty transcript text")
	}
	if a.session.Seen(turn.Index) {
		a.logger.Debug("ignoring replayed turn", "turn", turn.Index)
		return nil
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	return a.mailbox.Push(turn)
}

// SetCustomerContext binds customer info and prior consultation history
// to the session, rebuilding the static prompt prefix when the binding
// changed.
func (a *Agent) SetCustomerContext(info datatypes.CustomerInfo, history []string) {
	if a.session.SetCustomerContext(info, history) {
		a.logger.Info("customer context bound",
			"customer", info.CustomerID,
			"history_entries", len(history),
		)
	}
}

// Reset clears the session state and prefix.
func (a *Agent) Reset() {
	a.session.Reset()
	a.logger.Info("session reset")
}

// StaticPrefix returns the session's active prompt prefix.
func (a *Agent) StaticPrefix() string {
	return a.session.Prefix()
}

// Pending returns the mailbox depth.
func (a *Agent) Pending() int {
	return a.mailbox.Len()
}

// LastActive returns when the agent last processed a turn.
func (a *Agent) LastActive() time.Time {
	return a.lastActive.Load()
}

// Close stops the worker and rejects further pushes. Queued turns are
// abandoned; the hub's at-least-once producers redeliver into a fresh
// agent if the room revives. Blocks until the worker exits.
func (a *Agent) Close() {
	a.mailbox.Close()
	a.cancel()
	<-a.done
}

// run is the worker loop: strictly FIFO, one turn at a time.
func (a *Agent) run(ctx context.Context) {
	defer close(a.done)
	for {
		turn, ok := a.mailbox.Pop(ctx)
		if !ok {
			return
		}
		a.process(ctx, turn)
	}
}

// process appends one turn and, for customer turns, runs the graph.
func (a *Agent) process(ctx context.Context, turn datatypes.Turn) {
	a.lastActive.Store(time.Now())

	appended, ok := a.session.Append(turn)
	if !ok {
		a.logger.Debug("dropping replayed turn", "turn", turn.Index)
		return
	}
	a.saveTurn(ctx, appended)

	if appended.Role != datatypes.RoleCustomer {
		// Agent utterances extend the history for later summaries but
		// never trigger re-analysis.
		return
	}

	ctx, span := tracer.Start(ctx, "agent.analyze")
	span.SetAttributes(
		attribute.String("room", a.room),
		attribute.Int("turn", appended.Index),
	)
	defer span.End()

	state := a.session.Snapshot(appended.Index, a.labelSet())
	start := time.Now()

	out, err := a.executor.Run(ctx, state, a.emit)
	switch {
	case err == nil:
	case errors.Is(err, graph.ErrDuplicateTurn):
		a.logger.Debug("turn already analyzed", "turn", appended.Index)
		return
	case errors.Is(err, context.Canceled):
		return
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		a.logger.Error("analysis run failed",
			"turn", appended.Index,
			"error", err,
		)
		if a.metrics != nil {
			a.metrics.RecordError(observability.ComponentAgent, string(fault.KindOf(err)))
		}
		return
	}

	a.session.CompleteRun(appended.Index, out)
	for _, res := range out.OrderedResults() {
		a.saveResult(ctx, res)
	}
	a.logger.Info("turn analyzed",
		"turn", appended.Index,
		"results", len(out.Results),
		"duration", time.Since(start),
	)
}

// emit streams one result to room subscribers the moment its node
// finishes. Runs on node goroutines; the publisher must not block.
func (a *Agent) emit(result datatypes.AnalysisResult) {
	if a.publisher != nil {
		a.publisher.PublishResult(a.room, result)
	}
}

func (a *Agent) labelSet() []intents.Label {
	if a.labels == nil {
		return nil
	}
	return a.labels.Labels()
}

func (a *Agent) saveTurn(ctx context.Context, turn datatypes.Turn) {
	if a.repo == nil {
		return
	}
	if err := a.repo.SaveTurn(ctx, a.room, turn); err != nil {
		a.logger.Warn("turn persistence failed", "turn", turn.Index, "error", err)
	}
}

func (a *Agent) saveResult(ctx context.Context, result datatypes.AnalysisResult) {
	if a.repo == nil {
		return
	}
	if err := a.repo.SaveResult(ctx, result); err != nil {
		a.logger.Warn("result persistence failed",
			"turn", result.TurnID,
			"kind", string(result.Kind),
			"error", err,
		)
	}
}

// atomicTime is a mutex-free last-active stamp.
type atomicTime struct {
	ns atomic.Int64
}

func (t *atomicTime) Store(v time.Time) { t.ns.Store(v.UnixNano()) }
func (t *atomicTime) Load() time.Time   { return time.Unix(0, t.ns.Load()) }
