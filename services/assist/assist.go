// Copyright (C) 2025 Baro Gochi (dev@baro-gochi.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assist assembles the real-time consultation backend.
//
// # Description
//
// The package wires the full component stack: the signaling hub (rooms,
// peers, opaque WebRTC relay), per-room agents driving the analysis
// graph, the OpenAI-compatible chat gateway, the Weaviate vector store
// with its semantic cache, badger persistence, intent label config, and
// the idle-session reaper. New builds everything from a Config; Run
// serves HTTP until the context is cancelled, then shuts the stack down
// in dependency order.
//
// # Thread Safety
//
// A Service is safe for concurrent use after New returns. Run must be
// called at most once per instance; Close is idempotent.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/agent"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/chat"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/graph/nodes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/handlers"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/intents"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/middleware"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/observability"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/reaper"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/repository"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/routes"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/secrets"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/signal"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/telemetry"
	"github.com/baro-gochi/realtime-assist-agent-sub001/services/assist/vectorstore"
)

// Service is the assist backend lifecycle.
type Service interface {
	// Run starts the HTTP server and blocks until ctx is cancelled or
	// the server fails. Shutdown is performed before Run returns.
	Run(ctx context.Context) error

	// Router exposes the configured gin engine for integration tests.
	Router() *gin.Engine

	// Close releases every component. Idempotent; Run calls it on the
	// way out.
	Close() error
}

// Config holds the assist service configuration. Zero values take the
// defaults documented per field; cmd/assistd populates it from the
// environment.
type Config struct {
	// Port is the HTTP listen port. Default: 12310.
	Port int `validate:"min=0,max=65535"`

	// GinMode sets the gin framework mode: debug, release, or test.
	// Default: release.
	GinMode string `validate:"omitempty,oneof=debug release test"`

	// MaxConcurrentRequests caps concurrent analysis node executions
	// across all rooms (MAX_CONCURRENT_REQUESTS). Default: 8.
	MaxConcurrentRequests int `validate:"min=0"`

	// RequestTimeout bounds one whole analysis graph run
	// (REQUEST_TIMEOUT, seconds). Default: 30s.
	RequestTimeout time.Duration `validate:"min=0"`

	// RateLimitPerMinute bounds inbound frames per signaling
	// connection (RATE_LIMIT_PER_MINUTE). Default: 120.
	RateLimitPerMinute int `validate:"min=0"`

	// ChatBaseURL overrides the chat endpoint for OpenAI-compatible
	// servers (CHAT_BASE_URL). Empty uses api.openai.com.
	ChatBaseURL string

	// ChatModel is the completion model (CHAT_MODEL).
	// Default: gpt-4o-mini.
	ChatModel string

	// ChatAPIKey is the sealed CHAT_API_KEY. Required unless
	// ChatBaseURL points at a local server.
	ChatAPIKey *secrets.Secret

	// EmbeddingModel is the embedding model (EMBEDDING_MODEL).
	// Default: text-embedding-3-small.
	EmbeddingModel string

	// EmbeddingDim is the embedding vector width (EMBEDDING_DIM).
	// Default: 1536.
	EmbeddingDim int `validate:"min=0,max=8192"`

	// VectorDBURL is the Weaviate endpoint (VECTOR_DB_URL). Empty
	// runs retrieval in degraded mode: searches return empty results.
	VectorDBURL string

	// VectorCollection is the document collection name
	// (VECTOR_COLLECTION). The semantic cache class derives from it.
	// Default: AssistDocs.
	VectorCollection string

	// TurnServerURL, TurnUsername, and TurnCredential describe the
	// TURN deployment surfaced by GET /turn-credentials. All optional;
	// without a server the endpoint returns a STUN-only list.
	TurnServerURL  string
	TurnUsername   string
	TurnCredential *secrets.Secret

	// IntentConfigPath is the YAML intent label file (INTENT_CONFIG).
	// Empty or missing falls back to the compiled label set; present
	// files are hot-reloaded.
	IntentConfigPath string

	// DataDir is the BadgerDB directory for session persistence
	// (DATA_DIR). Empty keeps sessions in memory only.
	DataDir string

	// SessionIdleAfter is how long a session may sit idle before the
	// reaper closes it (SESSION_IDLE_TIMEOUT, seconds). Default: 30m.
	SessionIdleAfter time.Duration `validate:"min=0"`

	// SweepInterval is the reaper cadence. Default: 1m.
	SweepInterval time.Duration `validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges after defaults are applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.MaxConcurrentRequests == 0 {
		cfg.MaxConcurrentRequests = 8
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 120
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	if cfg.VectorCollection == "" {
		cfg.VectorCollection = "AssistDocs"
	}
	if cfg.SessionIdleAfter == 0 {
		cfg.SessionIdleAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	return cfg
}

// service implements Service.
type service struct {
	config  Config
	router  *gin.Engine
	hub     *signal.Hub
	agents  *agent.Manager
	sweeper *reaper.Reaper

	registry *intents.Registry
	repo     repository.Repository

	shutdownTelemetry func(context.Context) error
	closed            chan struct{}
}

// New builds the full component stack. Construction fails fast on a
// missing chat credential, an invalid config, or an unusable data
// directory; an unreachable vector backend only degrades retrieval.
func New(ctx context.Context, cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secrets.Init()

	s := &service{config: cfg, closed: make(chan struct{})}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.shutdownTelemetry = shutdownTelemetry

	metrics := observability.InitMetrics()

	inner, err := chat.NewOpenAIGateway(chat.OpenAIConfig{
		BaseURL:        cfg.ChatBaseURL,
		Model:          cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		APIKey:         cfg.ChatAPIKey,
		Timeout:        cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init chat gateway: %w", err)
	}
	gateway := chat.NewResilientGateway(inner, chat.DefaultRetryConfig(), metrics)

	store, err := vectorstore.NewWeaviateStore(ctx, vectorstore.WeaviateConfig{
		URL:          cfg.VectorDBURL,
		EmbeddingDim: cfg.EmbeddingDim,
	}, gateway, cfg.VectorCollection)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	cache := vectorstore.NewSemanticCache(store,
		vectorstore.CacheConfig{Collection: cfg.VectorCollection}, metrics)

	s.repo, err = repository.New(repository.Config{
		Path:     cfg.DataDir,
		InMemory: cfg.DataDir == "",
	})
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	s.registry, err = intents.NewRegistry(cfg.IntentConfigPath)
	if err != nil {
		return nil, fmt.Errorf("init intent labels: %w", err)
	}
	if err := s.registry.Watch(); err != nil {
		slog.Warn("intent config watch unavailable", "error", err)
	}

	analysisGraph, err := nodes.BuildAnalysisGraph(nodes.Config{
		Gateway:    gateway,
		Store:      store,
		Cache:      cache,
		Collection: cfg.VectorCollection,
	})
	if err != nil {
		return nil, fmt.Errorf("build analysis graph: %w", err)
	}

	var semaphore chan struct{}
	if cfg.MaxConcurrentRequests > 0 {
		semaphore = make(chan struct{}, cfg.MaxConcurrentRequests)
	}
	executor, err := graph.NewExecutor(analysisGraph, graph.ExecutorConfig{
		GraphTimeout: cfg.RequestTimeout,
		Semaphore:    semaphore,
	}, metrics)
	if err != nil {
		return nil, fmt.Errorf("init graph executor: %w", err)
	}

	s.hub = signal.NewHub(signal.Config{Metrics: metrics})
	s.agents, err = agent.NewManager(agent.Config{
		Executor:   executor,
		Publisher:  s.hub,
		Repository: s.repo,
		Labels:     s.registry,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("init agent manager: %w", err)
	}
	s.hub.AttachSink(s.agents)

	s.sweeper = reaper.New(s.agents, reaper.Config{
		Interval:  cfg.SweepInterval,
		IdleAfter: cfg.SessionIdleAfter,
	})

	s.initRouter(cache)

	ok = true
	return s, nil
}

// Run serves HTTP until ctx is cancelled or the listener fails, then
// tears the stack down: the listener stops accepting, the hub notifies
// and drops every peer, agents drain, and storage and telemetry flush.
func (s *service) Run(ctx context.Context) error {
	if err := s.sweeper.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("assist server listening",
		"port", s.config.Port,
		"vector_backend", s.config.VectorDBURL != "",
		"persistence", s.config.DataDir != "",
	)

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
		return s.Close()
	case err := <-errCh:
		closeErr := s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return closeErr
		}
		return errors.Join(err, closeErr)
	}
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close shuts components down in dependency order: signaling first so
// peers get a goodbye envelope, then agents, then storage, telemetry
// last. Idempotent.
func (s *service) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}

	var errs []error
	if s.hub != nil {
		s.hub.Close()
	}
	if s.sweeper != nil {
		errs = append(errs, s.sweeper.Stop())
	}
	if s.agents != nil {
		errs = append(errs, s.agents.Close())
	}
	if s.registry != nil {
		errs = append(errs, s.registry.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	if s.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}

func (s *service) initRouter(cache *vectorstore.SemanticCache) {
	gin.SetMode(s.config.GinMode)
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("assist-service"))

	routes.SetupRoutes(s.router, s.hub, s.agents, cache, s.sweeper,
		handlers.ICEConfig{
			ServerURL:  s.config.TurnServerURL,
			Username:   s.config.TurnUsername,
			Credential: s.config.TurnCredential,
		},
		middleware.NewRateLimit(s.config.RateLimitPerMinute),
	)
}

var _ Service = (*service)(nil)
