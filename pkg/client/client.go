// Package client assembles the chat SDK from a single configuration: durable
// store, API transport, session manager, continuity tracker, exchange engine
// and history synchronizer, with logging and telemetry wired through.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cexll/chatsdk-go/pkg/api"
	"github.com/cexll/chatsdk-go/pkg/auth"
	"github.com/cexll/chatsdk-go/pkg/config"
	"github.com/cexll/chatsdk-go/pkg/conversation"
	"github.com/cexll/chatsdk-go/pkg/history"
	"github.com/cexll/chatsdk-go/pkg/kv"
	"github.com/cexll/chatsdk-go/pkg/telemetry"
)

// Client bundles the wired components. Fields are exported so presentation
// code can call straight into the piece it needs.
type Client struct {
	Auth    *auth.Manager
	Engine  *conversation.Engine
	Tracker *conversation.Tracker
	History *history.Synchronizer
	API     *api.Client
	Store   kv.Store

	log *zap.Logger
	tel *telemetry.Manager
}

// New builds a Client from cfg. The continuity tracker is primed from the
// durable store so a restarted client resumes its conversation thread.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	tel, err := newTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	apiClient, err := api.NewClient(cfg.APIBaseURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		api.WithLogger(log.Named("api")),
		api.WithTelemetry(tel),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	manager := auth.NewManager(apiClient, store, auth.WithLogger(log.Named("auth")))
	tracker := conversation.NewTracker(store, conversation.WithTrackerLogger(log.Named("conversation")))
	tracker.Load(ctx)
	engine := conversation.NewEngine(apiClient, tracker, manager,
		conversation.WithEngineLogger(log.Named("conversation")))
	sync := history.NewSynchronizer(apiClient, manager, history.WithLogger(log.Named("history")))

	return &Client{
		Auth:    manager,
		Engine:  engine,
		Tracker: tracker,
		History: sync,
		API:     apiClient,
		Store:   store,
		log:     log,
		tel:     tel,
	}, nil
}

// Close tears the client down: the engine stops accepting late responses,
// the store closes, telemetry flushes.
func (c *Client) Close(ctx context.Context) error {
	c.Engine.Close()
	var result error
	if err := c.Store.Close(); err != nil {
		result = errors.Join(result, err)
	}
	if err := c.tel.Shutdown(ctx); err != nil {
		result = errors.Join(result, err)
	}
	_ = c.log.Sync()
	return result
}

func openStore(cfg config.StorageConfig) (kv.Store, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return kv.NewMemoryStore(), nil
	case config.StorageFile:
		return kv.NewFileStore(cfg.Path), nil
	case config.StorageSQLite:
		return kv.OpenSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("client: unknown storage backend %q", cfg.Backend)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("client: parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("client: build logger: %w", err)
	}
	return log, nil
}

func newTelemetry(ctx context.Context, cfg config.TelemetryConfig) (*telemetry.Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tp, err := telemetry.NewOTLPTracerProvider(ctx, telemetry.ExporterConfig{
		Endpoint: cfg.Endpoint,
		Insecure: cfg.Insecure,
	}, nil)
	if err != nil {
		return nil, err
	}
	return telemetry.NewManager(telemetry.Config{
		ServiceName:    "chatsdk-go",
		TracerProvider: tp,
	})
}
