// Package agentboard is the public API for embedding the agentboard
// monitoring core: a typed client for an agent server, a process-wide
// resource store with live event-stream synchronization, and a session
// manager that ties both to view lifecycles.
//
//	app, err := agentboard.New(
//	    agentboard.WithLogger(logger),
//	    agentboard.WithVersion(version),
//	)
//	if err != nil { ... }
//	defer app.Close(context.Background())
//
//	app.Sessions().Enter(ctx, callID)
//	for range app.Store().Watch() { render(app.Store().CallEvents(callID)) }
//
// The import graph enforces a strict no-cycle rule: agentboard (root)
// imports internal/*, but internal/* never imports agentboard (root).
package agentboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cascadehq/agentboard/internal/backend"
	"github.com/cascadehq/agentboard/internal/config"
	"github.com/cascadehq/agentboard/internal/draft"
	"github.com/cascadehq/agentboard/internal/session"
	"github.com/cascadehq/agentboard/internal/store"
	"github.com/cascadehq/agentboard/internal/telemetry"
)

// App wires the agentboard subsystems. Construct with New; App has no
// public fields; use the accessor methods.
type App struct {
	cfg          config.Config
	client       *backend.Client
	store        *store.Store
	sessions     *session.Manager
	drafts       *draft.Store // nil when no draft DB is configured
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
}

// New initialises the monitoring core: loads configuration, initialises
// telemetry, and wires client, store, and session manager. It does not open
// any network connections; those happen lazily on fetch/subscribe.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg := o.cfg
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = &loaded
	}
	if o.serverURL != "" {
		cfg.ServerURL = o.serverURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	otelShutdown, err := telemetry.Init(context.Background(),
		cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:          cfg.ServerURL,
		APIKey:           cfg.APIKey,
		HTTPClient:       o.httpClient,
		Timeout:          cfg.RequestTimeout,
		StreamBufferSize: cfg.StreamBufferSize,
		Logger:           logger,
	})
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	st := store.New(store.Config{
		Dial: func(ctx context.Context, callID uuid.UUID) (store.StreamSource, error) {
			return client.Stream(ctx, callID)
		},
		Logger: logger,
	})

	sessions := session.New(session.Config{
		Store:    st,
		Fetcher:  client,
		StaleTTL: cfg.StaleTTL,
		Logger:   logger,
	})

	var drafts *draft.Store
	if cfg.DraftDBPath != "" {
		drafts, err = draft.Open(cfg.DraftDBPath)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, err
		}
	}

	return &App{
		cfg:          *cfg,
		client:       client,
		store:        st,
		sessions:     sessions,
		drafts:       drafts,
		otelShutdown: otelShutdown,
		logger:       logger,
	}, nil
}

// Client returns the typed agent-server client.
func (a *App) Client() *backend.Client { return a.client }

// Store returns the resource store.
func (a *App) Store() *store.Store { return a.store }

// Sessions returns the view-lifecycle session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Drafts returns the local draft store, or nil when AGENTBOARD_DRAFT_DB
// is unset.
func (a *App) Drafts() *draft.Store { return a.drafts }

// Config returns a copy of the resolved configuration.
func (a *App) Config() config.Config { return a.cfg }

// Close tears down live subscriptions, the draft store, and telemetry.
func (a *App) Close(ctx context.Context) error {
	for _, id := range a.store.ActiveSubscriptions() {
		a.store.UnsubscribeFromCall(id)
	}
	var firstErr error
	if a.drafts != nil {
		if err := a.drafts.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
