// Package session bridges view lifecycles to the resource store: entering a
// call view triggers cache-first background fetches and a live subscription,
// leaving it releases the subscription while keeping cached data so a
// returning view renders instantly.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cascadehq/agentboard/internal/backend"
	"github.com/cascadehq/agentboard/internal/model"
	"github.com/cascadehq/agentboard/internal/store"
)

// Fetcher is the slice of the backend client the session manager needs.
type Fetcher interface {
	ListAgents(ctx context.Context) (map[string]model.Agent, error)
	GetCall(ctx context.Context, id uuid.UUID) (*model.CallSummary, error)
	ListCallEvents(ctx context.Context, id uuid.UUID) ([]model.CallEvent, error)
}

// Config configures a Manager.
type Config struct {
	Store   *store.Store
	Fetcher Fetcher

	// StaleTTL is how long cached data satisfies a view entry without a
	// refetch. Zero means always refetch.
	StaleTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager drives store synchronization across concurrently mounted views.
// Views are reference-counted per call id: the subscription opens on the
// first Enter and closes on the last Leave.
type Manager struct {
	store    *store.Store
	fetcher  Fetcher
	staleTTL time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	mounts map[uuid.UUID]int
}

// New creates a Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		staleTTL: cfg.StaleTTL,
		logger:   logger,
		mounts:   make(map[uuid.UUID]int),
	}
}

// Enter registers a mounted view for the call and makes its data live:
// stale or missing summary and event history are fetched in the background,
// and a subscription is opened unless the known status is already terminal.
// Enter never blocks on network I/O; results land in the store reactively
// and failures are recorded in resource metadata, not returned.
func (m *Manager) Enter(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	m.mounts[id]++
	m.mu.Unlock()

	call, callMeta, cached := m.store.Call(id)

	if !cached || !callMeta.Fresh(m.staleTTL) {
		m.store.SetCallLoading(id)
		go m.fetchCall(ctx, id)
	}
	if !m.store.EventsMeta(id).Fresh(m.staleTTL) {
		m.store.SetEventsLoading(id)
		go m.fetchEvents(ctx, id)
	}

	// Subscribe while the summary may still be loading: a call we know
	// nothing about could be running right now. The store itself refuses
	// terminal calls and duplicate subscriptions.
	if !cached || !call.Status.Terminal() {
		go m.subscribe(ctx, id)
	}
}

// Leave unregisters a mounted view. The last Leave for a call closes its
// subscription; cached summaries and events are retained.
func (m *Manager) Leave(id uuid.UUID) {
	m.mu.Lock()
	last := false
	if m.mounts[id] > 0 {
		m.mounts[id]--
		if m.mounts[id] == 0 {
			delete(m.mounts, id)
			last = true
		}
	}
	m.mu.Unlock()

	if last {
		m.store.UnsubscribeFromCall(id)
	}
}

// Resubscribe reopens the live stream for a still-mounted, non-terminal
// call, e.g. after an unexpected socket closure when the consumer's policy
// allows it. A no-op when the view is no longer mounted.
func (m *Manager) Resubscribe(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	mounted := m.mounts[id] > 0
	m.mu.Unlock()
	if !mounted {
		return
	}
	go m.subscribe(ctx, id)
}

// RefreshAgents fetches the agent collection into the store.
func (m *Manager) RefreshAgents(ctx context.Context) error {
	_, err, _ := m.group.Do("agents", func() (any, error) {
		agents, err := m.fetcher.ListAgents(ctx)
		if err != nil {
			return nil, err
		}
		m.store.SetAgents(agents)
		return nil, nil
	})
	return err
}

// fetchCall loads one call summary; concurrent fetches for the same id
// collapse into a single request.
func (m *Manager) fetchCall(ctx context.Context, id uuid.UUID) {
	_, _, _ = m.group.Do("call:"+id.String(), func() (any, error) {
		call, err := m.fetcher.GetCall(ctx, id)
		if err != nil {
			m.logger.Debug("call fetch failed", "call_id", id, "error", err)
			m.store.SetCallError(id, err, backend.IsNotFound(err))
			return nil, nil
		}
		m.store.UpdateCall(*call)
		return nil, nil
	})
}

func (m *Manager) fetchEvents(ctx context.Context, id uuid.UUID) {
	_, _, _ = m.group.Do("events:"+id.String(), func() (any, error) {
		events, err := m.fetcher.ListCallEvents(ctx, id)
		if err != nil {
			m.logger.Debug("event history fetch failed", "call_id", id, "error", err)
			m.store.SetEventsError(id, err, backend.IsNotFound(err))
			return nil, nil
		}
		m.store.SetCallEvents(id, events)
		return nil, nil
	})
}

func (m *Manager) subscribe(ctx context.Context, id uuid.UUID) {
	if err := m.store.SubscribeToCall(ctx, id); err != nil {
		m.logger.Warn("subscribe failed", "call_id", id, "error", err)
	}
}
