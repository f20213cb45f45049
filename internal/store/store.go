// Package store is the single source of truth for fetched and streamed
// agent-server data. It holds three resource collections (agents, call
// summaries, per-call event lists), each paired with fetch metadata, plus
// the registry of live event-stream subscriptions.
//
// A Store is an explicit injected dependency, not a package singleton;
// tests construct as many independent instances as they need. All mutations
// are atomic under one mutex, so a read never observes partial state, and
// per-call data is independently keyed so concurrent subscriptions to
// different calls do not interfere.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/cascadehq/agentboard/internal/model"
	"github.com/cascadehq/agentboard/internal/telemetry"
)

// StreamSource is the consumer-facing contract of a live per-call
// subscription. *backend.Subscription satisfies it; tests substitute fakes.
type StreamSource interface {
	Events() <-chan model.CallEvent
	Errors() <-chan model.StreamError
	Done() <-chan struct{}
	Close()
}

// DialFunc opens a live subscription for one call.
type DialFunc func(ctx context.Context, callID uuid.UUID) (StreamSource, error)

// Config configures a Store.
type Config struct {
	// Dial opens live subscriptions. Required for SubscribeToCall.
	Dial DialFunc

	// Logger receives subscription lifecycle and stream error diagnostics.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// subscription is the registry entry for one call's live stream. src is nil
// while the dial is still in flight; the entry's presence in the map is what
// makes SubscribeToCall idempotent during that window.
type subscription struct {
	src StreamSource
}

// Store holds the client-side resource cache. Construct with New.
type Store struct {
	dial   DialFunc
	logger *slog.Logger

	mu         sync.Mutex
	agents     map[string]model.Agent
	agentMeta  map[string]Meta
	calls      map[uuid.UUID]model.CallSummary
	callMeta   map[uuid.UUID]Meta
	events     map[uuid.UUID][]model.CallEvent
	eventsMeta map[uuid.UUID]Meta
	subs       map[uuid.UUID]*subscription
	watchers   map[chan struct{}]struct{}

	eventsMerged atomic.Int64
}

// New creates an empty Store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dial:       cfg.Dial,
		logger:     logger,
		agents:     make(map[string]model.Agent),
		agentMeta:  make(map[string]Meta),
		calls:      make(map[uuid.UUID]model.CallSummary),
		callMeta:   make(map[uuid.UUID]Meta),
		events:     make(map[uuid.UUID][]model.CallEvent),
		eventsMeta: make(map[uuid.UUID]Meta),
		subs:       make(map[uuid.UUID]*subscription),
		watchers:   make(map[chan struct{}]struct{}),
	}
	s.registerMetrics()
	return s
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// SetAgents replaces the agent collection wholesale and marks every included
// agent as loaded now.
func (s *Store) SetAgents(agents map[string]model.Agent) {
	s.mu.Lock()
	s.agents = make(map[string]model.Agent, len(agents))
	for name, agent := range agents {
		s.agents[name] = agent
		s.agentMeta[name] = loadedMeta()
	}
	s.mu.Unlock()
	s.notify()
}

// SetAgentError marks one agent's metadata as failed. Cached agent data, if
// any, stays visible.
func (s *Store) SetAgentError(name string, err error, notFound bool) {
	s.mu.Lock()
	meta := s.agentMeta[name]
	meta.Loading = false
	meta.Err = err.Error()
	meta.NotFound = notFound
	s.agentMeta[name] = meta
	s.mu.Unlock()
	s.notify()
}

// Agents returns a copy of the agent collection.
func (s *Store) Agents() map[string]model.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Agent, len(s.agents))
	for name, agent := range s.agents {
		out[name] = agent
	}
	return out
}

// Agent returns one agent and its metadata.
func (s *Store) Agent(name string) (model.Agent, Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[name]
	return agent, s.agentMeta[name], ok
}

// ---------------------------------------------------------------------------
// Call summaries
// ---------------------------------------------------------------------------

// UpdateCall upserts one call summary by id and marks it loaded. Callable
// from fetch completion and from live status-change handling alike. If the
// new status is terminal, any live subscription for the call is closed.
func (s *Store) UpdateCall(call model.CallSummary) {
	s.mu.Lock()
	s.calls[call.ID] = call
	s.callMeta[call.ID] = loadedMeta()
	if call.Status.Terminal() {
		s.unsubscribeLocked(call.ID)
	}
	s.mu.Unlock()
	s.notify()
}

// SetCallLoading marks a call's summary as being fetched.
func (s *Store) SetCallLoading(id uuid.UUID) {
	s.mu.Lock()
	meta := s.callMeta[id]
	meta.Loading = true
	s.callMeta[id] = meta
	s.mu.Unlock()
	s.notify()
}

// SetCallError records a summary fetch failure. Metadata only; cached data
// survives.
func (s *Store) SetCallError(id uuid.UUID, err error, notFound bool) {
	s.mu.Lock()
	meta := s.callMeta[id]
	meta.Loading = false
	meta.Err = err.Error()
	meta.NotFound = notFound
	s.callMeta[id] = meta
	s.mu.Unlock()
	s.notify()
}

// Call returns one call summary and its metadata.
func (s *Store) Call(id uuid.UUID) (model.CallSummary, Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	return call, s.callMeta[id], ok
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// AddEvent upserts one event into its call's list, keyed by event id, and
// keeps the list sorted by timestamp (sequence, then id, as tie-breaks).
// Applying the same event twice yields the same list as applying it once;
// on conflicting payloads the last write wins.
func (s *Store) AddEvent(ev model.CallEvent) {
	s.mu.Lock()
	s.mergeEventsLocked(ev.CallID, []model.CallEvent{ev})
	s.mu.Unlock()
	s.notify()
}

// SetCallEvents bulk-merges a fetched snapshot into the existing list using
// the same upsert-by-id rule as AddEvent, so a late snapshot can never erase
// events already delivered live. Marks the event list loaded.
func (s *Store) SetCallEvents(id uuid.UUID, events []model.CallEvent) {
	s.mu.Lock()
	s.mergeEventsLocked(id, events)
	s.eventsMeta[id] = loadedMeta()
	s.mu.Unlock()
	s.notify()
}

// SetEventsLoading marks a call's event history as being fetched.
func (s *Store) SetEventsLoading(id uuid.UUID) {
	s.mu.Lock()
	meta := s.eventsMeta[id]
	meta.Loading = true
	s.eventsMeta[id] = meta
	s.mu.Unlock()
	s.notify()
}

// SetEventsError records an event history fetch failure.
func (s *Store) SetEventsError(id uuid.UUID, err error, notFound bool) {
	s.mu.Lock()
	meta := s.eventsMeta[id]
	meta.Loading = false
	meta.Err = err.Error()
	meta.NotFound = notFound
	s.eventsMeta[id] = meta
	s.mu.Unlock()
	s.notify()
}

// CallEvents returns a copy of a call's event list, sorted ascending by
// timestamp. Returns an empty slice (never nil) when the call is unknown.
func (s *Store) CallEvents(id uuid.UUID) []model.CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CallEvent, len(s.events[id]))
	copy(out, s.events[id])
	return out
}

// EventsMeta returns the fetch metadata of a call's event list.
func (s *Store) EventsMeta(id uuid.UUID) Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsMeta[id]
}

func (s *Store) mergeEventsLocked(id uuid.UUID, incoming []model.CallEvent) {
	list := s.events[id]
	for _, ev := range incoming {
		replaced := false
		for i := range list {
			if list[i].ID == ev.ID {
				list[i] = ev
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, ev)
		}
		s.eventsMerged.Add(1)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		if list[i].Sequence != list[j].Sequence {
			return list[i].Sequence < list[j].Sequence
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	s.events[id] = list
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// SubscribeToCall opens a live subscription for the call and starts two
// independent consumption loops (events, stream errors). Idempotent: a no-op
// when a subscription already exists for the id, or when the cached summary
// is already terminal.
func (s *Store) SubscribeToCall(ctx context.Context, id uuid.UUID) error {
	if s.dial == nil {
		return fmt.Errorf("store: no stream dialer configured")
	}

	s.mu.Lock()
	if _, exists := s.subs[id]; exists {
		s.mu.Unlock()
		return nil
	}
	if call, ok := s.calls[id]; ok && call.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	// Reserve the slot before dialing so concurrent SubscribeToCall calls
	// for the same id collapse to one socket.
	entry := &subscription{}
	s.subs[id] = entry
	s.mu.Unlock()

	src, err := s.dial(ctx, id)
	if err != nil {
		s.mu.Lock()
		if s.subs[id] == entry {
			delete(s.subs, id)
		}
		s.mu.Unlock()
		return fmt.Errorf("store: subscribe to call %s: %w", id, err)
	}

	s.mu.Lock()
	if s.subs[id] != entry {
		// Unsubscribed or cleared while the dial was in flight.
		s.mu.Unlock()
		src.Close()
		return nil
	}
	entry.src = src
	s.mu.Unlock()

	s.logger.Debug("subscribed to call events", "call_id", id)
	go s.eventLoop(id, src)
	go s.errorLoop(id, src)
	return nil
}

// UnsubscribeFromCall closes and removes the call's subscription if present.
// Safe to call when absent.
func (s *Store) UnsubscribeFromCall(id uuid.UUID) {
	s.mu.Lock()
	s.unsubscribeLocked(id)
	s.mu.Unlock()
}

// ClearCall evicts the call summary, both metadata entries, the event list,
// and any live subscription in one atomic step. Safe when nothing exists.
func (s *Store) ClearCall(id uuid.UUID) {
	s.mu.Lock()
	s.unsubscribeLocked(id)
	delete(s.calls, id)
	delete(s.callMeta, id)
	delete(s.events, id)
	delete(s.eventsMeta, id)
	s.mu.Unlock()
	s.notify()
}

// ActiveSubscriptions returns the ids of calls with a live subscription.
// Diagnostic; order is unspecified.
func (s *Store) ActiveSubscriptions() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	return out
}

func (s *Store) unsubscribeLocked(id uuid.UUID) {
	entry, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	if entry.src != nil {
		entry.src.Close()
	}
}

// eventLoop consumes pushed events until the stream ends or the
// subscription is closed. Selecting on Done alongside Events stops store
// mutation promptly on explicit close even when events are still buffered.
func (s *Store) eventLoop(id uuid.UUID, src StreamSource) {
	for {
		select {
		case <-src.Done():
			s.detach(id, src)
			return
		case ev, ok := <-src.Events():
			if !ok {
				s.logger.Debug("event stream ended", "call_id", id)
				s.detach(id, src)
				return
			}
			// Done wins over a simultaneously ready event: nothing is
			// applied after the subscription is closed.
			select {
			case <-src.Done():
				s.detach(id, src)
				return
			default:
			}
			s.applyStreamEvent(id, ev)
		}
	}
}

// errorLoop consumes socket-level errors independently of the event loop so
// a burst of either kind cannot starve the other. Stream errors are
// advisory: logged, never fatal to the subscription.
func (s *Store) errorLoop(id uuid.UUID, src StreamSource) {
	for {
		select {
		case <-src.Done():
			return
		case se, ok := <-src.Errors():
			if !ok {
				return
			}
			s.logger.Warn("call stream error",
				"call_id", id,
				"error_type", se.ErrorType,
				"error", se.ErrorMessage)
		}
	}
}

// applyStreamEvent upserts a pushed event and folds status changes into the
// cached summary. A terminal new status tears the subscription down.
func (s *Store) applyStreamEvent(id uuid.UUID, ev model.CallEvent) {
	s.mu.Lock()
	s.mergeEventsLocked(ev.CallID, []model.CallEvent{ev})

	if ev.Type == model.EventStatusChange && ev.StatusChange != nil {
		newStatus := ev.StatusChange.NewStatus
		if call, ok := s.calls[ev.CallID]; ok {
			call.Status = newStatus
			s.calls[ev.CallID] = call
			s.callMeta[ev.CallID] = loadedMeta()
		}
		if newStatus.Terminal() {
			s.logger.Debug("call reached terminal status",
				"call_id", ev.CallID, "status", newStatus)
			s.unsubscribeLocked(ev.CallID)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// detach removes the registry entry after a stream ended on its own. The
// entry identity check avoids clobbering a newer subscription opened after
// an unsubscribe/resubscribe cycle.
func (s *Store) detach(id uuid.UUID, src StreamSource) {
	s.mu.Lock()
	if entry, ok := s.subs[id]; ok && entry.src == src {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	src.Close()
	s.notify()
}

// ---------------------------------------------------------------------------
// Change notification
// ---------------------------------------------------------------------------

// Watch returns a coalesced change-signal channel: it receives at least one
// signal after any store mutation. The caller must Unwatch when done.
func (s *Store) Watch() chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unwatch removes a watcher channel and closes it.
func (s *Store) Unwatch(ch chan struct{}) {
	s.mu.Lock()
	delete(s.watchers, ch)
	s.mu.Unlock()
	close(ch)
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
			// Watcher already has a pending signal.
		}
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func (s *Store) registerMetrics() {
	meter := telemetry.Meter("agentboard/store")

	_, _ = meter.Int64ObservableGauge("agentboard.store.active_subscriptions",
		metric.WithDescription("Live call event subscriptions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.Lock()
			n := len(s.subs)
			s.mu.Unlock()
			o.Observe(int64(n))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("agentboard.store.cached_calls",
		metric.WithDescription("Call summaries held in the cache"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.Lock()
			n := len(s.calls)
			s.mu.Unlock()
			o.Observe(int64(n))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("agentboard.store.events_merged_total",
		metric.WithDescription("Total events upserted into call event lists"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(s.eventsMerged.Load())
			return nil
		}),
	)
}
