package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/agentboard/internal/model"
)

// fakeSource is an in-memory StreamSource driven by the test.
type fakeSource struct {
	events chan model.CallEvent
	errs   chan model.StreamError
	done   chan struct{}

	doneOnce sync.Once
	endOnce  sync.Once

	mu     sync.Mutex
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan model.CallEvent, 16),
		errs:   make(chan model.StreamError, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeSource) Events() <-chan model.CallEvent  { return f.events }
func (f *fakeSource) Errors() <-chan model.StreamError { return f.errs }
func (f *fakeSource) Done() <-chan struct{}            { return f.done }

func (f *fakeSource) Close() {
	f.doneOnce.Do(func() { close(f.done) })
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSource) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// end simulates the socket closing on its own: both channels terminate
// without Close having been called.
func (f *fakeSource) end() {
	f.endOnce.Do(func() {
		close(f.events)
		close(f.errs)
	})
}

// fakeDialer hands out fakeSources and records dial attempts.
type fakeDialer struct {
	mu      sync.Mutex
	dialed  []uuid.UUID
	sources map[uuid.UUID]*fakeSource
	err     error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sources: make(map[uuid.UUID]*fakeSource)}
}

func (d *fakeDialer) dial(_ context.Context, callID uuid.UUID) (StreamSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dialed = append(d.dialed, callID)
	src := newFakeSource()
	d.sources[callID] = src
	return src, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed)
}

func (d *fakeDialer) source(callID uuid.UUID) *fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sources[callID]
}

func newTestStore(t *testing.T) (*Store, *fakeDialer) {
	t.Helper()
	dialer := newFakeDialer()
	return New(Config{Dial: dialer.dial}), dialer
}

func event(callID uuid.UUID, seq int64, at time.Time) model.CallEvent {
	return model.CallEvent{
		ID:        uuid.New(),
		CallID:    callID,
		Timestamp: at,
		Sequence:  seq,
		Type:      model.EventThought,
		Thought:   &model.Thought{Reasoning: fmt.Sprintf("step %d", seq)},
	}
}

func statusChange(callID uuid.UUID, seq int64, at time.Time, from, to model.CallStatus) model.CallEvent {
	return model.CallEvent{
		ID:        uuid.New(),
		CallID:    callID,
		Timestamp: at,
		Sequence:  seq,
		Type:      model.EventStatusChange,
		StatusChange: &model.StatusChange{
			OldStatus: from,
			NewStatus: to,
		},
	}
}

func runningCall(id uuid.UUID) model.CallSummary {
	return model.CallSummary{
		ID:        id,
		AgentName: "researcher",
		Status:    model.CallStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Event merge
// ---------------------------------------------------------------------------

func TestAddEvent_SortsByTimestamp(t *testing.T) {
	s, _ := newTestStore(t)
	callID := uuid.New()
	base := time.Now().UTC()

	// Wire order: seq 2 before seq 1.
	second := event(callID, 2, base.Add(2*time.Second))
	first := event(callID, 1, base.Add(1*time.Second))
	s.AddEvent(second)
	s.AddEvent(first)

	got := s.CallEvents(callID)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Sequence)
	assert.Equal(t, int64(2), got[1].Sequence)
}

func TestAddEvent_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	callID := uuid.New()
	ev := event(callID, 1, time.Now().UTC())

	s.AddEvent(ev)
	s.AddEvent(ev)
	s.AddEvent(ev)

	assert.Len(t, s.CallEvents(callID), 1)
}

func TestAddEvent_LastWriteWinsOnSameID(t *testing.T) {
	s, _ := newTestStore(t)
	callID := uuid.New()
	ev := event(callID, 1, time.Now().UTC())
	s.AddEvent(ev)

	updated := ev
	updated.Thought = &model.Thought{Reasoning: "revised", GoalAchieved: true}
	s.AddEvent(updated)

	got := s.CallEvents(callID)
	require.Len(t, got, 1)
	assert.Equal(t, "revised", got[0].Thought.Reasoning)
	assert.True(t, got[0].Thought.GoalAchieved)
}

func TestAddEvent_TimestampTieBrokenBySequence(t *testing.T) {
	s, _ := newTestStore(t)
	callID := uuid.New()
	at := time.Now().UTC()

	s.AddEvent(event(callID, 5, at))
	s.AddEvent(event(callID, 4, at))

	got := s.CallEvents(callID)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].Sequence)
	assert.Equal(t, int64(5), got[1].Sequence)
}

func TestSetCallEvents_NeverErasesLiveEvents(t *testing.T) {
	s, _ := newTestStore(t)
	callID := uuid.New()
	base := time.Now().UTC()

	live1 := event(callID, 3, base.Add(3*time.Second))
	live2 := event(callID, 4, base.Add(4*time.Second))
	s.AddEvent(live1)
	s.AddEvent(live2)

	// A late snapshot fetch that predates the live events.
	snapshot := []model.CallEvent{
		event(callID, 1, base.Add(1*time.Second)),
		event(callID, 2, base.Add(2*time.Second)),
	}
	s.SetCallEvents(callID, snapshot)

	got := s.CallEvents(callID)
	require.Len(t, got, 4)
	for i, want := range []int64{1, 2, 3, 4} {
		assert.Equal(t, want, got[i].Sequence)
	}
}

func TestSetCallEvents_DuplicateIDUpdatesInPlace(t *testing.T) {
	s, _ := newTestStore(t)
	callID := uuid.New()
	base := time.Now().UTC()

	eventA := event(callID, 1, base)
	eventB := event(callID, 2, base.Add(time.Second))
	s.SetCallEvents(callID, []model.CallEvent{eventA, eventB})

	// Live push redelivers eventA with an updated field.
	updatedA := eventA
	updatedA.Thought = &model.Thought{Reasoning: "amended"}
	s.AddEvent(updatedA)

	got := s.CallEvents(callID)
	require.Len(t, got, 2)
	assert.Equal(t, "amended", got[0].Thought.Reasoning)
}

func TestCallEvents_EmptyNeverNil(t *testing.T) {
	s, _ := newTestStore(t)
	got := s.CallEvents(uuid.New())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

func TestSetAgents_MarksLoaded(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetAgents(map[string]model.Agent{
		"researcher": {Name: "researcher", Mode: model.ModeTools},
	})

	agent, meta, ok := s.Agent("researcher")
	require.True(t, ok)
	assert.Equal(t, model.ModeTools, agent.Mode)
	assert.False(t, meta.Loading)
	assert.False(t, meta.LastFetched.IsZero())
}

func TestSetAgentError_KeepsStaleData(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetAgents(map[string]model.Agent{"researcher": {Name: "researcher"}})

	s.SetAgentError("researcher", fmt.Errorf("connection refused"), false)

	agent, meta, ok := s.Agent("researcher")
	require.True(t, ok, "stale agent data must stay visible")
	assert.Equal(t, "researcher", agent.Name)
	assert.Equal(t, "connection refused", meta.Err)
	assert.False(t, meta.NotFound)
}

func TestSetCallError_NotFoundDistinct(t *testing.T) {
	s, _ := newTestStore(t)
	callID := uuid.New()

	s.SetCallLoading(callID)
	_, meta, _ := s.Call(callID)
	assert.True(t, meta.Loading)

	s.SetCallError(callID, fmt.Errorf("call not found"), true)
	_, meta, ok := s.Call(callID)
	assert.False(t, ok)
	assert.False(t, meta.Loading)
	assert.True(t, meta.NotFound)
	assert.Equal(t, "call not found", meta.Err)
}

func TestMeta_Fresh(t *testing.T) {
	assert.False(t, Meta{}.Fresh(time.Minute))
	assert.True(t, loadedMeta().Fresh(time.Minute))
	assert.False(t, loadedMeta().Fresh(0))
	stale := Meta{LastFetched: time.Now().Add(-time.Hour)}
	assert.False(t, stale.Fresh(time.Minute))
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

func TestSubscribeToCall_Idempotent(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))

	require.NoError(t, s.SubscribeToCall(context.Background(), callID))
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))

	assert.Equal(t, 1, dialer.dialCount())
	assert.Len(t, s.ActiveSubscriptions(), 1)
}

func TestSubscribeToCall_NoopWhenTerminal(t *testing.T) {
	s, dialer := newTestStore(t)

	for _, status := range []model.CallStatus{
		model.CallStatusCompleted, model.CallStatusFailed, model.CallStatusCancelled,
	} {
		callID := uuid.New()
		call := runningCall(callID)
		call.Status = status
		s.UpdateCall(call)

		require.NoError(t, s.SubscribeToCall(context.Background(), callID))
	}

	assert.Zero(t, dialer.dialCount())
	assert.Empty(t, s.ActiveSubscriptions())
}

func TestSubscribeToCall_DialErrorNotRegistered(t *testing.T) {
	s, dialer := newTestStore(t)
	dialer.err = fmt.Errorf("connection refused")
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))

	err := s.SubscribeToCall(context.Background(), callID)
	require.Error(t, err)
	assert.Empty(t, s.ActiveSubscriptions())

	// A later attempt after the dialer recovers succeeds.
	dialer.err = nil
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))
	assert.Len(t, s.ActiveSubscriptions(), 1)
}

func TestStreamEvent_AppliedToStore(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))

	dialer.source(callID).events <- event(callID, 1, time.Now().UTC())

	require.Eventually(t, func() bool {
		return len(s.CallEvents(callID)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStatusChange_TerminalTearsDownSubscription(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))

	src := dialer.source(callID)
	src.events <- statusChange(callID, 1, time.Now().UTC(),
		model.CallStatusRunning, model.CallStatusCompleted)

	require.Eventually(t, func() bool {
		call, _, _ := s.Call(callID)
		return call.Status == model.CallStatusCompleted &&
			len(s.ActiveSubscriptions()) == 0 &&
			src.wasClosed()
	}, time.Second, 5*time.Millisecond)

	// Nothing pushed after closure is appended.
	src.events <- event(callID, 2, time.Now().UTC())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.CallEvents(callID), 1)
}

func TestFetchedTerminalSummary_TearsDownSubscription(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))
	src := dialer.source(callID)

	done := runningCall(callID)
	done.Status = model.CallStatusFailed
	s.UpdateCall(done)

	assert.Empty(t, s.ActiveSubscriptions())
	assert.True(t, src.wasClosed())
}

func TestUnexpectedStreamEnd_KeepsStatus(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))

	// Socket drops while the call is still running.
	dialer.source(callID).end()

	require.Eventually(t, func() bool {
		return len(s.ActiveSubscriptions()) == 0
	}, time.Second, 5*time.Millisecond)

	call, _, ok := s.Call(callID)
	require.True(t, ok)
	assert.Equal(t, model.CallStatusRunning, call.Status,
		"an unexpected closure must not forcibly fail the call")

	// The consumer may re-subscribe on next interaction.
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))
	assert.Len(t, s.ActiveSubscriptions(), 1)
}

func TestStreamError_DoesNotEndSubscription(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))
	src := dialer.source(callID)

	src.errs <- model.StreamError{ErrorType: "stream_error", ErrorMessage: "hiccup"}
	src.events <- event(callID, 1, time.Now().UTC())

	require.Eventually(t, func() bool {
		return len(s.CallEvents(callID)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, s.ActiveSubscriptions(), 1)
}

func TestUnsubscribeFromCall_SafeWhenAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	s.UnsubscribeFromCall(uuid.New())
}

func TestUnsubscribeFromCall_ClosesSource(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))

	s.UnsubscribeFromCall(callID)

	assert.Empty(t, s.ActiveSubscriptions())
	assert.True(t, dialer.source(callID).wasClosed())
}

// ---------------------------------------------------------------------------
// Eviction
// ---------------------------------------------------------------------------

func TestClearCall_RemovesEverything(t *testing.T) {
	s, dialer := newTestStore(t)
	callID := uuid.New()
	s.UpdateCall(runningCall(callID))
	s.SetCallEvents(callID, []model.CallEvent{event(callID, 1, time.Now().UTC())})
	require.NoError(t, s.SubscribeToCall(context.Background(), callID))

	s.ClearCall(callID)

	_, meta, ok := s.Call(callID)
	assert.False(t, ok)
	assert.Equal(t, Meta{}, meta)
	assert.Empty(t, s.CallEvents(callID))
	assert.Equal(t, Meta{}, s.EventsMeta(callID))
	assert.Empty(t, s.ActiveSubscriptions())
	assert.True(t, dialer.source(callID).wasClosed())
}

func TestClearCall_SafeWhenNothingExists(t *testing.T) {
	s, _ := newTestStore(t)
	s.ClearCall(uuid.New())
}

func TestCalls_IndependentlyKeyed(t *testing.T) {
	s, dialer := newTestStore(t)
	callA := uuid.New()
	callB := uuid.New()
	s.UpdateCall(runningCall(callA))
	s.UpdateCall(runningCall(callB))
	require.NoError(t, s.SubscribeToCall(context.Background(), callA))
	require.NoError(t, s.SubscribeToCall(context.Background(), callB))

	s.AddEvent(event(callA, 1, time.Now().UTC()))
	s.ClearCall(callA)

	assert.Empty(t, s.CallEvents(callA))
	assert.Len(t, s.ActiveSubscriptions(), 1)
	assert.False(t, dialer.source(callB).wasClosed())
	_, _, ok := s.Call(callB)
	assert.True(t, ok)
}

// ---------------------------------------------------------------------------
// Change notification
// ---------------------------------------------------------------------------

func TestWatch_SignalsOnMutation(t *testing.T) {
	s, _ := newTestStore(t)
	ch := s.Watch()
	defer s.Unwatch(ch)

	s.AddEvent(event(uuid.New(), 1, time.Now().UTC()))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
}

func TestWatch_SignalsCoalesce(t *testing.T) {
	s, _ := newTestStore(t)
	ch := s.Watch()
	defer s.Unwatch(ch)

	callID := uuid.New()
	for i := 0; i < 10; i++ {
		s.AddEvent(event(callID, int64(i), time.Now().UTC()))
	}

	// At least one signal is pending; draining it leaves at most nothing.
	<-ch
	assert.Len(t, s.CallEvents(callID), 10)
}
