package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallStatus_Terminal(t *testing.T) {
	terminal := []CallStatus{CallStatusCompleted, CallStatusFailed, CallStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []CallStatus{CallStatusPending, CallStatusRunning} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestCallEvent_UnmarshalTagged(t *testing.T) {
	id := uuid.New()
	callID := uuid.New()

	payload := `{
		"id": "` + id.String() + `",
		"call_id": "` + callID.String() + `",
		"timestamp": "2026-01-15T10:30:00Z",
		"sequence": 3,
		"event_type": "thought",
		"iteration": 2,
		"reasoning": "need to look up the docs",
		"goal_achieved": false,
		"next_action_needed": true,
		"tool_name": "web_search"
	}`

	var ev CallEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))

	assert.Equal(t, EventThought, ev.Type)
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, callID, ev.CallID)
	assert.Equal(t, int64(3), ev.Sequence)

	require.NotNil(t, ev.Thought)
	assert.Equal(t, "need to look up the docs", ev.Thought.Reasoning)
	assert.Equal(t, 2, ev.Thought.Iteration)
	assert.True(t, ev.Thought.NextActionNeeded)
	require.NotNil(t, ev.Thought.ToolName)
	assert.Equal(t, "web_search", *ev.Thought.ToolName)

	// Exactly one variant populated.
	assert.Nil(t, ev.Action)
	assert.Nil(t, ev.Result)
	assert.Nil(t, ev.Error)
	assert.Nil(t, ev.StatusChange)
}

// Older servers send no event_type; the variant is inferred from field
// presence exactly once, at decode time.
func TestCallEvent_UnmarshalUntagged(t *testing.T) {
	tests := []struct {
		name string
		body string
		want EventType
	}{
		{
			name: "status change",
			body: `{"old_status": "running", "new_status": "completed"}`,
			want: EventStatusChange,
		},
		{
			name: "error",
			body: `{"error_type": "tool_failure", "error_message": "boom", "recoverable": true}`,
			want: EventError,
		},
		{
			name: "thought",
			body: `{"reasoning": "first figure out the goal", "goal_achieved": false}`,
			want: EventThought,
		},
		{
			name: "action",
			body: `{"tool_name": "calculator", "parameters": {"a": 1}, "result": 2, "success": true}`,
			want: EventAction,
		},
		{
			name: "result",
			body: `{"success": true, "result": {"answer": 42}}`,
			want: EventResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev CallEvent
			require.NoError(t, json.Unmarshal([]byte(tt.body), &ev))
			assert.Equal(t, tt.want, ev.Type)
		})
	}
}

func TestCallEvent_UnmarshalUntaggedActionVsResult(t *testing.T) {
	// Actions and results both carry result+success; tool_name+parameters
	// must win.
	body := `{"tool_name": "search", "parameters": {}, "result": "ok", "success": true, "execution_time": 0.5}`

	var ev CallEvent
	require.NoError(t, json.Unmarshal([]byte(body), &ev))
	assert.Equal(t, EventAction, ev.Type)
	require.NotNil(t, ev.Action)
	assert.Equal(t, "search", ev.Action.ToolName)
	assert.InDelta(t, 0.5, ev.Action.ExecutionTime, 1e-9)
}

func TestCallEvent_UnmarshalUnknown(t *testing.T) {
	var ev CallEvent
	err := json.Unmarshal([]byte(`{"event_type": "telemetry"}`), &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")

	err = json.Unmarshal([]byte(`{"something": "else"}`), &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no known variant")
}

func TestCallEvent_MarshalRoundTrip(t *testing.T) {
	reason := "cancelled by operator"
	ev := CallEvent{
		ID:        uuid.New(),
		CallID:    uuid.New(),
		Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		Sequence:  7,
		Type:      EventStatusChange,
		StatusChange: &StatusChange{
			OldStatus: CallStatusRunning,
			NewStatus: CallStatusCancelled,
			Reason:    &reason,
		},
	}

	encoded, err := json.Marshal(ev)
	require.NoError(t, err)

	// Wire shape is flat with an explicit tag.
	var flat map[string]any
	require.NoError(t, json.Unmarshal(encoded, &flat))
	assert.Equal(t, "status_change", flat["event_type"])
	assert.Equal(t, "running", flat["old_status"])
	assert.Equal(t, "cancelled", flat["new_status"])

	var decoded CallEvent
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.Sequence, decoded.Sequence)
	require.NotNil(t, decoded.StatusChange)
	assert.Equal(t, ev.StatusChange.NewStatus, decoded.StatusChange.NewStatus)
	require.NotNil(t, decoded.StatusChange.Reason)
	assert.Equal(t, reason, *decoded.StatusChange.Reason)
}

func TestCallEvent_MarshalNilPayload(t *testing.T) {
	ev := CallEvent{ID: uuid.New(), Type: EventResult}
	_, err := json.Marshal(ev)
	require.Error(t, err)
}
