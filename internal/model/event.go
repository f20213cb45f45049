package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the explicit variant tag of a CallEvent.
//
// The server discriminates event variants structurally (by field presence)
// and, on newer versions, by an event_type string. Both are mapped into this
// tag once, inside CallEvent.UnmarshalJSON; nothing downstream re-derives
// the kind from field presence.
type EventType string

const (
	EventThought      EventType = "thought"
	EventAction       EventType = "action"
	EventResult       EventType = "result"
	EventError        EventType = "error"
	EventStatusChange EventType = "status_change"
)

// CallEvent is one timestamped record of agent progress within a call.
// Exactly one of the variant pointers is non-nil, matching Type.
type CallEvent struct {
	ID        uuid.UUID `json:"id"`
	CallID    uuid.UUID `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
	Type      EventType `json:"event_type"`

	Thought      *Thought      `json:"-"`
	Action       *Action       `json:"-"`
	Result       *Result       `json:"-"`
	Error        *ErrorDetail  `json:"-"`
	StatusChange *StatusChange `json:"-"`
}

// Thought is a reasoning step from the agent.
type Thought struct {
	Iteration        int            `json:"iteration"`
	Reasoning        string         `json:"reasoning"`
	GoalAchieved     bool           `json:"goal_achieved"`
	TodoList         *string        `json:"todo_list,omitempty"`
	NextActionNeeded bool           `json:"next_action_needed"`
	ToolName         *string        `json:"tool_name,omitempty"`
	ToolParameters   map[string]any `json:"tool_parameters,omitempty"`
	ExpectedOutcome  *string        `json:"expected_outcome,omitempty"`
	UserMessage      *string        `json:"user_message,omitempty"`
}

// Action is a tool execution performed by the agent.
type Action struct {
	Iteration     int            `json:"iteration"`
	ToolName      string         `json:"tool_name"`
	Parameters    map[string]any `json:"parameters"`
	Result        any            `json:"result"`
	Success       bool           `json:"success"`
	ExecutionTime float64        `json:"execution_time"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
}

// Result is the final output of a completed call.
type Result struct {
	Success          bool             `json:"success"`
	Result           any              `json:"result"`
	ExecutiveSummary *string          `json:"executive_summary,omitempty"`
	KeyFindings      []string         `json:"key_findings,omitempty"`
	Citations        []map[string]any `json:"citations,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// ErrorDetail is an error raised during call execution.
type ErrorDetail struct {
	ErrorType    string         `json:"error_type"`
	ErrorMessage string         `json:"error_message"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
	Recoverable  bool           `json:"recoverable"`
}

// StatusChange records a server-side status transition.
type StatusChange struct {
	OldStatus CallStatus `json:"old_status"`
	NewStatus CallStatus `json:"new_status"`
	Reason    *string    `json:"reason,omitempty"`
}

// eventHead is the common envelope fields shared by every variant.
type eventHead struct {
	ID        uuid.UUID `json:"id"`
	CallID    uuid.UUID `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
	EventType EventType `json:"event_type"`
}

// UnmarshalJSON decodes a flat server event object into the tagged union.
// When event_type is absent (older servers) the variant is inferred from
// characteristic field presence; that heuristic lives only here.
func (e *CallEvent) UnmarshalJSON(data []byte) error {
	var head eventHead
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("model: decode event: %w", err)
	}

	typ := head.EventType
	if typ == "" {
		var err error
		typ, err = classifyEvent(data)
		if err != nil {
			return err
		}
	}

	*e = CallEvent{
		ID:        head.ID,
		CallID:    head.CallID,
		Timestamp: head.Timestamp,
		Sequence:  head.Sequence,
		Type:      typ,
	}

	switch typ {
	case EventThought:
		e.Thought = &Thought{}
		return decodeVariant(data, typ, e.Thought)
	case EventAction:
		e.Action = &Action{}
		return decodeVariant(data, typ, e.Action)
	case EventResult:
		e.Result = &Result{}
		return decodeVariant(data, typ, e.Result)
	case EventError:
		e.Error = &ErrorDetail{}
		return decodeVariant(data, typ, e.Error)
	case EventStatusChange:
		e.StatusChange = &StatusChange{}
		return decodeVariant(data, typ, e.StatusChange)
	default:
		return fmt.Errorf("model: unknown event type %q", typ)
	}
}

func decodeVariant(data []byte, typ EventType, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("model: decode %s event: %w", typ, err)
	}
	return nil
}

// classifyEvent infers the variant from field presence for payloads that
// carry no event_type tag. Probe order matters: actions and results both
// carry result+success, so the more specific shapes are checked first.
func classifyEvent(data []byte) (EventType, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("model: classify event: %w", err)
	}

	has := func(key string) bool {
		raw, ok := fields[key]
		return ok && string(raw) != "null"
	}

	switch {
	case has("old_status") && has("new_status"):
		return EventStatusChange, nil
	case has("error_type") && has("error_message"):
		return EventError, nil
	case has("reasoning"):
		return EventThought, nil
	case has("tool_name") && has("parameters"):
		return EventAction, nil
	case has("result") && has("success"):
		return EventResult, nil
	}
	return "", fmt.Errorf("model: event matches no known variant")
}

// MarshalJSON flattens the union back into the server's wire shape:
// common fields plus the active variant's fields plus the explicit tag.
func (e CallEvent) MarshalJSON() ([]byte, error) {
	var variant any
	switch e.Type {
	case EventThought:
		variant = e.Thought
	case EventAction:
		variant = e.Action
	case EventResult:
		variant = e.Result
	case EventError:
		variant = e.Error
	case EventStatusChange:
		variant = e.StatusChange
	default:
		return nil, fmt.Errorf("model: marshal event: unknown type %q", e.Type)
	}
	if variant == nil {
		return nil, fmt.Errorf("model: marshal event: nil %s payload", e.Type)
	}

	encoded, err := json.Marshal(variant)
	if err != nil {
		return nil, fmt.Errorf("model: marshal %s event: %w", e.Type, err)
	}

	flat := map[string]any{}
	if err := json.Unmarshal(encoded, &flat); err != nil {
		return nil, fmt.Errorf("model: flatten %s event: %w", e.Type, err)
	}
	flat["id"] = e.ID
	flat["call_id"] = e.CallID
	flat["timestamp"] = e.Timestamp
	flat["sequence"] = e.Sequence
	flat["event_type"] = e.Type

	return json.Marshal(flat)
}
