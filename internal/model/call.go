// Package model defines the domain types shared between the backend client,
// the resource store, and the CLI.
//
// Types mirror the agent server's wire format. They use strong typing
// (UUIDs, time.Time, enums) and avoid interface{} except where the server
// itself is schemaless (input payloads, tool results).
package model

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus represents the lifecycle state of an agent call.
// Transition authority lies entirely with the server; the client only
// reflects fetched or pushed values.
type CallStatus string

const (
	CallStatusPending   CallStatus = "pending"
	CallStatusRunning   CallStatus = "running"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusCancelled CallStatus = "cancelled"
)

// Terminal reports whether no further events are expected for a call
// in this status.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusCancelled:
		return true
	}
	return false
}

// CallSummary is the high-level state of one agent execution.
// Status and the counters change as events arrive; the id never does.
type CallSummary struct {
	ID        uuid.UUID      `json:"id"`
	AgentName string         `json:"agent_name"`
	InputData map[string]any `json:"input_data"`
	Status    CallStatus     `json:"status"`

	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	TotalThoughts   int    `json:"total_thoughts"`
	TotalActions    int    `json:"total_actions"`
	ExecutionTimeMs *int64 `json:"execution_time_ms,omitempty"`
}

// CallSpec is the request body for creating a new call.
type CallSpec struct {
	InputData     map[string]any `json:"input_data"`
	MaxIterations *int           `json:"max_iterations,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CallList is one page of call summaries.
type CallList struct {
	Calls  []CallSummary `json:"calls"`
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}
