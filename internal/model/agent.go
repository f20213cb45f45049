package model

// AgentMode selects the execution strategy a server-side agent runs with.
type AgentMode string

const (
	ModeTools AgentMode = "tools"
	ModeFlow  AgentMode = "flow"
)

// Agent describes an executable agent registered on the server.
// Immutable from the client's perspective; replaced wholesale on refetch.
type Agent struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Mode          AgentMode `json:"mode"`
	MaxIterations int       `json:"max_iterations"`
	Verbose       bool      `json:"verbose"`
	Tools         []string  `json:"tools"`
	WorkflowID    *string   `json:"workflow_id,omitempty"`

	// Opaque JSON-schema documents; rendered by form components, never
	// interpreted here.
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}
