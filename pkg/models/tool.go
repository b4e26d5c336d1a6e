package models

import "strings"

// ExecutionMode selects how a tool invocation is carried out.
type ExecutionMode string

const (
	ModeSyncHTTP  ExecutionMode = "sync_http"
	ModeAsyncPoll ExecutionMode = "async_poll"
	ModeMCPCall   ExecutionMode = "mcp_call"
	ModeBuiltin   ExecutionMode = "builtin"
)

// URL schemes marking tools that never leave the process boundary.
const (
	BuiltinScheme = "builtin://"
	MCPScheme     = "mcp://"
)

// ToolDefinition is the normalized shape for any callable operation,
// regardless of which source it was discovered from.
type ToolDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	InputSchema map[string]any   `json:"input_schema"`
	SourcePath  string           `json:"source_path,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Deprecated  bool             `json:"deprecated,omitempty"`
	Execution   ExecutionProfile `json:"execution"`
}

// IsBuiltin reports whether the tool short-circuits to local execution.
func (d *ToolDefinition) IsBuiltin() bool {
	return strings.HasPrefix(d.Execution.URLTemplate, BuiltinScheme) ||
		strings.HasPrefix(d.SourcePath, BuiltinScheme)
}

// BuiltinName returns the registry name for a builtin tool ("builtin://web_fetch" -> "web_fetch").
func (d *ToolDefinition) BuiltinName() string {
	if s := strings.TrimPrefix(d.Execution.URLTemplate, BuiltinScheme); s != d.Execution.URLTemplate {
		return s
	}
	return strings.TrimPrefix(d.SourcePath, BuiltinScheme)
}

// ExecutionProfile describes how to invoke a tool.
type ExecutionProfile struct {
	Mode             ExecutionMode     `json:"mode"`
	Method           string            `json:"method,omitempty"`
	URLTemplate      string            `json:"url_template,omitempty"`
	HeadersTemplate  map[string]string `json:"headers_template,omitempty"`
	BodyTemplate     string            `json:"body_template,omitempty"`
	ContentType      string            `json:"content_type,omitempty"`
	RequiredAudience string            `json:"required_audience,omitempty"`
	RequiredScopes   []string          `json:"required_scopes,omitempty"`
	TimeoutSeconds   int               `json:"timeout_seconds,omitempty"`
	Poll             *PollConfig       `json:"poll_config,omitempty"`
	// ResponseMapping extracts named outputs from the upstream body by
	// dotted path ("data.items.0.id").
	ResponseMapping map[string]string `json:"response_mapping,omitempty"`
}

// PollConfig drives async completion for ModeAsyncPoll tools.
type PollConfig struct {
	StatusURLTemplate   string   `json:"status_url_template"`
	StatusFieldPath     string   `json:"status_field_path"`
	ResultFieldPath     string   `json:"result_field_path,omitempty"`
	CompletedValues     []string `json:"completed_values"`
	FailedValues        []string `json:"failed_values,omitempty"`
	PollIntervalSeconds float64  `json:"poll_interval_seconds,omitempty"`
	MaxIntervalSeconds  float64  `json:"max_interval_seconds,omitempty"`
	BackoffMultiplier   float64  `json:"backoff_multiplier,omitempty"`
	MaxPollAttempts     int      `json:"max_poll_attempts,omitempty"`
}

// EmptyObjectSchema returns the minimal valid input schema for tools
// that take no arguments.
func EmptyObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
