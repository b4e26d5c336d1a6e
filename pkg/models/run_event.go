// Package models defines the core data types for Toolgate.
package models

import (
	"encoding/json"
	"time"
)

// RunEvent is the unified event model for one LLM run. Providers emit
// these on a channel; the orchestrator translates each into its wire
// effect. Exactly one payload pointer is non-nil for a given Type.
type RunEvent struct {
	// Type identifies the kind of event.
	Type RunEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// RunID identifies the provider run.
	RunID string `json:"run_id,omitempty"`

	Chunk      *RunChunkPayload      `json:"chunk,omitempty"`
	ToolCall   *RunToolCallPayload   `json:"tool_call,omitempty"`
	ToolResult *RunToolResultPayload `json:"tool_result,omitempty"`
	Completed  *RunCompletedPayload  `json:"completed,omitempty"`
	Error      *RunErrorPayload      `json:"error,omitempty"`
}

// RunEventType identifies the kind of run event.
type RunEventType string

const (
	RunEventStarted       RunEventType = "run.started"
	RunEventChunk         RunEventType = "run.chunk"
	RunEventToolStarted   RunEventType = "run.tool.started"
	RunEventToolCompleted RunEventType = "run.tool.completed"
	RunEventCompleted     RunEventType = "run.completed"
	RunEventFailed        RunEventType = "run.failed"
)

// RunChunkPayload is an incremental slice of assistant text.
type RunChunkPayload struct {
	Delta string `json:"delta"`
}

// RunToolCallPayload announces a tool invocation the model requested.
type RunToolCallPayload struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// RunToolResultPayload carries the outcome of one tool invocation.
type RunToolResultPayload struct {
	CallID          string `json:"call_id"`
	ToolName        string `json:"tool_name"`
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// RunCompletedPayload closes a successful run.
type RunCompletedPayload struct {
	FullContent  string `json:"full_content"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// RunErrorPayload closes a failed run.
type RunErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// Err preserves the original error for errors.Is/As; never serialized.
	Err error `json:"-"`
}

// LLMToolDescriptor is what the provider sees for each catalogue entry:
// just enough to offer the tool to the model.
type LLMToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
	// ToolID is the aggregate id the executor needs to run it.
	ToolID string `json:"tool_id"`
}
