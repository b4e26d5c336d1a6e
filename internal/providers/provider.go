// Package providers implements the LLM backends conversations run
// against. Each backend converts between the package's unified message
// format and its vendor API, streams completion chunks over a channel,
// and retries transient failures. The Runner drives the multi-turn
// tool-calling loop on top of a Provider and emits models.RunEvent
// values the orchestrator translates into wire messages.
package providers

import (
	"context"
	"encoding/json"

	"github.com/tesserahq/toolgate/pkg/models"
)

// Provider is a streaming LLM backend.
//
// Implementations must be safe for concurrent use; every Complete call
// owns an independent stream and goroutine.
type Provider interface {
	// Complete sends a prompt and returns a streaming response. The
	// channel is closed when the stream finishes; a terminal failure
	// arrives as a Chunk with Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error)

	// Name returns the stable lowercase provider identifier.
	Name() string

	// Models returns the models this provider serves.
	Models() []ModelInfo
}

// CompletionRequest carries one turn of context to a provider.
type CompletionRequest struct {
	// Model is the backend model id; empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled out-of-band by most APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation so far, oldest first.
	Messages []Turn `json:"messages"`

	// Tools is the catalogue slice offered to the model.
	Tools []models.LLMToolDescriptor `json:"tools,omitempty"`

	// MaxTokens caps the generated response; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Turn is a single message in a conversation. Role is "user",
// "assistant", or "tool"; tool turns carry replies to earlier calls.
type Turn struct {
	Role        string      `json:"role"`
	Content     string      `json:"content,omitempty"`
	ToolCalls   []ToolCall  `json:"tool_calls,omitempty"`
	ToolReplies []ToolReply `json:"tool_replies,omitempty"`
}

// ToolCall is a tool invocation the model requested.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolReply feeds one tool outcome back to the model.
type ToolReply struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Chunk is one unit of a streaming response. Text chunks arrive as the
// model generates; a ToolCall chunk is emitted once the call's argument
// JSON is fully assembled. The final chunk has Done set and carries
// token usage when the backend reports it.
type Chunk struct {
	Text         string    `json:"text,omitempty"`
	ToolCall     *ToolCall `json:"tool_call,omitempty"`
	Done         bool      `json:"done,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	Error        error     `json:"-"`
}

// ModelInfo describes one servable model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)
