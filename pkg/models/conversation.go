package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageStatus tracks whether an assistant message has been filled in.
// The orchestrator creates assistant messages as pending when the user
// message is persisted and completes them after the run finishes.
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageComplete MessageStatus = "complete"
)

// Conversation is the persisted thread an orchestrator context attaches to.
type Conversation struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	DefinitionID string         `json:"definition_id"`
	Title        string         `json:"title,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ChatMessage is one persisted turn of a conversation.
type ChatMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Status         MessageStatus    `json:"status"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ToolCallRecord captures one tool invocation inside a message for history.
type ToolCallRecord struct {
	CallID          string          `json:"call_id"`
	ToolName        string          `json:"tool_name"`
	Arguments       json.RawMessage `json:"arguments,omitempty"`
	Success         bool            `json:"success"`
	Result          any             `json:"result,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms,omitempty"`
}

// ItemResponse is the persisted record of a completed template item.
type ItemResponse struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	ItemID          string         `json:"item_id"`
	ItemIndex       int            `json:"item_index"`
	WidgetResponses map[string]any `json:"widget_responses,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// ItemExecutionState tracks the active template item on one connection.
// It lives in memory only; a reconnect re-presents the item from scratch.
type ItemExecutionState struct {
	ItemID                  string
	ItemIndex               int
	RequiredWidgetIDs       map[string]bool
	AnsweredWidgetIDs       map[string]bool
	WidgetResponses         map[string]any
	RequireUserConfirmation bool
	UserConfirmed           bool
	StartedAt               time.Time
	CompletedAt             time.Time
}

// NewItemExecutionState starts tracking an item at the given index.
func NewItemExecutionState(item *TemplateItem, index int, now time.Time) *ItemExecutionState {
	required := make(map[string]bool)
	for _, id := range item.RequiredWidgetIDs() {
		required[id] = true
	}
	return &ItemExecutionState{
		ItemID:                  item.ID,
		ItemIndex:               index,
		RequiredWidgetIDs:       required,
		AnsweredWidgetIDs:       make(map[string]bool),
		WidgetResponses:         make(map[string]any),
		RequireUserConfirmation: item.RequireUserConfirmation,
		StartedAt:               now,
	}
}

// Complete reports whether every required widget has been answered and,
// when confirmation is required, the user confirmed. Widget responses
// may arrive in any order; only this predicate decides completion.
func (s *ItemExecutionState) Complete() bool {
	for id := range s.RequiredWidgetIDs {
		if !s.AnsweredWidgetIDs[id] {
			return false
		}
	}
	return !s.RequireUserConfirmation || s.UserConfirmed
}
