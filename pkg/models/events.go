package models

import "time"

// ChangeKind describes what the reconciler or a command handler did to
// an aggregate.
type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeUpdated    ChangeKind = "updated"
	ChangeDeprecated ChangeKind = "deprecated"
	ChangeRestored   ChangeKind = "restored"
	ChangeDeleted    ChangeKind = "deleted"
	ChangeEnabled    ChangeKind = "enabled"
	ChangeDisabled   ChangeKind = "disabled"
)

// ToolChange is one tool-aggregate mutation, emitted for observers and
// structured logs. It never carries credentials.
type ToolChange struct {
	Kind       ChangeKind      `json:"kind"`
	ToolID     string          `json:"tool_id"`
	SourceID   string          `json:"source_id"`
	Name       string          `json:"name"`
	Definition *ToolDefinition `json:"definition,omitempty"`
	At         time.Time       `json:"at"`
}

// SourceChange is one source-aggregate mutation.
type SourceChange struct {
	Kind     ChangeKind `json:"kind"`
	SourceID string     `json:"source_id"`
	Name     string     `json:"name,omitempty"`
	At       time.Time  `json:"at"`
}
