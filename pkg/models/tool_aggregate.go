package models

import (
	"encoding/json"
	"time"
)

// ToolStatus tracks where a tool is in its discovery lifecycle.
type ToolStatus string

const (
	ToolStatusActive     ToolStatus = "active"
	ToolStatusDeprecated ToolStatus = "deprecated"
	ToolStatusDeleted    ToolStatus = "deleted"
)

// ToolAggregateID builds the canonical aggregate key.
func ToolAggregateID(sourceID, name string) string {
	return sourceID + ":" + name
}

// ToolAggregate is the persistent record of one tool bound to a source.
// The key is always source_id:name so a tool keeps its identity across
// refreshes.
type ToolAggregate struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	Definition   ToolDefinition `json:"definition"`
	IsEnabled    bool           `json:"is_enabled"`
	Status       ToolStatus     `json:"status"`
	LabelIDs     []string       `json:"label_ids,omitempty"`
	DiscoveredAt time.Time      `json:"discovered_at"`
	LastSeenAt   time.Time      `json:"last_seen_at"`
	DeprecatedAt time.Time      `json:"deprecated_at,omitempty"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewToolAggregate creates an ACTIVE aggregate for a freshly discovered tool.
func NewToolAggregate(sourceID string, def ToolDefinition, now time.Time) *ToolAggregate {
	return &ToolAggregate{
		ID:           ToolAggregateID(sourceID, def.Name),
		SourceID:     sourceID,
		Definition:   def,
		IsEnabled:    true,
		Status:       ToolStatusActive,
		DiscoveredAt: now,
		LastSeenAt:   now,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UpdateDefinition replaces the embedded definition after a refresh
// found a changed upstream operation.
func (t *ToolAggregate) UpdateDefinition(def ToolDefinition, now time.Time) {
	t.Definition = def
	t.LastSeenAt = now
	t.Version++
	t.UpdatedAt = now
}

// Touch records that the tool was seen unchanged in the latest refresh.
func (t *ToolAggregate) Touch(now time.Time) {
	t.LastSeenAt = now
	t.UpdatedAt = now
}

// Deprecate marks a tool that vanished from the latest discovery.
// Deletion stays an explicit admin action.
func (t *ToolAggregate) Deprecate(now time.Time) {
	t.Status = ToolStatusDeprecated
	t.Definition.Deprecated = true
	t.DeprecatedAt = now
	t.Version++
	t.UpdatedAt = now
}

// Restore reactivates a previously deprecated tool that reappeared
// upstream, adopting its current definition.
func (t *ToolAggregate) Restore(def ToolDefinition, now time.Time) {
	t.Definition = def
	t.Definition.Deprecated = false
	t.Status = ToolStatusActive
	t.DeprecatedAt = time.Time{}
	t.LastSeenAt = now
	t.Version++
	t.UpdatedAt = now
}

// MarkDeleted tombstones the tool. The aggregate survives for audit.
func (t *ToolAggregate) MarkDeleted(now time.Time) {
	t.Status = ToolStatusDeleted
	t.IsEnabled = false
	t.Version++
	t.UpdatedAt = now
}

// SetEnabled toggles the tool and reports whether the value changed.
func (t *ToolAggregate) SetEnabled(enabled bool, now time.Time) bool {
	if t.IsEnabled == enabled {
		return false
	}
	t.IsEnabled = enabled
	t.Version++
	t.UpdatedAt = now
	return true
}

// DefinitionEquals compares normalized definitions structurally. The
// comparison goes through canonical JSON so map ordering never matters.
func (t *ToolAggregate) DefinitionEquals(def ToolDefinition) bool {
	a, err := json.Marshal(t.Definition)
	if err != nil {
		return false
	}
	b, err := json.Marshal(def)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}
