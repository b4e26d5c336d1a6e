// Package commands is the typed command bus: every mutation crossing
// the API boundary (CLI, gateway, orchestrator) is a command struct
// dispatched through the Bus, and every outcome is an OperationResult.
package commands

import (
	"time"

	"github.com/tesserahq/toolgate/pkg/models"
)

// Command is one dispatchable operation. Name identifies the handler.
type Command interface {
	Name() string
}

// Command names. Handlers register under these, one handler per name.
const (
	CmdRegisterSource     = "source.register"
	CmdUpdateSource       = "source.update"
	CmdRefreshSource      = "source.refresh"
	CmdDeleteSource       = "source.delete"
	CmdListSources        = "source.list"
	CmdEnableTool         = "tool.enable"
	CmdDisableTool        = "tool.disable"
	CmdListTools          = "tool.list"
	CmdExecuteTool        = "tool.execute"
	CmdCleanupTools       = "tool.cleanup"
	CmdResetCircuit       = "circuit.reset"
	CmdPersistUserMessage = "message.persist_user"
	CmdCompleteMessage    = "message.complete"
	CmdRecordItemResponse = "response.record"
	CmdAdvanceTemplate    = "template.advance"
)

// RegisterSource creates a source aggregate and, unless SkipRefresh is
// set, runs the initial inventory ingest. A failed ingest does not fail
// registration; the source carries the failure accounting.
type RegisterSource struct {
	// ID is generated when empty.
	ID              string
	SourceName      string
	URL             string
	SpecURL         string
	SourceType      models.SourceType
	AuthMode        models.AuthMode
	DefaultAudience string
	RequiredScopes  []string
	MCP             *models.MCPConfig
	SkipRefresh     bool
}

func (RegisterSource) Name() string { return CmdRegisterSource }

// UpdateSource applies a partial update to a source aggregate.
type UpdateSource struct {
	ID    string
	Patch models.SourcePatch

	// Refresh forces a re-ingest after the update is persisted.
	Refresh bool
}

func (UpdateSource) Name() string { return CmdUpdateSource }

// RefreshSource re-ingests one source through the reconciler.
type RefreshSource struct {
	ID string

	// Force runs the full diff even when the inventory hash is
	// unchanged.
	Force bool
}

func (RefreshSource) Name() string { return CmdRefreshSource }

// DeleteSource removes a source. Its tools are deprecated first, then
// the source aggregate is removed; the tool aggregates survive as
// deprecated records.
type DeleteSource struct {
	ID string
}

func (DeleteSource) Name() string { return CmdDeleteSource }

// ListSources returns every registered source aggregate.
type ListSources struct{}

func (ListSources) Name() string { return CmdListSources }

// EnableTool re-enables a tool for cataloguing and execution.
type EnableTool struct {
	// ID is the aggregate key, source_id:name.
	ID string
}

func (EnableTool) Name() string { return CmdEnableTool }

// DisableTool removes a tool from the catalogue and blocks execution.
type DisableTool struct {
	ID string
}

func (DisableTool) Name() string { return CmdDisableTool }

// ListTools enumerates tool aggregates for the admin surface.
type ListTools struct {
	// SourceID restricts the listing to one source when set.
	SourceID string

	// Status filters to one lifecycle status when set. When empty,
	// deleted tombstones are excluded unless IncludeDeleted is set.
	Status         models.ToolStatus
	IncludeDeleted bool
}

func (ListTools) Name() string { return CmdListTools }

// ExecuteTool invokes one tool. The handler resolves the aggregate and
// the source's auth posture, then dispatches to the executor; the
// ExecuteToolResult envelope carries success and failure uniformly.
type ExecuteTool struct {
	// ToolName is the definition name. When SourceID is empty the
	// handler resolves collisions to the first aggregate by id, the
	// same rule the catalogue applies.
	ToolName string
	SourceID string

	Arguments map[string]any

	// AgentToken is the caller's subject token for token-exchange
	// sources and builtin user scoping. Never logged.
	AgentToken string

	// ValidateSchema overrides the global validation toggle when set.
	ValidateSchema *bool
}

func (ExecuteTool) Name() string { return CmdExecuteTool }

// CleanupOrphanedTools finds tool aggregates whose source no longer
// exists. Dry-run by default; Apply removes them.
type CleanupOrphanedTools struct {
	Apply bool
}

func (CleanupOrphanedTools) Name() string { return CmdCleanupTools }

// ResetCircuit closes a breaker. With both fields empty every breaker
// resets; otherwise both must be given.
type ResetCircuit struct {
	CircuitType string
	Key         string
}

func (ResetCircuit) Name() string { return CmdResetCircuit }

// PersistUserMessage stores an inbound user message and creates the
// pending assistant message the run will later complete.
type PersistUserMessage struct {
	ConversationID string
	Content        string
	Metadata       map[string]any
}

func (PersistUserMessage) Name() string { return CmdPersistUserMessage }

// CompleteMessage fills in a pending assistant message after a run.
type CompleteMessage struct {
	MessageID string
	Content   string
	ToolCalls []models.ToolCallRecord
}

func (CompleteMessage) Name() string { return CmdCompleteMessage }

// RecordItemResponse persists the widget answers of a completed
// template item.
type RecordItemResponse struct {
	ConversationID  string
	ItemID          string
	ItemIndex       int
	WidgetResponses map[string]any
	StartedAt       time.Time
	CompletedAt     time.Time
}

func (RecordItemResponse) Name() string { return CmdRecordItemResponse }

// AdvanceTemplate moves a conversation's template cursor forward by
// one item. FromIndex guards against double-advance: the command
// conflicts when the stored cursor has already moved.
type AdvanceTemplate struct {
	ConversationID string
	FromIndex      int
}

func (AdvanceTemplate) Name() string { return CmdAdvanceTemplate }
