package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tesserahq/toolgate/internal/executor"
	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/internal/secrets"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// ToolExecutor dispatches one resolved invocation. Satisfied by
// *executor.Executor.
type ToolExecutor interface {
	Execute(ctx context.Context, req *executor.Request) *models.ExecuteToolResult
}

// ToolToggled is the payload of the enable/disable commands.
type ToolToggled struct {
	Tool    *models.ToolAggregate `json:"tool"`
	Changed bool                  `json:"changed"`
}

// CleanupResult is the payload of the orphan cleanup command.
type CleanupResult struct {
	Orphans []string `json:"orphans"`
	Removed int      `json:"removed"`
	DryRun  bool     `json:"dry_run"`
}

// CircuitReset is the payload of the breaker reset command.
type CircuitReset struct {
	Reset int `json:"reset"`
}

// ToolHandlers implements the tool admin and execution commands.
type ToolHandlers struct {
	tools    storage.ToolStore
	sources  storage.SourceStore
	secrets  secrets.Store
	executor ToolExecutor
	circuits *infra.CircuitRegistry
	logger   *slog.Logger
	now      func() time.Time
}

// NewToolHandlers wires the tool command handlers. secrets may be nil
// when no credential store is configured; executor and circuits may be
// nil in admin-only wirings, in which case execute and reset report
// unavailable.
func NewToolHandlers(tools storage.ToolStore, sources storage.SourceStore, sec secrets.Store, exec ToolExecutor, circuits *infra.CircuitRegistry, logger *slog.Logger) *ToolHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolHandlers{
		tools:    tools,
		sources:  sources,
		secrets:  sec,
		executor: exec,
		circuits: circuits,
		logger:   logger.With("component", "commands"),
		now:      time.Now,
	}
}

// Register binds the handlers to the bus.
func (h *ToolHandlers) Register(bus *Bus) error {
	if err := bus.Handle(CmdEnableTool, typed(h.handleEnable)); err != nil {
		return err
	}
	if err := bus.Handle(CmdDisableTool, typed(h.handleDisable)); err != nil {
		return err
	}
	if err := bus.Handle(CmdListTools, typed(h.handleList)); err != nil {
		return err
	}
	if err := bus.Handle(CmdExecuteTool, typed(h.handleExecute)); err != nil {
		return err
	}
	if err := bus.Handle(CmdCleanupTools, typed(h.handleCleanup)); err != nil {
		return err
	}
	return bus.Handle(CmdResetCircuit, typed(h.handleResetCircuit))
}

func (h *ToolHandlers) handleEnable(ctx context.Context, cmd EnableTool) OperationResult {
	return h.setEnabled(ctx, cmd.ID, true)
}

func (h *ToolHandlers) handleDisable(ctx context.Context, cmd DisableTool) OperationResult {
	return h.setEnabled(ctx, cmd.ID, false)
}

func (h *ToolHandlers) setEnabled(ctx context.Context, id string, enabled bool) OperationResult {
	if id == "" {
		return BadRequest("tool id is required")
	}

	tool, err := h.tools.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("tool", id)
		}
		return FromError(err)
	}
	if tool.Status == models.ToolStatusDeleted {
		return Conflict(fmt.Sprintf("tool %q is deleted", id))
	}

	changed := tool.SetEnabled(enabled, h.now())
	if changed {
		if err := h.tools.Update(ctx, tool); err != nil {
			return FromError(err)
		}
		h.logger.Info("tool toggled", "tool_id", id, "enabled", enabled)
	}
	return OK(ToolToggled{Tool: tool, Changed: changed})
}

func (h *ToolHandlers) handleList(ctx context.Context, cmd ListTools) OperationResult {
	var (
		tools []*models.ToolAggregate
		err   error
	)
	if cmd.SourceID != "" {
		if _, err := h.sources.Get(ctx, cmd.SourceID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return NotFound("source", cmd.SourceID)
			}
			return FromError(err)
		}
		tools, err = h.tools.ListBySource(ctx, cmd.SourceID)
	} else {
		tools, err = h.tools.List(ctx)
	}
	if err != nil {
		return FromError(err)
	}

	filtered := make([]*models.ToolAggregate, 0, len(tools))
	for _, tool := range tools {
		if cmd.Status != "" {
			if tool.Status == cmd.Status {
				filtered = append(filtered, tool)
			}
			continue
		}
		if tool.Status == models.ToolStatusDeleted && !cmd.IncludeDeleted {
			continue
		}
		filtered = append(filtered, tool)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })

	return OK(filtered)
}

func (h *ToolHandlers) handleExecute(ctx context.Context, cmd ExecuteTool) OperationResult {
	if cmd.ToolName == "" {
		return BadRequest("tool name is required")
	}
	if h.executor == nil {
		return ServiceUnavailable("tool execution is not configured")
	}

	tool, res := h.resolve(ctx, cmd)
	if tool == nil {
		return res
	}
	if !tool.IsEnabled {
		return Forbidden(fmt.Sprintf("tool %q is disabled", tool.ID))
	}
	if tool.Status == models.ToolStatusDeprecated {
		h.logger.Warn("executing deprecated tool", "tool_id", tool.ID)
	}

	src, err := h.sources.Get(ctx, tool.SourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return InternalError(fmt.Sprintf("tool %q references missing source %q", tool.ID, tool.SourceID))
		}
		return FromError(err)
	}
	if !src.IsEnabled {
		return Forbidden(fmt.Sprintf("source %q is disabled", src.ID))
	}

	var auth *models.AuthConfig
	if h.secrets != nil {
		auth, err = h.secrets.GetAuthConfig(ctx, src.ID)
		if err != nil {
			h.logger.Warn("credential lookup failed", "source_id", src.ID, "error", err)
			auth = nil
		}
	}

	result := h.executor.Execute(ctx, &executor.Request{
		ToolID:          tool.ID,
		Definition:      &tool.Definition,
		Arguments:       cmd.Arguments,
		AgentToken:      cmd.AgentToken,
		SourceID:        src.ID,
		AuthMode:        src.AuthMode,
		AuthConfig:      auth,
		DefaultAudience: src.DefaultAudience,
		MCP:             src.MCP,
		ValidateSchema:  cmd.ValidateSchema,
	})
	return OK(result)
}

// resolve finds the aggregate for an execution request. Name collisions
// across sources pick the first aggregate by id, matching the catalogue.
func (h *ToolHandlers) resolve(ctx context.Context, cmd ExecuteTool) (*models.ToolAggregate, OperationResult) {
	if cmd.SourceID != "" {
		id := models.ToolAggregateID(cmd.SourceID, cmd.ToolName)
		tool, err := h.tools.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, NotFound("tool", id)
			}
			return nil, FromError(err)
		}
		if tool.Status == models.ToolStatusDeleted {
			return nil, NotFound("tool", id)
		}
		return tool, OperationResult{}
	}

	all, err := h.tools.List(ctx)
	if err != nil {
		return nil, FromError(err)
	}
	var match *models.ToolAggregate
	for _, tool := range all {
		if tool.Definition.Name != cmd.ToolName || tool.Status == models.ToolStatusDeleted {
			continue
		}
		if match == nil || tool.ID < match.ID {
			match = tool
		}
	}
	if match == nil {
		return nil, NotFound("tool", cmd.ToolName)
	}
	return match, OperationResult{}
}

func (h *ToolHandlers) handleCleanup(ctx context.Context, cmd CleanupOrphanedTools) OperationResult {
	srcs, err := h.sources.List(ctx)
	if err != nil {
		return FromError(err)
	}
	known := make(map[string]bool, len(srcs))
	for _, src := range srcs {
		known[src.ID] = true
	}

	tools, err := h.tools.List(ctx)
	if err != nil {
		return FromError(err)
	}

	var orphans []string
	for _, tool := range tools {
		if !known[tool.SourceID] {
			orphans = append(orphans, tool.ID)
		}
	}
	sort.Strings(orphans)

	result := CleanupResult{Orphans: orphans, DryRun: !cmd.Apply}
	if !cmd.Apply {
		return OK(result)
	}

	for _, id := range orphans {
		if err := h.tools.Remove(ctx, id); err != nil {
			h.logger.Error("remove orphaned tool", "tool_id", id, "error", err)
			continue
		}
		result.Removed++
	}
	h.logger.Info("orphaned tools removed", "count", result.Removed)
	return OK(result)
}

func (h *ToolHandlers) handleResetCircuit(ctx context.Context, cmd ResetCircuit) OperationResult {
	if h.circuits == nil {
		return ServiceUnavailable("circuit registry is not configured")
	}

	if cmd.CircuitType == "" && cmd.Key == "" {
		n := h.circuits.ResetAll()
		h.logger.Info("all circuits reset", "count", n)
		return OK(CircuitReset{Reset: n})
	}
	if cmd.CircuitType == "" || cmd.Key == "" {
		return BadRequest("circuit type and key must be provided together")
	}

	if !h.circuits.Reset(cmd.CircuitType, cmd.Key) {
		return NotFound("circuit", cmd.CircuitType+"|"+cmd.Key)
	}
	h.logger.Info("circuit reset", "circuit_type", cmd.CircuitType, "key", cmd.Key)
	return OK(CircuitReset{Reset: 1})
}
