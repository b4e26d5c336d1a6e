package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tesserahq/toolgate/internal/inventory"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// SourceResult is the payload of the source admin commands.
type SourceResult struct {
	Source *models.SourceAggregate `json:"source"`

	// Changed reports whether an update actually modified the aggregate.
	Changed bool `json:"changed,omitempty"`

	// Refresh carries the ingest outcome when one ran. RefreshError is
	// set instead when the ingest failed; the command itself still
	// succeeds and the source carries the failure accounting.
	Refresh      *inventory.RefreshResult `json:"refresh,omitempty"`
	RefreshError string                   `json:"refresh_error,omitempty"`
}

// SourceDeleted is the payload of a successful source deletion.
type SourceDeleted struct {
	ID              string `json:"id"`
	ToolsDeprecated int    `json:"tools_deprecated"`
}

// SourceHandlers implements the source admin commands.
type SourceHandlers struct {
	sources    storage.SourceStore
	tools      storage.ToolStore
	reconciler *inventory.Reconciler
	logger     *slog.Logger
	now        func() time.Time
}

// NewSourceHandlers wires the source command handlers.
func NewSourceHandlers(sources storage.SourceStore, tools storage.ToolStore, reconciler *inventory.Reconciler, logger *slog.Logger) *SourceHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceHandlers{
		sources:    sources,
		tools:      tools,
		reconciler: reconciler,
		logger:     logger.With("component", "commands"),
		now:        time.Now,
	}
}

// Register binds the handlers to the bus.
func (h *SourceHandlers) Register(bus *Bus) error {
	if err := bus.Handle(CmdRegisterSource, typed(h.handleRegister)); err != nil {
		return err
	}
	if err := bus.Handle(CmdUpdateSource, typed(h.handleUpdate)); err != nil {
		return err
	}
	if err := bus.Handle(CmdRefreshSource, typed(h.handleRefresh)); err != nil {
		return err
	}
	if err := bus.Handle(CmdDeleteSource, typed(h.handleDelete)); err != nil {
		return err
	}
	return bus.Handle(CmdListSources, typed(h.handleList))
}

// SourceList is the payload of the source listing command.
type SourceList struct {
	Sources []*models.SourceAggregate `json:"sources"`
}

func (h *SourceHandlers) handleList(ctx context.Context, cmd ListSources) OperationResult {
	sources, err := h.sources.List(ctx)
	if err != nil {
		return FromError(err)
	}
	return OK(SourceList{Sources: sources})
}

func (h *SourceHandlers) handleRegister(ctx context.Context, cmd RegisterSource) OperationResult {
	if cmd.SourceName == "" {
		return BadRequest("source name is required")
	}
	if cmd.URL == "" {
		return BadRequest("source url is required")
	}
	switch cmd.SourceType {
	case models.SourceTypeOpenAPI, models.SourceTypeMCP, models.SourceTypeBuiltin:
	default:
		return BadRequest(fmt.Sprintf("unknown source type %q", cmd.SourceType))
	}
	authMode := cmd.AuthMode
	if authMode == "" {
		authMode = models.AuthModeNone
	}
	switch authMode {
	case models.AuthModeNone, models.AuthModeAPIKey, models.AuthModeHTTPBasic,
		models.AuthModeClientCredentials, models.AuthModeTokenExchange:
	default:
		return BadRequest(fmt.Sprintf("unknown auth mode %q", authMode))
	}
	if cmd.SourceType == models.SourceTypeMCP && cmd.MCP == nil {
		return BadRequest("mcp sources require mcp_config")
	}

	id := cmd.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := h.now()
	src := models.NewSourceAggregate(id, cmd.SourceName, cmd.URL, cmd.SourceType, authMode, now)
	src.SpecURL = cmd.SpecURL
	src.DefaultAudience = cmd.DefaultAudience
	src.RequiredScopes = append([]string(nil), cmd.RequiredScopes...)
	if cmd.MCP != nil {
		cp := *cmd.MCP
		src.MCP = &cp
	}

	if err := h.sources.Add(ctx, src); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return Conflict(fmt.Sprintf("source %q already exists", id))
		}
		return FromError(err)
	}
	h.logger.Info("source registered",
		"source_id", id,
		"source_type", src.SourceType,
		"auth_mode", src.AuthMode)

	result := SourceResult{Source: src}
	if !cmd.SkipRefresh {
		result.Refresh, result.RefreshError = h.refresh(ctx, id, true)
		// Re-read: the refresh updated sync state on its own copy.
		if updated, err := h.sources.Get(ctx, id); err == nil {
			result.Source = updated
		}
	}
	return OK(result)
}

func (h *SourceHandlers) handleUpdate(ctx context.Context, cmd UpdateSource) OperationResult {
	if cmd.ID == "" {
		return BadRequest("source id is required")
	}

	src, err := h.sources.Get(ctx, cmd.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("source", cmd.ID)
		}
		return FromError(err)
	}

	changed := src.ApplyPatch(cmd.Patch, h.now())
	if changed {
		if err := h.sources.Update(ctx, src); err != nil {
			return FromError(err)
		}
		h.logger.Info("source updated", "source_id", cmd.ID, "version", src.Version)
	}

	result := SourceResult{Source: src, Changed: changed}
	if cmd.Refresh {
		result.Refresh, result.RefreshError = h.refresh(ctx, cmd.ID, true)
		if updated, err := h.sources.Get(ctx, cmd.ID); err == nil {
			result.Source = updated
		}
	}
	return OK(result)
}

func (h *SourceHandlers) handleRefresh(ctx context.Context, cmd RefreshSource) OperationResult {
	if cmd.ID == "" {
		return BadRequest("source id is required")
	}

	res, err := h.reconciler.Refresh(ctx, cmd.ID, cmd.Force)
	if err != nil {
		if _, ok := models.AsToolError(err); ok {
			return FromError(err)
		}
		// Adapter failures are upstream trouble, not gateway faults.
		return ServiceUnavailable(err.Error())
	}
	return OK(res)
}

func (h *SourceHandlers) handleDelete(ctx context.Context, cmd DeleteSource) OperationResult {
	if cmd.ID == "" {
		return BadRequest("source id is required")
	}

	if _, err := h.sources.Get(ctx, cmd.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NotFound("source", cmd.ID)
		}
		return FromError(err)
	}

	// Cascade order is pinned: deprecate the tools, then remove the
	// source. A crash in between leaves deprecated tools behind, which
	// the orphan cleanup can remove.
	tools, err := h.tools.ListBySource(ctx, cmd.ID)
	if err != nil {
		return FromError(err)
	}

	now := h.now()
	deprecated := 0
	for _, tool := range tools {
		if tool.Status != models.ToolStatusActive {
			continue
		}
		tool.Deprecate(now)
		if err := h.tools.Update(ctx, tool); err != nil {
			h.logger.Error("deprecate tool during source delete",
				"tool_id", tool.ID, "error", err)
			continue
		}
		deprecated++
	}

	if err := h.sources.Remove(ctx, cmd.ID); err != nil {
		return FromError(err)
	}
	h.logger.Info("source deleted", "source_id", cmd.ID, "tools_deprecated", deprecated)

	return OK(SourceDeleted{ID: cmd.ID, ToolsDeprecated: deprecated})
}

// refresh runs a forced ingest and folds the outcome into the shape
// the source commands report. Ingest failures do not fail the command.
func (h *SourceHandlers) refresh(ctx context.Context, sourceID string, force bool) (*inventory.RefreshResult, string) {
	res, err := h.reconciler.Refresh(ctx, sourceID, force)
	if err != nil {
		h.logger.Warn("initial ingest failed", "source_id", sourceID, "error", err)
		return nil, err.Error()
	}
	return res, ""
}
