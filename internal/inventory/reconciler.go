// Package inventory keeps the persisted tool catalogue in step with
// what the source adapters discover. The reconciler diffs each
// ingestion result against stored aggregates; the scheduler and the
// plugin watcher decide when that happens.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tesserahq/toolgate/internal/sources"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// CredentialSource resolves upstream credentials for a source at
// refresh time. Credentials never ride on the aggregate itself.
type CredentialSource interface {
	GetAuthConfig(ctx context.Context, sourceID string) (*models.AuthConfig, error)
}

// RefreshResult summarizes one reconciliation round for a source.
type RefreshResult struct {
	SourceID        string   `json:"source_id"`
	ToolsDiscovered int      `json:"tools_discovered"`
	ToolsCreated    int      `json:"tools_created"`
	ToolsUpdated    int      `json:"tools_updated"`
	ToolsRestored   int      `json:"tools_restored"`
	ToolsDeprecated int      `json:"tools_deprecated"`
	InventoryHash   string   `json:"inventory_hash"`
	SourceVersion   string   `json:"source_version,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Skipped         bool     `json:"skipped"`
	DurationMs      int64    `json:"duration_ms"`
}

// Reconciler turns adapter output into aggregate mutations. Tools that
// vanish upstream are deprecated, never deleted; deletion stays an
// explicit admin action.
type Reconciler struct {
	sourceStore storage.SourceStore
	toolStore   storage.ToolStore
	adapters    *sources.Registry
	credentials CredentialSource
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	observers []func(models.ToolChange)
	onRefresh []func(sourceType models.SourceType, outcome string)
}

// NewReconciler wires the reconciler to its stores and adapter
// registry. credentials may be nil; sources then ingest anonymously.
func NewReconciler(sourceStore storage.SourceStore, toolStore storage.ToolStore, adapters *sources.Registry, credentials CredentialSource) *Reconciler {
	return &Reconciler{
		sourceStore: sourceStore,
		toolStore:   toolStore,
		adapters:    adapters,
		credentials: credentials,
		logger:      slog.Default().With("component", "inventory"),
		now:         time.Now,
	}
}

// OnToolChange registers an observer for aggregate mutations. Observers
// run synchronously on the refreshing goroutine and must not block.
func (r *Reconciler) OnToolChange(fn func(models.ToolChange)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// OnRefresh registers an observer for refresh outcomes: "completed",
// "unchanged", or "failed". Same threading rules as OnToolChange.
func (r *Reconciler) OnRefresh(fn func(sourceType models.SourceType, outcome string)) {
	r.mu.Lock()
	r.onRefresh = append(r.onRefresh, fn)
	r.mu.Unlock()
}

func (r *Reconciler) emitRefresh(sourceType models.SourceType, outcome string) {
	r.mu.Lock()
	observers := append(([]func(models.SourceType, string))(nil), r.onRefresh...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(sourceType, outcome)
	}
}

func (r *Reconciler) emit(change models.ToolChange) {
	r.mu.Lock()
	observers := append(([]func(models.ToolChange))(nil), r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(change)
	}
}

// Refresh ingests one source and reconciles the result against the
// persisted aggregates. An unchanged inventory hash short-circuits the
// diff unless force is set. Adapter failures update the source's
// failure accounting and leave every tool untouched.
func (r *Reconciler) Refresh(ctx context.Context, sourceID string, force bool) (*RefreshResult, error) {
	start := r.now()

	src, err := r.sourceStore.Get(ctx, sourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.NewNotFoundError("source", sourceID)
		}
		return nil, fmt.Errorf("load source %s: %w", sourceID, err)
	}

	adapter, ok := r.adapters.For(src.SourceType)
	if !ok {
		return nil, models.NewInternalError(fmt.Sprintf("no adapter registered for source type %q", src.SourceType))
	}

	var auth *models.AuthConfig
	if r.credentials != nil {
		auth, err = r.credentials.GetAuthConfig(ctx, sourceID)
		if err != nil {
			r.logger.Warn("credential lookup failed, ingesting anonymously",
				"source_id", sourceID, "error", err)
			auth = nil
		}
	}

	res, ferr := adapter.FetchAndNormalize(ctx, src, auth)
	if ferr != nil {
		now := r.now()
		src.RecordSyncFailure(ferr.Error(), now)
		if uerr := r.sourceStore.Update(ctx, src); uerr != nil {
			r.logger.Error("persist sync failure", "source_id", sourceID, "error", uerr)
		}
		r.logger.Warn("inventory refresh failed",
			"source_id", sourceID,
			"consecutive_failures", src.ConsecutiveFailures,
			"health", src.HealthStatus,
			"error", ferr)
		r.emitRefresh(src.SourceType, "failed")
		return nil, ferr
	}

	result := &RefreshResult{
		SourceID:        sourceID,
		ToolsDiscovered: len(res.Tools),
		InventoryHash:   res.InventoryHash,
		SourceVersion:   res.SourceVersion,
		Warnings:        res.Warnings,
	}

	// Unchanged content still counts as a successful sync: the hash and
	// last_sync_at move forward and the failure streak resets.
	if res.InventoryHash == src.InventoryHash && !force {
		src.RecordSync(res.InventoryHash, r.now())
		if err := r.sourceStore.Update(ctx, src); err != nil {
			return nil, fmt.Errorf("record sync for %s: %w", sourceID, err)
		}
		result.Skipped = true
		result.DurationMs = r.now().Sub(start).Milliseconds()
		r.logger.Debug("inventory unchanged", "source_id", sourceID, "hash", res.InventoryHash)
		r.emitRefresh(src.SourceType, "unchanged")
		return result, nil
	}

	existing, err := r.toolStore.ListBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list tools for %s: %w", sourceID, err)
	}
	byID := make(map[string]*models.ToolAggregate, len(existing))
	for _, t := range existing {
		byID[t.ID] = t
	}

	now := r.now()
	seen := make(map[string]bool, len(res.Tools))
	for _, def := range res.Tools {
		id := models.ToolAggregateID(sourceID, def.Name)
		seen[id] = true
		cur, ok := byID[id]
		switch {
		case !ok:
			agg := models.NewToolAggregate(sourceID, def, now)
			if err := r.toolStore.Add(ctx, agg); err != nil {
				return nil, fmt.Errorf("create tool %s: %w", id, err)
			}
			result.ToolsCreated++
			r.emit(models.ToolChange{Kind: models.ChangeCreated, ToolID: id, SourceID: sourceID, Name: def.Name, Definition: &def, At: now})

		case cur.Status == models.ToolStatusDeleted:
			// Tombstones stay dead even when upstream still lists the
			// operation; resurrecting one is an explicit admin action.
			r.logger.Debug("upstream still advertises deleted tool", "tool_id", id)

		case cur.Status == models.ToolStatusDeprecated:
			cur.Restore(def, now)
			if err := r.toolStore.Update(ctx, cur); err != nil {
				return nil, fmt.Errorf("restore tool %s: %w", id, err)
			}
			result.ToolsRestored++
			r.emit(models.ToolChange{Kind: models.ChangeRestored, ToolID: id, SourceID: sourceID, Name: def.Name, Definition: &def, At: now})

		case !cur.DefinitionEquals(def):
			cur.UpdateDefinition(def, now)
			if err := r.toolStore.Update(ctx, cur); err != nil {
				return nil, fmt.Errorf("update tool %s: %w", id, err)
			}
			result.ToolsUpdated++
			r.emit(models.ToolChange{Kind: models.ChangeUpdated, ToolID: id, SourceID: sourceID, Name: def.Name, Definition: &def, At: now})

		default:
			cur.Touch(now)
			if err := r.toolStore.Update(ctx, cur); err != nil {
				return nil, fmt.Errorf("touch tool %s: %w", id, err)
			}
		}
	}

	for _, cur := range existing {
		if seen[cur.ID] || cur.Status != models.ToolStatusActive {
			continue
		}
		cur.Deprecate(now)
		if err := r.toolStore.Update(ctx, cur); err != nil {
			return nil, fmt.Errorf("deprecate tool %s: %w", cur.ID, err)
		}
		result.ToolsDeprecated++
		r.emit(models.ToolChange{Kind: models.ChangeDeprecated, ToolID: cur.ID, SourceID: sourceID, Name: cur.Definition.Name, At: now})
	}

	src.RecordSync(res.InventoryHash, now)
	if err := r.sourceStore.Update(ctx, src); err != nil {
		return nil, fmt.Errorf("record sync for %s: %w", sourceID, err)
	}

	result.DurationMs = r.now().Sub(start).Milliseconds()
	r.logger.Info("inventory reconciled",
		"source_id", sourceID,
		"discovered", result.ToolsDiscovered,
		"created", result.ToolsCreated,
		"updated", result.ToolsUpdated,
		"restored", result.ToolsRestored,
		"deprecated", result.ToolsDeprecated,
		"hash", res.InventoryHash,
		"warnings", len(res.Warnings))
	r.emitRefresh(src.SourceType, "completed")
	return result, nil
}
