package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// defaultWatchDebounce coalesces the burst of fs events a plugin
// reinstall produces into one refresh.
const defaultWatchDebounce = 500 * time.Millisecond

// Watcher refreshes MCP plugin sources when their manifest directory
// changes on disk. Only sources with an mcp_config plugin_dir are
// watched; server-backed MCP sources announce changes over the wire
// instead.
type Watcher struct {
	reconciler  *Reconciler
	sourceStore storage.SourceStore
	logger      *slog.Logger
	debounce    time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	byDir    map[string]string // plugin dir -> source id
	dirty    map[string]struct{}
	timer    *time.Timer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher; call Start to begin observing.
func NewWatcher(reconciler *Reconciler, sourceStore storage.SourceStore) *Watcher {
	return &Watcher{
		reconciler:  reconciler,
		sourceStore: sourceStore,
		logger:      slog.Default().With("component", "plugin-watcher"),
		debounce:    defaultWatchDebounce,
		byDir:       make(map[string]string),
		dirty:       make(map[string]struct{}),
	}
}

// Start registers every plugin directory known at call time and begins
// the event loop. Sources registered later are picked up by calling
// Start again (it re-reads the source list) or by the scheduler's
// regular sweep.
func (w *Watcher) Start(ctx context.Context) error {
	srcs, err := w.sourceStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	w.mu.Lock()
	if w.watcher == nil {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			w.mu.Unlock()
			return fmt.Errorf("create fs watcher: %w", err)
		}
		w.watcher = fsw
		watchCtx, cancel := context.WithCancel(ctx)
		w.cancel = cancel
		w.wg.Add(1)
		go w.loop(watchCtx)
	}
	fsw := w.watcher
	w.mu.Unlock()

	watched := 0
	for _, src := range srcs {
		if src.SourceType != models.SourceTypeMCP || src.MCP == nil || src.MCP.PluginDir == "" {
			continue
		}
		w.mu.Lock()
		_, known := w.byDir[src.MCP.PluginDir]
		if !known {
			w.byDir[src.MCP.PluginDir] = src.ID
		}
		w.mu.Unlock()
		if known {
			continue
		}
		if err := fsw.Add(src.MCP.PluginDir); err != nil {
			w.logger.Warn("watch plugin dir failed",
				"source_id", src.ID, "dir", src.MCP.PluginDir, "error", err)
			continue
		}
		watched++
	}
	if watched > 0 {
		w.logger.Info("watching plugin directories", "count", watched)
	}
	return nil
}

// Close stops the event loop and releases the fs watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fsw := w.watcher
	w.watcher = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fsw := w.watcher
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.markDirty(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plugin watch error", "error", err)
		}
	}
}

// markDirty records the source owning the changed path and arms the
// debounce timer.
func (w *Watcher) markDirty(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sourceID := ""
	for dir, id := range w.byDir {
		if strings.HasPrefix(path, dir) {
			sourceID = id
			break
		}
	}
	if sourceID == "" {
		return
	}
	w.dirty[sourceID] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

// flush refreshes every dirty source. Changed manifests force the
// refresh so a rewrite that produces the same inventory hash still
// re-reads the plugin.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	dirty := make([]string, 0, len(w.dirty))
	for id := range w.dirty {
		dirty = append(dirty, id)
	}
	w.dirty = make(map[string]struct{})
	w.mu.Unlock()

	for _, id := range dirty {
		w.logger.Info("plugin change detected, refreshing", "source_id", id)
		if _, err := w.reconciler.Refresh(ctx, id, true); err != nil {
			w.logger.Warn("plugin-triggered refresh failed", "source_id", id, "error", err)
		}
	}
}
