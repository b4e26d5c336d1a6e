// Package builtin hosts the in-process tool runtime: a registry of
// named tools that execute locally with no upstream HTTP call and no
// credential resolution. The registry doubles as the catalogue behind
// the builtin:// source, so these tools reconcile into the inventory
// like any remote ones.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tesserahq/toolgate/internal/workspace"
	"github.com/tesserahq/toolgate/pkg/models"
)

// Tool is one in-process operation. Execute never returns a Go error:
// failures travel inside the result so the agent can read them.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With("component", "builtin"),
	}
}

// Register adds a tool, replacing any previous one with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches to the named tool. Unknown names fail in-band,
// matching how every other builtin failure surfaces.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, user UserContext) *models.BuiltinToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return models.BuiltinFail(fmt.Sprintf("unknown builtin tool %q", name))
	}
	started := time.Now()
	res := tool.Execute(ctx, args, user)
	if res == nil {
		res = models.BuiltinFail(fmt.Sprintf("builtin tool %q returned no result", name))
	}
	r.logger.Debug("builtin executed",
		"tool", name,
		"success", res.Success,
		"duration_ms", time.Since(started).Milliseconds())
	return res
}

// Definitions exports the registry as normalized tool definitions for
// the builtin source adapter.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		locator := models.BuiltinScheme + t.Name()
		defs = append(defs, models.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
			SourcePath:  locator,
			Tags:        []string{"builtin"},
			Execution: models.ExecutionProfile{
				Mode:        models.ModeBuiltin,
				URLTemplate: locator,
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Deps carries the shared infrastructure the default tool set needs.
// Redis may be nil; the memory tools fall back to workspace files.
type Deps struct {
	Workspace  *workspace.Manager
	Redis      redis.UniversalClient
	HTTPClient *http.Client

	// FetchMaxBytes caps web_fetch response bodies. Zero selects the
	// default.
	FetchMaxBytes int64
	// FetchTimeout bounds a single web_fetch call.
	FetchTimeout time.Duration
	// CodeTimeout bounds one code_execute run unless the call asks for
	// less.
	CodeTimeout time.Duration

	Logger *slog.Logger
}

// NewDefaultRegistry builds the standard tool set.
func NewDefaultRegistry(deps Deps) *Registry {
	if deps.Workspace == nil {
		deps.Workspace = workspace.NewManager(workspace.Config{})
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := NewRegistry(deps.Logger)

	r.Register(newFetchTool(deps.HTTPClient, deps.Workspace, deps.FetchMaxBytes, deps.FetchTimeout))
	r.Register(&currentTimeTool{})
	r.Register(&calculateTool{})
	r.Register(&uuidTool{})
	r.Register(&encodeDecodeTool{})
	r.Register(&regexMatchTool{})
	r.Register(&jsonQueryTool{})
	r.Register(&textStatsTool{})
	r.Register(&fileWriteTool{ws: deps.Workspace})
	r.Register(&fileReadTool{ws: deps.Workspace})
	r.Register(&spreadsheetReadTool{ws: deps.Workspace})
	r.Register(&spreadsheetWriteTool{ws: deps.Workspace})

	mem := newMemoryBackend(deps.Redis, deps.Workspace, deps.Logger)
	r.Register(&memoryStoreTool{backend: mem})
	r.Register(&memoryRetrieveTool{backend: mem})

	r.Register(newCodeExecuteTool(deps.CodeTimeout))
	r.Register(&askHumanTool{})

	return r
}
