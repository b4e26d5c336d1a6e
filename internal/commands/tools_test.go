package commands

import (
	"context"
	"testing"
	"time"

	"github.com/tesserahq/toolgate/internal/executor"
	"github.com/tesserahq/toolgate/internal/infra"
	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

type stubExecutor struct {
	req    *executor.Request
	result *models.ExecuteToolResult
}

func (s *stubExecutor) Execute(ctx context.Context, req *executor.Request) *models.ExecuteToolResult {
	s.req = req
	if s.result != nil {
		return s.result
	}
	return models.CompletedResult("stub-ok", 1)
}

type toolHarness struct {
	stores   storage.StoreSet
	executor *stubExecutor
	circuits *infra.CircuitRegistry
	bus      *Bus
}

func newToolHarness(t *testing.T) *toolHarness {
	t.Helper()

	stores := storage.NewMemoryStores()
	exec := &stubExecutor{}
	circuits := infra.NewCircuitRegistry(infra.CircuitConfig{})

	handlers := NewToolHandlers(stores.Tools, stores.Sources, nil, exec, circuits, testLogger())
	bus := NewBus(testLogger())
	if err := handlers.Register(bus); err != nil {
		t.Fatalf("register handlers: %v", err)
	}
	return &toolHarness{stores: stores, executor: exec, circuits: circuits, bus: bus}
}

func (h *toolHarness) seedSource(t *testing.T, id string, enabled bool) *models.SourceAggregate {
	t.Helper()
	src := models.NewSourceAggregate(id, id, "https://"+id+".example.com", models.SourceTypeOpenAPI, models.AuthModeAPIKey, time.Now())
	src.IsEnabled = enabled
	if err := h.stores.Sources.Add(context.Background(), src); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return src
}

func (h *toolHarness) seedTool(t *testing.T, sourceID, name string) *models.ToolAggregate {
	t.Helper()
	def := models.ToolDefinition{
		Name:        name,
		InputSchema: models.EmptyObjectSchema(),
		Execution: models.ExecutionProfile{
			Mode:        models.ModeSyncHTTP,
			Method:      "GET",
			URLTemplate: "https://api.example.com/" + name,
		},
	}
	tool := models.NewToolAggregate(sourceID, def, time.Now())
	if err := h.stores.Tools.Add(context.Background(), tool); err != nil {
		t.Fatalf("seed tool: %v", err)
	}
	return tool
}

func TestEnableDisableTool(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	h.seedSource(t, "s1", true)
	tool := h.seedTool(t, "s1", "get_weather")

	res := h.bus.Execute(ctx, DisableTool{ID: tool.ID})
	if !res.OK() {
		t.Fatalf("disable: %s %s", res.Status, res.Detail)
	}
	payload := res.Data.(ToolToggled)
	if !payload.Changed || payload.Tool.IsEnabled {
		t.Errorf("payload = %+v", payload)
	}

	// Disabling again is an idempotent no-op.
	res = h.bus.Execute(ctx, DisableTool{ID: tool.ID})
	if payload := res.Data.(ToolToggled); payload.Changed {
		t.Error("second disable reported Changed = true")
	}

	res = h.bus.Execute(ctx, EnableTool{ID: tool.ID})
	if payload := res.Data.(ToolToggled); !payload.Changed || !payload.Tool.IsEnabled {
		t.Errorf("enable payload = %+v", payload)
	}

	stored, err := h.stores.Tools.Get(ctx, tool.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.IsEnabled {
		t.Error("persisted tool is still disabled")
	}
}

func TestToggleToolNotFound(t *testing.T) {
	h := newToolHarness(t)

	res := h.bus.Execute(context.Background(), EnableTool{ID: "ghost:tool"})
	if res.Status != StatusNotFound {
		t.Errorf("status = %s, want %s", res.Status, StatusNotFound)
	}
}

func TestToggleDeletedTool(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	h.seedSource(t, "s1", true)
	tool := h.seedTool(t, "s1", "old_tool")
	tool.MarkDeleted(time.Now())
	if err := h.stores.Tools.Update(ctx, tool); err != nil {
		t.Fatalf("Update: %v", err)
	}

	res := h.bus.Execute(ctx, EnableTool{ID: tool.ID})
	if res.Status != StatusConflict {
		t.Errorf("status = %s, want %s", res.Status, StatusConflict)
	}
}

func TestListTools(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	h.seedSource(t, "s1", true)
	h.seedSource(t, "s2", true)
	h.seedTool(t, "s1", "alpha")
	deprecated := h.seedTool(t, "s1", "beta")
	deprecated.Deprecate(time.Now())
	if err := h.stores.Tools.Update(ctx, deprecated); err != nil {
		t.Fatalf("Update: %v", err)
	}
	deleted := h.seedTool(t, "s2", "gamma")
	deleted.MarkDeleted(time.Now())
	if err := h.stores.Tools.Update(ctx, deleted); err != nil {
		t.Fatalf("Update: %v", err)
	}

	t.Run("default excludes tombstones", func(t *testing.T) {
		res := h.bus.Execute(ctx, ListTools{})
		tools := res.Data.([]*models.ToolAggregate)
		if len(tools) != 2 {
			t.Fatalf("got %d tools, want 2", len(tools))
		}
		if tools[0].ID != "s1:alpha" || tools[1].ID != "s1:beta" {
			t.Errorf("order = %s, %s", tools[0].ID, tools[1].ID)
		}
	})

	t.Run("include deleted", func(t *testing.T) {
		res := h.bus.Execute(ctx, ListTools{IncludeDeleted: true})
		if tools := res.Data.([]*models.ToolAggregate); len(tools) != 3 {
			t.Errorf("got %d tools, want 3", len(tools))
		}
	})

	t.Run("status filter", func(t *testing.T) {
		res := h.bus.Execute(ctx, ListTools{Status: models.ToolStatusDeprecated})
		tools := res.Data.([]*models.ToolAggregate)
		if len(tools) != 1 || tools[0].ID != "s1:beta" {
			t.Errorf("tools = %v", tools)
		}
	})

	t.Run("by source", func(t *testing.T) {
		res := h.bus.Execute(ctx, ListTools{SourceID: "s2", IncludeDeleted: true})
		if tools := res.Data.([]*models.ToolAggregate); len(tools) != 1 {
			t.Errorf("got %d tools, want 1", len(tools))
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		res := h.bus.Execute(ctx, ListTools{SourceID: "ghost"})
		if res.Status != StatusNotFound {
			t.Errorf("status = %s, want %s", res.Status, StatusNotFound)
		}
	})
}

func TestExecuteTool(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	src := h.seedSource(t, "s1", true)
	src.DefaultAudience = "weather-api"
	if err := h.stores.Sources.Update(ctx, src); err != nil {
		t.Fatalf("Update: %v", err)
	}
	h.seedTool(t, "s1", "get_weather")

	res := h.bus.Execute(ctx, ExecuteTool{
		ToolName:   "get_weather",
		Arguments:  map[string]any{"city": "London"},
		AgentToken: "subject-token",
	})
	if !res.OK() {
		t.Fatalf("status = %s, detail = %s", res.Status, res.Detail)
	}

	result, ok := res.Data.(*models.ExecuteToolResult)
	if !ok {
		t.Fatalf("Data type = %T", res.Data)
	}
	if result.Result != "stub-ok" {
		t.Errorf("Result = %v", result.Result)
	}

	req := h.executor.req
	if req == nil {
		t.Fatal("executor was not invoked")
	}
	if req.ToolID != "s1:get_weather" || req.SourceID != "s1" {
		t.Errorf("request ids = %s / %s", req.ToolID, req.SourceID)
	}
	if req.AuthMode != models.AuthModeAPIKey {
		t.Errorf("AuthMode = %s", req.AuthMode)
	}
	if req.DefaultAudience != "weather-api" {
		t.Errorf("DefaultAudience = %q", req.DefaultAudience)
	}
	if req.Arguments["city"] != "London" {
		t.Errorf("Arguments = %v", req.Arguments)
	}
	if req.AgentToken != "subject-token" {
		t.Error("agent token was not forwarded")
	}
}

func TestExecuteToolResolution(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	h.seedSource(t, "a", true)
	h.seedSource(t, "b", true)
	h.seedTool(t, "b", "shared")
	h.seedTool(t, "a", "shared")

	// Collisions resolve to the first aggregate by id.
	res := h.bus.Execute(ctx, ExecuteTool{ToolName: "shared"})
	if !res.OK() {
		t.Fatalf("status = %s", res.Status)
	}
	if h.executor.req.ToolID != "a:shared" {
		t.Errorf("resolved %s, want a:shared", h.executor.req.ToolID)
	}

	// An explicit source pins the aggregate.
	res = h.bus.Execute(ctx, ExecuteTool{ToolName: "shared", SourceID: "b"})
	if !res.OK() {
		t.Fatalf("status = %s", res.Status)
	}
	if h.executor.req.ToolID != "b:shared" {
		t.Errorf("resolved %s, want b:shared", h.executor.req.ToolID)
	}
}

func TestExecuteToolRejections(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	h.seedSource(t, "s1", true)
	h.seedSource(t, "dead", false)

	disabled := h.seedTool(t, "s1", "off_tool")
	disabled.SetEnabled(false, time.Now())
	if err := h.stores.Tools.Update(ctx, disabled); err != nil {
		t.Fatalf("Update: %v", err)
	}
	h.seedTool(t, "dead", "dead_tool")

	deleted := h.seedTool(t, "s1", "gone_tool")
	deleted.MarkDeleted(time.Now())
	if err := h.stores.Tools.Update(ctx, deleted); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tests := []struct {
		name string
		cmd  ExecuteTool
		want Status
	}{
		{"empty name", ExecuteTool{}, StatusBadRequest},
		{"unknown tool", ExecuteTool{ToolName: "nope"}, StatusNotFound},
		{"disabled tool", ExecuteTool{ToolName: "off_tool"}, StatusForbidden},
		{"disabled source", ExecuteTool{ToolName: "dead_tool"}, StatusForbidden},
		{"deleted tool", ExecuteTool{ToolName: "gone_tool", SourceID: "s1"}, StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.bus.Execute(ctx, tt.cmd)
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s (detail %q)", res.Status, tt.want, res.Detail)
			}
		})
	}
}

func TestCleanupOrphanedTools(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	h.seedSource(t, "s1", true)
	h.seedTool(t, "s1", "kept")
	h.seedTool(t, "ghost", "orphan_a")
	h.seedTool(t, "ghost", "orphan_b")

	res := h.bus.Execute(ctx, CleanupOrphanedTools{})
	if !res.OK() {
		t.Fatalf("dry run: %s", res.Detail)
	}
	payload := res.Data.(CleanupResult)
	if !payload.DryRun || payload.Removed != 0 {
		t.Errorf("payload = %+v", payload)
	}
	if len(payload.Orphans) != 2 || payload.Orphans[0] != "ghost:orphan_a" {
		t.Errorf("Orphans = %v", payload.Orphans)
	}

	// Dry run must not remove anything.
	if all, _ := h.stores.Tools.List(ctx); len(all) != 3 {
		t.Fatalf("dry run removed tools: %d left", len(all))
	}

	res = h.bus.Execute(ctx, CleanupOrphanedTools{Apply: true})
	payload = res.Data.(CleanupResult)
	if payload.DryRun || payload.Removed != 2 {
		t.Errorf("payload = %+v", payload)
	}
	all, _ := h.stores.Tools.List(ctx)
	if len(all) != 1 || all[0].ID != "s1:kept" {
		t.Errorf("remaining tools = %v", all)
	}
}

func TestResetCircuit(t *testing.T) {
	h := newToolHarness(t)
	ctx := context.Background()
	h.circuits.Get("tool_call", "s1")
	h.circuits.Get("token_exchange", "keycloak")

	t.Run("by key", func(t *testing.T) {
		res := h.bus.Execute(ctx, ResetCircuit{CircuitType: "tool_call", Key: "s1"})
		if !res.OK() {
			t.Fatalf("status = %s", res.Status)
		}
		if payload := res.Data.(CircuitReset); payload.Reset != 1 {
			t.Errorf("Reset = %d, want 1", payload.Reset)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		res := h.bus.Execute(ctx, ResetCircuit{CircuitType: "tool_call", Key: "ghost"})
		if res.Status != StatusNotFound {
			t.Errorf("status = %s, want %s", res.Status, StatusNotFound)
		}
	})

	t.Run("partial key", func(t *testing.T) {
		res := h.bus.Execute(ctx, ResetCircuit{CircuitType: "tool_call"})
		if res.Status != StatusBadRequest {
			t.Errorf("status = %s, want %s", res.Status, StatusBadRequest)
		}
	})

	t.Run("all", func(t *testing.T) {
		res := h.bus.Execute(ctx, ResetCircuit{})
		if !res.OK() {
			t.Fatalf("status = %s", res.Status)
		}
		if payload := res.Data.(CircuitReset); payload.Reset != 2 {
			t.Errorf("Reset = %d, want 2", payload.Reset)
		}
	})
}
