package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tesserahq/toolgate/internal/mcp"
	"github.com/tesserahq/toolgate/pkg/models"
)

// fakeMCPServer answers the JSON-RPC handshake, tools/list and
// notifications over HTTP.
type fakeMCPServer struct {
	t           *testing.T
	initializes atomic.Int32
	toolLists   atomic.Int32
	tools       []map[string]any
}

func (f *fakeMCPServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r) // SSE probe
			return
		}
		var req struct {
			ID     any             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decode request: %v", err)
			return
		}
		if req.ID == nil {
			w.WriteHeader(http.StatusOK)
			return
		}

		var result any
		switch req.Method {
		case "initialize":
			f.initializes.Add(1)
			result = map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]any{"name": "fake-mcp", "version": "9.9.9"},
				"capabilities":    map[string]any{"tools": map[string]any{}},
			}
		case "tools/list":
			f.toolLists.Add(1)
			result = map[string]any{"tools": f.tools}
		default:
			f.t.Errorf("unexpected method %q", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
}

func newFakeMCPServer(t *testing.T) (*fakeMCPServer, *httptest.Server) {
	t.Helper()
	fake := &fakeMCPServer{
		t: t,
		tools: []map[string]any{
			{
				"name":        "get_weather",
				"description": "Fetch a forecast",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"city": map[string]any{"type": "string"}},
				},
			},
			{
				"name":        "ping",
				"description": "No schema at all",
			},
		},
	}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func TestMCPAdapterTransient(t *testing.T) {
	fake, srv := newFakeMCPServer(t)

	adapter := NewMCPAdapter(nil)
	src := &models.SourceAggregate{
		ID:  "src-mcp",
		MCP: &models.MCPConfig{ServerURL: srv.URL, Lifecycle: models.LifecycleTransient},
	}
	result, err := adapter.FetchAndNormalize(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("FetchAndNormalize: %v", err)
	}

	if fake.initializes.Load() != 1 || fake.toolLists.Load() != 1 {
		t.Errorf("initializes = %d, toolLists = %d, want 1 and 1",
			fake.initializes.Load(), fake.toolLists.Load())
	}
	if len(result.Tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(result.Tools))
	}
	if result.SourceVersion != "9.9.9" {
		t.Errorf("SourceVersion = %q, want 9.9.9", result.SourceVersion)
	}

	weather := result.Tools[0]
	if weather.Name != "get_weather" {
		t.Fatalf("first tool = %q, want get_weather", weather.Name)
	}
	if weather.Execution.Mode != models.ModeMCPCall {
		t.Errorf("Mode = %q, want %q", weather.Execution.Mode, models.ModeMCPCall)
	}
	if want := models.MCPScheme + srv.URL + "#get_weather"; weather.SourcePath != want {
		t.Errorf("SourcePath = %q, want %q", weather.SourcePath, want)
	}
	if !reflect.DeepEqual(weather.Tags, []string{"mcp"}) {
		t.Errorf("Tags = %v, want [mcp]", weather.Tags)
	}
	props := weather.InputSchema["properties"].(map[string]any)
	if _, ok := props["city"]; !ok {
		t.Errorf("InputSchema = %v, want city property", weather.InputSchema)
	}

	// A descriptor without inputSchema falls back to the empty object.
	ping := result.Tools[1]
	if !reflect.DeepEqual(ping.InputSchema, models.EmptyObjectSchema()) {
		t.Errorf("ping InputSchema = %v, want empty object schema", ping.InputSchema)
	}
}

func TestMCPAdapterSingletonReusesPool(t *testing.T) {
	fake, srv := newFakeMCPServer(t)

	pool := mcp.NewPool()
	defer pool.CloseAll()
	adapter := NewMCPAdapter(pool)
	src := &models.SourceAggregate{
		ID:  "src-mcp",
		MCP: &models.MCPConfig{ServerURL: srv.URL, Lifecycle: models.LifecycleSingleton},
	}

	if _, err := adapter.FetchAndNormalize(context.Background(), src, nil); err != nil {
		t.Fatalf("first FetchAndNormalize: %v", err)
	}
	if pool.Size() != 1 {
		t.Errorf("pool size = %d, want 1", pool.Size())
	}
	if _, err := adapter.FetchAndNormalize(context.Background(), src, nil); err != nil {
		t.Fatalf("second FetchAndNormalize: %v", err)
	}

	if got := fake.initializes.Load(); got != 1 {
		t.Errorf("initializes = %d, want 1 (pooled connection reused)", got)
	}
	if got := fake.toolLists.Load(); got != 2 {
		t.Errorf("toolLists = %d, want 2", got)
	}
}

func TestMCPAdapterMissingConfig(t *testing.T) {
	adapter := NewMCPAdapter(nil)
	_, err := adapter.FetchAndNormalize(context.Background(), &models.SourceAggregate{ID: "src-1"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	te, _ := models.AsToolError(err)
	if te == nil || te.Code != models.ErrCodeValidation {
		t.Errorf("error = %v, want validation_error", err)
	}
}

func TestMCPAdapterConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	adapter := NewMCPAdapter(nil)
	src := &models.SourceAggregate{
		ID:  "src-mcp",
		MCP: &models.MCPConfig{ServerURL: url},
	}
	_, err := adapter.FetchAndNormalize(context.Background(), src, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	te, _ := models.AsToolError(err)
	if te == nil || te.Code != models.ErrCodeUpstreamConn {
		t.Errorf("error = %v, want upstream_connection_error", err)
	}
	if te != nil && !te.Retryable {
		t.Error("Retryable = false, want true")
	}
}

func TestMCPAdapterValidateURL(t *testing.T) {
	adapter := NewMCPAdapter(nil)
	ctx := context.Background()

	if !adapter.ValidateURL(ctx, "https://mcp.example.com/rpc", nil) {
		t.Error("ValidateURL = false for https URL")
	}

	dir := t.TempDir()
	manifest := `{"name": "notes", "version": "1.0.0", "command": "notes-server"}`
	if err := os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if !adapter.ValidateURL(ctx, dir, nil) {
		t.Error("ValidateURL = false for plugin dir with manifest")
	}
	if adapter.ValidateURL(ctx, t.TempDir(), nil) {
		t.Error("ValidateURL = true for dir without manifest")
	}
}

func TestMCPAdapterListError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.ID == nil {
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "initialize" {
			resp["result"] = map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]any{"name": "flaky", "version": "1"},
			}
		} else {
			resp["error"] = map[string]any{"code": -32603, "message": "backend down"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	adapter := NewMCPAdapter(nil)
	src := &models.SourceAggregate{
		ID:  "src-mcp",
		MCP: &models.MCPConfig{ServerURL: srv.URL},
	}
	_, err := adapter.FetchAndNormalize(context.Background(), src, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	te, _ := models.AsToolError(err)
	if te == nil || te.Code != models.ErrCodeUpstream {
		t.Errorf("error = %v, want upstream_error", err)
	}
	if te != nil && !strings.Contains(te.Message, "tools/list") {
		t.Errorf("Message = %q, want tools/list context", te.Message)
	}
}
