package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// fakeRPCServer implements enough of the MCP HTTP surface for client
// tests: initialize, tools/list, tools/call, and notification POSTs.
type fakeRPCServer struct {
	t           *testing.T
	initializes int32
	toolLists   int32
	toolCalls   int32
	lastCall    CallToolParams
	callResult  ToolCallResult
	callErr     *JSONRPCError
	tools       []*MCPTool
}

func (f *fakeRPCServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// SSE probe; this fake has no event stream.
			http.NotFound(w, r)
			return
		}

		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decode request: %v", err)
			return
		}

		if req.ID == nil {
			// Notification; nothing to answer.
			w.WriteHeader(http.StatusOK)
			return
		}

		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "initialize":
			atomic.AddInt32(&f.initializes, 1)
			resp.Result = mustMarshal(f.t, InitializeResult{
				ProtocolVersion: protocolVersion,
				Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: true}},
				ServerInfo:      ServerInfo{Name: "fake-server", Version: "0.1.0"},
			})
		case "tools/list":
			atomic.AddInt32(&f.toolLists, 1)
			resp.Result = mustMarshal(f.t, ListToolsResult{Tools: f.tools})
		case "tools/call":
			atomic.AddInt32(&f.toolCalls, 1)
			if err := json.Unmarshal(req.Params, &f.lastCall); err != nil {
				f.t.Errorf("decode call params: %v", err)
			}
			if f.callErr != nil {
				resp.Error = f.callErr
			} else {
				resp.Result = mustMarshal(f.t, f.callResult)
			}
		default:
			resp.Error = &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "unknown method " + req.Method}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func newFakeClient(t *testing.T, fake *fakeRPCServer) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	client := NewClient(&ServerConfig{
		ID:        "fake",
		Transport: TransportHTTP,
		URL:       server.URL,
	}, nil)
	return client, server
}

func TestClientConnectHandshake(t *testing.T) {
	fake := &fakeRPCServer{t: t}
	client, server := newFakeClient(t, fake)
	defer server.Close()
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if got := atomic.LoadInt32(&fake.initializes); got != 1 {
		t.Errorf("initialize calls = %d, want 1", got)
	}
	if client.ServerInfo().Name != "fake-server" {
		t.Errorf("ServerInfo().Name = %q", client.ServerInfo().Name)
	}
	if !client.Connected() {
		t.Error("expected Connected() after handshake")
	}
}

func TestClientListTools(t *testing.T) {
	fake := &fakeRPCServer{
		t: t,
		tools: []*MCPTool{
			{Name: "search", Description: "Search things", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "fetch", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}
	client, server := newFakeClient(t, fake)
	defer server.Close()
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(tools))
	}
	if tools[0].Name != "search" {
		t.Errorf("tools[0].Name = %q", tools[0].Name)
	}

	// The cached copy matches the last list.
	if cached := client.Tools(); len(cached) != 2 {
		t.Errorf("len(Tools()) = %d, want 2", len(cached))
	}
}

func TestClientCallTool(t *testing.T) {
	fake := &fakeRPCServer{
		t: t,
		callResult: ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: `{"hits": 2}`}},
		},
	}
	client, server := newFakeClient(t, fake)
	defer server.Close()
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	result, err := client.CallTool(context.Background(), "search", map[string]any{"query": "logs"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}

	if fake.lastCall.Name != "search" {
		t.Errorf("called tool = %q, want search", fake.lastCall.Name)
	}
	var args map[string]any
	if err := json.Unmarshal(fake.lastCall.Arguments, &args); err != nil {
		t.Fatalf("unmarshal forwarded args: %v", err)
	}
	if args["query"] != "logs" {
		t.Errorf("forwarded query = %v", args["query"])
	}

	value, ok := result.Value().(map[string]any)
	if !ok || value["hits"] != float64(2) {
		t.Errorf("Value() = %v, want hits=2", result.Value())
	}
}

func TestClientCallToolRPCError(t *testing.T) {
	fake := &fakeRPCServer{
		t:       t,
		callErr: &JSONRPCError{Code: ErrCodeToolNotFound, Message: "no such tool"},
	}
	client, server := newFakeClient(t, fake)
	defer server.Close()
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, err := client.CallTool(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("CallTool() expected error")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
	if rpcErr.Code != ErrCodeToolNotFound {
		t.Errorf("Code = %d, want %d", rpcErr.Code, ErrCodeToolNotFound)
	}
}
