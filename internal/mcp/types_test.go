package mcp

import (
	"encoding/json"
	"testing"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{
			name:    "valid stdio",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "mcp-server", Args: []string{"--config", "a.yaml"}},
			wantErr: false,
		},
		{
			name:    "valid http",
			cfg:     ServerConfig{ID: "s", Transport: TransportHTTP, URL: "https://mcp.example.com"},
			wantErr: false,
		},
		{
			name:    "missing id",
			cfg:     ServerConfig{Transport: TransportStdio, Command: "x"},
			wantErr: true,
		},
		{
			name:    "stdio without command",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio},
			wantErr: true,
		},
		{
			name:    "command path traversal",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "../../bin/evil"},
			wantErr: true,
		},
		{
			name:    "workdir path traversal",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "ok", WorkDir: "/srv/../../etc"},
			wantErr: true,
		},
		{
			name:    "arg command chaining",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "ok", Args: []string{"a; rm -rf /"}},
			wantErr: true,
		},
		{
			name:    "arg substitution",
			cfg:     ServerConfig{ID: "s", Transport: TransportStdio, Command: "ok", Args: []string{"$(whoami)"}},
			wantErr: true,
		},
		{
			name:    "http without url",
			cfg:     ServerConfig{ID: "s", Transport: TransportHTTP},
			wantErr: true,
		},
		{
			name:    "http bad scheme",
			cfg:     ServerConfig{ID: "s", Transport: TransportHTTP, URL: "ftp://mcp.example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContainsShellMetachars(t *testing.T) {
	tests := []struct {
		arg  string
		want bool
	}{
		{"--config test.yaml", false},
		{`--name "my server"`, false},
		{"a && b", true},
		{"a || b", true},
		{"`id`", true},
		{"${HOME}", true},
		{"out > file", true},
		{"line1\nline2", true},
	}

	for _, tt := range tests {
		if got := containsShellMetachars(tt.arg); got != tt.want {
			t.Errorf("containsShellMetachars(%q) = %v, want %v", tt.arg, got, tt.want)
		}
	}
}

func TestMCPToolJSON(t *testing.T) {
	tool := &MCPTool{
		Name:        "search",
		Description: "Search for files",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
	}

	data, err := json.Marshal(tool)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded MCPTool
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded.Name != tool.Name {
		t.Errorf("expected Name %q, got %q", tool.Name, decoded.Name)
	}
	if decoded.Description != tool.Description {
		t.Errorf("expected Description %q, got %q", tool.Description, decoded.Description)
	}
}

func TestToolCallResultText(t *testing.T) {
	result := &ToolCallResult{
		Content: []ToolResultContent{
			{Type: "text", Text: "line one"},
			{Type: "image", Data: "base64..."},
			{Type: "text", Text: "line two"},
		},
	}

	if got := result.Text(); got != "line one\nline two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestToolCallResultValue(t *testing.T) {
	tests := []struct {
		name string
		text string
		want any
	}{
		{"object", `{"count": 3}`, map[string]any{"count": float64(3)}},
		{"array", `[1, 2]`, []any{float64(1), float64(2)}},
		{"plain text", "hello world", "hello world"},
		{"broken json falls back to text", `{"count":`, `{"count":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: tt.text}}}
			got := result.Value()
			switch want := tt.want.(type) {
			case string:
				if got != want {
					t.Errorf("Value() = %v, want %v", got, want)
				}
			case map[string]any:
				m, ok := got.(map[string]any)
				if !ok || m["count"] != want["count"] {
					t.Errorf("Value() = %v, want %v", got, want)
				}
			case []any:
				a, ok := got.([]any)
				if !ok || len(a) != len(want) {
					t.Errorf("Value() = %v, want %v", got, want)
				}
			}
		})
	}
}

func TestRPCErrorMessage(t *testing.T) {
	err := &RPCError{Code: ErrCodeToolNotFound, Message: "no such tool"}
	want := "MCP error -32002: no such tool"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
