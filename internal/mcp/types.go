// Package mcp implements the Model Context Protocol client side: a
// JSON-RPC 2.0 core with stdio and HTTP transports, plugin manifest
// loading, and a connection pool for singleton-lifecycle sources.
package mcp

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TransportType specifies the MCP transport protocol.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// ServerConfig is the resolved connection recipe for one MCP server.
// It is built from a source's mcp_config (plus the plugin manifest for
// local plugins) by ServerConfigFromSource.
type ServerConfig struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Transport TransportType `json:"transport"`

	// Stdio transport options
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"workdir,omitempty"`

	// HTTP transport options
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks the server configuration for security issues.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server ID is required")
	}

	if c.Transport == TransportStdio {
		if err := c.validateStdioConfig(); err != nil {
			return fmt.Errorf("stdio config for %s: %w", c.ID, err)
		}
	}

	if c.Transport == TransportHTTP {
		if err := c.validateHTTPConfig(); err != nil {
			return fmt.Errorf("http config for %s: %w", c.ID, err)
		}
	}

	return nil
}

func (c *ServerConfig) validateStdioConfig() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}

	if err := validatePath(c.Command, "command"); err != nil {
		return err
	}

	if c.WorkDir != "" {
		if err := validatePath(c.WorkDir, "workdir"); err != nil {
			return err
		}
	}

	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}

	return nil
}

func (c *ServerConfig) validateHTTPConfig() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}

	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("URL must start with http:// or https://")
	}

	return nil
}

// validatePath checks a path for traversal attacks.
func validatePath(path, fieldName string) error {
	if path == "" {
		return nil
	}

	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("%s contains path traversal: %q", fieldName, path)
	}

	return nil
}

// containsShellMetachars checks for shell metacharacters that could
// indicate injection. Spaces and quotes are allowed since they are
// common in legitimate args; only chaining patterns are flagged.
func containsShellMetachars(s string) bool {
	dangerousPatterns := []string{
		"$(", "${",
		"`",
		"&&", "||",
		";",
		"|",
		">", "<",
		"\n", "\r",
	}
	for _, pattern := range dangerousPatterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// MCPTool is a tool descriptor as returned by tools/list.
type MCPTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallResult holds the result of calling an MCP tool.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent holds a piece of content from a tool result.
type ToolResultContent struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text concatenates the text parts of the result.
func (r *ToolCallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Value flattens the result for callers that treat tool output as a
// single value: structured JSON when the text parses as such, the raw
// concatenated text otherwise.
func (r *ToolCallResult) Value() any {
	text := r.Text()
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return text
}

// JSON-RPC types

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is a JSON-RPC 2.0 notification (no ID).
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCP-specific error codes
const (
	ErrCodeResourceNotFound = -32001
	ErrCodeToolNotFound     = -32002
)

// RPCError is returned by transports when the server answered with a
// JSON-RPC error object, so callers can branch on the code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// ServerInfo holds information about an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities holds the capabilities of an MCP client or server.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeResult holds the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// ListToolsResult holds the result of tools/list.
type ListToolsResult struct {
	Tools []*MCPTool `json:"tools"`
}

// CallToolParams holds parameters for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
