package executor

import "github.com/tesserahq/toolgate/pkg/models"

// Request carries everything one tool invocation needs. The caller
// (the execute-tool command handler) resolves the definition and the
// source-level auth posture before building it.
type Request struct {
	ToolID     string
	Definition *models.ToolDefinition
	Arguments  map[string]any

	// AgentToken is the caller's subject token. May be empty for
	// unauthenticated invocations; token-exchange sources then fail.
	AgentToken string

	SourceID        string
	AuthMode        models.AuthMode
	AuthConfig      *models.AuthConfig
	DefaultAudience string

	// MCP is the source's connection material for MCP_CALL tools.
	MCP *models.MCPConfig

	// ValidateSchema overrides the global validation toggle when set.
	ValidateSchema *bool
}

func (r *Request) args() map[string]any {
	if r.Arguments == nil {
		return map[string]any{}
	}
	return r.Arguments
}
