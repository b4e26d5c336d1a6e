package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tesserahq/toolgate/internal/mcp"
	"github.com/tesserahq/toolgate/pkg/models"
)

// MCPAdapter ingests tool catalogues from MCP servers, local plugins
// and remote HTTP servers alike. Transient sources get a throwaway
// connection per refresh; singleton sources connect through the shared
// pool so the executor reuses the same process or session.
type MCPAdapter struct {
	pool   *mcp.Pool
	logger *slog.Logger
}

func NewMCPAdapter(pool *mcp.Pool) *MCPAdapter {
	return &MCPAdapter{
		pool:   pool,
		logger: slog.Default().With("component", "mcp_adapter"),
	}
}

func (a *MCPAdapter) FetchAndNormalize(ctx context.Context, src *models.SourceAggregate, _ *models.AuthConfig) (*IngestionResult, error) {
	mc := src.MCP
	if mc == nil {
		return nil, validationErr("mcp source has no mcp_config", nil)
	}

	var client *mcp.Client
	var err error
	if mc.Lifecycle == models.LifecycleSingleton && a.pool != nil {
		client, err = a.pool.Get(ctx, src.ID, mc)
	} else {
		client, err = mcp.Dial(ctx, src.ID, mc)
		if client != nil {
			defer client.Close()
		}
	}
	if err != nil {
		return nil, err
	}

	listed, err := client.ListTools(ctx)
	if err != nil {
		if te, ok := models.AsToolError(err); ok {
			return nil, te
		}
		return nil, &models.ToolError{
			Code:      models.ErrCodeUpstream,
			Message:   fmt.Sprintf("mcp tools/list: %v", err),
			Retryable: true,
		}
	}

	endpoint := mcp.Endpoint(mc)
	var warnings []string
	tools := make([]models.ToolDefinition, 0, len(listed))
	for _, t := range listed {
		tools = append(tools, models.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: decodeInputSchema(t, &warnings),
			SourcePath:  fmt.Sprintf("%s%s#%s", models.MCPScheme, endpoint, t.Name),
			Tags:        []string{"mcp"},
			Execution:   models.ExecutionProfile{Mode: models.ModeMCPCall},
		})
	}

	hash, err := InventoryHash(tools)
	if err != nil {
		return nil, models.NewInternalError(fmt.Sprintf("hash inventory: %v", err))
	}

	info := client.ServerInfo()
	a.logger.Info("mcp catalogue normalized",
		"source_id", src.ID,
		"endpoint", endpoint,
		"server", info.Name,
		"tools", len(tools))

	return &IngestionResult{
		Tools:         tools,
		InventoryHash: hash,
		Success:       true,
		SourceVersion: info.Version,
		Warnings:      warnings,
	}, nil
}

// ValidateURL accepts an http(s) server URL or a local plugin
// directory and reports whether a server config can be built from it.
func (a *MCPAdapter) ValidateURL(_ context.Context, rawURL string, _ *models.AuthConfig) bool {
	mc := &models.MCPConfig{}
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		mc.ServerURL = rawURL
	} else {
		mc.PluginDir = rawURL
	}
	_, err := mcp.ServerConfigFromSource("probe", mc)
	return err == nil
}

func decodeInputSchema(t *mcp.MCPTool, warnings *[]string) map[string]any {
	if len(t.InputSchema) == 0 {
		return models.EmptyObjectSchema()
	}
	var schema map[string]any
	if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("tool %s: unreadable inputSchema, using empty object", t.Name))
		return models.EmptyObjectSchema()
	}
	return schema
}
