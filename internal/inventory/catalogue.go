package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

// Catalogue builds the provider-facing view of the inventory: the
// descriptors an LLM run offers the model. Only enabled, active tools
// are visible.
type Catalogue struct {
	tools  storage.ToolStore
	logger *slog.Logger
}

// NewCatalogue wraps a tool store.
func NewCatalogue(tools storage.ToolStore) *Catalogue {
	return &Catalogue{
		tools:  tools,
		logger: slog.Default().With("component", "catalogue"),
	}
}

// ListForAgent returns the descriptors an agent may call. A non-empty
// whitelist restricts the set to those tool names; the blacklist then
// removes names. def may be nil for the unfiltered view. When two
// sources expose the same tool name the first by aggregate id wins;
// the shadowed tool is skipped with a warning.
func (c *Catalogue) ListForAgent(ctx context.Context, def *models.AgentDefinition) ([]models.LLMToolDescriptor, error) {
	aggs, err := c.tools.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	var allow, deny map[string]bool
	if def != nil {
		if len(def.ToolWhitelist) > 0 {
			allow = make(map[string]bool, len(def.ToolWhitelist))
			for _, name := range def.ToolWhitelist {
				allow[name] = true
			}
		}
		if len(def.ToolBlacklist) > 0 {
			deny = make(map[string]bool, len(def.ToolBlacklist))
			for _, name := range def.ToolBlacklist {
				deny[name] = true
			}
		}
	}

	seen := make(map[string]string)
	var descriptors []models.LLMToolDescriptor
	for _, agg := range aggs {
		if agg.Status != models.ToolStatusActive || !agg.IsEnabled {
			continue
		}
		name := agg.Definition.Name
		if allow != nil && !allow[name] {
			continue
		}
		if deny[name] {
			continue
		}
		if winner, dup := seen[name]; dup {
			c.logger.Warn("tool name shadowed across sources",
				"name", name, "kept", winner, "skipped", agg.ID)
			continue
		}
		seen[name] = agg.ID

		schema := agg.Definition.InputSchema
		if schema == nil {
			schema = models.EmptyObjectSchema()
		}
		descriptors = append(descriptors, models.LLMToolDescriptor{
			Name:        name,
			Description: agg.Definition.Description,
			InputSchema: schema,
			ToolID:      agg.ID,
		})
	}
	return descriptors, nil
}
