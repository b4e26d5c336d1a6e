package orchestrator

import (
	"context"
	"time"

	"github.com/tesserahq/toolgate/internal/render"
	"github.com/tesserahq/toolgate/pkg/models"
)

// stemVars is the restricted substitution context item stems may use.
// current_item is 1-based for display.
func (c *Context) stemVars() map[string]any {
	agentName := ""
	if c.def != nil {
		agentName = c.def.Name
	}
	total := 0
	if c.template != nil {
		total = len(c.template.Items)
	}
	return map[string]any{
		"user_id":         c.userID,
		"agent_name":      agentName,
		"current_item":    c.itemIndex + 1,
		"total_items":     total,
		"timestamp":       c.now().UTC().Format(time.RFC3339),
		"conversation_id": c.conversationID,
	}
}

// renderStem produces the text for one content entry. A templated stem
// is generated by a single-shot model call against the item's
// instructions; everything else is plain variable substitution. Both
// paths fall back to the raw stem so a bad template degrades instead of
// blanking the item.
func (c *Context) renderStem(ctx context.Context, item *models.TemplateItem, content *models.ItemContent) string {
	vars := c.stemVars()

	if content.IsTemplated && item.Instructions != "" && c.deps.Runner != nil {
		prompt, err := render.Render(item.Instructions, vars)
		if err != nil {
			c.logger.Warn("render item instructions", "item_id", item.ID, "error", err)
			prompt = item.Instructions
		}
		system := ""
		if c.def != nil {
			system = c.def.SystemPrompt
		}
		generated, err := c.generate(ctx, system, prompt)
		if err != nil {
			c.logger.Warn("generate templated stem", "item_id", item.ID, "error", err)
		} else if generated != "" {
			return generated
		}
	}

	if content.Stem == "" {
		return ""
	}
	rendered, err := render.Render(content.Stem, vars)
	if err != nil {
		c.logger.Warn("render stem",
			"item_id", item.ID, "widget_id", content.WidgetID, "error", err)
		return content.Stem
	}
	return rendered
}

func (c *Context) generate(ctx context.Context, system, prompt string) (string, error) {
	provider := ""
	if c.def != nil {
		provider = c.def.Provider
	}
	return c.deps.Runner.Generate(ctx, provider, c.model, system, prompt)
}
