package models

import "time"

// AgentDefinition configures the agent a conversation runs against:
// which model, which system prompt, which template (if proactive), and
// which slice of the tool catalogue is visible.
type AgentDefinition struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	TemplateID   string `json:"template_id,omitempty"`
	// ToolWhitelist limits the visible catalogue to the named tools
	// (aggregate ids or bare names). Empty means everything enabled.
	ToolWhitelist []string  `json:"tool_whitelist,omitempty"`
	ToolBlacklist []string  `json:"tool_blacklist,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
