package config

import "fmt"

// ProvidersConfig configures LLM backends for conversation runs. A
// deployment that only routes tool traffic may leave all of them out.
type ProvidersConfig struct {
	// Default names the provider picked when a run specifies none.
	// Empty lets the first configured backend win.
	Default string `yaml:"default"`

	Anthropic *ProviderConfig `yaml:"anthropic"`
	OpenAI    *ProviderConfig `yaml:"openai"`

	// MaxTurns caps the tool-calling loop per run.
	MaxTurns int `yaml:"max_turns"`

	// MaxTokens caps the model's output per turn.
	MaxTokens int `yaml:"max_tokens"`
}

// ProviderConfig is one LLM backend registration.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxRetries int    `yaml:"max_retries"`
}

func (c *ProvidersConfig) applyDefaults() {
	if c.MaxTurns == 0 {
		c.MaxTurns = 10
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}

func (c *ProvidersConfig) validate() []string {
	var issues []string
	switch c.Default {
	case "", "anthropic", "openai":
	default:
		issues = append(issues, fmt.Sprintf("providers.default %q is not a known backend", c.Default))
	}
	if c.Default == "anthropic" && c.Anthropic == nil {
		issues = append(issues, "providers.default is anthropic but providers.anthropic is not configured")
	}
	if c.Default == "openai" && c.OpenAI == nil {
		issues = append(issues, "providers.default is openai but providers.openai is not configured")
	}
	return issues
}
