package providers

import (
	"fmt"
	"log/slog"
	"sort"
)

// Factory holds the configured LLM backends and answers model
// validation queries. A factory with no providers is valid: the gateway
// still serves tool traffic, and runs fail with a clear error.
type Factory struct {
	providers   map[string]Provider
	defaultName string
	logger      *slog.Logger
}

// FactoryConfig selects which backends are enabled. A backend with a
// nil config or empty API key is skipped.
type FactoryConfig struct {
	// Default names the provider used when a run specifies neither a
	// provider nor a model the factory can place. Empty picks the first
	// configured backend.
	Default string

	Anthropic *AnthropicConfig
	OpenAI    *OpenAIConfig
}

// NewFactory builds the enabled providers in a fixed order so the
// implicit default is deterministic.
func NewFactory(cfg FactoryConfig, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		providers: make(map[string]Provider),
		logger:    logger.With("component", "providers"),
	}

	if cfg.Anthropic != nil && cfg.Anthropic.APIKey != "" {
		p, err := NewAnthropicProvider(*cfg.Anthropic)
		if err != nil {
			return nil, err
		}
		f.Register(p)
	}
	if cfg.OpenAI != nil && cfg.OpenAI.APIKey != "" {
		p, err := NewOpenAIProvider(*cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		f.Register(p)
	}

	if cfg.Default != "" {
		if _, ok := f.providers[cfg.Default]; !ok {
			return nil, fmt.Errorf("providers: default provider %q is not configured", cfg.Default)
		}
		f.defaultName = cfg.Default
	}

	if len(f.providers) == 0 {
		f.logger.Warn("no llm provider configured; conversation runs will fail")
	}

	return f, nil
}

// Register adds a provider. The first registered provider becomes the
// default unless the config named one.
func (f *Factory) Register(p Provider) {
	f.providers[p.Name()] = p
	if f.defaultName == "" {
		f.defaultName = p.Name()
	}
	f.logger.Debug("registered llm provider", "provider", p.Name(), "models", len(p.Models()))
}

// Provider returns the backend with the given name.
func (f *Factory) Provider(name string) (Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
	return p, nil
}

// Default returns the default backend.
func (f *Factory) Default() (Provider, error) {
	if f.defaultName == "" {
		return nil, fmt.Errorf("providers: no llm provider configured")
	}
	return f.providers[f.defaultName], nil
}

// ForModel returns the backend that serves the given model id.
func (f *Factory) ForModel(model string) (Provider, error) {
	for _, name := range f.Names() {
		p := f.providers[name]
		for _, m := range p.Models() {
			if m.ID == model {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("providers: no provider serves model %q", model)
}

// ValidModel reports whether any configured backend serves the model.
// Model changes requested over the conversation channel are checked
// against this before taking effect.
func (f *Factory) ValidModel(model string) bool {
	_, err := f.ForModel(model)
	return err == nil
}

// Models returns every model served by the configured backends.
func (f *Factory) Models() []ModelInfo {
	var all []ModelInfo
	for _, name := range f.Names() {
		all = append(all, f.providers[name].Models()...)
	}
	return all
}

// Names returns the configured provider names, sorted.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
