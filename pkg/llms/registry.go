package llms

import (
	"fmt"

	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/registry"
)

// Logical client names used by the turn pipeline.
const (
	ClientExtraction = "extraction"
	ClientScoring    = "scoring"
	ClientGeneration = "generation"
)

// ClientRegistry maps logical client names to providers.
type ClientRegistry struct {
	*registry.BaseRegistry[Provider]
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProviderFromConfig builds a provider for the configured backend.
func NewProviderFromConfig(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProviderFromConfig(cfg)
	case config.LLMProviderAnthropic:
		return NewAnthropicProviderFromConfig(cfg)
	case config.LLMProviderOllama:
		return NewOllamaProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, anthropic, ollama)", cfg.Provider)
	}
}

// BuildClients constructs the three logical clients from config.
func BuildClients(cfg *config.LLMClientsConfig) (*ClientRegistry, error) {
	r := NewClientRegistry()

	for name, clientCfg := range map[string]*config.LLMConfig{
		ClientExtraction: &cfg.Extraction,
		ClientScoring:    &cfg.Scoring,
		ClientGeneration: &cfg.Generation,
	} {
		provider, err := NewProviderFromConfig(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", name, err)
		}
		if err := r.Register(name, provider); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Client returns the provider registered under the logical name.
func (r *ClientRegistry) Client(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("LLM client '%s' not found", name)
	}
	return provider, nil
}

// Close closes all registered providers.
func (r *ClientRegistry) Close() error {
	var firstErr error
	for _, provider := range r.List() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
