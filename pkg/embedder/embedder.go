// Package embedder provides text embedding providers for canonical slot
// similarity matching, plus a caching wrapper and the lemmatizer used to
// normalize slot names.
package embedder

import (
	"context"
	"fmt"

	"github.com/kadirpekel/inquest/pkg/config"
)

// Embedder produces dense vectors for short label texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	GetDimension() int

	GetModelName() string

	Close() error
}

// NewFromConfig builds the configured embedder, wrapped in an LRU cache when
// cache_size > 0. Slot labels repeat heavily across turns, so the cache
// avoids re-embedding the same strings.
func NewFromConfig(cfg *config.EmbedderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	var provider Embedder
	var err error

	switch cfg.Type {
	case "ollama":
		provider, err = NewOllamaEmbedderFromConfig(cfg)
	case "openai":
		provider, err = NewOpenAIEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s (supported: ollama, openai)", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder provider: %w", err)
	}

	if cfg.CacheSize > 0 {
		provider = NewCachingEmbedder(provider, cfg.CacheSize)
	}

	return provider, nil
}
