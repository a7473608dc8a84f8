package vector

import (
	"fmt"

	"github.com/kadirpekel/inquest/pkg/config"
)

// NewProvider creates a vector provider from configuration. A nil config
// yields NilProvider, which disables similarity matching.
func NewProvider(cfg *config.VectorConfig) (Provider, error) {
	if cfg == nil {
		return NilProvider{}, nil
	}

	switch cfg.Type {
	case "", "chromem":
		return NewChromemProvider(ChromemConfig{
			PersistPath: cfg.PersistPath,
		})
	case "qdrant":
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
		})
	default:
		return nil, fmt.Errorf("unknown vector provider type: %q (supported: chromem, qdrant)", cfg.Type)
	}
}
