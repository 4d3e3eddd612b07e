package embeddings

import (
	"fmt"
	"io"

	"github.com/brisaai/sicc/internal/capability"
	"github.com/brisaai/sicc/internal/config"
)

// Provider is an embedder that owns releasable resources.
type Provider interface {
	capability.Embedder
	io.Closer
}

// NewProvider creates the embedding provider named by the configuration and
// verifies its dimension matches the system-wide setting.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	var (
		provider Provider
		err      error
	)

	switch cfg.Provider {
	case "fastembed", "":
		provider, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		provider, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Dimension != 0 && provider.Dimension() != cfg.Dimension {
		provider.Close()
		return nil, fmt.Errorf("embedding model dimension %d does not match configured dimension %d",
			provider.Dimension(), cfg.Dimension)
	}

	return provider, nil
}
