// Package embedding provides text embedding providers and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kaiwa/internal/config"
)

// ErrUnavailable is returned when the embedding provider cannot be reached or
// rejects the request. Ingestion of the affected document is aborted with no
// partial state, so the whole document is safe to retry later.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder produces vector embeddings for text. Implementations must be
// deterministic for a fixed model configuration: the same text yields the same
// vector, so re-embedding after a restart produces index-compatible vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds an Embedder from config, wrapped in an LRU cache when
// cfg.CacheSize is positive.
func New(cfg *config.EmbeddingConfig) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case "ollama":
		e = NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
