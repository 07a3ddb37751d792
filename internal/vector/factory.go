package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kaiwa/internal/config"
)

// New creates a vector index from config. Supported backends are "memory"
// (brute-force with file persistence) and "pgvector" (PostgreSQL).
func New(ctx context.Context, cfg *config.VectorConfig, dimensions int) (Index, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryIndex(dimensions)
	case "pgvector":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("pgvector backend requires a dsn")
		}
		return NewPgIndex(ctx, cfg.DSN, dimensions)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.Backend)
	}
}
