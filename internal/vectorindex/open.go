package vectorindex

import (
	"context"
	"log/slog"
)

// Options selects and configures an Index implementation
type Options struct {
	Path      string // Flat index file
	Model     string // Embedding model identifier
	Dimension int    // Required for pgvector
	DSN       string // PostgreSQL DSN; empty selects the flat index
	Logger    *slog.Logger
}

// Open returns a PgVectorIndex when a DSN is configured and reachable,
// otherwise a FlatIndex bound to opts.Path
func Open(ctx context.Context, opts Options) Index {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.DSN != "" {
		idx, err := NewPgVectorIndex(ctx, opts.DSN, opts.Dimension, opts.Model, logger)
		if err == nil {
			logger.Info("using pgvector index", "table", idx.table)
			return idx
		}
		logger.Warn("pgvector unavailable, falling back to flat index", "error", err)
	}

	return NewFlatIndex(opts.Path, opts.Model, logger)
}
