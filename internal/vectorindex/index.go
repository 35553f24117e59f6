package vectorindex

import (
	"context"
	"errors"

	"github.com/dshills/highlights-mcp/pkg/types"
)

var (
	// ErrIndexLoad is returned by Load when persisted data is missing,
	// corrupt, or was built with a different embedding model. Callers
	// rebuild from the embedding cache.
	ErrIndexLoad = errors.New("vector index load failed")
	// ErrDimensionMismatch is returned when a vector does not match the
	// index dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Result is one nearest-neighbour hit. Similarity is cosine similarity,
// higher is better.
type Result struct {
	HighlightID int64
	BookID      int64
	Similarity  float64
}

// Index stores one vector per highlight and answers cosine top-k queries
type Index interface {
	// Add inserts or replaces the vector of rec.HighlightID
	Add(ctx context.Context, rec types.EmbeddingRecord) error
	// Remove drops the vector of a highlight if present
	Remove(ctx context.Context, highlightID int64) error
	// Search returns up to k results ordered by similarity desc
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	// Rebuild replaces the whole index content
	Rebuild(ctx context.Context, records []*types.EmbeddingRecord) error
	// Save persists the index
	Save(ctx context.Context) error
	// Load restores persisted state or returns ErrIndexLoad
	Load(ctx context.Context) error
	// Len returns the number of indexed vectors
	Len() int
	// Kind names the implementation ("flat" or "pgvector")
	Kind() string
	Close() error
}
