package storage

import (
	"context"
	"time"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// Storage defines the interface for persisting highlights, their embeddings
// and the connections produced by pair selection
type Storage interface {
	// Book operations
	UpsertBook(ctx context.Context, book *types.Book) error
	GetBook(ctx context.Context, bookID int64) (*types.Book, error)
	ListBooks(ctx context.Context) ([]*types.Book, error)

	// Highlight operations
	UpsertHighlight(ctx context.Context, h *types.Highlight) (contentChanged bool, err error)
	GetHighlight(ctx context.Context, highlightID int64) (*types.Highlight, error)
	ListHighlights(ctx context.Context) ([]types.Highlight, error)
	DeleteHighlight(ctx context.Context, highlightID int64) error
	RandomHighlightForBook(ctx context.Context, bookID int64, exclude []int64) (*types.Highlight, error)

	// Embedding operations
	UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error
	GetEmbedding(ctx context.Context, highlightID int64) (*types.EmbeddingRecord, error)
	ListEmbeddings(ctx context.Context) ([]*types.EmbeddingRecord, error)
	DeleteEmbedding(ctx context.Context, highlightID int64) error
	WipeEmbeddings(ctx context.Context) (int64, error)
	EmbeddingModels(ctx context.Context) ([]string, error)

	// Connection operations
	RecordConnection(ctx context.Context, rec *types.ConnectionRecord) error
	LatestConnection(ctx context.Context) (*types.ConnectionRecord, error)
	RecentConnectionHighlightIDs(ctx context.Context, limit int) ([]int64, error)

	// Search operations
	SearchText(ctx context.Context, query string, limit int) ([]TextResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a write transaction used for bulk imports
type Tx interface {
	Commit() error
	Rollback() error
	UpsertBook(ctx context.Context, book *types.Book) error
	UpsertHighlight(ctx context.Context, h *types.Highlight) (contentChanged bool, err error)
}

// TextResult represents a result from full-text search. Results are returned
// in database rank order; BM25Score is the raw bm25() value (lower is better).
type TextResult struct {
	HighlightID int64
	BM25Score   float64
}

// Status contains statistics about the stored library
type Status struct {
	BooksCount       int
	HighlightsCount  int
	EmbeddingsCount  int
	ConnectionsCount int
	EmbeddingModels  []string
	DatabaseSizeMB   float64
	SchemaVersion    string
	LastConnectionAt time.Time
	Health           HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexesBuilt     bool
}
