package lexical

import (
	"context"
	"fmt"

	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// TextSearcher is the storage capability FTSIndex needs
type TextSearcher interface {
	SearchText(ctx context.Context, query string, limit int) ([]storage.TextResult, error)
}

// FTSIndex ranks hits with SQLite FTS5 bm25(). The FTS table is kept in sync
// by database triggers, so Add, Delete and Rebuild are no-ops.
type FTSIndex struct {
	store TextSearcher
}

// NewFTSIndex creates an index over the store's FTS5 table
func NewFTSIndex(store TextSearcher) *FTSIndex {
	return &FTSIndex{store: store}
}

func (f *FTSIndex) Kind() string { return "fts5" }

func (f *FTSIndex) Add(ctx context.Context, h types.Highlight) error { return nil }

func (f *FTSIndex) Delete(ctx context.Context, highlightID int64) error { return nil }

func (f *FTSIndex) Rebuild(ctx context.Context, highlights []types.Highlight) error { return nil }

func (f *FTSIndex) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return []Result{}, nil
	}
	hits, err := f.store.SearchText(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.HighlightID
	}
	return ranked(ids), nil
}

func (f *FTSIndex) Close() error {
	return nil
}
