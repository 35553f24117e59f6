package lexical

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// BleveIndex is an in-memory bleve index scored with bleve's BM25-style
// ranking. Hits are sorted by score desc, then by document id.
type BleveIndex struct {
	mu  sync.RWMutex
	idx bleve.Index
}

type bleveDoc struct {
	Content string `json:"content"`
}

// NewBleveIndex creates an empty in-memory index
func NewBleveIndex() (*BleveIndex, error) {
	idx, err := newMemIndex()
	if err != nil {
		return nil, err
	}
	return &BleveIndex{idx: idx}, nil
}

func newMemIndex() (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return idx, nil
}

// docID zero-pads ids so that the lexical _id sort matches numeric order
func docID(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func (b *BleveIndex) Kind() string { return "bleve" }

func (b *BleveIndex) Add(ctx context.Context, h types.Highlight) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.idx.Index(docID(h.ID), bleveDoc{Content: h.Content}); err != nil {
		return fmt.Errorf("index highlight %d: %w", h.ID, err)
	}
	return nil
}

func (b *BleveIndex) Delete(ctx context.Context, highlightID int64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.idx.Delete(docID(highlightID))
}

// Rebuild indexes the corpus into a fresh index and swaps it in
func (b *BleveIndex) Rebuild(ctx context.Context, highlights []types.Highlight) error {
	fresh, err := newMemIndex()
	if err != nil {
		return err
	}

	batch := fresh.NewBatch()
	for _, h := range highlights {
		if err := batch.Index(docID(h.ID), bleveDoc{Content: h.Content}); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("index highlight %d: %w", h.ID, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		_ = fresh.Close()
		return fmt.Errorf("apply batch: %w", err)
	}

	b.mu.Lock()
	old := b.idx
	b.idx = fresh
	b.mu.Unlock()
	return old.Close()
}

func (b *BleveIndex) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if len(Keywords(query)) == 0 || k <= 0 {
		return []Result{}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	b.mu.RLock()
	res, err := b.idx.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	ids := make([]int64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected document id %q: %w", hit.ID, err)
		}
		ids = append(ids, id)
	}
	return ranked(ids), nil
}

func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idx.Close()
}
