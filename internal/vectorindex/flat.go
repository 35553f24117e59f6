package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// FlatIndex is an exact in-process index persisted to a single file. Search
// is a linear scan, which is adequate for a personal highlight library.
type FlatIndex struct {
	path   string
	model  string
	logger *slog.Logger

	mu      sync.RWMutex
	dim     int
	ids     []int64
	books   []int64
	vectors [][]float32
	norms   []float64
	pos     map[int64]int
}

// NewFlatIndex creates an empty index bound to path. model is written into
// the file and checked on Load.
func NewFlatIndex(path, model string, logger *slog.Logger) *FlatIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlatIndex{
		path:   path,
		model:  model,
		logger: logger,
		pos:    make(map[int64]int),
	}
}

func (f *FlatIndex) Kind() string { return "flat" }

// Add inserts or replaces a vector. A replaced vector keeps its original
// insertion position.
func (f *FlatIndex) Add(ctx context.Context, rec types.EmbeddingRecord) error {
	if len(rec.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for highlight %d", ErrDimensionMismatch, rec.HighlightID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dim != 0 && len(rec.Vector) != f.dim {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(rec.Vector), f.dim)
	}
	f.dim = len(rec.Vector)
	f.put(rec.HighlightID, rec.BookID, rec.Vector)
	return nil
}

// put requires f.mu held for writing
func (f *FlatIndex) put(id, bookID int64, vector []float32) {
	v := make([]float32, len(vector))
	copy(v, vector)

	if i, ok := f.pos[id]; ok {
		f.books[i] = bookID
		f.vectors[i] = v
		f.norms[i] = norm(v)
		return
	}
	f.pos[id] = len(f.ids)
	f.ids = append(f.ids, id)
	f.books = append(f.books, bookID)
	f.vectors = append(f.vectors, v)
	f.norms = append(f.norms, norm(v))
}

// Remove drops the vector of a highlight. The remaining vectors keep their
// relative order; removing an unknown id is not an error.
func (f *FlatIndex) Remove(ctx context.Context, highlightID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.pos[highlightID]
	if !ok {
		return nil
	}
	f.ids = slices.Delete(f.ids, i, i+1)
	f.books = slices.Delete(f.books, i, i+1)
	f.vectors = slices.Delete(f.vectors, i, i+1)
	f.norms = slices.Delete(f.norms, i, i+1)
	delete(f.pos, highlightID)
	for j := i; j < len(f.ids); j++ {
		f.pos[f.ids[j]] = j
	}
	return nil
}

// Search returns the k most similar vectors. Ties keep insertion order.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.ids) == 0 {
		return []Result{}, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}

	qn := norm(query)
	results := make([]Result, len(f.ids))
	for i, v := range f.vectors {
		var sim float64
		if qn != 0 && f.norms[i] != 0 {
			var dot float64
			for j := range v {
				dot += float64(query[j]) * float64(v[j])
			}
			sim = dot / (qn * f.norms[i])
		}
		results[i] = Result{HighlightID: f.ids[i], BookID: f.books[i], Similarity: sim}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Rebuild replaces the content of the index. Records are inserted in the
// given order; all must share one dimension.
func (f *FlatIndex) Rebuild(ctx context.Context, records []*types.EmbeddingRecord) error {
	dim := 0
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			return fmt.Errorf("%w: empty vector for highlight %d", ErrDimensionMismatch, rec.HighlightID)
		}
		if dim == 0 {
			dim = len(rec.Vector)
		} else if len(rec.Vector) != dim {
			return fmt.Errorf("%w: highlight %d has %d, expected %d", ErrDimensionMismatch, rec.HighlightID, len(rec.Vector), dim)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.reset(dim, len(records))
	for _, rec := range records {
		f.put(rec.HighlightID, rec.BookID, rec.Vector)
	}
	f.logger.Debug("vector index rebuilt", "vectors", len(f.ids), "dimension", dim)
	return nil
}

// reset requires f.mu held for writing
func (f *FlatIndex) reset(dim, capacity int) {
	f.dim = dim
	f.ids = make([]int64, 0, capacity)
	f.books = make([]int64, 0, capacity)
	f.vectors = make([][]float32, 0, capacity)
	f.norms = make([]float64, 0, capacity)
	f.pos = make(map[int64]int, capacity)
}

// Save writes the index to its file. The file is replaced atomically.
func (f *FlatIndex) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.RLock()
	snap := snapshot{
		model:   f.model,
		dim:     f.dim,
		ids:     f.ids,
		books:   f.books,
		vectors: f.vectors,
	}
	data, err := encodeSnapshot(snap)
	f.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode vector index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}

	f.logger.Debug("vector index saved", "path", f.path, "vectors", len(snap.ids), "bytes", len(data))
	return nil
}

// Load replaces the index content with the persisted file. Missing files,
// corrupt data and model mismatches all return ErrIndexLoad and leave the
// in-memory state untouched.
func (f *FlatIndex) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexLoad, err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIndexLoad, f.path, err)
	}
	if snap.model != f.model {
		return fmt.Errorf("%w: index built with model %q, configured %q", ErrIndexLoad, snap.model, f.model)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.reset(snap.dim, len(snap.ids))
	for i, id := range snap.ids {
		f.put(id, snap.books[i], snap.vectors[i])
	}
	f.logger.Debug("vector index loaded", "path", f.path, "vectors", len(f.ids))
	return nil
}

func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

func (f *FlatIndex) Close() error {
	return nil
}
