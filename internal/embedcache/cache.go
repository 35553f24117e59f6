package embedcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// ErrEmbeddingUnavailable is returned by GetOrCompute when the provider could
// not produce a vector. Nothing is cached in that case.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// DefaultSize is the number of vectors kept in the in-memory front
const DefaultSize = 10000

// Store is the durable side of the cache
type Store interface {
	GetEmbedding(ctx context.Context, highlightID int64) (*types.EmbeddingRecord, error)
	UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error
	ListEmbeddings(ctx context.Context) ([]*types.EmbeddingRecord, error)
	DeleteEmbedding(ctx context.Context, highlightID int64) error
	WipeEmbeddings(ctx context.Context) (int64, error)
	EmbeddingModels(ctx context.Context) ([]string, error)
}

// Embedder produces a vector for text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ComputeFunc observes vectors produced by GetOrCompute after they are
// stored
type ComputeFunc func(ctx context.Context, h types.Highlight, vector []float32)

// Options configures a Cache
type Options struct {
	Model     string // Identifier of the embedding model; required
	Size      int    // In-memory entries, defaults to DefaultSize
	OnCompute ComputeFunc
	Logger    *slog.Logger
}

// Cache maps highlight ids to embedding vectors. Reads are served from an
// LRU front and fall through to the durable store; writes go to the store
// first. Writes are serialized, reads run concurrently.
type Cache struct {
	store     Store
	model     string
	front     *lru.Cache[int64, []float32]
	mu        sync.RWMutex
	group     singleflight.Group
	onCompute ComputeFunc
	logger    *slog.Logger
}

// Open creates a cache over store. Stored vectors produced by any model other
// than opts.Model are wiped, since vectors from different models cannot be
// compared.
func Open(ctx context.Context, store Store, opts Options) (*Cache, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("embedding model identifier is required")
	}
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	front, err := lru.New[int64, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	c := &Cache{
		store:     store,
		model:     opts.Model,
		front:     front,
		onCompute: opts.OnCompute,
		logger:    logger,
	}

	models, err := store.EmbeddingModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding models: %w", err)
	}
	for _, m := range models {
		if m != opts.Model {
			logger.Warn("embedding model changed, wiping cache", "stored", models, "configured", opts.Model)
			if err := c.Wipe(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	return c, nil
}

// Model returns the model identifier the cache was opened with
func (c *Cache) Model() string {
	return c.model
}

// Get returns the cached vector for a highlight. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, highlightID int64) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.front.Get(highlightID); ok {
		return clone(v), true, nil
	}

	rec, err := c.store.GetEmbedding(ctx, highlightID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read embedding %d: %w", highlightID, err)
	}
	if rec.Model != c.model {
		return nil, false, nil
	}

	c.front.Add(highlightID, rec.Vector)
	return clone(rec.Vector), true, nil
}

// Put stores a vector for a highlight, replacing any previous one
func (c *Cache) Put(ctx context.Context, highlightID int64, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("refusing to cache empty vector for highlight %d", highlightID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v := clone(vector)
	err := c.store.UpsertEmbedding(ctx, &types.EmbeddingRecord{
		HighlightID: highlightID,
		Vector:      v,
		Model:       c.model,
	})
	if err != nil {
		return fmt.Errorf("failed to persist embedding %d: %w", highlightID, err)
	}
	c.front.Add(highlightID, v)
	return nil
}

// GetOrCompute returns the cached vector or embeds the highlight's content
// through provider and caches the result. Concurrent calls for the same
// highlight share one provider call. Options.OnCompute sees each new vector
// once.
func (c *Cache) GetOrCompute(ctx context.Context, h types.Highlight, provider Embedder) ([]float32, error) {
	if v, ok, err := c.Get(ctx, h.ID); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	out, err, _ := c.group.Do(strconv.FormatInt(h.ID, 10), func() (interface{}, error) {
		vector, err := provider.Embed(ctx, h.Content)
		if err != nil {
			c.logger.Debug("embedding failed", "highlight_id", h.ID, "error", err)
			return nil, fmt.Errorf("%w: highlight %d: %w", ErrEmbeddingUnavailable, h.ID, err)
		}
		if len(vector) == 0 {
			return nil, fmt.Errorf("%w: highlight %d: empty vector", ErrEmbeddingUnavailable, h.ID)
		}
		if err := c.Put(ctx, h.ID, vector); err != nil {
			return nil, err
		}
		if c.onCompute != nil {
			c.onCompute(ctx, h, clone(vector))
		}
		return vector, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(out.([]float32)), nil
}

// Invalidate drops the vector for one highlight
func (c *Cache) Invalidate(ctx context.Context, highlightID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.front.Remove(highlightID)
	if err := c.store.DeleteEmbedding(ctx, highlightID); err != nil {
		return fmt.Errorf("failed to delete embedding %d: %w", highlightID, err)
	}
	return nil
}

// Wipe removes every cached vector
func (c *Cache) Wipe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.front.Purge()
	n, err := c.store.WipeEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to wipe embeddings: %w", err)
	}
	c.logger.Info("embedding cache wiped", "removed", n)
	return nil
}

// All returns every durable record produced by the current model, ordered by
// highlight id
func (c *Cache) All(ctx context.Context) ([]*types.EmbeddingRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records, err := c.store.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}

	out := records[:0]
	for _, rec := range records {
		if rec.Model == c.model {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len returns the number of vectors held in memory
func (c *Cache) Len() int {
	return c.front.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
