package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/highlights-mcp/internal/embedcache"
	"github.com/dshills/highlights-mcp/internal/lexical"
	"github.com/dshills/highlights-mcp/internal/vectorindex"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// ErrIndexingInProgress is returned when a reindex is already running
var ErrIndexingInProgress = errors.New("indexing already in progress")

// maxErrorMessages caps the per-highlight failures kept in Statistics
const maxErrorMessages = 50

// HighlightLister lists the whole corpus
type HighlightLister interface {
	ListHighlights(ctx context.Context) ([]types.Highlight, error)
}

// EmbeddingCache is the subset of embedcache.Cache used by the indexer
type EmbeddingCache interface {
	Get(ctx context.Context, highlightID int64) ([]float32, bool, error)
	GetOrCompute(ctx context.Context, h types.Highlight, provider embedcache.Embedder) ([]float32, error)
	All(ctx context.Context) ([]*types.EmbeddingRecord, error)
}

// CachePurger drops derived caches after the indices changed
type CachePurger interface {
	PurgeCache()
}

// Config contains configuration for the indexer
type Config struct {
	Store    HighlightLister
	Cache    EmbeddingCache
	Provider embedcache.Embedder
	Vectors  vectorindex.Index
	Lexical  lexical.Index
	// Purger is notified after every successful reindex; optional
	Purger  CachePurger
	Workers int // Number of concurrent embedding calls (default: runtime.NumCPU())
	// BatchSize is the number of highlights handed to one goroutine (default: 50)
	BatchSize int
	Logger    *slog.Logger
}

// Statistics contains statistics about one reindex
type Statistics struct {
	Highlights    int           `json:"highlights"`
	Cached        int           `json:"cached"`      // already embedded by the current model
	Embedded      int           `json:"embedded"`    // embedded during this run
	Unavailable   int           `json:"unavailable"` // provider failed, highlight stays lexical only
	Vectors       int           `json:"vectors"`     // size of the rebuilt vector index
	Duration      time.Duration `json:"duration_ns"`
	ErrorMessages []string      `json:"errors,omitempty"`
}

// Indexer embeds the corpus and rebuilds both indices
type Indexer struct {
	store     HighlightLister
	cache     EmbeddingCache
	provider  embedcache.Embedder
	vectors   vectorindex.Index
	lexical   lexical.Index
	purger    CachePurger
	workers   int
	batchSize int
	logger    *slog.Logger

	lock IndexLock
}

// New creates a new Indexer instance
func New(cfg Config) (*Indexer, error) {
	if cfg.Store == nil || cfg.Cache == nil || cfg.Vectors == nil || cfg.Lexical == nil {
		return nil, errors.New("store, cache, vector index and lexical index are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Indexer{
		store:     cfg.Store,
		cache:     cfg.Cache,
		provider:  cfg.Provider,
		vectors:   cfg.Vectors,
		lexical:   cfg.Lexical,
		purger:    cfg.Purger,
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}, nil
}

// Reindex embeds every highlight missing a vector, rebuilds the vector index
// from the cache, saves it and rebuilds the lexical index. Only one reindex
// runs at a time; a concurrent call returns ErrIndexingInProgress.
func (idx *Indexer) Reindex(ctx context.Context) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	highlights, err := idx.store.ListHighlights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list highlights: %w", err)
	}
	stats.Highlights = len(highlights)

	if idx.provider != nil {
		if err := idx.embedHighlights(ctx, highlights, stats); err != nil {
			return nil, fmt.Errorf("failed to embed highlights: %w", err)
		}
	}

	n, err := idx.rebuildVectors(ctx)
	if err != nil {
		return nil, err
	}
	stats.Vectors = n

	if err := idx.lexical.Rebuild(ctx, highlights); err != nil {
		return nil, fmt.Errorf("failed to rebuild %s index: %w", idx.lexical.Kind(), err)
	}

	if idx.purger != nil {
		idx.purger.PurgeCache()
	}

	stats.Duration = time.Since(startTime)
	idx.logger.Info("reindex complete",
		"highlights", stats.Highlights,
		"embedded", stats.Embedded,
		"cached", stats.Cached,
		"unavailable", stats.Unavailable,
		"vectors", stats.Vectors,
		"duration", stats.Duration)
	return stats, nil
}

// Warm restores the indices at startup. A vector index that cannot be loaded
// is rebuilt from the embedding cache without calling the provider.
func (idx *Indexer) Warm(ctx context.Context) error {
	if !idx.lock.TryAcquire() {
		return ErrIndexingInProgress
	}
	defer idx.lock.Release()

	err := idx.vectors.Load(ctx)
	switch {
	case errors.Is(err, vectorindex.ErrIndexLoad):
		idx.logger.Info("vector index not loadable, rebuilding from cache", "index", idx.vectors.Kind(), "reason", err)
		if _, err := idx.rebuildVectors(ctx); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to load vector index: %w", err)
	}

	highlights, err := idx.store.ListHighlights(ctx)
	if err != nil {
		return fmt.Errorf("failed to list highlights: %w", err)
	}
	if err := idx.lexical.Rebuild(ctx, highlights); err != nil {
		return fmt.Errorf("failed to rebuild %s index: %w", idx.lexical.Kind(), err)
	}

	idx.logger.Debug("indices ready", "vectors", idx.vectors.Len(), "highlights", len(highlights))
	return nil
}

// rebuildVectors replaces the vector index with every cached record and
// persists it
func (idx *Indexer) rebuildVectors(ctx context.Context) (int, error) {
	records, err := idx.cache.All(ctx)
	if err != nil {
		return 0, err
	}
	if err := idx.vectors.Rebuild(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to rebuild %s index: %w", idx.vectors.Kind(), err)
	}
	if err := idx.vectors.Save(ctx); err != nil {
		return 0, fmt.Errorf("failed to save %s index: %w", idx.vectors.Kind(), err)
	}
	return len(records), nil
}

// embedHighlights computes missing embeddings concurrently. Provider failures
// are counted and skipped; only cancellation and storage errors abort.
func (idx *Indexer) embedHighlights(ctx context.Context, highlights []types.Highlight, stats *Statistics) error {
	sem := semaphore.NewWeighted(int64(idx.workers))

	var (
		cached      int32
		embedded    int32
		unavailable int32
	)

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex // Protect stats.ErrorMessages

	for i := 0; i < len(highlights); i += idx.batchSize {
		end := min(i+idx.batchSize, len(highlights))
		batch := highlights[i:end]

		g.Go(func() error {
			for _, h := range batch {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				res, err := idx.embedOne(gctx, h)
				sem.Release(1)

				switch {
				case errors.Is(err, embedcache.ErrEmbeddingUnavailable):
					atomic.AddInt32(&unavailable, 1)
					mu.Lock()
					if len(stats.ErrorMessages) < maxErrorMessages {
						stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("highlight %d: %v", h.ID, err))
					}
					mu.Unlock()
				case err != nil:
					return err
				case res == outcomeCached:
					atomic.AddInt32(&cached, 1)
				default:
					atomic.AddInt32(&embedded, 1)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	stats.Cached = int(cached)
	stats.Embedded = int(embedded)
	stats.Unavailable = int(unavailable)
	return nil
}

type outcome int

const (
	outcomeCached outcome = iota
	outcomeEmbedded
)

func (idx *Indexer) embedOne(ctx context.Context, h types.Highlight) (outcome, error) {
	if _, ok, err := idx.cache.Get(ctx, h.ID); err != nil {
		return 0, err
	} else if ok {
		return outcomeCached, nil
	}
	if _, err := idx.cache.GetOrCompute(ctx, h, idx.provider); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}
	return outcomeEmbedded, nil
}

// Running reports whether a reindex or warm-up is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}
