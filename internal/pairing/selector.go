package pairing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/highlights-mcp/internal/embedcache"
	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// Status tells whether a selection produced a pair
type Status int

const (
	// StatusExhausted means no strategy could produce a pair. Callers treat
	// it as "feature unavailable", not as an error.
	StatusExhausted Status = iota
	StatusSelected
)

func (s Status) String() string {
	if s == StatusSelected {
		return "selected"
	}
	return "exhausted"
}

// Result is the outcome of one selection
type Result struct {
	Status   Status
	First    types.Highlight
	Second   types.Highlight
	Strategy types.Strategy
	// Connection is the recorded connection, nil when nothing was recorded
	Connection *types.ConnectionRecord
	// Reused is set when the latest recorded connection was returned instead
	// of selecting a new pair
	Reused bool
}

// Selected reports whether the result carries a pair
func (r Result) Selected() bool {
	return r.Status == StatusSelected
}

// Request controls one selection
type Request struct {
	// ForceRegenerate skips the latest recorded connection
	ForceRegenerate bool
	// Exclude lists highlight ids that must not be picked
	Exclude []int64
	// Seed, when set, makes this selection reproducible
	Seed *uint64
}

// HighlightStore lists highlights and picks random ones per book
type HighlightStore interface {
	ListHighlights(ctx context.Context) ([]types.Highlight, error)
	GetHighlight(ctx context.Context, highlightID int64) (*types.Highlight, error)
	RandomHighlightForBook(ctx context.Context, bookID int64, exclude []int64) (*types.Highlight, error)
}

// EmbeddingCache returns the vector of a highlight, computing it on a miss
type EmbeddingCache interface {
	GetOrCompute(ctx context.Context, h types.Highlight, provider embedcache.Embedder) ([]float32, error)
}

// ConnectionRecorder persists produced pairs and exposes the recent history
type ConnectionRecorder interface {
	RecordConnection(ctx context.Context, rec *types.ConnectionRecord) error
	LatestConnection(ctx context.Context) (*types.ConnectionRecord, error)
	RecentConnectionHighlightIDs(ctx context.Context, limit int) ([]int64, error)
}

// Config wires a Selector. Cache and Provider are needed by the semantic
// distance strategy only; Recorder is optional.
type Config struct {
	Store    HighlightStore
	Cache    EmbeddingCache
	Provider embedcache.Embedder
	Recorder ConnectionRecorder
	// HistoryLimit is how many recent connections feed the exclusion set
	HistoryLimit int
	// Seed initializes the selector's random source
	Seed   uint64
	Logger *slog.Logger
}

// Selector picks two highlights from different books, trying the strategies
// in order until one produces a pair
type Selector struct {
	store        HighlightStore
	cache        EmbeddingCache
	provider     embedcache.Embedder
	recorder     ConnectionRecorder
	historyLimit int
	logger       *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a selector
func NewSelector(cfg Config) (*Selector, error) {
	if cfg.Store == nil {
		return nil, errors.New("highlight store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Selector{
		store:        cfg.Store,
		cache:        cfg.Cache,
		provider:     cfg.Provider,
		recorder:     cfg.Recorder,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
		rng:          newRand(cfg.Seed),
	}, nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Select returns a pair or an exhausted result. Errors are reserved for
// storage failures and cancellation.
func (s *Selector) Select(ctx context.Context, req Request) (Result, error) {
	if !req.ForceRegenerate && s.recorder != nil {
		res, ok, err := s.latest(ctx)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
	}

	highlights, err := s.store.ListHighlights(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list highlights: %w", err)
	}

	exclude := slices.Clone(req.Exclude)
	pool := newCandidatePool(highlights, exclude)

	if s.recorder != nil && s.historyLimit > 0 {
		recent, err := s.recorder.RecentConnectionHighlightIDs(ctx, s.historyLimit)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load connection history: %w", err)
		}
		// history only narrows the pool while a pair remains possible
		if narrowed := newCandidatePool(highlights, append(slices.Clone(exclude), recent...)); narrowed.bookCount() >= 2 {
			pool = narrowed
			exclude = append(exclude, recent...)
		}
	}

	// each call draws from its own source; the shared one only seeds it, so
	// provider calls made by the strategies run without the lock
	var rng *rand.Rand
	if req.Seed != nil {
		rng = newRand(*req.Seed)
	} else {
		s.mu.Lock()
		rng = newRand(s.rng.Uint64())
		s.mu.Unlock()
	}

	run := &selection{selector: s, pool: pool, exclude: exclude, rng: rng}
	res, err := run.execute(ctx)
	if err != nil || !res.Selected() {
		return res, err
	}

	if s.recorder != nil {
		rec := &types.ConnectionRecord{
			ID:           uuid.NewString(),
			Highlight1ID: res.First.ID,
			Highlight2ID: res.Second.ID,
			Strategy:     res.Strategy,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.recorder.RecordConnection(ctx, rec); err != nil {
			s.logger.Warn("failed to record connection", "error", err)
		} else {
			res.Connection = rec
		}
	}

	s.logger.Debug("pair selected",
		"strategy", res.Strategy,
		"highlight1_id", res.First.ID,
		"highlight2_id", res.Second.ID)
	return res, nil
}

// latest resolves the most recent recorded connection
func (s *Selector) latest(ctx context.Context) (Result, bool, error) {
	rec, err := s.recorder.LatestConnection(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to load latest connection: %w", err)
	}

	first, err := s.store.GetHighlight(ctx, rec.Highlight1ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	second, err := s.store.GetHighlight(ctx, rec.Highlight2ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	return Result{
		Status:     StatusSelected,
		First:      *first,
		Second:     *second,
		Strategy:   rec.Strategy,
		Connection: rec,
		Reused:     true,
	}, true, nil
}

// candidatePool groups eligible highlights by book. Books are kept in
// ascending id order so a seeded source picks the same books every run.
type candidatePool struct {
	books  []int64
	byBook map[int64][]types.Highlight
	total  int
}

func newCandidatePool(highlights []types.Highlight, exclude []int64) *candidatePool {
	excluded := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	p := &candidatePool{byBook: make(map[int64][]types.Highlight)}
	for _, h := range highlights {
		if excluded[h.ID] {
			continue
		}
		if _, ok := p.byBook[h.BookID]; !ok {
			p.books = append(p.books, h.BookID)
		}
		p.byBook[h.BookID] = append(p.byBook[h.BookID], h)
		p.total++
	}
	slices.Sort(p.books)
	for _, b := range p.books {
		slices.SortFunc(p.byBook[b], func(x, y types.Highlight) int { return cmp.Compare(x.ID, y.ID) })
	}
	return p
}

func (p *candidatePool) bookCount() int {
	return len(p.books)
}
