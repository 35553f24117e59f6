package pairing

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/internal/vectorindex"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// Strategy preconditions
const (
	semanticMinHighlights  = 10
	diversityMinHighlights = 5
	minBooks               = 2
	// samplePerBook caps the highlights compared per book by the semantic
	// distance strategy
	samplePerBook = 10
)

// selection runs the strategy chain once over a fixed pool
type selection struct {
	selector *Selector
	pool     *candidatePool
	exclude  []int64
	rng      *rand.Rand
}

// strategyFunc returns ok=false when its preconditions are unmet or it could
// not produce a pair. Errors are reserved for storage failures.
type strategyFunc func(ctx context.Context) (first, second types.Highlight, ok bool, err error)

func (s *selection) execute(ctx context.Context) (Result, error) {
	chain := []struct {
		name types.Strategy
		run  strategyFunc
	}{
		{types.StrategySemanticDistance, s.semanticDistance},
		{types.StrategyTopicDiversity, s.topicDiversity},
		{types.StrategyGenreContrast, s.genreContrast},
		{types.StrategyRandomFallback, s.randomFallback},
	}

	for _, step := range chain {
		first, second, ok, err := step.run(ctx)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{Status: StatusSelected, First: first, Second: second, Strategy: step.name}, nil
		}
		s.selector.logger.Debug("pairing strategy skipped", "strategy", step.name)
	}

	return Result{Status: StatusExhausted}, nil
}

// twoBooks picks two distinct books uniformly
func (s *selection) twoBooks() (int64, int64) {
	n := len(s.pool.books)
	i := s.rng.IntN(n)
	j := s.rng.IntN(n - 1)
	if j >= i {
		j++
	}
	return s.pool.books[i], s.pool.books[j]
}

func (s *selection) pick(bookID int64) types.Highlight {
	hs := s.pool.byBook[bookID]
	return hs[s.rng.IntN(len(hs))]
}

// sample returns up to n random highlights of a book
func (s *selection) sample(bookID int64, n int) []types.Highlight {
	hs := append([]types.Highlight(nil), s.pool.byBook[bookID]...)
	s.rng.Shuffle(len(hs), func(i, j int) { hs[i], hs[j] = hs[j], hs[i] })
	if len(hs) > n {
		hs = hs[:n]
	}
	return hs
}

// semanticDistance compares sampled highlights of two random books and
// returns the pair with the largest cosine distance. Highlights whose
// embedding is unavailable are skipped without backfilling the sample.
func (s *selection) semanticDistance(ctx context.Context) (types.Highlight, types.Highlight, bool, error) {
	var none types.Highlight
	if s.pool.total < semanticMinHighlights || s.pool.bookCount() < minBooks {
		return none, none, false, nil
	}
	if s.selector.cache == nil || s.selector.provider == nil {
		return none, none, false, nil
	}

	bookA, bookB := s.twoBooks()
	left, err := s.embed(ctx, s.sample(bookA, samplePerBook))
	if err != nil {
		return none, none, false, err
	}
	right, err := s.embed(ctx, s.sample(bookB, samplePerBook))
	if err != nil {
		return none, none, false, err
	}

	i, j, ok := farthestPair(left, right)
	if !ok {
		return none, none, false, nil
	}
	return s.lookup(bookA, left[i].HighlightID), s.lookup(bookB, right[j].HighlightID), true, nil
}

// embed fetches vectors for the sample, dropping highlights that could not
// be embedded
func (s *selection) embed(ctx context.Context, sample []types.Highlight) ([]types.SelectionCandidate, error) {
	out := make([]types.SelectionCandidate, 0, len(sample))
	for _, h := range sample {
		vec, err := s.selector.cache.GetOrCompute(ctx, h, s.selector.provider)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.selector.logger.Debug("skipping highlight without embedding", "highlight_id", h.ID, "error", err)
			continue
		}
		out = append(out, types.SelectionCandidate{HighlightID: h.ID, BookID: h.BookID, Embedding: vec})
	}
	return out, nil
}

// farthestPair returns the indices of the cross pair with maximum distance.
// Ties keep the first pair seen.
func farthestPair(left, right []types.SelectionCandidate) (int, int, bool) {
	bi, bj, best := -1, -1, -1.0
	for i := range left {
		for j := range right {
			d := vectorindex.Distance(left[i].Embedding, right[j].Embedding)
			if d > best {
				bi, bj, best = i, j, d
			}
		}
	}
	return bi, bj, bi >= 0
}

func (s *selection) lookup(bookID, highlightID int64) types.Highlight {
	for _, h := range s.pool.byBook[bookID] {
		if h.ID == highlightID {
			return h
		}
	}
	return types.Highlight{}
}

// topicDiversity picks one random highlight from each of two random books
func (s *selection) topicDiversity(ctx context.Context) (types.Highlight, types.Highlight, bool, error) {
	var none types.Highlight
	if s.pool.total < diversityMinHighlights || s.pool.bookCount() < minBooks {
		return none, none, false, nil
	}
	bookA, bookB := s.twoBooks()
	return s.pick(bookA), s.pick(bookB), true, nil
}

// genreContrast picks two random books and lets the store choose one
// highlight of each with its randomized ordering
func (s *selection) genreContrast(ctx context.Context) (types.Highlight, types.Highlight, bool, error) {
	var none types.Highlight
	if s.pool.bookCount() < minBooks {
		return none, none, false, nil
	}

	bookA, bookB := s.twoBooks()
	first, err := s.storePick(ctx, bookA)
	if err != nil {
		return none, none, false, err
	}
	second, err := s.storePick(ctx, bookB)
	if err != nil {
		return none, none, false, err
	}
	if first == nil || second == nil {
		return none, none, false, nil
	}
	return *first, *second, true, nil
}

func (s *selection) storePick(ctx context.Context, bookID int64) (*types.Highlight, error) {
	h, err := s.selector.store.RandomHighlightForBook(ctx, bookID, s.exclude)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return h, err
}

// randomFallback has the preconditions of genreContrast but picks from the
// in-memory pool, so it only fails when fewer than two books remain
func (s *selection) randomFallback(ctx context.Context) (types.Highlight, types.Highlight, bool, error) {
	var none types.Highlight
	if s.pool.bookCount() < minBooks {
		return none, none, false, nil
	}
	bookA, bookB := s.twoBooks()
	return s.pick(bookA), s.pick(bookB), true, nil
}
