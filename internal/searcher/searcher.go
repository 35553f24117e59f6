package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/highlights-mcp/internal/expander"
	"github.com/dshills/highlights-mcp/internal/lexical"
	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/internal/vectorindex"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// Request defaults
const (
	DefaultHybridAlpha = 0.7
	DefaultBookWeight  = 0.3
	DefaultLimit       = 30
	MaxLimit           = 100

	defaultCacheSize = 1000
	defaultCacheTTL  = time.Hour
)

// ErrInvalidRequest is returned for out-of-range request parameters
var ErrInvalidRequest = errors.New("invalid search request")

// SearchRequest contains parameters for a search operation.
// Use NewRequest to start from the defaults, since a zero HybridAlpha or
// BookWeight is a meaningful value.
type SearchRequest struct {
	Query        string
	Limit        int
	HybridAlpha  float64 // weight of the vector score, the lexical score gets 1-alpha
	BookWeight   float64 // weight of the book popularity bonus, 0 disables it
	UseExpansion bool
	UseCache     bool
}

// NewRequest returns a request for query with default parameters
func NewRequest(query string) SearchRequest {
	return SearchRequest{
		Query:        query,
		Limit:        DefaultLimit,
		HybridAlpha:  DefaultHybridAlpha,
		BookWeight:   DefaultBookWeight,
		UseExpansion: true,
		UseCache:     true,
	}
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.ScoredResult
	TotalResults  int
	Variants      int
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	TextResults   int
	LexicalOnly   bool
}

// QueryEmbedder embeds a query variant
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryExpander produces alternative phrasings of a query. Implementations
// never fail; an empty expansion means no extra variants.
type QueryExpander interface {
	Expand(ctx context.Context, query string) expander.Expansion
}

// HighlightSource resolves highlight and book references returned by the
// indices
type HighlightSource interface {
	GetHighlight(ctx context.Context, highlightID int64) (*types.Highlight, error)
	GetBook(ctx context.Context, bookID int64) (*types.Book, error)
}

// Config wires the collaborators of a Searcher. Vectors, Embedder and
// Expander are optional; without them search degrades to lexical only.
type Config struct {
	Vectors   vectorindex.Index
	Lexical   lexical.Index
	Embedder  QueryEmbedder
	Expander  QueryExpander
	Source    HighlightSource
	Logger    *slog.Logger
	CacheSize int
	CacheTTL  time.Duration
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher is the hybrid retriever. It blends vector similarity and lexical
// rank for every query variant and merges the variants into one ranking.
type Searcher struct {
	vectors  vectorindex.Index
	lexical  lexical.Index
	embedder QueryEmbedder
	expander QueryExpander
	source   HighlightSource
	logger   *slog.Logger

	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheTTL time.Duration
	cacheMu  sync.RWMutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(cfg Config) (*Searcher, error) {
	if cfg.Lexical == nil {
		return nil, errors.New("lexical index is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("highlight source is required")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &Searcher{
		vectors:  cfg.Vectors,
		lexical:  cfg.Lexical,
		embedder: cfg.Embedder,
		expander: cfg.Expander,
		source:   cfg.Source,
		logger:   cfg.Logger,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
	}, nil
}

// Search runs a hybrid search. A blank query yields an empty response
// without touching any collaborator.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return &SearchResponse{Results: []types.ScoredResult{}, Duration: time.Since(startTime)}, nil
	}

	if req.UseCache {
		if cached, ok := s.checkCache(req); ok {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	response, err := s.hybridSearch(ctx, req)
	if err != nil {
		return nil, err
	}
	response.Duration = time.Since(startTime)

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}

	return response, nil
}

// variant is one phrasing of the query with its merge weight
type variant struct {
	text   string
	weight float64
}

// Variant weights for the original query, its synonyms and its reformulation
const (
	weightOriginal      = 1.0
	weightSynonyms      = 0.8
	weightReformulation = 0.9
)

func (s *Searcher) variants(ctx context.Context, req SearchRequest) []variant {
	out := []variant{{text: req.Query, weight: weightOriginal}}
	if !req.UseExpansion || s.expander == nil {
		return out
	}

	exp := s.expander.Expand(ctx, req.Query)
	if syn := strings.TrimSpace(exp.Synonyms); syn != "" {
		out = append(out, variant{text: syn, weight: weightSynonyms})
	}
	if ref := strings.TrimSpace(exp.Reformulation); ref != "" {
		out = append(out, variant{text: ref, weight: weightReformulation})
	}
	return out
}

// variantHits holds raw index hits for one variant
type variantHits struct {
	vector  []vectorindex.Result
	lexical []lexical.Result
}

// hybridSearch fans the variants out concurrently and merges only after all
// of them returned, so the ranking does not depend on completion order
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	variants := s.variants(ctx, req)
	useVectors := s.vectors != nil && s.embedder != nil && s.vectors.Len() > 0
	pool := candidatePool(req.Limit)

	hits := make([]variantHits, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		g.Go(func() error {
			h, err := s.searchVariant(gctx, v.text, pool, useVectors)
			if err != nil {
				return err
			}
			hits[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	response := &SearchResponse{Variants: len(variants), LexicalOnly: true}
	scored := make([][]scoredHit, len(variants))
	for i := range variants {
		response.VectorResults += len(hits[i].vector)
		response.TextResults += len(hits[i].lexical)
		if len(hits[i].vector) > 0 {
			response.LexicalOnly = false
		}
		sh, err := s.scoreVariant(ctx, hits[i], req)
		if err != nil {
			return nil, err
		}
		scored[i] = sh
	}

	merged := mergeVariants(variants, scored)
	if len(merged) > req.Limit {
		merged = merged[:req.Limit]
	}

	results, err := s.fetchResults(ctx, merged)
	if err != nil {
		return nil, err
	}
	response.Results = results
	response.TotalResults = len(results)
	return response, nil
}

// searchVariant queries both indices for one variant. Index failures degrade
// to an empty hit list; only cancellation is reported.
func (s *Searcher) searchVariant(ctx context.Context, text string, k int, useVectors bool) (variantHits, error) {
	var hits variantHits

	if useVectors {
		qv, err := s.embedder.Embed(ctx, text)
		switch {
		case err != nil:
			s.logger.Warn("query embedding unavailable, using lexical only", "error", err)
		default:
			hits.vector, err = s.vectors.Search(ctx, qv, k)
			if err != nil {
				s.logger.Warn("vector search failed", "index", s.vectors.Kind(), "error", err)
				hits.vector = nil
			}
		}
	}

	lex, err := s.lexical.Search(ctx, text, k)
	if err != nil {
		s.logger.Warn("lexical search failed", "index", s.lexical.Kind(), "error", err)
		lex = nil
	}
	hits.lexical = lex

	return hits, ctx.Err()
}

// candidatePool is how many hits each index contributes per variant
func candidatePool(limit int) int {
	return min(limit*3, 3*MaxLimit)
}

// scoreVariant resolves the hits of one variant and computes their final
// scores
func (s *Searcher) scoreVariant(ctx context.Context, hits variantHits, req SearchRequest) ([]scoredHit, error) {
	byID := make(map[int64]*scoredHit)
	order := make([]int64, 0, len(hits.vector)+len(hits.lexical))

	get := func(id int64) (*scoredHit, error) {
		if h, ok := byID[id]; ok {
			return h, nil
		}
		hl, err := s.source.GetHighlight(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load highlight %d: %w", id, err)
		}
		h := &scoredHit{highlight: *hl}
		byID[id] = h
		order = append(order, id)
		return h, nil
	}

	for _, vr := range hits.vector {
		h, err := get(vr.HighlightID)
		if err != nil {
			return nil, err
		}
		if h != nil {
			h.vector = vr.Similarity
		}
	}
	for _, lr := range hits.lexical {
		h, err := get(lr.HighlightID)
		if err != nil {
			return nil, err
		}
		if h != nil {
			h.lexical = lr.Rank
		}
	}

	out := make([]scoredHit, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	applyScores(out, req.HybridAlpha, req.BookWeight)
	return out, nil
}

// fetchResults attaches book metadata and assigns ranks
func (s *Searcher) fetchResults(ctx context.Context, merged []scoredHit) ([]types.ScoredResult, error) {
	books := make(map[int64]*types.Book)
	results := make([]types.ScoredResult, 0, len(merged))

	for i, m := range merged {
		book, ok := books[m.highlight.BookID]
		if !ok {
			b, err := s.source.GetBook(ctx, m.highlight.BookID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
			case err != nil:
				return nil, fmt.Errorf("failed to load book %d: %w", m.highlight.BookID, err)
			default:
				book = b
			}
			books[m.highlight.BookID] = book
		}

		results = append(results, types.ScoredResult{
			Highlight:    m.highlight,
			Book:         book,
			Rank:         i + 1,
			VectorScore:  m.vector,
			LexicalScore: m.lexical,
			FinalScore:   m.final,
		})
	}

	return results, nil
}

// validateRequest normalizes the request and rejects out-of-range weights
func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if math.IsNaN(req.HybridAlpha) || req.HybridAlpha < 0 || req.HybridAlpha > 1 {
		return fmt.Errorf("%w: hybrid alpha must be between 0 and 1, got %v", ErrInvalidRequest, req.HybridAlpha)
	}
	if math.IsNaN(req.BookWeight) || req.BookWeight < 0 || req.BookWeight > 1 {
		return fmt.Errorf("%w: book weight must be between 0 and 1, got %v", ErrInvalidRequest, req.BookWeight)
	}

	return nil
}

// checkCache looks up cached search results
func (s *Searcher) checkCache(req SearchRequest) (*SearchResponse, bool) {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, false
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response, true
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// PurgeCache drops every cached response. Called after a reindex.
func (s *Searcher) PurgeCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.ScoredResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		// Book holds only scalar fields
		if r.Book != nil {
			bookCopy := *r.Book
			dst.Results[i].Book = &bookCopy
		}
	}

	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|%d|%.4f|%.4f|%t", req.Limit, req.HybridAlpha, req.BookWeight, req.UseExpansion)
	return sha256.Sum256([]byte(data.String()))
}
