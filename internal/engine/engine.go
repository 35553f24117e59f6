package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/highlights-mcp/internal/config"
	"github.com/dshills/highlights-mcp/internal/embedcache"
	"github.com/dshills/highlights-mcp/internal/embedder"
	"github.com/dshills/highlights-mcp/internal/expander"
	"github.com/dshills/highlights-mcp/internal/indexer"
	"github.com/dshills/highlights-mcp/internal/lexical"
	"github.com/dshills/highlights-mcp/internal/llm"
	"github.com/dshills/highlights-mcp/internal/pairing"
	"github.com/dshills/highlights-mcp/internal/searcher"
	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/internal/vectorindex"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// Engine owns every long-lived component: storage, the embedding cache, both
// indices, the retriever and the pair selector
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *storage.SQLiteStorage
	provider embedder.Embedder
	cache    *embedcache.Cache
	vectors  vectorindex.Index
	lexical  lexical.Index
	expander *expander.Expander // nil when query expansion is unavailable

	searcher *searcher.Searcher
	selector *pairing.Selector
	indexer  *indexer.Indexer

	ready bool // Open completed; Close persists the vector index
}

// Options overrides components built from the configuration. Tests use it to
// inject a provider without network access.
type Options struct {
	Provider  embedder.Embedder
	Completer llm.Completer
}

// Open builds the engine from cfg and warms the indices
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cfg: cfg, logger: logger}

	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	if err := ensureDir(cfg.Database.Path); err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	e.store = store

	provider := opts.Provider
	if provider == nil {
		provider, err = embedder.New(embedder.Config{
			Provider:  cfg.Embedding.Provider,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			BaseURL:   cfg.Embedding.BaseURL,
			RateLimit: cfg.RateLimit.RequestsPerSecond,
			RateBurst: cfg.RateLimit.Burst,
			Breaker:   cfg.CircuitBreaker.Breaker(),
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}
	e.provider = provider
	model := embedder.ModelID(e.provider)

	e.cache, err = embedcache.Open(ctx, store, embedcache.Options{
		Model:     model,
		Size:      cfg.Index.CacheSize,
		OnCompute: e.indexVector,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}

	if cfg.Index.PgDSN == "" {
		if err := ensureDir(cfg.Index.Path); err != nil {
			return nil, err
		}
	}
	e.vectors = vectorindex.Open(ctx, vectorindex.Options{
		Path:      cfg.Index.Path,
		Model:     model,
		Dimension: e.provider.Dimension(),
		DSN:       cfg.Index.PgDSN,
		Logger:    logger,
	})

	lex, err := lexical.New(cfg.Index.Lexical, store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lexical index: %w", err)
	}
	e.lexical = lex

	e.expander = newExpander(cfg, opts.Completer, logger)

	scfg := searcher.Config{
		Vectors:   e.vectors,
		Lexical:   e.lexical,
		Embedder:  e.provider,
		Source:    store,
		Logger:    logger,
		CacheSize: cfg.Search.CacheSize,
		CacheTTL:  time.Duration(cfg.Search.CacheTTL) * time.Second,
	}
	if e.expander != nil {
		scfg.Expander = e.expander
	}
	e.searcher, err = searcher.NewSearcher(scfg)
	if err != nil {
		return nil, err
	}

	seed := cfg.Pairing.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	e.selector, err = pairing.NewSelector(pairing.Config{
		Store:        store,
		Cache:        e.cache,
		Provider:     e.provider,
		Recorder:     store,
		HistoryLimit: cfg.Pairing.HistoryLimit,
		Seed:         seed,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	e.indexer, err = indexer.New(indexer.Config{
		Store:    store,
		Cache:    e.cache,
		Provider: e.provider,
		Vectors:  e.vectors,
		Lexical:  e.lexical,
		Purger:   e.searcher,
		Workers:  cfg.Index.Workers,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if err := e.indexer.Warm(ctx); err != nil {
		return nil, fmt.Errorf("failed to warm indices: %w", err)
	}

	ok = true
	e.ready = true
	logger.Info("engine ready",
		"model", model,
		"vector_index", e.vectors.Kind(),
		"lexical_index", e.lexical.Kind(),
		"vectors", e.vectors.Len(),
		"expansion", e.expander != nil)
	return e, nil
}

// indexVector adds a vector computed outside a reindex, such as during pair
// selection, to the vector index
func (e *Engine) indexVector(ctx context.Context, h types.Highlight, vector []float32) {
	if e.vectors == nil {
		return
	}
	err := e.vectors.Add(ctx, types.EmbeddingRecord{
		HighlightID: h.ID,
		BookID:      h.BookID,
		Vector:      vector,
		Model:       e.cache.Model(),
	})
	if err != nil {
		e.logger.Warn("failed to index computed vector", "highlight_id", h.ID, "error", err)
	}
}

// newExpander returns nil when expansion is disabled or no completion
// endpoint is configured
func newExpander(cfg *config.Config, completer llm.Completer, logger *slog.Logger) *expander.Expander {
	if !cfg.Completion.Enabled {
		return nil
	}
	if completer == nil {
		if cfg.Completion.APIKey == "" && cfg.Completion.BaseURL == "" {
			logger.Info("query expansion disabled: no completion api key")
			return nil
		}
		c, err := llm.NewOpenAICompleter(llm.CompletionConfig{
			APIKey:      cfg.Completion.APIKey,
			BaseURL:     cfg.Completion.BaseURL,
			Model:       cfg.Completion.Model,
			Temperature: cfg.Completion.Temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
		})
		if err != nil {
			logger.Warn("query expansion disabled", "error", err)
			return nil
		}
		completer = llm.WithBreaker(c, llm.NewBreaker("completion", cfg.CircuitBreaker.Breaker(), logger))
	}
	return expander.New(completer, expander.Options{
		CacheSize: cfg.Search.ExpansionCache,
		Logger:    logger,
	})
}

func ensureDir(file string) error {
	if file == "" || file == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", file, err)
	}
	return nil
}

// SearchParams mirrors the search request accepted by the tools. Nil fields
// take the configured defaults.
type SearchParams struct {
	Keywords    []string
	HybridAlpha *float64
	BookWeight  *float64
	UseExpanded *bool
	Limit       *int
}

// Hit is one search result as returned to callers
type Hit struct {
	HighlightID int64   `json:"highlight_id"`
	Content     string  `json:"content"`
	BookID      int64   `json:"book_id"`
	BookTitle   string  `json:"book_title"`
	BookAuthor  string  `json:"book_author"`
	Score       float64 `json:"score"`
}

// SearchResult is the search response shape
type SearchResult struct {
	Results []Hit `json:"results"`
	Total   int   `json:"total"`
}

// Request builds a retriever request from params and the configured defaults
func (e *Engine) Request(params SearchParams) searcher.SearchRequest {
	req := searcher.SearchRequest{
		Query:        strings.Join(params.Keywords, " "),
		Limit:        e.cfg.Search.Limit,
		HybridAlpha:  e.cfg.Search.HybridAlpha,
		BookWeight:   e.cfg.Search.BookWeight,
		UseExpansion: e.cfg.Search.UseExpansion,
		UseCache:     true,
	}
	if params.HybridAlpha != nil {
		req.HybridAlpha = *params.HybridAlpha
	}
	if params.BookWeight != nil {
		req.BookWeight = *params.BookWeight
	}
	if params.UseExpanded != nil {
		req.UseExpansion = *params.UseExpanded
	}
	if params.Limit != nil {
		req.Limit = *params.Limit
	}
	return req
}

// Search runs a hybrid search
func (e *Engine) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	resp, err := e.searcher.Search(ctx, e.Request(params))
	if err != nil {
		return nil, err
	}

	out := &SearchResult{Results: make([]Hit, 0, len(resp.Results))}
	for _, r := range resp.Results {
		hit := Hit{
			HighlightID: r.Highlight.ID,
			Content:     r.Highlight.Content,
			BookID:      r.Highlight.BookID,
			Score:       r.FinalScore,
		}
		if r.Book != nil {
			hit.BookTitle = r.Book.Title
			hit.BookAuthor = r.Book.Author
		}
		out.Results = append(out.Results, hit)
	}
	out.Total = len(out.Results)
	return out, nil
}

// PairHighlight is one side of a selected pair
type PairHighlight struct {
	HighlightID int64  `json:"highlight_id"`
	Content     string `json:"content"`
	BookID      int64  `json:"book_id"`
	BookTitle   string `json:"book_title,omitempty"`
	BookAuthor  string `json:"book_author,omitempty"`
}

// Pair is the pair selection response. Available is false when the corpus
// holds fewer than two books.
type Pair struct {
	Available    bool           `json:"available"`
	Highlight1   *PairHighlight `json:"highlight1,omitempty"`
	Highlight2   *PairHighlight `json:"highlight2,omitempty"`
	StrategyUsed string         `json:"strategy_used,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Reused       bool           `json:"reused,omitempty"`
}

// SelectPair picks two highlights from different books
func (e *Engine) SelectPair(ctx context.Context, req pairing.Request) (*Pair, error) {
	res, err := e.selector.Select(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Selected() {
		return &Pair{Available: false}, nil
	}

	first, err := e.pairHighlight(ctx, res.First)
	if err != nil {
		return nil, err
	}
	second, err := e.pairHighlight(ctx, res.Second)
	if err != nil {
		return nil, err
	}

	pair := &Pair{
		Available:    true,
		Highlight1:   first,
		Highlight2:   second,
		StrategyUsed: string(res.Strategy),
		Reused:       res.Reused,
	}
	if res.Connection != nil {
		pair.ConnectionID = res.Connection.ID
	}
	return pair, nil
}

func (e *Engine) pairHighlight(ctx context.Context, h types.Highlight) (*PairHighlight, error) {
	out := &PairHighlight{HighlightID: h.ID, Content: h.Content, BookID: h.BookID}
	book, err := e.store.GetBook(ctx, h.BookID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load book %d: %w", h.BookID, err)
	default:
		out.BookTitle = book.Title
		out.BookAuthor = book.Author
	}
	return out, nil
}

// Reindex embeds missing highlights and rebuilds both indices
func (e *Engine) Reindex(ctx context.Context) (*indexer.Statistics, error) {
	return e.indexer.Reindex(ctx)
}

// Import loads a JSON-lines export. Imported highlights are added to the
// lexical index right away; highlights whose content changed lose their
// embedding and their vector. New vectors are computed by Reindex or on
// demand by pair selection.
func (e *Engine) Import(ctx context.Context, r io.Reader) (*storage.ImportStats, error) {
	stats, err := storage.ImportJSONL(ctx, e.store, r)
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}
	for _, id := range stats.Changed {
		if err := e.cache.Invalidate(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to invalidate embedding of highlight %d: %w", id, err)
		}
		if err := e.vectors.Remove(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to remove vector of highlight %d: %w", id, err)
		}
	}
	if len(stats.Changed) > 0 {
		if err := e.vectors.Save(ctx); err != nil {
			return nil, fmt.Errorf("failed to save %s index: %w", e.vectors.Kind(), err)
		}
	}
	for _, h := range stats.Imported {
		if err := e.lexical.Add(ctx, h); err != nil {
			return nil, fmt.Errorf("failed to index highlight %d: %w", h.ID, err)
		}
	}
	if len(stats.Imported) > 0 {
		e.searcher.PurgeCache()
	}
	e.logger.Info("import complete",
		"books", stats.Books,
		"highlights", stats.Highlights,
		"skipped", stats.Skipped,
		"changed", len(stats.Changed))
	return stats, nil
}

// Status describes the corpus and the engine components
type Status struct {
	Books           int       `json:"books"`
	Highlights      int       `json:"highlights"`
	Embeddings      int       `json:"embeddings"`
	Connections     int       `json:"connections"`
	Model           string    `json:"embedding_model"`
	Models          []string  `json:"stored_models"`
	VectorIndex     string    `json:"vector_index"`
	Vectors         int       `json:"vectors"`
	LexicalIndex    string    `json:"lexical_index"`
	Expansion       bool      `json:"query_expansion"`
	Indexing        bool      `json:"indexing"`
	SchemaVersion   string    `json:"schema_version"`
	DatabaseSizeMB  float64   `json:"database_size_mb"`
	LastConnection  time.Time `json:"last_connection_at,omitzero"`
	SearchCacheSize int       `json:"search_cache_entries"`
}

// Status reports counts and component health
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	st, err := e.store.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return &Status{
		Books:           st.BooksCount,
		Highlights:      st.HighlightsCount,
		Embeddings:      st.EmbeddingsCount,
		Connections:     st.ConnectionsCount,
		Model:           e.cache.Model(),
		Models:          st.EmbeddingModels,
		VectorIndex:     e.vectors.Kind(),
		Vectors:         e.vectors.Len(),
		LexicalIndex:    e.lexical.Kind(),
		Expansion:       e.expander != nil,
		Indexing:        e.indexer.Running(),
		SchemaVersion:   st.SchemaVersion,
		DatabaseSizeMB:  st.DatabaseSizeMB,
		LastConnection:  st.LastConnectionAt,
		SearchCacheSize: e.searcher.CacheLen(),
	}, nil
}

// Close persists the vector index and releases every component. It is safe
// on a partially built engine.
func (e *Engine) Close() error {
	var errs []error
	if e.ready {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		errs = append(errs, e.vectors.Save(ctx))
		cancel()
		e.ready = false
	}
	if e.lexical != nil {
		errs = append(errs, e.lexical.Close())
	}
	if e.vectors != nil {
		errs = append(errs, e.vectors.Close())
	}
	if e.provider != nil {
		errs = append(errs, e.provider.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
