package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlights-mcp/internal/embedder"
	"github.com/dshills/highlights-mcp/internal/expander"
	"github.com/dshills/highlights-mcp/internal/lexical"
	"github.com/dshills/highlights-mcp/internal/llm"
	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/internal/vectorindex"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// mockVectors implements vectorindex.Index for testing
type mockVectors struct {
	searchFunc func(ctx context.Context, query []float32, k int) ([]vectorindex.Result, error)
	size       int
	searches   atomic.Int32
}

func (m *mockVectors) Add(ctx context.Context, rec types.EmbeddingRecord) error { return nil }
func (m *mockVectors) Remove(ctx context.Context, highlightID int64) error      { return nil }
func (m *mockVectors) Search(ctx context.Context, query []float32, k int) ([]vectorindex.Result, error) {
	m.searches.Add(1)
	if m.searchFunc != nil {
		return m.searchFunc(ctx, query, k)
	}
	return nil, nil
}
func (m *mockVectors) Rebuild(ctx context.Context, records []*types.EmbeddingRecord) error {
	return nil
}
func (m *mockVectors) Save(ctx context.Context) error { return nil }
func (m *mockVectors) Load(ctx context.Context) error { return nil }
func (m *mockVectors) Len() int                       { return m.size }
func (m *mockVectors) Kind() string                   { return "mock" }
func (m *mockVectors) Close() error                   { return nil }

// mockLexical implements lexical.Index for testing
type mockLexical struct {
	searchFunc func(ctx context.Context, query string, k int) ([]lexical.Result, error)
	searches   atomic.Int32
}

func (m *mockLexical) Add(ctx context.Context, h types.Highlight) error      { return nil }
func (m *mockLexical) Delete(ctx context.Context, highlightID int64) error { return nil }
func (m *mockLexical) Rebuild(ctx context.Context, highlights []types.Highlight) error {
	return nil
}
func (m *mockLexical) Search(ctx context.Context, query string, k int) ([]lexical.Result, error) {
	m.searches.Add(1)
	if m.searchFunc != nil {
		return m.searchFunc(ctx, query, k)
	}
	return nil, nil
}
func (m *mockLexical) Kind() string { return "mock" }
func (m *mockLexical) Close() error { return nil }

type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

type mockExpander struct {
	expansion expander.Expansion
	calls     atomic.Int32
}

func (m *mockExpander) Expand(ctx context.Context, query string) expander.Expansion {
	m.calls.Add(1)
	return m.expansion
}

// mapSource serves highlights and books from maps
type mapSource struct {
	highlights map[int64]types.Highlight
	books      map[int64]types.Book
	calls      atomic.Int32
}

func (m *mapSource) GetHighlight(ctx context.Context, id int64) (*types.Highlight, error) {
	m.calls.Add(1)
	h, ok := m.highlights[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &h, nil
}

func (m *mapSource) GetBook(ctx context.Context, id int64) (*types.Book, error) {
	m.calls.Add(1)
	b, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}

func newSource() *mapSource {
	return &mapSource{
		highlights: map[int64]types.Highlight{
			1: {ID: 1, BookID: 10, Content: "roses in the garden"},
			2: {ID: 2, BookID: 10, Content: "thorns of the rose"},
			3: {ID: 3, BookID: 20, Content: "a field of flowers"},
			4: {ID: 4, BookID: 30, Content: "stones and rivers"},
		},
		books: map[int64]types.Book{
			10: {ID: 10, Title: "Gardens", Author: "A. Gardener"},
			20: {ID: 20, Title: "Fields", Author: "B. Farmer"},
		},
	}
}

type fixture struct {
	vectors  *mockVectors
	lexical  *mockLexical
	embedder *mockEmbedder
	expander *mockExpander
	source   *mapSource
	searcher *Searcher
}

func setupTestSearcher(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		vectors:  &mockVectors{size: 4},
		lexical:  &mockLexical{},
		embedder: &mockEmbedder{},
		expander: &mockExpander{},
		source:   newSource(),
	}

	s, err := NewSearcher(Config{
		Vectors:  f.vectors,
		Lexical:  f.lexical,
		Embedder: f.embedder,
		Expander: f.expander,
		Source:   f.source,
	})
	require.NoError(t, err)
	f.searcher = s
	return f
}

func resultIDs(results []types.ScoredResult) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.Highlight.ID
	}
	return out
}

func plainRequest(query string, alpha float64) SearchRequest {
	req := NewRequest(query)
	req.HybridAlpha = alpha
	req.BookWeight = 0
	req.UseExpansion = false
	req.UseCache = false
	return req
}

func TestNewSearcher(t *testing.T) {
	_, err := NewSearcher(Config{Source: newSource()})
	assert.Error(t, err, "lexical index is required")

	_, err = NewSearcher(Config{Lexical: &mockLexical{}})
	assert.Error(t, err, "source is required")

	s, err := NewSearcher(Config{Lexical: &mockLexical{}, Source: newSource()})
	require.NoError(t, err)
	assert.Equal(t, 0, s.CacheLen())
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       SearchRequest
		wantLimit int
		wantErr   bool
	}{
		{"defaults", NewRequest("q"), DefaultLimit, false},
		{"zero limit", SearchRequest{Query: "q"}, DefaultLimit, false},
		{"capped limit", SearchRequest{Query: "q", Limit: 500}, MaxLimit, false},
		{"alpha too high", SearchRequest{Query: "q", HybridAlpha: 1.5}, DefaultLimit, true},
		{"negative book weight", SearchRequest{Query: "q", BookWeight: -0.1}, DefaultLimit, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := validateRequest(&req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, req.Limit)
		})
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	f := setupTestSearcher(t)

	for _, q := range []string{"", "   \t"} {
		resp, err := f.searcher.Search(context.Background(), NewRequest(q))
		require.NoError(t, err)
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
	}

	assert.Zero(t, f.embedder.calls.Load())
	assert.Zero(t, f.expander.calls.Load())
	assert.Zero(t, f.vectors.searches.Load())
	assert.Zero(t, f.lexical.searches.Load())
	assert.Zero(t, f.source.calls.Load())
}

func TestSearchAlphaOneIsVectorRanking(t *testing.T) {
	f := setupTestSearcher(t)
	f.vectors.searchFunc = func(ctx context.Context, query []float32, k int) ([]vectorindex.Result, error) {
		return []vectorindex.Result{
			{HighlightID: 3, BookID: 20, Similarity: 0.9},
			{HighlightID: 1, BookID: 10, Similarity: 0.5},
			{HighlightID: 2, BookID: 10, Similarity: 0.1},
		}, nil
	}

	resp, err := f.searcher.Search(context.Background(), plainRequest("flowers", 1.0))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, resultIDs(resp.Results))
	assert.InDelta(t, 0.9, resp.Results[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.5, resp.Results[1].FinalScore, 1e-9)
	assert.False(t, resp.LexicalOnly)
	assert.Equal(t, 1, resp.Results[0].Rank)
}

func TestSearchAlphaZeroIsLexicalRanking(t *testing.T) {
	f := setupTestSearcher(t)
	f.vectors.searchFunc = func(ctx context.Context, query []float32, k int) ([]vectorindex.Result, error) {
		return []vectorindex.Result{
			{HighlightID: 1, BookID: 10, Similarity: 0.99},
			{HighlightID: 3, BookID: 20, Similarity: 0.98},
			{HighlightID: 2, BookID: 10, Similarity: 0.97},
		}, nil
	}
	f.lexical.searchFunc = func(ctx context.Context, query string, k int) ([]lexical.Result, error) {
		return []lexical.Result{
			{HighlightID: 2, Rank: 1},
			{HighlightID: 3, Rank: 2.0 / 3},
			{HighlightID: 1, Rank: 1.0 / 3},
		}, nil
	}

	resp, err := f.searcher.Search(context.Background(), plainRequest("rose", 0.0))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, resultIDs(resp.Results))
	for _, r := range resp.Results {
		assert.InDelta(t, r.LexicalScore, r.FinalScore, 1e-9)
	}
}

func TestSearchColdStartIsLexicalOnly(t *testing.T) {
	f := setupTestSearcher(t)
	f.vectors.size = 0
	f.lexical.searchFunc = func(ctx context.Context, query string, k int) ([]lexical.Result, error) {
		return []lexical.Result{{HighlightID: 1, Rank: 1}, {HighlightID: 2, Rank: 0.5}}, nil
	}

	resp, err := f.searcher.Search(context.Background(), plainRequest("rose", 0.7))
	require.NoError(t, err)
	assert.True(t, resp.LexicalOnly)
	assert.Zero(t, f.embedder.calls.Load())
	assert.Zero(t, f.vectors.searches.Load())
	assert.Equal(t, []int64{1, 2}, resultIDs(resp.Results))
	assert.InDelta(t, 0.3, resp.Results[0].FinalScore, 1e-9)
}

func TestSearchEmbedderFailureDegrades(t *testing.T) {
	f := setupTestSearcher(t)
	f.embedder.embedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, llm.ErrConnection
	}
	f.lexical.searchFunc = func(ctx context.Context, query string, k int) ([]lexical.Result, error) {
		return []lexical.Result{{HighlightID: 4, Rank: 1}}, nil
	}

	resp, err := f.searcher.Search(context.Background(), plainRequest("stones", 0.7))
	require.NoError(t, err)
	assert.True(t, resp.LexicalOnly)
	assert.Zero(t, f.vectors.searches.Load())
	assert.Equal(t, []int64{4}, resultIDs(resp.Results))
	assert.Nil(t, resp.Results[0].Book, "book 30 is unknown to the source")
}

func TestSearchMergesVariants(t *testing.T) {
	f := setupTestSearcher(t)
	f.vectors.size = 0
	f.expander.expansion = expander.Expansion{Synonyms: "blossoms", Reformulation: "  "}
	f.lexical.searchFunc = func(ctx context.Context, query string, k int) ([]lexical.Result, error) {
		switch query {
		case "roses":
			return []lexical.Result{{HighlightID: 1, Rank: 1}}, nil
		case "blossoms":
			return []lexical.Result{{HighlightID: 3, Rank: 1}, {HighlightID: 1, Rank: 0.5}}, nil
		}
		return nil, errors.New("unexpected variant " + query)
	}

	req := plainRequest("roses", 0)
	req.UseExpansion = true
	resp, err := f.searcher.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Variants, "blank reformulation is dropped")
	require.Equal(t, []int64{1, 3}, resultIDs(resp.Results))
	// (1.0*1.0 + 0.8*0.5) / 1.8
	assert.InDelta(t, 1.4/1.8, resp.Results[0].FinalScore, 1e-9)
	assert.Equal(t, "Gardens", resp.Results[0].Book.Title)
	// found by the synonyms only: 0.8*1.0 / 1.8
	assert.InDelta(t, 0.8/1.8, resp.Results[1].FinalScore, 1e-9)
}

func TestSearchDeduplicatesContent(t *testing.T) {
	f := setupTestSearcher(t)
	f.vectors.size = 0
	f.source.highlights[5] = types.Highlight{ID: 5, BookID: 20, Content: "roses in the garden"}
	f.lexical.searchFunc = func(ctx context.Context, query string, k int) ([]lexical.Result, error) {
		return []lexical.Result{{HighlightID: 5, Rank: 1}, {HighlightID: 1, Rank: 0.5}, {HighlightID: 2, Rank: 0.25}}, nil
	}

	resp, err := f.searcher.Search(context.Background(), plainRequest("garden", 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 2}, resultIDs(resp.Results), "first-seen instance wins")
}

func TestSearchLimit(t *testing.T) {
	f := setupTestSearcher(t)
	f.vectors.size = 0
	f.lexical.searchFunc = func(ctx context.Context, query string, k int) ([]lexical.Result, error) {
		assert.Equal(t, candidatePool(2), k)
		return []lexical.Result{{HighlightID: 1, Rank: 1}, {HighlightID: 2, Rank: 0.75}, {HighlightID: 3, Rank: 0.5}}, nil
	}

	req := plainRequest("x", 0)
	req.Limit = 2
	resp, err := f.searcher.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, resultIDs(resp.Results))
	assert.Equal(t, 2, resp.TotalResults)
}

func TestSearchWithCache(t *testing.T) {
	f := setupTestSearcher(t)
	f.vectors.size = 0
	f.lexical.searchFunc = func(ctx context.Context, query string, k int) ([]lexical.Result, error) {
		return []lexical.Result{{HighlightID: 1, Rank: 1}}, nil
	}

	req := plainRequest("roses", 0.5)
	req.UseCache = true
	ctx := context.Background()

	first, err := f.searcher.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := f.searcher.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, resultIDs(first.Results), resultIDs(second.Results))
	assert.Equal(t, int32(1), f.lexical.searches.Load())

	// cached copies are independent of what callers do with results
	second.Results[0].Book.Title = "changed"
	third, err := f.searcher.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Gardens", third.Results[0].Book.Title)

	f.searcher.PurgeCache()
	assert.Equal(t, 0, f.searcher.CacheLen())
	_, err = f.searcher.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.lexical.searches.Load())
}

func TestComputeQueryHash(t *testing.T) {
	a := NewRequest("roses")
	b := NewRequest("roses")
	assert.Equal(t, computeQueryHash(a), computeQueryHash(b))

	b.HybridAlpha = 0.2
	assert.NotEqual(t, computeQueryHash(a), computeQueryHash(b))

	c := NewRequest("roses")
	c.UseExpansion = false
	assert.NotEqual(t, computeQueryHash(a), computeQueryHash(c))
}

func TestSearchContextCancellation(t *testing.T) {
	f := setupTestSearcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.searcher.Search(ctx, plainRequest("roses", 0.7))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchEndToEnd(t *testing.T) {
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.UpsertBook(ctx, &types.Book{ID: 1, Title: "Gardens", Author: "A. Gardener"}))
	require.NoError(t, store.UpsertBook(ctx, &types.Book{ID: 2, Title: "Rivers", Author: "C. Boatman"}))
	corpus := []types.Highlight{
		{ID: 1, BookID: 1, Content: "Roses bloom in the quiet garden"},
		{ID: 2, BookID: 1, Content: "Every garden needs patience"},
		{ID: 3, BookID: 2, Content: "The river carries stones downstream"},
	}
	provider := embedder.NewLocalProvider()
	vectors := vectorindex.NewFlatIndex(filepath.Join(t.TempDir(), "index.hlvi"), embedder.ModelID(provider), nil)
	var records []*types.EmbeddingRecord
	for i := range corpus {
		_, err := store.UpsertHighlight(ctx, &corpus[i])
		require.NoError(t, err)
		vec, err := provider.Embed(ctx, corpus[i].Content)
		require.NoError(t, err)
		records = append(records, &types.EmbeddingRecord{HighlightID: corpus[i].ID, BookID: corpus[i].BookID, Vector: vec})
	}
	require.NoError(t, vectors.Rebuild(ctx, records))

	lex := lexical.NewSubstringIndex()
	require.NoError(t, lex.Rebuild(ctx, corpus))

	s, err := NewSearcher(Config{Vectors: vectors, Lexical: lex, Embedder: provider, Source: store})
	require.NoError(t, err)

	resp, err := s.Search(ctx, NewRequest("garden roses"))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, int64(1), resp.Results[0].Highlight.ID)
	assert.Equal(t, "Gardens", resp.Results[0].Book.Title)
	assert.False(t, resp.LexicalOnly)
	assert.Equal(t, 1, resp.Variants, "no expander configured")
}
