package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlights-mcp/internal/embedcache"
	"github.com/dshills/highlights-mcp/internal/embedder"
	"github.com/dshills/highlights-mcp/internal/lexical"
	"github.com/dshills/highlights-mcp/internal/llm"
	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/internal/vectorindex"
	"github.com/dshills/highlights-mcp/pkg/types"
)

// mockEmbedder wraps the local provider, failing for content containing
// failOn
type mockEmbedder struct {
	local  *embedder.LocalProvider
	failOn string
	calls  atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.failOn != "" && strings.Contains(text, m.failOn) {
		return nil, llm.ErrService
	}
	return m.local.Embed(ctx, text)
}

type countingPurger struct {
	purges atomic.Int32
}

func (p *countingPurger) PurgeCache() { p.purges.Add(1) }

type fixture struct {
	store    *storage.SQLiteStorage
	cache    *embedcache.Cache
	provider *mockEmbedder
	vectors  *vectorindex.FlatIndex
	lexical  *lexical.SubstringIndex
	purger   *countingPurger
	indexer  *Indexer
	path     string
}

func setupIndexer(t *testing.T, highlights int) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	book := &types.Book{Title: "Meditations", Author: "Marcus Aurelius"}
	require.NoError(t, store.UpsertBook(ctx, book))
	for i := 0; i < highlights; i++ {
		h := &types.Highlight{BookID: book.ID, Content: fmt.Sprintf("highlight number %d about virtue", i)}
		_, err := store.UpsertHighlight(ctx, h)
		require.NoError(t, err)
	}

	provider := &mockEmbedder{local: embedder.NewLocalProvider()}
	model := embedder.ModelID(provider.local)
	cache, err := embedcache.Open(ctx, store, embedcache.Options{Model: model})
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		cache:    cache,
		provider: provider,
		lexical:  lexical.NewSubstringIndex(),
		purger:   &countingPurger{},
		path:     filepath.Join(t.TempDir(), "index.hlvi"),
	}
	f.vectors = vectorindex.NewFlatIndex(f.path, model, nil)
	f.indexer = f.newIndexer(t, f.vectors)
	return f
}

func (f *fixture) newIndexer(t *testing.T, vectors vectorindex.Index) *Indexer {
	t.Helper()
	idx, err := New(Config{
		Store:     f.store,
		Cache:     f.cache,
		Provider:  f.provider,
		Vectors:   vectors,
		Lexical:   f.lexical,
		Purger:    f.purger,
		Workers:   4,
		BatchSize: 3,
	})
	require.NoError(t, err)
	return idx
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestReindex(t *testing.T) {
	f := setupIndexer(t, 10)
	ctx := context.Background()

	stats, err := f.indexer.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Highlights)
	assert.Equal(t, 10, stats.Embedded)
	assert.Equal(t, 0, stats.Cached)
	assert.Equal(t, 10, stats.Vectors)
	assert.Equal(t, 10, f.vectors.Len())
	assert.Equal(t, int32(1), f.purger.purges.Load())

	results, err := f.lexical.Search(ctx, "virtue", 20)
	require.NoError(t, err)
	assert.Len(t, results, 10)

	t.Run("second run uses the cache", func(t *testing.T) {
		calls := f.provider.calls.Load()
		stats, err := f.indexer.Reindex(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, stats.Cached)
		assert.Equal(t, 0, stats.Embedded)
		assert.Equal(t, calls, f.provider.calls.Load())
		assert.Equal(t, int32(2), f.purger.purges.Load())
	})
}

func TestReindexSkipsUnavailable(t *testing.T) {
	f := setupIndexer(t, 5)
	ctx := context.Background()

	h := &types.Highlight{BookID: 1, Content: "a poisoned passage"}
	_, err := f.store.UpsertHighlight(ctx, h)
	require.NoError(t, err)
	f.provider.failOn = "poisoned"

	stats, err := f.indexer.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Highlights)
	assert.Equal(t, 1, stats.Unavailable)
	assert.Equal(t, 5, stats.Vectors)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], fmt.Sprintf("highlight %d", h.ID))

	results, err := f.lexical.Search(ctx, "poisoned", 5)
	require.NoError(t, err)
	require.Len(t, results, 1, "unembedded highlight stays lexically searchable")
	assert.Equal(t, h.ID, results[0].HighlightID)
}

func TestReindexInProgress(t *testing.T) {
	f := setupIndexer(t, 1)

	require.True(t, f.indexer.lock.TryAcquire())
	assert.True(t, f.indexer.Running())

	_, err := f.indexer.Reindex(context.Background())
	assert.ErrorIs(t, err, ErrIndexingInProgress)
	assert.ErrorIs(t, f.indexer.Warm(context.Background()), ErrIndexingInProgress)

	f.indexer.lock.Release()
	assert.False(t, f.indexer.Running())
	_, err = f.indexer.Reindex(context.Background())
	assert.NoError(t, err)
}

func TestReindexCancelled(t *testing.T) {
	f := setupIndexer(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.indexer.Reindex(ctx)
	assert.Error(t, err)
	assert.False(t, f.indexer.Running(), "lock released on failure")
}

func TestWarm(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file rebuilds from cache", func(t *testing.T) {
		f := setupIndexer(t, 4)
		for _, h := range mustList(t, f.store) {
			_, err := f.cache.GetOrCompute(ctx, h, f.provider)
			require.NoError(t, err)
		}
		calls := f.provider.calls.Load()

		require.NoError(t, f.indexer.Warm(ctx))
		assert.Equal(t, 4, f.vectors.Len())
		assert.Equal(t, calls, f.provider.calls.Load(), "warm-up never calls the provider")
		assert.FileExists(t, f.path)
	})

	t.Run("saved index is loaded", func(t *testing.T) {
		f := setupIndexer(t, 3)
		_, err := f.indexer.Reindex(ctx)
		require.NoError(t, err)

		fresh := vectorindex.NewFlatIndex(f.path, f.cache.Model(), nil)
		idx := f.newIndexer(t, fresh)
		require.NoError(t, idx.Warm(ctx))
		assert.Equal(t, 3, fresh.Len())
	})
}

func mustList(t *testing.T, store *storage.SQLiteStorage) []types.Highlight {
	t.Helper()
	hs, err := store.ListHighlights(context.Background())
	require.NoError(t, err)
	return hs
}
