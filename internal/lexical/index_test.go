package lexical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlights-mcp/internal/storage"
	"github.com/dshills/highlights-mcp/pkg/types"
)

var corpus = []types.Highlight{
	{ID: 1, BookID: 1, Content: "The garden was full of roses"},
	{ID: 2, BookID: 1, Content: "Roses and thorns grow in the same garden"},
	{ID: 3, BookID: 2, Content: "Nothing about flowers here"},
	{ID: 4, BookID: 2, Content: "Thorns, thorns everywhere"},
}

func ids(results []Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.HighlightID
	}
	return out
}

func TestRanked(t *testing.T) {
	results := ranked([]int64{7, 8, 9, 10})
	assert.Equal(t, 1.0, results[0].Rank)
	assert.Equal(t, 0.75, results[1].Rank)
	assert.Equal(t, 0.5, results[2].Rank)
	assert.Equal(t, 0.25, results[3].Rank)
	assert.Empty(t, ranked(nil))
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"roses", "and", "thorns"}, Keywords("Roses, and THORNS roses!"))
	assert.Empty(t, Keywords(" ,. "))
}

func TestSubstringIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewSubstringIndex()
	require.NoError(t, idx.Rebuild(ctx, corpus))

	tests := []struct {
		name  string
		query string
		k     int
		want  []int64
	}{
		{"single keyword", "roses", 10, []int64{1, 2}},
		{"case insensitive", "ROSES", 10, []int64{1, 2}},
		{"more matches first", "thorns garden", 10, []int64{2, 1, 4}},
		{"substring match", "flower", 10, []int64{3}},
		{"truncated", "thorns garden", 1, []int64{2}},
		{"no match", "zebra", 10, []int64{}},
		{"empty query", "   ", 10, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := idx.Search(ctx, tt.query, tt.k)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(results))
			if len(results) > 0 {
				assert.Equal(t, 1.0, results[0].Rank)
			}
		})
	}

	t.Run("add and delete", func(t *testing.T) {
		require.NoError(t, idx.Add(ctx, types.Highlight{ID: 5, BookID: 3, Content: "A zebra appears"}))
		results, err := idx.Search(ctx, "zebra", 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{5}, ids(results))

		require.NoError(t, idx.Delete(ctx, 5))
		results, err = idx.Search(ctx, "zebra", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSubstringIndexDeterministic(t *testing.T) {
	ctx := context.Background()
	idx := NewSubstringIndex()
	require.NoError(t, idx.Rebuild(ctx, corpus))

	first, err := idx.Search(ctx, "the thorns roses", 10)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := idx.Search(ctx, "the thorns roses", 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFTSIndex(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	for _, b := range []int64{1, 2} {
		require.NoError(t, store.UpsertBook(ctx, &types.Book{ID: b, Title: "Book"}))
	}
	for _, h := range corpus {
		h := h
		_, err := store.UpsertHighlight(ctx, &h)
		require.NoError(t, err)
	}

	idx, err := New(BackendFTS, store)
	require.NoError(t, err)
	assert.Equal(t, "fts5", idx.Kind())

	results, err := idx.Search(ctx, "thorns", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2}, ids(results))
	assert.Equal(t, 1.0, results[0].Rank)
	assert.Equal(t, 0.5, results[1].Rank)

	results, err = idx.Search(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveIndex(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBleveIndex()
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Rebuild(ctx, corpus))

	results, err := idx.Search(ctx, "thorns", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 4}, ids(results))
	assert.Equal(t, 1.0, results[0].Rank)

	results, err = idx.Search(ctx, "flowers", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(results))

	require.NoError(t, idx.Add(ctx, types.Highlight{ID: 12, BookID: 3, Content: "A zebra appears"}))
	results, err = idx.Search(ctx, "zebra", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{12}, ids(results))

	require.NoError(t, idx.Delete(ctx, 12))
	results, err = idx.Search(ctx, "zebra", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNew(t *testing.T) {
	idx, err := New(BackendSubstring, nil)
	require.NoError(t, err)
	assert.Equal(t, "substring", idx.Kind())

	_, err = New(BackendFTS, nil)
	assert.Error(t, err)

	_, err = New("lucene", nil)
	assert.Error(t, err)
}
