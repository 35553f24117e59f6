package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlights-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func seedBook(t *testing.T, s *SQLiteStorage, title string, contents ...string) (*types.Book, []types.Highlight) {
	t.Helper()
	ctx := context.Background()
	book := &types.Book{Title: title, Author: "Author of " + title}
	require.NoError(t, s.UpsertBook(ctx, book))

	highlights := make([]types.Highlight, 0, len(contents))
	for _, c := range contents {
		h := &types.Highlight{BookID: book.ID, Content: c}
		_, err := s.UpsertHighlight(ctx, h)
		require.NoError(t, err)
		highlights = append(highlights, *h)
	}
	return book, highlights
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestMigrationsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))

	require.NoError(t, RollbackMigration(ctx, storage.db))
	version, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	version, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestBooks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	book := &types.Book{Title: "Meditations", Author: "Marcus Aurelius"}
	require.NoError(t, storage.UpsertBook(ctx, book))
	assert.Greater(t, book.ID, int64(0))

	book.Title = "Meditations (Hays)"
	require.NoError(t, storage.UpsertBook(ctx, book))

	got, err := storage.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Meditations (Hays)", got.Title)

	_, err = storage.GetBook(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	books, err := storage.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestHighlights(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	book, hs := seedBook(t, storage, "Walden", "Simplify, simplify.", "I went to the woods")

	got, err := storage.GetHighlight(ctx, hs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, got.BookID)
	assert.Equal(t, "Simplify, simplify.", got.Content)

	all, err := storage.ListHighlights(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Less(t, all[0].ID, all[1].ID)

	t.Run("validation", func(t *testing.T) {
		_, err := storage.UpsertHighlight(ctx, &types.Highlight{BookID: book.ID, Content: "  "})
		assert.ErrorIs(t, err, types.ErrEmptyContent)

		_, err = storage.UpsertHighlight(ctx, &types.Highlight{Content: "x"})
		assert.ErrorIs(t, err, types.ErrInvalidBookID)
	})

	t.Run("content change drops embedding", func(t *testing.T) {
		h := hs[1]
		require.NoError(t, storage.UpsertEmbedding(ctx, &types.EmbeddingRecord{
			HighlightID: h.ID, Vector: []float32{1, 0}, Model: "m",
		}))

		changed, err := storage.UpsertHighlight(ctx, &types.Highlight{ID: h.ID, BookID: book.ID, Content: h.Content, Location: "p. 3"})
		require.NoError(t, err)
		assert.False(t, changed)
		_, err = storage.GetEmbedding(ctx, h.ID)
		require.NoError(t, err)

		changed, err = storage.UpsertHighlight(ctx, &types.Highlight{ID: h.ID, BookID: book.ID, Content: "I went to the woods deliberately"})
		require.NoError(t, err)
		assert.True(t, changed)
		_, err = storage.GetEmbedding(ctx, h.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, storage.DeleteHighlight(ctx, hs[0].ID))
		_, err := storage.GetHighlight(ctx, hs[0].ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRandomHighlightForBook(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	book, hs := seedBook(t, storage, "Dune", "Fear is the mind-killer.", "The spice must flow.")

	h, err := storage.RandomHighlightForBook(ctx, book.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, book.ID, h.BookID)

	h, err = storage.RandomHighlightForBook(ctx, book.ID, []int64{hs[0].ID})
	require.NoError(t, err)
	assert.Equal(t, hs[1].ID, h.ID)

	_, err = storage.RandomHighlightForBook(ctx, book.ID, []int64{hs[0].ID, hs[1].ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmbeddings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	book, hs := seedBook(t, storage, "Ulysses", "yes I said yes", "Stately, plump Buck Mulligan")

	for i, h := range hs {
		require.NoError(t, storage.UpsertEmbedding(ctx, &types.EmbeddingRecord{
			HighlightID: h.ID,
			Vector:      []float32{float32(i), 0.5, -1.25},
			Model:       "local/hashed-bow-v1",
		}))
	}

	rec, err := storage.GetEmbedding(ctx, hs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5, -1.25}, rec.Vector)
	assert.Equal(t, book.ID, rec.BookID)
	assert.Equal(t, "local/hashed-bow-v1", rec.Model)

	all, err := storage.ListEmbeddings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	models, err := storage.EmbeddingModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"local/hashed-bow-v1"}, models)

	require.NoError(t, storage.DeleteEmbedding(ctx, hs[0].ID))
	n, err := storage.WipeEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, storage.UpsertEmbedding(ctx, &types.EmbeddingRecord{Vector: []float32{1}}), types.ErrInvalidHighlightID)
}

func TestConnections(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, a := seedBook(t, storage, "A", "alpha one", "alpha two")
	_, b := seedBook(t, storage, "B", "beta one")

	_, err := storage.LatestConnection(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Now().Add(-time.Hour)
	first := &types.ConnectionRecord{ID: "c1", Highlight1ID: a[0].ID, Highlight2ID: b[0].ID, Strategy: types.StrategyTopicDiversity, CreatedAt: base}
	second := &types.ConnectionRecord{ID: "c2", Highlight1ID: a[1].ID, Highlight2ID: b[0].ID, Strategy: types.StrategySemanticDistance, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, storage.RecordConnection(ctx, first))
	require.NoError(t, storage.RecordConnection(ctx, second))

	err = storage.RecordConnection(ctx, first)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	latest, err := storage.LatestConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", latest.ID)
	assert.Equal(t, types.StrategySemanticDistance, latest.Strategy)

	ids, err := storage.RecentConnectionHighlightIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{a[1].ID, b[0].ID}, ids)

	ids, err = storage.RecentConnectionHighlightIDs(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a[0].ID, a[1].ID, b[0].ID}, ids)

	err = storage.RecordConnection(ctx, &types.ConnectionRecord{ID: "bad", Highlight1ID: a[0].ID, Highlight2ID: a[0].ID, Strategy: types.StrategyRandomFallback})
	assert.Error(t, err)
}

func TestSearchText(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, hs := seedBook(t, storage, "Mixed",
		"The garden was full of roses",
		"Roses and thorns, roses and rain",
		"Nothing about flowers here",
	)

	results, err := storage.SearchText(ctx, "roses", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	ids := []int64{results[0].HighlightID, results[1].HighlightID}
	assert.ElementsMatch(t, []int64{hs[0].ID, hs[1].ID}, ids)
	// Denser match ranks first
	assert.Equal(t, hs[1].ID, results[0].HighlightID)

	t.Run("operators are plain text", func(t *testing.T) {
		results, err := storage.SearchText(ctx, `roses AND "NOT (thorns*`, 10)
		require.NoError(t, err)
		assert.NotEmpty(t, results)
	})

	t.Run("empty query", func(t *testing.T) {
		results, err := storage.SearchText(ctx, "  !! ", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("updates are reindexed", func(t *testing.T) {
		_, err := storage.UpsertHighlight(ctx, &types.Highlight{ID: hs[2].ID, BookID: hs[2].BookID, Content: "Tulips only"})
		require.NoError(t, err)
		results, err := storage.SearchText(ctx, "flowers", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
		results, err = storage.SearchText(ctx, "tulips", 10)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"roses", `"roses"`},
		{"Roses roses THORNS", `"roses" OR "thorns"`},
		{`a "b" (c) NOT d*`, `"a" OR "b" OR "c" OR "not" OR "d"`},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFTSQuery(tt.in))
		})
	}
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, hs := seedBook(t, storage, "One", "first", "second")
	require.NoError(t, storage.UpsertEmbedding(ctx, &types.EmbeddingRecord{HighlightID: hs[0].ID, Vector: []float32{1}, Model: "m"}))

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.BooksCount)
	assert.Equal(t, 2, status.HighlightsCount)
	assert.Equal(t, 1, status.EmbeddingsCount)
	assert.Equal(t, 0, status.ConnectionsCount)
	assert.Equal(t, []string{"m"}, status.EmbeddingModels)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.True(t, status.Health.EmbeddingsAvailable)
}

func TestImportJSONL(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	input := strings.Join([]string{
		`{"book_title":"Walden","book_author":"Thoreau","content":"Simplify, simplify."}`,
		``,
		`{"book_title":"Walden","book_author":"Thoreau","content":"I went to the woods","location":"ch. 2"}`,
		`{"id":100,"book_id":7,"book_title":"Dune","book_author":"Herbert","content":"Fear is the mind-killer."}`,
		`{"book_title":"Walden","book_author":"Thoreau","content":"   "}`,
	}, "\n")

	stats, err := ImportJSONL(ctx, storage, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Books)
	assert.Equal(t, 3, stats.Highlights)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, stats.Changed)
	require.Len(t, stats.Imported, 3)
	assert.Equal(t, "I went to the woods", stats.Imported[1].Content)
	assert.Equal(t, int64(100), stats.Imported[2].ID)
	assert.Positive(t, stats.Imported[0].ID)

	h, err := storage.GetHighlight(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.BookID)

	// Re-importing a keyed record with new text reports it as changed
	stats, err = ImportJSONL(ctx, storage, strings.NewReader(
		`{"id":100,"book_id":7,"book_title":"Dune","book_author":"Herbert","content":"I must not fear."}`))
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, stats.Changed)

	t.Run("malformed line aborts", func(t *testing.T) {
		_, err := ImportJSONL(ctx, storage, strings.NewReader(`{"content":"ok","book_title":"X"}`+"\n{broken"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")

		books, err := storage.ListBooks(ctx)
		require.NoError(t, err)
		assert.Len(t, books, 2, "rolled back import must not leave a book behind")
	})
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4028235e38}
	assert.Equal(t, v, DeserializeVector(SerializeVector(v)))
	assert.Empty(t, DeserializeVector(nil))
}
