package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/highlights-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// DB exposes the underlying handle for collaborators that query it directly
// (the FTS lexical index)
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertBook(ctx context.Context, book *types.Book) error {
	return upsertBook(ctx, t.tx, book)
}

func (t *sqliteTx) UpsertHighlight(ctx context.Context, h *types.Highlight) (bool, error) {
	return upsertHighlight(ctx, t.tx, h)
}

// Book operations

// upsertBook inserts a book, or updates title and author when book.ID is set
// and already exists
func upsertBook(ctx context.Context, q querier, book *types.Book) error {
	now := time.Now()
	if book.ID <= 0 {
		result, err := q.ExecContext(ctx,
			`INSERT INTO books (title, author, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			book.Title, book.Author, now, now)
		if err != nil {
			return fmt.Errorf("failed to create book: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		book.ID = id
		return nil
	}

	query := `
		INSERT INTO books (id, title, author, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, book.ID, book.Title, book.Author, now, now); err != nil {
		return fmt.Errorf("failed to upsert book: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertBook(ctx context.Context, book *types.Book) error {
	return upsertBook(ctx, s.db, book)
}

func (s *SQLiteStorage) GetBook(ctx context.Context, bookID int64) (*types.Book, error) {
	var book types.Book
	err := s.db.QueryRowContext(ctx, `SELECT id, title, author FROM books WHERE id = ?`, bookID).
		Scan(&book.ID, &book.Title, &book.Author)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (s *SQLiteStorage) ListBooks(ctx context.Context) ([]*types.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, author FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	books := make([]*types.Book, 0)
	for rows.Next() {
		var book types.Book
		if err := rows.Scan(&book.ID, &book.Title, &book.Author); err != nil {
			return nil, err
		}
		books = append(books, &book)
	}
	return books, rows.Err()
}

// Highlight operations

// upsertHighlight inserts or updates a highlight. contentChanged reports that
// an existing highlight got new text, which invalidates its embedding; the
// stale embedding row is removed in the same statement sequence.
func upsertHighlight(ctx context.Context, q querier, h *types.Highlight) (bool, error) {
	if h.BookID <= 0 {
		return false, types.ErrInvalidBookID
	}
	if strings.TrimSpace(h.Content) == "" {
		return false, types.ErrEmptyContent
	}

	now := time.Now()
	if h.ID <= 0 {
		result, err := q.ExecContext(ctx,
			`INSERT INTO highlights (book_id, content, location, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			h.BookID, h.Content, h.Location, now, now)
		if err != nil {
			return false, fmt.Errorf("failed to create highlight: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return false, err
		}
		h.ID = id
		return false, nil
	}

	var existing string
	err := q.QueryRowContext(ctx, `SELECT content FROM highlights WHERE id = ?`, h.ID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = q.ExecContext(ctx,
			`INSERT INTO highlights (id, book_id, content, location, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			h.ID, h.BookID, h.Content, h.Location, now, now)
		if err != nil {
			return false, fmt.Errorf("failed to create highlight: %w", err)
		}
		return false, nil
	case err != nil:
		return false, err
	}

	_, err = q.ExecContext(ctx,
		`UPDATE highlights SET book_id = ?, content = ?, location = ?, updated_at = ? WHERE id = ?`,
		h.BookID, h.Content, h.Location, now, h.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update highlight: %w", err)
	}

	if existing == h.Content {
		return false, nil
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM embeddings WHERE highlight_id = ?`, h.ID); err != nil {
		return true, fmt.Errorf("failed to drop stale embedding: %w", err)
	}
	return true, nil
}

func (s *SQLiteStorage) UpsertHighlight(ctx context.Context, h *types.Highlight) (bool, error) {
	return upsertHighlight(ctx, s.db, h)
}

func (s *SQLiteStorage) GetHighlight(ctx context.Context, highlightID int64) (*types.Highlight, error) {
	var h types.Highlight
	err := s.db.QueryRowContext(ctx,
		`SELECT id, book_id, content, location FROM highlights WHERE id = ?`, highlightID).
		Scan(&h.ID, &h.BookID, &h.Content, &h.Location)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHighlights returns every highlight ordered by id
func (s *SQLiteStorage) ListHighlights(ctx context.Context) ([]types.Highlight, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, book_id, content, location FROM highlights ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	highlights := make([]types.Highlight, 0)
	for rows.Next() {
		var h types.Highlight
		if err := rows.Scan(&h.ID, &h.BookID, &h.Content, &h.Location); err != nil {
			return nil, err
		}
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}

func (s *SQLiteStorage) DeleteHighlight(ctx context.Context, highlightID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, highlightID)
	return err
}

// RandomHighlightForBook picks one highlight of the book using the database's
// random ordering, skipping the excluded ids. Returns ErrNotFound when the
// book has no eligible highlight.
func (s *SQLiteStorage) RandomHighlightForBook(ctx context.Context, bookID int64, exclude []int64) (*types.Highlight, error) {
	query := `SELECT id, book_id, content, location FROM highlights WHERE book_id = ?`
	args := []interface{}{bookID}
	if len(exclude) > 0 {
		query += " AND id NOT IN (" + placeholders(len(exclude)) + ")"
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += " ORDER BY RANDOM() LIMIT 1"

	var h types.Highlight
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&h.ID, &h.BookID, &h.Content, &h.Location)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Embedding operations

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error {
	if rec.HighlightID <= 0 {
		return types.ErrInvalidHighlightID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO embeddings (highlight_id, vector, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(highlight_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			model = excluded.model,
			created_at = excluded.created_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.HighlightID, SerializeVector(rec.Vector), len(rec.Vector), rec.Model, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, highlightID int64) (*types.EmbeddingRecord, error) {
	query := `
		SELECT e.highlight_id, h.book_id, e.vector, e.model, e.created_at
		FROM embeddings e
		INNER JOIN highlights h ON h.id = e.highlight_id
		WHERE e.highlight_id = ?
	`
	rec, err := scanEmbedding(s.db.QueryRowContext(ctx, query, highlightID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListEmbeddings returns every stored embedding ordered by highlight id
func (s *SQLiteStorage) ListEmbeddings(ctx context.Context) ([]*types.EmbeddingRecord, error) {
	query := `
		SELECT e.highlight_id, h.book_id, e.vector, e.model, e.created_at
		FROM embeddings e
		INNER JOIN highlights h ON h.id = e.highlight_id
		ORDER BY e.highlight_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := make([]*types.EmbeddingRecord, 0)
	for rows.Next() {
		rec, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEmbedding(row rowScanner) (*types.EmbeddingRecord, error) {
	var rec types.EmbeddingRecord
	var blob []byte
	if err := row.Scan(&rec.HighlightID, &rec.BookID, &blob, &rec.Model, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Vector = DeserializeVector(blob)
	return &rec, nil
}

func (s *SQLiteStorage) DeleteEmbedding(ctx context.Context, highlightID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE highlight_id = ?`, highlightID)
	return err
}

// WipeEmbeddings removes every embedding and returns how many were removed
func (s *SQLiteStorage) WipeEmbeddings(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM embeddings`)
	if err != nil {
		return 0, fmt.Errorf("failed to wipe embeddings: %w", err)
	}
	return result.RowsAffected()
}

// EmbeddingModels returns the distinct model identifiers present in the table
func (s *SQLiteStorage) EmbeddingModels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT model FROM embeddings ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	models := make([]string, 0)
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// Connection operations

func (s *SQLiteStorage) RecordConnection(ctx context.Context, rec *types.ConnectionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("connection id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (id, highlight1_id, highlight2_id, strategy, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Highlight1ID, rec.Highlight2ID, string(rec.Strategy), rec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: connection %s", ErrAlreadyExists, rec.ID)
		}
		return fmt.Errorf("failed to record connection: %w", err)
	}
	return nil
}

// LatestConnection returns the most recently recorded connection
func (s *SQLiteStorage) LatestConnection(ctx context.Context) (*types.ConnectionRecord, error) {
	var rec types.ConnectionRecord
	var strategy string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, highlight1_id, highlight2_id, strategy, created_at
		FROM connections
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&rec.ID, &rec.Highlight1ID, &rec.Highlight2ID, &strategy, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Strategy = types.Strategy(strategy)
	return &rec, nil
}

// RecentConnectionHighlightIDs returns the distinct highlight ids used by the
// last limit connections, newest first
func (s *SQLiteStorage) RecentConnectionHighlightIDs(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		return []int64{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT highlight1_id, highlight2_id
		FROM connections
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[int64]bool)
	ids := make([]int64, 0)
	for rows.Next() {
		var h1, h2 int64
		if err := rows.Scan(&h1, &h2); err != nil {
			return nil, err
		}
		for _, id := range []int64{h1, h2} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, rows.Err()
}

// Search operations

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int) ([]TextResult, error) {
	return searchText(ctx, s.db, query, limit)
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM books", &status.BooksCount},
		{"SELECT COUNT(*) FROM highlights", &status.HighlightsCount},
		{"SELECT COUNT(*) FROM embeddings", &status.EmbeddingsCount},
		{"SELECT COUNT(*) FROM connections", &status.ConnectionsCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	models, err := s.EmbeddingModels(ctx)
	if err != nil {
		return nil, err
	}
	status.EmbeddingModels = models

	if latest, err := s.LatestConnection(ctx); err == nil {
		status.LastConnectionAt = latest.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		FTSIndexesBuilt:     true, // FTS indexes are created with migrations
	}

	return status, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
