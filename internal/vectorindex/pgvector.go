package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// PgVectorIndex stores highlight vectors in PostgreSQL using the pgvector
// extension. Data is durable on every write, so Save is a no-op and Load
// only verifies that the stored vectors belong to the configured model.
type PgVectorIndex struct {
	db        *sql.DB
	table     string
	dimension int
	model     string
	logger    *slog.Logger
}

// NewPgVectorIndex connects to dsn and prepares a table for the given
// dimension. The table name carries the dimension so that switching to a
// model with another dimension never collides with old data.
func NewPgVectorIndex(ctx context.Context, dsn string, dimension int, model string, logger *slog.Logger) (*PgVectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrDimensionMismatch)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	idx := &PgVectorIndex{
		db:        db,
		table:     fmt.Sprintf("highlight_vectors_%d", dimension),
		dimension: dimension,
		model:     model,
		logger:    logger,
	}
	if err := idx.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

func (p *PgVectorIndex) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			highlight_id BIGINT PRIMARY KEY,
			book_id BIGINT NOT NULL,
			model TEXT NOT NULL,
			seq BIGSERIAL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, p.table, p.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)`, p.table, p.table),
	}

	for _, m := range migrations {
		if _, err := p.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

func (p *PgVectorIndex) Kind() string { return "pgvector" }

// Add inserts or replaces a vector
func (p *PgVectorIndex) Add(ctx context.Context, rec types.EmbeddingRecord) error {
	if len(rec.Vector) != p.dimension {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(rec.Vector), p.dimension)
	}
	return p.upsert(ctx, p.db, rec.HighlightID, rec.BookID, rec.Vector)
}

// Remove deletes the vector of a highlight
func (p *PgVectorIndex) Remove(ctx context.Context, highlightID int64) error {
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE highlight_id = $1`, p.table), highlightID); err != nil {
		return fmt.Errorf("delete vector %d: %w", highlightID, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *PgVectorIndex) upsert(ctx context.Context, q execer, id, bookID int64, vector []float32) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (highlight_id, book_id, model, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (highlight_id) DO UPDATE SET
			book_id = EXCLUDED.book_id,
			model = EXCLUDED.model,
			embedding = EXCLUDED.embedding
	`, p.table), id, bookID, p.model, formatEmbedding(vector))
	if err != nil {
		return fmt.Errorf("upsert vector %d: %w", id, err)
	}
	return nil
}

// Search returns the k nearest vectors by cosine distance. Ties are broken
// by insertion sequence.
func (p *PgVectorIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return []Result{}, nil
	}
	if len(query) != p.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), p.dimension)
	}
	// pgvector yields NaN for zero vectors; match the flat index instead
	if norm(query) == 0 {
		return p.zeroQuery(ctx, k)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT highlight_id, book_id, COALESCE(NULLIF(1 - (embedding <=> $1), 'NaN'::float8), 0) AS score
		FROM %s
		WHERE model = $2
		ORDER BY embedding <=> $1, seq
		LIMIT $3
	`, p.table), formatEmbedding(query), p.model, k)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows, k)
}

func (p *PgVectorIndex) zeroQuery(ctx context.Context, k int) ([]Result, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT highlight_id, book_id, 0.0 FROM %s WHERE model = $1 ORDER BY seq LIMIT $2
	`, p.table), p.model, k)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows, k)
}

func scanResults(rows *sql.Rows, k int) ([]Result, error) {
	results := make([]Result, 0, k)
	for rows.Next() {
		var r Result
		var score sql.NullFloat64
		if err := rows.Scan(&r.HighlightID, &r.BookID, &score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Similarity = similarity(score)
		results = append(results, r)
	}
	return results, rows.Err()
}

// similarity maps NULL and NaN scores to 0. A stored zero vector has no
// cosine distance, and the flat index scores it 0 as well.
func similarity(score sql.NullFloat64) float64 {
	if !score.Valid || math.IsNaN(score.Float64) {
		return 0
	}
	return score.Float64
}

// Rebuild replaces the table content in one transaction
func (p *PgVectorIndex) Rebuild(ctx context.Context, records []*types.EmbeddingRecord) error {
	for _, rec := range records {
		if len(rec.Vector) != p.dimension {
			return fmt.Errorf("%w: highlight %d has %d, index has %d", ErrDimensionMismatch, rec.HighlightID, len(rec.Vector), p.dimension)
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s RESTART IDENTITY`, p.table)); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	for _, rec := range records {
		if err := p.upsert(ctx, tx, rec.HighlightID, rec.BookID, rec.Vector); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	p.logger.Debug("pgvector index rebuilt", "table", p.table, "vectors", len(records))
	return nil
}

// Save is a no-op; every write is already durable
func (p *PgVectorIndex) Save(ctx context.Context) error {
	return nil
}

// Load checks that the table holds vectors for the configured model only.
// An empty table or foreign vectors return ErrIndexLoad.
func (p *PgVectorIndex) Load(ctx context.Context) error {
	var total, foreign int
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE model <> $1) FROM %s`, p.table), p.model).
		Scan(&total, &foreign)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexLoad, err)
	}
	if total == 0 {
		return fmt.Errorf("%w: %s is empty", ErrIndexLoad, p.table)
	}
	if foreign > 0 {
		return fmt.Errorf("%w: %d vectors from another model", ErrIndexLoad, foreign)
	}
	return nil
}

func (p *PgVectorIndex) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE model = $1`, p.table), p.model).Scan(&n); err != nil {
		p.logger.Warn("failed to count vectors", "error", err)
		return 0
	}
	return n
}

// Close closes the database connection
func (p *PgVectorIndex) Close() error {
	return p.db.Close()
}

// formatEmbedding converts a vector to pgvector text format: "[0.1,0.2,0.3]"
func formatEmbedding(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
