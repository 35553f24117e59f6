package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// ImportRecord is one line of a JSON-lines highlight export. Books are keyed
// by book_id when present, otherwise by title and author.
type ImportRecord struct {
	ID         int64  `json:"id,omitempty"`
	BookID     int64  `json:"book_id,omitempty"`
	BookTitle  string `json:"book_title"`
	BookAuthor string `json:"book_author"`
	Content    string `json:"content"`
	Location   string `json:"location,omitempty"`
}

// ImportStats summarizes an import run
type ImportStats struct {
	Books      int
	Highlights int
	Skipped    int
	Changed    []int64 // Highlights whose content changed; their embeddings are stale
	Imported   []types.Highlight
}

// ImportJSONL reads JSON-lines records from r and upserts them in a single
// transaction. Blank lines and records with empty content are skipped;
// malformed JSON aborts the import.
func ImportJSONL(ctx context.Context, s Storage, r io.Reader) (*ImportStats, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stats := &ImportStats{Changed: []int64{}}
	books := make(map[string]int64)
	knownIDs := make(map[int64]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec ImportRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(rec.Content) == "" {
			stats.Skipped++
			continue
		}

		bookID, err := resolveBook(ctx, tx, &rec, books, knownIDs, stats)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		h := &types.Highlight{ID: rec.ID, BookID: bookID, Content: rec.Content, Location: rec.Location}
		changed, err := tx.UpsertHighlight(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if changed {
			stats.Changed = append(stats.Changed, h.ID)
		}
		stats.Imported = append(stats.Imported, *h)
		stats.Highlights++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	return stats, nil
}

func resolveBook(ctx context.Context, tx Tx, rec *ImportRecord, books map[string]int64, knownIDs map[int64]bool, stats *ImportStats) (int64, error) {
	if rec.BookID > 0 {
		if !knownIDs[rec.BookID] {
			if err := tx.UpsertBook(ctx, &types.Book{ID: rec.BookID, Title: rec.BookTitle, Author: rec.BookAuthor}); err != nil {
				return 0, err
			}
			knownIDs[rec.BookID] = true
			stats.Books++
		}
		return rec.BookID, nil
	}

	key := rec.BookTitle + "\x00" + rec.BookAuthor
	if id, ok := books[key]; ok {
		return id, nil
	}
	book := &types.Book{Title: rec.BookTitle, Author: rec.BookAuthor}
	if err := tx.UpsertBook(ctx, book); err != nil {
		return 0, err
	}
	books[key] = book.ID
	stats.Books++
	return book.ID, nil
}
