package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"
)

// searchText performs BM25 full-text search using FTS5. Results are ordered by
// bm25() (lower is better) with ties broken by highlight id.
func searchText(ctx context.Context, db *sql.DB, query string, limit int) ([]TextResult, error) {
	matchExpr := buildFTSQuery(query)
	if matchExpr == "" {
		return []TextResult{}, nil
	}
	if limit <= 0 {
		return []TextResult{}, nil
	}

	sqlQuery := `
		SELECT rowid, bm25(highlights_fts) AS score
		FROM highlights_fts
		WHERE highlights_fts MATCH ?
		ORDER BY score, rowid
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, sqlQuery, matchExpr, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var r TextResult
		if err := rows.Scan(&r.HighlightID, &r.BM25Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildFTSQuery turns free text into an FTS5 expression that matches any of
// its words. Every word is quoted, so FTS5 operators and syntax characters in
// user input are treated as plain text.
func buildFTSQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return ""
	}

	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
