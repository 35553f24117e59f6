package lexical

import (
	"context"
	"strings"
	"unicode"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// Result is one lexical hit. Rank is ordinal: 1 - position/total, so the top
// hit gets 1 and scores fall linearly with position.
type Result struct {
	HighlightID int64
	Rank        float64
}

// Index is a keyword matcher over highlight content
type Index interface {
	// Add indexes or replaces one highlight
	Add(ctx context.Context, h types.Highlight) error
	// Delete removes a highlight
	Delete(ctx context.Context, highlightID int64) error
	// Rebuild replaces the whole corpus
	Rebuild(ctx context.Context, highlights []types.Highlight) error
	// Search returns up to k hits in deterministic order
	Search(ctx context.Context, query string, k int) ([]Result, error)
	// Kind names the implementation
	Kind() string
	Close() error
}

// ranked assigns ordinal ranks to ids in the given order
func ranked(ids []int64) []Result {
	results := make([]Result, len(ids))
	total := float64(len(ids))
	for i, id := range ids {
		results[i] = Result{HighlightID: id, Rank: 1 - float64(i)/total}
	}
	return results
}

// Keywords splits a query into distinct lowercase words in order of first
// appearance
func Keywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
