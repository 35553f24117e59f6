package lexical

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// SubstringIndex matches keywords as case-insensitive substrings. Hits are
// ordered by number of matched keywords desc, then highlight id asc.
type SubstringIndex struct {
	mu   sync.RWMutex
	docs map[int64]string // lowercased content
}

// NewSubstringIndex creates an empty index
func NewSubstringIndex() *SubstringIndex {
	return &SubstringIndex{docs: make(map[int64]string)}
}

func (s *SubstringIndex) Kind() string { return "substring" }

func (s *SubstringIndex) Add(ctx context.Context, h types.Highlight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[h.ID] = strings.ToLower(h.Content)
	return nil
}

func (s *SubstringIndex) Delete(ctx context.Context, highlightID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, highlightID)
	return nil
}

func (s *SubstringIndex) Rebuild(ctx context.Context, highlights []types.Highlight) error {
	docs := make(map[int64]string, len(highlights))
	for _, h := range highlights {
		docs[h.ID] = strings.ToLower(h.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
	return nil
}

func (s *SubstringIndex) Search(ctx context.Context, query string, k int) ([]Result, error) {
	keywords := Keywords(query)
	if len(keywords) == 0 || k <= 0 {
		return []Result{}, nil
	}

	type hit struct {
		id      int64
		matches int
	}

	s.mu.RLock()
	hits := make([]hit, 0)
	for id, content := range s.docs {
		n := 0
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, hit{id: id, matches: n})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].matches != hits[j].matches {
			return hits[i].matches > hits[j].matches
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ranked(ids), nil
}

func (s *SubstringIndex) Close() error {
	return nil
}
