package searcher

import (
	"cmp"
	"slices"

	"github.com/dshills/highlights-mcp/pkg/types"
)

// scoredHit is a resolved highlight with its component and final scores
type scoredHit struct {
	highlight types.Highlight
	vector    float64
	lexical   float64
	hybrid    float64
	final     float64
}

// applyScores computes hybrid and final scores for the hits of one variant.
// The book bonus of a hit is the number of hits from its book divided by the
// count of the most represented book. A book with a single hit shares it
// with no other result and gets no bonus.
func applyScores(hits []scoredHit, alpha, bookWeight float64) {
	counts := make(map[int64]int)
	maxCount := 0
	for _, h := range hits {
		counts[h.highlight.BookID]++
		maxCount = max(maxCount, counts[h.highlight.BookID])
	}

	for i := range hits {
		h := &hits[i]
		h.hybrid = alpha*h.vector + (1-alpha)*h.lexical
		h.final = h.hybrid
		if bookWeight > 0 {
			var bonus float64
			if n := counts[h.highlight.BookID]; n > 1 {
				bonus = float64(n) / float64(maxCount)
			}
			h.final = (1-bookWeight)*h.hybrid + bookWeight*bonus
		}
	}
}

// byScore orders hits by final score desc, then highlight id asc
func byScore(a, b scoredHit) int {
	if c := cmp.Compare(b.final, a.final); c != 0 {
		return c
	}
	return cmp.Compare(a.highlight.ID, b.highlight.ID)
}

// accumulator collects the weighted contributions of one content across
// variants
type accumulator struct {
	hit     scoredHit
	variant int
	vector  float64
	lexical float64
	final   float64
}

// mergeVariants deduplicates hits on exact content. The first-seen instance
// is kept and its scores become the weighted sum over the variants it
// appeared in, divided by the total weight of all variants. A hit missing
// from a variant contributes 0 for it, so a hit found only by an expansion
// is scaled by that expansion's weight. Variants are visited in order and
// each variant in score order, so "first seen" is deterministic.
func mergeVariants(variants []variant, scored [][]scoredHit) []scoredHit {
	byContent := make(map[string]*accumulator)
	var order []*accumulator

	var total float64
	for _, v := range variants {
		total += v.weight
	}

	for i, hits := range scored {
		w := variants[i].weight
		ranked := slices.Clone(hits)
		slices.SortStableFunc(ranked, byScore)

		for _, h := range ranked {
			acc, ok := byContent[h.highlight.Content]
			switch {
			case !ok:
				acc = &accumulator{hit: h, variant: i}
				byContent[h.highlight.Content] = acc
				order = append(order, acc)
			case acc.variant == i:
				// same content twice within one variant counts once
				continue
			default:
				acc.variant = i
			}
			acc.vector += w * h.vector
			acc.lexical += w * h.lexical
			acc.final += w * h.final
		}
	}

	out := make([]scoredHit, 0, len(order))
	for _, acc := range order {
		h := acc.hit
		h.vector = acc.vector / total
		h.lexical = acc.lexical / total
		h.final = acc.final / total
		out = append(out, h)
	}
	slices.SortStableFunc(out, byScore)
	return out
}
