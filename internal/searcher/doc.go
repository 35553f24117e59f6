// Package searcher implements the hybrid retriever: vector similarity and
// lexical rank blended per query variant, then merged into one ranking.
//
// # Basic Usage
//
//	s, err := searcher.NewSearcher(searcher.Config{
//	    Vectors:  vectors,  // vectorindex.Index, optional
//	    Lexical:  lex,      // lexical.Index
//	    Embedder: provider, // optional
//	    Expander: exp,      // optional
//	    Source:   store,
//	})
//
//	resp, err := s.Search(ctx, searcher.NewRequest("memory and forgetting"))
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.3f %s\n", r.Rank, r.FinalScore, r.Highlight.Content)
//	}
//
// # Scoring
//
// With expansion enabled the query is searched as up to three variants:
// the original (weight 1.0), the expander's synonyms (0.8) and its
// reformulation (0.9). For every hit of a variant:
//
//	hybrid = alpha*vector + (1-alpha)*lexical
//	final  = (1-bookWeight)*hybrid + bookWeight*bonus
//
// where bonus is the hit count of the hit's book divided by the hit count of
// the most represented book in that variant, or 0 when the book has a single
// hit. A zero bookWeight leaves final equal to hybrid.
//
// Variants are merged on exact highlight content. The first-seen instance is
// kept and its scores are the variant-weighted sum over the variants it
// appeared in, divided by the total weight of all variants. Results are
// sorted by final score, ties by highlight id.
//
// # Degradation
//
// A blank query returns no results and calls nothing. When the vector index
// is empty or the query cannot be embedded, the vector score is 0 and the
// ranking is lexical only. Index failures are logged, not returned.
//
// # Caching
//
// Responses are cached in an LRU keyed by a SHA-256 of the request
// parameters, with a TTL (1 hour by default). PurgeCache is called after a
// reindex.
package searcher
