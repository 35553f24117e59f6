// Package pairing selects two highlights from different books for
// cross-book connections.
//
// Strategies are tried in order until one produces a pair:
//
//  1. semantic_distance: at least 10 highlights in at least 2 books. Two
//     random books are chosen, up to 10 highlights are sampled from each and
//     the cross pair with the largest cosine distance wins (ties keep the
//     first pair seen). Missing embeddings are computed through the
//     embedding cache; highlights that cannot be embedded are skipped and
//     the sample is not refilled.
//  2. topic_diversity: at least 5 highlights in at least 2 books. One random
//     highlight from each of two random books.
//  3. genre_contrast: at least 2 books. The store picks one highlight of each
//     of two random books with its randomized ordering.
//  4. random_fallback: same preconditions, picks from the in-memory pool.
//
// When no strategy succeeds the result is StatusExhausted, which callers
// treat as "not enough data" rather than an error.
//
// All randomness comes from a seedable source, so a fixed seed reproduces a
// selection. Without ForceRegenerate the latest recorded connection is
// returned as is.
package pairing
