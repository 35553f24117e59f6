// Package indexer keeps the vector and lexical indices in step with the
// highlight store.
//
// # Reindex
//
//	stats, err := idx.Reindex(ctx)
//
// A reindex runs four steps:
//
//  1. List every highlight.
//  2. Embed highlights the cache does not hold yet. Calls go through a
//     bounded worker pool (errgroup plus a weighted semaphore). A highlight
//     whose embedding is unavailable is counted and skipped; it stays
//     searchable lexically.
//  3. Rebuild the vector index from every cached record and save it.
//  4. Rebuild the lexical index and purge the retriever's response cache.
//
// Only one run holds the IndexLock at a time. A concurrent call returns
// ErrIndexingInProgress instead of waiting.
//
// # Startup
//
// Warm loads the persisted vector index. When loading fails with
// vectorindex.ErrIndexLoad the index is rebuilt from the embedding cache,
// which needs no provider calls.
package indexer
