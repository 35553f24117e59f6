// Package embedcache persists one embedding vector per highlight.
//
// The cache is an explicit object owned by the engine. It fronts the SQLite
// embeddings table with an in-memory LRU and tags every record with the
// embedding model identifier. Opening the cache with a different model wipes
// the stored vectors so that incompatible vector spaces are never mixed.
//
//	cache, err := embedcache.Open(ctx, store, embedcache.Options{Model: embedder.ModelID(emb)})
//	vec, err := cache.GetOrCompute(ctx, highlight, emb)
//	if errors.Is(err, embedcache.ErrEmbeddingUnavailable) {
//	    // highlight stays searchable lexically
//	}
package embedcache
