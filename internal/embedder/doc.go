// Package embedder generates vector embeddings for highlight text.
//
// Three providers are available: OpenAI (and OpenAI-compatible servers),
// Jina AI, and a local hashed bag-of-words model that needs no network.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderOpenAI})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vector, err := emb.Embed(ctx, "The map is not the territory.")
//
// New wraps the chosen provider with Resilient, which adds:
//
//   - a text-hash LRU cache, so repeated queries are not re-embedded
//   - a token-bucket rate limiter (golang.org/x/time/rate)
//   - a circuit breaker that counts only transient failures
//   - bounded exponential backoff on llm.ErrConnection, llm.ErrRateLimited
//     and llm.ErrService
//
// # Model Identity
//
// ModelID returns "provider/model". Persisted vectors carry it so that a
// provider switch is detected and triggers re-embedding instead of mixing
// incompatible vector spaces.
package embedder
