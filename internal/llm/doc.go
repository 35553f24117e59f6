// Package llm holds the provider-facing pieces shared by the embedding and
// completion clients: the transient error taxonomy, an OpenAI-compatible
// completion client, and circuit breaking.
//
// Provider errors are classified into three transient kinds:
//
//   - ErrConnection: network failures, refused or reset connections
//   - ErrRateLimited: HTTP 429 or an explicit rate-limit message
//   - ErrService: HTTP 5xx or an open circuit breaker
//
// Use errors.Is against the sentinels, or IsTransient for the whole set:
//
//	text, err := completer.Complete(ctx, prompt)
//	if llm.IsTransient(err) {
//	    // retry with backoff
//	}
package llm
