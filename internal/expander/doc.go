// Package expander generates query variants with a completion model.
//
// Each expansion is a single provider call wrapped in bounded retries: up to
// three calls, exponential backoff from one second, and at least ten seconds
// after a rate-limit signal. When retries are exhausted, or the response
// cannot be parsed, Expand returns an empty Expansion rather than an error.
// Successful expansions are memoized in an expiring LRU owned by the
// Expander.
package expander
