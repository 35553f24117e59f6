// Package types provides shared type definitions for the highlights engine.
//
// # Core Types
//
// Highlight is an immutable passage from a book:
//
//	h := types.Highlight{
//	    ID:      42,
//	    BookID:  7,
//	    Content: "We are what we repeatedly do.",
//	}
//
// ScoredResult is produced per query by the hybrid retriever and is never
// persisted. Scores are normalized to the [0, 1] range, higher is better.
//
// SelectionCandidate and ConnectionRecord are used by the pair selector:
// candidates are grouped by book while a pair is chosen, and the chosen pair
// is reported as a ConnectionRecord tagged with the Strategy that fired.
//
// # Validation
//
//	if err := h.Validate(); err != nil {
//	    return err
//	}
package types
