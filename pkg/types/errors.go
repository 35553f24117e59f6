package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidHighlightID    = errors.New("invalid highlight ID")
	ErrInvalidBookID         = errors.New("invalid book ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrEmptyContent          = errors.New("content cannot be empty")
	ErrMissingStrategy       = errors.New("strategy is required")
)
