package types

// ScoredResult is a single retrieval hit with its component scores
type ScoredResult struct {
	Highlight    Highlight
	Book         *Book // Nullable - filled when the book is known to storage
	Rank         int   // Position in result set (1-based)
	VectorScore  float64
	LexicalScore float64
	FinalScore   float64
}

// Validate checks if the scored result is valid
func (sr *ScoredResult) Validate() error {
	if sr.Highlight.ID <= 0 {
		return ErrInvalidHighlightID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.FinalScore < 0 || sr.FinalScore > 1 {
		return ErrInvalidRelevanceScore
	}

	if sr.Highlight.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
