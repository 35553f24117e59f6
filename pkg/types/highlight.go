package types

import (
	"errors"
	"strings"
	"time"
)

// Highlight is a passage a reader marked in a book. Highlights are owned by
// storage and treated as immutable values by the engine.
type Highlight struct {
	ID       int64
	BookID   int64
	Content  string
	Location string // Optional, e.g. "p. 42" or a Kindle location
}

// Validate checks that the highlight can be indexed
func (h *Highlight) Validate() error {
	if h.ID <= 0 {
		return ErrInvalidHighlightID
	}
	if h.BookID <= 0 {
		return ErrInvalidBookID
	}
	if strings.TrimSpace(h.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// Book holds the display metadata for a group of highlights
type Book struct {
	ID     int64
	Title  string
	Author string
}

// EmbeddingRecord maps a highlight to its vector. One record exists per
// highlight; records are replaced wholesale when the embedding model changes.
type EmbeddingRecord struct {
	HighlightID int64
	BookID      int64
	Vector      []float32
	Model       string
	CreatedAt   time.Time
}

// SelectionCandidate is the grouping unit used while pairing highlights
type SelectionCandidate struct {
	HighlightID int64
	BookID      int64
	Embedding   []float32
}

// Strategy names the pair-selection strategy that produced a connection
type Strategy string

const (
	StrategySemanticDistance Strategy = "semantic_distance"
	StrategyTopicDiversity   Strategy = "topic_diversity"
	StrategyGenreContrast    Strategy = "genre_contrast"
	StrategyRandomFallback   Strategy = "random_fallback"
)

// ConnectionRecord is the persisted output of a pair selection. Uniqueness of
// the pair is not enforced.
type ConnectionRecord struct {
	ID           string
	Highlight1ID int64
	Highlight2ID int64
	Strategy     Strategy
	CreatedAt    time.Time
}

// Validate checks the record before it is stored
func (c *ConnectionRecord) Validate() error {
	if c.Highlight1ID <= 0 || c.Highlight2ID <= 0 {
		return ErrInvalidHighlightID
	}
	if c.Highlight1ID == c.Highlight2ID {
		return errors.New("connection must join two different highlights")
	}
	if c.Strategy == "" {
		return ErrMissingStrategy
	}
	return nil
}
