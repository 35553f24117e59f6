// Package lexical provides keyword matchers over highlight content.
//
// All implementations return ordinal ranks (1 - position/total) so that
// lexical hits can be blended with cosine similarities:
//
//   - SubstringIndex: case-insensitive substring match, ordered by the
//     number of matched keywords
//   - FTSIndex: SQLite FTS5 ordered by bm25()
//   - BleveIndex: in-memory bleve index
//
// New selects one by name.
package lexical
