// Package storage provides SQLite-based persistence for highlights.
//
// The storage layer manages:
//   - Books (title, author)
//   - Highlights and their FTS5 full-text index
//   - One embedding vector per highlight, tagged with the model that produced it
//   - Connections recorded by pair selection
//
// # Database Schema
//
// Tables:
//   - books: display metadata
//   - highlights: highlight text and location, keyed to a book
//   - highlights_fts: FTS5 external-content index over highlights.content
//   - embeddings: little-endian float32 vectors, one row per highlight
//   - connections: pair-selection history (uuid ids)
//   - schema_version: applied migrations (semver)
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.highlights/highlights.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	stats, err := storage.ImportJSONL(ctx, db, file)
//
// Imports run in one transaction. Records without an id are always inserted,
// so repeated imports of the same file should carry ids.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_cgo tag switches to github.com/mattn/go-sqlite3, which must also be
// built with the fts5 tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo,fts5" ./...
package storage
