// Package vectorindex provides cosine nearest-neighbour search over highlight
// embeddings.
//
// Two implementations share the Index interface:
//
//   - FlatIndex: exact linear scan in process, persisted to one file
//   - PgVectorIndex: PostgreSQL with the pgvector extension
//
// Open picks PgVectorIndex when a DSN is configured and the server answers,
// and FlatIndex otherwise.
//
// # File Format
//
// FlatIndex files start with the magic "HLVI", a format version and the
// embedding model identifier, followed by a zstd-compressed payload of
// (highlight id, book id, float32 vector) records and a CRC32 of the payload.
// Load rejects files with a different model, a bad checksum or a truncated
// payload with ErrIndexLoad; the caller then rebuilds from the embedding
// cache.
package vectorindex
