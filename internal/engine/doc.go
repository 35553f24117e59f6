// Package engine is the composition root. It builds storage, the embedding
// provider and cache, the vector and lexical indices, the query expander, the
// hybrid retriever, the pair selector and the indexer from configuration, and
// exposes the operations used by the MCP server and the CLI.
package engine
