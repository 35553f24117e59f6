// Package mcp implements the Model Context Protocol (MCP) server for the
// highlights library.
//
// The server exposes four tools:
//   - search_highlights: hybrid semantic and keyword search
//   - select_pair: pick two highlights from different books
//   - reindex: embed new highlights and rebuild the indices
//   - get_status: corpus counts and index health
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport. stdout carries
// protocol messages only; all logging goes to stderr.
//
// # Tool: search_highlights
//
//	Request:
//	{
//	  "name": "search_highlights",
//	  "arguments": {
//	    "keywords": ["courage", "fear"],
//	    "hybrid_alpha": 0.7,
//	    "book_weight": 0.3,
//	    "use_expanded": true,
//	    "limit": 30
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "highlight_id": 17,
//	      "content": "Courage is knowing what not to fear.",
//	      "book_id": 3,
//	      "book_title": "Republic",
//	      "book_author": "Plato",
//	      "score": 0.81
//	    }
//	  ],
//	  "total": 1
//	}
//
// An empty keyword list returns no results without calling any provider.
//
// # Tool: select_pair
//
//	Request:
//	{"name": "select_pair", "arguments": {"force_regenerate": true, "seed": 7}}
//
//	Response:
//	{
//	  "available": true,
//	  "highlight1": {"highlight_id": 4, "content": "...", "book_id": 1},
//	  "highlight2": {"highlight_id": 31, "content": "...", "book_id": 5},
//	  "strategy_used": "semantic_distance"
//	}
//
// When fewer than two books have highlights the response is
// {"available": false}; this is not an error.
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing or out-of-range arguments)
//   - -32603: Internal error (database, index files)
//   - -32002: Indexing in progress
package mcp
