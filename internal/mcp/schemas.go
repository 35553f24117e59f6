package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/highlights-mcp/internal/searcher"
)

// searchHighlightsTool returns the tool definition for search_highlights
func searchHighlightsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_highlights",
		Description: "Search reading highlights with hybrid semantic and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"keywords": map[string]interface{}{
					"type":        "array",
					"description": "Search terms; they are joined into one query",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"hybrid_alpha": map[string]interface{}{
					"type":        "number",
					"description": "Weight of semantic similarity; keyword rank gets the remainder",
					"default":     searcher.DefaultHybridAlpha,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"book_weight": map[string]interface{}{
					"type":        "number",
					"description": "Boost for books with many matching highlights (0 disables)",
					"default":     searcher.DefaultBookWeight,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"use_expanded": map[string]interface{}{
					"type":        "boolean",
					"description": "Also search synonyms and a reformulation of the query",
					"default":     true,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
			},
			Required: []string{"keywords"},
		},
	}
}

// selectPairTool returns the tool definition for select_pair
func selectPairTool() mcp.Tool {
	return mcp.Tool{
		Name:        "select_pair",
		Description: "Pick two highlights from different books that make an interesting connection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force_regenerate": map[string]interface{}{
					"type":        "boolean",
					"description": "Select a new pair instead of returning the latest one",
					"default":     false,
				},
				"seed": map[string]interface{}{
					"type":        "integer",
					"description": "Optional random seed for a reproducible selection",
					"minimum":     0,
				},
			},
		},
	}
}

// reindexTool returns the tool definition for reindex
func reindexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex",
		Description: "Embed new highlights and rebuild the search indices",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report corpus counts and index health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
