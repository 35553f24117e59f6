package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/highlights-mcp/internal/engine"
	"github.com/dshills/highlights-mcp/internal/indexer"
	"github.com/dshills/highlights-mcp/internal/pairing"
	"github.com/dshills/highlights-mcp/internal/searcher"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
)

// maxReportedErrors caps the per-highlight failures included in a reindex response
const maxReportedErrors = 5

// handleSearchHighlights handles the search_highlights tool invocation
func (s *Server) handleSearchHighlights(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	keywords, err := getStrings(args, "keywords")
	if err != nil {
		return nil, err
	}
	params := engine.SearchParams{Keywords: keywords}

	if params.HybridAlpha, err = getFloat(args, "hybrid_alpha"); err != nil {
		return nil, err
	}
	if params.BookWeight, err = getFloat(args, "book_weight"); err != nil {
		return nil, err
	}
	if params.Limit, err = getInt(args, "limit"); err != nil {
		return nil, err
	}
	if params.Limit != nil && (*params.Limit < 1 || *params.Limit > searcher.MaxLimit) {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": *params.Limit,
		})
	}
	if v, ok := args["use_expanded"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, invalidParam("use_expanded", "must be a boolean")
		}
		params.UseExpanded = &b
	}

	result, err := s.backend.Search(ctx, params)
	if err != nil {
		return nil, s.toolError("search failed", err)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSelectPair handles the select_pair tool invocation
func (s *Server) handleSelectPair(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	req := pairing.Request{}
	if v, ok := args["force_regenerate"]; ok {
		if req.ForceRegenerate, ok = v.(bool); !ok {
			return nil, invalidParam("force_regenerate", "must be a boolean")
		}
	}

	seed, err := getInt(args, "seed")
	if err != nil {
		return nil, err
	}
	if seed != nil {
		if *seed < 0 {
			return nil, invalidParam("seed", "must not be negative")
		}
		u := uint64(*seed)
		req.Seed = &u
		// A seeded request asks for a fresh, reproducible pair
		req.ForceRegenerate = true
	}

	pair, err := s.backend.SelectPair(ctx, req)
	if err != nil {
		return nil, s.toolError("pair selection failed", err)
	}
	return mcp.NewToolResultText(formatJSON(pair)), nil
}

// handleReindex handles the reindex tool invocation
func (s *Server) handleReindex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.backend.Reindex(ctx)
	if err != nil {
		return nil, s.toolError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":     true,
		"highlights":  stats.Highlights,
		"embedded":    stats.Embedded,
		"cached":      stats.Cached,
		"unavailable": stats.Unavailable,
		"vectors":     stats.Vectors,
		"duration_ms": stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.backend.Status(ctx)
	if err != nil {
		return nil, s.toolError("failed to get status", err)
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// toolError maps an engine error onto an MCP error code
func (s *Server) toolError(message string, err error) error {
	switch {
	case errors.Is(err, indexer.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	case errors.Is(err, searcher.ErrInvalidRequest):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	}
	s.logger.Error(message, "error", err)
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func invalidParam(param, reason string) error {
	return newMCPError(ErrorCodeInvalidParams, "invalid "+param, map[string]interface{}{
		"param":  param,
		"reason": reason,
	})
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the tool arguments; tools without parameters may be
// called with none
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getStrings extracts a required string array. A single string is accepted
// as a one-element array.
func getStrings(args map[string]interface{}, key string) ([]string, error) {
	switch v := args[key].(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, invalidParam(key, "must be an array of strings")
			}
			out = append(out, str)
		}
		return out, nil
	case nil:
		return nil, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing",
		})
	default:
		return nil, invalidParam(key, "must be an array of strings")
	}
}

// getFloat extracts an optional number
func getFloat(args map[string]interface{}, key string) (*float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case float64:
		return &n, nil
	case int:
		f := float64(n)
		return &f, nil
	default:
		return nil, invalidParam(key, "must be a number")
	}
}

// getInt extracts an optional integer
func getInt(args map[string]interface{}, key string) (*int, error) {
	f, err := getFloat(args, key)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, invalidParam(key, "must be an integer")
	}
	n := int(*f)
	return &n, nil
}
