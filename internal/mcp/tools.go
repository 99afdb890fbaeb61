package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/app"
	"github.com/dshills/chunkrag/internal/indexer"
	"github.com/dshills/chunkrag/internal/searcher"
	"github.com/dshills/chunkrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodePathNotFound       = -32001 // Specified path does not exist or is unreadable
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Collection is empty
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

const (
	maxBatchSize    = 10000
	maxErrorsListed = 5
)

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if !errors.Is(err, ErrPathNotAbsolute) {
			code = ErrorCodePathNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	batchSize := getIntDefault(args, "batch_size", indexer.DefaultBatchSize)
	if batchSize < 1 || batchSize > maxBatchSize {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("batch_size must be between 1 and %d", maxBatchSize), map[string]interface{}{
			"param": "batch_size",
			"value": batchSize,
		})
	}

	opts := &app.IndexOptions{
		Options: indexer.Options{
			Languages: getStringSlice(args, "languages"),
			BatchSize: batchSize,
			Parallel:  getBoolDefault(args, "parallel", true),
			Force:     getBoolDefault(args, "force_reindex", false),
			Clear:     getBoolDefault(args, "clear", false),
		},
	}

	stats, err := s.app.Index(ctx, path, opts)
	if errors.Is(err, indexer.ErrIndexInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if err != nil && stats == nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":         err == nil,
		"files_processed": stats.FilesProcessed,
		"files_skipped":   stats.FilesSkipped,
		"files_failed":    stats.FilesFailed,
		"files_removed":   stats.FilesRemoved,
		"chunks_created":  stats.ChunksCreated,
		"by_language":     stats.ByLanguage,
		"chunks_by_type":  stats.ChunksByType,
		"duration_ms":     stats.Duration.Milliseconds(),
	}
	if stats.Canceled {
		response["canceled"] = true
	}
	if err != nil {
		response["error"] = err.Error()
	}

	if fileErrs := stats.SortedErrors(); len(fileErrs) > 0 {
		msgs := make([]string, 0, maxErrorsListed)
		for i, fe := range fileErrs {
			if i == maxErrorsListed {
				break
			}
			msgs = append(msgs, fe.Error())
		}
		response["errors"] = msgs
		response["error_count"] = len(fileErrs)
	}

	s.logger.Info("index_codebase",
		zap.String("path", path),
		zap.Int("processed", stats.FilesProcessed),
		zap.Int("chunks", stats.ChunksCreated))

	if err != nil {
		return mcp.NewToolResultError(formatJSON(response)), nil
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultTopK)
	if limit < 1 || limit > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode, err := searcher.ParseMode(getStringDefault(args, "search_mode", string(searcher.ModeHybrid)))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   args["search_mode"],
			"allowed": []string{string(searcher.ModeHybrid), string(searcher.ModeDense), string(searcher.ModeLexical)},
		})
	}

	if err := s.requireIndexed(ctx); err != nil {
		return nil, err
	}

	resp, err := s.app.Search(ctx, searcher.Request{
		Query:    query,
		TopK:     limit,
		Language: getStringDefault(args, "language", ""),
		Type:     getStringDefault(args, "chunk_type", ""),
		Mode:     mode,
	})
	if errors.Is(err, searcher.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":           query,
		"mode":            string(resp.Mode),
		"results":         formatResults(resp.Results),
		"total":           len(resp.Results),
		"dense_results":   resp.DenseResults,
		"lexical_results": resp.LexicalResults,
		"cache_hit":       resp.CacheHit,
		"duration_ms":     resp.Duration.Milliseconds(),
	}
	if resp.Degraded != "" {
		response["degraded"] = resp.Degraded
	}
	if resp.LexicalStale {
		response["lexical_stale"] = true
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleFindSymbol handles the find_symbol tool invocation
func (s *Server) handleFindSymbol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "name parameter is required and cannot be empty", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultTopK)
	if limit < 1 || limit > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	results, err := s.app.Symbol(ctx, searcher.SymbolRequest{
		Name:     name,
		Type:     getStringDefault(args, "chunk_type", ""),
		Language: getStringDefault(args, "language", ""),
		Limit:    limit,
	})
	if errors.Is(err, searcher.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "name parameter is required and cannot be empty", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "symbol lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"name":    name,
		"results": formatResults(results),
		"total":   len(results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.app.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":    st.Total > 0,
		"collection": st.Collection,
		"statistics": map[string]interface{}{
			"chunks_count":     st.Total,
			"superseded_count": st.Superseded,
			"files_count":      st.Files,
			"by_language":      st.ByLanguage,
			"by_type":          st.ByType,
		},
		"embedding": map[string]interface{}{
			"provider":  st.Provider,
			"model":     st.Model,
			"dimension": st.Dimension,
		},
		"health": map[string]interface{}{
			"build_mode":        st.BuildMode,
			"lexical_documents": st.LexicalDocuments,
			"lexical_stale":     st.LexicalStale,
		},
	}
	if st.Total == 0 {
		response["message"] = "Collection is empty. Use index_codebase to index a directory."
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// requireIndexed fails with ErrorCodeNotIndexed when the collection is empty
func (s *Server) requireIndexed(ctx context.Context) error {
	st, err := s.app.Stats(ctx)
	if err != nil {
		return newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if st.Total == 0 {
		return newMCPError(ErrorCodeNotIndexed, "collection is empty, run index_codebase first", nil)
	}
	return nil
}

// Helper functions

func formatResults(results []types.ScoredChunk) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		item := map[string]interface{}{
			"rank":       r.Rank,
			"id":         r.ID,
			"score":      r.Score,
			"type":       r.Chunk.Type,
			"name":       r.Chunk.Name,
			"filepath":   r.Chunk.Filepath,
			"language":   r.Chunk.Language,
			"line_start": r.Chunk.LineStart,
			"line_end":   r.Chunk.LineEnd,
			"content":    r.Chunk.Content,
		}
		if len(r.Sources) > 0 {
			item["sources"] = r.Sources
		}
		if r.Chunk.Signature != "" {
			item["signature"] = r.Chunk.Signature
		}
		if r.Chunk.Parent != "" {
			item["parent"] = r.Chunk.Parent
		}
		out = append(out, item)
	}
	return out
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
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

// validatePath checks that path is absolute and readable. Files and
// directories are both accepted.
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			return ErrPathNotReadable
		}
		_ = f.Close()
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an array of strings, skipping other element types
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Validation errors

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
)
