package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/chunkrag/internal/indexer"
	"github.com/dshills/chunkrag/internal/searcher"
)

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a directory or file into the chunk collection. Only files changed since the last run are processed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the directory or file to index",
				},
				"languages": map[string]interface{}{
					"type":        "array",
					"description": "Only index these languages (e.g. go, python, markdown). Empty means every configured language.",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, reprocess every file regardless of modification state",
					"default":     false,
				},
				"clear": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, drop the collection and the file state before indexing",
					"default":     false,
				},
				"parallel": map[string]interface{}{
					"type":        "boolean",
					"description": "Use the worker pool when more than 10 files need processing",
					"default":     true,
				},
				"batch_size": map[string]interface{}{
					"type":        "integer",
					"description": "Chunks per storage commit",
					"default":     indexer.DefaultBatchSize,
					"minimum":     1,
					"maximum":     maxBatchSize,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search indexed chunks with a natural language or keyword query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultTopK,
					"minimum":     1,
					"maximum":     searcher.MaxTopK,
				},
				"language": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this language",
				},
				"chunk_type": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this type (function, class, method, section, record, paragraph, ...)",
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Retrieval strategy: hybrid (dense + BM25 fused with RRF), dense (embeddings only), or lexical (BM25 only)",
					"enum":        []string{string(searcher.ModeHybrid), string(searcher.ModeDense), string(searcher.ModeLexical)},
					"default":     string(searcher.ModeHybrid),
				},
			},
			Required: []string{"query"},
		},
	}
}

// findSymbolTool returns the tool definition for find_symbol
func findSymbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_symbol",
		Description: "Find chunks by exact name, such as a function, class or section heading",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Exact chunk name",
				},
				"chunk_type": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this type",
				},
				"language": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this language",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultTopK,
					"minimum":     1,
					"maximum":     searcher.MaxTopK,
				},
			},
			Required: []string{"name"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report collection statistics and lexical index health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
