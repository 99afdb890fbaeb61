// Package mcp implements the Model Context Protocol (MCP) server for chunkrag.
//
// The server exposes four tools to MCP clients:
//   - index_codebase: index a directory or file incrementally
//   - search_code: hybrid, dense or lexical retrieval
//   - find_symbol: exact name lookup
//   - get_status: collection statistics and lexical index health
//
// It is started with
//
//	chunkrag serve
//
// and speaks JSON-RPC 2.0 over stdin/stdout. Logs go to stderr.
//
// # Tool: index_codebase
//
//	Request:
//	{
//	  "name": "index_codebase",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "languages": ["go", "markdown"],
//	    "force_reindex": false,
//	    "clear": false
//	  }
//	}
//
//	Response:
//	{
//	  "indexed": true,
//	  "files_processed": 42,
//	  "files_skipped": 180,
//	  "files_failed": 0,
//	  "chunks_created": 311,
//	  "chunks_by_type": {"function": 240, "section": 71},
//	  "duration_ms": 5230
//	}
//
// The lexical index is rebuilt after every run that changed the collection.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "retry with exponential backoff",
//	    "limit": 5,
//	    "language": "go",
//	    "search_mode": "hybrid"
//	  }
//	}
//
// Each result carries rank, id, score, type, name, filepath, language,
// line_start, line_end, content and the retrieval modes that found it.
// When one mode fails the response names it in "degraded".
//
// # Error Codes
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  path not found or unreadable
//	-32002  indexing already in progress
//	-32003  collection is empty
//	-32004  empty query or name
package mcp
