// Package types provides shared type definitions for chunkrag.
//
// # Core Types
//
// Chunk is the common currency between extraction and storage: a named,
// typed, line-addressed excerpt of a source file.
//
//	chunk := types.Chunk{
//	    Type:      types.ChunkFunction,
//	    Name:      "ParseFile",
//	    Content:   body,
//	    Filepath:  "internal/config/config.go",
//	    Language:  "go",
//	    LineStart: 12,
//	    LineEnd:   40,
//	}
//
// The collection store keeps flat string metadata next to each chunk's
// content. FlatMetadata and ChunkFromMetadata convert between the two forms;
// extractor-specific facts in Chunk.Metadata survive the round trip under a
// "meta_" prefix.
//
// # Validation
//
//	if err := chunk.Validate(); err != nil {
//	    return err
//	}
//
// # Search Results
//
// ScoredChunk carries a chunk together with its store id, 1-based rank, score
// and the retrieval modes (dense, lexical) that produced it.
package types
