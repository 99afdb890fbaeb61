package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidFilter is returned for a Where clause on an unsupported field
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrWriterLocked is returned when another process holds the writer lock
	ErrWriterLocked = errors.New("collection is locked by another writer")

	// ErrLengthMismatch is returned when Add receives slices of different lengths
	ErrLengthMismatch = errors.New("ids, contents and metadatas differ in length")
)

// Store is the chunk collection. Every chunk is stored with its embedding,
// its content and the flat metadata produced by types.Chunk.FlatMetadata.
type Store interface {
	// Add embeds contents and inserts them under the given ids
	Add(ctx context.Context, ids, contents []string, metadatas []map[string]string) error

	// Get returns live chunks by id and/or metadata equality, in insertion order
	Get(ctx context.Context, req GetRequest) (*GetResult, error)

	// Query returns the n live chunks closest to text, nearest first.
	// Distances are 1 - cosine similarity.
	Query(ctx context.Context, text string, where Where, n int) (*QueryResult, error)

	// Count returns the number of rows ever inserted since the last Reset,
	// superseded ones included
	Count(ctx context.Context) (int, error)

	// Reset deletes every chunk of the collection
	Reset(ctx context.Context) error

	// Replace hides the live chunks of filepaths and adds the new chunks in
	// one transaction. It returns how many chunks were hidden.
	Replace(ctx context.Context, filepaths, ids, contents []string, metadatas []map[string]string) (int, error)

	// Supersede hides the live chunks of a file and returns how many were hidden
	Supersede(ctx context.Context, filepath string) (int, error)

	// Stats summarises the live chunks
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// GetRequest selects chunks. Empty IDs and Where select everything.
type GetRequest struct {
	IDs   []string
	Where Where
	Limit int // 0 means no limit
}

// GetResult holds parallel slices, one entry per chunk
type GetResult struct {
	IDs       []string
	Contents  []string
	Metadatas []map[string]string
}

// Len returns the number of chunks in the result
func (r *GetResult) Len() int {
	return len(r.IDs)
}

// QueryResult holds parallel slices ordered by ascending distance
type QueryResult struct {
	IDs       []string
	Contents  []string
	Metadatas []map[string]string
	Distances []float64
}

// Len returns the number of chunks in the result
func (r *QueryResult) Len() int {
	return len(r.IDs)
}

// Stats describes the live contents of a collection
type Stats struct {
	Collection string
	Total      int
	Superseded int
	Files      int
	ByLanguage map[string]int
	ByType     map[string]int

	Provider  string
	Model     string
	Dimension int
	BuildMode string
}
