package types

// Retrieval modes a result can originate from
const (
	SourceDense   = "dense"
	SourceLexical = "lexical"
)

// ScoredChunk is a single ranked retrieval result
type ScoredChunk struct {
	ID    string
	Rank  int // Position in result set (1-based)
	Chunk Chunk

	// Score is the fused RRF score in hybrid mode, otherwise the raw
	// similarity (dense) or BM25 score (lexical).
	Score float64

	// Distance from the dense mode, zero when the chunk was not a dense hit
	Distance float64

	// Sources lists the retrieval modes that surfaced this chunk
	Sources []string
}
