// Package searcher implements hybrid retrieval over the chunk collection,
// combining dense embedding similarity with BM25 keyword matching.
//
// The searcher provides three modes:
//   - Hybrid: dense + lexical fused with Reciprocal Rank Fusion (default)
//   - Dense: embedding similarity only
//   - Lexical: BM25 only
//
// # Basic Usage
//
//	s := searcher.New(store, lexical.NewIndex(logger))
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:    "parse yaml config",
//	    TopK:     5,
//	    Language: "go",
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s %s:%d (%.4f)\n",
//	        r.Rank, r.Chunk.Name, r.Chunk.Filepath, r.Chunk.LineStart, r.Score)
//	}
//
// # Reciprocal Rank Fusion
//
// Each mode retrieves 2·TopK candidates. With 0-based ranks:
//
//	score[id] = Σ 1 / (k + rank + 1)    k = 60
//
// Results are sorted by score with a stable sort, so equal scores keep
// arrival order with dense candidates first, then truncated to TopK.
// Candidates only the lexical mode found are loaded with one bulk Get.
//
// # Degradation
//
// The two modes run concurrently. If one fails the search continues with
// the other and Response.Degraded names the dropped mode. If both fail the
// error wraps ErrBothModesFailed.
//
// The lexical index is rebuilt wholesale after indexing. Until then
// Response.LexicalStale is set; WithDenseOnlyWhenStale makes hybrid
// searches skip the lexical mode during that window.
//
// # Caching
//
// Responses are cached in an LRU keyed by the normalised request. The cache
// is purged by MarkStale and RebuildLexical.
package searcher
