// Package embedder generates vector embeddings for chunks and queries.
//
// Two providers are available:
//   - local: deterministic feature hashing over identifiers and words.
//     It runs offline and is the default.
//   - openai: the OpenAI embeddings API, or any compatible endpoint via
//     BaseURL, with retry and exponential backoff on rate limits and
//     server errors.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local"})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{"func Add(a, b int) int", "## Setup"},
//	})
//
// Both providers share an LRU cache keyed by model and content hash, so
// re-indexing unchanged chunks does not hit the API again.
//
// # Provider Selection
//
// NewFromEnv and New with an empty provider consult
// CHUNKRAG_EMBEDDING_PROVIDER first, then OPENAI_API_KEY, and fall back to
// local.
package embedder
