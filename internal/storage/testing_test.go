package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/chunkrag/internal/embedder"
)

// fakeEmbedder returns fixed vectors per text and a default otherwise
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) vector(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.vector(req.Text)
	return &embedder.Embedding{Vector: v, Provider: "fake", Model: "fake-1"}, nil
}

func (f *fakeEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{}
	for _, text := range req.Texts {
		emb, err := f.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		resp.Embeddings = append(resp.Embeddings, emb)
	}
	return resp, nil
}

func (f *fakeEmbedder) Dimension() int   { return 3 }
func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake-1" }
func (f *fakeEmbedder) Close() error     { return nil }

func setupTestStore(t *testing.T, emb embedder.Embedder, opts ...Option) *SQLiteStore {
	t.Helper()
	if emb == nil {
		emb = &fakeEmbedder{}
	}
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"), emb, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func meta(lang, kind, name, path string) map[string]string {
	return map[string]string{
		"language":   lang,
		"type":       kind,
		"name":       name,
		"filepath":   path,
		"line_start": "1",
		"line_end":   "2",
	}
}
