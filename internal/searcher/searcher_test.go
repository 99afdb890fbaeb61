package searcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/chunkrag/internal/embedder"
	"github.com/dshills/chunkrag/internal/lexical"
	"github.com/dshills/chunkrag/internal/storage"
	"github.com/dshills/chunkrag/pkg/types"
)

// fakeStore serves a fixed dense ranking and looks chunks up by id
type fakeStore struct {
	storage.Store

	dense    []string // ids in dense order
	queryErr error
	chunks   map[string]types.Chunk

	queryN   int
	getCalls [][]string
}

func chunk(name, lang string) types.Chunk {
	return types.Chunk{
		Type:      types.ChunkFunction,
		Name:      name,
		Content:   "func " + name + "() {}",
		Filepath:  name + ".go",
		Language:  lang,
		LineStart: 1,
		LineEnd:   1,
	}
}

func newFakeStore(dense []string, ids ...string) *fakeStore {
	f := &fakeStore{dense: dense, chunks: make(map[string]types.Chunk)}
	for _, id := range append(append([]string(nil), dense...), ids...) {
		f.chunks[id] = chunk("fn_"+id, "go")
	}
	return f
}

func (f *fakeStore) Query(_ context.Context, _ string, _ storage.Where, n int) (*storage.QueryResult, error) {
	f.queryN = n
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	res := &storage.QueryResult{}
	for i, id := range f.dense {
		if i == n {
			break
		}
		c := f.chunks[id]
		res.IDs = append(res.IDs, id)
		res.Contents = append(res.Contents, c.Content)
		res.Metadatas = append(res.Metadatas, c.FlatMetadata())
		res.Distances = append(res.Distances, 0.1*float64(i+1))
	}
	return res, nil
}

func (f *fakeStore) Get(_ context.Context, req storage.GetRequest) (*storage.GetResult, error) {
	f.getCalls = append(f.getCalls, req.IDs)
	res := &storage.GetResult{}
	for _, id := range req.IDs {
		c, ok := f.chunks[id]
		if !ok {
			continue
		}
		res.IDs = append(res.IDs, id)
		res.Contents = append(res.Contents, c.Content)
		res.Metadatas = append(res.Metadatas, c.FlatMetadata())
	}
	return res, nil
}

// fakeLexical returns fixed hits
type fakeLexical struct {
	hits     []lexical.Hit
	err      error
	stale    bool
	rebuilds int
	n        int
}

func (f *fakeLexical) SearchContext(_ context.Context, _ string, n int, _ lexical.Filter) ([]lexical.Hit, error) {
	f.n = n
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > n {
		return f.hits[:n], nil
	}
	return f.hits, nil
}

func (f *fakeLexical) Rebuild(context.Context, storage.Store) error {
	f.rebuilds++
	f.stale = false
	return nil
}

func (f *fakeLexical) MarkStale()  { f.stale = true }
func (f *fakeLexical) Stale() bool { return f.stale }
func (f *fakeLexical) Len() int    { return len(f.hits) }

func hits(ids ...string) []lexical.Hit {
	out := make([]lexical.Hit, len(ids))
	for i, id := range ids {
		out[i] = lexical.Hit{ID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func ids(results []types.ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
		topK    int
		mode    Mode
	}{
		{name: "empty query", req: Request{Query: "  "}, wantErr: ErrEmptyQuery},
		{name: "defaults", req: Request{Query: "q"}, topK: 10, mode: ModeHybrid},
		{name: "negative topk", req: Request{Query: "q", TopK: -5}, topK: 10, mode: ModeHybrid},
		{name: "topk capped", req: Request{Query: "q", TopK: 500}, topK: 100, mode: ModeHybrid},
		{name: "mode case", req: Request{Query: "q", TopK: 3, Mode: "Dense"}, topK: 3, mode: ModeDense},
		{name: "bad mode", req: Request{Query: "q", Mode: "fuzzy"}, wantErr: ErrInvalidMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := validateRequest(&req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.topK, req.TopK)
			assert.Equal(t, tt.mode, req.Mode)
		})
	}
}

func TestApplyRRF(t *testing.T) {
	t.Run("shared first place", func(t *testing.T) {
		fused := applyRRF([]denseHit{{id: "A"}}, []lexical.Hit{{ID: "A"}}, 60)
		require.Len(t, fused, 1)
		assert.InDelta(t, 2.0/61, fused[0].score, 1e-12)
		assert.Equal(t, []string{types.SourceDense, types.SourceLexical}, fused[0].sources)
	})

	t.Run("disjoint lists tie in arrival order", func(t *testing.T) {
		fused := applyRRF([]denseHit{{id: "A"}, {id: "B"}}, []lexical.Hit{{ID: "C"}, {ID: "D"}}, 60)
		got := make([]string, len(fused))
		for i, r := range fused {
			got[i] = r.id
		}
		assert.Equal(t, []string{"A", "C", "B", "D"}, got)
		assert.InDelta(t, 1.0/61, fused[0].score, 1e-12)
		assert.InDelta(t, 1.0/61, fused[1].score, 1e-12)
		assert.InDelta(t, 1.0/62, fused[2].score, 1e-12)
	})

	t.Run("agreement outranks a single first place", func(t *testing.T) {
		fused := applyRRF(
			[]denseHit{{id: "A"}, {id: "B"}},
			[]lexical.Hit{{ID: "C"}, {ID: "B"}},
			60)
		assert.Equal(t, "B", fused[0].id)
		assert.InDelta(t, 2.0/62, fused[0].score, 1e-12)
	})

	t.Run("default constant", func(t *testing.T) {
		fused := applyRRF([]denseHit{{id: "A"}}, nil, 0)
		assert.InDelta(t, 1.0/61, fused[0].score, 1e-12)
	})
}

func TestSearch_Hybrid(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore([]string{"A", "B"}, "C")
	lex := &fakeLexical{hits: hits("C", "A")}
	s := New(store, lex)

	resp, err := s.Search(ctx, Request{Query: "q", TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, ModeHybrid, resp.Mode)
	assert.Empty(t, resp.Degraded)
	assert.Equal(t, 6, store.queryN, "dense fetches 2*TopK candidates")
	assert.Equal(t, 6, lex.n, "lexical fetches 2*TopK candidates")

	// A: 1/61 + 1/62, C: 1/61, B: 1/62
	assert.Equal(t, []string{"A", "C", "B"}, ids(resp.Results))
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		require.NoError(t, r.Chunk.Validate())
	}
	assert.Contains(t, resp.Results[0].Sources, types.SourceDense)
	assert.NotContains(t, resp.Results[1].Sources, types.SourceDense)
	assert.Equal(t, "fn_C", resp.Results[1].Chunk.Name)

	require.Len(t, store.getCalls, 1, "lexical-only hits load in one bulk Get")
	assert.Equal(t, []string{"C"}, store.getCalls[0])
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	store := newFakeStore([]string{"A", "B", "C"}, "D", "E")
	s := New(store, &fakeLexical{hits: hits("D", "E")})

	resp, err := s.Search(context.Background(), Request{Query: "q", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D"}, ids(resp.Results))
}

func TestSearch_Degradation(t *testing.T) {
	ctx := context.Background()

	t.Run("dense fails", func(t *testing.T) {
		store := newFakeStore(nil, "C", "D")
		store.queryErr = errors.New("embedding service down")
		s := New(store, &fakeLexical{hits: hits("C", "D")})

		resp, err := s.Search(ctx, Request{Query: "q", TopK: 5})
		require.NoError(t, err)
		assert.Equal(t, "dense", resp.Degraded)
		assert.Equal(t, []string{"C", "D"}, ids(resp.Results))
	})

	t.Run("lexical fails", func(t *testing.T) {
		store := newFakeStore([]string{"A", "B"})
		s := New(store, &fakeLexical{err: errors.New("boom")})

		resp, err := s.Search(ctx, Request{Query: "q", TopK: 5})
		require.NoError(t, err)
		assert.Equal(t, "lexical", resp.Degraded)
		assert.Equal(t, []string{"A", "B"}, ids(resp.Results))
		assert.Empty(t, store.getCalls)
	})

	t.Run("both fail", func(t *testing.T) {
		store := newFakeStore(nil)
		store.queryErr = errors.New("down")
		s := New(store, &fakeLexical{err: errors.New("boom")})

		_, err := s.Search(ctx, Request{Query: "q"})
		assert.ErrorIs(t, err, ErrBothModesFailed)
	})

	t.Run("dense only while stale", func(t *testing.T) {
		store := newFakeStore([]string{"A"}, "C")
		lex := &fakeLexical{hits: hits("C"), stale: true}
		s := New(store, lex, WithDenseOnlyWhenStale(true))

		resp, err := s.Search(ctx, Request{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, ModeDense, resp.Mode)
		assert.Equal(t, "lexical", resp.Degraded)
		assert.True(t, resp.LexicalStale)
		assert.Equal(t, []string{"A"}, ids(resp.Results))
	})

	t.Run("stale index still used by default", func(t *testing.T) {
		store := newFakeStore([]string{"A"}, "C")
		s := New(store, &fakeLexical{hits: hits("C"), stale: true})

		resp, err := s.Search(ctx, Request{Query: "q"})
		require.NoError(t, err)
		assert.True(t, resp.LexicalStale)
		assert.Equal(t, []string{"A", "C"}, ids(resp.Results))
	})
}

func TestSearch_SingleModes(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore([]string{"A", "B"}, "C")
	s := New(store, &fakeLexical{hits: hits("C", "A")})

	dense, err := s.Search(ctx, Request{Query: "q", Mode: ModeDense, TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(dense.Results))
	assert.InDelta(t, 0.9, dense.Results[0].Score, 1e-9)
	assert.Equal(t, 5, store.queryN)

	lex, err := s.Search(ctx, Request{Query: "q", Mode: ModeLexical, TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A"}, ids(lex.Results))
	assert.Equal(t, 2.0, lex.Results[0].Score)
	assert.Equal(t, []string{types.SourceLexical}, lex.Results[0].Sources)
}

func TestSearch_DropsMissingLexicalHits(t *testing.T) {
	store := newFakeStore([]string{"A"})
	s := New(store, &fakeLexical{hits: hits("gone", "A")})

	resp, err := s.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(resp.Results))
	assert.Equal(t, 1, resp.Results[0].Rank)
}

func TestSearch_Cache(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore([]string{"A"})
	lex := &fakeLexical{}
	s := New(store, lex, WithCache(10, time.Minute))

	first, err := s.Search(ctx, Request{Query: "q"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	store.dense = []string{"B"}
	store.chunks["B"] = chunk("fn_B", "go")

	second, err := s.Search(ctx, Request{Query: "q"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, []string{"A"}, ids(second.Results))

	second.Results[0].Sources[0] = "mutated"
	third, err := s.Search(ctx, Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, types.SourceDense, third.Results[0].Sources[0], "cached entries are copies")

	s.MarkStale()
	assert.True(t, lex.Stale())
	fresh, err := s.Search(ctx, Request{Query: "q"})
	require.NoError(t, err)
	assert.False(t, fresh.CacheHit)
	assert.Equal(t, []string{"B"}, ids(fresh.Results))

	require.NoError(t, s.RebuildLexical(ctx))
	assert.Equal(t, 1, lex.rebuilds)
	assert.False(t, lex.Stale())
	again, err := s.Search(ctx, Request{Query: "q"})
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
}

func TestSearch_CacheDisabled(t *testing.T) {
	s := New(newFakeStore([]string{"A"}), &fakeLexical{}, WithCache(-1, 0))
	assert.Nil(t, s.cache)

	for i := 0; i < 2; i++ {
		resp, err := s.Search(context.Background(), Request{Query: "q"})
		require.NoError(t, err)
		assert.False(t, resp.CacheHit)
	}
}

// End to end over SQLite with the local embedder and a real BM25 index
func TestSearch_WithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	store, err := storage.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "search.db"), emb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	chunks := []types.Chunk{
		{Type: "function", Name: "ParseConfig", Content: "func ParseConfig(path string) (*Config, error) { return yaml.Unmarshal(path) }", Filepath: "config.go", Language: "go", LineStart: 1, LineEnd: 3},
		{Type: "function", Name: "RenderPage", Content: "func RenderPage(w io.Writer) { template.Execute(w) }", Filepath: "page.go", Language: "go", LineStart: 1, LineEnd: 3},
		{Type: "class", Name: "ConfigLoader", Content: "class ConfigLoader:\n    def load(self): return yaml.safe_load(open(self.path))", Filepath: "loader.py", Language: "python", LineStart: 1, LineEnd: 2},
	}
	var idList, contents []string
	var metas []map[string]string
	for i, c := range chunks {
		idList = append(idList, fmt.Sprintf("chunk_%d", i))
		contents = append(contents, c.Content)
		metas = append(metas, c.FlatMetadata())
	}
	require.NoError(t, store.Add(ctx, idList, contents, metas))

	idx := lexical.NewIndex(nil)
	s := New(store, idx)
	require.NoError(t, s.RebuildLexical(ctx))

	resp, err := s.Search(ctx, Request{Query: "yaml config", TopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.NotEqual(t, "RenderPage", resp.Results[0].Chunk.Name)

	filtered, err := s.Search(ctx, Request{Query: "yaml", Language: "python"})
	require.NoError(t, err)
	require.NotEmpty(t, filtered.Results)
	for _, r := range filtered.Results {
		assert.Equal(t, "python", r.Chunk.Language)
	}

	sym, err := s.Symbol(ctx, SymbolRequest{Name: "ParseConfig"})
	require.NoError(t, err)
	require.Len(t, sym, 1)
	assert.Equal(t, "config.go", sym[0].Chunk.Filepath)
	assert.Equal(t, 1, sym[0].Rank)

	none, err := s.Symbol(ctx, SymbolRequest{Name: "ParseConfig", Language: "python"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Symbol(ctx, SymbolRequest{Name: " "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, 2, st.ByLanguage["go"])
	assert.Equal(t, 1, st.ByType["class"])
	assert.Equal(t, 3, st.LexicalDocuments)
	assert.False(t, st.LexicalStale)
}
