package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/chunkrag/internal/config"
	"github.com/dshills/chunkrag/internal/embedder"
	"github.com/dshills/chunkrag/internal/state"
	"github.com/dshills/chunkrag/internal/storage"
	"github.com/dshills/chunkrag/pkg/types"
)

const goFile = `package calc

// Add sums two ints.
func Add(a, b int) int {
	return a + b
}

// Sub subtracts b from a.
func Sub(a, b int) int {
	return a - b
}
`

const mdFile = `# Calc

A tiny calculator.

## Usage

Call Add or Sub.
`

// hookStore wraps a real store to inject commit failures and side effects
type hookStore struct {
	storage.Store
	commitErr error
	onCommit  func()
}

func (h *hookStore) Replace(ctx context.Context, filepaths, ids, contents []string, metadatas []map[string]string) (int, error) {
	if h.commitErr != nil {
		return 0, h.commitErr
	}
	n, err := h.Store.Replace(ctx, filepaths, ids, contents, metadatas)
	if h.onCommit != nil {
		h.onCommit()
	}
	return n, err
}

type fixture struct {
	root    string
	store   *storage.SQLiteStore
	tracker *state.Tracker
	cfg     config.Config
}

func newFixture(t *testing.T, mode state.Mode) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	store, err := storage.NewSQLiteStore(ctx, filepath.Join(dir, "chunks.db"), emb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tracker, err := state.Open(ctx, filepath.Join(dir, "state.db"), state.WithMode(mode))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })

	root := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cfg := config.Default()
	cfg.DBPath = store.Path()
	return &fixture{root: root, store: store, tracker: tracker, cfg: cfg}
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) indexer(opts ...Option) *Indexer {
	return New(f.store, f.tracker, f.cfg, append([]Option{WithLockPath(f.store.LockPath())}, opts...)...)
}

func (f *fixture) liveCount(t *testing.T) int {
	t.Helper()
	st, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	return st.Total
}

func TestIndex_Basic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc/calc.go", goFile)
	f.write(t, "README.md", mdFile)
	f.write(t, "image.png", "\x89PNG")

	stats, err := f.indexer().Index(ctx, f.root, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Zero(t, stats.FilesSkipped)
	assert.Zero(t, stats.FilesFailed)
	assert.Equal(t, map[string]int{"go": 1, "markdown": 1}, stats.ByLanguage)
	assert.Equal(t, 2, stats.ChunksByType["function"])
	assert.Equal(t, 2, stats.ChunksByType["section"])
	assert.Equal(t, 4, stats.ChunksCreated)
	assert.False(t, stats.Canceled)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.ChunksCreated, count)

	got, err := f.store.Get(ctx, storage.GetRequest{Where: storage.Where{"name": "Add"}})
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.Equal(t, "calc/calc.go", got.Metadatas[0]["filepath"])
	assert.Equal(t, "4", got.Metadatas[0]["line_start"])
}

func TestIndex_IdempotentReindex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)
	f.write(t, "README.md", mdFile)
	idx := f.indexer()

	first, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)

	second, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Zero(t, second.FilesProcessed)
	assert.Equal(t, 2, second.FilesSkipped)
	assert.Zero(t, second.ChunksCreated)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksCreated, count)
}

func TestIndex_TouchedFileIsReprocessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	goPath := f.write(t, "calc.go", goFile)
	f.write(t, "README.md", mdFile)
	idx := f.indexer()

	first, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(goPath, later, later))

	second, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesProcessed)
	assert.Equal(t, 1, second.FilesSkipped)
	assert.Equal(t, map[string]int{"go": 1}, second.ByLanguage)

	st, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksCreated, st.Total, "old copies are superseded, not duplicated")
	assert.Equal(t, 2, st.Superseded)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksCreated+2, count, "superseded rows keep their ids")

	add, err := f.store.Get(ctx, storage.GetRequest{Where: storage.Where{"name": "Add"}})
	require.NoError(t, err)
	require.Equal(t, 1, add.Len())
	assert.Equal(t, "chunk_4", add.IDs[0], "new ids continue after the superseded rows")
}

func TestIndex_HashMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeHash)
	goPath := f.write(t, "calc.go", goFile)
	idx := f.indexer()

	_, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(goPath, later, later))
	stats, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSkipped, "a touch without a content change is ignored")

	f.write(t, "calc.go", goFile+"\nfunc Mul(a, b int) int {\n\treturn a * b\n}\n")
	stats, err = idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 3, stats.ChunksCreated)

	entry, err := f.tracker.Lookup(ctx, goPath)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ContentHash)
}

func TestIndex_ForceAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)
	idx := f.indexer()

	first, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)

	forced, err := idx.Index(ctx, f.root, &Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, forced.FilesProcessed)
	assert.Equal(t, first.ChunksCreated, f.liveCount(t))

	cleared, err := idx.Index(ctx, f.root, &Options{Clear: true})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared.FilesProcessed, "clear forgets the tracked state")

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksCreated, count, "clear resets the id sequence")
}

func TestIndex_Discovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.cfg.Index.ExcludeGlobs = []string{"**/*_gen.go"}
	f.write(t, "calc.go", goFile)
	f.write(t, "node_modules/dep/index.js", "function dep() {\n  return 1;\n}\n")
	f.write(t, ".git/hooks/pre.py", "def hook():\n    return 1\n")
	f.write(t, "pkg/zz_gen.go", goFile)
	f.write(t, "build/Makefile", "all:\n\tgo build ./...\n")
	f.write(t, "deploy/Dockerfile", "FROM golang:1.25\nRUN go build ./...\n\nCMD [\"app\"]\n")

	stats, err := f.indexer().Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"go": 1, "dockerfile": 1}, stats.ByLanguage)

	t.Run("language filter", func(t *testing.T) {
		g := newFixture(t, state.ModeMtime)
		g.write(t, "calc.go", goFile)
		g.write(t, "README.md", mdFile)

		stats, err := g.indexer().Index(ctx, g.root, &Options{Languages: []string{"Markdown"}})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"markdown": 1}, stats.ByLanguage)
	})

	t.Run("single file root", func(t *testing.T) {
		g := newFixture(t, state.ModeMtime)
		path := g.write(t, "sub/calc.go", goFile)

		stats, err := g.indexer().Index(ctx, path, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.FilesProcessed)

		got, err := g.store.Get(ctx, storage.GetRequest{Where: storage.Where{"filepath": "calc.go"}})
		require.NoError(t, err)
		assert.Equal(t, 2, got.Len())
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := f.indexer().Index(ctx, filepath.Join(f.root, "nope"), nil)
		assert.Error(t, err)
	})
}

func TestIndex_Parallel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	for i := 0; i < 25; i++ {
		f.write(t, fmt.Sprintf("pkg%02d/calc.go", i), goFile)
	}

	stats, err := f.indexer().Index(ctx, f.root, &Options{Parallel: true, Workers: 4, BatchSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 25, stats.FilesProcessed)
	assert.Equal(t, 50, stats.ChunksCreated)

	got, err := f.store.Get(ctx, storage.GetRequest{})
	require.NoError(t, err)
	require.Equal(t, 50, got.Len())
	seen := make(map[string]bool)
	for _, id := range got.IDs {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	for i := 0; i < 50; i++ {
		assert.True(t, seen[fmt.Sprintf("chunk_%d", i)])
	}

	paths, err := f.tracker.Paths(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, 25)
}

func TestIndex_Cancel(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			f := newFixture(t, state.ModeMtime)
			for i := 0; i < 20; i++ {
				f.write(t, fmt.Sprintf("pkg%02d/calc.go", i), goFile)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hs := &hookStore{Store: f.store, onCommit: cancel}

			idx := New(hs, f.tracker, f.cfg)
			stats, err := idx.Index(ctx, f.root, &Options{Parallel: parallel, Workers: 2, BatchSize: 2})
			require.ErrorIs(t, err, context.Canceled)
			require.NotNil(t, stats)
			assert.True(t, stats.Canceled)
			assert.Less(t, stats.FilesProcessed, 20)

			count, err := f.store.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, count, "only the batch flushed before cancel is kept")

			paths, err := f.tracker.Paths(context.Background())
			require.NoError(t, err)
			assert.Len(t, paths, 1, "committed files are still recorded")
		})
	}
}

func TestIndex_CommitFailureAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	goPath := f.write(t, "calc.go", goFile)

	hs := &hookStore{Store: f.store, commitErr: errors.New("disk full")}
	stats, err := New(hs, f.tracker, f.cfg).Index(ctx, f.root, nil)
	require.ErrorIs(t, err, ErrStorageCommit)
	assert.NotNil(t, stats)
	assert.False(t, stats.Canceled)

	_, err = f.tracker.Lookup(ctx, goPath)
	assert.ErrorIs(t, err, storage.ErrNotFound, "uncommitted files stay untracked")
}

func TestIndex_FailedForcedRunKeepsChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)

	_, err := f.indexer().Index(ctx, f.root, nil)
	require.NoError(t, err)
	require.Equal(t, 2, f.liveCount(t))

	hs := &hookStore{Store: f.store, commitErr: errors.New("disk full")}
	_, err = New(hs, f.tracker, f.cfg).Index(ctx, f.root, &Options{Force: true})
	require.ErrorIs(t, err, ErrStorageCommit)
	assert.Equal(t, 2, f.liveCount(t), "previous chunks stay live until the new ones commit")

	stats, err := f.indexer().Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, 2, f.liveCount(t))

	add, err := f.store.Get(ctx, storage.GetRequest{Where: storage.Where{"name": "Add"}})
	require.NoError(t, err)
	assert.Equal(t, 1, add.Len())
}

func TestIndex_CanceledForcedRunKeepsChunks(t *testing.T) {
	f := newFixture(t, state.ModeMtime)
	for i := 0; i < 4; i++ {
		f.write(t, fmt.Sprintf("pkg%d/calc.go", i), goFile)
	}

	_, err := f.indexer().Index(context.Background(), f.root, nil)
	require.NoError(t, err)
	require.Equal(t, 8, f.liveCount(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hs := &hookStore{Store: f.store, onCommit: cancel}
	_, err = New(hs, f.tracker, f.cfg).Index(ctx, f.root, &Options{Force: true, BatchSize: 2})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 8, f.liveCount(t), "files not yet committed keep their old chunks")
	st, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Superseded, "only the committed file was swapped")
}

func TestIndex_TrackerWriteFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)
	f.write(t, "README.md", mdFile)

	core, logs := observer.New(zap.WarnLevel)
	hs := &hookStore{Store: f.store, onCommit: func() { _ = f.tracker.Close() }}
	idx := New(hs, f.tracker, f.cfg, WithLogger(zap.New(core)))

	stats, err := idx.Index(ctx, f.root, &Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesProcessed)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 4, f.liveCount(t))

	failed := logs.FilterMessage("failed to record file state").All()
	require.Len(t, failed, 2)
	assert.NotEmpty(t, failed[0].ContextMap()["path"])
}

func TestCoordinator_DropsInvalidChunks(t *testing.T) {
	f := newFixture(t, state.ModeMtime)
	c := &coordinator{idx: f.indexer(), stats: newRunStats(), batchSize: 100}

	r := result{
		task: task{Path: "/repo/doc.md", Rel: "doc.md", Language: "markdown"},
		chunks: []types.Chunk{
			{Type: types.ChunkSection, Name: "Usage", Content: "## Usage", LineStart: 1, LineEnd: 1},
			{Type: types.ChunkSection, Name: "", Content: "#   ", LineStart: 2, LineEnd: 2},
			{Type: types.ChunkSection, Name: "Tail", Content: "tail", LineStart: 4, LineEnd: 3},
		},
	}
	require.NoError(t, c.accept(context.Background(), r))

	require.Len(t, c.batch, 1)
	assert.Equal(t, "Usage", c.batch[0].Name)
	assert.Equal(t, 1, c.stats.ChunksCreated)
	assert.Equal(t, 1, c.stats.FilesProcessed)
	require.Len(t, c.marks, 1)
	assert.Equal(t, "doc.md", c.marks[0].rel)
}

func TestIndex_UnreadableFileIsRecorded(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)
	bad := f.write(t, "secret.go", goFile)
	require.NoError(t, os.Chmod(bad, 0o000))

	stats, err := f.indexer().Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, bad, stats.Errors[0].Path)
	assert.Contains(t, stats.Errors[0].Error(), bad+": ")

	_, err = f.tracker.Lookup(ctx, bad)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcess_NoChunker(t *testing.T) {
	f := newFixture(t, state.ModeMtime)
	path := f.write(t, "x.cob", "IDENTIFICATION DIVISION.\n")

	r := f.indexer().process(context.Background(), task{Path: path, Rel: "x.cob", Language: "cobol"})
	assert.ErrorIs(t, r.err, ErrNoChunker)
	assert.Empty(t, r.chunks)
}

func TestIndex_DeletedFileIsPruned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)
	gone := f.write(t, "old/calc.go", goFile)
	idx := f.indexer()

	_, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	require.Equal(t, 4, f.liveCount(t))

	require.NoError(t, os.Remove(gone))
	stats, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, 2, f.liveCount(t))

	_, err = f.tracker.Lookup(ctx, gone)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIndex_OnCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)

	var calls atomic.Int32
	idx := f.indexer(WithOnCommit(func() { calls.Add(1) }))

	_, err := idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = idx.Index(ctx, f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a run that changed nothing does not fire the hook")
}

func TestIndex_SingleWriter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, state.ModeMtime)
	f.write(t, "calc.go", goFile)

	t.Run("in process", func(t *testing.T) {
		idx := f.indexer()
		require.True(t, idx.lock.TryAcquire())
		defer idx.lock.Release()

		_, err := idx.Index(ctx, f.root, nil)
		assert.ErrorIs(t, err, ErrIndexInProgress)
	})

	t.Run("across processes", func(t *testing.T) {
		held, err := storage.NewIDAllocator(ctx, f.store, f.store.LockPath())
		require.NoError(t, err)
		defer func() { _ = held.Release() }()

		_, err = f.indexer().Index(ctx, f.root, nil)
		assert.ErrorIs(t, err, storage.ErrWriterLocked)
	})
}

func TestIndexLock(t *testing.T) {
	var lock IndexLock
	require.True(t, lock.TryAcquire())
	assert.False(t, lock.TryAcquire())
	lock.Release()
	require.True(t, lock.TryAcquire())
	lock.Release()

	const goroutines = 100
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if lock.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
