package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/chunkrag/internal/chunker"
	"github.com/dshills/chunkrag/internal/config"
	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/internal/metrics"
	"github.com/dshills/chunkrag/internal/state"
	"github.com/dshills/chunkrag/internal/storage"
	"github.com/dshills/chunkrag/pkg/types"
)

const (
	// DefaultBatchSize is the number of chunks committed per store call
	DefaultBatchSize = 100

	// parallelThreshold is the candidate count above which the worker pool
	// is used
	parallelThreshold = 10
)

var (
	// ErrIndexInProgress is returned when a run is already active on this Indexer
	ErrIndexInProgress = errors.New("indexing already in progress")

	// ErrStorageCommit wraps a failed batch commit. It aborts the run.
	ErrStorageCommit = errors.New("storage commit failed")

	// ErrNoChunker is recorded for files whose language has no extraction config
	ErrNoChunker = errors.New("no chunker configured for language")
)

// Options controls a single indexing run
type Options struct {
	Languages []string // only index these languages; empty means all
	BatchSize int      // chunks per commit (default 100)
	Parallel  bool     // use the worker pool for more than 10 files
	Workers   int      // pool size (default NumCPU-1, min 1)
	Force     bool     // ignore staleness and reprocess every file
	Clear     bool     // reset the collection and state before indexing
}

// DefaultOptions returns parallel indexing with default sizes
func DefaultOptions() *Options {
	return &Options{BatchSize: DefaultBatchSize, Parallel: true}
}

// FileError is a per-file failure. The file stays untracked.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// RunStats describes the outcome of a run
type RunStats struct {
	FilesProcessed int
	FilesSkipped   int
	FilesFailed    int
	FilesRemoved   int
	ChunksCreated  int
	ByLanguage     map[string]int // processed files per language
	ChunksByType   map[string]int
	Errors         []FileError
	Duration       time.Duration
	Canceled       bool
}

func newRunStats() *RunStats {
	return &RunStats{
		ByLanguage:   make(map[string]int),
		ChunksByType: make(map[string]int),
	}
}

// Indexer walks a tree, extracts chunks from changed files and commits them
// to the store in batches
type Indexer struct {
	store    storage.Store
	tracker  *state.Tracker
	cfg      config.Config
	lockPath string
	onCommit func()
	logger   *zap.Logger

	lock IndexLock
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		idx.logger = logger.OrNop(l)
	}
}

// WithLockPath sets the cross-process writer lock file. Empty disables it.
func WithLockPath(path string) Option {
	return func(idx *Indexer) {
		idx.lockPath = path
	}
}

// WithOnCommit registers a hook invoked after a run that changed the store
func WithOnCommit(fn func()) Option {
	return func(idx *Indexer) {
		idx.onCommit = fn
	}
}

// New creates an Indexer. A nil tracker disables incremental indexing.
func New(store storage.Store, tracker *state.Tracker, cfg config.Config, opts ...Option) *Indexer {
	idx := &Indexer{
		store:   store,
		tracker: tracker,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Indexer) normalize(opts *Options) *Options {
	o := DefaultOptions()
	if opts != nil {
		*o = *opts
	}
	if o.BatchSize <= 0 {
		o.BatchSize = idx.cfg.Index.BatchSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = idx.cfg.Index.Workers
	}
	if o.Workers <= 0 {
		o.Workers = max(1, runtime.NumCPU()-1)
	}
	langs := make([]string, 0, len(o.Languages))
	for _, l := range o.Languages {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			langs = append(langs, l)
		}
	}
	o.Languages = langs
	return o
}

// Index indexes root, which may be a directory or a single file. On
// cancellation it returns the partial stats together with ctx.Err();
// batches committed before that stay committed.
func (idx *Indexer) Index(ctx context.Context, root string, opts *Options) (*RunStats, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	opts = idx.normalize(opts)
	stats := newRunStats()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("index root: %w", err)
	}

	changed := false
	defer func() {
		if changed && idx.onCommit != nil {
			idx.onCommit()
		}
	}()

	if opts.Clear {
		if err := idx.Clear(ctx); err != nil {
			return nil, err
		}
		changed = true
	}

	alloc, err := storage.NewIDAllocator(ctx, idx.store, idx.lockPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = alloc.Release() }()

	idx.logger.Info("discovering files", zap.String("root", root))
	tasks, err := idx.discover(root, opts.Languages)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	removed, err := idx.pruneDeleted(ctx, root, tasks)
	if err != nil {
		return nil, err
	}
	stats.FilesRemoved = removed
	changed = changed || removed > 0

	todo := idx.filterStale(ctx, tasks, opts.Force, stats)
	idx.logger.Info("files discovered",
		zap.Int("total", len(tasks)),
		zap.Int("to_process", len(todo)),
		zap.Int("skipped", stats.FilesSkipped))

	c := &coordinator{
		idx:       idx,
		alloc:     alloc,
		stats:     stats,
		batchSize: opts.BatchSize,
	}
	runErr := idx.dispatch(ctx, todo, opts, c)
	if runErr == nil && ctx.Err() == nil {
		runErr = c.flush(ctx)
	}
	changed = changed || c.changed

	stats.Duration = time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil && (runErr == nil || errors.Is(runErr, ctxErr)) {
		stats.Canceled = true
		idx.logger.Warn("indexing canceled",
			zap.Int("processed", stats.FilesProcessed),
			zap.Int("chunks", stats.ChunksCreated))
		return stats, ctxErr
	}
	if runErr != nil {
		return stats, runErr
	}

	idx.logger.Info("indexing complete",
		zap.Int("processed", stats.FilesProcessed),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("failed", stats.FilesFailed),
		zap.Int("chunks", stats.ChunksCreated),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// Clear resets the collection and the staleness state
func (idx *Indexer) Clear(ctx context.Context) error {
	if err := idx.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset collection: %w", err)
	}
	if idx.tracker != nil {
		if err := idx.tracker.Clear(ctx); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}
	return nil
}

// task is one file handed to a worker
type task struct {
	Path     string // absolute, used for state and reading
	Rel      string // slash separated, relative to the root, stored on chunks
	Language string
	Mtime    float64
}

// result is a worker's answer for one task
type result struct {
	task   task
	chunks []types.Chunk
	hash   string
	err    error
}

// discover walks root and returns the files to consider, in walk order
func (idx *Indexer) discover(root string, languages []string) ([]task, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	base := root
	if !info.IsDir() {
		base = filepath.Dir(root)
	}

	excluded := make(map[string]bool, len(idx.cfg.Index.ExcludeDirs))
	for _, d := range idx.cfg.Index.ExcludeDirs {
		excluded[d] = true
	}
	wanted := make(map[string]bool, len(languages))
	for _, l := range languages {
		wanted[l] = true
	}

	var tasks []task
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			idx.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && (excluded[d.Name()] || idx.globExcluded(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || idx.globExcluded(rel) {
			return nil
		}

		lang, ok := idx.cfg.LanguageFor(path)
		if !ok || (len(wanted) > 0 && !wanted[lang.Name]) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			idx.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		tasks = append(tasks, task{
			Path:     path,
			Rel:      rel,
			Language: lang.Name,
			Mtime:    state.Mtime(fi),
		})
		return nil
	})
	return tasks, err
}

func (idx *Indexer) globExcluded(rel string) bool {
	for _, pattern := range idx.cfg.Index.ExcludeGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// pruneDeleted hides the chunks of tracked files under root that no longer
// exist and forgets them
func (idx *Indexer) pruneDeleted(ctx context.Context, root string, tasks []task) (int, error) {
	if idx.tracker == nil {
		return 0, nil
	}
	paths, err := idx.tracker.Paths(ctx)
	if err != nil {
		idx.logger.Warn("listing tracked files failed", zap.Error(err))
		return 0, nil
	}

	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		seen[t.Path] = true
	}
	base := root
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		base = filepath.Dir(root)
	}

	removed := 0
	for _, p := range paths {
		if seen[p] || (p != root && !strings.HasPrefix(p, root+string(filepath.Separator))) {
			continue
		}
		if _, err := os.Stat(p); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			continue
		}
		if _, err := idx.store.Supersede(ctx, filepath.ToSlash(rel)); err != nil {
			return removed, fmt.Errorf("%w: %w", ErrStorageCommit, err)
		}
		if err := idx.tracker.Remove(ctx, p); err != nil {
			idx.logger.Warn("forgetting deleted file failed", zap.String("path", p), zap.Error(err))
		}
		removed++
	}
	return removed, nil
}

// filterStale drops files the tracker reports as unchanged
func (idx *Indexer) filterStale(ctx context.Context, tasks []task, force bool, stats *RunStats) []task {
	if force || idx.tracker == nil {
		return tasks
	}
	todo := make([]task, 0, len(tasks))
	for _, t := range tasks {
		path := t.Path
		if idx.tracker.NeedsProcessing(ctx, path, t.Mtime, func() (string, error) { return state.HashFile(path) }) {
			todo = append(todo, t)
			continue
		}
		stats.FilesSkipped++
		metrics.FilesTotal.WithLabelValues("skipped").Inc()
	}
	return todo
}

// dispatch runs the tasks sequentially or on the worker pool and feeds the
// results to the coordinator in completion order
func (idx *Indexer) dispatch(ctx context.Context, tasks []task, opts *Options, c *coordinator) error {
	if !opts.Parallel || len(tasks) <= parallelThreshold {
		idx.logger.Debug("using sequential processing", zap.Int("files", len(tasks)))
		for _, t := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := idx.process(ctx, t)
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.accept(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}

	idx.logger.Debug("starting worker pool", zap.Int("workers", opts.Workers), zap.Int("files", len(tasks)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	semaphore := make(chan struct{}, opts.Workers)
	results := make(chan result, opts.Workers)

	go func() {
		defer close(results)
	produce:
		for _, t := range tasks {
			select {
			case semaphore <- struct{}{}:
			case <-gctx.Done():
				break produce
			}
			g.Go(func() error {
				defer func() { <-semaphore }()
				r := idx.process(gctx, t)
				select {
				case results <- r:
				case <-gctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	// On cancel or a commit failure the run returns without waiting for
	// in-flight workers. They observe gctx, and whatever they still send is
	// discarded.
	defer func() {
		go func() {
			for range results {
			}
		}()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-results:
			if !ok {
				return ctx.Err()
			}
			if err := c.accept(ctx, r); err != nil {
				return err
			}
		}
	}
}

// process reads and chunks one file. It runs on a worker and shares no
// parser state with other workers.
func (idx *Indexer) process(ctx context.Context, t task) result {
	ex := chunker.New(idx.cfg.Languages,
		chunker.WithSizeLimits(idx.cfg.Index.MinChunkSize, idx.cfg.Index.MaxChunkSize),
		chunker.WithLogger(idx.logger))
	if !ex.Supports(t.Language) {
		return result{task: t, err: fmt.Errorf("%w: %s", ErrNoChunker, t.Language)}
	}

	content, err := os.ReadFile(t.Path)
	if err != nil {
		return result{task: t, err: err}
	}

	var hash string
	if idx.tracker != nil && idx.tracker.Mode() == state.ModeHash {
		hash = state.HashBytes(content)
	}

	source := strings.ToValidUTF8(string(content), "")
	chunks := ex.Extract(ctx, source, t.Rel, t.Language)
	return result{task: t, chunks: chunks, hash: hash}
}

// pendingMark is a tracker update waiting for its chunks to be committed
type pendingMark struct {
	path  string
	rel   string
	mtime float64
	hash  string
}

// coordinator owns the batch, the id allocator and the stats. It is only
// used from the dispatching goroutine.
type coordinator struct {
	idx       *Indexer
	alloc     *storage.IDAllocator
	stats     *RunStats
	batchSize int

	batch   []types.Chunk
	marks   []pendingMark
	changed bool
}

// accept records a worker result and flushes when the batch is full. The
// file's previous chunks stay live until the batch holding its new ones
// commits.
func (c *coordinator) accept(ctx context.Context, r result) error {
	log := c.idx.logger
	if r.err != nil {
		c.stats.FilesFailed++
		c.stats.Errors = append(c.stats.Errors, FileError{Path: r.task.Path, Err: r.err})
		metrics.FilesTotal.WithLabelValues("failed").Inc()
		log.Error("failed to process file", zap.String("path", r.task.Path), zap.Error(r.err))
		return nil
	}

	chunks := r.chunks[:0]
	for _, ch := range r.chunks {
		if err := ch.Validate(); err != nil {
			log.Debug("dropping invalid chunk",
				zap.String("path", r.task.Rel),
				zap.String("name", ch.Name),
				zap.Int("line_start", ch.LineStart),
				zap.Error(err))
			continue
		}
		chunks = append(chunks, ch)
	}

	c.batch = append(c.batch, chunks...)
	c.marks = append(c.marks, pendingMark{path: r.task.Path, rel: r.task.Rel, mtime: r.task.Mtime, hash: r.hash})

	c.stats.FilesProcessed++
	c.stats.ByLanguage[r.task.Language]++
	c.stats.ChunksCreated += len(chunks)
	for _, ch := range chunks {
		c.stats.ChunksByType[ch.Type]++
	}
	metrics.FilesTotal.WithLabelValues("processed").Inc()

	if len(c.batch) >= c.batchSize {
		return c.flush(ctx)
	}
	return nil
}

// flush swaps the batch's files over to their new chunks in one store
// transaction and then records the files in the tracker
func (c *coordinator) flush(ctx context.Context) error {
	if len(c.marks) == 0 {
		return nil
	}

	start := time.Now()
	rels := make([]string, len(c.marks))
	for i, m := range c.marks {
		rels[i] = m.rel
	}
	var ids []string
	if len(c.batch) > 0 {
		ids = c.alloc.Next(len(c.batch))
	}
	contents := make([]string, len(c.batch))
	metas := make([]map[string]string, len(c.batch))
	for i := range c.batch {
		contents[i] = c.batch[i].Content
		metas[i] = c.batch[i].FlatMetadata()
	}

	superseded, err := c.idx.store.Replace(ctx, rels, ids, contents, metas)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageCommit, err)
	}
	if superseded > 0 || len(ids) > 0 {
		c.changed = true
	}
	metrics.BatchCommitDuration.Observe(time.Since(start).Seconds())

	byLang := make(map[string]int)
	for _, ch := range c.batch {
		byLang[ch.Language]++
	}
	for lang, n := range byLang {
		metrics.ChunksCommittedTotal.WithLabelValues(lang).Add(float64(n))
	}
	fields := []zap.Field{
		zap.Int("files", len(c.marks)),
		zap.Int("chunks", len(c.batch)),
		zap.Int("superseded", superseded),
		zap.Duration("duration", time.Since(start)),
	}
	if len(ids) > 0 {
		fields = append(fields, zap.String("first_id", ids[0]))
	}
	c.idx.logger.Debug("batch committed", fields...)
	c.batch = c.batch[:0]

	if c.idx.tracker != nil {
		// committed chunks must be recorded even if the run is being canceled
		markCtx := context.WithoutCancel(ctx)
		for _, m := range c.marks {
			if err := c.idx.tracker.MarkProcessed(markCtx, m.path, m.mtime, m.hash); err != nil {
				c.idx.logger.Warn("failed to record file state", zap.String("path", m.path), zap.Error(err))
			}
		}
	}
	c.marks = c.marks[:0]
	return nil
}

// SortedErrors returns the per-file errors ordered by path
func (s *RunStats) SortedErrors() []FileError {
	out := append([]FileError(nil), s.Errors...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
