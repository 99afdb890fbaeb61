// Package app wires the store, the staleness tracker, the lexical index, the
// searcher and the indexer into one handle shared by the CLI and the MCP
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/config"
	"github.com/dshills/chunkrag/internal/embedder"
	"github.com/dshills/chunkrag/internal/indexer"
	"github.com/dshills/chunkrag/internal/lexical"
	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/internal/searcher"
	"github.com/dshills/chunkrag/internal/state"
	"github.com/dshills/chunkrag/internal/storage"
	"github.com/dshills/chunkrag/pkg/types"
)

// App owns every long lived component
type App struct {
	cfg      config.Config
	embedder embedder.Embedder
	store    *storage.SQLiteStore
	tracker  *state.Tracker
	lexical  *lexical.Index
	searcher *searcher.Searcher
	indexer  *indexer.Indexer
	logger   *zap.Logger
}

// IndexOptions controls App.Index
type IndexOptions struct {
	indexer.Options

	// SkipRebuild leaves the lexical index stale after the run
	SkipRebuild bool
}

// Open creates the data directories and opens every component. The lexical
// index is built from the store before Open returns.
func Open(ctx context.Context, cfg config.Config, l *zap.Logger) (*App, error) {
	l = logger.OrNop(l)

	for _, p := range []string{cfg.DBPath, cfg.StatePath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := storage.NewSQLiteStore(ctx, cfg.DBPath, emb,
		storage.WithCollection(cfg.CollectionName),
		storage.WithLogger(l.Named("storage")))
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	tracker, err := state.Open(ctx, cfg.StatePath,
		state.WithMode(state.Mode(cfg.Index.StateMode)),
		state.WithLogger(l.Named("state")))
	if err != nil {
		_ = store.Close()
		_ = emb.Close()
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	a := &App{
		cfg:      cfg,
		embedder: emb,
		store:    store,
		tracker:  tracker,
		lexical:  lexical.NewIndex(l.Named("lexical")),
		logger:   l,
	}
	a.searcher = searcher.New(store, a.lexical,
		searcher.WithRRFConstant(cfg.Search.RRFConstant),
		searcher.WithDenseOnlyWhenStale(cfg.Search.DenseOnlyWhenStale),
		searcher.WithCache(cfg.Search.CacheSize, cfg.Search.CacheTTL),
		searcher.WithLogger(l.Named("searcher")))
	a.indexer = indexer.New(store, tracker, cfg,
		indexer.WithLockPath(store.LockPath()),
		indexer.WithOnCommit(a.searcher.MarkStale),
		indexer.WithLogger(l.Named("indexer")))

	if err := a.searcher.RebuildLexical(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	l.Debug("app opened",
		zap.String("db", cfg.DBPath),
		zap.String("state", cfg.StatePath),
		zap.String("collection", cfg.CollectionName),
		zap.Int("lexical_documents", a.lexical.Len()))
	return a, nil
}

// Config returns the configuration the app was opened with
func (a *App) Config() config.Config {
	return a.cfg
}

// Store exposes the underlying collection
func (a *App) Store() *storage.SQLiteStore {
	return a.store
}

// Index runs the indexer over root and rebuilds the lexical index when the
// store changed, unless opts.SkipRebuild is set. A nil opts uses the
// configured defaults with the worker pool enabled.
func (a *App) Index(ctx context.Context, root string, opts *IndexOptions) (*indexer.RunStats, error) {
	if opts == nil {
		opts = &IndexOptions{Options: *indexer.DefaultOptions()}
	}
	o := opts.Options

	stats, err := a.indexer.Index(ctx, root, &o)
	if err != nil {
		return stats, err
	}

	if !opts.SkipRebuild && a.lexical.Stale() {
		if err := a.searcher.RebuildLexical(ctx); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Search runs a retrieval request
func (a *App) Search(ctx context.Context, req searcher.Request) (*searcher.Response, error) {
	return a.searcher.Search(ctx, req)
}

// Symbol looks chunks up by exact name
func (a *App) Symbol(ctx context.Context, req searcher.SymbolRequest) ([]types.ScoredChunk, error) {
	return a.searcher.Symbol(ctx, req)
}

// Stats summarises the collection and the lexical index
func (a *App) Stats(ctx context.Context) (*searcher.Stats, error) {
	return a.searcher.Stats(ctx)
}

// Clear resets the collection and the staleness state. The lexical index is
// rebuilt empty.
func (a *App) Clear(ctx context.Context) error {
	if err := a.indexer.Clear(ctx); err != nil {
		return err
	}
	a.searcher.MarkStale()
	return a.searcher.RebuildLexical(ctx)
}

// Close releases the tracker, the store and the embedder
func (a *App) Close() error {
	var errs []error
	if a.tracker != nil {
		errs = append(errs, a.tracker.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
