// Package state records which files have been indexed and when, so an
// indexing run can skip files that have not changed since.
package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/internal/storage"
)

// Mode selects how a changed file is detected
type Mode string

const (
	// ModeMtime processes a file when its modification time is newer than
	// the recorded one
	ModeMtime Mode = "mtime"

	// ModeHash processes a file when its content hash differs from the
	// recorded one
	ModeHash Mode = "hash"
)

var migrations = []storage.Migration{
	{
		Version: "1.0.0",
		Up: `
CREATE TABLE IF NOT EXISTS file_state (
    filepath TEXT PRIMARY KEY,
    mtime REAL NOT NULL,
    last_indexed TIMESTAMP NOT NULL,
    content_hash TEXT NOT NULL DEFAULT ''
);
`,
	},
}

// Entry is the recorded state of one file
type Entry struct {
	Path        string
	Mtime       float64
	LastIndexed time.Time
	ContentHash string
}

// HashFunc computes the current content hash of a file on demand
type HashFunc func() (string, error)

// Tracker persists per-file indexing state in its own SQLite file
type Tracker struct {
	db     *sql.DB
	mode   Mode
	logger *zap.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithMode sets the change detection mode
func WithMode(m Mode) Option {
	return func(t *Tracker) {
		if m != "" {
			t.mode = m
		}
	}
}

// WithLogger sets the tracker logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger.OrNop(l)
	}
}

// Open opens or creates the state database at path
func Open(ctx context.Context, path string, opts ...Option) (*Tracker, error) {
	db, err := storage.OpenDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := storage.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate state database: %w", err)
	}

	t := &Tracker{db: db, mode: ModeMtime, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	if t.mode != ModeMtime && t.mode != ModeHash {
		_ = db.Close()
		return nil, fmt.Errorf("unknown state mode %q", t.mode)
	}
	return t, nil
}

// Mode returns the change detection mode
func (t *Tracker) Mode() Mode {
	return t.mode
}

// NeedsProcessing reports whether path must be (re)indexed. Untracked files
// always need processing. A failed lookup also answers true so an unreadable
// state never hides a file from the index.
func (t *Tracker) NeedsProcessing(ctx context.Context, path string, mtime float64, hash HashFunc) bool {
	entry, err := t.Lookup(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return true
	}
	if err != nil {
		t.logger.Warn("state lookup failed, reprocessing file",
			zap.String("path", path), zap.Error(err))
		return true
	}

	if t.mode == ModeHash {
		if hash == nil || entry.ContentHash == "" {
			return true
		}
		current, err := hash()
		if err != nil {
			t.logger.Warn("hashing failed, reprocessing file",
				zap.String("path", path), zap.Error(err))
			return true
		}
		return current != entry.ContentHash
	}

	return mtime > entry.Mtime
}

// MarkProcessed records a successful indexing of path
func (t *Tracker) MarkProcessed(ctx context.Context, path string, mtime float64, hash string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO file_state (filepath, mtime, last_indexed, content_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			mtime = excluded.mtime,
			last_indexed = excluded.last_indexed,
			content_hash = excluded.content_hash`,
		path, mtime, time.Now().UTC(), hash)
	if err != nil {
		return fmt.Errorf("mark %s processed: %w", path, err)
	}
	return nil
}

// Lookup returns the recorded state of path, or storage.ErrNotFound
func (t *Tracker) Lookup(ctx context.Context, path string) (Entry, error) {
	query, args, err := sq.Select("filepath", "mtime", "last_indexed", "content_hash").
		From("file_state").
		Where(sq.Eq{"filepath": path}).
		ToSql()
	if err != nil {
		return Entry{}, err
	}

	var e Entry
	err = t.db.QueryRowContext(ctx, query, args...).Scan(&e.Path, &e.Mtime, &e.LastIndexed, &e.ContentHash)
	if err == sql.ErrNoRows {
		return Entry{}, storage.ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup %s: %w", path, err)
	}
	return e, nil
}

// Remove forgets path
func (t *Tracker) Remove(ctx context.Context, path string) error {
	if _, err := t.db.ExecContext(ctx, "DELETE FROM file_state WHERE filepath = ?", path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Paths lists every tracked path in lexical order
func (t *Tracker) Paths(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT filepath FROM file_state ORDER BY filepath")
	if err != nil {
		return nil, fmt.Errorf("list tracked paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Clear forgets every file
func (t *Tracker) Clear(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, "DELETE FROM file_state"); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// Close closes the state database
func (t *Tracker) Close() error {
	return t.db.Close()
}

// Mtime converts a modification time to the fractional seconds stored by
// the tracker
func Mtime(info fs.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}

// HashBytes returns the hex SHA-256 of content
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex SHA-256 of the file at path
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
