package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/embedder"
	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/pkg/types"
)

// DefaultCollection is used when no collection name is configured
const DefaultCollection = "chunks"

// SQLiteStore implements Store on a SQLite file
type SQLiteStore struct {
	db         *sql.DB
	path       string
	collection string
	embedder   embedder.Embedder
	logger     *zap.Logger
}

// Option configures a SQLiteStore
type Option func(*SQLiteStore)

// WithCollection sets the collection name rows are scoped to
func WithCollection(name string) Option {
	return func(s *SQLiteStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) {
		s.logger = logger.OrNop(l)
	}
}

// OpenDatabase opens a SQLite database with WAL journaling, a single
// connection and foreign keys enabled.
func OpenDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens (creating if needed) the collection database at
// dbPath. Contents are embedded with emb on Add and queries on Query.
func NewSQLiteStore(ctx context.Context, dbPath string, emb embedder.Embedder, opts ...Option) (*SQLiteStore, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	db, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		path:       dbPath,
		collection: DefaultCollection,
		embedder:   emb,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// LockPath returns the writer lock file guarding this database
func (s *SQLiteStore) LockPath() string {
	return s.path + ".lock"
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a transaction, committing on success
func (s *SQLiteStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// live selects the non-superseded rows of this collection
func (s *SQLiteStore) live() sq.Eq {
	return sq.Eq{"c.collection": s.collection, "c.superseded": 0}
}

// Add embeds contents in one batch and inserts chunks and vectors in a
// single transaction. A duplicate id fails the whole call.
func (s *SQLiteStore) Add(ctx context.Context, ids, contents []string, metadatas []map[string]string) error {
	_, err := s.Replace(ctx, nil, ids, contents, metadatas)
	return err
}

// Replace supersedes the live chunks of filepaths and inserts the new chunks
// in one transaction, so a failed insert leaves the old chunks live. It
// returns how many chunks were superseded.
func (s *SQLiteStore) Replace(ctx context.Context, filepaths, ids, contents []string, metadatas []map[string]string) (int, error) {
	if len(ids) != len(contents) || len(ids) != len(metadatas) {
		return 0, fmt.Errorf("%w: %d ids, %d contents, %d metadatas",
			ErrLengthMismatch, len(ids), len(contents), len(metadatas))
	}
	if len(ids) == 0 && len(filepaths) == 0 {
		return 0, nil
	}

	var embeddings []*embedder.Embedding
	if len(ids) > 0 {
		resp, err := s.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: contents})
		if err != nil {
			return 0, fmt.Errorf("embed batch: %w", err)
		}
		if len(resp.Embeddings) != len(ids) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d contents", len(resp.Embeddings), len(ids))
		}
		embeddings = resp.Embeddings
	}

	var superseded int
	now := time.Now()
	err := s.withTx(ctx, func(q querier) error {
		for _, fp := range filepaths {
			n, err := s.supersede(ctx, q, fp)
			if err != nil {
				return err
			}
			superseded += n
		}
		for i, id := range ids {
			if err := s.insertChunk(ctx, q, id, contents[i], metadatas[i], embeddings[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return superseded, nil
}

func (s *SQLiteStore) insertChunk(ctx context.Context, q querier, id, content string, metadata map[string]string, emb *embedder.Embedding, now time.Time) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", id, err)
	}

	query, args, err := sq.Insert("chunks").
		Columns("collection", "id", "content", "type", "name", "filepath", "language", "metadata", "created_at").
		Values(s.collection, id, content,
			metadata[types.MetaType], metadata[types.MetaName],
			metadata[types.MetaFilepath], metadata[types.MetaLanguage],
			string(meta), now).
		ToSql()
	if err != nil {
		return fmt.Errorf("build chunk insert: %w", err)
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", id, err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return err
	}

	query, args, err = sq.Insert("embeddings").
		Columns("chunk_seq", "vector", "dimension", "provider", "model").
		Values(seq, serializeVector(emb.Vector), len(emb.Vector), emb.Provider, emb.Model).
		ToSql()
	if err != nil {
		return fmt.Errorf("build embedding insert: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert embedding %s: %w", id, err)
	}
	return nil
}

// Get returns live chunks matching the request in insertion order
func (s *SQLiteStore) Get(ctx context.Context, req GetRequest) (*GetResult, error) {
	where, err := req.Where.sqlizer()
	if err != nil {
		return nil, err
	}

	qb := sq.Select("c.id", "c.content", "c.metadata").
		From("chunks c").
		Where(s.live()).
		Where(where).
		OrderBy("c.seq")
	if req.IDs != nil {
		qb = qb.Where(sq.Eq{"c.id": req.IDs})
	}
	if req.Limit > 0 {
		qb = qb.Limit(uint64(req.Limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := &GetResult{}
	for rows.Next() {
		var id, content, meta string
		if err := rows.Scan(&id, &content, &meta); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		m, err := decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
		result.IDs = append(result.IDs, id)
		result.Contents = append(result.Contents, content)
		result.Metadatas = append(result.Metadatas, m)
	}
	return result, rows.Err()
}

// Query embeds text and returns the n nearest live chunks
func (s *SQLiteStore) Query(ctx context.Context, text string, where Where, n int) (*QueryResult, error) {
	filter, err := where.sqlizer()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return &QueryResult{}, nil
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return searchVector(ctx, s.db, sq.And{s.live(), filter}, emb.Vector, n)
}

// Count returns every row inserted since the last Reset
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE collection = ?", s.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Reset deletes the collection's chunks and their vectors
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ?", s.collection); err != nil {
		return fmt.Errorf("reset collection: %w", err)
	}
	s.logger.Info("collection reset", zap.String("collection", s.collection))
	return nil
}

// Supersede marks a file's live chunks as replaced and drops their vectors
func (s *SQLiteStore) Supersede(ctx context.Context, filepath string) (int, error) {
	var n int
	err := s.withTx(ctx, func(q querier) error {
		var err error
		n, err = s.supersede(ctx, q, filepath)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) supersede(ctx context.Context, q querier, filepath string) (int, error) {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM embeddings WHERE chunk_seq IN (
			SELECT seq FROM chunks
			WHERE collection = ? AND filepath = ? AND superseded = 0
		)`, s.collection, filepath); err != nil {
		return 0, fmt.Errorf("drop superseded vectors: %w", err)
	}

	query, args, err := sq.Update("chunks").
		Set("superseded", 1).
		Where(sq.Eq{"collection": s.collection, "filepath": filepath, "superseded": 0}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build supersede: %w", err)
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("supersede %s: %w", filepath, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Stats summarises the live chunks of the collection
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Collection: s.collection,
		ByLanguage: make(map[string]int),
		ByType:     make(map[string]int),
		Provider:   s.embedder.Provider(),
		Model:      s.embedder.Model(),
		Dimension:  s.embedder.Dimension(),
		BuildMode:  BuildMode,
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN superseded = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(superseded), 0),
			COUNT(DISTINCT CASE WHEN superseded = 0 THEN filepath END)
		FROM chunks WHERE collection = ?`, s.collection).
		Scan(&stats.Total, &stats.Superseded, &stats.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk totals: %w", err)
	}

	if err := s.countBy(ctx, "language", stats.ByLanguage); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "type", stats.ByType); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	query, args, err := sq.Select("c."+column, "COUNT(*)").
		From("chunks c").
		Where(s.live()).
		GroupBy("c." + column).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s breakdown: %w", column, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to get %s breakdown: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func decodeMetadata(raw string) (map[string]string, error) {
	m := make(map[string]string)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
