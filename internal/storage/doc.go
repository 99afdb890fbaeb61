// Package storage persists the chunk collection in SQLite.
//
// A collection row holds a chunk id, its content, the flat metadata map and
// an embedding vector. The filterable fields (language, type, name,
// filepath) are also kept as columns so Where clauses push down to SQL.
//
// # Database Schema
//
//   - schema_version: applied migrations, compared with semver
//   - chunks: one row per chunk ever added, scoped by collection name
//   - embeddings: float32 little-endian vectors keyed by chunk row
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStore(ctx, "~/.chunkrag/chunkrag.db", emb)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	alloc, err := storage.NewIDAllocator(ctx, store, store.LockPath())
//	if err != nil {
//	    return err // storage.ErrWriterLocked when another indexer runs
//	}
//	defer alloc.Release()
//
//	ids := alloc.Next(len(chunks))
//	err = store.Add(ctx, ids, contents, metadatas)
//
//	res, err := store.Query(ctx, "parse config file", storage.Where{"language": "go"}, 10)
//
// # Superseding
//
// Re-indexing a file does not delete its earlier rows. Replace hides them
// from Get, Query and Stats in the transaction that adds the new rows, and
// Supersede hides the rows of a deleted file. Count still includes hidden
// rows, so ids seeded from Count never collide with an existing row.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite and ranks vectors in Go. Building
// with -tags sqlite_vec (CGO) switches to mattn/go-sqlite3 with the
// sqlite-vec extension and computes vec_distance_cosine in SQL.
package storage
