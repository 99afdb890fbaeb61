// Package indexer runs the incremental indexing pipeline: discover files,
// skip the ones the state tracker reports unchanged, extract chunks, and
// commit them to the collection store in batches.
//
// # Basic Usage
//
//	idx := indexer.New(store, tracker, cfg, indexer.WithLockPath(store.LockPath()))
//
//	stats, err := idx.Index(ctx, "/path/to/repo", &indexer.Options{
//	    Parallel:  true,
//	    BatchSize: 100,
//	})
//
//	fmt.Printf("%d files, %d chunks in %v\n",
//	    stats.FilesProcessed, stats.ChunksCreated, stats.Duration)
//
// # Pipeline
//
//  1. Discovery walks the root, pruning excluded directory names and
//     exclude globs, and maps files to languages by name or extension.
//  2. The state tracker drops files whose mtime (or content hash) did not
//     change since they were last indexed, unless Force is set.
//  3. Files are chunked sequentially, or on a worker pool when Parallel is
//     set and there are more than 10 of them. Each worker builds its own
//     extractor.
//  4. A single coordinator supersedes the earlier chunks of each file,
//     batches new chunks, allocates ids and commits. Files are recorded in
//     the tracker only after their chunks are committed.
//
// # Errors
//
// A file that cannot be read or chunked is recorded in RunStats.Errors and
// left untracked so the next run retries it. A failed commit aborts the run
// with ErrStorageCommit. Cancelling the context stops dispatch and returns
// the partial RunStats with ctx.Err().
//
// # Concurrency
//
// One run at a time per Indexer (ErrIndexInProgress). Across processes the
// id allocator's file lock rejects a second writer with
// storage.ErrWriterLocked.
package indexer
