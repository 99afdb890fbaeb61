package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/chunkrag/internal/app"
	"github.com/dshills/chunkrag/internal/config"
	"github.com/dshills/chunkrag/internal/indexer"
)

func newIndexCmd() *cobra.Command {
	var (
		languages  []string
		batchSize  int
		workers    int
		noParallel bool
		force      bool
		clearFirst bool
		hash       bool
		noRebuild  bool
	)

	cmd := &cobra.Command{
		Use:   "index <root>",
		Short: "Index a directory or file, processing only changed files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd.Context())
			if hash {
				cfg.Index.StateMode = config.StateModeHash
			}
			if batchSize <= 0 {
				batchSize = cfg.Index.BatchSize
			}

			opts := &app.IndexOptions{
				Options: indexer.Options{
					Languages: languages,
					BatchSize: batchSize,
					Parallel:  !noParallel,
					Workers:   workers,
					Force:     force,
					Clear:     clearFirst,
				},
				SkipRebuild: noRebuild,
			}

			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Indexing %s...\n", args[0])

				stats, err := a.Index(ctx, args[0], opts)
				if stats != nil {
					printRunStats(out, stats)
				}
				return err
			})
		},
	}

	cmd.Flags().StringSliceVar(&languages, "lang", nil, "only index these languages (repeatable or comma separated)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "chunks per commit (default from config, 100)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default NumCPU-1)")
	cmd.Flags().BoolVar(&noParallel, "no-parallel", false, "process files sequentially")
	cmd.Flags().BoolVar(&force, "force", false, "reprocess every file regardless of state")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "reset the collection and file state first")
	cmd.Flags().BoolVar(&hash, "hash", false, "detect changes by content hash instead of mtime")
	cmd.Flags().BoolVar(&noRebuild, "no-rebuild", false, "leave the lexical index stale after the run")
	return cmd
}

func printRunStats(w io.Writer, s *indexer.RunStats) {
	status := "Done"
	if s.Canceled {
		status = "Canceled"
	}
	fmt.Fprintf(w, "\n%s in %s\n", status, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Files:   %d processed, %d skipped, %d failed, %d removed\n",
		s.FilesProcessed, s.FilesSkipped, s.FilesFailed, s.FilesRemoved)
	fmt.Fprintf(w, "  Chunks:  %d\n", s.ChunksCreated)

	printCounts(w, "  By language:", s.ByLanguage)
	printCounts(w, "  By type:", s.ChunksByType)

	for _, fe := range s.SortedErrors() {
		fmt.Fprintf(w, "  error: %s\n", fe.Error())
	}
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, title)
	for _, k := range keys {
		fmt.Fprintf(w, "    %-12s %d\n", k, counts[k])
	}
}
