package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/chunkrag/internal/app"
	"github.com/dshills/chunkrag/internal/searcher"
	"github.com/dshills/chunkrag/pkg/types"
)

const previewLines = 6

func newSearchCmd() *cobra.Command {
	var (
		language string
		chunkTyp string
		topK     int
		mode     string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed chunks with hybrid, dense or lexical retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := searcher.ParseMode(mode)
			if err != nil {
				return err
			}
			req := searcher.Request{
				Query:    strings.Join(args, " "),
				TopK:     topK,
				Language: language,
				Type:     chunkTyp,
				Mode:     m,
			}

			return withApp(cmd, configFrom(cmd.Context()), func(ctx context.Context, a *app.App) error {
				resp, err := a.Search(ctx, req)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, resp)
				}

				fmt.Fprintf(out, "%d results (%s", len(resp.Results), resp.Mode)
				if resp.Degraded != "" {
					fmt.Fprintf(out, ", %s unavailable", resp.Degraded)
				}
				if resp.LexicalStale {
					fmt.Fprint(out, ", lexical index stale")
				}
				fmt.Fprintln(out, ")")
				printResults(out, resp.Results)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&language, "lang", "", "only return chunks of this language")
	cmd.Flags().StringVar(&chunkTyp, "type", "", "only return chunks of this type")
	cmd.Flags().IntVarP(&topK, "top-k", "n", searcher.DefaultTopK, "number of results")
	cmd.Flags().StringVar(&mode, "mode", string(searcher.ModeHybrid), "retrieval mode: hybrid, dense, lexical")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newSymbolCmd() *cobra.Command {
	var (
		language string
		chunkTyp string
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "symbol <name>",
		Short: "Look chunks up by exact name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := searcher.SymbolRequest{
				Name:     args[0],
				Type:     chunkTyp,
				Language: language,
				Limit:    limit,
			}

			return withApp(cmd, configFrom(cmd.Context()), func(ctx context.Context, a *app.App) error {
				results, err := a.Symbol(ctx, req)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, results)
				}
				fmt.Fprintf(out, "%d matches for %q\n", len(results), req.Name)
				printResults(out, results)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&language, "lang", "", "only return chunks of this language")
	cmd.Flags().StringVar(&chunkTyp, "type", "", "only return chunks of this type")
	cmd.Flags().IntVarP(&limit, "limit", "n", searcher.DefaultTopK, "maximum number of matches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matches as JSON")
	return cmd
}

func printResults(w io.Writer, results []types.ScoredChunk) {
	for _, r := range results {
		c := r.Chunk
		fmt.Fprintf(w, "\n[%d] %s %s  %s:%d-%d", r.Rank, c.Type, c.Name, c.Filepath, c.LineStart, c.LineEnd)
		if r.Score != 0 {
			fmt.Fprintf(w, "  score=%.4f", r.Score)
		}
		if len(r.Sources) > 0 {
			fmt.Fprintf(w, "  [%s]", strings.Join(r.Sources, ","))
		}
		fmt.Fprintln(w)

		lines := strings.Split(strings.TrimRight(c.Content, "\n"), "\n")
		for i, line := range lines {
			if i == previewLines {
				fmt.Fprintf(w, "    ... (%d more lines)\n", len(lines)-previewLines)
				break
			}
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
