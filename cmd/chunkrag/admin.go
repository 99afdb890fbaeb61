package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/app"
	"github.com/dshills/chunkrag/internal/logger"
	"github.com/dshills/chunkrag/internal/mcp"
	"github.com/dshills/chunkrag/internal/metrics"
	"github.com/dshills/chunkrag/internal/storage"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show collection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, configFrom(cmd.Context()), func(ctx context.Context, a *app.App) error {
				st, err := a.Stats(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, st)
				}
				fmt.Fprintf(out, "Collection: %s (%s)\n", st.Collection, a.Config().DBPath)
				fmt.Fprintf(out, "Chunks:     %d live, %d superseded\n", st.Total, st.Superseded)
				fmt.Fprintf(out, "Files:      %d\n", st.Files)
				fmt.Fprintf(out, "Embedding:  %s/%s (%d dims)\n", st.Provider, st.Model, st.Dimension)
				fmt.Fprintf(out, "Lexical:    %d documents", st.LexicalDocuments)
				if st.LexicalStale {
					fmt.Fprint(out, " (stale)")
				}
				fmt.Fprintln(out)
				printCounts(out, "By language:", st.ByLanguage)
				printCounts(out, "By type:", st.ByType)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every chunk and forget every file state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, configFrom(cmd.Context()), func(ctx context.Context, a *app.App) error {
				if err := a.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Collection cleared")
				return nil
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := logger.FromContext(cmd.Context())
			l.Info("chunkrag starting",
				zap.String("version", version),
				zap.String("build_mode", storage.BuildMode),
				zap.String("driver", storage.DriverName),
				zap.Bool("vector_extension", storage.VectorExtensionAvailable))

			return withApp(cmd, configFrom(cmd.Context()), func(ctx context.Context, a *app.App) error {
				if metricsAddr != "" {
					stop := serveMetrics(metricsAddr, l)
					defer stop()
				}

				err := mcp.NewServer(a, l.Named("mcp")).Serve(ctx)
				if errors.Is(err, context.Canceled) {
					l.Info("server stopped")
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address (e.g. :9090)")
	return cmd
}

// serveMetrics exposes the default registry and returns a shutdown func
func serveMetrics(addr string, l *zap.Logger) func() {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		l.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chunkrag\n")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Go: %s\n", runtime.Version())
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}
