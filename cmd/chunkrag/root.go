package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/app"
	"github.com/dshills/chunkrag/internal/config"
	"github.com/dshills/chunkrag/internal/logger"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	env        string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "chunkrag",
		Short:         "Incremental code chunk indexing with hybrid retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			l, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
			if err != nil {
				return err
			}
			ctx := logger.ContextWithLogger(cmd.Context(), l)
			ctx = context.WithValue(ctx, configKey{}, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "collection database path (default ~/.chunkrag/chunkrag.db)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.env, "env", "", "log format: prod (JSON), local or dev (console)")

	root.AddCommand(
		newIndexCmd(),
		newSearchCmd(),
		newSymbolCmd(),
		newStatsCmd(),
		newClearCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the config file and applies flag overrides
func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if g.dbPath != "" {
		derived := filepath.Join(filepath.Dir(cfg.DBPath), "state.db")
		if cfg.StatePath == derived {
			cfg.StatePath = filepath.Join(filepath.Dir(g.dbPath), "state.db")
		}
		cfg.DBPath = g.dbPath
	}
	if g.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(g.logLevel)
	}
	if g.env != "" {
		cfg.Logging.Env = strings.ToLower(g.env)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

type configKey struct{}

func configFrom(ctx context.Context) config.Config {
	if cfg, ok := ctx.Value(configKey{}).(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// withApp opens the app for the duration of fn
func withApp(cmd *cobra.Command, cfg config.Config, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	l := logger.FromContext(ctx)
	defer func() { _ = l.Sync() }()

	a, err := app.Open(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Warn("close failed", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}
