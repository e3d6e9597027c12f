package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/oarkflow/scanguard"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "scanguard",
		Short:        "Scanner detection and auto-ban gate",
		Long:         "scanguard inspects inbound HTTP requests, tracks probing behaviour per address and bans automated scanners.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (defaults apply when empty)")

	rootCmd.AddCommand(
		newServeCmd(),
		newBanCmd(),
		newUnbanCmd(),
		newListCmd(),
		newLookupCmd(),
		newHashTokenCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*scanguard.Config, error) {
	if configPath == "" {
		cfg := scanguard.DefaultConfig()
		return cfg, scanguard.NewDefaultConfigValidator().Validate(cfg)
	}
	return scanguard.LoadConfig(configPath)
}

// runtime is what every subcommand needs: config, logger and an open store.
type runtime struct {
	cfg     *scanguard.Config
	logger  *slog.Logger
	store   scanguard.BanStore
	closers []io.Closer
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser := scanguard.NewLogger(cfg.Log)
	store, err := scanguard.OpenBanStore(ctx, cfg.Store)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to open ban store: %w", err)
	}
	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		closers: []io.Closer{store, logCloser},
	}, nil
}

func (r *runtime) Close() {
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			r.logger.Warn("close_failed", "error", err)
		}
	}
}
