// Package main is the entry point for the Nalar web service.
//
// main stays minimal: read configuration, build the logger, hand both to
// internal/server and block until a signal arrives. All actual logic lives in
// imported packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/nalar/internal/config"
	"github.com/sakif/nalar/internal/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:           "nalar-server",
		Short:         "Nalar web service: sign-in, editor state and saved workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			logger := config.NewLogger(cfg.Logging)
			slog.SetDefault(logger)

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("server error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file (default $CONFIG_PATH or ./configs/config.yaml)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port, overrides server.port")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The sqlite file's directory is created on first start (like `mkdir -p`).
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path != ":memory:" {
		dir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set; generate one with: openssl rand -hex 32")
	}

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Start(ctx)
}
