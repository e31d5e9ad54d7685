// Package main is the entry point for the Nalar runner: the backend that runs
// student code in a sandbox and asks an AI model to explain errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/nalar/internal/config"
	"github.com/sakif/nalar/internal/executor"
	"github.com/sakif/nalar/internal/executor/docker"
	"github.com/sakif/nalar/internal/executor/local"
	"github.com/sakif/nalar/internal/explainer"
	"github.com/sakif/nalar/internal/explainer/gemini"
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
		execName   string
	)

	cmd := &cobra.Command{
		Use:           "nalar-runner",
		Short:         "Runs Python in a sandbox (POST /run) and explains errors (POST /explain)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Runner.Port = port
			}
			if cmd.Flags().Changed("executor") {
				cfg.Runner.Executor = execName
			}

			logger := config.NewLogger(cfg.Logging)
			slog.SetDefault(logger)

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("runner error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file (default $CONFIG_PATH or ./configs/config.yaml)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port, overrides runner.port")
	cmd.Flags().StringVar(&execName, "executor", "", `"docker" or "local", overrides runner.executor`)
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec, closeExec, err := newExecutor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeExec()

	var explain explainer.Explainer = explainer.Unconfigured{}
	gem, err := gemini.New(ctx, cfg.Runner.Gemini, logger)
	switch {
	case errors.Is(err, explainer.ErrNotConfigured):
		logger.Warn("GEMINI_API_KEY not set; /explain will answer 503")
	case err != nil:
		return fmt.Errorf("creating explainer: %w", err)
	default:
		defer gem.Close()
		explain = gem
	}

	return server.NewRunner(cfg, exec, explain, logger).Start(ctx)
}

func newExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (executor.Executor, func(), error) {
	switch cfg.Runner.Executor {
	case "local":
		logger.Warn("local executor runs code without a sandbox; use it for development only")
		e, err := local.New(cfg.Runner.Python, cfg.Runner.Docker.Timeout, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating local executor: %w", err)
		}
		return e, func() {}, nil
	case "docker":
		e, err := docker.New(ctx, cfg.Runner.Docker, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating docker executor: %w", err)
		}
		return e, func() {
			if err := e.Close(); err != nil {
				logger.Warn("closing docker executor", slog.String("error", err.Error()))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor %q", cfg.Runner.Executor)
	}
}
