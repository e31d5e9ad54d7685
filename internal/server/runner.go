package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/nalar/internal/config"
	"github.com/sakif/nalar/internal/executor"
	"github.com/sakif/nalar/internal/explainer"
	"github.com/sakif/nalar/internal/handler"
	"github.com/sakif/nalar/internal/middleware"
)

// Runner is the execution and explanation backend the web service's bridge
// talks to.
type Runner struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
}

// NewRunner mounts the runner routes on exec and explain. The caller owns
// both and closes them after Start returns.
func NewRunner(cfg *config.Config, exec executor.Executor, explain explainer.Explainer, logger *slog.Logger) *Runner {
	r := &Runner{router: chi.NewRouter(), cfg: cfg, logger: logger}
	h := handler.NewExecuteHandler(exec, explain, logger)

	r.router.Use(chimiddleware.RequestID)
	r.router.Use(middleware.Logger(logger))
	r.router.Use(chimiddleware.Recoverer)
	// Any origin may call the runner, as a browser-hosted editor would.
	r.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.router.Get("/", h.HandleStatus)
	r.router.Post("/run", h.HandleRun)
	r.router.Post("/explain", h.HandleExplain)
	return r
}

// Handler exposes the router, e.g. for httptest.
func (r *Runner) Handler() http.Handler {
	return r.router
}

// Start serves until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	// A run is bounded by the sandbox timeout; explanations wait on the model.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", r.cfg.Runner.Port),
		Handler:      r.router,
		ReadTimeout:  r.cfg.Server.ReadTimeout,
		WriteTimeout: r.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	r.logger.Info("runner starting",
		slog.Int("port", r.cfg.Runner.Port),
		slog.String("executor", r.cfg.Runner.Executor),
	)
	return serve(ctx, srv, r.cfg.Server.ShutdownTimeout, r.logger)
}
