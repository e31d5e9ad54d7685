// Package server is the composition root of both binaries: it builds the
// dependency graph from config, mounts the routes and runs the HTTP server
// until its context is cancelled.
//
// DEPENDENCY INJECTION FLOW (web service):
//
//	config → Store (sqlite | postgres), Denylist (redis | memory)
//	       → AuthService, WorkspaceService, bridge.Client
//	       → Guard, Registry
//	       → AuthHandler, WorkspaceHandler → routes
//
// Each layer only receives what it needs. Handlers never touch the store, and
// services never touch HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/nalar/internal/auth"
	"github.com/sakif/nalar/internal/bridge"
	"github.com/sakif/nalar/internal/config"
	"github.com/sakif/nalar/internal/handler"
	"github.com/sakif/nalar/internal/middleware"
	"github.com/sakif/nalar/internal/repository"
	"github.com/sakif/nalar/internal/repository/postgres"
	redisrepo "github.com/sakif/nalar/internal/repository/redis"
	sqliterepo "github.com/sakif/nalar/internal/repository/sqlite"
	"github.com/sakif/nalar/internal/service"
	"github.com/sakif/nalar/internal/workspace"
)

// Server is the web service.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and, when configured, the Redis client. Start
// closes them after the HTTP server has drained.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	logger   *slog.Logger
	store    repository.Store
	registry *workspace.Registry
	closers  []io.Closer
}

// New opens the store and every other dependency and mounts the routes.
// Anything opened before a failure is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Server, err error) {
	s := &Server{router: chi.NewRouter(), cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.store, err = openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.store)

	denylist, err := s.openDenylist(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	authService := service.NewAuthService(service.AuthDeps{
		Users:     s.store,
		Codes:     s.store,
		Tokens:    tokens,
		Passwords: auth.NewPasswordService(cfg.Auth.BcryptCost),
		Providers: oauthProviders(cfg),
		Denylist:  denylist,
		Mailer:    auth.LogMailer{Logger: logger},
		Logger:    logger,
	}, service.AuthOptions{
		ConfirmEmail: cfg.Auth.ConfirmEmail,
		CodeTTL:      cfg.Auth.CodeTTL,
	})
	workspaceService := service.NewWorkspaceService(s.store, logger)
	backend := bridge.New(cfg.Bridge.BaseURL, cfg.Bridge.Timeout)

	s.registry = workspace.NewRegistry(workspace.Deps{
		Runner:    backend,
		Explainer: backend,
		Store:     workspaceService,
		Auth:      authService,
		Logger:    logger,
	}, cfg.Workspace.IdleTTL, logger)
	guard := workspace.NewGuard(authService, workspaceService, logger)

	s.routes(
		handler.NewAuthHandler(authService, s.registry, cfg.CallbackURL(), cfg.Server.SecureCookies, logger),
		handler.NewWorkspaceHandler(guard, s.registry, workspaceService, cfg.Server.SecureCookies, logger),
		auth.NewAuthenticator(tokens, denylist, logger),
	)

	logger.Info("web service configured",
		slog.String("database", cfg.Database.Driver),
		slog.Bool("redis", cfg.Redis.Addr != ""),
		slog.Any("providers", authService.ProviderNames()),
		slog.String("backend", cfg.Bridge.BaseURL),
	)
	return s, nil
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// routes mounts every endpoint.
//
// ROUTE STRUCTURE:
// GET    /                          → Session Guard: editor bootstrap or 303 /login
// GET    /login                     → OAuth providers for the login page
// GET    /healthz                   → store ping
// POST   /auth/signin               → email/password sign-in
// POST   /auth/signup               → registration
// GET    /auth/{provider}/login     → start OAuth
// GET    /auth/{provider}/callback  → provider leg of OAuth
// GET    /auth/callback             → exchange one-time code, redirect to /
// POST   /auth/signout              → revoke session
// /api/*                            → editor API, RequireAuth
//
// MIDDLEWARE ORDER MATTERS:
// RequestID first so the logger can print it, Recoverer last so it sees the
// logger's wrapped writer.
func (s *Server) routes(authH *handler.AuthHandler, wsH *handler.WorkspaceHandler, authn *auth.Authenticator) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/", wsH.HandleEditor)
	s.router.Get("/login", authH.HandleLoginPage)
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signin", authH.HandleSignIn)
		r.Post("/signup", authH.HandleSignUp)
		r.Get("/callback", authH.HandleAuthCallback)
		r.Get("/{provider}/login", authH.HandleOAuthLogin)
		r.Get("/{provider}/callback", authH.HandleOAuthCallback)
		r.With(authn.OptionalAuth).Post("/signout", authH.HandleSignOut)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(authn.RequireAuth)
		r.Get("/me", authH.HandleMe)
		r.Get("/workspaces", wsH.HandleList)

		r.Route("/workspace", func(r chi.Router) {
			r.Get("/", wsH.HandleState)
			r.Post("/run", wsH.HandleRun)
			r.Post("/explain", wsH.HandleExplain)
			r.Post("/save", wsH.HandleSave)
			r.Post("/new", wsH.HandleNew)
			r.Post("/load/{id}", wsH.HandleLoad)
			r.Put("/code", wsH.HandleCode)
			r.Post("/sidebar", wsH.HandleSidebar)
			r.Post("/logout", wsH.HandleLogout)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// Start serves until ctx is cancelled, then drains in-flight requests and
// closes the store. The registry janitor runs alongside the listener.
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("server starting",
		slog.Int("port", s.cfg.Server.Port),
		slog.String("url", s.cfg.Server.PublicURL),
	)
	return serve(ctx, srv, s.cfg.Server.ShutdownTimeout, s.logger, s.registry.Run)
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.New(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("server: opening postgres: %w", err)
		}
		return db, nil
	default:
		db, err := sqliterepo.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("server: opening sqlite: %w", err)
		}
		return db, nil
	}
}

// openDenylist uses Redis when an address is configured so sign-outs hold
// across restarts and replicas, and an in-process map otherwise.
func (s *Server) openDenylist(ctx context.Context) (auth.Denylist, error) {
	rc := s.cfg.Redis
	if rc.Addr == "" {
		return auth.NewMemoryDenylist(), nil
	}
	client, err := redisrepo.NewClient(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.closers = append(s.closers, client)
	return redisrepo.NewDenylist(client), nil
}

// oauthProviders enables each provider whose client credentials are set.
// The provider sends the browser back to /auth/{provider}/callback.
func oauthProviders(cfg *config.Config) auth.OAuthProviders {
	base := strings.TrimRight(cfg.Server.PublicURL, "/") + "/auth/"

	var google, github auth.OAuthProvider
	if c := cfg.OAuth.Google; c.Configured() {
		google = auth.NewGoogleProvider(c.ClientID, c.ClientSecret, base+"google/callback")
	}
	if c := cfg.OAuth.GitHub; c.Configured() {
		github = auth.NewGitHubProvider(c.ClientID, c.ClientSecret, base+"github/callback")
	}
	return auth.NewOAuthProviders(google, github)
}

// serve runs srv and every background task in one errgroup. The first to fail
// cancels the others; cancellation of ctx shuts srv down gracefully.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.String("addr", srv.Addr))

		// Give in-flight requests time to finish.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
