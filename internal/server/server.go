// Package server wires handlers, middleware and routes together and runs
// the HTTP server with graceful shutdown.
//
// main.go builds the long-lived dependencies (database, blob store, token
// service, GitHub provider) from config and hands them to New; New builds
// the services and handlers on top of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/sakif/social-diary/internal/auth"
	"github.com/sakif/social-diary/internal/config"
	"github.com/sakif/social-diary/internal/feed"
	"github.com/sakif/social-diary/internal/handler"
	"github.com/sakif/social-diary/internal/middleware"
	sqliteRepo "github.com/sakif/social-diary/internal/repository/sqlite"
	"github.com/sakif/social-diary/internal/service"
	"github.com/sakif/social-diary/internal/storage"
)

// Requests per minute and IP allowed on /auth/register and /auth/login.
const authRateLimit = 10

// Deps are the resources the server uses but main owns the construction of.
type Deps struct {
	DB     *sqliteRepo.DB
	Media  storage.Store
	Tokens *auth.TokenService
	// GitHub is nil when GitHub login is not configured.
	GitHub handler.GitHubOAuth
}

// Server represents the HTTP server and all its dependencies. It owns the
// database and closes it when Start returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	deps   Deps
	logger *slog.Logger
}

// New builds the services, handlers and routes. cfg must already be
// validated.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.DB == nil || deps.Media == nil || deps.Tokens == nil {
		return nil, errors.New("server: database, media store and token service are required")
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes mounts:
//
//	GET    /, /api/feed              home feed
//	POST   /api/entries              create entry
//	GET    /api/entries/{id}         read entry
//	PUT    /api/entries/{id}         edit own entry
//	DELETE /api/entries/{id}         delete own entry
//	GET    /api/profile              own profile
//	PUT    /api/profile              edit own profile
//	GET    /api/profile/{username}   someone's profile
//	POST   /api/follow/{username}    toggle follow
//	GET    /api/me                   current user
//	POST   /auth/register, /auth/login, /auth/logout
//	GET    /auth/github/login, /auth/github/callback (when configured)
//	GET    /media/*                  local blob store only
//
// OptionalAuth runs on every request so the logger and handlers can see the
// signed-in user; protected routes add RequireAuth.
func (s *Server) setupRoutes() error {
	loc, err := s.config.Location()
	if err != nil {
		return err
	}

	db := s.deps.DB
	media := s.deps.Media
	tokens := s.deps.Tokens

	authService := service.NewAuthService(db, tokens, auth.NewPasswordService(), s.logger)
	entryService := service.NewEntryService(db, media, s.logger)
	followService := service.NewFollowService(db, db, s.logger)
	profileService := service.NewProfileService(db, db, db, media, loc, s.config.Diary.ProfileEntryLimit, s.logger)
	engine := feed.NewEngine(db, s.logger)

	authHandler := handler.NewAuthHandler(authService, s.deps.GitHub, media, s.config.Server.SecureCookies, s.logger)
	entryHandler := handler.NewEntryHandler(entryService, media, s.logger)
	feedHandler := handler.NewFeedHandler(engine, s.config.Diary.PageSize, media, s.logger)
	profileHandler := handler.NewProfileHandler(profileService, followService, media, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(auth.OptionalAuth(tokens))
	s.router.Use(middleware.Logger(s.logger))

	if local, ok := media.(*storage.Local); ok {
		s.router.Handle("/media/*", http.StripPrefix("/media/", local.Handler()))
	}

	s.router.Get("/", feedHandler.HandleFeed)

	s.router.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(authRateLimit, time.Minute))
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
		})
		r.Post("/logout", authHandler.HandleLogout)

		if s.deps.GitHub != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/feed", feedHandler.HandleFeed)
		r.Get("/entries/{id}", entryHandler.HandleGet)
		r.Get("/profile/{username}", profileHandler.HandleView)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/me", authHandler.HandleMe)

			r.Post("/entries", entryHandler.HandleCreate)
			r.Put("/entries/{id}", entryHandler.HandleUpdate)
			r.Delete("/entries/{id}", entryHandler.HandleDelete)

			r.Get("/profile", profileHandler.HandleOwn)
			r.Put("/profile", profileHandler.HandleUpdate)

			r.Post("/follow/{username}", profileHandler.HandleFollow)
		})
	})

	return nil
}

// Start runs the HTTP server until SIGINT or SIGTERM, then gives in-flight
// requests 30 seconds to finish. The database is closed on return.
func (s *Server) Start() error {
	defer s.deps.DB.Close()

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("database", s.config.Database.Path),
			slog.String("storage", s.config.Storage.Backend),
			slog.Bool("github", s.deps.GitHub != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
