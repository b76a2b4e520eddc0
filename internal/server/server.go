// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it decides which URL maps to which
// handler and which middleware guards it. The collaborators themselves
// (backend, service, token issuer) are built in cmd/server and passed in,
// so tests can mount the full router over an in-memory backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/handler"
	"github.com/sakif/campus-companion/internal/middleware"
)

// Config holds server configuration.
type Config struct {
	Port int
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Companion   handler.Companion
	Tokens      *auth.TokenService
	Google      handler.SocialProvider // may be nil
	BackendKind string
}

// Server represents the HTTP server and its router.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New creates a Server with every route mounted.
func New(cfg Config, d Deps, logger *slog.Logger) (*Server, error) {
	if d.Companion == nil {
		return nil, errors.New("server: companion service is required")
	}
	if d.Tokens == nil {
		return nil, errors.New("server: token service is required")
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(d)
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /auth/login                 → roll number sign-in
// POST   /auth/register              → create credential
// POST   /auth/logout                → clear cookie
// GET    /auth/google/login          → redirect to Google
// GET    /auth/google/callback       → finish Google browser flow
// POST   /auth/google/token          → sign in with a Google ID token
// GET    /api/navigate               → navigation gate (auth optional)
// GET    /api/departments            → resource departments
// GET    /api/me                     → current identity
// PATCH  /api/me                     → partial profile update
// GET    /api/batches/{batch}/members → active batch members
// GET    /api/notes                  → caller's notes
// POST   /api/notes                  → create note
// PUT    /api/notes/{id}             → update own note
// DELETE /api/notes/{id}             → delete own note
// GET    /api/resources              → filter resources
// POST   /api/resources              → add resource
// GET    /api/chat/messages          → batch room (gated)
// POST   /api/chat/messages          → send to batch room (gated)
// GET    /healthz                    → liveness + backend kind
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, so the logger can tag the line
// 2. RealIP, so RemoteAddr is the client behind a proxy
// 3. Logger
// 4. Recoverer, which turns a panic into a 500
func (s *Server) setupRoutes(d Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	authHandler := handler.NewAuthHandler(d.Companion, d.Tokens, d.Google, s.logger)
	profileHandler := handler.NewProfileHandler(d.Companion, d.Tokens, s.logger)
	notesHandler := handler.NewNotesHandler(d.Companion, s.logger)
	resourcesHandler := handler.NewResourcesHandler(d.Companion, s.logger)
	chatHandler := handler.NewChatHandler(d.Companion, s.logger)
	navHandler := handler.NewNavigationHandler(d.Companion, d.BackendKind, s.logger)

	s.router.Get("/healthz", navHandler.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/logout", authHandler.HandleLogout)
		r.Get("/google/login", authHandler.HandleGoogleLogin)
		r.Get("/google/callback", authHandler.HandleGoogleCallback)
		r.Post("/google/token", authHandler.HandleGoogleToken)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.With(auth.OptionalAuth(d.Tokens)).Get("/navigate", navHandler.HandleNavigate)
		r.Get("/departments", resourcesHandler.HandleDepartments)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(d.Tokens))

			r.Get("/me", profileHandler.HandleMe)
			r.Patch("/me", profileHandler.HandleUpdateMe)
			r.Get("/batches/{batch}/members", profileHandler.HandleMembers)

			r.Get("/notes", notesHandler.HandleList)
			r.Post("/notes", notesHandler.HandleCreate)
			r.Put("/notes/{id}", notesHandler.HandleUpdate)
			r.Delete("/notes/{id}", notesHandler.HandleDelete)

			r.Get("/resources", resourcesHandler.HandleList)
			r.Post("/resources", resourcesHandler.HandleCreate)

			r.Get("/chat/messages", chatHandler.HandleList)
			r.Post("/chat/messages", chatHandler.HandleSend)
		})
	})
}

// Start serves until SIGINT/SIGTERM or ctx is cancelled, then shuts down
// gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new connections
// 2. Give in-flight requests 30s to finish
// Closing the backend is the caller's job once Start returns.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
