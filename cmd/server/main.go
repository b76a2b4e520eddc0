// Package main is the entry point for the companion API server.
//
// main stays minimal:
//  1. Read configuration (.env + environment)
//  2. Build dependencies (record store, backend, avatar store, auth)
//  3. Start the HTTP server
//
// All behaviour lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/campus-companion/internal/adapter"
	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/avatar"
	"github.com/sakif/campus-companion/internal/config"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/handler"
	"github.com/sakif/campus-companion/internal/server"
	"github.com/sakif/campus-companion/internal/service"
	"github.com/sakif/campus-companion/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// === 1. CONFIGURATION & LOGGING ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required (try: openssl rand -hex 32)")
	}

	// === 2. LOCAL RECORD STORE ===
	// The local store always exists: it is the fallback backend.
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	kv, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer kv.Close()

	passwords := auth.NewPasswordService()
	seed, err := fixtures.Default(passwords, cfg.BootstrapAdminSecret)
	if err != nil {
		return err
	}

	records := store.New(kv, seed, logger)
	if err := records.Init(ctx); err != nil {
		return err
	}

	// === 3. BACKEND SELECTION ===
	opened := adapter.Open(ctx, cfg, adapter.Deps{
		Store:  records,
		Seed:   seed,
		Hasher: passwords,
		Logger: logger,
	})
	defer opened.Close()

	// === 4. AVATAR STORE (optional) ===
	var avatars service.AvatarStore
	if cfg.HasAvatarStore() {
		s, err := avatar.New(ctx, avatar.Config{
			Bucket:        cfg.Avatar.Bucket,
			Region:        cfg.Avatar.Region,
			Endpoint:      cfg.Avatar.Endpoint,
			AccessKey:     cfg.Avatar.AccessKey,
			SecretKey:     cfg.Avatar.SecretKey,
			PublicBaseURL: cfg.Avatar.PublicBaseURL,
		})
		if err != nil {
			logger.Warn("avatar store unavailable, images stay inline", slog.String("error", err.Error()))
		} else {
			avatars = s
		}
	}

	companion := service.NewCompanion(opened.Service, avatars, seed.Departments, logger)

	// === 5. AUTH ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	// A typed nil inside the interface would look configured to the handler.
	var google handler.SocialProvider
	if cfg.HasGoogle() {
		google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
	} else {
		logger.Info("Google sign-in disabled: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set")
	}

	// === 6. SERVE ===
	srv, err := server.New(server.Config{Port: cfg.Port}, server.Deps{
		Companion:   companion,
		Tokens:      tokens,
		Google:      google,
		BackendKind: string(opened.Kind),
	}, logger)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}
