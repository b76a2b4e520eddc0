// Package cli is the terminal client. It embeds the session manager and
// talks to whichever backend the adapter selects, the same way the mobile
// app does: the signed-in identity lives in the local Record Store and
// survives restarts.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/campus-companion/internal/adapter"
	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/avatar"
	"github.com/sakif/campus-companion/internal/config"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/service"
	"github.com/sakif/campus-companion/internal/session"
	"github.com/sakif/campus-companion/internal/store"
)

// Options are the root command's persistent flags.
type Options struct {
	DBPath  string
	EnvFile string
	Verbose bool
}

// App is one client run: a session over a backend.
type App struct {
	Session *session.Manager
	Service *service.Companion
	Kind    adapter.Kind
	Logger  *slog.Logger

	close func()
}

// Opener builds the App for a command invocation.
type Opener func(ctx context.Context, opts Options) (*App, error)

// NewApp wraps an already built service. The persisted session, if any,
// is restored.
func NewApp(ctx context.Context, svc *service.Companion, snapshots session.SnapshotStore, kind adapter.Kind, logger *slog.Logger, closer func()) *App {
	if closer == nil {
		closer = func() {}
	}
	m := session.NewManager(svc, snapshots, logger)
	if m.Restore(ctx) {
		logger.Debug("session restored", slog.String("roll", m.Identity().RollNumber))
	}
	return &App{Session: m, Service: svc, Kind: kind, Logger: logger, close: closer}
}

// Close releases the backend and the local database.
func (a *App) Close() {
	a.close()
}

// Open wires the real client from configuration.
func Open(ctx context.Context, opts Options) (*App, error) {
	var envFiles []string
	if opts.EnvFile != "" {
		envFiles = append(envFiles, opts.EnvFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(os.Stderr, level)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	kv, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	passwords := auth.NewPasswordService()
	seed, err := fixtures.Default(passwords, cfg.BootstrapAdminSecret)
	if err != nil {
		kv.Close()
		return nil, err
	}
	records := store.New(kv, seed, logger)
	if err := records.Init(ctx); err != nil {
		kv.Close()
		return nil, err
	}

	opened := adapter.Open(ctx, cfg, adapter.Deps{Store: records, Seed: seed, Hasher: passwords, Logger: logger})

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
			logger.Warn("avatar store unavailable", slog.String("error", err.Error()))
		} else {
			avatars = s
		}
	}

	svc := service.NewCompanion(opened.Service, avatars, seed.Departments, logger)
	return NewApp(ctx, svc, records, opened.Kind, logger, func() {
		opened.Close()
		kv.Close()
	}), nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
