// Package adapter chooses the backend the process talks to.
//
// The choice is made once, at startup: relational if configured, else
// document if configured, else local. A remote backend that cannot be
// reached is logged and replaced by the local one for the rest of the run.
package adapter

import (
	"context"
	"log/slog"

	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/backend/document"
	"github.com/sakif/campus-companion/internal/backend/local"
	"github.com/sakif/campus-companion/internal/backend/postgres"
	"github.com/sakif/campus-companion/internal/config"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/store"
)

// Kind names the selected backend.
type Kind string

const (
	KindLocal      Kind = "local"
	KindRelational Kind = "relational"
	KindDocument   Kind = "document"
)

// Deps are the collaborators every backend is built from.
type Deps struct {
	Store  *store.Store
	Seed   fixtures.Seed
	Hasher backend.Hasher
	Logger *slog.Logger
}

// Opened is the result of Open. Close releases remote connections and is
// always safe to call.
type Opened struct {
	Service backend.Service
	Kind    Kind
	Close   func()
}

// The remote constructors are variables so tests can substitute them.
var (
	openRelational = func(ctx context.Context, cfg config.Relational, d Deps, boot backend.Bootstrap) (backend.Service, func(), error) {
		svc, err := postgres.Open(ctx, postgres.Config{URL: cfg.URL, Key: cfg.Key}, d.Seed, d.Hasher, boot, d.Logger)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Close, nil
	}
	openDocument = func(ctx context.Context, cfg config.Document, d Deps, boot backend.Bootstrap) (backend.Service, func(), error) {
		svc, err := document.Open(ctx, document.Config{
			Addr:       cfg.Addr,
			APIKey:     cfg.APIKey,
			ProjectID:  cfg.ProjectID,
			AuthDomain: cfg.AuthDomain,
		}, d.Seed, d.Hasher, boot, d.Logger)
		if err != nil {
			return nil, nil, err
		}
		return svc, func() { _ = svc.Close() }, nil
	}
)

// Open selects and constructs the backend. It never fails: the local
// backend is always available.
func Open(ctx context.Context, cfg config.Config, d Deps) Opened {
	boot := backend.DefaultBootstrap(cfg.BootstrapAdminSecret)

	var (
		kind Kind
		svc  backend.Service
		stop func()
		err  error
	)
	switch {
	case cfg.HasRelational():
		kind = KindRelational
		svc, stop, err = openRelational(ctx, cfg.Relational, d, boot)
	case cfg.HasDocument():
		kind = KindDocument
		svc, stop, err = openDocument(ctx, cfg.Document, d, boot)
	}

	if svc != nil && err == nil {
		d.Logger.Info("backend selected", slog.String("kind", string(kind)))
		return Opened{Service: svc, Kind: kind, Close: stop}
	}
	if err != nil {
		d.Logger.Warn("remote backend unavailable, falling back to local",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}

	d.Logger.Info("backend selected", slog.String("kind", string(KindLocal)))
	return Opened{
		Service: local.New(d.Store, d.Hasher, boot, d.Logger),
		Kind:    KindLocal,
		Close:   func() {},
	}
}
