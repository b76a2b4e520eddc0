// Package session tracks who is signed in on this device.
//
// The Manager is a small state machine:
//
//	Anonymous ──Login/Register/LoginSocial──▶ Authenticating ──ok──▶ Authenticated
//	    ▲                                          │
//	    └──────────────────failure─────────────────┘
//
// Authenticated identities are snapshotted to the Record Store so the next
// start can Restore without contacting the backend. Calls are not
// serialised against each other: whichever resolves last decides the state.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/model"
)

// State is the authentication state.
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SnapshotStore persists the signed-in identity. *store.Store satisfies it.
type SnapshotStore interface {
	LoadSession(ctx context.Context) (*model.Identity, bool)
	SaveSession(ctx context.Context, id model.Identity) error
	ClearSession(ctx context.Context) error
}

// View is a point-in-time copy of the session.
type View struct {
	State    State
	Identity *model.Identity
	InFlight bool
	Err      error
}

// Manager owns the session state.
type Manager struct {
	backend   backend.Service
	snapshots SnapshotStore
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	identity *model.Identity
	inFlight int
	lastErr  error
}

// NewManager creates a Manager in the Anonymous state.
func NewManager(b backend.Service, snapshots SnapshotStore, logger *slog.Logger) *Manager {
	return &Manager{backend: b, snapshots: snapshots, logger: logger}
}

// Restore adopts the persisted snapshot, if any. It reports whether a
// session was restored.
func (m *Manager) Restore(ctx context.Context) bool {
	id, ok := m.snapshots.LoadSession(ctx)
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Authenticated
	m.identity = id
	m.lastErr = nil
	return true
}

// Login authenticates with a roll number and secret.
func (m *Manager) Login(ctx context.Context, roll, secret string) (model.Identity, error) {
	return m.authenticate(ctx, "login", func() (model.Identity, error) {
		return m.backend.Login(ctx, roll, secret)
	})
}

// Register creates an account and signs it in.
func (m *Manager) Register(ctx context.Context, roll, secret, batch string) (model.Identity, error) {
	return m.authenticate(ctx, "register", func() (model.Identity, error) {
		return m.backend.Register(ctx, roll, secret, batch)
	})
}

// LoginSocial signs in with a verified external profile.
func (m *Manager) LoginSocial(ctx context.Context, p model.SocialProfile) (model.Identity, error) {
	return m.authenticate(ctx, "social login", func() (model.Identity, error) {
		return m.backend.LoginSocial(ctx, p)
	})
}

func (m *Manager) authenticate(ctx context.Context, op string, call func() (model.Identity, error)) (model.Identity, error) {
	m.mu.Lock()
	m.state = Authenticating
	m.inFlight++
	m.lastErr = nil
	m.mu.Unlock()

	id, err := call()

	m.mu.Lock()
	m.inFlight--
	if err != nil {
		m.state = Anonymous
		m.identity = nil
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Info(op+" failed", slog.String("error", err.Error()))
		// Anonymous in memory means no snapshot on disk either.
		if cerr := m.snapshots.ClearSession(ctx); cerr != nil {
			m.logger.Warn("clearing session snapshot", slog.String("error", cerr.Error()))
		}
		return model.Identity{}, err
	}
	m.state = Authenticated
	m.identity = ptr(id.Clone())
	m.mu.Unlock()

	m.persist(ctx, id)
	m.logger.Info(op+" succeeded", slog.String("roll", id.RollNumber))
	return id, nil
}

// UpdateProfile merges patch into the signed-in identity. On failure the
// previous identity is kept and the error recorded.
func (m *Manager) UpdateProfile(ctx context.Context, patch model.ProfilePatch) (model.Identity, error) {
	m.mu.Lock()
	if m.state != Authenticated || m.identity == nil {
		m.mu.Unlock()
		return model.Identity{}, apperror.Unauthorized("no active session")
	}
	roll := m.identity.RollNumber
	m.inFlight++
	m.mu.Unlock()

	id, err := m.backend.UpdateProfile(ctx, roll, patch)

	m.mu.Lock()
	m.inFlight--
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		return model.Identity{}, err
	}
	m.identity = ptr(id.Clone())
	m.state = Authenticated
	m.lastErr = nil
	m.mu.Unlock()

	m.persist(ctx, id)
	return id, nil
}

// Logout drops the session and its snapshot.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.state = Anonymous
	m.identity = nil
	m.lastErr = nil
	m.mu.Unlock()

	if err := m.snapshots.ClearSession(ctx); err != nil {
		m.logger.Warn("clearing session snapshot", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// View returns a copy of the current session.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{State: m.state, InFlight: m.inFlight > 0, Err: m.lastErr}
	if m.identity != nil {
		v.Identity = ptr(m.identity.Clone())
	}
	return v
}

// Identity returns the signed-in identity, or nil.
func (m *Manager) Identity() *model.Identity {
	return m.View().Identity
}

// ClearError forgets the last recorded error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// persist writes the snapshot. A failure is logged; the in-memory session
// stays authenticated and the next start simply begins signed out.
func (m *Manager) persist(ctx context.Context, id model.Identity) {
	if err := m.snapshots.SaveSession(ctx, id); err != nil {
		m.logger.Warn("saving session snapshot",
			slog.String("roll", id.RollNumber),
			slog.String("error", err.Error()),
		)
	}
}

func ptr[T any](v T) *T { return &v }
