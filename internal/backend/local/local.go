// Package local implements backend.Service over the on-device Record Store.
//
// Every operation is a read-modify-write of a whole table, serialised by a
// single mutex. Reads never fail (the store falls back to seed data); writes
// surface apperror.ErrStorageWrite.
package local

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/store"
)

// Service is the local backend.
type Service struct {
	store     *store.Store
	hasher    backend.Hasher
	bootstrap backend.Bootstrap
	logger    *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

var _ backend.Service = (*Service)(nil)

// New creates a local backend. The store must already be initialised.
func New(st *store.Store, hasher backend.Hasher, boot backend.Bootstrap, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		hasher:    hasher,
		bootstrap: boot,
		logger:    logger,
		now:       time.Now,
	}
}

// =========================================================================
// IDENTITY
// =========================================================================

func (s *Service) Login(ctx context.Context, roll, secret string) (model.Identity, error) {
	users := s.store.Users(ctx)

	if s.bootstrap.Matches(roll, secret) {
		if id, ok := findUser(users, roll); ok {
			s.logger.Info("bootstrap admin login", slog.String("roll", roll))
			return id, nil
		}
	}

	hash, ok := s.store.Credentials(ctx)[roll]
	if !ok {
		return model.Identity{}, apperror.NotRegistered()
	}
	if err := s.hasher.Verify(hash, secret); err != nil {
		return model.Identity{}, apperror.InvalidCredential()
	}

	id, ok := findUser(users, roll)
	if !ok {
		s.logger.Warn("credential without identity", slog.String("roll", roll))
		return model.Identity{}, apperror.MissingProfile(roll)
	}
	return id, nil
}

func (s *Service) LoginSocial(ctx context.Context, p model.SocialProfile) (model.Identity, error) {
	if p.Subject == "" {
		return model.Identity{}, apperror.ValidationFailed("subject", "external account id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.store.Users(ctx)
	for _, u := range users {
		if u.ExternalID == p.Subject {
			return u, nil
		}
	}

	roll := backend.SyntheticRoll(p.Subject, func(r string) bool {
		_, taken := findUser(users, r)
		return taken
	})
	id := backend.SocialIdentity(roll, p)

	if err := s.store.SaveUsers(ctx, append(users, id)); err != nil {
		return model.Identity{}, err
	}
	s.logger.Info("social identity created", slog.String("roll", roll))
	return id.Clone(), nil
}

func (s *Service) Register(ctx context.Context, roll, secret, batch string) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds := s.store.Credentials(ctx)
	if _, exists := creds[roll]; exists {
		return model.Identity{}, apperror.AlreadyRegistered()
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return model.Identity{}, apperror.ValidationFailed("secret", err.Error())
	}

	users := s.store.Users(ctx)
	i := userIndex(users, roll)
	if i < 0 {
		users = append(users, backend.DefaultIdentity(roll, batch))
		i = len(users) - 1
	} else if batch != "" {
		users[i].Batch = batch
	}

	// Identity first: a failed credential write leaves the roll registrable.
	if err := s.store.SaveUsers(ctx, users); err != nil {
		return model.Identity{}, err
	}
	creds[roll] = hash
	if err := s.store.SaveCredentials(ctx, creds); err != nil {
		return model.Identity{}, err
	}

	s.logger.Info("registered", slog.String("roll", roll), slog.String("batch", batch))
	return users[i].Clone(), nil
}

func (s *Service) UpdateProfile(ctx context.Context, roll string, patch model.ProfilePatch) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.store.Users(ctx)
	i := userIndex(users, roll)
	if i < 0 {
		return model.Identity{}, apperror.NotFound("user", roll)
	}

	merged := patch.Apply(users[i])
	if merged.RollNumber != roll {
		if _, taken := findUser(users, merged.RollNumber); taken {
			return model.Identity{}, apperror.Conflict("user", merged.RollNumber)
		}
	}

	users[i] = merged
	if err := s.store.SaveUsers(ctx, users); err != nil {
		return model.Identity{}, err
	}
	if merged.RollNumber != roll {
		if err := s.moveAccount(ctx, roll, merged.RollNumber); err != nil {
			return model.Identity{}, err
		}
	}
	return merged.Clone(), nil
}

// moveAccount re-keys the credential and notes of a renamed identity.
// Callers hold s.mu.
func (s *Service) moveAccount(ctx context.Context, from, to string) error {
	creds := s.store.Credentials(ctx)
	if hash, ok := creds[from]; ok {
		delete(creds, from)
		creds[to] = hash
		if err := s.store.SaveCredentials(ctx, creds); err != nil {
			return err
		}
	}

	notes := s.store.Notes(ctx)
	moved := 0
	for i := range notes {
		if notes[i].OwnerRoll == from {
			notes[i].OwnerRoll = to
			moved++
		}
	}
	if moved == 0 {
		return nil
	}
	s.logger.Info("notes moved to new roll", slog.String("roll", to), slog.Int("notes", moved))
	return s.store.SaveNotes(ctx, notes)
}

func (s *Service) GetIdentity(ctx context.Context, roll string) (model.Identity, error) {
	id, ok := findUser(s.store.Users(ctx), roll)
	if !ok {
		return model.Identity{}, apperror.NotFound("identity", roll)
	}
	return id, nil
}

// ListBatchMembers returns the active members of a batch: credential holders,
// the bootstrap admin and externally signed-in accounts. Roster entries that
// never registered are left out.
func (s *Service) ListBatchMembers(ctx context.Context, batch string) ([]model.Identity, error) {
	creds := s.store.Credentials(ctx)

	out := make([]model.Identity, 0)
	for _, u := range s.store.Users(ctx) {
		if u.Batch != batch {
			continue
		}
		_, registered := creds[u.RollNumber]
		if registered || u.RollNumber == s.bootstrap.Roll || u.IsSynthetic() {
			out = append(out, u)
		}
	}
	return out, nil
}

// =========================================================================
// NOTES
// =========================================================================

func (s *Service) ListNotes(ctx context.Context, roll string) ([]model.Note, error) {
	return backend.NotesOf(s.store.Notes(ctx), roll), nil
}

func (s *Service) SaveNote(ctx context.Context, note model.Note) (model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note = backend.PrepareNote(note, s.now())
	notes := s.store.Notes(ctx)

	i := slices.IndexFunc(notes, func(n model.Note) bool { return n.ID == note.ID })
	if i >= 0 {
		notes[i] = note
	} else {
		notes = append(notes, note)
	}

	if err := s.store.SaveNotes(ctx, notes); err != nil {
		return model.Note{}, err
	}
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes := s.store.Notes(ctx)
	kept := slices.DeleteFunc(notes, func(n model.Note) bool { return n.ID == id })
	return s.store.SaveNotes(ctx, kept)
}

// =========================================================================
// RESOURCES
// =========================================================================

func (s *Service) ListResources(ctx context.Context, f model.ResourceFilter) ([]model.Resource, error) {
	return backend.FilterResources(s.store.Resources(ctx), f), nil
}

func (s *Service) AddResource(ctx context.Context, res model.Resource) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res = backend.PrepareResource(res)
	if err := s.store.SaveResources(ctx, append(s.store.Resources(ctx), res)); err != nil {
		return model.Resource{}, err
	}
	return res, nil
}

// =========================================================================
// CHAT
// =========================================================================

func (s *Service) ListMessages(ctx context.Context, batch string) ([]model.Message, error) {
	return backend.MessagesOf(s.store.Messages(ctx), batch), nil
}

func (s *Service) SendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg = backend.PrepareMessage(msg, s.now())
	if err := s.store.SaveMessages(ctx, append(s.store.Messages(ctx), msg)); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func findUser(users []model.Identity, roll string) (model.Identity, bool) {
	if i := userIndex(users, roll); i >= 0 {
		return users[i].Clone(), true
	}
	return model.Identity{}, false
}

func userIndex(users []model.Identity, roll string) int {
	return slices.IndexFunc(users, func(u model.Identity) bool { return u.RollNumber == roll })
}
