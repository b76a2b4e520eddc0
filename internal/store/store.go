package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/model"
)

// Namespace prefixes every key this store owns.
const Namespace = "btec_"

// Table names a logical table.
type Table string

const (
	TableUsers     Table = "users"
	TableAuth      Table = "auth"
	TableNotes     Table = "notes"
	TableResources Table = "resources"
	TableChats     Table = "chats"
)

// Tables lists every seeded table, in seeding order.
var Tables = []Table{TableUsers, TableNotes, TableResources, TableChats, TableAuth}

const (
	keySession       = "session_user"
	keySchemaVersion = "schema_version"
)

// CurrentSchemaVersion is the layout this binary reads and writes.
// Bump it together with a Migration whenever a persisted field is added,
// removed or retyped.
const CurrentSchemaVersion = 1

// Migration upgrades persisted data from version N-1 to N.
type Migration func(ctx context.Context, s *Store) error

// Store is the Record Store. It is safe for concurrent use, but
// read-modify-write sequences built on top of it are not atomic.
type Store struct {
	kv         KV
	seed       fixtures.Seed
	logger     *slog.Logger
	migrations map[int]Migration

	initOnce sync.Once
	initErr  error
}

// New creates a Store. seed is copied; later changes to it have no effect.
func New(kv KV, seed fixtures.Seed, logger *slog.Logger) *Store {
	return &Store{
		kv:         kv,
		seed:       seed.Clone(),
		logger:     logger,
		migrations: map[int]Migration{},
	}
}

// RegisterMigration installs the step that produces schema version `to`.
// Must be called before Init.
func (s *Store) RegisterMigration(to int, m Migration) {
	s.migrations[to] = m
}

func key(name string) string { return Namespace + name }

// Init seeds every absent table and brings the schema up to date.
//
// It runs once per Store; later calls return the first result. A table is
// seeded only when its key does not exist at all. An explicitly saved empty
// table stays empty.
func (s *Store) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.init(ctx)
	})
	return s.initErr
}

func (s *Store) init(ctx context.Context) error {
	for _, t := range Tables {
		_, ok, err := s.kv.Get(ctx, key(string(t)))
		if err != nil {
			return fmt.Errorf("store: checking %s: %w", t, err)
		}
		if ok {
			continue
		}
		if err := s.writeJSON(ctx, t, s.seedFor(t)); err != nil {
			return err
		}
		s.logger.Debug("seeded table", slog.String("table", string(t)))
	}
	return s.migrate(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	version := CurrentSchemaVersion
	raw, ok, err := s.kv.Get(ctx, key(keySchemaVersion))
	if err != nil {
		return fmt.Errorf("store: reading schema version: %w", err)
	}
	if ok {
		version, err = strconv.Atoi(string(raw))
		if err != nil {
			return fmt.Errorf("store: invalid schema version %q", raw)
		}
	}

	if version > CurrentSchemaVersion {
		return fmt.Errorf("store: schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		m, ok := s.migrations[v]
		if !ok {
			return fmt.Errorf("store: no migration to schema version %d", v)
		}
		if err := m(ctx, s); err != nil {
			return fmt.Errorf("store: migrating to schema version %d: %w", v, err)
		}
		s.logger.Info("migrated store schema", slog.Int("version", v))
	}

	if ok && version == CurrentSchemaVersion {
		return nil
	}
	if err := s.kv.Put(ctx, key(keySchemaVersion), []byte(strconv.Itoa(CurrentSchemaVersion))); err != nil {
		return apperror.StorageWrite(keySchemaVersion, err)
	}
	return nil
}

// SchemaVersion returns the persisted schema version, or 0 before Init.
func (s *Store) SchemaVersion(ctx context.Context) int {
	raw, ok, err := s.kv.Get(ctx, key(keySchemaVersion))
	if err != nil || !ok {
		return 0
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return v
}

func (s *Store) seedFor(t Table) any {
	switch t {
	case TableUsers:
		return s.seed.CloneUsers()
	case TableAuth:
		return s.seed.CloneCredentials()
	case TableNotes:
		return append([]model.Note{}, s.seed.Notes...)
	case TableResources:
		return append([]model.Resource{}, s.seed.Resources...)
	case TableChats:
		return append([]model.Message{}, s.seed.Messages...)
	}
	return nil
}

// readTable loads a table. It never fails: a missing key or a value that
// does not parse yields the seed, and the problem is only logged.
func readTable[T any](ctx context.Context, s *Store, t Table, seed func() T) T {
	raw, ok, err := s.kv.Get(ctx, key(string(t)))
	if err != nil {
		s.logger.Warn("store read failed, using seed",
			slog.String("table", string(t)),
			slog.String("error", err.Error()),
		)
		return seed()
	}
	if !ok {
		return seed()
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn("store table corrupt, using seed",
			slog.String("table", string(t)),
			slog.String("error", err.Error()),
		)
		return seed()
	}
	return out
}

// writeJSON replaces a table with a single Put.
func (s *Store) writeJSON(ctx context.Context, t Table, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperror.StorageWrite(string(t), err)
	}
	if err := s.kv.Put(ctx, key(string(t)), data); err != nil {
		return apperror.StorageWrite(string(t), err)
	}
	return nil
}

func (s *Store) Users(ctx context.Context) []model.Identity {
	return readTable(ctx, s, TableUsers, s.seed.CloneUsers)
}

func (s *Store) SaveUsers(ctx context.Context, users []model.Identity) error {
	if users == nil {
		users = []model.Identity{}
	}
	return s.writeJSON(ctx, TableUsers, users)
}

// Credentials returns the roll -> hashed secret map.
func (s *Store) Credentials(ctx context.Context) map[string]string {
	creds := readTable(ctx, s, TableAuth, s.seed.CloneCredentials)
	if creds == nil {
		creds = map[string]string{}
	}
	return creds
}

func (s *Store) SaveCredentials(ctx context.Context, creds map[string]string) error {
	if creds == nil {
		creds = map[string]string{}
	}
	return s.writeJSON(ctx, TableAuth, creds)
}

func (s *Store) Notes(ctx context.Context) []model.Note {
	return readTable(ctx, s, TableNotes, func() []model.Note {
		return append([]model.Note{}, s.seed.Notes...)
	})
}

func (s *Store) SaveNotes(ctx context.Context, notes []model.Note) error {
	if notes == nil {
		notes = []model.Note{}
	}
	return s.writeJSON(ctx, TableNotes, notes)
}

func (s *Store) Resources(ctx context.Context) []model.Resource {
	return readTable(ctx, s, TableResources, func() []model.Resource {
		return append([]model.Resource{}, s.seed.Resources...)
	})
}

func (s *Store) SaveResources(ctx context.Context, resources []model.Resource) error {
	if resources == nil {
		resources = []model.Resource{}
	}
	return s.writeJSON(ctx, TableResources, resources)
}

func (s *Store) Messages(ctx context.Context) []model.Message {
	return readTable(ctx, s, TableChats, func() []model.Message {
		return append([]model.Message{}, s.seed.Messages...)
	})
}

func (s *Store) SaveMessages(ctx context.Context, msgs []model.Message) error {
	if msgs == nil {
		msgs = []model.Message{}
	}
	return s.writeJSON(ctx, TableChats, msgs)
}

// =========================================================================
// SESSION SNAPSHOT
// =========================================================================

// LoadSession returns the last authenticated identity, if one was saved and
// still parses. A corrupt snapshot is removed.
func (s *Store) LoadSession(ctx context.Context) (*model.Identity, bool) {
	raw, ok, err := s.kv.Get(ctx, key(keySession))
	if err != nil || !ok {
		return nil, false
	}

	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil || id.RollNumber == "" {
		s.logger.Warn("discarding unreadable session snapshot")
		if err := s.kv.Delete(ctx, key(keySession)); err != nil {
			s.logger.Warn("removing session snapshot", slog.String("error", err.Error()))
		}
		return nil, false
	}
	return &id, true
}

func (s *Store) SaveSession(ctx context.Context, id model.Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return apperror.StorageWrite(keySession, err)
	}
	if err := s.kv.Put(ctx, key(keySession), data); err != nil {
		return apperror.StorageWrite(keySession, err)
	}
	return nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if err := s.kv.Delete(ctx, key(keySession)); err != nil {
		return apperror.StorageWrite(keySession, err)
	}
	return nil
}
