// Package postgres implements backend.Service over a remote PostgreSQL
// database. The schema is managed by embedded goose migrations and the
// roster is seeded once, guarded by a marker row in app_meta.
//
// Any failure talking to the database is reported as
// apperror.ErrRemoteUnavailable so callers can tell it apart from domain
// errors such as ErrNotRegistered.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/backend/postgres/migrations"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/model"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const seedMarker = "seeded"

// Config locates the database. Key, when set, is used as the password if
// the URL does not carry one.
type Config struct {
	URL string
	Key string
}

// Service is the relational backend.
type Service struct {
	pool      *pgxpool.Pool
	hasher    backend.Hasher
	bootstrap backend.Bootstrap
	logger    *slog.Logger
	now       func() time.Time
}

var _ backend.Service = (*Service)(nil)

// Open connects, migrates and seeds. The returned Service owns the pool;
// call Close when done.
func Open(ctx context.Context, cfg Config, seed fixtures.Seed, hasher backend.Hasher, boot backend.Bootstrap, logger *slog.Logger) (*Service, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing url: %w", err)
	}
	if poolCfg.ConnConfig.Password == "" && cfg.Key != "" {
		poolCfg.ConnConfig.Password = cfg.Key
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Service{pool: pool, hasher: hasher, bootstrap: boot, logger: logger, now: time.Now}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.seed(ctx, seed); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Service) Close() {
	s.pool.Close()
}

func (s *Service) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("postgres: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("postgres: migrating: %w", err)
	}
	return nil
}

// seed inserts the fixture rows once per database. The marker row and the
// data go in one transaction, so a crash mid-seed leaves no marker behind.
func (s *Service) seed(ctx context.Context, seed fixtures.Seed) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO app_meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			seedMarker, s.now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("postgres: seed marker: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, u := range seed.Users {
			batch.Queue(insertUserSQL+` ON CONFLICT (roll_number) DO NOTHING`, userArgs(u)...)
		}
		for roll, hash := range seed.Credentials {
			batch.Queue(`INSERT INTO credentials (roll_number, secret_hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roll, hash)
		}
		for _, n := range seed.Notes {
			batch.Queue(`INSERT INTO notes (id, user_roll, title, content, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
				n.ID, n.OwnerRoll, n.Title, n.Content, n.UpdatedAt)
		}
		for _, r := range seed.Resources {
			batch.Queue(insertResourceSQL+` ON CONFLICT DO NOTHING`, resourceArgs(r)...)
		}
		for _, m := range seed.Messages {
			batch.Queue(insertMessageSQL+` ON CONFLICT DO NOTHING`, messageArgs(m)...)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: seeding: %w", err)
		}
		s.logger.Info("seeded relational backend", slog.Int("users", len(seed.Users)))
		return nil
	})
}

// =========================================================================
// IDENTITY
// =========================================================================

const userColumns = `roll_number, full_name, department, batch, level, term, role,
	attendance_percent, cgpa, failed_subjects, phone_number, profile_image_url, COALESCE(external_id, '')`

const insertUserSQL = `INSERT INTO users (roll_number, full_name, department, batch, level, term, role,
	attendance_percent, cgpa, failed_subjects, phone_number, profile_image_url, external_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''))`

func userArgs(u model.Identity) []any {
	failed := u.FailedSubjects
	if failed == nil {
		failed = []string{}
	}
	return []any{u.RollNumber, u.FullName, u.Department, u.Batch, u.Level, u.Term, string(u.Role),
		u.AttendancePercent, u.CGPA, failed, u.PhoneNumber, u.ProfileImageURL, u.ExternalID}
}

func scanUser(row pgx.Row) (model.Identity, error) {
	var u model.Identity
	var role string
	err := row.Scan(&u.RollNumber, &u.FullName, &u.Department, &u.Batch, &u.Level, &u.Term, &role,
		&u.AttendancePercent, &u.CGPA, &u.FailedSubjects, &u.PhoneNumber, &u.ProfileImageURL, &u.ExternalID)
	if err != nil {
		return model.Identity{}, err
	}
	u.Role = model.Role(role)
	if len(u.FailedSubjects) == 0 {
		u.FailedSubjects = nil
	}
	return u, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// getUser returns (identity, found, error).
func getUser(ctx context.Context, q querier, roll string) (model.Identity, bool, error) {
	u, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE roll_number = $1`, roll))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, false, nil
	}
	if err != nil {
		return model.Identity{}, false, err
	}
	return u, true, nil
}

func (s *Service) Login(ctx context.Context, roll, secret string) (model.Identity, error) {
	if s.bootstrap.Matches(roll, secret) {
		u, ok, err := getUser(ctx, s.pool, roll)
		if err != nil {
			return model.Identity{}, apperror.RemoteUnavailable("login", err)
		}
		if ok {
			return u, nil
		}
	}

	var hash string
	err := s.pool.QueryRow(ctx, `SELECT secret_hash FROM credentials WHERE roll_number = $1`, roll).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, apperror.NotRegistered()
	}
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("login", err)
	}
	if err := s.hasher.Verify(hash, secret); err != nil {
		return model.Identity{}, apperror.InvalidCredential()
	}

	u, ok, err := getUser(ctx, s.pool, roll)
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("login", err)
	}
	if !ok {
		return model.Identity{}, apperror.MissingProfile(roll)
	}
	return u, nil
}

func (s *Service) LoginSocial(ctx context.Context, p model.SocialProfile) (model.Identity, error) {
	if p.Subject == "" {
		return model.Identity{}, apperror.ValidationFailed("subject", "external account id is required")
	}

	find := func() (model.Identity, bool, error) {
		u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, p.Subject))
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, false, nil
		}
		return u, err == nil, err
	}

	u, ok, err := find()
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("social login", err)
	}
	if ok {
		return u, nil
	}

	var lookupErr error
	roll := backend.SyntheticRoll(p.Subject, func(r string) bool {
		var taken bool
		lookupErr = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE roll_number = $1)`, r).Scan(&taken)
		return taken
	})
	if lookupErr != nil {
		return model.Identity{}, apperror.RemoteUnavailable("social login", lookupErr)
	}
	id := backend.SocialIdentity(roll, p)

	if _, err := s.pool.Exec(ctx, insertUserSQL, userArgs(id)...); err != nil {
		if isUnique(err) {
			// Lost a race with a concurrent sign-in for the same subject.
			if u, ok, ferr := find(); ferr == nil && ok {
				return u, nil
			}
		}
		return model.Identity{}, apperror.RemoteUnavailable("social login", err)
	}
	s.logger.Info("social identity created", slog.String("roll", roll))
	return id, nil
}

func (s *Service) Register(ctx context.Context, roll, secret, batch string) (model.Identity, error) {
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return model.Identity{}, apperror.ValidationFailed("secret", err.Error())
	}

	var out model.Identity
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credentials WHERE roll_number = $1)`, roll).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return apperror.AlreadyRegistered()
		}

		u, ok, err := getUser(ctx, tx, roll)
		if err != nil {
			return err
		}
		if !ok {
			u = backend.DefaultIdentity(roll, batch)
			if _, err := tx.Exec(ctx, insertUserSQL, userArgs(u)...); err != nil {
				return err
			}
		} else if batch != "" {
			if _, err := tx.Exec(ctx, `UPDATE users SET batch = $2 WHERE roll_number = $1`, roll, batch); err != nil {
				return err
			}
			u.Batch = batch
		}

		if _, err := tx.Exec(ctx, `INSERT INTO credentials (roll_number, secret_hash) VALUES ($1, $2)`, roll, hash); err != nil {
			if isUnique(err) {
				return apperror.AlreadyRegistered()
			}
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return model.Identity{}, s.wrap("register", err)
	}
	return out, nil
}

func (s *Service) UpdateProfile(ctx context.Context, roll string, patch model.ProfilePatch) (model.Identity, error) {
	var out model.Identity
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE roll_number = $1 FOR UPDATE`, roll))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.NotFound("user", roll)
		}
		if err != nil {
			return err
		}

		merged := patch.Apply(u)
		args := append([]any{roll}, userArgs(merged)...)
		_, err = tx.Exec(ctx, `UPDATE users SET roll_number = $2, full_name = $3, department = $4, batch = $5,
			level = $6, term = $7, role = $8, attendance_percent = $9, cgpa = $10, failed_subjects = $11,
			phone_number = $12, profile_image_url = $13, external_id = NULLIF($14, '')
			WHERE roll_number = $1`, args...)
		if isUnique(err) {
			return apperror.Conflict("user", merged.RollNumber)
		}
		if err != nil {
			return err
		}

		if merged.RollNumber != roll {
			if _, err := tx.Exec(ctx, `UPDATE credentials SET roll_number = $2 WHERE roll_number = $1`, roll, merged.RollNumber); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE notes SET user_roll = $2 WHERE user_roll = $1`, roll, merged.RollNumber); err != nil {
				return err
			}
		}
		out = merged
		return nil
	})
	if err != nil {
		return model.Identity{}, s.wrap("update profile", err)
	}
	return out, nil
}

func (s *Service) GetIdentity(ctx context.Context, roll string) (model.Identity, error) {
	u, ok, err := getUser(ctx, s.pool, roll)
	if err != nil {
		return model.Identity{}, s.wrap("get identity", err)
	}
	if !ok {
		return model.Identity{}, apperror.NotFound("identity", roll)
	}
	return u, nil
}

// ListBatchMembers returns every identity in the batch. Unlike the local
// backend, registration status is not consulted.
func (s *Service) ListBatchMembers(ctx context.Context, batch string) ([]model.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE batch = $1 ORDER BY roll_number`, batch)
	if err != nil {
		return nil, apperror.RemoteUnavailable("list members", err)
	}
	defer rows.Close()

	out := make([]model.Identity, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperror.RemoteUnavailable("list members", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.RemoteUnavailable("list members", err)
	}
	return out, nil
}

// =========================================================================
// NOTES
// =========================================================================

func (s *Service) ListNotes(ctx context.Context, roll string) ([]model.Note, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_roll, title, content, updated_at FROM notes
		WHERE user_roll = $1 ORDER BY updated_at DESC`, roll)
	if err != nil {
		return nil, apperror.RemoteUnavailable("list notes", err)
	}
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Note, error) {
		var n model.Note
		err := row.Scan(&n.ID, &n.OwnerRoll, &n.Title, &n.Content, &n.UpdatedAt)
		n.UpdatedAt = n.UpdatedAt.UTC()
		return n, err
	})
	if err != nil {
		return nil, apperror.RemoteUnavailable("list notes", err)
	}
	if notes == nil {
		notes = []model.Note{}
	}
	return notes, nil
}

func (s *Service) SaveNote(ctx context.Context, note model.Note) (model.Note, error) {
	note = backend.PrepareNote(note, s.now())
	_, err := s.pool.Exec(ctx, `INSERT INTO notes (id, user_roll, title, content, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET user_roll = EXCLUDED.user_roll, title = EXCLUDED.title,
			content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		note.ID, note.OwnerRoll, note.Title, note.Content, note.UpdatedAt)
	if err != nil {
		return model.Note{}, apperror.RemoteUnavailable("save note", err)
	}
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, id); err != nil {
		return apperror.RemoteUnavailable("delete note", err)
	}
	return nil
}

// =========================================================================
// RESOURCES
// =========================================================================

const insertResourceSQL = `INSERT INTO resources (id, level, term, department, subject_name, drive_link, added_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func resourceArgs(r model.Resource) []any {
	return []any{r.ID, r.Level, r.Term, r.Department, r.SubjectName, r.Link, r.AddedBy}
}

func (s *Service) ListResources(ctx context.Context, f model.ResourceFilter) ([]model.Resource, error) {
	var (
		where []string
		args  []any
	)
	if f.Level != 0 {
		args = append(args, f.Level)
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	if f.Term != 0 {
		args = append(args, f.Term)
		where = append(where, fmt.Sprintf("term = $%d", len(args)))
	}
	if f.Department != "" {
		args = append(args, f.Department)
		where = append(where, fmt.Sprintf("department = $%d", len(args)))
	}

	q := `SELECT id, level, term, department, subject_name, drive_link, added_by FROM resources`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperror.RemoteUnavailable("list resources", err)
	}
	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Resource, error) {
		var r model.Resource
		err := row.Scan(&r.ID, &r.Level, &r.Term, &r.Department, &r.SubjectName, &r.Link, &r.AddedBy)
		return r, err
	})
	if err != nil {
		return nil, apperror.RemoteUnavailable("list resources", err)
	}
	if res == nil {
		res = []model.Resource{}
	}
	return res, nil
}

func (s *Service) AddResource(ctx context.Context, res model.Resource) (model.Resource, error) {
	res = backend.PrepareResource(res)
	if _, err := s.pool.Exec(ctx, insertResourceSQL, resourceArgs(res)...); err != nil {
		if isUnique(err) {
			return model.Resource{}, apperror.Conflict("resource", res.ID)
		}
		return model.Resource{}, apperror.RemoteUnavailable("add resource", err)
	}
	return res, nil
}

// =========================================================================
// CHAT
// =========================================================================

const insertMessageSQL = `INSERT INTO messages (id, batch_id, sender_roll, sender_name, content, sent_at, is_system)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func messageArgs(m model.Message) []any {
	return []any{m.ID, m.BatchID, m.SenderRoll, m.SenderName, m.Content, m.Timestamp, m.IsSystem}
}

func (s *Service) ListMessages(ctx context.Context, batch string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, batch_id, sender_roll, sender_name, content, sent_at, is_system
		FROM messages WHERE batch_id = $1 ORDER BY sent_at, id`, batch)
	if err != nil {
		return nil, apperror.RemoteUnavailable("list messages", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var m model.Message
		err := row.Scan(&m.ID, &m.BatchID, &m.SenderRoll, &m.SenderName, &m.Content, &m.Timestamp, &m.IsSystem)
		m.Timestamp = m.Timestamp.UTC()
		return m, err
	})
	if err != nil {
		return nil, apperror.RemoteUnavailable("list messages", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

func (s *Service) SendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	msg = backend.PrepareMessage(msg, s.now())
	if _, err := s.pool.Exec(ctx, insertMessageSQL, messageArgs(msg)...); err != nil {
		return model.Message{}, apperror.RemoteUnavailable("send message", err)
	}
	return msg, nil
}

// wrap passes domain errors through and marks everything else as a remote
// failure.
func (s *Service) wrap(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.RemoteUnavailable(op, err)
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
