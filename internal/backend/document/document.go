// Package document implements backend.Service over a remote document store
// reached through the Redis protocol.
//
// Layout, with every key under the project id:
//
//	<p>:users               set of roll numbers
//	<p>:users:<roll>        Identity JSON
//	<p>:external:<subject>  roll number of a social account
//	<p>:auth:<email>        secret hash, keyed by the derived login email
//	<p>:notes:<id>          Note JSON
//	<p>:notes:owner:<roll>  set of note ids
//	<p>:resources           list of Resource JSON, append order
//	<p>:chats:<batch>       sorted set of Message JSON scored by unix millis
//	<p>:seeded              seed marker, written with SETNX
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/model"
)

// DefaultProjectID namespaces keys when no project id is configured.
const DefaultProjectID = "campus"

// Config describes the remote project.
type Config struct {
	Addr       string
	APIKey     string
	ProjectID  string
	AuthDomain string
}

// Service is the document-store backend.
type Service struct {
	rdb       *redis.Client
	project   string
	domain    string
	hasher    backend.Hasher
	bootstrap backend.Bootstrap
	logger    *slog.Logger
	now       func() time.Time
}

var _ backend.Service = (*Service)(nil)

// Open dials the store, checks it answers and seeds it.
func Open(ctx context.Context, cfg Config, seed fixtures.Seed, hasher backend.Hasher, boot backend.Bootstrap, logger *slog.Logger) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.APIKey,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("document: ping %s: %w", cfg.Addr, err)
	}

	s, err := New(ctx, rdb, cfg, seed, hasher, boot, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client and seeds the project if needed.
func New(ctx context.Context, rdb *redis.Client, cfg Config, seed fixtures.Seed, hasher backend.Hasher, boot backend.Bootstrap, logger *slog.Logger) (*Service, error) {
	project := cfg.ProjectID
	if project == "" {
		project = DefaultProjectID
	}
	domain := cfg.AuthDomain
	if domain == "" {
		domain = project + ".local"
	}

	s := &Service{
		rdb:       rdb,
		project:   project,
		domain:    domain,
		hasher:    hasher,
		bootstrap: boot,
		logger:    logger,
		now:       time.Now,
	}
	if err := s.seed(ctx, seed); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying client.
func (s *Service) Close() error {
	return s.rdb.Close()
}

func (s *Service) key(parts ...string) string {
	return s.project + ":" + strings.Join(parts, ":")
}

func (s *Service) userKey(roll string) string { return s.key("users", roll) }
func (s *Service) authKey(roll string) string { return s.key("auth", backend.AuthEmail(roll, s.domain)) }
func (s *Service) noteKey(id string) string   { return s.key("notes", id) }
func (s *Service) ownerKey(roll string) string {
	return s.key("notes", "owner", roll)
}
func (s *Service) chatKey(batch string) string { return s.key("chats", batch) }

func (s *Service) seed(ctx context.Context, seed fixtures.Seed) error {
	ok, err := s.rdb.SetNX(ctx, s.key("seeded"), s.now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return fmt.Errorf("document: seed marker: %w", err)
	}
	if !ok {
		return nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, u := range seed.Users {
			if err := s.queueUser(ctx, p, u); err != nil {
				return err
			}
		}
		for roll, hash := range seed.Credentials {
			p.Set(ctx, s.authKey(roll), hash, 0)
		}
		for _, n := range seed.Notes {
			if err := s.queueNote(ctx, p, n); err != nil {
				return err
			}
		}
		for _, r := range seed.Resources {
			raw, err := json.Marshal(r)
			if err != nil {
				return err
			}
			p.RPush(ctx, s.key("resources"), raw)
		}
		for _, m := range seed.Messages {
			if err := s.queueMessage(ctx, p, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Let the next start try again.
		s.rdb.Del(ctx, s.key("seeded"))
		return fmt.Errorf("document: seeding: %w", err)
	}
	s.logger.Info("seeded document backend", slog.Int("users", len(seed.Users)), slog.String("project", s.project))
	return nil
}

func (s *Service) queueUser(ctx context.Context, p redis.Pipeliner, u model.Identity) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("document: encoding user: %w", err)
	}
	p.Set(ctx, s.userKey(u.RollNumber), raw, 0)
	p.SAdd(ctx, s.key("users"), u.RollNumber)
	if u.ExternalID != "" {
		p.Set(ctx, s.key("external", u.ExternalID), u.RollNumber, 0)
	}
	return nil
}

func (s *Service) queueNote(ctx context.Context, p redis.Pipeliner, n model.Note) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("document: encoding note: %w", err)
	}
	p.Set(ctx, s.noteKey(n.ID), raw, 0)
	p.SAdd(ctx, s.ownerKey(n.OwnerRoll), n.ID)
	return nil
}

func (s *Service) queueMessage(ctx context.Context, p redis.Pipeliner, m model.Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("document: encoding message: %w", err)
	}
	p.ZAdd(ctx, s.chatKey(m.BatchID), redis.Z{Score: float64(m.Timestamp.UnixMilli()), Member: raw})
	return nil
}

// getJSON decodes the document at key into v. found is false on a missing key.
func (s *Service) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("document: decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *Service) getUser(ctx context.Context, roll string) (model.Identity, bool, error) {
	var u model.Identity
	ok, err := s.getJSON(ctx, s.userKey(roll), &u)
	return u, ok, err
}

// =========================================================================
// IDENTITY
// =========================================================================

func (s *Service) Login(ctx context.Context, roll, secret string) (model.Identity, error) {
	if s.bootstrap.Matches(roll, secret) {
		u, ok, err := s.getUser(ctx, roll)
		if err != nil {
			return model.Identity{}, apperror.RemoteUnavailable("login", err)
		}
		if ok {
			return u, nil
		}
	}

	hash, err := s.rdb.Get(ctx, s.authKey(roll)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Identity{}, apperror.NotRegistered()
	}
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("login", err)
	}
	if err := s.hasher.Verify(hash, secret); err != nil {
		return model.Identity{}, apperror.InvalidCredential()
	}

	u, ok, err := s.getUser(ctx, roll)
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

	extKey := s.key("external", p.Subject)
	roll, err := s.rdb.Get(ctx, extKey).Result()
	switch {
	case err == nil:
		u, ok, err := s.getUser(ctx, roll)
		if err != nil {
			return model.Identity{}, apperror.RemoteUnavailable("social login", err)
		}
		if ok {
			return u, nil
		}
		// Dangling mapping: recreate the identity below.
	case !errors.Is(err, redis.Nil):
		return model.Identity{}, apperror.RemoteUnavailable("social login", err)
	}

	var lookupErr error
	roll = backend.SyntheticRoll(p.Subject, func(r string) bool {
		var n int64
		n, lookupErr = s.rdb.Exists(ctx, s.userKey(r)).Result()
		return n > 0
	})
	if lookupErr != nil {
		return model.Identity{}, apperror.RemoteUnavailable("social login", lookupErr)
	}
	id := backend.SocialIdentity(roll, p)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.queueUser(ctx, pipe, id)
	})
	if err != nil {
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

	// SETNX makes the credential write the exclusivity check.
	created, err := s.rdb.SetNX(ctx, s.authKey(roll), hash, 0).Result()
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("register", err)
	}
	if !created {
		return model.Identity{}, apperror.AlreadyRegistered()
	}

	u, ok, err := s.getUser(ctx, roll)
	if err != nil {
		s.rdb.Del(ctx, s.authKey(roll))
		return model.Identity{}, apperror.RemoteUnavailable("register", err)
	}
	if !ok {
		u = backend.DefaultIdentity(roll, batch)
	} else if batch != "" {
		u.Batch = batch
	}

	if _, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return s.queueUser(ctx, p, u)
	}); err != nil {
		s.rdb.Del(ctx, s.authKey(roll))
		return model.Identity{}, apperror.RemoteUnavailable("register", err)
	}
	return u, nil
}

func (s *Service) UpdateProfile(ctx context.Context, roll string, patch model.ProfilePatch) (model.Identity, error) {
	u, ok, err := s.getUser(ctx, roll)
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("update profile", err)
	}
	if !ok {
		return model.Identity{}, apperror.NotFound("user", roll)
	}

	merged := patch.Apply(u)
	renamed := merged.RollNumber != roll

	var (
		hasCredential bool
		notes         []model.Note
	)
	if renamed {
		raw, err := json.Marshal(merged)
		if err != nil {
			return model.Identity{}, fmt.Errorf("document: encoding user: %w", err)
		}
		claimed, err := s.rdb.SetNX(ctx, s.userKey(merged.RollNumber), raw, 0).Result()
		if err != nil {
			return model.Identity{}, apperror.RemoteUnavailable("update profile", err)
		}
		if !claimed {
			return model.Identity{}, apperror.Conflict("user", merged.RollNumber)
		}

		n, err := s.rdb.Exists(ctx, s.authKey(roll)).Result()
		if err != nil {
			return model.Identity{}, apperror.RemoteUnavailable("update profile", err)
		}
		hasCredential = n > 0
		if notes, err = s.ListNotes(ctx, roll); err != nil {
			return model.Identity{}, err
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if renamed {
			p.Del(ctx, s.userKey(roll))
			p.SRem(ctx, s.key("users"), roll)
			if hasCredential {
				p.Rename(ctx, s.authKey(roll), s.authKey(merged.RollNumber))
			}
			p.Del(ctx, s.ownerKey(roll))
			for _, n := range notes {
				n.OwnerRoll = merged.RollNumber
				if err := s.queueNote(ctx, p, n); err != nil {
					return err
				}
			}
		}
		return s.queueUser(ctx, p, merged)
	})
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("update profile", err)
	}
	return merged, nil
}

func (s *Service) GetIdentity(ctx context.Context, roll string) (model.Identity, error) {
	u, ok, err := s.getUser(ctx, roll)
	if err != nil {
		return model.Identity{}, apperror.RemoteUnavailable("get identity", err)
	}
	if !ok {
		return model.Identity{}, apperror.NotFound("identity", roll)
	}
	return u, nil
}

// ListBatchMembers returns every identity in the batch, registered or not.
func (s *Service) ListBatchMembers(ctx context.Context, batch string) ([]model.Identity, error) {
	rolls, err := s.rdb.SMembers(ctx, s.key("users")).Result()
	if err != nil {
		return nil, apperror.RemoteUnavailable("list members", err)
	}

	out := make([]model.Identity, 0)
	if len(rolls) == 0 {
		return out, nil
	}

	keys := make([]string, len(rolls))
	for i, r := range rolls {
		keys[i] = s.userKey(r)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperror.RemoteUnavailable("list members", err)
	}

	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var u model.Identity
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			s.logger.Warn("skipping unreadable identity", slog.String("error", err.Error()))
			continue
		}
		if u.Batch == batch {
			out = append(out, u)
		}
	}
	return out, nil
}

// =========================================================================
// NOTES
// =========================================================================

func (s *Service) ListNotes(ctx context.Context, roll string) ([]model.Note, error) {
	ids, err := s.rdb.SMembers(ctx, s.ownerKey(roll)).Result()
	if err != nil {
		return nil, apperror.RemoteUnavailable("list notes", err)
	}

	notes := make([]model.Note, 0, len(ids))
	for _, id := range ids {
		var n model.Note
		ok, err := s.getJSON(ctx, s.noteKey(id), &n)
		if err != nil {
			return nil, apperror.RemoteUnavailable("list notes", err)
		}
		if ok {
			notes = append(notes, n)
		}
	}
	backend.SortNotes(notes)
	return notes, nil
}

func (s *Service) SaveNote(ctx context.Context, note model.Note) (model.Note, error) {
	note = backend.PrepareNote(note, s.now())

	var prev model.Note
	found, err := s.getJSON(ctx, s.noteKey(note.ID), &prev)
	if err != nil {
		return model.Note{}, apperror.RemoteUnavailable("save note", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if found && prev.OwnerRoll != note.OwnerRoll {
			p.SRem(ctx, s.ownerKey(prev.OwnerRoll), note.ID)
		}
		return s.queueNote(ctx, p, note)
	})
	if err != nil {
		return model.Note{}, apperror.RemoteUnavailable("save note", err)
	}
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, id string) error {
	var n model.Note
	found, err := s.getJSON(ctx, s.noteKey(id), &n)
	if err != nil {
		return apperror.RemoteUnavailable("delete note", err)
	}
	if !found {
		return nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.noteKey(id))
		p.SRem(ctx, s.ownerKey(n.OwnerRoll), id)
		return nil
	})
	if err != nil {
		return apperror.RemoteUnavailable("delete note", err)
	}
	return nil
}

// =========================================================================
// RESOURCES
// =========================================================================

func (s *Service) ListResources(ctx context.Context, f model.ResourceFilter) ([]model.Resource, error) {
	raws, err := s.rdb.LRange(ctx, s.key("resources"), 0, -1).Result()
	if err != nil {
		return nil, apperror.RemoteUnavailable("list resources", err)
	}

	all := make([]model.Resource, 0, len(raws))
	for _, raw := range raws {
		var r model.Resource
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.logger.Warn("skipping unreadable resource", slog.String("error", err.Error()))
			continue
		}
		all = append(all, r)
	}
	return backend.FilterResources(all, f), nil
}

func (s *Service) AddResource(ctx context.Context, res model.Resource) (model.Resource, error) {
	res = backend.PrepareResource(res)
	raw, err := json.Marshal(res)
	if err != nil {
		return model.Resource{}, fmt.Errorf("document: encoding resource: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.key("resources"), raw).Err(); err != nil {
		return model.Resource{}, apperror.RemoteUnavailable("add resource", err)
	}
	return res, nil
}

// =========================================================================
// CHAT
// =========================================================================

func (s *Service) ListMessages(ctx context.Context, batch string) ([]model.Message, error) {
	raws, err := s.rdb.ZRange(ctx, s.chatKey(batch), 0, -1).Result()
	if err != nil {
		return nil, apperror.RemoteUnavailable("list messages", err)
	}

	msgs := make([]model.Message, 0, len(raws))
	for _, raw := range raws {
		var m model.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Warn("skipping unreadable message", slog.String("error", err.Error()))
			continue
		}
		msgs = append(msgs, m)
	}
	// Members sharing a score come back in lexical order.
	backend.SortMessages(msgs)
	return msgs, nil
}

func (s *Service) SendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	msg = backend.PrepareMessage(msg, s.now())
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return s.queueMessage(ctx, p, msg)
	})
	if err != nil {
		return model.Message{}, apperror.RemoteUnavailable("send message", err)
	}
	return msg, nil
}
