// Package backend defines the persistence contract every data source of the
// companion app satisfies, plus the rules all implementations share:
// default identity synthesis, synthetic roll minting, the bootstrap admin
// check and the ordering of notes and messages.
//
// Three implementations live in subpackages:
//   - local: the Record Store on this machine
//   - postgres: a remote relational database
//   - document: a remote document store (Redis)
//
// The adapter package picks one at startup.
package backend

import (
	"context"
	"crypto/subtle"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/model"
)

// Service is the contract shared by every backend. The roll number is the
// primary key for identities, credentials and note ownership.
type Service interface {
	// Login checks a roll number + secret pair and returns the identity.
	Login(ctx context.Context, roll, secret string) (model.Identity, error)
	// LoginSocial resolves (or creates) the identity behind an external
	// sign-in. No credential is involved.
	LoginSocial(ctx context.Context, profile model.SocialProfile) (model.Identity, error)
	// Register creates a credential and, when missing, a default identity.
	Register(ctx context.Context, roll, secret, batch string) (model.Identity, error)
	// UpdateProfile merges patch into the stored identity.
	UpdateProfile(ctx context.Context, roll string, patch model.ProfilePatch) (model.Identity, error)
	// GetIdentity returns the stored identity for roll.
	GetIdentity(ctx context.Context, roll string) (model.Identity, error)
	ListBatchMembers(ctx context.Context, batch string) ([]model.Identity, error)

	ListNotes(ctx context.Context, roll string) ([]model.Note, error)
	SaveNote(ctx context.Context, note model.Note) (model.Note, error)
	DeleteNote(ctx context.Context, id string) error

	ListResources(ctx context.Context, filter model.ResourceFilter) ([]model.Resource, error)
	AddResource(ctx context.Context, res model.Resource) (model.Resource, error)

	ListMessages(ctx context.Context, batch string) ([]model.Message, error)
	SendMessage(ctx context.Context, msg model.Message) (model.Message, error)
}

// Hasher hashes and verifies login secrets. auth.PasswordService satisfies it.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// Bootstrap is the administrator pair that can always log in, provided the
// identity for Roll exists.
type Bootstrap struct {
	Roll   string
	Secret string
}

// DefaultBootstrap uses the seeded admin roll and the given secret.
func DefaultBootstrap(secret string) Bootstrap {
	if secret == "" {
		secret = fixtures.DefaultAdminSecret
	}
	return Bootstrap{Roll: fixtures.AdminRoll, Secret: secret}
}

// Matches reports whether roll/secret is the bootstrap pair.
func (b Bootstrap) Matches(roll, secret string) bool {
	if b.Roll == "" || roll != b.Roll {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(b.Secret)) == 1
}

// DefaultIdentity is the profile synthesised for a roll number that has no
// roster entry.
func DefaultIdentity(roll, batch string) model.Identity {
	suffix := roll
	if len(suffix) > 3 {
		suffix = suffix[len(suffix)-3:]
	}
	return model.Identity{
		RollNumber:        roll,
		FullName:          "Student " + suffix,
		Department:        "General",
		Batch:             batch,
		Level:             1,
		Term:              1,
		Role:              model.RoleStudent,
		AttendancePercent: 100,
		CGPA:              0,
		ProfileImageURL:   fixtures.AvatarURL(roll),
	}
}

// SocialIdentity is the identity created on a first external sign-in.
func SocialIdentity(roll string, p model.SocialProfile) model.Identity {
	id := DefaultIdentity(roll, "")
	if name := strings.TrimSpace(p.Name); name != "" {
		id.FullName = name
	} else if p.Email != "" {
		id.FullName, _, _ = strings.Cut(p.Email, "@")
	}
	id.ExternalID = p.Subject
	id.ProfileImageURL = fixtures.AvatarURL(p.Subject)
	return id
}

// syntheticSpace is the number of distinct G- rolls.
const syntheticSpace = 1_000_000

// SyntheticRoll mints the G-<n> roll for an external subject. The number is
// derived from the subject, so the same account gets the same roll on every
// backend; taken reports rolls already in use and the number is bumped past
// them.
func SyntheticRoll(subject string, taken func(roll string) bool) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	n := h.Sum32() % syntheticSpace

	for i := 0; i < syntheticSpace; i++ {
		roll := fmt.Sprintf("%s%06d", model.SyntheticRollPrefix, (n+uint32(i))%syntheticSpace)
		if taken == nil || !taken(roll) {
			return roll
		}
	}
	// Every slot taken; fall back to a unique id rather than loop forever.
	return model.SyntheticRollPrefix + xid.New().String()
}

// AuthEmail derives the login email the document store keys credentials by.
func AuthEmail(roll, domain string) string {
	return strings.ToLower(roll) + "@" + domain
}

// NewID returns a fresh record id.
func NewID() string {
	return xid.New().String()
}

// PrepareNote fills in the id of a new note and stamps UpdatedAt.
func PrepareNote(n model.Note, now time.Time) model.Note {
	if n.ID == "" {
		n.ID = NewID()
	}
	n.UpdatedAt = now.UTC()
	return n
}

// PrepareResource fills in the id of a new resource.
func PrepareResource(r model.Resource) model.Resource {
	if r.ID == "" {
		r.ID = NewID()
	}
	return r
}

// PrepareMessage fills in the id and timestamp of a new message.
func PrepareMessage(m model.Message, now time.Time) model.Message {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now.UTC()
	}
	return m
}

// SortNotes orders notes newest first.
func SortNotes(notes []model.Note) {
	slices.SortStableFunc(notes, func(a, b model.Note) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}

// SortMessages orders messages oldest first.
func SortMessages(msgs []model.Message) {
	slices.SortStableFunc(msgs, func(a, b model.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// NotesOf returns the notes owned by roll, newest first.
func NotesOf(notes []model.Note, roll string) []model.Note {
	out := make([]model.Note, 0)
	for _, n := range notes {
		if n.OwnerRoll == roll {
			out = append(out, n)
		}
	}
	SortNotes(out)
	return out
}

// FilterResources keeps the resources that match f.
func FilterResources(resources []model.Resource, f model.ResourceFilter) []model.Resource {
	out := make([]model.Resource, 0)
	for _, r := range resources {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// MessagesOf returns the messages of one batch, oldest first.
func MessagesOf(msgs []model.Message, batch string) []model.Message {
	out := make([]model.Message, 0)
	for _, m := range msgs {
		if m.BatchID == batch {
			out = append(out, m)
		}
	}
	SortMessages(out)
	return out
}
