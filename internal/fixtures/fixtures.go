// Package fixtures holds the static seed data a fresh store starts from:
// the master roster, the welcome note, starter resources and the first
// system chat message.
//
// The YAML file is embedded into the binary. Every accessor hands out fresh
// copies; nothing here is ever mutated after Load.
package fixtures

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/campus-companion/internal/model"
)

//go:embed seed.yaml
var seedYAML []byte

const (
	// AdminRoll is the bootstrap administrator. It can always log in with the
	// bootstrap secret as long as its identity exists.
	AdminRoll = "23040401014"
	// DefaultAdminSecret is used when BOOTSTRAP_ADMIN_SECRET is not set.
	DefaultAdminSecret = "adminlogin"
)

// AvatarURL returns the generated avatar for a seed string (usually a roll).
func AvatarURL(seed string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + seed
}

type rosterFile struct {
	Users []struct {
		Roll       string   `yaml:"roll"`
		Name       string   `yaml:"name"`
		Dept       string   `yaml:"dept"`
		Batch      string   `yaml:"batch"`
		Level      int      `yaml:"level"`
		Term       int      `yaml:"term"`
		Role       string   `yaml:"role"`
		Attendance float64  `yaml:"attendance"`
		CGPA       float64  `yaml:"cgpa"`
		Failed     []string `yaml:"failed"`
	} `yaml:"users"`
	Notes []struct {
		ID      string `yaml:"id"`
		Owner   string `yaml:"owner"`
		Title   string `yaml:"title"`
		Content string `yaml:"content"`
	} `yaml:"notes"`
	Resources []struct {
		ID      string `yaml:"id"`
		Level   int    `yaml:"level"`
		Term    int    `yaml:"term"`
		Dept    string `yaml:"dept"`
		Subject string `yaml:"subject"`
		Link    string `yaml:"link"`
		AddedBy string `yaml:"addedBy"`
	} `yaml:"resources"`
	Chats []struct {
		ID         string `yaml:"id"`
		Batch      string `yaml:"batch"`
		SenderRoll string `yaml:"senderRoll"`
		SenderName string `yaml:"senderName"`
		Content    string `yaml:"content"`
		AgeMinutes int    `yaml:"ageMinutes"`
	} `yaml:"chats"`
	Departments []string `yaml:"departments"`
}

// Hasher turns a plaintext secret into its stored form.
// *auth.PasswordService satisfies it.
type Hasher interface {
	Hash(plaintext string) (string, error)
}

// Seed is the initial content of every table.
type Seed struct {
	Users       []model.Identity
	Credentials map[string]string // roll -> hashed secret
	Notes       []model.Note
	Resources   []model.Resource
	Messages    []model.Message
	Departments []string
}

// Load parses the embedded seed. Timestamps are anchored at now so the seed
// message reads "an hour ago" on a fresh install. Credentials are empty; use
// WithAdminCredential to register the bootstrap admin.
func Load(now time.Time) (Seed, error) {
	var f rosterFile
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		return Seed{}, fmt.Errorf("fixtures: parsing seed: %w", err)
	}

	s := Seed{
		Credentials: map[string]string{},
		Departments: f.Departments,
	}
	for _, u := range f.Users {
		s.Users = append(s.Users, model.Identity{
			RollNumber:        u.Roll,
			FullName:          u.Name,
			Department:        u.Dept,
			Batch:             u.Batch,
			Level:             u.Level,
			Term:              u.Term,
			Role:              model.Role(u.Role),
			AttendancePercent: u.Attendance,
			CGPA:              u.CGPA,
			FailedSubjects:    u.Failed,
			ProfileImageURL:   AvatarURL(u.Roll),
		})
	}
	for _, n := range f.Notes {
		s.Notes = append(s.Notes, model.Note{
			ID:        n.ID,
			OwnerRoll: n.Owner,
			Title:     n.Title,
			Content:   n.Content,
			UpdatedAt: now.UTC(),
		})
	}
	for _, r := range f.Resources {
		s.Resources = append(s.Resources, model.Resource{
			ID:          r.ID,
			Level:       r.Level,
			Term:        r.Term,
			Department:  r.Dept,
			SubjectName: r.Subject,
			Link:        r.Link,
			AddedBy:     r.AddedBy,
		})
	}
	for _, c := range f.Chats {
		s.Messages = append(s.Messages, model.Message{
			ID:         c.ID,
			BatchID:    c.Batch,
			SenderRoll: c.SenderRoll,
			SenderName: c.SenderName,
			Content:    c.Content,
			Timestamp:  now.Add(-time.Duration(c.AgeMinutes) * time.Minute).UTC(),
		})
	}
	return s, nil
}

// WithAdminCredential returns a copy of s whose credential table holds the
// hashed bootstrap secret for AdminRoll.
func (s Seed) WithAdminCredential(h Hasher, secret string) (Seed, error) {
	hash, err := h.Hash(secret)
	if err != nil {
		return Seed{}, fmt.Errorf("fixtures: hashing admin secret: %w", err)
	}
	out := s.Clone()
	out.Credentials[AdminRoll] = hash
	return out, nil
}

// Default loads the embedded seed with the admin credential in place.
func Default(h Hasher, adminSecret string) (Seed, error) {
	s, err := Load(time.Now())
	if err != nil {
		return Seed{}, err
	}
	return s.WithAdminCredential(h, adminSecret)
}

// Clone deep-copies the seed.
func (s Seed) Clone() Seed {
	return Seed{
		Users:       s.CloneUsers(),
		Credentials: s.CloneCredentials(),
		Notes:       append([]model.Note(nil), s.Notes...),
		Resources:   append([]model.Resource(nil), s.Resources...),
		Messages:    append([]model.Message(nil), s.Messages...),
		Departments: append([]string(nil), s.Departments...),
	}
}

func (s Seed) CloneUsers() []model.Identity {
	out := make([]model.Identity, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, u.Clone())
	}
	return out
}

func (s Seed) CloneCredentials() map[string]string {
	out := make(map[string]string, len(s.Credentials))
	for k, v := range s.Credentials {
		out[k] = v
	}
	return out
}
