package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/model"
)

// =========================================================================
// MOCK BACKEND
// =========================================================================
//
// mockBackend records what reached the backend. Methods a test does not
// exercise panic through the nil embedded interface, which flags an
// unexpected call immediately.

type mockBackend struct {
	backend.Service

	calls     int
	lastRoll  string
	lastPatch model.ProfilePatch
	lastNote  model.Note
	lastRes   model.Resource
	lastMsg   model.Message
	err       error
}

func (m *mockBackend) Login(_ context.Context, roll, _ string) (model.Identity, error) {
	m.calls++
	m.lastRoll = roll
	return model.Identity{RollNumber: roll}, m.err
}

func (m *mockBackend) Register(_ context.Context, roll, _, batch string) (model.Identity, error) {
	m.calls++
	m.lastRoll = roll
	return backend.DefaultIdentity(roll, batch), m.err
}

func (m *mockBackend) LoginSocial(_ context.Context, p model.SocialProfile) (model.Identity, error) {
	m.calls++
	return model.Identity{RollNumber: "G-000001", ExternalID: p.Subject}, m.err
}

func (m *mockBackend) UpdateProfile(_ context.Context, roll string, p model.ProfilePatch) (model.Identity, error) {
	m.calls++
	m.lastRoll = roll
	m.lastPatch = p
	return p.Apply(model.Identity{RollNumber: roll}), m.err
}

func (m *mockBackend) ListBatchMembers(_ context.Context, batch string) ([]model.Identity, error) {
	m.calls++
	return nil, m.err
}

func (m *mockBackend) SaveNote(_ context.Context, n model.Note) (model.Note, error) {
	m.calls++
	m.lastNote = n
	return n, m.err
}

func (m *mockBackend) DeleteNote(_ context.Context, id string) error {
	m.calls++
	return m.err
}

func (m *mockBackend) AddResource(_ context.Context, r model.Resource) (model.Resource, error) {
	m.calls++
	m.lastRes = r
	r.ID = "res-1"
	return r, m.err
}

func (m *mockBackend) SendMessage(_ context.Context, msg model.Message) (model.Message, error) {
	m.calls++
	m.lastMsg = msg
	return msg, m.err
}

// fakeAvatars turns every value into a fixed URL.
type fakeAvatars struct {
	err   error
	calls int
}

func (f *fakeAvatars) Offload(_ context.Context, roll, value string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/avatars/" + roll + ".png", nil
}

func newTestCompanion(b backend.Service, avatars AvatarStore) *Companion {
	return NewCompanion(b, avatars, []string{"YE", "FE", "AE", "WPE"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ptr[T any](v T) *T { return &v }

// assertValidation checks err is a validation failure on field.
func assertValidation(t *testing.T, err error, field string) {
	t.Helper()
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("error = %v, want a validation error", err)
	}
	if appErr.Field != field {
		t.Errorf("Field = %q, want %q", appErr.Field, field)
	}
}

// =========================================================================
// IDENTITY
// =========================================================================

func TestLogin_TrimsAndValidates(t *testing.T) {
	mb := &mockBackend{}
	c := newTestCompanion(mb, nil)

	if _, err := c.Login(context.Background(), "  23040401014 ", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if mb.lastRoll != "23040401014" {
		t.Errorf("backend saw roll %q, want trimmed", mb.lastRoll)
	}

	_, err := c.Login(context.Background(), "", "secret")
	assertValidation(t, err, "rollNumber")

	_, err = c.Login(context.Background(), "23040401014", "")
	assertValidation(t, err, "password")

	if mb.calls != 1 {
		t.Errorf("backend called %d times, want 1", mb.calls)
	}
}

func TestLogin_PassesDomainErrorsThrough(t *testing.T) {
	c := newTestCompanion(&mockBackend{err: apperror.InvalidCredential()}, nil)

	_, err := c.Login(context.Background(), "23040401014", "wrong")
	if !errors.Is(err, apperror.ErrInvalidCredential) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredential", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name, roll, secret, field string
	}{
		{"empty roll", "", "pass", "rollNumber"},
		{"roll with symbols", "G-12", "pass", "rollNumber"},
		{"short secret", "24050501777", "abc", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCompanion(&mockBackend{}, nil)
			_, err := c.Register(context.Background(), tt.roll, tt.secret, "16th Batch")
			assertValidation(t, err, tt.field)
		})
	}

	mb := &mockBackend{}
	id, err := newTestCompanion(mb, nil).Register(context.Background(), "24050501777", "pass-1234", " 16th Batch ")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if id.Batch != "16th Batch" {
		t.Errorf("Batch = %q, want trimmed", id.Batch)
	}
}

func TestLoginSocial_RequiresSubject(t *testing.T) {
	c := newTestCompanion(&mockBackend{}, nil)

	_, err := c.LoginSocial(context.Background(), model.SocialProfile{Email: "a@b.c"})
	assertValidation(t, err, "subject")
}

// =========================================================================
// PROFILE
// =========================================================================

func TestUpdateProfile_Validation(t *testing.T) {
	tests := []struct {
		name  string
		patch model.ProfilePatch
		field string
	}{
		{"empty patch", model.ProfilePatch{}, ""},
		{"blank name", model.ProfilePatch{FullName: ptr("   ")}, "fullName"},
		{"synthetic roll", model.ProfilePatch{RollNumber: ptr("G-000001")}, "rollNumber"},
		{"level out of range", model.ProfilePatch{Level: ptr(9)}, "level"},
		{"cgpa out of range", model.ProfilePatch{CGPA: ptr(4.5)}, "cgpa"},
		{"attendance out of range", model.ProfilePatch{AttendancePercent: ptr(120.0)}, "attendancePercent"},
		{"unknown role", model.ProfilePatch{Role: ptr(model.Role("dean"))}, "role"},
		{"avatar not a URL", model.ProfilePatch{ProfileImageURL: ptr("my face")}, "profileImageUrl"},
		{"avatar too large", model.ProfilePatch{ProfileImageURL: ptr("data:image/png;base64," + strings.Repeat("A", 1<<20))}, "profileImageUrl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := &mockBackend{}
			_, err := newTestCompanion(mb, nil).UpdateProfile(context.Background(), "G-000001", tt.patch)
			assertValidation(t, err, tt.field)
			if mb.calls != 0 {
				t.Error("an invalid patch must not reach the backend")
			}
		})
	}
}

func TestAuthorizeSelfUpdate(t *testing.T) {
	student := model.Identity{RollNumber: "24050501777", Role: model.RoleStudent}
	social := model.Identity{RollNumber: "G-000042", Role: model.RoleStudent}
	admin := model.Identity{RollNumber: "23040401014", Role: model.RoleAdmin}

	tests := []struct {
		name  string
		me    model.Identity
		patch model.ProfilePatch
		field string // empty means allowed
	}{
		{"contact details", student, model.ProfilePatch{PhoneNumber: ptr("017"), FullName: ptr("Sadia"), Batch: ptr("16th Batch")}, ""},
		{"avatar", student, model.ProfilePatch{ProfileImageURL: ptr("https://x/y.png")}, ""},
		{"same role", student, model.ProfilePatch{Role: ptr(model.RoleStudent)}, ""},
		{"promote", student, model.ProfilePatch{Role: ptr(model.RoleCR)}, "role"},
		{"cgpa", student, model.ProfilePatch{CGPA: ptr(4.0)}, "cgpa"},
		{"failed subjects", student, model.ProfilePatch{FailedSubjects: &[]string{}}, "failedSubjects"},
		{"department", student, model.ProfilePatch{Department: ptr("WPE")}, "department"},
		{"roll when already set", student, model.ProfilePatch{RollNumber: ptr("24050501999")}, "rollNumber"},
		{"same roll", student, model.ProfilePatch{RollNumber: ptr("24050501777")}, ""},
		{"roll from synthetic", social, model.ProfilePatch{RollNumber: ptr("24050501999")}, ""},
		{"admin anything", admin, model.ProfilePatch{CGPA: ptr(3.9), Role: ptr(model.RoleCR), RollNumber: ptr("23049999999")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AuthorizeSelfUpdate(tt.me, tt.patch)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("AuthorizeSelfUpdate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, apperror.ErrForbidden) {
				t.Fatalf("AuthorizeSelfUpdate() error = %v, want forbidden", err)
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.field)
			}
		})
	}
}

func TestUpdateProfile_TrimsFields(t *testing.T) {
	mb := &mockBackend{}
	c := newTestCompanion(mb, nil)

	got, err := c.UpdateProfile(context.Background(), "G-000001", model.ProfilePatch{RollNumber: ptr(" 24050501888 ")})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if got.RollNumber != "24050501888" {
		t.Errorf("RollNumber = %q", got.RollNumber)
	}
}

func TestUpdateProfile_OffloadsAvatar(t *testing.T) {
	mb := &mockBackend{}
	av := &fakeAvatars{}
	c := newTestCompanion(mb, av)

	_, err := c.UpdateProfile(context.Background(), "23040401014", model.ProfilePatch{ProfileImageURL: ptr("data:image/png;base64,AAAA")})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if av.calls != 1 {
		t.Errorf("Offload called %d times, want 1", av.calls)
	}
	if got := *mb.lastPatch.ProfileImageURL; got != "https://cdn.example.com/avatars/23040401014.png" {
		t.Errorf("backend saw avatar %q", got)
	}
}

func TestUpdateProfile_AvatarFailureStopsUpdate(t *testing.T) {
	mb := &mockBackend{}
	c := newTestCompanion(mb, &fakeAvatars{err: apperror.RemoteUnavailable("avatar upload", errors.New("denied"))})

	_, err := c.UpdateProfile(context.Background(), "23040401014", model.ProfilePatch{ProfileImageURL: ptr("data:image/png;base64,AAAA")})
	if !errors.Is(err, apperror.ErrRemoteUnavailable) {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if mb.calls != 0 {
		t.Error("backend should not be called when the upload fails")
	}
}

func TestUpdateProfile_NoAvatarStoreKeepsValue(t *testing.T) {
	mb := &mockBackend{}
	c := newTestCompanion(mb, nil)

	in := "data:image/png;base64,AAAA"
	if _, err := c.UpdateProfile(context.Background(), "23040401014", model.ProfilePatch{ProfileImageURL: &in}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if *mb.lastPatch.ProfileImageURL != in {
		t.Error("without an avatar store the data URI is stored as sent")
	}
}

func TestListBatchMembers_RequiresBatch(t *testing.T) {
	c := newTestCompanion(&mockBackend{}, nil)

	_, err := c.ListBatchMembers(context.Background(), " ")
	assertValidation(t, err, "batch")
}

// =========================================================================
// NOTES / RESOURCES / CHAT
// =========================================================================

func TestSaveNote(t *testing.T) {
	mb := &mockBackend{}
	c := newTestCompanion(mb, nil)

	_, err := c.SaveNote(context.Background(), model.Note{OwnerRoll: "r", Title: "  "})
	assertValidation(t, err, "title")

	if _, err := c.SaveNote(context.Background(), model.Note{OwnerRoll: "r", Title: " Thermo "}); err != nil {
		t.Fatalf("SaveNote() error = %v", err)
	}
	if mb.lastNote.Title != "Thermo" {
		t.Errorf("Title = %q, want trimmed", mb.lastNote.Title)
	}
}

func TestDeleteNote_RequiresID(t *testing.T) {
	c := newTestCompanion(&mockBackend{}, nil)
	assertValidation(t, c.DeleteNote(context.Background(), ""), "id")
}

func TestAddResource(t *testing.T) {
	valid := model.Resource{Level: 2, Term: 1, Department: "ae", SubjectName: "Thermo", Link: "https://drive.google.com/x", AddedBy: "r"}

	tests := []struct {
		name   string
		mutate func(r *model.Resource)
		field  string
	}{
		{"bad level", func(r *model.Resource) { r.Level = 0 }, "level"},
		{"bad term", func(r *model.Resource) { r.Term = 4 }, "term"},
		{"no subject", func(r *model.Resource) { r.SubjectName = "" }, "subjectName"},
		{"bad link", func(r *model.Resource) { r.Link = "not a link" }, "driveLink"},
		{"unknown department", func(r *model.Resource) { r.Department = "CSE" }, "department"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			_, err := newTestCompanion(&mockBackend{}, nil).AddResource(context.Background(), r)
			assertValidation(t, err, tt.field)
		})
	}

	mb := &mockBackend{}
	got, err := newTestCompanion(mb, nil).AddResource(context.Background(), valid)
	if err != nil {
		t.Fatalf("AddResource() error = %v", err)
	}
	if got.ID == "" || mb.lastRes.Department != "AE" {
		t.Errorf("AddResource() = %+v, backend saw %+v", got, mb.lastRes)
	}
}

func TestSendMessage(t *testing.T) {
	mb := &mockBackend{}
	c := newTestCompanion(mb, nil)

	_, err := c.SendMessage(context.Background(), model.Message{BatchID: "15th Batch", SenderRoll: "r", Content: "  "})
	assertValidation(t, err, "content")

	if _, err := c.SendMessage(context.Background(), model.Message{BatchID: "15th Batch", SenderRoll: "r", Content: " hi "}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if mb.lastMsg.Content != "hi" {
		t.Errorf("Content = %q", mb.lastMsg.Content)
	}
}

func TestDepartments_ReturnsCopy(t *testing.T) {
	c := newTestCompanion(&mockBackend{}, nil)

	d := c.Departments()
	d[0] = "XX"
	if c.Departments()[0] != "YE" {
		t.Error("Departments() leaked its backing slice")
	}
}
