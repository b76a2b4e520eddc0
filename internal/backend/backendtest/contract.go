// Package backendtest holds the behaviour every backend.Service must share.
// Each implementation's tests call Run with a constructor that returns a
// backend seeded from fixtures.Default with the default admin secret.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/model"
)

// Factory returns a freshly seeded backend.
type Factory func(t *testing.T) backend.Service

// RosterRoll is a seeded roster entry that has no credential.
const RosterRoll = "23040401015"

// Run executes the shared contract against backends built by newService.
func Run(t *testing.T, newService Factory) {
	t.Helper()

	t.Run("BootstrapAdminLogin", func(t *testing.T) { testBootstrapAdminLogin(t, newService(t)) })
	t.Run("LoginUnknownRoll", func(t *testing.T) { testLoginUnknownRoll(t, newService(t)) })
	t.Run("RegisterThenLogin", func(t *testing.T) { testRegisterThenLogin(t, newService(t)) })
	t.Run("RegisterRosterRoll", func(t *testing.T) { testRegisterRosterRoll(t, newService(t)) })
	t.Run("UpdateProfile", func(t *testing.T) { testUpdateProfile(t, newService(t)) })
	t.Run("RenameMovesAccount", func(t *testing.T) { testRenameMovesAccount(t, newService(t)) })
	t.Run("GetIdentity", func(t *testing.T) { testGetIdentity(t, newService(t)) })
	t.Run("SocialLogin", func(t *testing.T) { testSocialLogin(t, newService(t)) })
	t.Run("Notes", func(t *testing.T) { testNotes(t, newService(t)) })
	t.Run("Resources", func(t *testing.T) { testResources(t, newService(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newService(t)) })
	t.Run("BatchMembers", func(t *testing.T) { testBatchMembers(t, newService(t)) })
}

func testBootstrapAdminLogin(t *testing.T, svc backend.Service) {
	ctx := context.Background()

	id, err := svc.Login(ctx, fixtures.AdminRoll, fixtures.DefaultAdminSecret)
	require.NoError(t, err)
	assert.Equal(t, fixtures.AdminRoll, id.RollNumber)
	assert.Equal(t, model.RoleAdmin, id.Role)

	_, err = svc.Login(ctx, fixtures.AdminRoll, "not-the-secret")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredential)
}

func testLoginUnknownRoll(t *testing.T, svc backend.Service) {
	_, err := svc.Login(context.Background(), "99999999999", "whatever")
	assert.ErrorIs(t, err, apperror.ErrNotRegistered)

	// Roster entries exist but have no credential until they register.
	_, err = svc.Login(context.Background(), RosterRoll, "whatever")
	assert.ErrorIs(t, err, apperror.ErrNotRegistered)
}

func testRegisterThenLogin(t *testing.T, svc backend.Service) {
	ctx := context.Background()
	const roll = "24050501777"

	id, err := svc.Register(ctx, roll, "s3cret-pass", "16th Batch")
	require.NoError(t, err)
	want := backend.DefaultIdentity(roll, "16th Batch")
	assert.Equal(t, want.RollNumber, id.RollNumber)
	assert.Equal(t, want.FullName, id.FullName)
	assert.Equal(t, want.Department, id.Department)
	assert.Equal(t, model.RoleStudent, id.Role)
	assert.Equal(t, 100.0, id.AttendancePercent)

	got, err := svc.Login(ctx, roll, "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "Student 777", got.FullName)
	assert.Equal(t, "16th Batch", got.Batch)

	_, err = svc.Login(ctx, roll, "wrong")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredential)

	_, err = svc.Register(ctx, roll, "another", "16th Batch")
	assert.ErrorIs(t, err, apperror.ErrAlreadyRegistered)
}

func testRegisterRosterRoll(t *testing.T, svc backend.Service) {
	ctx := context.Background()

	id, err := svc.Register(ctx, RosterRoll, "pass-1234", "15th Batch")
	require.NoError(t, err)
	assert.Equal(t, "MD. MOSTAKIMUR RAHMAN RIMAN", id.FullName, "roster profile must be kept")
	assert.Equal(t, "AE", id.Department)
}

func testUpdateProfile(t *testing.T, svc backend.Service) {
	ctx := context.Background()

	phone := "01700000000"
	level := 4
	got, err := svc.UpdateProfile(ctx, fixtures.AdminRoll, model.ProfilePatch{PhoneNumber: &phone, Level: &level})
	require.NoError(t, err)
	assert.Equal(t, phone, got.PhoneNumber)
	assert.Equal(t, 4, got.Level)
	assert.Equal(t, "MD. TARIKUL ISLAM SOHAG", got.FullName, "unpatched fields survive")

	again, err := svc.Login(ctx, fixtures.AdminRoll, fixtures.DefaultAdminSecret)
	require.NoError(t, err)
	assert.Equal(t, phone, again.PhoneNumber)

	_, err = svc.UpdateProfile(ctx, "00000000000", model.ProfilePatch{PhoneNumber: &phone})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testRenameMovesAccount(t *testing.T, svc backend.Service) {
	ctx := context.Background()
	const oldRoll, newRoll = "24050501777", "24050501999"

	_, err := svc.Register(ctx, oldRoll, "s3cret-pass", "16th Batch")
	require.NoError(t, err)
	note, err := svc.SaveNote(ctx, model.Note{OwnerRoll: oldRoll, Title: "Knitting"})
	require.NoError(t, err)

	roll := newRoll
	got, err := svc.UpdateProfile(ctx, oldRoll, model.ProfilePatch{RollNumber: &roll})
	require.NoError(t, err)
	assert.Equal(t, newRoll, got.RollNumber)

	again, err := svc.Login(ctx, newRoll, "s3cret-pass")
	require.NoError(t, err, "the credential follows the roll")
	assert.Equal(t, "16th Batch", again.Batch)

	_, err = svc.Login(ctx, oldRoll, "s3cret-pass")
	assert.ErrorIs(t, err, apperror.ErrNotRegistered)

	_, err = svc.GetIdentity(ctx, oldRoll)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	notes, err := svc.ListNotes(ctx, newRoll)
	require.NoError(t, err)
	require.Len(t, notes, 1, "notes follow the roll")
	assert.Equal(t, note.ID, notes[0].ID)
	assert.Equal(t, newRoll, notes[0].OwnerRoll)

	left, err := svc.ListNotes(ctx, oldRoll)
	require.NoError(t, err)
	assert.Empty(t, left)

	admin := fixtures.AdminRoll
	_, err = svc.UpdateProfile(ctx, newRoll, model.ProfilePatch{RollNumber: &admin})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func testGetIdentity(t *testing.T, svc backend.Service) {
	ctx := context.Background()

	id, err := svc.GetIdentity(ctx, RosterRoll)
	require.NoError(t, err)
	assert.Equal(t, "AE", id.Department)

	_, err = svc.GetIdentity(ctx, "00000000000")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testSocialLogin(t *testing.T, svc backend.Service) {
	ctx := context.Background()
	p := model.SocialProfile{Subject: "google-1098", Email: "ayesha@example.com", Name: "Ayesha Siddika"}

	first, err := svc.LoginSocial(ctx, p)
	require.NoError(t, err)
	assert.True(t, first.IsSynthetic())
	assert.False(t, first.IsProfileComplete())
	assert.Equal(t, "Ayesha Siddika", first.FullName)

	second, err := svc.LoginSocial(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, first.RollNumber, second.RollNumber, "same subject resolves to the same identity")

	// Completing the profile keeps the link to the external account.
	roll := "24050501888"
	done, err := svc.UpdateProfile(ctx, first.RollNumber, model.ProfilePatch{RollNumber: &roll})
	require.NoError(t, err)
	assert.True(t, done.IsProfileComplete())

	third, err := svc.LoginSocial(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, roll, third.RollNumber)
}

func testNotes(t *testing.T, svc backend.Service) {
	ctx := context.Background()
	const owner = "24050501777"

	first, err := svc.SaveNote(ctx, model.Note{OwnerRoll: owner, Title: "Thermo", Content: "cycles"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.False(t, first.UpdatedAt.IsZero())

	time.Sleep(5 * time.Millisecond)
	second, err := svc.SaveNote(ctx, model.Note{OwnerRoll: owner, Title: "Fluids"})
	require.NoError(t, err)

	notes, err := svc.ListNotes(ctx, owner)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, second.ID, notes[0].ID, "newest first")

	time.Sleep(5 * time.Millisecond)
	first.Content = "Carnot and Rankine"
	_, err = svc.SaveNote(ctx, first)
	require.NoError(t, err)

	notes, err = svc.ListNotes(ctx, owner)
	require.NoError(t, err)
	require.Len(t, notes, 2, "upsert must not duplicate")
	assert.Equal(t, first.ID, notes[0].ID)
	assert.Equal(t, "Carnot and Rankine", notes[0].Content)

	require.NoError(t, svc.DeleteNote(ctx, first.ID))
	require.NoError(t, svc.DeleteNote(ctx, "does-not-exist"))

	notes, err = svc.ListNotes(ctx, owner)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, second.ID, notes[0].ID)

	admin, err := svc.ListNotes(ctx, fixtures.AdminRoll)
	require.NoError(t, err)
	require.Len(t, admin, 1, "seeded welcome note")
}

func testResources(t *testing.T, svc backend.Service) {
	ctx := context.Background()

	got, err := svc.ListResources(ctx, model.ResourceFilter{Level: 2, Term: 1, Department: "AE"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Data Structures", got[0].SubjectName)

	added, err := svc.AddResource(ctx, model.Resource{Level: 2, Term: 1, Department: "AE", SubjectName: "Thermodynamics", Link: "https://drive.example/x", AddedBy: fixtures.AdminRoll})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	got, err = svc.ListResources(ctx, model.ResourceFilter{Level: 2, Term: 1, Department: "AE"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	all, err := svc.ListResources(ctx, model.ResourceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testMessages(t *testing.T, svc backend.Service) {
	ctx := context.Background()
	const batch = "15th Batch"

	seeded, err := svc.ListMessages(ctx, batch)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	base := time.Now().UTC().Truncate(time.Millisecond)
	_, err = svc.SendMessage(ctx, model.Message{BatchID: batch, SenderRoll: fixtures.AdminRoll, SenderName: "Sohag", Content: "second", Timestamp: base.Add(time.Second)})
	require.NoError(t, err)
	sent, err := svc.SendMessage(ctx, model.Message{BatchID: batch, SenderRoll: fixtures.AdminRoll, SenderName: "Sohag", Content: "first", Timestamp: base})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)

	_, err = svc.SendMessage(ctx, model.Message{BatchID: "16th Batch", Content: "elsewhere"})
	require.NoError(t, err)

	msgs, err := svc.ListMessages(ctx, batch)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[1].Content, "oldest first")
	assert.Equal(t, "second", msgs[2].Content)

	empty, err := svc.ListMessages(ctx, "no such batch")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testBatchMembers(t *testing.T, svc backend.Service) {
	ctx := context.Background()

	_, err := svc.Register(ctx, RosterRoll, "pass-1234", "15th Batch")
	require.NoError(t, err)

	members, err := svc.ListBatchMembers(ctx, "15th Batch")
	require.NoError(t, err)

	rolls := make([]string, 0, len(members))
	for _, m := range members {
		assert.Equal(t, "15th Batch", m.Batch)
		rolls = append(rolls, m.RollNumber)
	}
	assert.Contains(t, rolls, fixtures.AdminRoll)
	assert.Contains(t, rolls, RosterRoll)
}
