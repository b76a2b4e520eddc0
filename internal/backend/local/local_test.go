package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/backend/backendtest"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/store"
)

// =========================================================================
// HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, kv store.KV) (*Service, *store.Store) {
	t.Helper()

	hasher := auth.NewPasswordServiceForTest(bcrypt.MinCost)
	seed, err := fixtures.Default(hasher, fixtures.DefaultAdminSecret)
	require.NoError(t, err)

	st := store.New(kv, seed, discardLogger())
	require.NoError(t, st.Init(context.Background()))

	return New(st, hasher, backend.DefaultBootstrap(""), discardLogger()), st
}

// failingKV accepts reads and rejects every write.
type failingKV struct{ *store.MemoryKV }

func (failingKV) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

// =========================================================================
// CONTRACT
// =========================================================================

func TestLocalContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Service {
		svc, _ := newTestService(t, store.NewMemoryKV())
		return svc
	})
}

// =========================================================================
// LOCAL-ONLY BEHAVIOUR
// =========================================================================

func TestLogin_BootstrapWithoutCredential(t *testing.T) {
	svc, st := newTestService(t, store.NewMemoryKV())
	ctx := context.Background()

	// Wipe the credential table: the bootstrap pair must still work.
	require.NoError(t, st.SaveCredentials(ctx, map[string]string{}))

	id, err := svc.Login(ctx, fixtures.AdminRoll, fixtures.DefaultAdminSecret)
	require.NoError(t, err)
	assert.Equal(t, fixtures.AdminRoll, id.RollNumber)
}

func TestLogin_MissingProfile(t *testing.T) {
	svc, st := newTestService(t, store.NewMemoryKV())
	ctx := context.Background()

	_, err := svc.Register(ctx, "24050501777", "pass-1234", "16th Batch")
	require.NoError(t, err)

	// Drop the identity but keep the credential.
	users := st.Users(ctx)
	kept := users[:0]
	for _, u := range users {
		if u.RollNumber != "24050501777" {
			kept = append(kept, u)
		}
	}
	require.NoError(t, st.SaveUsers(ctx, kept))

	_, err = svc.Login(ctx, "24050501777", "pass-1234")
	assert.ErrorIs(t, err, apperror.ErrMissingProfile)
}

func TestListBatchMembers_ActiveOnly(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryKV())
	ctx := context.Background()

	members, err := svc.ListBatchMembers(ctx, "15th Batch")
	require.NoError(t, err)

	// Only the bootstrap admin is active on a fresh install.
	require.Len(t, members, 1)
	assert.Equal(t, fixtures.AdminRoll, members[0].RollNumber)

	social, err := svc.LoginSocial(ctx, model.SocialProfile{Subject: "sub-1", Name: "Guest"})
	require.NoError(t, err)
	batch := "15th Batch"
	_, err = svc.UpdateProfile(ctx, social.RollNumber, model.ProfilePatch{Batch: &batch})
	require.NoError(t, err)

	members, err = svc.ListBatchMembers(ctx, "15th Batch")
	require.NoError(t, err)
	assert.Len(t, members, 2, "synthetic accounts count as active")
}

func TestUpdateProfile_RenameConflict(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryKV())
	ctx := context.Background()

	social, err := svc.LoginSocial(ctx, model.SocialProfile{Subject: "sub-1"})
	require.NoError(t, err)

	taken := fixtures.AdminRoll
	_, err = svc.UpdateProfile(ctx, social.RollNumber, model.ProfilePatch{RollNumber: &taken})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestSaveNote_StampsClock(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryKV())
	fixed := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	n, err := svc.SaveNote(context.Background(), model.Note{OwnerRoll: "r", Title: "t", UpdatedAt: fixed.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, fixed, n.UpdatedAt)
}

func TestWrites_SurfaceStorageFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryKV()
	newTestService(t, mem) // seeds mem

	svc, _ := newTestService(t, failingKV{mem})

	_, err := svc.SaveNote(ctx, model.Note{OwnerRoll: "r", Title: "t"})
	assert.ErrorIs(t, err, apperror.ErrStorageWrite)

	_, err = svc.SendMessage(ctx, model.Message{BatchID: "15th Batch", Content: "hi"})
	assert.ErrorIs(t, err, apperror.ErrStorageWrite)

	_, err = svc.Register(ctx, "24050501777", "pass-1234", "16th Batch")
	assert.ErrorIs(t, err, apperror.ErrStorageWrite)

	// Reads keep working.
	msgs, err := svc.ListMessages(ctx, "15th Batch")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
