package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/campus-companion/internal/adapter"
	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/backend/local"
	"github.com/sakif/campus-companion/internal/fixtures"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/service"
	"github.com/sakif/campus-companion/internal/store"
)

// =========================================================================
// HARNESS
// =========================================================================

// harness runs commands against one in-memory device, so the session
// snapshot carries over between invocations like it does on disk.
type harness struct {
	t       *testing.T
	svc     *service.Companion
	records *store.Store
	logger  *slog.Logger
	stdin   string
	closed  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher := auth.NewPasswordServiceForTest(bcrypt.MinCost)
	seed, err := fixtures.Default(hasher, fixtures.DefaultAdminSecret)
	require.NoError(t, err)

	records := store.New(store.NewMemoryKV(), seed, logger)
	require.NoError(t, records.Init(context.Background()))

	b := local.New(records, hasher, backend.DefaultBootstrap(""), logger)
	return &harness{
		t:       t,
		svc:     service.NewCompanion(b, nil, seed.Departments, logger),
		records: records,
		logger:  logger,
	}
}

func (h *harness) runCtx(ctx context.Context, args ...string) (string, error) {
	h.t.Helper()

	root, release := NewRootCommand(func(ctx context.Context, _ Options) (*App, error) {
		return NewApp(ctx, h.svc, h.records, adapter.KindLocal, h.logger, func() { h.closed++ }), nil
	})
	defer release()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(h.stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	return h.runCtx(context.Background(), args...)
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "companion %s", strings.Join(args, " "))
	return out
}

func (h *harness) loginAdmin() {
	h.t.Helper()
	h.mustRun("login", "-r", fixtures.AdminRoll, "-p", fixtures.DefaultAdminSecret)
}

// =========================================================================
// ACCOUNT
// =========================================================================

func TestLogin_PersistsAcrossRuns(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("login", "-r", fixtures.AdminRoll, "-p", fixtures.DefaultAdminSecret)
	assert.Contains(t, out, "Welcome, MD. TARIKUL ISLAM SOHAG")

	out = h.mustRun("whoami")
	assert.Contains(t, out, fixtures.AdminRoll)
	assert.Contains(t, out, "15th Batch")

	_, err := h.run("login", "-r", fixtures.AdminRoll, "-p", fixtures.DefaultAdminSecret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already signed in")

	h.mustRun("logout")
	_, err = h.run("whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Please sign in first")
}

func TestLogin_PromptsForPassword(t *testing.T) {
	h := newHarness(t)
	h.stdin = fixtures.DefaultAdminSecret + "\n"

	out, err := h.run("login", "-r", fixtures.AdminRoll)
	require.NoError(t, err)
	assert.Contains(t, out, "Password: ")
	assert.Contains(t, out, "Welcome")
}

func TestLogin_Failures(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("login", "-r", fixtures.AdminRoll, "-p", "wrong")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredential)

	_, err = h.run("login", "-r", "23040401015", "-p", "whatever")
	assert.ErrorIs(t, err, apperror.ErrNotRegistered)
	assert.Equal(t, "Account not found. Please register.", Describe(err))

	_, err = h.run("login")
	assert.Error(t, err, "--roll is required")
}

func TestRegister_ThenProfileUpdate(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("register", "-r", "24050501777", "-p", "pass-1234", "-b", "16th Batch")
	assert.Contains(t, out, "Registered 24050501777 in 16th Batch")

	out = h.mustRun("profile", "update", "--name", "Sadia Afrin", "--phone", "01712345678")
	assert.Contains(t, out, "Sadia Afrin")
	assert.Contains(t, out, "01712345678")

	out = h.mustRun("whoami")
	assert.Contains(t, out, "Sadia Afrin", "the updated identity is what gets snapshotted")

	_, err := h.run("profile", "update", "--role", "admin")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = h.run("profile", "update", "--department", "WPE", "--level", "2")
	assert.ErrorIs(t, err, apperror.ErrForbidden, "academic records are admin-managed")

	_, err = h.run("profile", "update", "--roll", "24050501999")
	assert.ErrorIs(t, err, apperror.ErrForbidden, "a real roll number is only set once")

	_, err = h.run("profile", "update")
	assert.ErrorIs(t, err, apperror.ErrValidation, "no flags means nothing to update")
}

func TestMembers_DefaultsToOwnBatch(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin()

	out := h.mustRun("members")
	assert.Contains(t, out, fixtures.AdminRoll)
	assert.NotContains(t, out, "23040401015", "roster entries without an account are not active")
}

// =========================================================================
// NOTES / RESOURCES
// =========================================================================

func TestNotes_Lifecycle(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("notes", "list")
	require.Error(t, err)

	h.mustRun("register", "-r", "24050501777", "-p", "pass-1234")
	assert.Contains(t, h.mustRun("notes", "list"), "No notes yet.")

	out := h.mustRun("notes", "save", "-t", "Dyeing", "-c", "reactive dyes need salt")
	id := strings.TrimSpace(strings.TrimPrefix(out, "Saved note "))
	require.NotEmpty(t, id)

	h.mustRun("notes", "save", "--id", id, "-t", "Dyeing II")
	out = h.mustRun("notes", "list")
	assert.Contains(t, out, "Dyeing II")

	_, err = h.run("notes", "delete", "n1")
	assert.ErrorIs(t, err, apperror.ErrNotFound, "n1 belongs to the admin")

	_, err = h.run("notes", "save", "--id", "n1", "-t", "hijack")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	h.mustRun("notes", "delete", id)
	assert.Contains(t, h.mustRun("notes", "list"), "No notes yet.")
}

func TestResources(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin()

	out := h.mustRun("resources", "list", "--department", "AE")
	assert.Contains(t, out, "Data Structures")
	assert.NotContains(t, out, "Circuit Analysis")

	out = h.mustRun("resources", "add", "--level", "3", "--term", "2", "--department", "fe",
		"--subject", "Knitting", "--link", "https://drive.google.com/d/knit")
	assert.Contains(t, out, "Added Knitting")

	assert.Contains(t, h.mustRun("resources", "list", "--level", "3"), "Knitting")

	_, err := h.run("resources", "add", "--level", "3", "--term", "2", "--department", "fe", "--subject", "x", "--link", "nope")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

// =========================================================================
// CHAT / NAVIGATION
// =========================================================================

func TestChat_ShowAndSend(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin()

	out := h.mustRun("chat", "show")
	assert.Contains(t, out, "== 15th Batch ==")
	assert.Contains(t, out, "Class Rescheduled to 11AM.")

	out = h.mustRun("chat", "send", "lab", "report", "due")
	assert.Contains(t, out, "Sent to 15th Batch")

	assert.Contains(t, h.mustRun("chat", "show"), "MD. TARIKUL ISLAM SOHAG: lab report due")
}

func TestChat_WatchStopsWithContext(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	out, err := h.runCtx(ctx, "chat", "watch", "--interval", "20ms")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "Class Rescheduled"), "each message is printed once")
}

func TestChat_GatedForIncompleteProfile(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.LoginSocial(context.Background(), model.SocialProfile{Subject: "google-5", Email: "tania@example.com"})
	require.NoError(t, err)
	require.NoError(t, h.records.SaveSession(context.Background(), id))

	_, err = h.run("chat", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "university roll number")
	assert.Contains(t, err.Error(), "companion open profile")

	out := h.mustRun("open", "chat")
	assert.Contains(t, out, "-> profile (redirected from chat)")

	h.mustRun("profile", "update", "--roll", "24050501999")
	assert.Contains(t, h.mustRun("open", "chat"), "-> chat")
}

func TestOpen(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.mustRun("open", "notes"), "-> auth (redirected from notes)")
	assert.Contains(t, h.mustRun("open", "auth"), "-> auth")

	_, err := h.run("open", "settings")
	assert.Error(t, err)

	h.loginAdmin()
	assert.Contains(t, h.mustRun("open", "auth"), "-> home (redirected from auth)")
}

func TestRelease_ClosesAppWhenCommandFails(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("notes", "list")
	require.Error(t, err, "anonymous sessions cannot list notes")
	assert.Equal(t, 1, h.closed)

	_, err = h.run("login")
	require.Error(t, err, "--roll is required")
	assert.Equal(t, 2, h.closed)

	h.mustRun("open", "auth")
	assert.Equal(t, 3, h.closed)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "boom", Describe(errors.New("boom")))
	assert.Equal(t, "title is required", Describe(apperror.ValidationFailed("title", "title is required")))
}

// =========================================================================
// REAL WIRING
// =========================================================================

func TestOpen_LocalSQLite(t *testing.T) {
	t.Setenv("RELATIONAL_URL", "")
	t.Setenv("DOCUMENT_ADDR", "")
	t.Setenv("AVATAR_S3_BUCKET", "")

	dir := t.TempDir()
	envFile := filepath.Join(dir, "companion.env")
	require.NoError(t, os.WriteFile(envFile, []byte("BOOTSTRAP_ADMIN_SECRET=from-env-file\n"), 0o600))
	if _, set := os.LookupEnv("BOOTSTRAP_ADMIN_SECRET"); !set {
		t.Cleanup(func() { os.Unsetenv("BOOTSTRAP_ADMIN_SECRET") })
	} else {
		t.Skip("BOOTSTRAP_ADMIN_SECRET is set in the environment")
	}

	db := filepath.Join(dir, "data", "companion.db")
	run := func(args ...string) (string, error) {
		root, release := NewRootCommand(Open)
		defer release()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--db", db, "--env-file", envFile}, args...))
		err := root.ExecuteContext(context.Background())
		return out.String(), err
	}

	out, err := run("login", "-r", fixtures.AdminRoll, "-p", "from-env-file")
	require.NoError(t, err)
	assert.Contains(t, out, "Welcome")

	out, err = run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, fixtures.AdminRoll, "session restored from the SQLite file")
}
