package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =========================================================================
// FAKE BACKEND
// =========================================================================

type fakeBackend struct {
	mu      sync.Mutex
	msgs    []model.Message
	sendErr error
	listErr error
	lists   int
}

func (f *fakeBackend) ListMessages(_ context.Context, batch string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Message
	for _, m := range f.msgs {
		if m.BatchID == batch {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, msg model.Message) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	f.msgs = append(f.msgs, msg)
	return msg, nil
}

func (f *fakeBackend) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

var sender = model.Identity{RollNumber: "23040401014", FullName: "Sohag", Batch: "15th Batch"}

func newTestRoom(fb *fakeBackend, opts ...Option) *Room {
	return NewRoom(fb, sender, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

// =========================================================================
// REFRESH
// =========================================================================

func TestRefresh_ReplacesList(t *testing.T) {
	fb := &fakeBackend{msgs: []model.Message{
		{ID: "c1", BatchID: "15th Batch", Content: "Class Rescheduled to 11AM."},
		{ID: "x", BatchID: "16th Batch", Content: "other batch"},
	}}
	room := newTestRoom(fb)

	if err := room.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	got := room.Entries()
	if len(got) != 1 || got[0].ID != "c1" || got[0].Status != StatusSent {
		t.Fatalf("Entries() = %+v", got)
	}

	fb.mu.Lock()
	fb.msgs = nil
	fb.mu.Unlock()
	if err := room.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := room.Entries(); len(got) != 0 {
		t.Errorf("Entries() after wholesale replace = %+v", got)
	}
}

// =========================================================================
// SEND / RETRY / DISCARD
// =========================================================================

func TestSend_Success(t *testing.T) {
	fb := &fakeBackend{}
	room := newTestRoom(fb)

	e, err := room.Send(context.Background(), "  hello batch  ")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if e.Status != StatusSent || e.Content != "hello batch" || e.SenderRoll != sender.RollNumber {
		t.Errorf("Send() = %+v", e)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("Send() should assign an id and timestamp")
	}

	got := room.Entries()
	if len(got) != 1 || got[0].Status != StatusSent {
		t.Errorf("Entries() = %+v", got)
	}
}

func TestSend_Empty(t *testing.T) {
	room := newTestRoom(&fakeBackend{})

	_, err := room.Send(context.Background(), "   ")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Send() error = %v, want ErrValidation", err)
	}
	if len(room.Entries()) != 0 {
		t.Error("an empty message must not be queued")
	}
}

func TestSend_FailureIsVisibleAndSurvivesRefresh(t *testing.T) {
	fb := &fakeBackend{sendErr: errors.New("network down")}
	room := newTestRoom(fb)
	ctx := context.Background()

	e, err := room.Send(ctx, "are we still on?")
	if err == nil {
		t.Fatal("Send() should return the backend error")
	}
	if e.Status != StatusFailed {
		t.Errorf("Send() status = %q, want failed", e.Status)
	}

	if err := room.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	got := room.Entries()
	if len(got) != 1 || got[0].Status != StatusFailed || got[0].ID != e.ID {
		t.Fatalf("Entries() after refresh = %+v", got)
	}

	fb.setSendErr(nil)
	retried, err := room.Retry(ctx, e.ID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if retried.Status != StatusSent || retried.ID != e.ID {
		t.Errorf("Retry() = %+v", retried)
	}

	if err := room.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	got = room.Entries()
	if len(got) != 1 || got[0].Status != StatusSent {
		t.Errorf("Entries() after retry = %+v, want exactly one sent entry", got)
	}
}

func TestRetry_UnknownID(t *testing.T) {
	room := newTestRoom(&fakeBackend{})

	_, err := room.Retry(context.Background(), "nope")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Retry() error = %v, want ErrNotFound", err)
	}
}

func TestDiscard(t *testing.T) {
	fb := &fakeBackend{sendErr: errors.New("down")}
	room := newTestRoom(fb)

	e, _ := room.Send(context.Background(), "lost")
	if !room.Discard(e.ID) {
		t.Fatal("Discard() = false for a failed entry")
	}
	if len(room.Entries()) != 0 {
		t.Error("Discard() left the entry behind")
	}
	if room.Discard(e.ID) {
		t.Error("Discard() twice should report false")
	}
}

// =========================================================================
// POLLING
// =========================================================================

func TestRun_PollsUntilCancelled(t *testing.T) {
	fb := &fakeBackend{msgs: []model.Message{{ID: "c1", BatchID: "15th Batch"}}}
	room := newTestRoom(fb, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan []Entry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		room.Run(ctx, func(e []Entry) {
			select {
			case updates <- e:
			default:
			}
		})
	}()

	for i := 0; i < 3; i++ {
		select {
		case e := <-updates:
			if len(e) != 1 {
				t.Errorf("update %d = %+v", i, e)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a poll")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_KeepsPollingAfterErrors(t *testing.T) {
	fb := &fakeBackend{listErr: errors.New("503")}
	room := newTestRoom(fb, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	called := false
	room.Run(ctx, func([]Entry) { called = true })

	if called {
		t.Error("onUpdate should not run when every refresh fails")
	}
	if n := fb.listCount(); n < 2 {
		t.Errorf("ListMessages called %d times, want repeated polling", n)
	}
}

func TestNewRoom_DefaultInterval(t *testing.T) {
	room := newTestRoom(&fakeBackend{}, WithInterval(0))
	if room.interval != DefaultPollInterval {
		t.Errorf("interval = %v, want %v", room.interval, DefaultPollInterval)
	}
	if room.Batch() != "15th Batch" {
		t.Errorf("Batch() = %q", room.Batch())
	}
}
