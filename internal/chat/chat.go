// Package chat keeps a batch's message list fresh and handles sending.
//
// A Room polls the backend on a fixed interval and replaces its list
// wholesale each time. Outgoing messages are shown at once as pending;
// if the backend rejects one it stays in the list as failed until it is
// retried or discarded, so the sender always sees what did not go out.
package chat

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/model"
)

// DefaultPollInterval is how often a running Room refreshes.
const DefaultPollInterval = 3 * time.Second

// Backend is the slice of backend.Service a Room needs.
type Backend interface {
	ListMessages(ctx context.Context, batch string) ([]model.Message, error)
	SendMessage(ctx context.Context, msg model.Message) (model.Message, error)
}

// Status is the delivery state of an entry.
type Status string

const (
	StatusSent    Status = "sent"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Entry is a message as the sender sees it.
type Entry struct {
	model.Message
	Status Status `json:"status"`
}

// Room is one batch's conversation from one sender's point of view.
type Room struct {
	backend  Backend
	batch    string
	sender   model.Identity
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	messages []model.Message
	outbox   []Entry // pending and failed, in send order
}

// Option configures a Room.
type Option func(*Room)

// WithInterval overrides DefaultPollInterval.
func WithInterval(d time.Duration) Option {
	return func(r *Room) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewRoom creates a Room for the sender's batch.
func NewRoom(b Backend, sender model.Identity, logger *slog.Logger, opts ...Option) *Room {
	r := &Room{
		backend:  b,
		batch:    sender.Batch,
		sender:   sender,
		logger:   logger,
		interval: DefaultPollInterval,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Batch returns the batch this room is bound to.
func (r *Room) Batch() string { return r.batch }

// Refresh reloads the batch's messages, replacing the current list.
func (r *Room) Refresh(ctx context.Context) error {
	msgs, err := r.backend.ListMessages(ctx, r.batch)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.messages = msgs
	// Drop outbox entries the server now reports as stored.
	r.outbox = slices.DeleteFunc(r.outbox, func(e Entry) bool {
		return e.Status == StatusPending && containsID(msgs, e.ID)
	})
	r.mu.Unlock()
	return nil
}

// Entries returns stored messages followed by the sender's pending and
// failed ones.
func (r *Room) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.messages)+len(r.outbox))
	for _, m := range r.messages {
		out = append(out, Entry{Message: m, Status: StatusSent})
	}
	for _, e := range r.outbox {
		if !containsID(r.messages, e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// Send posts body to the batch. The entry appears as pending immediately;
// on failure it is kept as failed and the error is returned.
func (r *Room) Send(ctx context.Context, body string) (Entry, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Entry{}, apperror.ValidationFailed("content", "message is empty")
	}

	msg := backend.PrepareMessage(model.Message{
		BatchID:    r.batch,
		SenderRoll: r.sender.RollNumber,
		SenderName: r.sender.FullName,
		Content:    body,
	}, r.now())

	r.mu.Lock()
	r.outbox = append(r.outbox, Entry{Message: msg, Status: StatusPending})
	r.mu.Unlock()

	return r.deliver(ctx, msg)
}

// Retry resends a failed entry.
func (r *Room) Retry(ctx context.Context, id string) (Entry, error) {
	r.mu.Lock()
	i := r.outboxIndex(id)
	if i < 0 || r.outbox[i].Status != StatusFailed {
		r.mu.Unlock()
		return Entry{}, apperror.NotFound("failed message", id)
	}
	r.outbox[i].Status = StatusPending
	msg := r.outbox[i].Message
	r.mu.Unlock()

	return r.deliver(ctx, msg)
}

// Discard drops a failed entry. It reports whether one was removed.
func (r *Room) Discard(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.outboxIndex(id)
	if i < 0 || r.outbox[i].Status != StatusFailed {
		return false
	}
	r.outbox = slices.Delete(r.outbox, i, i+1)
	return true
}

func (r *Room) deliver(ctx context.Context, msg model.Message) (Entry, error) {
	stored, err := r.backend.SendMessage(ctx, msg)

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.outboxIndex(msg.ID)
	if err != nil {
		if i >= 0 {
			r.outbox[i].Status = StatusFailed
		}
		r.logger.Warn("message not delivered",
			slog.String("batch", r.batch),
			slog.String("id", msg.ID),
			slog.String("error", err.Error()),
		)
		return Entry{Message: msg, Status: StatusFailed}, err
	}

	if i >= 0 {
		r.outbox = slices.Delete(r.outbox, i, i+1)
	}
	if !containsID(r.messages, stored.ID) {
		r.messages = append(r.messages, stored)
		backend.SortMessages(r.messages)
	}
	return Entry{Message: stored, Status: StatusSent}, nil
}

// Run refreshes immediately and then every poll interval, calling onUpdate
// after each successful refresh. It returns when ctx is cancelled. Refresh
// errors are logged and polling continues.
func (r *Room) Run(ctx context.Context, onUpdate func([]Entry)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("chat refresh failed",
				slog.String("batch", r.batch),
				slog.String("error", err.Error()),
			)
		} else if onUpdate != nil {
			onUpdate(r.Entries())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Room) outboxIndex(id string) int {
	return slices.IndexFunc(r.outbox, func(e Entry) bool { return e.ID == id })
}

func containsID(msgs []model.Message, id string) bool {
	return slices.ContainsFunc(msgs, func(m model.Message) bool { return m.ID == id })
}
