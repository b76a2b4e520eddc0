package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case checks that errors.Is() identifies the kind through any amount
// of fmt.Errorf wrapping.

func TestErrorsIs(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{"NotFound wraps ErrNotFound", NotFound("user", "1"), ErrNotFound, true},
		{"ValidationFailed wraps ErrValidation", ValidationFailed("title", "title is required"), ErrValidation, true},
		{"Conflict wraps ErrConflict", Conflict("note", "n1"), ErrConflict, true},
		{"NotRegistered wraps ErrNotRegistered", NotRegistered(), ErrNotRegistered, true},
		{"InvalidCredential wraps ErrInvalidCredential", InvalidCredential(), ErrInvalidCredential, true},
		{"AlreadyRegistered wraps ErrAlreadyRegistered", AlreadyRegistered(), ErrAlreadyRegistered, true},
		{"MissingProfile wraps ErrMissingProfile", MissingProfile("1"), ErrMissingProfile, true},
		{"StorageWrite wraps ErrStorageWrite", StorageWrite("notes", cause), ErrStorageWrite, true},
		{"StorageWrite exposes its cause", StorageWrite("notes", cause), cause, true},
		{"RemoteUnavailable wraps ErrRemoteUnavailable", RemoteUnavailable("login", cause), ErrRemoteUnavailable, true},
		{"wrapped twice still matches", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", NotRegistered())), ErrNotRegistered, true},
		{"NotRegistered does NOT match ErrInvalidCredential", NotRegistered(), ErrInvalidCredential, false},
		{"NotFound does NOT match ErrMissingProfile", NotFound("user", "1"), ErrMissingProfile, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{"NotFound message includes resource and id", NotFound("user", "abc123"), "user not found with id abc123"},
		{"ValidationFailed uses custom message", ValidationFailed("title", "title is required"), "title is required"},
		{"NotRegistered is user facing", NotRegistered(), "Account not found. Please register."},
		{"InvalidCredential is user facing", InvalidCredential(), "Invalid credentials."},
		{"AlreadyRegistered is user facing", AlreadyRegistered(), "User already registered."},
		{"StorageWrite includes cause", StorageWrite("chats", errors.New("quota")), "could not save chats: quota"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	wrapped := fmt.Errorf("session: login: %w", InvalidCredential())
	if got := Message(wrapped, "Login failed"); got != "Invalid credentials." {
		t.Errorf("Message() = %q, want %q", got, "Invalid credentials.")
	}

	if got := Message(errors.New("boom"), "Login failed"); got != "Login failed" {
		t.Errorf("Message() = %q, want fallback", got)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("rollNumber", "roll number is required")

	if err.Field != "rollNumber" {
		t.Errorf("Field = %q, want %q", err.Field, "rollNumber")
	}
}
