// Package apperror defines the domain error taxonomy shared by every backend.
//
// Each failure kind is a sentinel error. Constructors wrap the sentinel in an
// *AppError carrying the human-readable message that is shown to the user
// verbatim. Callers match kinds with errors.Is and read messages with errors.As.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotRegistered     = errors.New("not registered")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrMissingProfile    = errors.New("missing profile")
	ErrStorageWrite      = errors.New("storage write failure")
	ErrRemoteUnavailable = errors.New("remote unavailable")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure (driver, network)
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// NotRegistered: no credential exists for the roll number.
func NotRegistered() *AppError {
	return &AppError{
		Err:     ErrNotRegistered,
		Message: "Account not found. Please register.",
	}
}

func InvalidCredential() *AppError {
	return &AppError{
		Err:     ErrInvalidCredential,
		Message: "Invalid credentials.",
	}
}

func AlreadyRegistered() *AppError {
	return &AppError{
		Err:     ErrAlreadyRegistered,
		Message: "User already registered.",
	}
}

// MissingProfile: the credential matched but the identity record is gone.
// This is a store consistency violation, not a user mistake.
func MissingProfile(roll string) *AppError {
	return &AppError{
		Err:     ErrMissingProfile,
		Message: "User record missing.",
		Field:   roll,
	}
}

func StorageWrite(table string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorageWrite,
		Message: fmt.Sprintf("could not save %s", table),
		Cause:   cause,
	}
}

func RemoteUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrRemoteUnavailable,
		Message: fmt.Sprintf("backend unavailable during %s", op),
		Cause:   cause,
	}
}

// Message returns the user-visible text of err: the AppError message when one
// is in the chain, otherwise the fallback.
func Message(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}
