package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so the API has one
// error shape:
//
//	{"error": "not_registered", "message": "User not found", "field": ""}
//
// Clients switch on "error"; "message" is safe to show to a person.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/campus-companion/internal/apperror"
)

// maxBodyBytes caps request bodies. Inline avatars are the largest payload.
const maxBodyBytes = 4 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input field, for validation errors
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set after is dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorKinds maps each sentinel to its status and wire name. Order matters
// only for errors carrying more than one sentinel, which none do today.
var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrNotRegistered, http.StatusUnauthorized, "not_registered"},
	{apperror.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrMissingProfile, http.StatusNotFound, "missing_profile"},
	{apperror.ErrAlreadyRegistered, http.StatusConflict, "already_registered"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrRemoteUnavailable, http.StatusServiceUnavailable, "remote_unavailable"},
	{apperror.ErrStorageWrite, http.StatusInsufficientStorage, "storage_write_failure"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// The service layer never knows about status codes; the CLI maps the same
// sentinels to plain messages instead. errors.Is walks AppError.Unwrap, so
// wrapped errors still match their kind.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, k := range errorKinds {
			if errors.Is(err, k.err) {
				writeJSON(w, k.status, ErrorResponse{
					Error:   k.kind,
					Message: appErr.Message,
					Field:   appErr.Field,
				})
				return
			}
		}
	}

	// Never expose raw driver or network errors to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a JSON body into v. Unknown fields are rejected so a
// typo in a patch never silently does nothing.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("", "request body is required")
		}
		return apperror.ValidationFailed("", "invalid JSON body: "+err.Error())
	}
	return nil
}
