// Package handler contains the HTTP handlers of the companion API.
//
// Handlers parse the request, call the service, and render the result.
// They hold no business rules beyond the ones that depend on who is
// calling: note ownership, role changes, and the chat gate.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/backend"
	"github.com/sakif/campus-companion/internal/model"
)

// Companion is the service surface the handlers call.
// *service.Companion satisfies it.
type Companion interface {
	backend.Service
	Departments() []string
}

// SocialProvider completes a federated sign-in.
// *auth.GoogleProvider satisfies it.
type SocialProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (model.SocialProfile, error)
	VerifyIDToken(idToken string) (model.SocialProfile, error)
}

// callerRoll returns the roll RequireAuth stored on the request.
func callerRoll(r *http.Request) (string, error) {
	roll, ok := auth.RollFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("valid authentication required")
	}
	return roll, nil
}

// caller loads the full identity of the authenticated user. A token whose
// identity was deleted or renamed away is treated as signed out.
func caller(r *http.Request, svc Companion) (model.Identity, error) {
	roll, err := callerRoll(r)
	if err != nil {
		return model.Identity{}, err
	}
	id, err := svc.GetIdentity(r.Context(), roll)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return model.Identity{}, apperror.Unauthorized("session no longer valid, sign in again")
		}
		return model.Identity{}, err
	}
	return id, nil
}
