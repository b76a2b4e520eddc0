package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/service"
)

// ProfileHandler serves the signed-in user's profile and batch roster.
type ProfileHandler struct {
	svc    Companion
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewProfileHandler(svc Companion, tokens *auth.TokenService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, tokens: tokens, logger: logger}
}

// HandleMe returns the current identity.
//
// HTTP: GET /api/me
func (h *ProfileHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, h.svc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// HandleUpdateMe applies a partial profile update.
//
// HTTP: PATCH /api/me
// REQUEST BODY: any subset of the Identity fields, e.g. {"rollNumber": "24050501888"}
//
// Students may change their name, batch, phone and avatar, and set a roll
// number while still on a G- roll. Everything else is admin-only. A
// roll-number change re-keys the account, so the response carries a fresh
// token bound to the new roll.
func (h *ProfileHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var patch model.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}

	me, err := caller(r, h.svc)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := service.AuthorizeSelfUpdate(me, patch); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.svc.UpdateProfile(r.Context(), me.RollNumber, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := issueToken(w, h.tokens, id.RollNumber, h.logger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Token: token, User: id})
}

// HandleMembers lists the active members of a batch.
//
// HTTP: GET /api/batches/{batch}/members
func (h *ProfileHandler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.ListBatchMembers(r.Context(), chi.URLParam(r, "batch"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}
