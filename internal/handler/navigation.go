package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/auth"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/navigation"
)

// NavigationHandler exposes the navigation gate to thin clients and
// reports service health.
type NavigationHandler struct {
	svc     Companion
	backend string
	logger  *slog.Logger
}

// NewNavigationHandler creates a NavigationHandler. backendKind is reported
// by the health check.
func NewNavigationHandler(svc Companion, backendKind string, logger *slog.Logger) *NavigationHandler {
	return &NavigationHandler{svc: svc, backend: backendKind, logger: logger}
}

// NavigateResponse is a gate decision plus the text to show on a redirect.
type NavigateResponse struct {
	navigation.Decision
	Message string `json:"message,omitempty"`
}

// HandleNavigate resolves where the caller may go.
//
// HTTP: GET /api/navigate?screen=chat
// Auth: optional. Without a valid token the caller is anonymous.
func (h *NavigationHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	screen, err := navigation.ParseScreen(r.URL.Query().Get("screen"))
	if err != nil {
		writeError(w, apperror.ValidationFailed("screen", err.Error()))
		return
	}

	var identity *model.Identity
	if roll, ok := auth.RollFromContext(r.Context()); ok {
		id, err := h.svc.GetIdentity(r.Context(), roll)
		switch {
		case err == nil:
			identity = &id
		case errors.Is(err, apperror.ErrNotFound):
			// Stale token: treat as signed out.
		default:
			writeError(w, err)
			return
		}
	}

	d := navigation.Resolve(identity, screen)
	writeJSON(w, http.StatusOK, NavigateResponse{Decision: d, Message: d.Message()})
}

// HandleHealth reports liveness and the active backend.
//
// HTTP: GET /healthz
func (h *NavigationHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": h.backend})
}
