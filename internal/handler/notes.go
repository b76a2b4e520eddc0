package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/model"
)

// NotesHandler manages the caller's personal notes. Every route is scoped
// to the authenticated roll; another user's note is reported as missing.
type NotesHandler struct {
	svc    Companion
	logger *slog.Logger
}

func NewNotesHandler(svc Companion, logger *slog.Logger) *NotesHandler {
	return &NotesHandler{svc: svc, logger: logger}
}

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// HandleList returns the caller's notes, newest first.
//
// HTTP: GET /api/notes
func (h *NotesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	roll, err := callerRoll(r)
	if err != nil {
		writeError(w, err)
		return
	}

	notes, err := h.svc.ListNotes(r.Context(), roll)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// HandleCreate saves a new note.
//
// HTTP: POST /api/notes
// REQUEST BODY: {"title": "Thermo formulas", "content": "..."}
func (h *NotesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	roll, err := callerRoll(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	note, err := h.svc.SaveNote(r.Context(), model.Note{OwnerRoll: roll, Title: req.Title, Content: req.Content})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// HandleUpdate rewrites one of the caller's notes.
//
// HTTP: PUT /api/notes/{id}
func (h *NotesHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	roll, err := callerRoll(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.ensureOwned(r.Context(), roll, id); err != nil {
		writeError(w, err)
		return
	}

	note, err := h.svc.SaveNote(r.Context(), model.Note{ID: id, OwnerRoll: roll, Title: req.Title, Content: req.Content})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// HandleDelete removes one of the caller's notes.
//
// HTTP: DELETE /api/notes/{id}
func (h *NotesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	roll, err := callerRoll(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.ensureOwned(r.Context(), roll, id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.DeleteNote(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("note deleted", slog.String("id", id), slog.String("roll", roll))
	w.WriteHeader(http.StatusNoContent)
}

// ensureOwned fails with NotFound unless roll owns note id.
func (h *NotesHandler) ensureOwned(ctx context.Context, roll, id string) error {
	notes, err := h.svc.ListNotes(ctx, roll)
	if err != nil {
		return err
	}
	owned := slices.ContainsFunc(notes, func(n model.Note) bool { return n.ID == id })
	if !owned {
		return apperror.NotFound("note", id)
	}
	return nil
}
