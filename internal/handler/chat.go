package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/navigation"
)

// ChatHandler serves the caller's batch room. The room is always the
// caller's own batch; there is no way to address another one.
//
// Clients poll HandleList every few seconds. Both routes go through the
// navigation gate, so an account still on a G- roll gets 403 with the
// same explanation the app shows.
type ChatHandler struct {
	svc    Companion
	logger *slog.Logger
}

func NewChatHandler(svc Companion, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// HandleList returns the room's messages, oldest first.
//
// HTTP: GET /api/chat/messages
func (h *ChatHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	me, err := h.member(r)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := h.svc.ListMessages(r.Context(), me.Batch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleSend posts a message to the caller's batch room.
//
// HTTP: POST /api/chat/messages
// REQUEST BODY: {"content": "Class moved to 10am"}
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	me, err := h.member(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), model.Message{
		BatchID:    me.Batch,
		SenderRoll: me.RollNumber,
		SenderName: me.FullName,
		Content:    req.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// member loads the caller and applies the chat gate.
func (h *ChatHandler) member(r *http.Request) (model.Identity, error) {
	me, err := caller(r, h.svc)
	if err != nil {
		return model.Identity{}, err
	}
	if d := navigation.Resolve(&me, navigation.ScreenChat); d.Redirected {
		h.logger.Debug("chat gated",
			slog.String("roll", me.RollNumber),
			slog.String("reason", string(d.Reason)),
		)
		return model.Identity{}, apperror.Forbidden(d.Message())
	}
	return me, nil
}
