package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/model"
)

// PresenceReader читает онлайн-статус (storage.Store).
type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (model.Presence, error)
}

type UserHandler struct {
	presence PresenceReader
}

func NewUserHandler(presence PresenceReader) *UserHandler {
	return &UserHandler{presence: presence}
}

// GetPresence: GET /api/users/{id}/presence.
func (h *UserHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	p, err := h.presence.GetPresence(r.Context(), id)
	if err != nil {
		logger.Errorf("presence user=%s: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, "failed to load presence")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
