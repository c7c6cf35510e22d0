package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carechat/internal/middleware"
	"github.com/carechat/internal/model"
	"github.com/carechat/internal/service"
)

// ChatService: операции чата, доступные через REST (*service.ChatService).
type ChatService interface {
	ListChats(ctx context.Context, userID string) ([]model.ChatSummary, error)
	ListMessages(ctx context.Context, chatID, userID string, before *time.Time, limit int) ([]model.Message, error)
	SeenChatMessage(ctx context.Context, chatID, viewerID string, seenTime time.Time) (*service.SeenResult, error)
}

// SeenNotifier рассылает message-seen подключённым клиентам (*ws.Hub).
type SeenNotifier interface {
	NotifySeen(res *service.SeenResult)
}

type ChatHandler struct {
	chats ChatService
	hub   SeenNotifier
}

func NewChatHandler(chats ChatService, hub SeenNotifier) *ChatHandler {
	return &ChatHandler{chats: chats, hub: hub}
}

// ListChats: GET /api/chats.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chats, err := h.chats.ListChats(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// ListMessages: GET /api/chats/{chatId}/messages?limit=&before=RFC3339.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		before = &t
	}

	msgs, err := h.chats.ListMessages(r.Context(), chatID, userID, before, queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type seenRequest struct {
	SeenTime *time.Time `json:"seenTime"`
}

type seenResponse struct {
	ChatID   string    `json:"chatId"`
	SeenTime time.Time `json:"seenTime"`
	Viewed   int       `json:"viewed"`
}

// MarkSeen: POST /api/chats/{chatId}/seen. Пустое тело означает "прочитано сейчас".
func (h *ChatHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")

	var req seenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var seenTime time.Time
	if req.SeenTime != nil {
		seenTime = *req.SeenTime
	}

	res, err := h.chats.SeenChatMessage(r.Context(), chatID, userID, seenTime)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if h.hub != nil {
		h.hub.NotifySeen(res)
	}
	writeJSON(w, http.StatusOK, seenResponse{ChatID: res.ChatID, SeenTime: res.SeenTime, Viewed: res.Viewed})
}
