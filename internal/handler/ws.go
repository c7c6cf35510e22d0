package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/middleware"
	"github.com/carechat/internal/ws"
)

const activateTimeout = 10 * time.Second

type WSHandler struct {
	hub            *ws.Hub
	opts           ws.ClientOptions
	allowedOrigins string
	upgrader       websocket.Upgrader
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, opts ws.ClientOptions, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, opts: opts, allowedOrigins: strings.TrimSpace(allowedOrigins)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS: GET /ws. Токен уже проверен JWTAuth; без него до апгрейда дело не доходит.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID, h.opts)
	actx, acancel := context.WithTimeout(context.Background(), activateTimeout)
	err = h.hub.Activate(actx, client)
	acancel()
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, ws.ErrTooManyConnections) {
			code = websocket.CloseTryAgainLater
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()), deadline)
		client.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}
