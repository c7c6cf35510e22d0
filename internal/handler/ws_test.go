package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carechat/internal/auth"
	"github.com/carechat/internal/middleware"
	"github.com/carechat/internal/model"
	"github.com/carechat/internal/service"
	"github.com/carechat/internal/ws"
)

const wsSecret = "ws-secret"

type wsChats struct{}

func (wsChats) ChatIDsForUser(context.Context, string) ([]string, error) { return nil, nil }

func (wsChats) SendMessage(_ context.Context, senderID string, in service.SendMessageInput) (*service.SendMessageResult, error) {
	now := time.Now().UTC()
	return &service.SendMessageResult{
		Message: &model.Message{ID: "m1", ChatID: "c1", Content: in.Content, ContentType: model.ContentTypeText,
			SenderID: senderID, CreatedAt: now, UpdatedAt: now},
		NewChat:        true,
		ParticipantIDs: []string{senderID, in.ReceiverID},
	}, nil
}

func (wsChats) CreateGroup(context.Context, string, service.CreateGroupInput) (*service.GroupResult, error) {
	return nil, nil
}

func (wsChats) AddMemberToGroup(context.Context, string, string, service.AddMembersInput) (*service.GroupResult, error) {
	return nil, nil
}

func (wsChats) SeenChatMessage(context.Context, string, string, time.Time) (*service.SeenResult, error) {
	return nil, nil
}

type nopPresence struct{}

func (nopPresence) SetOnline(context.Context, string) error             { return nil }
func (nopPresence) SetOffline(context.Context, string, time.Time) error { return nil }

func wsServer(t *testing.T) (*httptest.Server, *ws.Hub) {
	t.Helper()
	hub := ws.NewHub(wsChats{}, nopPresence{}, ws.HubOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.With(middleware.JWTAuth(auth.NewVerifier(wsSecret, ""))).
		Get("/ws", NewWSHandler(hub, ws.ClientOptions{}, "*").ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func wsToken(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(wsSecret))
	require.NoError(t, err)
	return tok
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWSHandshakeRequiresToken(t *testing.T) {
	srv, _ := wsServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv)+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSSendMessageRoundTrip(t *testing.T) {
	srv, hub := wsServer(t)
	sender := "11111111-1111-4111-8111-111111111111"
	receiver := "22222222-2222-4222-8222-222222222222"

	header := http.Header{"Authorization": {"Bearer " + wsToken(t, sender)}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return len(hub.Registry().ConnectionsFor(sender)) == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "send-message",
		"ackId":   "42",
		"payload": map[string]any{"receiverId": receiver, "content": "hi", "tempId": "t-1"},
	}))

	type frame struct {
		Type    string         `json:"type"`
		AckID   string         `json:"ackId"`
		Payload map[string]any `json:"payload"`
	}
	got := map[string]frame{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(got) < 2 {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		got[f.Type] = f
	}

	ack := got["ack"]
	assert.Equal(t, "42", ack.AckID)
	assert.Equal(t, "sent", ack.Payload["status"])
	recv := got["receive-message"]
	assert.Equal(t, "t-1", recv.Payload["tempId"])
	assert.Equal(t, "hi", recv.Payload["content"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "typing", "ackId": "43"}))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "ack", f.Type)
	assert.Equal(t, "unknown event type", f.Payload["message"])
}
