package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carechat/internal/apperr"
	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/metrics"
	"github.com/carechat/internal/service"
)

const (
	defaultMaxConns  = 10000
	defaultOpTimeout = 10 * time.Second
	presenceTimeout  = 5 * time.Second
)

// ErrTooManyConnections: достигнут общий лимит соединений процесса.
var ErrTooManyConnections = errors.New("ws connection limit reached")

// ChatService: операции домена чата, которые вызывает хаб (*service.ChatService).
type ChatService interface {
	ChatLister
	SendMessage(ctx context.Context, senderID string, in service.SendMessageInput) (*service.SendMessageResult, error)
	CreateGroup(ctx context.Context, creatorID string, in service.CreateGroupInput) (*service.GroupResult, error)
	AddMemberToGroup(ctx context.Context, chatID, requesterID string, in service.AddMembersInput) (*service.GroupResult, error)
	SeenChatMessage(ctx context.Context, chatID, viewerID string, seenTime time.Time) (*service.SeenResult, error)
}

// PresenceStore отмечает пользователя онлайн/офлайн (storage.Store).
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, at time.Time) error
}

type HubOptions struct {
	MaxConnections  int
	SessionsPerUser int
	OpTimeout       time.Duration
}

type Hub struct {
	registry  *SessionRegistry
	rooms     *RoomManager
	chats     ChatService
	presence  PresenceStore
	maxConns  int
	opTimeout time.Duration
	now       func() time.Time

	// mu сериализует активацию и отключение, чтобы проверка лимита и first/last сессии были согласованы.
	mu         sync.Mutex
	unregister chan Conn
	done       chan struct{}
}

func NewHub(chats ChatService, presence PresenceStore, opts HubOptions) *Hub {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaultMaxConns
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	return &Hub{
		registry:   NewSessionRegistry(opts.SessionsPerUser),
		rooms:      NewRoomManager(chats),
		chats:      chats,
		presence:   presence,
		maxConns:   opts.MaxConnections,
		opTimeout:  opts.OpTimeout,
		now:        time.Now,
		unregister: make(chan Conn, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Registry() *SessionRegistry { return h.registry }
func (h *Hub) Rooms() *RoomManager        { return h.rooms }

// Run обрабатывает отключения до отмены ctx, затем закрывает все соединения.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.shutdown()
			return
		case c := <-h.unregister:
			h.disconnect(c)
		}
	}
}

func (h *Hub) shutdown() {
	all := h.registry.Drain()
	metrics.Connections.Set(0)

	users := make(map[string]struct{}, len(all))
	for _, c := range all {
		h.rooms.LeaveAll(c)
		users[c.UserID()] = struct{}{}
		c.Close()
	}
	for _, c := range all {
		if w, ok := c.(interface{ Wait() }); ok {
			w.Wait()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	at := h.now().UTC()
	for uid := range users {
		if err := h.presence.SetOffline(ctx, uid, at); err != nil {
			logger.Errorf("ws shutdown set offline user=%s: %v", uid, err)
		}
	}
	logger.Infof("ws hub stopped, closed %d connections", len(all))
}

// Activate переводит аутентифицированное соединение в active: регистрирует его (вытесняя
// старые сессии) и подписывает на комнаты всех чатов пользователя. Вызывается до Start,
// поэтому к первому событию клиента комнаты уже известны.
func (h *Hub) Activate(ctx context.Context, c Conn) error {
	defer logger.DeferLogDuration("ws.Activate", time.Now())()
	h.mu.Lock()
	if h.registry.Total() >= h.maxConns && !h.registry.Replaces(c.UserID()) {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.UserID())
		return ErrTooManyConnections
	}
	evicted, first := h.registry.Register(c)
	h.mu.Unlock()

	for _, e := range evicted {
		h.rooms.LeaveAll(e)
		metrics.EvictedSessions.Inc()
		logger.Infof("ws evicted oldest session user=%s conn=%s", e.UserID(), e.ID())
	}
	metrics.Connections.Set(float64(h.registry.Total()))

	h.rooms.JoinAllRoomsForUser(ctx, c.UserID(), c)

	if first {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
		defer cancel()
		if err := h.presence.SetOnline(pctx, c.UserID()); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.UserID(), err)
		}
		h.broadcastUserStatus(c.UserID(), h.rooms.RoomsOf(c), UserStatusPayload{UserID: c.UserID(), Online: true})
	}
	return nil
}

// disconnect: переход active -> disconnected.
func (h *Hub) disconnect(c Conn) {
	h.mu.Lock()
	removed, last := h.registry.Unregister(c)
	h.mu.Unlock()
	rooms := h.rooms.LeaveAll(c)
	c.Close()
	if !removed {
		return
	}
	metrics.Connections.Set(float64(h.registry.Total()))

	if last {
		at := h.now().UTC()
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := h.presence.SetOffline(ctx, c.UserID(), at); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.UserID(), err)
		}
		h.broadcastUserStatus(c.UserID(), rooms, UserStatusPayload{UserID: c.UserID(), Online: false, LastSeen: &at})
	}
}

// HandleMessage dispatches one inbound event and always answers the originating connection with an ack.
func (h *Hub) HandleMessage(ctx context.Context, c Conn, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.HandleMessage "+string(msg.Type), time.Now())()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws panic type=%s user=%s: %v", msg.Type, c.UserID(), r)
			metrics.Events.WithLabelValues(eventLabel(msg.Type), "error").Inc()
			h.ack(c, msg, ErrorAck{Message: "internal error"})
		}
	}()

	// Закрытие соединения не прерывает начатую транзакцию, ограничивает только opTimeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case EventSendMessage:
		err = h.handleSendMessage(ctx, c, msg)
	case EventGroupCreate:
		err = h.handleGroupCreate(ctx, c, msg)
	case EventGroupUpdate:
		err = h.handleGroupUpdate(ctx, c, msg)
	case EventSeenMessage:
		err = h.handleSeenMessage(ctx, c, msg)
	default:
		err = apperr.Validation("unknown event type")
	}
	if err != nil {
		if !apperr.IsKind(err, apperr.KindValidation) {
			logger.Errorf("ws %s user=%s: %v", msg.Type, c.UserID(), err)
		}
		metrics.Events.WithLabelValues(eventLabel(msg.Type), "error").Inc()
		h.ack(c, msg, ErrorAck{Message: err.Error()})
		return
	}
	metrics.Events.WithLabelValues(eventLabel(msg.Type), "ok").Inc()
}

func (h *Hub) handleSendMessage(ctx context.Context, c Conn, msg IncomingMessage) error {
	var p SendMessagePayload
	if err := decodePayload(msg.Payload, &p); err != nil {
		return err
	}
	res, err := h.chats.SendMessage(ctx, c.UserID(), service.SendMessageInput{
		ChatID:      p.ChatID,
		ReceiverID:  p.ReceiverID,
		Content:     p.Content,
		ContentType: p.ContentType,
	})
	if err != nil {
		return err
	}
	metrics.MessagesSent.Inc()

	h.ack(c, msg, SendAck{Message: res.Message, Status: "sent"})
	if res.NewChat {
		h.joinUsers(res.Message.ChatID, res.ParticipantIDs)
	}
	h.BroadcastToChat(res.Message.ChatID, OutgoingMessage{
		Type:    EventReceiveMessage,
		Payload: ReceiveMessagePayload{Message: res.Message, TempID: p.TempID},
	})
	return nil
}

func (h *Hub) handleGroupCreate(ctx context.Context, c Conn, msg IncomingMessage) error {
	var p GroupCreatePayload
	if err := decodePayload(msg.Payload, &p); err != nil {
		return err
	}
	res, err := h.chats.CreateGroup(ctx, c.UserID(), service.CreateGroupInput{
		Name:  p.Name,
		Users: groupMembers(p.Users),
	})
	if err != nil {
		return err
	}

	h.ack(c, msg, DataAck{Data: res.ChatID})
	h.joinUsers(res.ChatID, res.MemberIDs)
	h.BroadcastToChat(res.ChatID, OutgoingMessage{
		Type:    EventGroupCreated,
		Payload: GroupEventPayload{ChatID: res.ChatID, ActorID: c.UserID(), UserIDs: res.MemberIDs},
	})
	return nil
}

func (h *Hub) handleGroupUpdate(ctx context.Context, c Conn, msg IncomingMessage) error {
	var p GroupUpdatePayload
	if err := decodePayload(msg.Payload, &p); err != nil {
		return err
	}
	res, err := h.chats.AddMemberToGroup(ctx, p.ChatID, c.UserID(), service.AddMembersInput{
		Users: groupMembers(p.Users),
	})
	if err != nil {
		return err
	}

	h.ack(c, msg, DataAck{Data: res.ChatID})
	h.joinUsers(res.ChatID, res.MemberIDs)
	h.BroadcastToChat(res.ChatID, OutgoingMessage{
		Type:    EventGroupUpdated,
		Payload: GroupEventPayload{ChatID: res.ChatID, ActorID: c.UserID(), UserIDs: res.MemberIDs},
	})
	return nil
}

func (h *Hub) handleSeenMessage(ctx context.Context, c Conn, msg IncomingMessage) error {
	var p SeenPayload
	if err := decodePayload(msg.Payload, &p); err != nil {
		return err
	}
	var seenTime time.Time
	if p.SeenTime != nil {
		seenTime = *p.SeenTime
	}
	res, err := h.chats.SeenChatMessage(ctx, p.ChatID, c.UserID(), seenTime)
	if err != nil {
		return err
	}
	h.ack(c, msg, StatusAck{Status: "ok"})
	h.NotifySeen(res)
	return nil
}

// NotifySeen рассылает message-seen в комнату чата (в том числе после REST-вызова).
func (h *Hub) NotifySeen(res *service.SeenResult) {
	h.BroadcastToChat(res.ChatID, OutgoingMessage{
		Type:    EventMessageSeen,
		Payload: MessageSeenPayload{ChatID: res.ChatID, UserID: res.ViewerID, SeenTime: res.SeenTime},
	})
}

// joinUsers подписывает все живые соединения пользователей на комнату нового чата до рассылки.
func (h *Hub) joinUsers(chatID string, userIDs []string) {
	for _, uid := range userIDs {
		for _, conn := range h.registry.ConnectionsFor(uid) {
			h.rooms.JoinRoom(chatID, conn)
		}
	}
}

// BroadcastToChat sends a message to every connection subscribed to the chat's room.
func (h *Hub) BroadcastToChat(chatID string, msg OutgoingMessage) {
	for _, c := range h.rooms.Members(chatID) {
		h.deliver(c, msg)
	}
}

// broadcastUserStatus уведомляет комнаты соединения, не отправляя событие самому пользователю.
func (h *Hub) broadcastUserStatus(userID string, rooms []string, p UserStatusPayload) {
	evType := EventUserOffline
	if p.Online {
		evType = EventUserOnline
	}
	out := OutgoingMessage{Type: evType, Payload: p}

	notified := make(map[Conn]struct{}, 16)
	for _, room := range rooms {
		for _, c := range h.rooms.membersOf(room) {
			if c.UserID() == userID {
				continue
			}
			if _, ok := notified[c]; ok {
				continue
			}
			notified[c] = struct{}{}
			h.deliver(c, out)
		}
	}
}

func (h *Hub) ack(c Conn, in IncomingMessage, payload any) {
	h.deliver(c, OutgoingMessage{Type: EventAck, AckID: in.AckID, Payload: payload})
}

func (h *Hub) deliver(c Conn, msg OutgoingMessage) {
	if !c.Send(msg) {
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s conn=%s", c.UserID(), c.ID())
		c.Close()
	}
}

// Unregister ставит соединение в очередь на отключение; после остановки хаба ничего не делает.
func (h *Hub) Unregister(c Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func groupMembers(users []GroupUser) []service.GroupMember {
	out := make([]service.GroupMember, 0, len(users))
	for _, u := range users {
		out = append(out, service.GroupMember{ID: u.ID, Name: u.Name})
	}
	return out
}

func eventLabel(t EventType) string {
	switch t {
	case EventSendMessage, EventGroupCreate, EventGroupUpdate, EventSeenMessage:
		return string(t)
	default:
		return "unknown"
	}
}
