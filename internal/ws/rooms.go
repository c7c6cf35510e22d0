package ws

import (
	"context"
	"sync"
	"time"

	"github.com/carechat/internal/logger"
)

// RoomName: имя комнаты чата; зависит только от chatID.
func RoomName(chatID string) string {
	return "chat:" + chatID
}

// ChatLister отдаёт id чатов, в которых участвует пользователь.
type ChatLister interface {
	ChatIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// RoomManager подписывает соединения на комнаты чатов и отвечает, кому рассылать событие чата.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]map[Conn]struct{}
	byConn map[Conn]map[string]struct{}
	chats  ChatLister
}

func NewRoomManager(chats ChatLister) *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]map[Conn]struct{}),
		byConn: make(map[Conn]map[string]struct{}),
		chats:  chats,
	}
}

// JoinAllRoomsForUser подписывает соединение на все чаты пользователя.
// Ошибка поиска чатов только логируется: соединение остаётся рабочим без комнат.
func (m *RoomManager) JoinAllRoomsForUser(ctx context.Context, userID string, c Conn) int {
	defer logger.DeferLogDuration("ws.JoinAllRoomsForUser", time.Now())()
	ids, err := m.chats.ChatIDsForUser(ctx, userID)
	if err != nil {
		logger.Errorf("ws join rooms user=%s conn=%s: %v", userID, c.ID(), err)
		return 0
	}
	for _, id := range ids {
		m.JoinRoom(id, c)
	}
	return len(ids)
}

func (m *RoomManager) JoinRoom(chatID string, c Conn) {
	room := RoomName(chatID)
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[Conn]struct{})
		m.rooms[room] = members
	}
	members[c] = struct{}{}
	joined, ok := m.byConn[c]
	if !ok {
		joined = make(map[string]struct{})
		m.byConn[c] = joined
	}
	joined[room] = struct{}{}
}

// LeaveAll отписывает соединение от всех комнат и возвращает их имена.
func (m *RoomManager) LeaveAll(c Conn) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	joined := m.byConn[c]
	delete(m.byConn, c)
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
		members := m.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
	return out
}

// Members возвращает соединения, подписанные на комнату чата.
func (m *RoomManager) Members(chatID string) []Conn {
	return m.membersOf(RoomName(chatID))
}

func (m *RoomManager) membersOf(room string) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[room]
	out := make([]Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (m *RoomManager) RoomsOf(c Conn) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	joined := m.byConn[c]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}
