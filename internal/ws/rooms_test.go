package ws

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type listerFunc func(ctx context.Context, userID string) ([]string, error)

func (f listerFunc) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

func TestRoomName(t *testing.T) {
	assert.Equal(t, "chat:42", RoomName("42"))
	assert.NotEqual(t, RoomName("1"), RoomName("12"))
}

func TestJoinAllRoomsForUser(t *testing.T) {
	m := NewRoomManager(listerFunc(func(_ context.Context, userID string) ([]string, error) {
		assert.Equal(t, "u1", userID)
		return []string{"a", "b"}, nil
	}))
	c := newFakeConn("c1", "u1")

	n := m.JoinAllRoomsForUser(context.Background(), "u1", c)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"chat:a", "chat:b"}, m.RoomsOf(c))
	assert.Equal(t, []Conn{c}, m.Members("a"))
}

func TestJoinAllRoomsLookupFailureLeavesConnectionUsable(t *testing.T) {
	m := NewRoomManager(listerFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("db down")
	}))
	c := newFakeConn("c1", "u1")

	assert.Equal(t, 0, m.JoinAllRoomsForUser(context.Background(), "u1", c))
	assert.Empty(t, m.RoomsOf(c))

	m.JoinRoom("late", c)
	assert.Equal(t, []Conn{c}, m.Members("late"))
}

func TestLeaveAllRemovesEmptyRooms(t *testing.T) {
	m := NewRoomManager(nil)
	c1 := newFakeConn("c1", "u1")
	c2 := newFakeConn("c2", "u2")
	m.JoinRoom("a", c1)
	m.JoinRoom("a", c1)
	m.JoinRoom("a", c2)
	m.JoinRoom("b", c1)

	left := m.LeaveAll(c1)
	assert.ElementsMatch(t, []string{"chat:a", "chat:b"}, left)
	assert.Equal(t, []Conn{c2}, m.Members("a"))
	assert.Empty(t, m.Members("b"))
	assert.Empty(t, m.RoomsOf(c1))

	m.mu.RLock()
	_, ok := m.rooms[RoomName("b")]
	m.mu.RUnlock()
	assert.False(t, ok)
}
