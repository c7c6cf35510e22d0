package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id   string
	user string

	mu     sync.Mutex
	msgs   []OutgoingMessage
	closed int
	full   bool
}

func newFakeConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(msg OutgoingMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}

func (c *fakeConn) received() []OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OutgoingMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *fakeConn) ofType(t EventType) []OutgoingMessage {
	var out []OutgoingMessage
	for _, m := range c.received() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestRegistryEvictsOldestOnThirdSession(t *testing.T) {
	r := NewSessionRegistry(2)
	c1 := newFakeConn("c1", "u1")
	c2 := newFakeConn("c2", "u1")
	c3 := newFakeConn("c3", "u1")

	_, first := r.Register(c1)
	assert.True(t, first)
	_, first = r.Register(c2)
	assert.False(t, first)

	evicted, first := r.Register(c3)
	assert.False(t, first)
	require.Len(t, evicted, 1)
	assert.Same(t, c1, evicted[0])
	assert.True(t, c1.isClosed())
	assert.False(t, c2.isClosed())
	assert.False(t, c3.isClosed())

	conns := r.ConnectionsFor("u1")
	require.Len(t, conns, 2)
	assert.Equal(t, []Conn{c2, c3}, conns)
	assert.Equal(t, 2, r.Total())
}

func TestRegistryUnregister(t *testing.T) {
	r := NewSessionRegistry(2)
	c1 := newFakeConn("c1", "u1")
	c2 := newFakeConn("c2", "u1")
	other := newFakeConn("c3", "u2")
	r.Register(c1)
	r.Register(c2)
	r.Register(other)

	removed, last := r.Unregister(c1)
	assert.True(t, removed)
	assert.False(t, last)

	removed, last = r.Unregister(c1)
	assert.False(t, removed, "second unregister is a no-op")
	assert.False(t, last)

	removed, last = r.Unregister(c2)
	assert.True(t, removed)
	assert.True(t, last)
	assert.Empty(t, r.ConnectionsFor("u1"))
	assert.Equal(t, 1, r.Users(), "empty user entries are removed")
	assert.Equal(t, 1, r.Total())
}

func TestRegistryEvictedConnectionUnregisterIsNoop(t *testing.T) {
	r := NewSessionRegistry(1)
	c1 := newFakeConn("c1", "u1")
	c2 := newFakeConn("c2", "u1")
	r.Register(c1)
	r.Register(c2)

	removed, last := r.Unregister(c1)
	assert.False(t, removed)
	assert.False(t, last)
	assert.Equal(t, []Conn{c2}, r.ConnectionsFor("u1"))
}

func TestRegistryDefaultsToTwoSessions(t *testing.T) {
	r := NewSessionRegistry(0)
	for i := 0; i < 5; i++ {
		r.Register(newFakeConn(fmt.Sprintf("c%d", i), "u1"))
	}
	assert.Len(t, r.ConnectionsFor("u1"), 2)
	assert.Equal(t, 2, r.Total())
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := NewSessionRegistry(2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i%5))
			r.Register(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, r.Users())
	assert.Equal(t, 10, r.Total())
	for i := 0; i < 5; i++ {
		assert.Len(t, r.ConnectionsFor(fmt.Sprintf("u%d", i)), 2)
	}
	assert.Len(t, r.Drain(), 10)
	assert.Equal(t, 0, r.Total())
}
