package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceLifecycle(t *testing.T) {
	ctx := context.Background()
	c := New()

	p, err := c.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.Nil(t, p.LastSeen)

	require.NoError(t, c.SetOnline(ctx, "u1"))
	p, _ = c.GetPresence(ctx, "u1")
	assert.True(t, p.Online)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetOffline(ctx, "u1", at))
	p, _ = c.GetPresence(ctx, "u1")
	assert.False(t, p.Online)
	require.NotNil(t, p.LastSeen)
	assert.True(t, p.LastSeen.Equal(at))
}

func TestAllowBurstThenReject(t *testing.T) {
	ctx := context.Background()
	c := New()

	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := c.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = c.Allow(ctx, "ip:5.6.7.8", 3, time.Minute)
	assert.True(t, ok, "keys are independent")
}

func TestAllowForgetsIdleKeys(t *testing.T) {
	ctx := context.Background()
	c := New()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for _, ip := range []string{"ip:1", "ip:2", "ip:3"} {
		ok, err := c.Allow(ctx, ip, 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, c.limiters, 3)

	now = now.Add(30 * time.Second)
	ok, _ := c.Allow(ctx, "ip:1", 1, time.Minute)
	assert.False(t, ok, "bucket not refilled yet")

	now = now.Add(61 * time.Second)
	ok, _ = c.Allow(ctx, "ip:4", 1, time.Minute)
	assert.True(t, ok)
	assert.Len(t, c.limiters, 2, "idle keys ip:2 and ip:3 are dropped")
	assert.Contains(t, c.limiters, "ip:1")
	assert.Contains(t, c.limiters, "ip:4")
}
