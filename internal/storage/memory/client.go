package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/carechat/internal/model"
)

type limiterEntry struct {
	l      *rate.Limiter
	window time.Duration
	seen   time.Time
}

type Client struct {
	mu        sync.Mutex
	online    map[string]bool
	lastSeen  map[string]time.Time
	limiters  map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

func New() *Client {
	return &Client{
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOnline(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[userID] = true
	return nil
}

func (c *Client) SetOffline(ctx context.Context, userID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, userID)
	c.lastSeen[userID] = at.UTC()
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := model.Presence{UserID: userID, Online: c.online[userID]}
	if t, ok := c.lastSeen[userID]; ok {
		p.LastSeen = &t
	}
	return p, nil
}

// Allow: token bucket на ключ: limit запросов за window, с всплеском до limit.
// Ключи, простоявшие дольше своего окна, удаляются: к этому моменту их корзина снова полная.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastSweep) >= window {
		c.sweep(now)
		c.lastSweep = now
	}
	e, ok := c.limiters[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit), window: window}
		c.limiters[key] = e
	}
	e.seen = now
	c.mu.Unlock()
	return e.l.AllowN(now, 1), nil
}

func (c *Client) sweep(now time.Time) {
	for k, e := range c.limiters {
		if now.Sub(e.seen) > e.window {
			delete(c.limiters, k)
		}
	}
}
