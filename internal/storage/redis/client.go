package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carechat/internal/model"
)

// onlineTTL ограничивает жизнь флага online, если процесс упал, не успев снять его.
const onlineTTL = 24 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func onlineKey(userID string) string   { return "presence:online:" + userID }
func lastSeenKey(userID string) string { return "presence:last_seen:" + userID }

func (c *Client) SetOnline(ctx context.Context, userID string) error {
	return c.cli.Set(ctx, onlineKey(userID), "1", onlineTTL).Err()
}

// SetOffline снимает флаг online и запоминает время последнего присутствия (unix ms).
func (c *Client) SetOffline(ctx context.Context, userID string, at time.Time) error {
	_, err := c.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, onlineKey(userID))
		p.Set(ctx, lastSeenKey(userID), at.UnixMilli(), 0)
		return nil
	})
	return err
}

func (c *Client) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	p := model.Presence{UserID: userID}
	vals, err := c.cli.MGet(ctx, onlineKey(userID), lastSeenKey(userID)).Result()
	if err != nil {
		return p, err
	}
	p.Online = vals[0] != nil
	if s, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			p.LastSeen = &t
		}
	}
	return p, nil
}

// Allow: фиксированное окно: rate:{key}, INCR и EXPIRE на первом запросе окна.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := "rate:" + key
	n, err := c.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, k, window)
	}
	return n <= int64(limit), nil
}
