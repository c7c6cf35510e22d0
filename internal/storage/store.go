package storage

import (
	"context"
	"time"

	"github.com/carechat/internal/model"
)

// Store: хранилище присутствия пользователей и счётчиков rate limit.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type Store interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, at time.Time) error
	GetPresence(ctx context.Context, userID string) (model.Presence, error)
	// Allow учитывает запрос по key и сообщает, укладывается ли он в limit за window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Close() error
}
