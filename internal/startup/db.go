package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carechat/internal/logger"
)

// NewPoolConfig разбирает DATABASE_URL и задаёт размер пула.
func NewPoolConfig(url string, maxConns int) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(maxConns)
	if maxConns >= 4 {
		poolCfg.MinConns = 4
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	return poolCfg, nil
}

// ConnectDBWithRetry подключается к Postgres с экспоненциальной паузой между попытками,
// пока не истечёт maxWait или не отменится ctx.
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for attempt := 1; ; attempt++ {
		pool, err := connectOnce(ctx, poolCfg)
		if err == nil {
			if attempt > 1 {
				logger.Infof("db connected after %d attempts", attempt)
			}
			return pool, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect to db (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("db connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func connectOnce(ctx context.Context, poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
