package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/carechat/internal/logger"
)

const rateLimitWindow = time.Minute

// Limiter считает запросы по ключу за окно (storage.Store: Redis в prod, память в -dev).
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitAPI ограничивает запросы к /api/* по IP и по user_id (если есть в контексте). 429 при превышении.
// Пользователю даётся половина лимита IP. Ошибка хранилища пропускает запрос.
func RateLimitAPI(l Limiter, perMinute int) func(http.Handler) http.Handler {
	perUser := perMinute / 2
	if perUser < 1 {
		perUser = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !allow(r.Context(), l, "rl:ip:"+clientIP(r), perMinute) {
				tooManyRequests(w)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" {
				if !allow(r.Context(), l, "rl:u:"+userID, perUser) {
					tooManyRequests(w)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allow(ctx context.Context, l Limiter, key string, limit int) bool {
	ok, err := l.Allow(ctx, key, limit, rateLimitWindow)
	if err != nil {
		logger.Errorf("rate limit %s: %v", key, err)
		return true
	}
	return ok
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	writeJSONError(w, http.StatusTooManyRequests, "too many requests")
}

// clientIP берёт адрес из X-Real-Ip / первого X-Forwarded-For, иначе из RemoteAddr.
func clientIP(r *http.Request) string {
	if x := strings.TrimSpace(r.Header.Get("X-Real-Ip")); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if idx := strings.Index(x, ","); idx > 0 {
			x = x[:idx]
		}
		return strings.TrimSpace(x)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
