package middleware

import (
	"context"
	"net/http"

	"github.com/carechat/internal/auth"
	"github.com/carechat/internal/logger"
)

// TokenVerifier проверяет access-токен (*auth.Verifier).
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// JWTAuth пропускает запрос только с валидным access-токеном: заголовок Authorization: Bearer
// или query-параметр token (браузерный WebSocket не умеет ставить заголовки).
func JWTAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ParseBearer(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeUnauthorized(w)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				logger.Debugf("auth rejected token=%s path=%s: %v", MaskToken(token), r.URL.Path, err)
				writeUnauthorized(w)
				return
			}
			ctx := WithUserID(r.Context(), claims.UserID())
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}
