// Package auth проверяет access-токены, выпущенные сервисом авторизации платформы.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/carechat/internal/apperr"
)

// Claims: полезная нагрузка access-токена; идентификатор пользователя в sub.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string { return c.Subject }

type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier создаёт проверку HS256-токенов. Пустой issuer: iss не проверяется.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify разбирает и проверяет токен. Любая ошибка: apperr вида authentication.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Authentication(nil, "authentication token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Authentication(err, "authentication token expired")
		}
		return nil, apperr.Authentication(err, "invalid authentication token")
	}
	if claims.Subject == "" {
		return nil, apperr.Authentication(nil, "authentication token has no subject")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, apperr.Authentication(err, "authentication token subject is not a user id")
	}
	return claims, nil
}

// ParseBearer извлекает токен из заголовка "Authorization: Bearer <token>".
func ParseBearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Issue подписывает access-токен HS256. Боевые токены выпускает сервис авторизации;
// здесь это нужно для -dev и тестов.
func Issue(secret, issuer, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
