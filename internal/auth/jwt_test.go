package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carechat/internal/apperr"
)

const (
	secret = "test-secret"
	userID = "9b2f4c1e-5d6a-4e7b-8c9d-0e1f2a3b4c5d"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(sub string, exp time.Time) *Claims {
	return &Claims{
		Role: "caregiver",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "carehub",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(secret, "carehub")
	tok := sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor(userID, time.Now().Add(time.Hour)))

	c, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, userID, c.UserID())
	assert.Equal(t, "caregiver", c.Role)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier(secret, "carehub")
	cases := map[string]string{
		"empty":             "",
		"garbage":           "not-a-jwt",
		"expired":           sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor(userID, time.Now().Add(-time.Minute))),
		"wrong secret":      sign(t, jwt.SigningMethodHS256, []byte("other"), claimsFor(userID, time.Now().Add(time.Hour))),
		"wrong alg":         sign(t, jwt.SigningMethodHS512, []byte(secret), claimsFor(userID, time.Now().Add(time.Hour))),
		"no subject":        sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor("", time.Now().Add(time.Hour))),
		"subject not an id": sign(t, jwt.SigningMethodHS256, []byte(secret), claimsFor("user-1", time.Now().Add(time.Hour))),
		"no expiry": sign(t, jwt.SigningMethodHS256, []byte(secret), &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID, Issuer: "carehub"},
		}),
		"wrong issuer": sign(t, jwt.SigningMethodHS256, []byte(secret), &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID, Issuer: "elsewhere", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
		})
	}
}

func TestParseBearer(t *testing.T) {
	assert.Equal(t, "abc", ParseBearer("Bearer abc"))
	assert.Equal(t, "abc", ParseBearer("bearer  abc "))
	assert.Empty(t, ParseBearer("Basic abc"))
	assert.Empty(t, ParseBearer(""))
}

func TestIssueRoundTrip(t *testing.T) {
	tok, err := Issue(secret, "carehub", userID, "patient", time.Minute)
	require.NoError(t, err)

	c, err := NewVerifier(secret, "carehub").Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, userID, c.UserID())
	assert.Equal(t, "patient", c.Role)

	_, err = NewVerifier("other-secret", "").Verify(tok)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
}
