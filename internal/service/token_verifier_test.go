package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/revision-checker/internal/models"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
)

func signTestToken(t *testing.T, secret string, method jwt.SigningMethod, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestTokenVerifierAcceptsValidToken(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token := signTestToken(t, "secret", jwt.SigningMethodHS256, models.JWTClaims{
		Login:            "reporter",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	claims, err := verifier.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "reporter", claims.Login)
}

func TestTokenVerifierRejectsInvalidTokens(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	cases := map[string]string{
		"wrong secret": signTestToken(t, "other", jwt.SigningMethodHS256, models.JWTClaims{Login: "reporter"}),
		"wrong method": signTestToken(t, "secret", jwt.SigningMethodHS512, models.JWTClaims{Login: "reporter"}),
		"expired": signTestToken(t, "secret", jwt.SigningMethodHS256, models.JWTClaims{
			Login:            "reporter",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
		}),
		"no login": signTestToken(t, "secret", jwt.SigningMethodHS256, models.JWTClaims{}),
		"garbage":  "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}
