package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/prontivus/telecare/internal/models"
)

func signAccessToken(t *testing.T, secret, issuer, subject, role string) string {
	t.Helper()

	claims := &AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAccessTokenVerify(t *testing.T) {
	verifier, err := NewAccessTokenVerifier(AccessTokenConfig{Secret: "platform", Issuer: "prontivus"})
	require.NoError(t, err)

	principal, err := verifier.Verify(signAccessToken(t, "platform", "prontivus", "doc-1", "doctor"))
	require.NoError(t, err)
	require.Equal(t, "doc-1", principal.ParticipantID)
	require.Equal(t, models.RoleDoctor, principal.Role)
}

func TestAccessTokenVerifyFailures(t *testing.T) {
	verifier, err := NewAccessTokenVerifier(AccessTokenConfig{Secret: "platform", Issuer: "prontivus"})
	require.NoError(t, err)

	cases := map[string]string{
		"wrong secret": signAccessToken(t, "other", "prontivus", "doc-1", "doctor"),
		"wrong issuer": signAccessToken(t, "platform", "someone-else", "doc-1", "doctor"),
		"no subject":   signAccessToken(t, "platform", "prontivus", "", "doctor"),
		"bad role":     signAccessToken(t, "platform", "prontivus", "doc-1", "admin"),
		"empty":        "",
	}

	for name, token := range cases {
		_, err := verifier.Verify(token)
		require.Error(t, err, name)
	}
}
