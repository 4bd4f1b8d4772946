package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/prontivus/telecare/internal/models"
)

// Principal is the already-authenticated caller identity consumed by the
// orchestrator. Token issuance lives in the platform's auth service; this
// package only validates.
type Principal struct {
	ParticipantID string
	Role          models.ParticipantRole
	TenantID      string
}

// AccessClaims models the platform access token payload.
type AccessClaims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenConfig bundles the settings required to validate platform tokens.
type AccessTokenConfig struct {
	Secret string
	Issuer string
}

// AccessTokenVerifier validates platform-issued access tokens and extracts
// the calling principal.
type AccessTokenVerifier struct {
	secret []byte
	issuer string
}

// NewAccessTokenVerifier constructs a verifier when provided with the shared secret.
func NewAccessTokenVerifier(cfg AccessTokenConfig) (*AccessTokenVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: access token secret must be provided")
	}

	return &AccessTokenVerifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}, nil
}

// Verify parses and validates a signed access token, returning the principal.
func (v *AccessTokenVerifier) Verify(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, errors.New("auth: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)

	var claims AccessClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, errors.New("auth: invalid issuer")
	}

	if claims.Subject == "" {
		return nil, errors.New("auth: missing subject claim")
	}

	role := models.ParticipantRole(claims.Role)
	switch role {
	case models.RoleDoctor, models.RolePatient:
	default:
		return nil, fmt.Errorf("auth: unsupported role %q", claims.Role)
	}

	return &Principal{
		ParticipantID: claims.Subject,
		Role:          role,
		TenantID:      claims.TenantID,
	}, nil
}
