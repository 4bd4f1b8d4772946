package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultJoinLinkTTL is the fallback validity period for patient join links.
const DefaultJoinLinkTTL = 24 * time.Hour

var (
	// ErrLinkExpired indicates the join link was valid but is past its expiry.
	ErrLinkExpired = errors.New("join link: token expired")
	// ErrLinkMalformed indicates the token could not be parsed or verified.
	ErrLinkMalformed = errors.New("join link: token malformed")
)

// JoinLinkConfig bundles the configuration required to build a LinkIssuer.
type JoinLinkConfig struct {
	Secret string
	TTL    time.Duration
	Clock  func() time.Time
}

type joinClaims struct {
	jwt.RegisteredClaims
}

// LinkIssuer mints and verifies time-boxed, single-session join tokens for
// out-of-band patient access. Tokens bind only {session_id, expiry}; the
// participant identity is established server-side, so possession of a link
// grants access to exactly one session and nothing else.
type LinkIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkIssuer constructs a LinkIssuer instance from the provided configuration.
func NewLinkIssuer(cfg JoinLinkConfig) (*LinkIssuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("join link: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultJoinLinkTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &LinkIssuer{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		now:    now,
	}, nil
}

// Issue produces an opaque token bound to the session. A non-positive ttl
// falls back to the configured default.
func (s *LinkIssuer) Issue(sessionID string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		return "", errors.New("join link: session id is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	claims := &joinClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("join link: sign token: %w", err)
	}

	return signed, nil
}

// Verify validates a join token and returns the bound session id. Signature
// comparison inside the HMAC verification is constant-time.
func (s *LinkIssuer) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrLinkMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims joinClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrLinkExpired
		}
		return "", ErrLinkMalformed
	}

	if claims.Subject == "" {
		return "", ErrLinkMalformed
	}

	return claims.Subject, nil
}
