package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/response"
)

const (
	CtxPrincipalKey = "authPrincipal"
)

// Auth enforces bearer token authentication using the platform verifier.
func Auth(verifier *iauth.AccessTokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		principal, err := verifier.Verify(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxPrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext extracts the authenticated caller set by Auth.
func PrincipalFromContext(c *gin.Context) (*iauth.Principal, bool) {
	value, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*iauth.Principal)
	return principal, ok && principal != nil
}
