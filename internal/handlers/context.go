package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/middleware"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// mustPrincipal extracts the authenticated caller or writes a 401. The second
// return value reports whether the handler should continue.
func mustPrincipal(c *gin.Context) (*iauth.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return nil, false
	}
	return principal, true
}

// sessionIDParam extracts the :sessionID path parameter or writes a 400.
func sessionIDParam(c *gin.Context) (string, bool) {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		response.Error(c, apperrors.NewBadRequest("session id is required"))
		return "", false
	}
	return sessionID, true
}
