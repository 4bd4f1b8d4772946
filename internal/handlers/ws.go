package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	iauth "github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/realtime"
	"github.com/prontivus/telecare/internal/services"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/logger"
	"github.com/prontivus/telecare/pkg/response"
)

// RealtimeHandler upgrades HTTP requests into authenticated session
// connections feeding the signaling relay.
type RealtimeHandler struct {
	sessions  *services.SessionService
	registry  realtime.Registry
	relay     *realtime.Relay
	verifier  *iauth.AccessTokenVerifier
	upgrader  websocket.Upgrader
	queueSize int
}

// NewRealtimeHandler constructs the websocket entry point. allowedOrigins
// mirrors the CORS allow-list; an empty list accepts any origin.
func NewRealtimeHandler(
	sessions *services.SessionService,
	registry realtime.Registry,
	relay *realtime.Relay,
	verifier *iauth.AccessTokenVerifier,
	queueSize int,
	allowedOrigins []string,
) *RealtimeHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins[origin] = struct{}{}
		}
	}

	return &RealtimeHandler{
		sessions: sessions,
		registry: registry,
		relay:    relay,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		queueSize: queueSize,
	}
}

// Attach validates the caller and upgrades the request into a live session
// connection. Browsers cannot set headers on websocket dials, so the token
// is accepted from the query string as well as the Authorization header.
func (h *RealtimeHandler) Attach(c *gin.Context) {
	if h.verifier == nil || h.sessions == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	principal, err := h.verifier.Verify(token)
	if err != nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	key, role, err := h.sessions.AuthorizeAttachment(requestContext(c), sessionID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	conn := realtime.NewConn(ws, key, role, h.queueSize)
	h.registry.Register(sessionID, conn)
	h.relay.AnnounceJoin(sessionID, key)

	conn.Serve(c.Request.Context(), func(raw []byte) {
		h.relay.HandleInbound(c.Request.Context(), sessionID, conn, raw)
	})

	h.registry.Unregister(sessionID, conn)
	h.relay.AnnounceLeave(sessionID, key)
	if err := h.sessions.RecordDetachment(context.Background(), sessionID, principal); err != nil {
		logger.Warn("record participant detachment",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
