package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prontivus/telecare/internal/app"
	iauth "github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/handlers"
	"github.com/prontivus/telecare/internal/middleware"
	"github.com/prontivus/telecare/internal/realtime"
	"github.com/prontivus/telecare/internal/services"
)

// Deps bundles the constructed services the router wires to handlers.
type Deps struct {
	Config   *app.Config
	Verifier *iauth.AccessTokenVerifier

	Sessions  *services.SessionService
	Consents  *services.ConsentService
	Chat      *services.ChatService
	Files     *services.FileService
	Analytics *services.AnalyticsService

	Registry realtime.Registry
	Relay    *realtime.Relay
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier must be provided")
	}
	if deps.Sessions == nil || deps.Consents == nil || deps.Chat == nil || deps.Files == nil || deps.Analytics == nil {
		return nil, fmt.Errorf("all services must be provided")
	}
	if deps.Registry == nil || deps.Relay == nil {
		return nil, fmt.Errorf("realtime registry and relay must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))

	r.GET("/health", handlers.Health())
	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	consentHandler := handlers.NewConsentHandler(deps.Consents)
	messageHandler := handlers.NewMessageHandler(deps.Chat)
	fileHandler := handlers.NewFileHandler(deps.Files)
	analyticsHandler := handlers.NewAnalyticsHandler(deps.Sessions, deps.Analytics)
	realtimeHandler := handlers.NewRealtimeHandler(
		deps.Sessions,
		deps.Registry,
		deps.Relay,
		deps.Verifier,
		deps.Config.Telemedicine.OutboundQueueSize,
		deps.Config.Server.AllowedOrigins,
	)

	// Join links resolve without an access token; the signed token in the
	// path is the credential.
	r.GET("/api/public/sessions/link/:token", sessionHandler.ResolveLink)

	// Websocket attach authenticates inside the handler because browsers
	// cannot set headers on websocket dials.
	r.GET("/api/sessions/:sessionID/ws", realtimeHandler.Attach)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Verifier))

	sessions := api.Group("/sessions")
	{
		sessions.POST("", sessionHandler.Create)
		sessions.GET("", sessionHandler.List)
		sessions.GET("/:sessionID", sessionHandler.Get)

		sessions.POST("/:sessionID/join", sessionHandler.Join)
		sessions.POST("/:sessionID/start", sessionHandler.Start)
		sessions.POST("/:sessionID/end", sessionHandler.End)
		sessions.POST("/:sessionID/cancel", sessionHandler.Cancel)
		sessions.POST("/:sessionID/fail", sessionHandler.Fail)
		sessions.POST("/:sessionID/issues", sessionHandler.ReportIssue)
		sessions.POST("/:sessionID/link", sessionHandler.IssueLink)

		sessions.POST("/:sessionID/consent", consentHandler.Request)
		sessions.GET("/:sessionID/consent", consentHandler.List)

		sessions.POST("/:sessionID/messages", messageHandler.Send)
		sessions.GET("/:sessionID/messages", messageHandler.List)
		sessions.GET("/:sessionID/messages/:messageID", messageHandler.Get)
		sessions.DELETE("/:sessionID/messages/:messageID", messageHandler.Delete)

		sessions.POST("/:sessionID/files", fileHandler.Upload)
		sessions.GET("/:sessionID/files", fileHandler.List)
		sessions.GET("/:sessionID/files/:fileID", fileHandler.Get)

		sessions.GET("/:sessionID/analytics", analyticsHandler.Get)
		sessions.POST("/:sessionID/analytics/compute", analyticsHandler.Compute)
		sessions.POST("/:sessionID/analytics/rating", analyticsHandler.RecordSatisfaction)
	}

	api.POST("/consents/:consentID/respond", consentHandler.Respond)
	api.GET("/dashboard", analyticsHandler.Dashboard)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
