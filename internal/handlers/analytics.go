package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prontivus/telecare/internal/services"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/response"
)

// AnalyticsHandler exposes per-session analytics and the tenant dashboard.
type AnalyticsHandler struct {
	sessions  *services.SessionService
	analytics *services.AnalyticsService
}

// NewAnalyticsHandler constructs an analytics handler.
func NewAnalyticsHandler(sessions *services.SessionService, analytics *services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{sessions: sessions, analytics: analytics}
}

// Get returns the stored analytics row for a session the caller belongs to.
func (h *AnalyticsHandler) Get(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if _, err := h.sessions.Get(requestContext(c), sessionID, principal); err != nil {
		response.Error(c, err)
		return
	}

	analytics, err := h.analytics.Get(requestContext(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, analytics)
}

// Compute recalculates the analytics row for a finished session.
func (h *AnalyticsHandler) Compute(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if _, err := h.sessions.Get(requestContext(c), sessionID, principal); err != nil {
		response.Error(c, err)
		return
	}

	analytics, err := h.analytics.Compute(requestContext(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, analytics)
}

type satisfactionRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

// RecordSatisfaction backfills the caller's satisfaction rating.
func (h *AnalyticsHandler) RecordSatisfaction(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var payload satisfactionRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	analytics, err := h.analytics.RecordSatisfaction(requestContext(c), sessionID, principal, payload.Rating)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, analytics)
}

// Dashboard aggregates session outcomes for the caller's tenant.
func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	params := services.DashboardParams{TenantID: principal.TenantID}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("from must be an RFC 3339 timestamp"))
			return
		}
		params.From = from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("to must be an RFC 3339 timestamp"))
			return
		}
		params.To = to
	}

	dashboard, err := h.analytics.GetDashboard(requestContext(c), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dashboard)
}
