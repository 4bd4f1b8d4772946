package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/internal/services"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/response"
)

// SessionHandler exposes the session lifecycle endpoints.
type SessionHandler struct {
	sessions *services.SessionService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	DoctorID       string    `json:"doctor_id" validate:"required"`
	PatientID      string    `json:"patient_id" validate:"required"`
	Title          string    `json:"title" validate:"max=255"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required"`

	MaxParticipants int `json:"max_participants" validate:"omitempty,min=2,max=16"`

	ChatEnabled          *bool `json:"chat_enabled"`
	ScreenSharingEnabled *bool `json:"screen_sharing_enabled"`
	FileSharingEnabled   *bool `json:"file_sharing_enabled"`
	RecordingEnabled     bool  `json:"recording_enabled"`
	ConsentRequired      *bool `json:"consent_required"`

	Metadata map[string]any `json:"metadata"`
}

// Create schedules a session between a doctor and a patient. The tenant comes
// from the caller's credentials, never the payload.
func (h *SessionHandler) Create(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	var payload createSessionRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	session, err := h.sessions.Create(requestContext(c), services.CreateSessionParams{
		TenantID:             principal.TenantID,
		DoctorID:             payload.DoctorID,
		PatientID:            payload.PatientID,
		Title:                payload.Title,
		ScheduledStart:       payload.ScheduledStart,
		ScheduledEnd:         payload.ScheduledEnd,
		MaxParticipants:      payload.MaxParticipants,
		ChatEnabled:          payload.ChatEnabled,
		ScreenSharingEnabled: payload.ScreenSharingEnabled,
		FileSharingEnabled:   payload.FileSharingEnabled,
		RecordingEnabled:     payload.RecordingEnabled,
		ConsentRequired:      payload.ConsentRequired,
		Metadata:             payload.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// List returns the caller's sessions filtered by the query string.
func (h *SessionHandler) List(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	params := services.ListSessionsParams{
		TenantID: principal.TenantID,
		Status:   models.SessionStatus(strings.TrimSpace(c.Query("status"))),
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 20),
	}

	// Participants only ever see their own sessions.
	switch principal.Role {
	case models.RoleDoctor:
		params.DoctorID = principal.ParticipantID
	case models.RolePatient:
		params.PatientID = principal.ParticipantID
	}

	if from := strings.TrimSpace(c.Query("from")); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("from must be RFC 3339"))
			return
		}
		params.From = parsed
	}
	if to := strings.TrimSpace(c.Query("to")); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("to must be RFC 3339"))
			return
		}
		params.To = parsed
	}

	sessions, total, err := h.sessions.List(requestContext(c), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, sessions, &response.Meta{
		Page:    params.Page,
		PerPage: params.PageSize,
		Total:   total,
	})
}

// Get returns one session for a verified participant.
func (h *SessionHandler) Get(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	session, err := h.sessions.Get(requestContext(c), sessionID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// Join admits the caller to the session room.
func (h *SessionHandler) Join(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	result, err := h.sessions.Join(requestContext(c), sessionID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Start begins the consultation.
func (h *SessionHandler) Start(c *gin.Context) {
	h.transition(c, h.sessions.Start)
}

// End completes the consultation. An optional reason lands in the session
// metadata.
func (h *SessionHandler) End(c *gin.Context) {
	h.abort(c, h.sessions.End)
}

type abortRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Cancel aborts a session before or during the consultation.
func (h *SessionHandler) Cancel(c *gin.Context) {
	h.abort(c, h.sessions.Cancel)
}

// Fail marks the session as failed after an unrecoverable problem.
func (h *SessionHandler) Fail(c *gin.Context) {
	h.abort(c, h.sessions.Fail)
}

type reportIssueRequest struct {
	Type        string `json:"type" validate:"required,max=50"`
	Description string `json:"description" validate:"max=2000"`
}

// ReportIssue attaches a technical issue report to the session.
func (h *SessionHandler) ReportIssue(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var payload reportIssueRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	session, err := h.sessions.ReportIssue(requestContext(c), sessionID, principal, payload.Type, payload.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, session)
}

type issueLinkRequest struct {
	TTLSeconds int `json:"ttl_seconds" validate:"omitempty,min=60,max=604800"`
}

// IssueLink mints a shareable join link for the session.
func (h *SessionHandler) IssueLink(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var payload issueLinkRequest
	if c.Request != nil && c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &payload) {
			return
		}
	}

	link, err := h.sessions.IssueLink(requestContext(c), sessionID, principal, time.Duration(payload.TTLSeconds)*time.Second)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"link_token": link})
}

// ResolveLink redeems a join link. Public: the response reveals only the
// session's public schedule.
func (h *SessionHandler) ResolveLink(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, apperrors.ErrLinkMalformed)
		return
	}

	resolution, err := h.sessions.ResolveLink(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resolution)
}

func (h *SessionHandler) transition(c *gin.Context, op func(context.Context, string, *iauth.Principal) (*models.Session, error)) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	session, err := op(requestContext(c), sessionID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

func (h *SessionHandler) abort(c *gin.Context, op func(context.Context, string, *iauth.Principal, string) (*models.Session, error)) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var payload abortRequest
	if c.Request != nil && c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &payload) {
			return
		}
	}

	session, err := op(requestContext(c), sessionID, principal, payload.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}
