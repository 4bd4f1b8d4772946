package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/internal/services"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/response"
)

// ConsentHandler exposes the consent ledger endpoints.
type ConsentHandler struct {
	consents *services.ConsentService
}

// NewConsentHandler constructs a consent handler.
func NewConsentHandler(consents *services.ConsentService) *ConsentHandler {
	return &ConsentHandler{consents: consents}
}

type requestConsentRequest struct {
	Type    string `json:"consent_type" validate:"required,oneof=recording screen_sharing data_sharing"`
	Text    string `json:"consent_text" validate:"required"`
	Version string `json:"consent_version" validate:"max=20"`
}

// Request opens a pending consent for the session's patient.
func (h *ConsentHandler) Request(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var payload requestConsentRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	record, err := h.consents.Request(requestContext(c), sessionID, principal, services.RequestConsentParams{
		Type:    models.ConsentType(payload.Type),
		Text:    payload.Text,
		Version: payload.Version,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, record)
}

// List returns the session's consent ledger.
func (h *ConsentHandler) List(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	records, err := h.consents.List(requestContext(c), sessionID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, records)
}

type respondConsentRequest struct {
	Granted bool `json:"granted"`
}

// Respond records the patient's decision. The requester's address and agent
// are captured for the audit trail.
func (h *ConsentHandler) Respond(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}

	consentID := strings.TrimSpace(c.Param("consentID"))
	if consentID == "" {
		response.Error(c, apperrors.NewBadRequest("consent id is required"))
		return
	}

	var payload respondConsentRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	record, err := h.consents.Respond(requestContext(c), consentID, principal, services.RespondConsentParams{
		Granted:   payload.Granted,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, record)
}
