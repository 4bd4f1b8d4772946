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

// MessageHandler exposes the encrypted chat endpoints.
type MessageHandler struct {
	chat *services.ChatService
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(chat *services.ChatService) *MessageHandler {
	return &MessageHandler{chat: chat}
}

type sendMessageRequest struct {
	Type     string `json:"message_type" validate:"omitempty,oneof=text file system"`
	Content  string `json:"content" validate:"required"`
	FileName string `json:"file_name" validate:"max=255"`
	FileSize int64  `json:"file_size" validate:"min=0"`
	FileID   string `json:"file_id" validate:"max=64"`
}

// Send stores an encrypted chat entry for the session.
func (h *MessageHandler) Send(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var payload sendMessageRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	message, err := h.chat.Send(requestContext(c), sessionID, principal, services.SendMessageParams{
		Type:     models.MessageType(payload.Type),
		Content:  payload.Content,
		FileName: payload.FileName,
		FileSize: payload.FileSize,
		FileID:   payload.FileID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, message)
}

// List returns decrypted chat history, oldest first.
func (h *MessageHandler) List(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)

	messages, total, err := h.chat.List(requestContext(c), sessionID, principal, services.ListMessagesParams{
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, messages, &response.Meta{
		Page:    page,
		PerPage: pageSize,
		Total:   total,
	})
}

// Get fetches one message by id, including soft-deleted entries.
func (h *MessageHandler) Get(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	messageID := strings.TrimSpace(c.Param("messageID"))
	if messageID == "" {
		response.Error(c, apperrors.NewBadRequest("message id is required"))
		return
	}

	message, err := h.chat.Get(requestContext(c), sessionID, messageID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, message)
}

// Delete soft deletes the caller's own message.
func (h *MessageHandler) Delete(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	messageID := strings.TrimSpace(c.Param("messageID"))
	if messageID == "" {
		response.Error(c, apperrors.NewBadRequest("message id is required"))
		return
	}

	if err := h.chat.Delete(requestContext(c), sessionID, messageID, principal); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
