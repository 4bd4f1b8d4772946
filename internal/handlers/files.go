package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prontivus/telecare/internal/services"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/response"
)

// FileHandler exposes the shared file metadata endpoints.
type FileHandler struct {
	files *services.FileService
}

// NewFileHandler constructs a file handler.
func NewFileHandler(files *services.FileService) *FileHandler {
	return &FileHandler{files: files}
}

type uploadFileRequest struct {
	FileName         string `json:"file_name" validate:"required,max=255"`
	FilePath         string `json:"file_path" validate:"required,max=1024"`
	FileSize         int64  `json:"file_size" validate:"required,min=1"`
	FileType         string `json:"file_type" validate:"max=64"`
	MimeType         string `json:"mime_type" validate:"max=128"`
	IsPublic         bool   `json:"is_public"`
	AccessTTLSeconds int64  `json:"access_ttl_seconds" validate:"omitempty,min=60,max=2592000"`
}

// Upload registers file metadata and returns the wrapped per-file key.
func (h *FileHandler) Upload(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var payload uploadFileRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	access, err := h.files.Upload(requestContext(c), sessionID, principal, services.UploadFileParams{
		FileName:  payload.FileName,
		FilePath:  payload.FilePath,
		FileSize:  payload.FileSize,
		FileType:  payload.FileType,
		MimeType:  payload.MimeType,
		IsPublic:  payload.IsPublic,
		AccessTTL: time.Duration(payload.AccessTTLSeconds) * time.Second,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, access)
}

// List returns the file metadata visible to the caller.
func (h *FileHandler) List(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	files, err := h.files.List(requestContext(c), sessionID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, files)
}

// Get returns one file with its unwrapped encryption key.
func (h *FileHandler) Get(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	fileID := strings.TrimSpace(c.Param("fileID"))
	if fileID == "" {
		response.Error(c, apperrors.NewBadRequest("file id is required"))
		return
	}

	access, err := h.files.Get(requestContext(c), sessionID, fileID, principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, access)
}
