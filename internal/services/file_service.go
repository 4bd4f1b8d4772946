package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/internal/telecrypt"
	"github.com/prontivus/telecare/pkg/crypto"
	apperrors "github.com/prontivus/telecare/pkg/errors"
)

const fileKeyLength = 32

// UploadFileParams records the metadata of a file placed in the blob store.
type UploadFileParams struct {
	FileName string
	FilePath string
	FileSize int64
	FileType string
	MimeType string

	IsPublic  bool
	AccessTTL time.Duration
}

// FileAccess bundles file metadata with the decrypted per-file key the
// caller needs to fetch and decode the blob.
type FileAccess struct {
	File          *models.SharedFile `json:"file"`
	EncryptionKey string             `json:"encryption_key,omitempty"`
}

// FileService tracks files exchanged during a session. The bytes live in an
// external blob store; this service owns metadata, visibility and per-file
// keys wrapped with the deployment cipher.
type FileService struct {
	db      *gorm.DB
	cipher  *telecrypt.ChannelCipher
	timeNow func() time.Time
}

// FileServiceOption customises service dependencies.
type FileServiceOption func(*FileService)

// WithFileClock overrides the clock used for timestamps (test helper).
func WithFileClock(clock func() time.Time) FileServiceOption {
	return func(s *FileService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// NewFileService constructs the file service.
func NewFileService(db *gorm.DB, cipher *telecrypt.ChannelCipher, opts ...FileServiceOption) (*FileService, error) {
	if db == nil {
		return nil, errors.New("file service: db is required")
	}
	if cipher == nil {
		return nil, errors.New("file service: channel cipher is required")
	}

	svc := &FileService{db: db, cipher: cipher, timeNow: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Upload registers a shared file and mints its wrapped encryption key. File
// sharing must be enabled for the session.
func (s *FileService) Upload(ctx context.Context, sessionID string, principal *auth.Principal, params UploadFileParams) (*FileAccess, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}
	if !session.FileSharingEnabled {
		return nil, apperrors.ErrFeatureDisabled
	}
	if session.Status.Terminal() {
		return nil, apperrors.ErrInvalidState
	}

	fileName := strings.TrimSpace(params.FileName)
	filePath := strings.TrimSpace(params.FilePath)
	if fileName == "" || filePath == "" {
		return nil, apperrors.NewBadRequest("file name and path are required")
	}
	if params.FileSize <= 0 {
		return nil, apperrors.NewBadRequest("file size must be positive")
	}

	fileKey, err := crypto.GenerateToken(fileKeyLength)
	if err != nil {
		return nil, apperrors.Wrap(err, "generate file key")
	}
	wrappedKey, err := s.cipher.Encrypt([]byte(fileKey))
	if err != nil {
		return nil, apperrors.Wrap(err, "wrap file key")
	}

	file := models.SharedFile{
		SessionID:     session.SessionID,
		UploadedBy:    principal.ParticipantID,
		FileName:      fileName,
		FilePath:      filePath,
		FileSize:      params.FileSize,
		FileType:      strings.TrimSpace(params.FileType),
		MimeType:      strings.TrimSpace(params.MimeType),
		IsEncrypted:   true,
		EncryptionKey: wrappedKey,
		IsPublic:      params.IsPublic,
	}
	if params.AccessTTL > 0 {
		expires := s.timeNow().UTC().Add(params.AccessTTL)
		file.AccessExpiresAt = &expires
	}

	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		return nil, apperrors.Wrap(err, "store file record")
	}

	return &FileAccess{File: &file, EncryptionKey: fileKey}, nil
}

// List returns the files visible to the calling participant.
func (s *FileService) List(ctx context.Context, sessionID string, principal *auth.Principal) ([]models.SharedFile, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}

	var files []models.SharedFile
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", session.SessionID).
		Order("created_at ASC").
		Find(&files).Error; err != nil {
		return nil, apperrors.Wrap(err, "list files")
	}

	now := s.timeNow().UTC()
	visible := files[:0]
	for _, file := range files {
		if file.AccessibleBy(principal.ParticipantID, now) {
			visible = append(visible, file)
		}
	}
	return visible, nil
}

// Get returns one file with its unwrapped encryption key, subject to the
// same visibility rules as List.
func (s *FileService) Get(ctx context.Context, sessionID, fileID string, principal *auth.Principal) (*FileAccess, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}

	var file models.SharedFile
	if err := s.db.WithContext(ctx).
		First(&file, "id = ? AND session_id = ?", strings.TrimSpace(fileID), session.SessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "load file record")
	}

	if !file.AccessibleBy(principal.ParticipantID, s.timeNow().UTC()) {
		return nil, apperrors.ErrNotFound
	}

	access := &FileAccess{File: &file}
	if file.IsEncrypted && file.EncryptionKey != "" {
		key, err := s.cipher.Decrypt(file.EncryptionKey)
		if err != nil {
			return nil, apperrors.ErrDecryptFailed.WithInternal(err)
		}
		access.EncryptionKey = string(key)
	}
	return access, nil
}
