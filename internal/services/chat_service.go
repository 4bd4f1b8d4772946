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
	apperrors "github.com/prontivus/telecare/pkg/errors"
)

const maxMessageLength = 8 * 1024

// SendMessageParams carries one outgoing chat entry.
type SendMessageParams struct {
	Type     models.MessageType
	Content  string
	FileName string
	FileSize int64
	FileID   string
}

// ListMessagesParams paginates chat history.
type ListMessagesParams struct {
	Page     int
	PageSize int
}

// ChatService persists the encrypted chat channel. Plaintext exists only in
// memory while serving a request; rows are soft deleted and kept for audit.
type ChatService struct {
	db      *gorm.DB
	cipher  *telecrypt.ChannelCipher
	timeNow func() time.Time
}

// ChatServiceOption customises service dependencies.
type ChatServiceOption func(*ChatService)

// WithChatClock overrides the clock used for timestamps (test helper).
func WithChatClock(clock func() time.Time) ChatServiceOption {
	return func(s *ChatService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// NewChatService constructs the chat service.
func NewChatService(db *gorm.DB, cipher *telecrypt.ChannelCipher, opts ...ChatServiceOption) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	if cipher == nil {
		return nil, errors.New("chat service: channel cipher is required")
	}

	svc := &ChatService{db: db, cipher: cipher, timeNow: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Send encrypts and stores one chat entry. Chat must be enabled for the
// session and the session must still be live.
func (s *ChatService) Send(ctx context.Context, sessionID string, principal *auth.Principal, params SendMessageParams) (*models.Message, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	role, err := participantRole(session, principal)
	if err != nil {
		return nil, err
	}
	if !session.ChatEnabled {
		return nil, apperrors.ErrFeatureDisabled
	}
	if session.Status != models.SessionWaiting && session.Status != models.SessionInProgress {
		return nil, apperrors.ErrInvalidState
	}

	content := params.Content
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewBadRequest("message content is required")
	}
	if len(content) > maxMessageLength {
		return nil, apperrors.NewBadRequest("message content is too large")
	}

	messageType := params.Type
	if messageType == "" {
		messageType = models.MessageText
	}

	encrypted, err := s.cipher.Encrypt([]byte(content))
	if err != nil {
		return nil, apperrors.Wrap(err, "encrypt message")
	}

	message := models.Message{
		SessionID:  session.SessionID,
		SenderID:   principal.ParticipantID,
		SenderRole: role,
		Type:       messageType,
		Content:    encrypted,
		FileName:   strings.TrimSpace(params.FileName),
		FileSize:   params.FileSize,
		FileID:     strings.TrimSpace(params.FileID),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, apperrors.Wrap(err, "store message")
	}

	message.Content = content
	return &message, nil
}

// List returns decrypted chat history for a participant, oldest first,
// excluding soft-deleted entries.
func (s *ChatService) List(ctx context.Context, sessionID string, principal *auth.Principal, params ListMessagesParams) ([]models.Message, int64, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("session_id = ? AND is_deleted = ?", session.SessionID, false)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "count messages")
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	var messages []models.Message
	if err := query.
		Order("created_at ASC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&messages).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "list messages")
	}

	for i := range messages {
		plaintext, err := s.cipher.Decrypt(messages[i].Content)
		if err != nil {
			return nil, 0, apperrors.ErrDecryptFailed.WithInternal(err)
		}
		messages[i].Content = string(plaintext)
	}

	return messages, total, nil
}

// Get fetches a single message by id, including soft-deleted entries. Used
// for audit review; deleted messages come back with their content intact.
func (s *ChatService) Get(ctx context.Context, sessionID, messageID string, principal *auth.Principal) (*models.Message, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}

	var message models.Message
	if err := s.db.WithContext(ctx).
		First(&message, "id = ? AND session_id = ?", strings.TrimSpace(messageID), session.SessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "load message")
	}

	plaintext, err := s.cipher.Decrypt(message.Content)
	if err != nil {
		return nil, apperrors.ErrDecryptFailed.WithInternal(err)
	}
	message.Content = string(plaintext)

	return &message, nil
}

// Delete soft deletes a message. Only the sender may delete their own
// entries; the ciphertext row is retained for audit.
func (s *ChatService) Delete(ctx context.Context, sessionID, messageID string, principal *auth.Principal) error {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return err
	}
	if _, err := participantRole(session, principal); err != nil {
		return err
	}

	var message models.Message
	if err := s.db.WithContext(ctx).
		First(&message, "id = ? AND session_id = ?", strings.TrimSpace(messageID), session.SessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return apperrors.Wrap(err, "load message")
	}

	if message.SenderID != principal.ParticipantID {
		return apperrors.ErrNotSessionParticipant
	}
	if message.IsDeleted {
		return nil
	}

	now := s.timeNow().UTC()
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", message.ID).
		Updates(map[string]any{
			"is_deleted": true,
			"deleted_at": now,
		}).Error; err != nil {
		return apperrors.Wrap(err, "delete message")
	}

	return nil
}
