package models

import "time"

// MessageType classifies chat entries.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Message is one chat entry exchanged during a session. Content is stored as
// ciphertext; plaintext exists only in memory while serving a request.
// Messages are never physically removed, only soft deleted.
type Message struct {
	BaseModel

	SessionID  string          `gorm:"type:varchar(100);not null;index" json:"session_id"`
	SenderID   string          `gorm:"type:varchar(64);not null;index" json:"sender_id"`
	SenderRole ParticipantRole `gorm:"type:varchar(20);not null" json:"sender_role"`
	Type       MessageType     `gorm:"type:varchar(20);not null;default:text" json:"message_type"`

	Content string `gorm:"type:text;not null" json:"content"`

	FileName string `gorm:"type:varchar(255)" json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	FileID   string `gorm:"type:uuid" json:"file_id,omitempty"`

	IsDeleted bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// SharedFile records metadata for a file exchanged during a session. The
// bytes themselves live in an external blob store; only the path and the
// encryption key reference are kept here.
type SharedFile struct {
	BaseModel

	SessionID  string `gorm:"type:varchar(100);not null;index" json:"session_id"`
	UploadedBy string `gorm:"type:varchar(64);not null;index" json:"uploaded_by"`

	FileName string `gorm:"type:varchar(255);not null" json:"file_name"`
	FilePath string `gorm:"type:varchar(500);not null" json:"file_path"`
	FileSize int64  `gorm:"not null" json:"file_size"`
	FileType string `gorm:"type:varchar(100);not null" json:"file_type"`
	MimeType string `gorm:"type:varchar(100)" json:"mime_type,omitempty"`

	IsEncrypted   bool   `gorm:"not null;default:true" json:"is_encrypted"`
	EncryptionKey string `gorm:"type:varchar(255)" json:"-"`

	// IsPublic makes the file visible to every session participant instead
	// of the uploader only.
	IsPublic        bool       `gorm:"not null;default:false" json:"is_public"`
	AccessExpiresAt *time.Time `gorm:"index" json:"access_expires_at,omitempty"`
}

// AccessibleBy reports whether the participant may see the file at the given instant.
func (f SharedFile) AccessibleBy(participantID string, now time.Time) bool {
	if f.AccessExpiresAt != nil && !now.Before(*f.AccessExpiresAt) {
		return false
	}
	return f.IsPublic || f.UploadedBy == participantID
}
