package models

import (
	"time"

	"gorm.io/datatypes"
)

// SessionStatus enumerates the lifecycle states of a telemedicine session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionWaiting    SessionStatus = "waiting"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionFailed     SessionStatus = "failed"
)

// Terminal reports whether no further status transition is permitted.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionFailed:
		return true
	}
	return false
}

// Joinable reports whether participants may still join the session.
func (s SessionStatus) Joinable() bool {
	switch s {
	case SessionScheduled, SessionWaiting, SessionInProgress:
		return true
	}
	return false
}

// ParticipantRole identifies the role of a session participant.
type ParticipantRole string

const (
	RoleDoctor  ParticipantRole = "doctor"
	RolePatient ParticipantRole = "patient"
	RoleSystem  ParticipantRole = "system"
)

// Session is the aggregate root for one telemedicine consultation.
//
// The doctor and patient references are immutable after creation; RoomToken
// holds the encrypted room correlation secret and is never stored or logged
// in plaintext.
type Session struct {
	BaseModel

	SessionID string `gorm:"type:varchar(100);uniqueIndex;not null" json:"session_id"`
	TenantID  string `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	DoctorID  string `gorm:"type:varchar(64);not null;index" json:"doctor_id"`
	PatientID string `gorm:"type:varchar(64);not null;index" json:"patient_id"`

	Title          string     `gorm:"type:varchar(255)" json:"title,omitempty"`
	ScheduledStart time.Time  `gorm:"not null;index" json:"scheduled_start"`
	ScheduledEnd   time.Time  `gorm:"not null" json:"scheduled_end"`
	ActualStart    *time.Time `json:"actual_start,omitempty"`
	ActualEnd      *time.Time `json:"actual_end,omitempty"`

	Status SessionStatus `gorm:"type:varchar(20);not null;index;default:scheduled" json:"status"`

	RoomToken       string `gorm:"type:text" json:"-"`
	MaxParticipants int    `gorm:"not null;default:2" json:"max_participants"`

	// The feature toggles carry no column defaults: Create always writes
	// explicit values, and a default tag would make gorm skip false on insert.
	ChatEnabled          bool `gorm:"not null" json:"chat_enabled"`
	ScreenSharingEnabled bool `gorm:"not null" json:"screen_sharing_enabled"`
	FileSharingEnabled   bool `gorm:"not null" json:"file_sharing_enabled"`
	RecordingEnabled     bool `gorm:"not null" json:"recording_enabled"`

	ConsentRequired  bool       `gorm:"not null" json:"consent_required"`
	ConsentGranted   bool       `gorm:"not null;default:false" json:"consent_granted"`
	ConsentGrantedAt *time.Time `json:"consent_granted_at,omitempty"`

	TechnicalIssues datatypes.JSON `gorm:"type:json" json:"technical_issues,omitempty"`
	Metadata        datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`

	Participants []SessionParticipant `gorm:"foreignKey:SessionID;references:SessionID" json:"participants,omitempty"`
	Messages     []Message            `gorm:"foreignKey:SessionID;references:SessionID" json:"messages,omitempty"`
	Files        []SharedFile         `gorm:"foreignKey:SessionID;references:SessionID" json:"files,omitempty"`
	Consents     []ConsentRecord      `gorm:"foreignKey:SessionID;references:SessionID" json:"consents,omitempty"`
}

// SessionParticipant stores per-role join/leave history for a session.
// One row per (session, role, participant); reconnects bump Reconnects
// rather than inserting a new row.
type SessionParticipant struct {
	BaseModel

	SessionID     string          `gorm:"type:varchar(100);not null;index:idx_participant_session,unique,composite:participant" json:"session_id"`
	ParticipantID string          `gorm:"type:varchar(64);not null;index:idx_participant_session,unique,composite:participant" json:"participant_id"`
	Role          ParticipantRole `gorm:"type:varchar(20);not null;index:idx_participant_session,unique,composite:participant" json:"role"`
	JoinedAt      time.Time       `gorm:"not null" json:"joined_at"`
	LeftAt        *time.Time      `json:"left_at,omitempty"`
	Reconnects    int             `gorm:"not null;default:0" json:"reconnects"`
}

// ParticipantKey returns the registry key for this participant, e.g. "doctor_42".
func (p SessionParticipant) ParticipantKey() string {
	return string(p.Role) + "_" + p.ParticipantID
}
