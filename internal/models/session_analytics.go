package models

import "time"

// SessionAnalytics holds derived metrics for one completed session. It is
// produced by the aggregator at session end and replaced wholesale when
// recomputed; only satisfaction ratings may be backfilled afterwards.
type SessionAnalytics struct {
	BaseModel

	SessionID string `gorm:"type:varchar(100);uniqueIndex;not null" json:"session_id"`
	TenantID  string `gorm:"type:varchar(64);not null;index" json:"tenant_id"`

	DurationSeconds  int64 `gorm:"not null;default:0" json:"duration_seconds"`
	ParticipantCount int   `gorm:"not null;default:0" json:"participant_count"`
	MessageCount     int64 `gorm:"not null;default:0" json:"message_count"`
	FileCount        int64 `gorm:"not null;default:0" json:"file_count"`

	TechnicalIssueCount int `gorm:"not null;default:0" json:"technical_issue_count"`
	ReconnectionCount   int `gorm:"not null;default:0" json:"reconnection_count"`

	DoctorJoinedAt            *time.Time `json:"doctor_joined_at,omitempty"`
	DoctorLeftAt              *time.Time `json:"doctor_left_at,omitempty"`
	DoctorActiveSeconds       int64      `gorm:"not null;default:0" json:"doctor_active_seconds"`
	PatientJoinedAt           *time.Time `json:"patient_joined_at,omitempty"`
	PatientLeftAt             *time.Time `json:"patient_left_at,omitempty"`
	PatientActiveSeconds      int64      `gorm:"not null;default:0" json:"patient_active_seconds"`
	PatientSatisfactionRating *int       `json:"patient_satisfaction_rating,omitempty"`
	DoctorSatisfactionRating  *int       `json:"doctor_satisfaction_rating,omitempty"`
}
