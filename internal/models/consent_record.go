package models

import "time"

// ConsentType identifies the capability a consent record gates.
type ConsentType string

const (
	ConsentRecording     ConsentType = "recording"
	ConsentScreenSharing ConsentType = "screen_sharing"
	ConsentDataSharing   ConsentType = "data_sharing"
)

// Valid reports whether the consent type is one of the known capabilities.
func (t ConsentType) Valid() bool {
	switch t {
	case ConsentRecording, ConsentScreenSharing, ConsentDataSharing:
		return true
	}
	return false
}

// ConsentStatus enumerates the decision states of a consent record.
type ConsentStatus string

const (
	ConsentPending ConsentStatus = "pending"
	ConsentGranted ConsentStatus = "granted"
	ConsentDenied  ConsentStatus = "denied"
	// ConsentExpired is informational only. Expiry is evaluated lazily at
	// check time; granted rows past ExpiresAt are treated as absent and are
	// never rewritten in place.
	ConsentExpired ConsentStatus = "expired"
)

// ConsentRecord captures one capability-specific patient authorization.
type ConsentRecord struct {
	BaseModel

	SessionID string      `gorm:"type:varchar(100);not null;index" json:"session_id"`
	PatientID string      `gorm:"type:varchar(64);not null;index" json:"patient_id"`
	Type      ConsentType `gorm:"type:varchar(50);not null;index" json:"consent_type"`

	ConsentText    string `gorm:"type:text;not null" json:"consent_text"`
	ConsentVersion string `gorm:"type:varchar(20);not null" json:"consent_version"`

	Status    ConsentStatus `gorm:"type:varchar(20);not null;index;default:pending" json:"status"`
	GrantedAt *time.Time    `json:"granted_at,omitempty"`
	IPAddress string        `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent string        `gorm:"type:text" json:"user_agent,omitempty"`
	ExpiresAt *time.Time    `gorm:"index" json:"expires_at,omitempty"`
}

// Decided reports whether the record already carries a terminal decision.
func (c ConsentRecord) Decided() bool {
	return c.Status != ConsentPending
}

// ActiveAt reports whether the record authorizes its capability at the given
// instant: granted and not yet expired.
func (c ConsentRecord) ActiveAt(now time.Time) bool {
	if c.Status != ConsentGranted {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}
