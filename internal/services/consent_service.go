package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/models"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/logger"
	"github.com/prontivus/telecare/pkg/metrics"
)

// DefaultConsentTTL applies when the configuration does not bound consent validity.
const DefaultConsentTTL = 24 * time.Hour

// RequestConsentParams describes the consent being solicited from the patient.
type RequestConsentParams struct {
	Type    models.ConsentType
	Text    string
	Version string
}

// RespondConsentParams records the patient's decision together with the
// request provenance kept for the audit trail.
type RespondConsentParams struct {
	Granted   bool
	IPAddress string
	UserAgent string
}

// ConsentService maintains the append-style consent ledger. Decisions are
// written once; expiry is evaluated lazily at check time and never rewrites
// a granted row.
type ConsentService struct {
	db               *gorm.DB
	ttl              time.Duration
	requiredVersions map[models.ConsentType]string
	timeNow          func() time.Time
}

// ConsentServiceOption customises service dependencies.
type ConsentServiceOption func(*ConsentService)

// WithConsentClock overrides the clock used for timestamps (test helper).
func WithConsentClock(clock func() time.Time) ConsentServiceOption {
	return func(s *ConsentService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// WithConsentTTL bounds how long a granted consent stays valid.
func WithConsentTTL(ttl time.Duration) ConsentServiceOption {
	return func(s *ConsentService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRequiredVersions declares the consent text version that must be on file
// per consent type. A grant recorded against an older version does not
// authorize the capability.
func WithRequiredVersions(versions map[string]string) ConsentServiceOption {
	return func(s *ConsentService) {
		for key, version := range versions {
			consentType := models.ConsentType(strings.TrimSpace(key))
			if consentType.Valid() && strings.TrimSpace(version) != "" {
				s.requiredVersions[consentType] = strings.TrimSpace(version)
			}
		}
	}
}

// NewConsentService constructs the consent ledger service.
func NewConsentService(db *gorm.DB, opts ...ConsentServiceOption) (*ConsentService, error) {
	if db == nil {
		return nil, errors.New("consent service: db is required")
	}

	svc := &ConsentService{
		db:               db,
		ttl:              DefaultConsentTTL,
		requiredVersions: make(map[models.ConsentType]string),
		timeNow:          time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Request opens a pending consent record for the session's patient. Repeated
// requests for the same capability create fresh records; the newest decision
// wins at check time.
func (s *ConsentService) Request(ctx context.Context, sessionID string, principal *auth.Principal, params RequestConsentParams) (*models.ConsentRecord, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}

	if !params.Type.Valid() {
		return nil, apperrors.NewBadRequest("unknown consent type")
	}
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return nil, apperrors.NewBadRequest("consent text is required")
	}
	version := strings.TrimSpace(params.Version)
	if version == "" {
		version = s.requiredVersions[params.Type]
	}
	if version == "" {
		return nil, apperrors.NewBadRequest("consent version is required")
	}

	record := models.ConsentRecord{
		SessionID:      session.SessionID,
		PatientID:      session.PatientID,
		Type:           params.Type,
		ConsentText:    text,
		ConsentVersion: version,
		Status:         models.ConsentPending,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, apperrors.Wrap(err, "create consent record")
	}

	return &record, nil
}

// Respond records the patient's decision on a pending consent. Decisions are
// immutable: responding to an already decided record fails with a
// precondition error.
func (s *ConsentService) Respond(ctx context.Context, consentID string, principal *auth.Principal, params RespondConsentParams) (*models.ConsentRecord, error) {
	ctx = ensureContext(ctx)

	consentID = strings.TrimSpace(consentID)
	if consentID == "" {
		return nil, apperrors.NewBadRequest("consent id is required")
	}

	var record models.ConsentRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "load consent record")
	}

	if principal == nil || principal.Role != models.RolePatient || principal.ParticipantID != record.PatientID {
		return nil, apperrors.ErrNotSessionParticipant
	}
	if record.Decided() {
		return nil, apperrors.ErrPreconditionFailed.WithInternal(errors.New("consent already decided"))
	}

	now := s.timeNow().UTC()
	status := models.ConsentDenied
	updates := map[string]any{
		"status":     models.ConsentDenied,
		"ip_address": strings.TrimSpace(params.IPAddress),
		"user_agent": strings.TrimSpace(params.UserAgent),
	}
	if params.Granted {
		status = models.ConsentGranted
		expires := now.Add(s.ttl)
		updates["status"] = models.ConsentGranted
		updates["granted_at"] = now
		updates["expires_at"] = expires
		record.GrantedAt = &now
		record.ExpiresAt = &expires
	}

	// The pending guard in the WHERE clause makes concurrent responses
	// first-writer-wins.
	result := s.db.WithContext(ctx).Model(&models.ConsentRecord{}).
		Where("id = ? AND status = ?", record.ID, models.ConsentPending).
		Updates(updates)
	if result.Error != nil {
		return nil, apperrors.Wrap(result.Error, "store consent decision")
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrPreconditionFailed.WithInternal(errors.New("consent already decided"))
	}

	record.Status = status
	record.IPAddress = strings.TrimSpace(params.IPAddress)
	record.UserAgent = strings.TrimSpace(params.UserAgent)

	if params.Granted {
		if err := s.db.WithContext(ctx).Model(&models.Session{}).
			Where("session_id = ?", record.SessionID).
			Updates(map[string]any{
				"consent_granted":    true,
				"consent_granted_at": now,
			}).Error; err != nil {
			return nil, apperrors.Wrap(err, "mark session consent")
		}
	}

	metrics.ConsentDecisions.WithLabelValues(string(record.Type), string(status)).Inc()
	logger.Info("consent decision recorded",
		zap.String("session_id", record.SessionID),
		zap.String("consent_type", string(record.Type)),
		zap.String("status", string(status)))

	return &record, nil
}

// List returns the session's consent ledger, newest first, for participants.
func (s *ConsentService) List(ctx context.Context, sessionID string, principal *auth.Principal) ([]models.ConsentRecord, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}

	var records []models.ConsentRecord
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", session.SessionID).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(err, "list consent records")
	}
	return records, nil
}

// CapabilityAllowed reports whether the capability may be exercised right
// now. It requires the newest decided record for the type to be an active
// grant carrying the currently required consent version. Granted rows past
// their expiry are treated as absent, never rewritten.
func (s *ConsentService) CapabilityAllowed(ctx context.Context, sessionID string, consentType models.ConsentType) error {
	ctx = ensureContext(ctx)

	if !consentType.Valid() {
		return apperrors.NewBadRequest("unknown consent type")
	}

	var record models.ConsentRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND type = ? AND status <> ?", sessionID, consentType, models.ConsentPending).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrConsentRequired
	}
	if err != nil {
		return apperrors.Wrap(err, "load consent record")
	}

	if record.Status == models.ConsentDenied {
		return apperrors.ErrConsentDenied
	}
	if !record.ActiveAt(s.timeNow().UTC()) {
		return apperrors.ErrConsentRequired
	}
	if required, ok := s.requiredVersions[consentType]; ok && record.ConsentVersion != required {
		return apperrors.ErrConsentRequired
	}
	return nil
}
