package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/models"
	apperrors "github.com/prontivus/telecare/pkg/errors"
)

// DashboardParams scopes the aggregate view.
type DashboardParams struct {
	TenantID string
	From     time.Time
	To       time.Time
}

// Dashboard is the tenant-level aggregate over finished sessions.
type Dashboard struct {
	TenantID string `json:"tenant_id"`

	TotalSessions     int64 `json:"total_sessions"`
	ActiveSessions    int64 `json:"active_sessions"`
	CompletedSessions int64 `json:"completed_sessions"`
	CompletedToday    int64 `json:"completed_today"`
	CancelledSessions int64 `json:"cancelled_sessions"`
	FailedSessions    int64 `json:"failed_sessions"`

	AverageDurationSeconds     float64  `json:"average_duration_seconds"`
	TotalMessages              int64    `json:"total_messages"`
	TotalFiles                 int64    `json:"total_files"`
	AveragePatientSatisfaction *float64 `json:"average_patient_satisfaction,omitempty"`
	AverageDoctorSatisfaction  *float64 `json:"average_doctor_satisfaction,omitempty"`
}

// AnalyticsService derives per-session metrics once a session reaches a
// terminal state. Compute replaces the whole row on rerun; satisfaction
// ratings are the only values backfilled after the fact and survive
// recomputation.
type AnalyticsService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// AnalyticsServiceOption customises service dependencies.
type AnalyticsServiceOption func(*AnalyticsService)

// WithAnalyticsClock overrides the clock used for timestamps (test helper).
func WithAnalyticsClock(clock func() time.Time) AnalyticsServiceOption {
	return func(s *AnalyticsService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// NewAnalyticsService constructs the analytics aggregator.
func NewAnalyticsService(db *gorm.DB, opts ...AnalyticsServiceOption) (*AnalyticsService, error) {
	if db == nil {
		return nil, errors.New("analytics service: db is required")
	}

	svc := &AnalyticsService{db: db, timeNow: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Compute derives analytics for a finished session. Reruns are idempotent:
// the existing row is replaced wholesale, carrying over any satisfaction
// ratings already backfilled.
func (s *AnalyticsService) Compute(ctx context.Context, sessionID string) (*models.SessionAnalytics, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.Terminal() {
		return nil, apperrors.ErrInvalidState
	}

	analytics := models.SessionAnalytics{
		SessionID: session.SessionID,
		TenantID:  session.TenantID,
	}

	// A no-show session that never started keeps zero duration.
	if session.ActualStart != nil && session.ActualEnd != nil && session.ActualEnd.After(*session.ActualStart) {
		analytics.DurationSeconds = int64(session.ActualEnd.Sub(*session.ActualStart) / time.Second)
	}

	var participants []models.SessionParticipant
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", session.SessionID).
		Find(&participants).Error; err != nil {
		return nil, apperrors.Wrap(err, "load participants")
	}
	analytics.ParticipantCount = len(participants)
	for _, p := range participants {
		analytics.ReconnectionCount += p.Reconnects

		joined := p.JoinedAt
		left := p.LeftAt
		var active int64
		if left != nil && left.After(joined) {
			active = int64(left.Sub(joined) / time.Second)
		}

		switch p.Role {
		case models.RoleDoctor:
			analytics.DoctorJoinedAt = &p.JoinedAt
			analytics.DoctorLeftAt = left
			analytics.DoctorActiveSeconds = active
		case models.RolePatient:
			analytics.PatientJoinedAt = &p.JoinedAt
			analytics.PatientLeftAt = left
			analytics.PatientActiveSeconds = active
		}
	}

	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("session_id = ?", session.SessionID).
		Count(&analytics.MessageCount).Error; err != nil {
		return nil, apperrors.Wrap(err, "count messages")
	}
	if err := s.db.WithContext(ctx).Model(&models.SharedFile{}).
		Where("session_id = ?", session.SessionID).
		Count(&analytics.FileCount).Error; err != nil {
		return nil, apperrors.Wrap(err, "count files")
	}

	analytics.TechnicalIssueCount = countIssues([]byte(session.TechnicalIssues))

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var previous models.SessionAnalytics
		err := tx.First(&previous, "session_id = ?", session.SessionID).Error
		switch {
		case err == nil:
			analytics.PatientSatisfactionRating = previous.PatientSatisfactionRating
			analytics.DoctorSatisfactionRating = previous.DoctorSatisfactionRating
			if err := tx.Delete(&models.SessionAnalytics{}, "session_id = ?", session.SessionID).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(&analytics).Error
	}); err != nil {
		return nil, apperrors.Wrap(err, "store analytics")
	}

	return &analytics, nil
}

// Get returns the stored analytics row for a session.
func (s *AnalyticsService) Get(ctx context.Context, sessionID string) (*models.SessionAnalytics, error) {
	ctx = ensureContext(ctx)

	var analytics models.SessionAnalytics
	if err := s.db.WithContext(ctx).
		First(&analytics, "session_id = ?", strings.TrimSpace(sessionID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "load analytics")
	}
	return &analytics, nil
}

// RecordSatisfaction backfills the caller's satisfaction rating (1-5) onto
// the session's analytics row.
func (s *AnalyticsService) RecordSatisfaction(ctx context.Context, sessionID string, principal *auth.Principal, rating int) (*models.SessionAnalytics, error) {
	ctx = ensureContext(ctx)

	if rating < 1 || rating > 5 {
		return nil, apperrors.NewBadRequest("rating must be between 1 and 5")
	}

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	role, err := participantRole(session, principal)
	if err != nil {
		return nil, err
	}

	var column string
	switch role {
	case models.RolePatient:
		column = "patient_satisfaction_rating"
	case models.RoleDoctor:
		column = "doctor_satisfaction_rating"
	default:
		return nil, apperrors.ErrNotSessionParticipant
	}

	result := s.db.WithContext(ctx).Model(&models.SessionAnalytics{}).
		Where("session_id = ?", session.SessionID).
		Update(column, rating)
	if result.Error != nil {
		return nil, apperrors.Wrap(result.Error, "store satisfaction rating")
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrPreconditionFailed.WithInternal(errors.New("analytics not computed yet"))
	}

	return s.Get(ctx, session.SessionID)
}

// GetDashboard aggregates finished sessions for a tenant within a window.
func (s *AnalyticsService) GetDashboard(ctx context.Context, params DashboardParams) (*Dashboard, error) {
	ctx = ensureContext(ctx)

	tenantID := strings.TrimSpace(params.TenantID)
	if tenantID == "" {
		return nil, apperrors.NewBadRequest("tenant id is required")
	}

	sessionQuery := s.db.WithContext(ctx).Model(&models.Session{}).Where("tenant_id = ?", tenantID)
	analyticsQuery := s.db.WithContext(ctx).Model(&models.SessionAnalytics{}).Where("tenant_id = ?", tenantID)
	if !params.From.IsZero() {
		sessionQuery = sessionQuery.Where("scheduled_start >= ?", params.From)
		analyticsQuery = analyticsQuery.Where("created_at >= ?", params.From)
	}
	if !params.To.IsZero() {
		sessionQuery = sessionQuery.Where("scheduled_start < ?", params.To)
		analyticsQuery = analyticsQuery.Where("created_at < ?", params.To)
	}

	dashboard := Dashboard{TenantID: tenantID}

	if err := sessionQuery.Session(&gorm.Session{}).Count(&dashboard.TotalSessions).Error; err != nil {
		return nil, apperrors.Wrap(err, "count sessions")
	}
	statusCounts := []struct {
		Status models.SessionStatus
		Total  int64
	}{}
	if err := sessionQuery.Session(&gorm.Session{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, apperrors.Wrap(err, "group sessions by status")
	}
	for _, row := range statusCounts {
		switch row.Status {
		case models.SessionWaiting, models.SessionInProgress:
			dashboard.ActiveSessions += row.Total
		case models.SessionCompleted:
			dashboard.CompletedSessions = row.Total
		case models.SessionCancelled:
			dashboard.CancelledSessions = row.Total
		case models.SessionFailed:
			dashboard.FailedSessions = row.Total
		}
	}

	dayStart := s.timeNow().UTC().Truncate(24 * time.Hour)
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("tenant_id = ? AND status = ? AND actual_end >= ?", tenantID, models.SessionCompleted, dayStart).
		Count(&dashboard.CompletedToday).Error; err != nil {
		return nil, apperrors.Wrap(err, "count sessions completed today")
	}

	aggregates := struct {
		AvgDuration     *float64
		TotalMessages   *int64
		TotalFiles      *int64
		AvgPatientScore *float64
		AvgDoctorScore  *float64
	}{}
	if err := analyticsQuery.
		Select("AVG(duration_seconds) AS avg_duration, " +
			"SUM(message_count) AS total_messages, " +
			"SUM(file_count) AS total_files, " +
			"AVG(patient_satisfaction_rating) AS avg_patient_score, " +
			"AVG(doctor_satisfaction_rating) AS avg_doctor_score").
		Scan(&aggregates).Error; err != nil {
		return nil, apperrors.Wrap(err, "aggregate analytics")
	}

	if aggregates.AvgDuration != nil {
		dashboard.AverageDurationSeconds = *aggregates.AvgDuration
	}
	if aggregates.TotalMessages != nil {
		dashboard.TotalMessages = *aggregates.TotalMessages
	}
	if aggregates.TotalFiles != nil {
		dashboard.TotalFiles = *aggregates.TotalFiles
	}
	dashboard.AveragePatientSatisfaction = aggregates.AvgPatientScore
	dashboard.AverageDoctorSatisfaction = aggregates.AvgDoctorScore

	return &dashboard, nil
}

func countIssues(raw []byte) int {
	if len(raw) == 0 {
		return 0
	}
	var issues []json.RawMessage
	if err := json.Unmarshal(raw, &issues); err != nil {
		return 0
	}
	return len(issues)
}
