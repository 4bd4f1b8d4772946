package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/internal/realtime"
	"github.com/prontivus/telecare/internal/telecrypt"
	"github.com/prontivus/telecare/pkg/crypto"
	apperrors "github.com/prontivus/telecare/pkg/errors"
	"github.com/prontivus/telecare/pkg/logger"
	"github.com/prontivus/telecare/pkg/metrics"
)

const (
	sessionIDPrefix      = "tm_"
	roomTokenLength      = 32
	defaultParticipants  = 2
	maxTechnicalIssueLen = 2000
)

// CreateSessionParams carries the attributes required to schedule a session.
type CreateSessionParams struct {
	TenantID       string
	DoctorID       string
	PatientID      string
	Title          string
	ScheduledStart time.Time
	ScheduledEnd   time.Time

	MaxParticipants int

	ChatEnabled          *bool
	ScreenSharingEnabled *bool
	FileSharingEnabled   *bool
	RecordingEnabled     bool

	ConsentRequired *bool
	Metadata        map[string]any
}

// ListSessionsParams narrows and paginates session listings. Zero values are
// ignored.
type ListSessionsParams struct {
	TenantID  string
	DoctorID  string
	PatientID string
	Status    models.SessionStatus
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// JoinResult is what a participant needs to attach to the room.
type JoinResult struct {
	Session        *models.Session `json:"session"`
	ParticipantKey string          `json:"participant_key"`
	RoomToken      string          `json:"room_token"`
	Reconnected    bool            `json:"reconnected"`
}

// TechnicalIssue is one defect report attached to a session.
type TechnicalIssue struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	ReportedBy  string    `json:"reported_by"`
	ReportedAt  time.Time `json:"reported_at"`
}

// LinkResolution is the public view returned when a join link is redeemed.
type LinkResolution struct {
	SessionID      string               `json:"session_id"`
	Title          string               `json:"title,omitempty"`
	Status         models.SessionStatus `json:"status"`
	ScheduledStart time.Time            `json:"scheduled_start"`
	ScheduledEnd   time.Time            `json:"scheduled_end"`
}

// SessionAnalyticsComputer recomputes derived metrics for a finished session.
type SessionAnalyticsComputer interface {
	Compute(ctx context.Context, sessionID string) (*models.SessionAnalytics, error)
}

// SessionService owns the session lifecycle: scheduling, joining, the status
// state machine, join links and technical issue reports.
type SessionService struct {
	db        *gorm.DB
	cipher    *telecrypt.ChannelCipher
	registry  realtime.Registry
	issuer    *auth.LinkIssuer
	consents  *ConsentService
	analytics SessionAnalyticsComputer

	defaultMaxParticipants int
	timeNow                func() time.Time

	// background tracks the aggregation goroutines spawned by End so a
	// shutdown can drain them.
	background sync.WaitGroup
}

// SessionServiceOption customises service dependencies.
type SessionServiceOption func(*SessionService)

// WithAnalyticsComputer wires the aggregator invoked when sessions end.
func WithAnalyticsComputer(computer SessionAnalyticsComputer) SessionServiceOption {
	return func(s *SessionService) {
		s.analytics = computer
	}
}

// WithSessionClock overrides the clock used for timestamps (test helper).
func WithSessionClock(clock func() time.Time) SessionServiceOption {
	return func(s *SessionService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// WithDefaultMaxParticipants sets the participant cap applied when a create
// request does not specify one.
func WithDefaultMaxParticipants(limit int) SessionServiceOption {
	return func(s *SessionService) {
		if limit >= defaultParticipants {
			s.defaultMaxParticipants = limit
		}
	}
}

// NewSessionService constructs the session service once dependencies are supplied.
func NewSessionService(db *gorm.DB, cipher *telecrypt.ChannelCipher, registry realtime.Registry, issuer *auth.LinkIssuer, consents *ConsentService, opts ...SessionServiceOption) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if cipher == nil {
		return nil, errors.New("session service: channel cipher is required")
	}
	if registry == nil {
		return nil, errors.New("session service: connection registry is required")
	}
	if issuer == nil {
		return nil, errors.New("session service: link issuer is required")
	}
	if consents == nil {
		return nil, errors.New("session service: consent service is required")
	}

	svc := &SessionService{
		db:                     db,
		cipher:                 cipher,
		registry:               registry,
		issuer:                 issuer,
		consents:               consents,
		defaultMaxParticipants: defaultParticipants,
		timeNow:                time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Create schedules a new session and provisions its encrypted room token.
func (s *SessionService) Create(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
	ctx = ensureContext(ctx)

	tenantID := strings.TrimSpace(params.TenantID)
	doctorID := strings.TrimSpace(params.DoctorID)
	patientID := strings.TrimSpace(params.PatientID)
	if tenantID == "" || doctorID == "" || patientID == "" {
		return nil, apperrors.NewBadRequest("tenant, doctor and patient ids are required")
	}
	if params.ScheduledStart.IsZero() || params.ScheduledEnd.IsZero() {
		return nil, apperrors.NewBadRequest("scheduled start and end are required")
	}
	if !params.ScheduledEnd.After(params.ScheduledStart) {
		return nil, apperrors.NewBadRequest("scheduled end must be after scheduled start")
	}

	roomSecret, err := crypto.GenerateToken(roomTokenLength)
	if err != nil {
		return nil, apperrors.Wrap(err, "generate room token")
	}
	encryptedToken, err := s.cipher.Encrypt([]byte(roomSecret))
	if err != nil {
		return nil, apperrors.Wrap(err, "encrypt room token")
	}

	maxParticipants := params.MaxParticipants
	if maxParticipants < defaultParticipants {
		maxParticipants = s.defaultMaxParticipants
	}

	metadata, err := encodeMetadata(params.Metadata)
	if err != nil {
		return nil, apperrors.Wrap(err, "encode metadata")
	}

	session := models.Session{
		SessionID:            newSessionID(),
		TenantID:             tenantID,
		DoctorID:             doctorID,
		PatientID:            patientID,
		Title:                strings.TrimSpace(params.Title),
		ScheduledStart:       params.ScheduledStart.UTC(),
		ScheduledEnd:         params.ScheduledEnd.UTC(),
		Status:               models.SessionScheduled,
		RoomToken:            encryptedToken,
		MaxParticipants:      maxParticipants,
		ChatEnabled:          boolOrDefault(params.ChatEnabled, true),
		ScreenSharingEnabled: boolOrDefault(params.ScreenSharingEnabled, true),
		FileSharingEnabled:   boolOrDefault(params.FileSharingEnabled, true),
		RecordingEnabled:     params.RecordingEnabled,
		ConsentRequired:      boolOrDefault(params.ConsentRequired, true),
		TechnicalIssues:      datatypes.JSON(json.RawMessage(`[]`)),
		Metadata:             metadata,
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, apperrors.Wrap(err, "create session")
	}

	metrics.SessionTransitions.WithLabelValues(string(models.SessionScheduled)).Inc()
	logger.Info("session scheduled",
		zap.String("session_id", session.SessionID),
		zap.String("tenant_id", session.TenantID))

	return &session, nil
}

// Get returns the session visible to the calling participant.
func (s *SessionService) Get(ctx context.Context, sessionID string, principal *auth.Principal) (*models.Session, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns sessions matching the filters plus the unpaginated total.
func (s *SessionService) List(ctx context.Context, params ListSessionsParams) ([]models.Session, int64, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Session{})
	if tenant := strings.TrimSpace(params.TenantID); tenant != "" {
		query = query.Where("tenant_id = ?", tenant)
	}
	if doctor := strings.TrimSpace(params.DoctorID); doctor != "" {
		query = query.Where("doctor_id = ?", doctor)
	}
	if patient := strings.TrimSpace(params.PatientID); patient != "" {
		query = query.Where("patient_id = ?", patient)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if !params.From.IsZero() {
		query = query.Where("scheduled_start >= ?", params.From)
	}
	if !params.To.IsZero() {
		query = query.Where("scheduled_start < ?", params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "count sessions")
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var sessions []models.Session
	if err := query.
		Order("scheduled_start DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&sessions).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "list sessions")
	}

	return sessions, total, nil
}

// Join admits a participant to the session room. The first join moves a
// scheduled session to waiting; repeat joins count as reconnects. The
// decrypted room token is only ever handed to verified participants.
func (s *SessionService) Join(ctx context.Context, sessionID string, principal *auth.Principal) (*JoinResult, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	role, err := participantRole(session, principal)
	if err != nil {
		return nil, err
	}

	if !session.Status.Joinable() {
		return nil, apperrors.ErrInvalidState
	}
	if role == models.RolePatient && session.ConsentRequired && !session.ConsentGranted {
		return nil, apperrors.ErrConsentRequired
	}

	now := s.timeNow().UTC()
	reconnected := false

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var participant models.SessionParticipant
		err := tx.
			Where("session_id = ? AND participant_id = ? AND role = ?", session.SessionID, principal.ParticipantID, role).
			First(&participant).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			participant = models.SessionParticipant{
				SessionID:     session.SessionID,
				ParticipantID: principal.ParticipantID,
				Role:          role,
				JoinedAt:      now,
			}
			if err := tx.Create(&participant).Error; err != nil {
				// Two devices racing the same first join: fold the loser
				// into a reconnect.
				if !isUniqueConstraintError(err) {
					return err
				}
				reconnected = true
				if err := tx.Model(&models.SessionParticipant{}).
					Where("session_id = ? AND participant_id = ? AND role = ?", session.SessionID, principal.ParticipantID, role).
					Updates(map[string]any{
						"left_at":    gorm.Expr("NULL"),
						"reconnects": gorm.Expr("reconnects + 1"),
					}).Error; err != nil {
					return err
				}
			}
		case err != nil:
			return err
		default:
			reconnected = true
			if err := tx.Model(&participant).Updates(map[string]any{
				"left_at":    gorm.Expr("NULL"),
				"reconnects": gorm.Expr("reconnects + 1"),
			}).Error; err != nil {
				return err
			}
		}

		// First arrival opens the waiting room.
		result := tx.Model(&models.Session{}).
			Where("session_id = ? AND status = ?", session.SessionID, models.SessionScheduled).
			Update("status", models.SessionWaiting)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			session.Status = models.SessionWaiting
			metrics.SessionTransitions.WithLabelValues(string(models.SessionWaiting)).Inc()
		}
		return nil
	}); err != nil {
		return nil, apperrors.Wrap(err, "join session")
	}

	roomToken, err := s.cipher.Decrypt(session.RoomToken)
	if err != nil {
		return nil, apperrors.ErrDecryptFailed.WithInternal(err)
	}

	logger.Info("participant joined session",
		zap.String("session_id", session.SessionID),
		zap.String("participant", string(role)+"_"+principal.ParticipantID),
		zap.Bool("reconnected", reconnected))

	return &JoinResult{
		Session:        session,
		ParticipantKey: string(role) + "_" + principal.ParticipantID,
		RoomToken:      string(roomToken),
		Reconnected:    reconnected,
	}, nil
}

// Start moves the session from waiting to in progress. Only the session's
// doctor may start it, and only while the doctor holds a live connection;
// a doctor who joined and then dropped cannot start the consultation.
func (s *SessionService) Start(ctx context.Context, sessionID string, principal *auth.Principal) (*models.Session, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	role, err := participantRole(session, principal)
	if err != nil {
		return nil, err
	}
	if role != models.RoleDoctor {
		return nil, apperrors.ErrNotSessionParticipant
	}
	if session.Status != models.SessionWaiting {
		return nil, apperrors.ErrInvalidState
	}
	if !s.registry.HasRole(session.SessionID, models.RoleDoctor) {
		return nil, apperrors.ErrPreconditionFailed.WithInternal(errors.New("doctor has no live connection"))
	}

	now := s.timeNow().UTC()
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND status = ?", session.SessionID, models.SessionWaiting).
		Updates(map[string]any{
			"status":       models.SessionInProgress,
			"actual_start": now,
		})
	if result.Error != nil {
		return nil, apperrors.Wrap(result.Error, "start session")
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrInvalidState
	}

	session.Status = models.SessionInProgress
	session.ActualStart = &now
	metrics.SessionTransitions.WithLabelValues(string(models.SessionInProgress)).Inc()
	logger.Info("session started", zap.String("session_id", session.SessionID))

	return session, nil
}

// End completes the session. A waiting session that never started completes
// as a no-show with zero duration. Analytics are recomputed after the
// transition commits; an aggregation failure never blocks the completion.
func (s *SessionService) End(ctx context.Context, sessionID string, principal *auth.Principal, reason string) (*models.Session, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()
	updates := map[string]any{"actual_end": now}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata, err := metadataWithReason(session.Metadata, reason)
		if err != nil {
			return nil, apperrors.Wrap(err, "record end reason")
		}
		updates["metadata"] = metadata
	}
	if err := s.transition(ctx, session,
		[]models.SessionStatus{models.SessionWaiting, models.SessionInProgress},
		models.SessionCompleted,
		updates); err != nil {
		return nil, err
	}
	session.ActualEnd = &now

	if err := s.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND left_at IS NULL", session.SessionID).
		Update("left_at", now).Error; err != nil {
		return nil, apperrors.Wrap(err, "close participants")
	}

	if s.analytics != nil {
		// Aggregation runs detached from the request context so a client
		// disconnect cannot abort it. A failure never unwinds the completion.
		s.background.Add(1)
		go func(sessionID string) {
			defer s.background.Done()
			if _, err := s.analytics.Compute(context.Background(), sessionID); err != nil {
				logger.Error("compute session analytics",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}(session.SessionID)
	}

	logger.Info("session completed", zap.String("session_id", session.SessionID))
	return session, nil
}

// Drain blocks until in-flight analytics aggregation finishes. Called during
// shutdown so completed sessions are not left without an analytics row.
func (s *SessionService) Drain() {
	s.background.Wait()
}

// Cancel aborts a session that has not reached a terminal state.
func (s *SessionService) Cancel(ctx context.Context, sessionID string, principal *auth.Principal, reason string) (*models.Session, error) {
	return s.abort(ctx, sessionID, principal, models.SessionCancelled, reason)
}

// Fail marks a session as failed, e.g. after an unrecoverable technical problem.
func (s *SessionService) Fail(ctx context.Context, sessionID string, principal *auth.Principal, reason string) (*models.Session, error) {
	return s.abort(ctx, sessionID, principal, models.SessionFailed, reason)
}

func (s *SessionService) abort(ctx context.Context, sessionID string, principal *auth.Principal, to models.SessionStatus, reason string) (*models.Session, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := participantRole(session, principal); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()
	updates := map[string]any{"actual_end": now}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata, err := metadataWithReason(session.Metadata, reason)
		if err != nil {
			return nil, apperrors.Wrap(err, "record abort reason")
		}
		updates["metadata"] = metadata
	}
	if err := s.transition(ctx, session,
		[]models.SessionStatus{models.SessionScheduled, models.SessionWaiting, models.SessionInProgress},
		to, updates); err != nil {
		return nil, err
	}
	session.ActualEnd = &now

	logger.Info("session aborted",
		zap.String("session_id", session.SessionID),
		zap.String("status", string(to)),
		zap.String("reason", reason))

	return session, nil
}

// transition performs a compare-and-set status update. Concurrent callers
// race on the WHERE clause; exactly one wins, the rest observe
// ErrInvalidState.
func (s *SessionService) transition(ctx context.Context, session *models.Session, from []models.SessionStatus, to models.SessionStatus, extra map[string]any) error {
	updates := map[string]any{"status": to}
	for column, value := range extra {
		updates[column] = value
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND status IN ?", session.SessionID, from).
		Updates(updates)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, fmt.Sprintf("transition session to %s", to))
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrInvalidState
	}

	session.Status = to
	metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// ReportIssue appends a technical issue report to the session record.
func (s *SessionService) ReportIssue(ctx context.Context, sessionID string, principal *auth.Principal, issueType, description string) (*models.Session, error) {
	ctx = ensureContext(ctx)

	issueType = strings.TrimSpace(issueType)
	description = strings.TrimSpace(description)
	if issueType == "" {
		return nil, apperrors.NewBadRequest("issue type is required")
	}
	if len(description) > maxTechnicalIssueLen {
		description = description[:maxTechnicalIssueLen]
	}

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	role, err := participantRole(session, principal)
	if err != nil {
		return nil, err
	}

	var issues []TechnicalIssue
	if len(session.TechnicalIssues) > 0 {
		if err := json.Unmarshal(session.TechnicalIssues, &issues); err != nil {
			logger.Warn("unreadable technical issue log, resetting",
				zap.String("session_id", session.SessionID), zap.Error(err))
			issues = nil
		}
	}
	issues = append(issues, TechnicalIssue{
		Type:        issueType,
		Description: description,
		ReportedBy:  string(role) + "_" + principal.ParticipantID,
		ReportedAt:  s.timeNow().UTC(),
	})

	payload, err := json.Marshal(issues)
	if err != nil {
		return nil, apperrors.Wrap(err, "encode technical issues")
	}
	session.TechnicalIssues = datatypes.JSON(payload)

	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ?", session.SessionID).
		Update("technical_issues", session.TechnicalIssues).Error; err != nil {
		return nil, apperrors.Wrap(err, "store technical issue")
	}

	return session, nil
}

// IssueLink mints a signed join link for the session. Links carry only the
// session identifier; redeeming one still requires participant credentials.
func (s *SessionService) IssueLink(ctx context.Context, sessionID string, principal *auth.Principal, ttl time.Duration) (string, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return "", err
	}
	if _, err := participantRole(session, principal); err != nil {
		return "", err
	}
	if session.Status.Terminal() {
		return "", apperrors.ErrInvalidState
	}

	token, err := s.issuer.Issue(session.SessionID, ttl)
	if err != nil {
		return "", apperrors.Wrap(err, "issue join link")
	}
	return token, nil
}

// ResolveLink validates a join link and returns the public session summary.
// No credentials are required; the response carries nothing sensitive.
func (s *SessionService) ResolveLink(ctx context.Context, token string) (*LinkResolution, error) {
	ctx = ensureContext(ctx)

	sessionID, err := s.issuer.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrLinkExpired) {
			return nil, apperrors.ErrLinkExpired
		}
		return nil, apperrors.ErrLinkMalformed
	}

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}

	return &LinkResolution{
		SessionID:      session.SessionID,
		Title:          session.Title,
		Status:         session.Status,
		ScheduledStart: session.ScheduledStart,
		ScheduledEnd:   session.ScheduledEnd,
	}, nil
}

// SessionStatus reports the current lifecycle state, for the signaling relay.
func (s *SessionService) SessionStatus(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	session, err := findSession(ensureContext(ctx), s.db, sessionID)
	if err != nil {
		return "", err
	}
	return session.Status, nil
}

// CapabilityAllowed delegates capability checks to the consent ledger, for
// the signaling relay.
func (s *SessionService) CapabilityAllowed(ctx context.Context, sessionID string, consentType models.ConsentType) error {
	return s.consents.CapabilityAllowed(ctx, sessionID, consentType)
}

// AuthorizeAttachment validates that the principal may open a live connection
// to the session, returning the registry key to register under and the
// caller's role.
func (s *SessionService) AuthorizeAttachment(ctx context.Context, sessionID string, principal *auth.Principal) (string, models.ParticipantRole, error) {
	ctx = ensureContext(ctx)

	session, err := findSession(ctx, s.db, sessionID)
	if err != nil {
		return "", "", err
	}
	role, err := participantRole(session, principal)
	if err != nil {
		return "", "", err
	}
	if !session.Status.Joinable() {
		return "", "", apperrors.ErrInvalidState
	}
	return string(role) + "_" + principal.ParticipantID, role, nil
}

// RecordDetachment stamps the participant's leave time when their live
// connection drops. The session status is never touched; a dropped socket is
// not an ended consultation.
func (s *SessionService) RecordDetachment(ctx context.Context, sessionID string, principal *auth.Principal) error {
	ctx = ensureContext(ctx)

	now := s.timeNow().UTC()
	result := s.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND participant_id = ? AND role = ? AND left_at IS NULL",
			strings.TrimSpace(sessionID), principal.ParticipantID, principal.Role).
		Update("left_at", now)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "record detachment")
	}
	return nil
}

func newSessionID() string {
	return sessionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func encodeMetadata(meta map[string]any) (datatypes.JSON, error) {
	if len(meta) == 0 {
		return datatypes.JSON(json.RawMessage(`{}`)), nil
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return datatypes.JSON(payload), nil
}

// metadataWithReason merges an end reason into the session metadata blob.
func metadataWithReason(current datatypes.JSON, reason string) (datatypes.JSON, error) {
	meta := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &meta); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	meta["end_reason"] = reason
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(payload), nil
}
