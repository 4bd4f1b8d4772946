package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/models"
	apperrors "github.com/prontivus/telecare/pkg/errors"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// findSession loads a session by its public identifier.
func findSession(ctx context.Context, db *gorm.DB, sessionID string) (*models.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.NewBadRequest("session id is required")
	}

	var session models.Session
	if err := db.WithContext(ctx).First(&session, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "load session")
	}
	return &session, nil
}

// participantRole resolves which session role the principal holds, or
// ErrNotSessionParticipant when they hold none. System principals are never
// session participants.
func participantRole(session *models.Session, principal *auth.Principal) (models.ParticipantRole, error) {
	if session == nil || principal == nil {
		return "", apperrors.ErrNotSessionParticipant
	}

	switch principal.Role {
	case models.RoleDoctor:
		if session.DoctorID == principal.ParticipantID {
			return models.RoleDoctor, nil
		}
	case models.RolePatient:
		if session.PatientID == principal.ParticipantID {
			return models.RolePatient, nil
		}
	}
	return "", apperrors.ErrNotSessionParticipant
}
