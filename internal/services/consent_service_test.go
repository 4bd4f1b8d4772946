package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prontivus/telecare/internal/models"
	apperrors "github.com/prontivus/telecare/pkg/errors"
)

func requestRecording(t *testing.T, env *testEnv, sessionID string) *models.ConsentRecord {
	t.Helper()

	record, err := env.consents.Request(context.Background(), sessionID, doctorPrincipal("d-1"), RequestConsentParams{
		Type: models.ConsentRecording,
		Text: "I consent to this consultation being recorded.",
	})
	require.NoError(t, err)
	require.Equal(t, models.ConsentPending, record.Status)
	require.Equal(t, "2.1", record.ConsentVersion)
	require.Equal(t, "p-1", record.PatientID)
	return record
}

func TestConsentGrantFlow(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	record := requestRecording(t, env, session.SessionID)

	// Before any decision the capability is unavailable.
	err := env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording)
	require.ErrorIs(t, err, apperrors.ErrConsentRequired)

	decided, err := env.consents.Respond(context.Background(), record.ID, patientPrincipal("p-1"), RespondConsentParams{
		Granted:   true,
		IPAddress: "203.0.113.9",
		UserAgent: "clinic-app/2.3",
	})
	require.NoError(t, err)
	require.Equal(t, models.ConsentGranted, decided.Status)
	require.NotNil(t, decided.GrantedAt)
	require.NotNil(t, decided.ExpiresAt)
	require.Equal(t, "203.0.113.9", decided.IPAddress)

	require.NoError(t, env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording))

	// A grant also marks the session-level consent flag.
	var stored models.Session
	require.NoError(t, env.db.First(&stored, "session_id = ?", session.SessionID).Error)
	require.True(t, stored.ConsentGranted)
	require.NotNil(t, stored.ConsentGrantedAt)
}

func TestConsentDeny(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	record := requestRecording(t, env, session.SessionID)

	decided, err := env.consents.Respond(context.Background(), record.ID, patientPrincipal("p-1"), RespondConsentParams{Granted: false})
	require.NoError(t, err)
	require.Equal(t, models.ConsentDenied, decided.Status)
	require.Nil(t, decided.GrantedAt)

	err = env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording)
	require.ErrorIs(t, err, apperrors.ErrConsentDenied)
}

func TestConsentDecisionIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	record := requestRecording(t, env, session.SessionID)

	_, err := env.consents.Respond(context.Background(), record.ID, patientPrincipal("p-1"), RespondConsentParams{Granted: false})
	require.NoError(t, err)

	_, err = env.consents.Respond(context.Background(), record.ID, patientPrincipal("p-1"), RespondConsentParams{Granted: true})
	require.ErrorIs(t, err, apperrors.ErrPreconditionFailed)

	// The denial stands.
	err = env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording)
	require.ErrorIs(t, err, apperrors.ErrConsentDenied)
}

func TestConsentOnlyPatientMayRespond(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	record := requestRecording(t, env, session.SessionID)

	_, err := env.consents.Respond(context.Background(), record.ID, doctorPrincipal("d-1"), RespondConsentParams{Granted: true})
	require.ErrorIs(t, err, apperrors.ErrNotSessionParticipant)

	_, err = env.consents.Respond(context.Background(), record.ID, patientPrincipal("p-99"), RespondConsentParams{Granted: true})
	require.ErrorIs(t, err, apperrors.ErrNotSessionParticipant)
}

func TestConsentExpiresLazily(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	record := requestRecording(t, env, session.SessionID)

	_, err := env.consents.Respond(context.Background(), record.ID, patientPrincipal("p-1"), RespondConsentParams{Granted: true})
	require.NoError(t, err)
	require.NoError(t, env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording))

	env.advance(25 * time.Hour)
	err = env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording)
	require.ErrorIs(t, err, apperrors.ErrConsentRequired)

	// Expiry never rewrites the granted row.
	var stored models.ConsentRecord
	require.NoError(t, env.db.First(&stored, "id = ?", record.ID).Error)
	require.Equal(t, models.ConsentGranted, stored.Status)
}

func TestConsentVersionMismatch(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	record, err := env.consents.Request(context.Background(), session.SessionID, doctorPrincipal("d-1"), RequestConsentParams{
		Type:    models.ConsentRecording,
		Text:    "Old recording terms.",
		Version: "1.0",
	})
	require.NoError(t, err)

	_, err = env.consents.Respond(context.Background(), record.ID, patientPrincipal("p-1"), RespondConsentParams{Granted: true})
	require.NoError(t, err)

	// Granted against version 1.0 while 2.1 is required.
	err = env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording)
	require.ErrorIs(t, err, apperrors.ErrConsentRequired)
}

func TestConsentNewestDecisionWins(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	first := requestRecording(t, env, session.SessionID)
	_, err := env.consents.Respond(context.Background(), first.ID, patientPrincipal("p-1"), RespondConsentParams{Granted: false})
	require.NoError(t, err)

	env.advance(time.Minute)
	second := requestRecording(t, env, session.SessionID)
	_, err = env.consents.Respond(context.Background(), second.ID, patientPrincipal("p-1"), RespondConsentParams{Granted: true})
	require.NoError(t, err)

	require.NoError(t, env.consents.CapabilityAllowed(context.Background(), session.SessionID, models.ConsentRecording))
}

func TestConsentList(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)
	requestRecording(t, env, session.SessionID)

	records, err := env.consents.List(context.Background(), session.SessionID, patientPrincipal("p-1"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = env.consents.List(context.Background(), session.SessionID, patientPrincipal("p-99"))
	require.ErrorIs(t, err, apperrors.ErrNotSessionParticipant)
}
