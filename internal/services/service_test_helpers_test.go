package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/database/testutil"
	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/internal/realtime"
	"github.com/prontivus/telecare/internal/telecrypt"
	"github.com/prontivus/telecare/pkg/crypto"
)

type testEnv struct {
	db       *gorm.DB
	cipher   *telecrypt.ChannelCipher
	registry *realtime.InMemoryRegistry
	issuer   *auth.LinkIssuer

	sessions  *SessionService
	consents  *ConsentService
	chat      *ChatService
	files     *FileService
	analytics *AnalyticsService

	now time.Time
}

func fastArgonParams() crypto.Argon2Parameters {
	return crypto.Argon2Parameters{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	cipher, err := telecrypt.NewChannelCipher([]byte("test deployment key"), telecrypt.WithArgon2Parameters(fastArgonParams()))
	require.NoError(t, err)

	issuer, err := auth.NewLinkIssuer(auth.JoinLinkConfig{Secret: "link-secret", TTL: time.Hour})
	require.NoError(t, err)

	env := &testEnv{
		db:       db,
		cipher:   cipher,
		registry: realtime.NewInMemoryRegistry(),
		issuer:   issuer,
		now:      time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	env.consents, err = NewConsentService(db,
		WithConsentClock(clock),
		WithConsentTTL(24*time.Hour),
		WithRequiredVersions(map[string]string{
			"recording":      "2.1",
			"screen_sharing": "1.0",
			"data_sharing":   "1.0",
		}))
	require.NoError(t, err)

	env.analytics, err = NewAnalyticsService(db, WithAnalyticsClock(clock))
	require.NoError(t, err)

	env.sessions, err = NewSessionService(db, cipher, env.registry, issuer, env.consents,
		WithSessionClock(clock),
		WithAnalyticsComputer(env.analytics))
	require.NoError(t, err)

	env.chat, err = NewChatService(db, cipher, WithChatClock(clock))
	require.NoError(t, err)

	env.files, err = NewFileService(db, cipher, WithFileClock(clock))
	require.NoError(t, err)

	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func doctorPrincipal(id string) *auth.Principal {
	return &auth.Principal{ParticipantID: id, Role: models.RoleDoctor, TenantID: "clinic-1"}
}

func patientPrincipal(id string) *auth.Principal {
	return &auth.Principal{ParticipantID: id, Role: models.RolePatient, TenantID: "clinic-1"}
}

// createSession schedules a basic session between doctor d-1 and patient p-1
// with consent not required, so lifecycle tests are not entangled with the
// consent ledger.
func (e *testEnv) createSession(t *testing.T) *models.Session {
	t.Helper()

	noConsent := false
	session, err := e.sessions.Create(context.Background(), CreateSessionParams{
		TenantID:        "clinic-1",
		DoctorID:        "d-1",
		PatientID:       "p-1",
		Title:           "Follow-up",
		ScheduledStart:  e.now.Add(time.Hour),
		ScheduledEnd:    e.now.Add(90 * time.Minute),
		ConsentRequired: &noConsent,
	})
	require.NoError(t, err)
	return session
}

// liveClient is the minimal registry client used to simulate a connected
// participant.
type liveClient struct {
	key  string
	role models.ParticipantRole
}

func (c *liveClient) Key() string                  { return c.key }
func (c *liveClient) Role() models.ParticipantRole { return c.role }
func (c *liveClient) Send(_ []byte) bool           { return true }
func (c *liveClient) Close()                       {}

// connectDoctor registers a live doctor connection so Start preconditions pass.
func (e *testEnv) connectDoctor(sessionID string) *liveClient {
	client := &liveClient{key: "doctor_d-1", role: models.RoleDoctor}
	e.registry.Register(sessionID, client)
	return client
}

// startSession drives a fresh session to in_progress.
func (e *testEnv) startSession(t *testing.T) *models.Session {
	t.Helper()

	session := e.createSession(t)
	_, err := e.sessions.Join(context.Background(), session.SessionID, doctorPrincipal("d-1"))
	require.NoError(t, err)
	_, err = e.sessions.Join(context.Background(), session.SessionID, patientPrincipal("p-1"))
	require.NoError(t, err)

	e.connectDoctor(session.SessionID)
	started, err := e.sessions.Start(context.Background(), session.SessionID, doctorPrincipal("d-1"))
	require.NoError(t, err)
	return started
}
