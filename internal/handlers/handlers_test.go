package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/prontivus/telecare/internal/auth"
	"github.com/prontivus/telecare/internal/database/testutil"
	"github.com/prontivus/telecare/internal/middleware"
	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/internal/realtime"
	"github.com/prontivus/telecare/internal/services"
	"github.com/prontivus/telecare/internal/telecrypt"
	"github.com/prontivus/telecare/pkg/crypto"
	"github.com/prontivus/telecare/pkg/response"
)

type handlerEnv struct {
	db       *gorm.DB
	registry *realtime.InMemoryRegistry

	sessions  *services.SessionService
	consents  *services.ConsentService
	chat      *services.ChatService
	files     *services.FileService
	analytics *services.AnalyticsService
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	cipher, err := telecrypt.NewChannelCipher([]byte("handler test key"),
		telecrypt.WithArgon2Parameters(crypto.Argon2Parameters{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32}))
	require.NoError(t, err)

	issuer, err := iauth.NewLinkIssuer(iauth.JoinLinkConfig{Secret: "link-secret", TTL: time.Hour})
	require.NoError(t, err)

	env := &handlerEnv{db: db, registry: realtime.NewInMemoryRegistry()}

	env.consents, err = services.NewConsentService(db,
		services.WithRequiredVersions(map[string]string{"recording": "1.0"}))
	require.NoError(t, err)

	env.analytics, err = services.NewAnalyticsService(db)
	require.NoError(t, err)

	env.sessions, err = services.NewSessionService(db, cipher, env.registry, issuer, env.consents,
		services.WithAnalyticsComputer(env.analytics))
	require.NoError(t, err)

	env.chat, err = services.NewChatService(db, cipher)
	require.NoError(t, err)

	env.files, err = services.NewFileService(db, cipher)
	require.NoError(t, err)

	return env
}

func testDoctor() *iauth.Principal {
	return &iauth.Principal{ParticipantID: "d-1", Role: models.RoleDoctor, TenantID: "clinic-1"}
}

func testPatient() *iauth.Principal {
	return &iauth.Principal{ParticipantID: "p-1", Role: models.RolePatient, TenantID: "clinic-1"}
}

// perform invokes a handler directly with an authenticated test context.
func perform(t *testing.T, handler gin.HandlerFunc, principal *iauth.Principal, params gin.Params, body any) *httptest.ResponseRecorder {
	t.Helper()

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Params = params

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(http.MethodPost, "/", reader)
	c.Request.Header.Set("Content-Type", "application/json")

	if principal != nil {
		c.Set(middleware.CtxPrincipalKey, principal)
	}

	handler(c)
	return recorder
}

func decodeData(t *testing.T, recorder *httptest.ResponseRecorder, dest any) {
	t.Helper()

	var payload response.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.True(t, payload.Success, "response: %s", recorder.Body.String())

	raw, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}

func (e *handlerEnv) scheduleSession(t *testing.T) *models.Session {
	t.Helper()

	noConsent := false
	session, err := e.sessions.Create(context.Background(), services.CreateSessionParams{
		TenantID:        "clinic-1",
		DoctorID:        "d-1",
		PatientID:       "p-1",
		Title:           "Follow-up",
		ScheduledStart:  time.Now().Add(time.Hour),
		ScheduledEnd:    time.Now().Add(90 * time.Minute),
		ConsentRequired: &noConsent,
	})
	require.NoError(t, err)
	return session
}

func sessionParams(sessionID string) gin.Params {
	return gin.Params{gin.Param{Key: "sessionID", Value: sessionID}}
}

func TestSessionHandlerCreateAndGet(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewSessionHandler(env.sessions)

	recorder := perform(t, handler.Create, testDoctor(), nil, gin.H{
		"doctor_id":       "d-1",
		"patient_id":      "p-1",
		"title":           "Initial consultation",
		"scheduled_start": time.Now().Add(time.Hour).Format(time.RFC3339),
		"scheduled_end":   time.Now().Add(2 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created models.Session
	decodeData(t, recorder, &created)
	require.NotEmpty(t, created.SessionID)
	require.Equal(t, "clinic-1", created.TenantID)
	require.Equal(t, models.SessionScheduled, created.Status)

	getRecorder := perform(t, handler.Get, testPatient(), sessionParams(created.SessionID), nil)
	require.Equal(t, http.StatusOK, getRecorder.Code)

	var fetched models.Session
	decodeData(t, getRecorder, &fetched)
	require.Equal(t, created.SessionID, fetched.SessionID)
}

func TestSessionHandlerCreateValidation(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewSessionHandler(env.sessions)

	recorder := perform(t, handler.Create, testDoctor(), nil, gin.H{
		"doctor_id": "d-1",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSessionHandlerRequiresPrincipal(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewSessionHandler(env.sessions)

	recorder := perform(t, handler.Get, nil, sessionParams("tm_missing"), nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestSessionHandlerJoinAndLifecycle(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewSessionHandler(env.sessions)
	session := env.scheduleSession(t)

	joinRecorder := perform(t, handler.Join, testDoctor(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusOK, joinRecorder.Code)

	var join services.JoinResult
	decodeData(t, joinRecorder, &join)
	require.Equal(t, models.SessionWaiting, join.Session.Status)
	require.NotEmpty(t, join.RoomToken)

	env.registry.Register(session.SessionID, &stubClient{key: "doctor_d-1", role: models.RoleDoctor})

	startRecorder := perform(t, handler.Start, testDoctor(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusOK, startRecorder.Code)

	endRecorder := perform(t, handler.End, testDoctor(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusOK, endRecorder.Code)

	var ended models.Session
	decodeData(t, endRecorder, &ended)
	require.Equal(t, models.SessionCompleted, ended.Status)
}

func TestSessionHandlerCancelConflictAfterEnd(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewSessionHandler(env.sessions)
	session := env.scheduleSession(t)

	cancelRecorder := perform(t, handler.Cancel, testDoctor(), sessionParams(session.SessionID), gin.H{"reason": "patient request"})
	require.Equal(t, http.StatusOK, cancelRecorder.Code)

	again := perform(t, handler.Cancel, testDoctor(), sessionParams(session.SessionID), gin.H{"reason": "retry"})
	require.Equal(t, http.StatusConflict, again.Code)
}

func TestSessionHandlerLinkRoundTrip(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewSessionHandler(env.sessions)
	session := env.scheduleSession(t)

	issueRecorder := perform(t, handler.IssueLink, testDoctor(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusCreated, issueRecorder.Code)

	var issued struct {
		LinkToken string `json:"link_token"`
	}
	decodeData(t, issueRecorder, &issued)
	require.NotEmpty(t, issued.LinkToken)

	resolveRecorder := perform(t, handler.ResolveLink, nil,
		gin.Params{gin.Param{Key: "token", Value: issued.LinkToken}}, nil)
	require.Equal(t, http.StatusOK, resolveRecorder.Code)

	var resolution services.LinkResolution
	decodeData(t, resolveRecorder, &resolution)
	require.Equal(t, session.SessionID, resolution.SessionID)
}

func TestSessionHandlerResolveRejectsGarbageToken(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewSessionHandler(env.sessions)

	recorder := perform(t, handler.ResolveLink, nil,
		gin.Params{gin.Param{Key: "token", Value: "not-a-token"}}, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestConsentHandlerFlow(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewConsentHandler(env.consents)
	session := env.scheduleSession(t)

	requestRecorder := perform(t, handler.Request, testDoctor(), sessionParams(session.SessionID), gin.H{
		"consent_type":    "recording",
		"consent_text":    "We record this consultation for your medical record.",
		"consent_version": "1.0",
	})
	require.Equal(t, http.StatusCreated, requestRecorder.Code)

	var record models.ConsentRecord
	decodeData(t, requestRecorder, &record)
	require.Equal(t, models.ConsentPending, record.Status)

	respondRecorder := perform(t, handler.Respond, testPatient(),
		gin.Params{gin.Param{Key: "consentID", Value: record.ID}}, gin.H{"granted": true})
	require.Equal(t, http.StatusOK, respondRecorder.Code)

	var decided models.ConsentRecord
	decodeData(t, respondRecorder, &decided)
	require.Equal(t, models.ConsentGranted, decided.Status)
	require.NotNil(t, decided.GrantedAt)

	listRecorder := perform(t, handler.List, testDoctor(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusOK, listRecorder.Code)

	var records []models.ConsentRecord
	decodeData(t, listRecorder, &records)
	require.Len(t, records, 1)
}

func TestConsentHandlerRejectsUnknownType(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewConsentHandler(env.consents)
	session := env.scheduleSession(t)

	recorder := perform(t, handler.Request, testDoctor(), sessionParams(session.SessionID), gin.H{
		"consent_type": "telepathy",
		"consent_text": "nope",
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestMessageHandlerSendListDelete(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewMessageHandler(env.chat)
	session := env.startedSession(t)

	sendRecorder := perform(t, handler.Send, testDoctor(), sessionParams(session.SessionID), gin.H{
		"content": "How are you feeling today?",
	})
	require.Equal(t, http.StatusCreated, sendRecorder.Code)

	var sent models.Message
	decodeData(t, sendRecorder, &sent)
	require.Equal(t, "How are you feeling today?", sent.Content)

	listRecorder := perform(t, handler.List, testPatient(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusOK, listRecorder.Code)

	var messages []models.Message
	decodeData(t, listRecorder, &messages)
	require.Len(t, messages, 1)

	params := append(sessionParams(session.SessionID), gin.Param{Key: "messageID", Value: sent.ID})
	deleteRecorder := perform(t, handler.Delete, testDoctor(), params, nil)
	require.Equal(t, http.StatusOK, deleteRecorder.Code)

	afterRecorder := perform(t, handler.List, testPatient(), sessionParams(session.SessionID), nil)
	var remaining []models.Message
	decodeData(t, afterRecorder, &remaining)
	require.Empty(t, remaining)
}

func TestFileHandlerUploadAndGet(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewFileHandler(env.files)
	session := env.startedSession(t)

	uploadRecorder := perform(t, handler.Upload, testDoctor(), sessionParams(session.SessionID), gin.H{
		"file_name": "bloodwork.pdf",
		"file_path": "blobs/clinic-1/bloodwork.pdf",
		"file_size": 20480,
		"mime_type": "application/pdf",
		"is_public": true,
	})
	require.Equal(t, http.StatusCreated, uploadRecorder.Code)

	var uploaded services.FileAccess
	decodeData(t, uploadRecorder, &uploaded)
	require.NotEmpty(t, uploaded.EncryptionKey)

	params := append(sessionParams(session.SessionID), gin.Param{Key: "fileID", Value: uploaded.File.ID})
	getRecorder := perform(t, handler.Get, testPatient(), params, nil)
	require.Equal(t, http.StatusOK, getRecorder.Code)

	var fetched services.FileAccess
	decodeData(t, getRecorder, &fetched)
	require.Equal(t, uploaded.EncryptionKey, fetched.EncryptionKey)
}

func TestAnalyticsHandlerSatisfactionAndDashboard(t *testing.T) {
	env := newHandlerEnv(t)
	sessionHandler := NewSessionHandler(env.sessions)
	handler := NewAnalyticsHandler(env.sessions, env.analytics)
	session := env.startedSession(t)

	endRecorder := perform(t, sessionHandler.End, testDoctor(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusOK, endRecorder.Code)
	env.sessions.Drain()

	getRecorder := perform(t, handler.Get, testDoctor(), sessionParams(session.SessionID), nil)
	require.Equal(t, http.StatusOK, getRecorder.Code)

	ratingRecorder := perform(t, handler.RecordSatisfaction, testPatient(), sessionParams(session.SessionID), gin.H{"rating": 5})
	require.Equal(t, http.StatusOK, ratingRecorder.Code)

	var rated models.SessionAnalytics
	decodeData(t, ratingRecorder, &rated)
	require.NotNil(t, rated.PatientSatisfactionRating)
	require.Equal(t, 5, *rated.PatientSatisfactionRating)

	dashboardRecorder := perform(t, handler.Dashboard, testDoctor(), nil, nil)
	require.Equal(t, http.StatusOK, dashboardRecorder.Code)

	var dashboard services.Dashboard
	decodeData(t, dashboardRecorder, &dashboard)
	require.Equal(t, int64(1), dashboard.CompletedSessions)
}

func TestAnalyticsHandlerRejectsOutOfRangeRating(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewAnalyticsHandler(env.sessions, env.analytics)
	session := env.scheduleSession(t)

	recorder := perform(t, handler.RecordSatisfaction, testPatient(), sessionParams(session.SessionID), gin.H{"rating": 9})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	Health()(c)

	require.Equal(t, http.StatusOK, recorder.Code)
}

// startedSession drives a session to in_progress so chat and files are live.
func (e *handlerEnv) startedSession(t *testing.T) *models.Session {
	t.Helper()

	session := e.scheduleSession(t)
	_, err := e.sessions.Join(context.Background(), session.SessionID, testDoctor())
	require.NoError(t, err)
	_, err = e.sessions.Join(context.Background(), session.SessionID, testPatient())
	require.NoError(t, err)

	e.registry.Register(session.SessionID, &stubClient{key: "doctor_d-1", role: models.RoleDoctor})

	started, err := e.sessions.Start(context.Background(), session.SessionID, testDoctor())
	require.NoError(t, err)
	return started
}

type stubClient struct {
	key  string
	role models.ParticipantRole
}

func (c *stubClient) Key() string                  { return c.key }
func (c *stubClient) Role() models.ParticipantRole { return c.role }
func (c *stubClient) Send(_ []byte) bool           { return true }
func (c *stubClient) Close()                       {}
