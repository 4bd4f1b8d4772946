package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prontivus/telecare/internal/models"
	apperrors "github.com/prontivus/telecare/pkg/errors"
)

type fakeGate struct {
	status  models.SessionStatus
	allowed map[models.ConsentType]bool
}

func (g *fakeGate) SessionStatus(_ context.Context, _ string) (models.SessionStatus, error) {
	return g.status, nil
}

func (g *fakeGate) CapabilityAllowed(_ context.Context, _ string, consentType models.ConsentType) error {
	if g.allowed[consentType] {
		return nil
	}
	return apperrors.ErrConsentRequired
}

func newTestRelay(status models.SessionStatus) (*Relay, *InMemoryRegistry, *fakeGate) {
	registry := NewInMemoryRegistry()
	gate := &fakeGate{status: status, allowed: make(map[models.ConsentType]bool)}
	return NewRelay(registry, gate), registry, gate
}

func decodeEnvelope(t *testing.T, payload []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestRelayTargetedSignaling(t *testing.T) {
	relay, registry, _ := newTestRelay(models.SessionInProgress)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	patient := newFakeClient("patient_2", models.RolePatient)
	registry.Register("tm_abc", doctor)
	registry.Register("tm_abc", patient)

	frame := []byte(`{"type":"webrtc_signaling","target":"patient_2","data":{"sdp":"offer"}}`)
	relay.HandleInbound(context.Background(), "tm_abc", doctor, frame)

	require.Empty(t, doctor.received())
	require.Len(t, patient.received(), 1)

	env := decodeEnvelope(t, patient.received()[0])
	require.Equal(t, EnvelopeSignaling, env.Type)
	require.Equal(t, "doctor_1", env.From)
	require.JSONEq(t, `{"sdp":"offer"}`, string(env.Data))
}

func TestRelaySignalingToDisconnectedTarget(t *testing.T) {
	relay, registry, _ := newTestRelay(models.SessionInProgress)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	registry.Register("tm_abc", doctor)

	frame := []byte(`{"type":"webrtc_signaling","target":"patient_2","data":{}}`)
	relay.HandleInbound(context.Background(), "tm_abc", doctor, frame)

	require.Len(t, doctor.received(), 1)
	env := decodeEnvelope(t, doctor.received()[0])
	require.Equal(t, EnvelopeError, env.Type)
	require.Equal(t, "Participant is not connected", env.Message)
}

func TestRelayUnknownTypeErrorsSenderOnly(t *testing.T) {
	relay, registry, _ := newTestRelay(models.SessionInProgress)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	patient := newFakeClient("patient_2", models.RolePatient)
	registry.Register("tm_abc", doctor)
	registry.Register("tm_abc", patient)

	relay.HandleInbound(context.Background(), "tm_abc", doctor, []byte(`{"type":"bogus"}`))

	require.Empty(t, patient.received())
	require.Len(t, doctor.received(), 1)
	env := decodeEnvelope(t, doctor.received()[0])
	require.Equal(t, EnvelopeError, env.Type)
	require.Equal(t, "Unknown message type", env.Message)
}

func TestRelayRejectsInactiveSession(t *testing.T) {
	relay, registry, _ := newTestRelay(models.SessionCompleted)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	registry.Register("tm_abc", doctor)

	relay.HandleInbound(context.Background(), "tm_abc", doctor, []byte(`{"type":"chat_message","data":{}}`))

	require.Len(t, doctor.received(), 1)
	env := decodeEnvelope(t, doctor.received()[0])
	require.Equal(t, EnvelopeError, env.Type)
	require.Equal(t, "Session is not active", env.Message)
}

func TestRelayScreenSharingStartRequiresConsent(t *testing.T) {
	relay, registry, gate := newTestRelay(models.SessionInProgress)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	patient := newFakeClient("patient_2", models.RolePatient)
	registry.Register("tm_abc", doctor)
	registry.Register("tm_abc", patient)

	start := []byte(`{"type":"screen_sharing","data":{"action":"start"}}`)
	relay.HandleInbound(context.Background(), "tm_abc", doctor, start)

	require.Empty(t, patient.received())
	require.Len(t, doctor.received(), 1)
	env := decodeEnvelope(t, doctor.received()[0])
	require.Equal(t, EnvelopeError, env.Type)

	gate.allowed[models.ConsentScreenSharing] = true
	relay.HandleInbound(context.Background(), "tm_abc", doctor, start)
	require.Len(t, patient.received(), 1)
}

func TestRelayStopPropagatesWithoutConsent(t *testing.T) {
	relay, registry, _ := newTestRelay(models.SessionInProgress)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	patient := newFakeClient("patient_2", models.RolePatient)
	registry.Register("tm_abc", doctor)
	registry.Register("tm_abc", patient)

	stop := []byte(`{"type":"recording_status","data":{"action":"stop"}}`)
	relay.HandleInbound(context.Background(), "tm_abc", doctor, stop)

	require.Len(t, patient.received(), 1)
	env := decodeEnvelope(t, patient.received()[0])
	require.Equal(t, EnvelopeRecordingStatus, env.Type)
}

func TestRelayChatBroadcast(t *testing.T) {
	relay, registry, _ := newTestRelay(models.SessionWaiting)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	patient := newFakeClient("patient_2", models.RolePatient)
	registry.Register("tm_abc", doctor)
	registry.Register("tm_abc", patient)

	relay.HandleInbound(context.Background(), "tm_abc", patient, []byte(`{"type":"chat_message","data":{"preview":"hi"}}`))

	require.Empty(t, patient.received())
	require.Len(t, doctor.received(), 1)
	env := decodeEnvelope(t, doctor.received()[0])
	require.Equal(t, "patient_2", env.From)
}

func TestRelayPresenceAnnouncements(t *testing.T) {
	relay, registry, _ := newTestRelay(models.SessionWaiting)
	doctor := newFakeClient("doctor_1", models.RoleDoctor)
	patient := newFakeClient("patient_2", models.RolePatient)
	registry.Register("tm_abc", doctor)
	registry.Register("tm_abc", patient)

	relay.AnnounceJoin("tm_abc", "patient_2")
	require.Len(t, doctor.received(), 1)
	joined := decodeEnvelope(t, doctor.received()[0])
	require.Equal(t, EnvelopeParticipantJoined, joined.Type)
	require.Equal(t, "patient_2", joined.From)
	require.NotEmpty(t, joined.Timestamp)

	relay.AnnounceLeave("tm_abc", "patient_2")
	require.Len(t, doctor.received(), 2)
	left := decodeEnvelope(t, doctor.received()[1])
	require.Equal(t, EnvelopeParticipantLeft, left.Type)
}
