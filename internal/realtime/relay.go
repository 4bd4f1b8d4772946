package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/pkg/logger"
	"github.com/prontivus/telecare/pkg/metrics"
)

// SessionGate answers the relay's questions about session state and consent.
// It is implemented by the services layer; the relay itself never touches
// storage.
type SessionGate interface {
	SessionStatus(ctx context.Context, sessionID string) (models.SessionStatus, error)
	CapabilityAllowed(ctx context.Context, sessionID string, consentType models.ConsentType) error
}

// Relay routes envelopes between the participants of a session. Routing
// failures are reported to the sender only; they never terminate the
// connection or leak to other participants.
type Relay struct {
	registry Registry
	gate     SessionGate
}

func NewRelay(registry Registry, gate SessionGate) *Relay {
	return &Relay{registry: registry, gate: gate}
}

// HandleInbound processes one raw frame from sender. Errors are delivered
// back to the sender as error envelopes; the returned error is non-nil only
// for internal failures worth logging.
func (r *Relay) HandleInbound(ctx context.Context, sessionID string, sender Client, raw []byte) {
	env, err := ParseInbound(raw)
	if err != nil {
		metrics.RelayMessages.WithLabelValues("unknown", "rejected").Inc()
		r.replyError(sender, "Unknown message type")
		return
	}
	env.From = sender.Key()

	status, err := r.gate.SessionStatus(ctx, sessionID)
	if err != nil {
		metrics.RelayMessages.WithLabelValues(string(env.Type), "error").Inc()
		logger.Error("resolve session status",
			zap.String("session_id", sessionID), zap.Error(err))
		r.replyError(sender, "Session unavailable")
		return
	}
	if status != models.SessionWaiting && status != models.SessionInProgress {
		metrics.RelayMessages.WithLabelValues(string(env.Type), "rejected").Inc()
		r.replyError(sender, "Session is not active")
		return
	}

	switch env.Type {
	case EnvelopeSignaling:
		r.routeSignaling(sessionID, sender, env)

	case EnvelopeChat:
		r.registry.Broadcast(sessionID, mustMarshal(env), sender.Key())
		metrics.RelayMessages.WithLabelValues(string(env.Type), "delivered").Inc()

	case EnvelopeScreenSharing:
		r.routeCapability(ctx, sessionID, sender, env, models.ConsentScreenSharing)

	case EnvelopeRecordingStatus:
		r.routeCapability(ctx, sessionID, sender, env, models.ConsentRecording)
	}
}

// routeSignaling forwards a WebRTC payload to its target, or to the other
// participants when no target is named.
func (r *Relay) routeSignaling(sessionID string, sender Client, env Envelope) {
	payload := mustMarshal(env)

	if env.Target == "" {
		r.registry.Broadcast(sessionID, payload, sender.Key())
		metrics.RelayMessages.WithLabelValues(string(env.Type), "delivered").Inc()
		return
	}

	if !r.registry.SendTo(sessionID, env.Target, payload) {
		metrics.RelayMessages.WithLabelValues(string(env.Type), "dropped").Inc()
		r.replyError(sender, "Participant is not connected")
		return
	}
	metrics.RelayMessages.WithLabelValues(string(env.Type), "delivered").Inc()
}

// routeCapability broadcasts screen-sharing and recording transitions. Start
// transitions require an active grant for the matching consent type; stop
// transitions always propagate so a capability can be shut down even after
// consent lapses.
func (r *Relay) routeCapability(ctx context.Context, sessionID string, sender Client, env Envelope, consentType models.ConsentType) {
	if startsCapability(env.Data) {
		if err := r.gate.CapabilityAllowed(ctx, sessionID, consentType); err != nil {
			metrics.RelayMessages.WithLabelValues(string(env.Type), "rejected").Inc()
			r.replyError(sender, "Consent required for "+string(consentType))
			return
		}
	}

	r.registry.Broadcast(sessionID, mustMarshal(env), sender.Key())
	metrics.RelayMessages.WithLabelValues(string(env.Type), "delivered").Inc()
}

// AnnounceJoin tells the other participants that key attached.
func (r *Relay) AnnounceJoin(sessionID, key string) {
	r.registry.Broadcast(sessionID, mustMarshal(Envelope{
		Type:      EnvelopeParticipantJoined,
		From:      key,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}), key)
}

// AnnounceLeave tells the remaining participants that key detached.
func (r *Relay) AnnounceLeave(sessionID, key string) {
	r.registry.Broadcast(sessionID, mustMarshal(Envelope{
		Type:      EnvelopeParticipantLeft,
		From:      key,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}), key)
}

func (r *Relay) replyError(sender Client, message string) {
	sender.Send(mustMarshal(Envelope{Type: EnvelopeError, Message: message}))
}
