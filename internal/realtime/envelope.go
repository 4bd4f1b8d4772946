package realtime

import (
	"encoding/json"
	"fmt"
)

// EnvelopeType tags the closed set of messages carried over a session's
// signaling channel. Inbound traffic is restricted to the four client types;
// the remaining values are emitted by the server only.
type EnvelopeType string

const (
	// Client-originated envelope types.
	EnvelopeSignaling       EnvelopeType = "webrtc_signaling"
	EnvelopeChat            EnvelopeType = "chat_message"
	EnvelopeScreenSharing   EnvelopeType = "screen_sharing"
	EnvelopeRecordingStatus EnvelopeType = "recording_status"

	// Server-originated envelope types.
	EnvelopeParticipantJoined EnvelopeType = "participant_joined"
	EnvelopeParticipantLeft   EnvelopeType = "participant_left"
	EnvelopeError             EnvelopeType = "error"
)

// Inbound reports whether clients are allowed to send this envelope type.
func (t EnvelopeType) Inbound() bool {
	switch t {
	case EnvelopeSignaling, EnvelopeChat, EnvelopeScreenSharing, EnvelopeRecordingStatus:
		return true
	}
	return false
}

// Envelope is the wire frame exchanged over a session connection. Data is
// kept opaque: the relay never interprets SDP or ICE payloads, it only routes
// them.
type Envelope struct {
	Type   EnvelopeType    `json:"type"`
	From   string          `json:"from,omitempty"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`

	// Message carries human-readable detail on error envelopes.
	Message string `json:"message,omitempty"`

	// Timestamp annotates server-originated presence events (RFC 3339).
	Timestamp string `json:"timestamp,omitempty"`
}

// ErrUnknownEnvelopeType reports an envelope whose type is outside the closed set.
type ErrUnknownEnvelopeType struct {
	Type string
}

func (e *ErrUnknownEnvelopeType) Error() string {
	return fmt.Sprintf("realtime: unknown envelope type %q", e.Type)
}

// ParseInbound decodes a client frame and rejects types clients may not send.
func ParseInbound(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("realtime: decode envelope: %w", err)
	}

	if !env.Type.Inbound() {
		return Envelope{}, &ErrUnknownEnvelopeType{Type: string(env.Type)}
	}

	return env, nil
}

// capabilityTransition is the minimal shape peeked out of screen_sharing and
// recording_status payloads to tell "start" transitions (consent gated) apart
// from "stop" transitions (always propagated).
type capabilityTransition struct {
	Action string `json:"action"`
}

// startsCapability reports whether the payload requests a capability start.
func startsCapability(data json.RawMessage) bool {
	if len(data) == 0 {
		return false
	}
	var t capabilityTransition
	if err := json.Unmarshal(data, &t); err != nil {
		// Unparseable payloads are treated as starts so consent is never
		// bypassed by malformed data.
		return true
	}
	return t.Action != "stop"
}

func mustMarshal(env Envelope) []byte {
	payload, err := json.Marshal(env)
	if err != nil {
		// Envelope contains only marshalable fields; this cannot fail at runtime.
		panic(err)
	}
	return payload
}
