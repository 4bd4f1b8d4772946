package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/prontivus/telecare/internal/models"
	"github.com/prontivus/telecare/pkg/logger"
	"github.com/prontivus/telecare/pkg/metrics"
)

// Client is a live transport attachment for one participant. Send must not
// block: it enqueues the payload and reports false when the outbound queue is
// full, at which point the registry evicts the connection.
type Client interface {
	Key() string
	Role() models.ParticipantRole
	Send(payload []byte) bool
	Close()
}

// Registry tracks live connections per session. Implementations must be safe
// for concurrent use.
type Registry interface {
	Register(sessionID string, client Client)
	Unregister(sessionID string, client Client)
	SendTo(sessionID, participantKey string, payload []byte) bool
	Broadcast(sessionID string, payload []byte, excludeKey string) int
	HasRole(sessionID string, role models.ParticipantRole) bool
	Participants(sessionID string) []string
}

// InMemoryRegistry keeps connection state in process memory. A participant key
// maps to at most one client per session; a second registration for the same
// key replaces (and closes) the first.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Client
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{sessions: make(map[string]map[string]Client)}
}

func (r *InMemoryRegistry) Register(sessionID string, client Client) {
	r.mu.Lock()
	clients, ok := r.sessions[sessionID]
	if !ok {
		clients = make(map[string]Client)
		r.sessions[sessionID] = clients
	}
	previous := clients[client.Key()]
	clients[client.Key()] = client
	r.mu.Unlock()

	if previous != nil {
		previous.Close()
	} else {
		metrics.ActiveConnections.Inc()
	}

	logger.Debug("participant connected",
		zap.String("session_id", sessionID),
		zap.String("participant", client.Key()))
}

func (r *InMemoryRegistry) Unregister(sessionID string, client Client) {
	r.mu.Lock()
	clients, ok := r.sessions[sessionID]
	if !ok || clients[client.Key()] != client {
		r.mu.Unlock()
		return
	}
	delete(clients, client.Key())
	if len(clients) == 0 {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	metrics.ActiveConnections.Dec()
	client.Close()

	logger.Debug("participant disconnected",
		zap.String("session_id", sessionID),
		zap.String("participant", client.Key()))
}

// SendTo delivers a payload to one participant. It reports false when the
// participant has no live connection. A full outbound queue evicts that
// participant's connection without disturbing the rest of the session.
func (r *InMemoryRegistry) SendTo(sessionID, participantKey string, payload []byte) bool {
	r.mu.RLock()
	client := r.sessions[sessionID][participantKey]
	r.mu.RUnlock()

	if client == nil {
		return false
	}
	if !client.Send(payload) {
		logger.Warn("outbound queue full, evicting participant",
			zap.String("session_id", sessionID),
			zap.String("participant", participantKey))
		r.Unregister(sessionID, client)
		return false
	}
	return true
}

// Broadcast sends a payload to every participant in the session except
// excludeKey, returning the number of deliveries attempted.
func (r *InMemoryRegistry) Broadcast(sessionID string, payload []byte, excludeKey string) int {
	r.mu.RLock()
	targets := make([]Client, 0, len(r.sessions[sessionID]))
	for key, client := range r.sessions[sessionID] {
		if key == excludeKey {
			continue
		}
		targets = append(targets, client)
	}
	r.mu.RUnlock()

	for _, client := range targets {
		if !client.Send(payload) {
			logger.Warn("outbound queue full, evicting participant",
				zap.String("session_id", sessionID),
				zap.String("participant", client.Key()))
			r.Unregister(sessionID, client)
		}
	}
	return len(targets)
}

func (r *InMemoryRegistry) HasRole(sessionID string, role models.ParticipantRole) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, client := range r.sessions[sessionID] {
		if client.Role() == role {
			return true
		}
	}
	return false
}

func (r *InMemoryRegistry) Participants(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.sessions[sessionID]))
	for key := range r.sessions[sessionID] {
		keys = append(keys, key)
	}
	return keys
}
