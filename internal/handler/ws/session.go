package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dessources/PantherKolab-sub001/pkg/metrics"
)

// CallSession is the ephemeral per-call signaling state. It exists only to
// route the earliest ringing/accept/decline handshake and is never
// authoritative: the persistent call record owns billing-grade state.
type CallSession struct {
	SessionID   uuid.UUID
	InitiatorID uuid.UUID
	CreatedAt   time.Time
	// conns maps attached users to their live connection ids
	conns map[uuid.UUID]string
}

// SessionStore holds ephemeral call sessions for this process. Sessions are
// discarded on decline/end or when their last attached connection drops.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*CallSession
}

// NewSessionStore creates an empty session store
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uuid.UUID]*CallSession)}
}

// Create registers a new ephemeral session with the initiator attached.
// Returns false if the session id already exists.
func (s *SessionStore) Create(sessionID, initiatorID uuid.UUID, initiatorConn string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; exists {
		return false
	}

	s.sessions[sessionID] = &CallSession{
		SessionID:   sessionID,
		InitiatorID: initiatorID,
		CreatedAt:   time.Now().UTC(),
		conns:       map[uuid.UUID]string{initiatorID: initiatorConn},
	}
	metrics.SignalingSessionsActive.Inc()
	return true
}

// Attach binds a user's connection to an existing session.
// Returns false when the session is unknown.
func (s *SessionStore) Attach(sessionID, userID uuid.UUID, connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	session.conns[userID] = connID
	return true
}

// Connections returns a snapshot of the connection ids attached to a session
func (s *SessionStore) Connections(sessionID uuid.UUID) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	conns := make([]string, 0, len(session.conns))
	for _, connID := range session.conns {
		conns = append(conns, connID)
	}
	return conns, true
}

// Remove discards a session
func (s *SessionStore) Remove(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		delete(s.sessions, sessionID)
		metrics.SignalingSessionsActive.Dec()
	}
}

// DropConnection detaches connID from every session. Sessions left with no
// attached connections are discarded; the persistent call record is not
// touched, that remains the orchestrator's responsibility.
func (s *SessionStore) DropConnection(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID, session := range s.sessions {
		for userID, c := range session.conns {
			if c == connID {
				delete(session.conns, userID)
			}
		}
		if len(session.conns) == 0 {
			delete(s.sessions, sessionID)
			metrics.SignalingSessionsActive.Dec()
		}
	}
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
