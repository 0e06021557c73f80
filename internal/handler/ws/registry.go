package ws

import (
	"sync"

	"github.com/google/uuid"
)

// PresenceRegistry maps authenticated users to live connection ids. It is
// process-local by design: a multi-process deployment needs sticky routing
// per user or an external presence store behind this interface.
type PresenceRegistry interface {
	// Register binds userID to connID, displacing any previous connection
	// for the same user. Returns the displaced connection id, if any.
	Register(userID uuid.UUID, connID string) (string, bool)
	// Unregister removes the binding only if connID is still current
	Unregister(userID uuid.UUID, connID string)
	// ConnectionFor returns the live connection id for a user
	ConnectionFor(userID uuid.UUID) (string, bool)
	// UserFor returns the user bound to a connection id
	UserFor(connID string) (uuid.UUID, bool)
}

// memoryRegistry is the single-process PresenceRegistry implementation
type memoryRegistry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]string
	byConn map[string]uuid.UUID
}

// NewMemoryRegistry creates an empty process-local presence registry
func NewMemoryRegistry() PresenceRegistry {
	return &memoryRegistry{
		byUser: make(map[uuid.UUID]string),
		byConn: make(map[string]uuid.UUID),
	}
}

func (r *memoryRegistry) Register(userID uuid.UUID, connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	displaced, had := r.byUser[userID]
	if had {
		delete(r.byConn, displaced)
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
	return displaced, had
}

func (r *memoryRegistry) Unregister(userID uuid.UUID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byUser[userID]; ok && current == connID {
		delete(r.byUser, userID)
	}
	delete(r.byConn, connID)
}

func (r *memoryRegistry) ConnectionFor(userID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

func (r *memoryRegistry) UserFor(connID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}
