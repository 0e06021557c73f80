package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the call lifecycle events delivered to participants.
// The same vocabulary is used on live connections and on the broadcast
// fallback so clients rely on a single schema regardless of transport.
type EventType string

const (
	EventIncomingCall      EventType = "INCOMING_CALL"
	EventCallConnected     EventType = "CALL_CONNECTED"
	EventParticipantJoined EventType = "PARTICIPANT_JOINED"
	EventParticipantLeft   EventType = "PARTICIPANT_LEFT"
	EventCallRejected      EventType = "CALL_REJECTED"
	EventCallCancelled     EventType = "CALL_CANCELLED"
	EventCallEnded         EventType = "CALL_ENDED"
)

// Event is one lifecycle notification for one call session
type Event struct {
	Type      EventType              `json:"type"`
	SessionID uuid.UUID              `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(eventType EventType, sessionID uuid.UUID, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
