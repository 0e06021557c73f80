package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType distinguishes 2-party calls from conversation-scoped group calls
type CallType string

const (
	CallTypeDirect CallType = "DIRECT"
	CallTypeGroup  CallType = "GROUP"
)

// CallStatus is the overall status of a call session.
// Transitions are one-directional: RINGING -> {ACTIVE, REJECTED, CANCELLED},
// ACTIVE -> ENDED. Nothing leaves a terminal status.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "RINGING"
	CallStatusActive    CallStatus = "ACTIVE"
	CallStatusEnded     CallStatus = "ENDED"
	CallStatusRejected  CallStatus = "REJECTED"
	CallStatusCancelled CallStatus = "CANCELLED"
)

// IsTerminal reports whether no further status transitions are allowed
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusRejected || s == CallStatusCancelled
}

// ParticipantStatus is the status of one participant within one call
type ParticipantStatus string

const (
	ParticipantRinging  ParticipantStatus = "RINGING"
	ParticipantJoined   ParticipantStatus = "JOINED"
	ParticipantLeft     ParticipantStatus = "LEFT"
	ParticipantDeclined ParticipantStatus = "DECLINED"
	ParticipantRejected ParticipantStatus = "REJECTED"
)

// IsTerminal reports whether the participant can take no further transitions
func (s ParticipantStatus) IsTerminal() bool {
	return s == ParticipantLeft || s == ParticipantDeclined || s == ParticipantRejected
}

// Active reports whether the participant counts toward keeping the call alive
func (s ParticipantStatus) Active() bool {
	return s == ParticipantJoined || s == ParticipantRinging
}

// OwnerMark records an ownership transfer to a participant of a GROUP call
type OwnerMark struct {
	Status bool      `json:"status"`
	At     time.Time `json:"at"`
}

// Participant is a user's membership and status within a call
type Participant struct {
	UserID          uuid.UUID         `json:"user_id"`
	Status          ParticipantStatus `json:"status"`
	MediaAttendeeID *string           `json:"media_attendee_id,omitempty"`
	BecameCallOwner *OwnerMark        `json:"became_call_owner,omitempty"`
}

// Call represents one voice/video session attempt.
// Maps to the calls table; participants are stored as a JSONB document and
// Version guards every read-modify-write.
type Call struct {
	SessionID      uuid.UUID     `json:"session_id"`
	CallType       CallType      `json:"call_type"`
	ConversationID *uuid.UUID    `json:"conversation_id,omitempty"`
	InitiatedBy    uuid.UUID     `json:"initiated_by"`
	Status         CallStatus    `json:"status"`
	MediaSessionID *string       `json:"media_session_id,omitempty"`
	Participants   []Participant `json:"participants"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	Version        int64         `json:"-"`
}

// Participant returns the participant entry for userID, or nil
func (c *Call) Participant(userID uuid.UUID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// ActiveParticipants returns participants with status JOINED or RINGING,
// excluding the given user ids
func (c *Call) ActiveParticipants(exclude ...uuid.UUID) []Participant {
	excluded := make(map[uuid.UUID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var active []Participant
	for _, p := range c.Participants {
		if _, skip := excluded[p.UserID]; skip {
			continue
		}
		if p.Status.Active() {
			active = append(active, p)
		}
	}
	return active
}

// OwnerID returns the current call owner: the participant holding an active
// ownership transfer mark, otherwise the initiator.
func (c *Call) OwnerID() uuid.UUID {
	for i := range c.Participants {
		if m := c.Participants[i].BecameCallOwner; m != nil && m.Status {
			return c.Participants[i].UserID
		}
	}
	return c.InitiatedBy
}

// TransferOwnership marks newOwnerID as the call owner and clears the mark
// on every prior owner. The new owner must already be a participant.
func (c *Call) TransferOwnership(newOwnerID uuid.UUID, at time.Time) {
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.UserID == newOwnerID {
			p.BecameCallOwner = &OwnerMark{Status: true, At: at}
		} else if p.BecameCallOwner != nil {
			p.BecameCallOwner.Status = false
		}
	}
}
