package call

import (
	"fmt"

	"github.com/dessources/PantherKolab-sub001/internal/domain"
	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
)

// ParticipantEvent is an input to the participant state machine
type ParticipantEvent string

const (
	EventAccept    ParticipantEvent = "accept"
	EventDecline   ParticipantEvent = "decline"
	EventReject    ParticipantEvent = "reject"
	EventLeave     ParticipantEvent = "leave"
	EventForcedEnd ParticipantEvent = "forced-end"
)

// TransitionEffects lists side effects the orchestrator must perform when
// committing a transition
type TransitionEffects struct {
	// RequestAttendee means a media attendee credential must be allocated
	// before the transition is recorded
	RequestAttendee bool
	// OwnerTransferRequired means the leaving participant is the current
	// owner; if other active participants remain in a GROUP call, a
	// successor must be named before the leave commits
	OwnerTransferRequired bool
}

// Transition computes the participant status resulting from event.
// It is pure: no I/O, no mutation of the input. Illegal transitions return
// an INVALID_STATE error; a caller observing one must re-read current state.
func Transition(current domain.ParticipantStatus, event ParticipantEvent) (domain.ParticipantStatus, TransitionEffects, error) {
	switch event {
	case EventAccept:
		switch current {
		case domain.ParticipantRinging:
			return domain.ParticipantJoined, TransitionEffects{RequestAttendee: true}, nil
		case domain.ParticipantJoined:
			// idempotent re-accept
			return domain.ParticipantJoined, TransitionEffects{}, nil
		}

	case EventDecline:
		if current == domain.ParticipantRinging {
			return domain.ParticipantDeclined, TransitionEffects{}, nil
		}

	case EventReject:
		if current == domain.ParticipantRinging {
			return domain.ParticipantRejected, TransitionEffects{}, nil
		}

	case EventLeave:
		if current == domain.ParticipantJoined {
			return domain.ParticipantLeft, TransitionEffects{OwnerTransferRequired: true}, nil
		}

	case EventForcedEnd:
		// a call reaching ENDED force-releases every participant
		return domain.ParticipantLeft, TransitionEffects{}, nil
	}

	return current, TransitionEffects{}, apperrors.InvalidStateError(
		fmt.Sprintf("participant cannot %s from status %s", event, current))
}
