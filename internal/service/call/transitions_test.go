package call

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dessources/PantherKolab-sub001/internal/domain"
	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name        string
		current     domain.ParticipantStatus
		event       ParticipantEvent
		wantStatus  domain.ParticipantStatus
		wantEffects TransitionEffects
		wantErr     bool
	}{
		{
			name:        "accept from ringing joins and requests attendee",
			current:     domain.ParticipantRinging,
			event:       EventAccept,
			wantStatus:  domain.ParticipantJoined,
			wantEffects: TransitionEffects{RequestAttendee: true},
		},
		{
			name:       "accept while joined is idempotent",
			current:    domain.ParticipantJoined,
			event:      EventAccept,
			wantStatus: domain.ParticipantJoined,
		},
		{
			name:       "decline from ringing",
			current:    domain.ParticipantRinging,
			event:      EventDecline,
			wantStatus: domain.ParticipantDeclined,
		},
		{
			name:       "reject from ringing",
			current:    domain.ParticipantRinging,
			event:      EventReject,
			wantStatus: domain.ParticipantRejected,
		},
		{
			name:        "leave from joined flags owner check",
			current:     domain.ParticipantJoined,
			event:       EventLeave,
			wantStatus:  domain.ParticipantLeft,
			wantEffects: TransitionEffects{OwnerTransferRequired: true},
		},
		{
			name:       "forced end releases ringing participant",
			current:    domain.ParticipantRinging,
			event:      EventForcedEnd,
			wantStatus: domain.ParticipantLeft,
		},
		{
			name:       "forced end releases joined participant",
			current:    domain.ParticipantJoined,
			event:      EventForcedEnd,
			wantStatus: domain.ParticipantLeft,
		},
		{
			name:    "accept after declining is illegal",
			current: domain.ParticipantDeclined,
			event:   EventAccept,
			wantErr: true,
		},
		{
			name:    "accept after leaving is illegal",
			current: domain.ParticipantLeft,
			event:   EventAccept,
			wantErr: true,
		},
		{
			name:    "decline after joining is illegal",
			current: domain.ParticipantJoined,
			event:   EventDecline,
			wantErr: true,
		},
		{
			name:    "leave while ringing is illegal",
			current: domain.ParticipantRinging,
			event:   EventLeave,
			wantErr: true,
		},
		{
			name:    "reject after rejecting is illegal",
			current: domain.ParticipantRejected,
			event:   EventReject,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, effects, err := Transition(tt.current, tt.event)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantEffects, effects)
		})
	}
}
