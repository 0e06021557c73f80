package meeting

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
)

// MockProvider is an in-memory Provider for development and tests.
// It honors the idempotency contract: repeated CreateMeeting calls with the
// same client request token return the same meeting.
type MockProvider struct {
	mu        sync.Mutex
	byToken   map[string]*MeetingHandle
	meetings  map[string]bool
	attendees map[string]map[string]bool // meetingID -> attendeeID set
}

// NewMockProvider creates an empty mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		byToken:   make(map[string]*MeetingHandle),
		meetings:  make(map[string]bool),
		attendees: make(map[string]map[string]bool),
	}
}

func (p *MockProvider) CreateMeeting(_ context.Context, clientRequestToken string) (*MeetingHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byToken[clientRequestToken]; ok {
		return existing, nil
	}

	handle := &MeetingHandle{
		MeetingID:   uuid.New().String(),
		MediaRegion: "local",
		MediaPlacement: MediaPlacement{
			AudioHostURL: "mock://audio",
			SignalingURL: "mock://signaling",
		},
	}
	p.byToken[clientRequestToken] = handle
	p.meetings[handle.MeetingID] = true
	p.attendees[handle.MeetingID] = make(map[string]bool)

	return handle, nil
}

func (p *MockProvider) CreateAttendee(_ context.Context, meetingID, externalUserID string) (*AttendeeHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.meetings[meetingID] {
		return nil, apperrors.NotFoundError("media session")
	}

	attendeeID := uuid.New().String()
	p.attendees[meetingID][attendeeID] = true

	return &AttendeeHandle{
		AttendeeID:     attendeeID,
		ExternalUserID: externalUserID,
		JoinToken:      fmt.Sprintf("mock-join-%s", attendeeID),
	}, nil
}

func (p *MockProvider) DeleteMeeting(_ context.Context, meetingID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.meetings[meetingID] {
		return apperrors.NotFoundError("media session")
	}
	delete(p.meetings, meetingID)
	delete(p.attendees, meetingID)
	return nil
}

func (p *MockProvider) DeleteAttendee(_ context.Context, meetingID, attendeeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.attendees[meetingID]
	if !ok || !set[attendeeID] {
		return apperrors.NotFoundError("attendee")
	}
	delete(set, attendeeID)
	return nil
}
