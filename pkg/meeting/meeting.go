package meeting

import (
	"context"
)

// MediaPlacement carries the media endpoints a client needs to join a meeting
type MediaPlacement struct {
	AudioHostURL     string `json:"audio_host_url,omitempty"`
	AudioFallbackURL string `json:"audio_fallback_url,omitempty"`
	SignalingURL     string `json:"signaling_url,omitempty"`
	TurnControlURL   string `json:"turn_control_url,omitempty"`
}

// MeetingHandle identifies an allocated media session
type MeetingHandle struct {
	MeetingID      string         `json:"meeting_id"`
	MediaRegion    string         `json:"media_region,omitempty"`
	MediaPlacement MediaPlacement `json:"media_placement"`
}

// AttendeeHandle is a per-user join credential for a meeting
type AttendeeHandle struct {
	AttendeeID     string `json:"attendee_id"`
	ExternalUserID string `json:"external_user_id"`
	JoinToken      string `json:"join_token"`
}

// Provider defines the interface to the external media session provider.
// CreateMeeting is idempotent on the client request token: calling it again
// with the same token returns the previously allocated meeting.
type Provider interface {
	CreateMeeting(ctx context.Context, clientRequestToken string) (*MeetingHandle, error)
	CreateAttendee(ctx context.Context, meetingID, externalUserID string) (*AttendeeHandle, error)
	DeleteMeeting(ctx context.Context, meetingID string) error
	DeleteAttendee(ctx context.Context, meetingID, attendeeID string) error
}
