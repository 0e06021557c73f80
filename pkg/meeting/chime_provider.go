package meeting

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings/types"
	"go.uber.org/zap"

	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
	"github.com/dessources/PantherKolab-sub001/pkg/logger"
)

// ChimeProvider allocates media sessions through AWS Chime SDK Meetings
type ChimeProvider struct {
	client      *chimesdkmeetings.Client
	mediaRegion string
}

// NewChimeProvider creates a Chime-backed provider using the default AWS
// credential chain. mediaRegion is where meeting media is hosted.
func NewChimeProvider(ctx context.Context, mediaRegion string) (*ChimeProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &ChimeProvider{
		client:      chimesdkmeetings.NewFromConfig(cfg),
		mediaRegion: mediaRegion,
	}, nil
}

// CreateMeeting allocates a meeting. The client request token makes retries
// idempotent: Chime returns the existing meeting for a repeated token.
func (p *ChimeProvider) CreateMeeting(ctx context.Context, clientRequestToken string) (*MeetingHandle, error) {
	out, err := p.client.CreateMeeting(ctx, &chimesdkmeetings.CreateMeetingInput{
		ClientRequestToken: aws.String(clientRequestToken),
		ExternalMeetingId:  aws.String(clientRequestToken),
		MediaRegion:        aws.String(p.mediaRegion),
	})
	if err != nil {
		return nil, translateChimeError("create meeting", err)
	}

	handle := &MeetingHandle{
		MeetingID:   aws.ToString(out.Meeting.MeetingId),
		MediaRegion: aws.ToString(out.Meeting.MediaRegion),
	}
	if mp := out.Meeting.MediaPlacement; mp != nil {
		handle.MediaPlacement = MediaPlacement{
			AudioHostURL:     aws.ToString(mp.AudioHostUrl),
			AudioFallbackURL: aws.ToString(mp.AudioFallbackUrl),
			SignalingURL:     aws.ToString(mp.SignalingUrl),
			TurnControlURL:   aws.ToString(mp.TurnControlUrl),
		}
	}

	logger.Debug("Chime meeting created",
		zap.String("meeting_id", handle.MeetingID),
		zap.String("media_region", handle.MediaRegion))

	return handle, nil
}

// CreateAttendee issues a join credential for one user
func (p *ChimeProvider) CreateAttendee(ctx context.Context, meetingID, externalUserID string) (*AttendeeHandle, error) {
	out, err := p.client.CreateAttendee(ctx, &chimesdkmeetings.CreateAttendeeInput{
		MeetingId:      aws.String(meetingID),
		ExternalUserId: aws.String(externalUserID),
	})
	if err != nil {
		return nil, translateChimeError("create attendee", err)
	}

	return &AttendeeHandle{
		AttendeeID:     aws.ToString(out.Attendee.AttendeeId),
		ExternalUserID: aws.ToString(out.Attendee.ExternalUserId),
		JoinToken:      aws.ToString(out.Attendee.JoinToken),
	}, nil
}

// DeleteMeeting releases the meeting and disconnects all attendees
func (p *ChimeProvider) DeleteMeeting(ctx context.Context, meetingID string) error {
	_, err := p.client.DeleteMeeting(ctx, &chimesdkmeetings.DeleteMeetingInput{
		MeetingId: aws.String(meetingID),
	})
	if err != nil {
		return translateChimeError("delete meeting", err)
	}
	return nil
}

// DeleteAttendee revokes one attendee's join credential
func (p *ChimeProvider) DeleteAttendee(ctx context.Context, meetingID, attendeeID string) error {
	_, err := p.client.DeleteAttendee(ctx, &chimesdkmeetings.DeleteAttendeeInput{
		MeetingId:  aws.String(meetingID),
		AttendeeId: aws.String(attendeeID),
	})
	if err != nil {
		return translateChimeError("delete attendee", err)
	}
	return nil
}

// translateChimeError maps Chime SDK failures onto the closed error taxonomy
func translateChimeError(op string, err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return apperrors.NotFoundError("media session")
	}

	var limit *types.LimitExceededException
	if errors.As(err, &limit) {
		return apperrors.QuotaExceededError("media session capacity exceeded")
	}

	return apperrors.ProviderError(fmt.Sprintf("failed to %s", op), err)
}
