package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dessources/PantherKolab-sub001/internal/domain"
	"github.com/dessources/PantherKolab-sub001/internal/notify"
	"github.com/dessources/PantherKolab-sub001/pkg/constants"
	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
	"github.com/dessources/PantherKolab-sub001/pkg/logger"
	"github.com/dessources/PantherKolab-sub001/pkg/meeting"
	"github.com/dessources/PantherKolab-sub001/pkg/metrics"
)

// maxWriteRetries bounds the retry loop around versioned call-record writes
const maxWriteRetries = constants.MaxCallWriteRetries

// CallRepository defines the persistence operations the orchestrator needs
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.Call, error)
	// UpdateVersioned writes call only if the stored version still equals
	// expectedVersion; a lost race returns a CONFLICT error
	UpdateVersioned(ctx context.Context, call *domain.Call, expectedVersion int64) error
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// ConversationRepository exposes conversation membership for group-call
// validation. Initiator and recipients are checked against one member list,
// so a single-user predicate is not needed.
type ConversationRepository interface {
	GetMemberIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier fans lifecycle events out to participants
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event *notify.Event)
	NotifyAll(ctx context.Context, userIDs []uuid.UUID, event *notify.Event)
}

// Service orchestrates the call session lifecycle. Operations are invoked
// concurrently by independent request handlers; the persistent call record is
// the single source of truth and every mutation is a versioned
// read-modify-write with retry on conflict.
type Service struct {
	callRepo CallRepository
	convRepo ConversationRepository
	provider meeting.Provider
	notifier Notifier
}

// NewService creates the call orchestrator
func NewService(callRepo CallRepository, convRepo ConversationRepository, provider meeting.Provider, notifier Notifier) *Service {
	return &Service{
		callRepo: callRepo,
		convRepo: convRepo,
		provider: provider,
		notifier: notifier,
	}
}

// InitiateCallInput contains call initiation data. ParticipantIDs are the
// invited recipients, excluding the initiator.
type InitiateCallInput struct {
	CallType       domain.CallType
	InitiatedBy    uuid.UUID
	ParticipantIDs []uuid.UUID
	ConversationID *uuid.UUID
}

// CallSessionOutput is returned by operations that hand the caller its own
// join credentials
type CallSessionOutput struct {
	Call         *domain.Call            `json:"call"`
	MediaSession *meeting.MeetingHandle  `json:"media_session"`
	Attendee     *meeting.AttendeeHandle `json:"attendee"`
}

// LeaveCallOutput reports the result of leaving a call
type LeaveCallOutput struct {
	Call               *domain.Call `json:"call"`
	TransferredOwnerID *uuid.UUID   `json:"transferred_owner_id,omitempty"`
}

// InitiateCall creates the call record with every participant RINGING,
// allocates the media session (idempotency token = session id), joins the
// initiator immediately, and rings the recipients.
func (s *Service) InitiateCall(ctx context.Context, input *InitiateCallInput) (*CallSessionOutput, error) {
	if err := s.validateInitiate(ctx, input); err != nil {
		return nil, err
	}

	sessionID := uuid.New()
	now := time.Now().UTC()

	participants := make([]domain.Participant, 0, len(input.ParticipantIDs)+1)
	participants = append(participants, domain.Participant{
		UserID: input.InitiatedBy,
		Status: domain.ParticipantRinging,
	})
	for _, id := range input.ParticipantIDs {
		participants = append(participants, domain.Participant{
			UserID: id,
			Status: domain.ParticipantRinging,
		})
	}

	call := &domain.Call{
		SessionID:      sessionID,
		CallType:       input.CallType,
		ConversationID: input.ConversationID,
		InitiatedBy:    input.InitiatedBy,
		Status:         domain.CallStatusRinging,
		Participants:   participants,
		StartedAt:      now,
	}

	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, err
	}

	// Media session allocation is keyed on the session id, so a retry of a
	// failed initiate cannot double-allocate.
	mediaSession, err := s.createMeeting(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	attendee, err := s.createAttendee(ctx, mediaSession.MeetingID, input.InitiatedBy)
	if err != nil {
		return nil, err
	}

	// The initiator is in the call from the moment it rings
	call.MediaSessionID = &mediaSession.MeetingID
	initiator := call.Participant(input.InitiatedBy)
	initiator.Status = domain.ParticipantJoined
	initiator.MediaAttendeeID = &attendee.AttendeeID

	if err := s.callRepo.UpdateVersioned(ctx, call, call.Version); err != nil {
		return nil, err
	}

	metrics.CallsInitiatedTotal.WithLabelValues(string(input.CallType)).Inc()
	metrics.CallsActive.Inc()

	logger.Info("Call initiated",
		zap.String("session_id", sessionID.String()),
		zap.String("call_type", string(input.CallType)),
		zap.String("initiated_by", input.InitiatedBy.String()),
		zap.Int("participants", len(participants)))

	ringData := map[string]interface{}{
		"call_type":    string(call.CallType),
		"initiated_by": call.InitiatedBy.String(),
	}
	if call.ConversationID != nil {
		ringData["conversation_id"] = call.ConversationID.String()
	}
	s.notifier.NotifyAll(ctx, input.ParticipantIDs, notify.NewEvent(notify.EventIncomingCall, sessionID, ringData))
	s.notifier.Notify(ctx, input.InitiatedBy, notify.NewEvent(notify.EventCallConnected, sessionID, nil))

	return &CallSessionOutput{Call: call, MediaSession: mediaSession, Attendee: attendee}, nil
}

// ValidateInitiate checks call-type and participant rules without creating
// anything. The signaling gateway uses it so both transports share one set of
// validation rules.
func (s *Service) ValidateInitiate(ctx context.Context, input *InitiateCallInput) error {
	return s.validateInitiate(ctx, input)
}

func (s *Service) validateInitiate(ctx context.Context, input *InitiateCallInput) error {
	if len(input.ParticipantIDs) == 0 {
		return apperrors.ValidationError("at least one participant is required")
	}

	seen := map[uuid.UUID]struct{}{input.InitiatedBy: {}}
	for _, id := range input.ParticipantIDs {
		if id == input.InitiatedBy {
			return apperrors.ValidationError("initiator cannot be listed as a recipient")
		}
		if _, dup := seen[id]; dup {
			return apperrors.ValidationError("duplicate participant id")
		}
		seen[id] = struct{}{}
	}

	switch input.CallType {
	case domain.CallTypeDirect:
		if len(input.ParticipantIDs) != 1 {
			return apperrors.ValidationError("direct calls require exactly one recipient")
		}

	case domain.CallTypeGroup:
		if input.ConversationID == nil {
			return apperrors.ValidationError("group calls require a conversation id")
		}
		if len(input.ParticipantIDs)+1 > constants.MaxGroupCallParticipants {
			return apperrors.ValidationError("too many participants for a group call")
		}
		memberIDs, err := s.convRepo.GetMemberIDs(ctx, *input.ConversationID)
		if err != nil {
			return err
		}
		members := make(map[uuid.UUID]struct{}, len(memberIDs))
		for _, id := range memberIDs {
			members[id] = struct{}{}
		}
		if _, ok := members[input.InitiatedBy]; !ok {
			return apperrors.ValidationError("initiator is not a member of the conversation")
		}
		for _, id := range input.ParticipantIDs {
			if _, ok := members[id]; !ok {
				return apperrors.ValidationError("participant " + id.String() + " is not a member of the conversation")
			}
		}

	default:
		return apperrors.ValidationError("unknown call type")
	}

	return nil
}

// AcceptCall joins a ringing recipient. Re-accepting an already JOINED
// participant is idempotent and re-issues a join credential. The first
// acceptance flips the call RINGING -> ACTIVE; later ones find it ACTIVE and
// leave it alone.
func (s *Service) AcceptCall(ctx context.Context, sessionID, recipientID uuid.UUID) (*CallSessionOutput, error) {
	var (
		mediaSession *meeting.MeetingHandle
		attendee     *meeting.AttendeeHandle
	)

	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		call, err := s.callRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		participant := call.Participant(recipientID)
		if participant == nil {
			return nil, apperrors.NotAParticipantError("you are not invited to this call")
		}
		if call.Status.IsTerminal() {
			return nil, apperrors.InvalidStateError("call is no longer ringing")
		}
		if call.MediaSessionID == nil {
			return nil, apperrors.NotFoundError("media session")
		}

		newStatus, _, err := Transition(participant.Status, EventAccept)
		if err != nil {
			return nil, err
		}

		// Provider calls happen once; a write conflict below retries the
		// record mutation with the already-allocated credentials.
		if mediaSession == nil {
			// Re-creating with the same idempotency token returns the
			// existing meeting.
			mediaSession, err = s.createMeeting(ctx, sessionID)
			if err != nil {
				return nil, err
			}
		}
		if attendee == nil {
			attendee, err = s.createAttendee(ctx, mediaSession.MeetingID, recipientID)
			if err != nil {
				return nil, err
			}
		}

		participant.Status = newStatus
		participant.MediaAttendeeID = &attendee.AttendeeID
		if call.Status == domain.CallStatusRinging {
			call.Status = domain.CallStatusActive
		}

		if err := s.callRepo.UpdateVersioned(ctx, call, call.Version); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
				metrics.CallRecordWriteConflictTotal.Inc()
				continue
			}
			return nil, err
		}

		metrics.CallOperationsTotal.WithLabelValues("accept", "success").Inc()
		logger.Info("Call accepted",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", recipientID.String()))

		s.notifyOthers(ctx, call, recipientID, notify.NewEvent(notify.EventParticipantJoined, sessionID,
			map[string]interface{}{"user_id": recipientID.String()}))

		return &CallSessionOutput{Call: call, MediaSession: mediaSession, Attendee: attendee}, nil
	}

	metrics.CallOperationsTotal.WithLabelValues("accept", "conflict").Inc()
	return nil, apperrors.ConflictError("call record contention, retry")
}

// RejectCall marks the participant REJECTED. When every non-initiator
// participant has rejected, the whole call becomes REJECTED.
func (s *Service) RejectCall(ctx context.Context, sessionID, userID uuid.UUID) error {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		call, err := s.callRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			return err
		}

		participant := call.Participant(userID)
		if participant == nil {
			return apperrors.NotAParticipantError("you are not invited to this call")
		}
		if call.Status.IsTerminal() {
			return apperrors.InvalidStateError("call is no longer ringing")
		}

		newStatus, _, err := Transition(participant.Status, EventReject)
		if err != nil {
			return err
		}
		participant.Status = newStatus

		allRejected := true
		for _, p := range call.Participants {
			if p.UserID == call.InitiatedBy {
				continue
			}
			if p.Status != domain.ParticipantRejected {
				allRejected = false
				break
			}
		}
		if allRejected {
			now := time.Now().UTC()
			call.Status = domain.CallStatusRejected
			call.EndedAt = &now
		}

		if err := s.callRepo.UpdateVersioned(ctx, call, call.Version); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
				metrics.CallRecordWriteConflictTotal.Inc()
				continue
			}
			return err
		}

		metrics.CallOperationsTotal.WithLabelValues("reject", "success").Inc()
		if call.Status == domain.CallStatusRejected {
			metrics.CallsActive.Dec()
		}
		logger.Info("Call rejected",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Bool("call_rejected", call.Status == domain.CallStatusRejected))

		s.notifyOthers(ctx, call, userID, notify.NewEvent(notify.EventCallRejected, sessionID,
			map[string]interface{}{
				"rejected_by":   userID.String(),
				"call_rejected": call.Status == domain.CallStatusRejected,
			}))
		return nil
	}

	metrics.CallOperationsTotal.WithLabelValues("reject", "conflict").Inc()
	return apperrors.ConflictError("call record contention, retry")
}

// CancelCall cancels a still-ringing call. Only the initiator may cancel.
// The speculatively allocated media session is left to expire on the
// provider side; recipients' RINGING statuses are retained as history.
func (s *Service) CancelCall(ctx context.Context, sessionID, callerID uuid.UUID) error {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		call, err := s.callRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			return err
		}

		if callerID != call.InitiatedBy {
			return apperrors.ForbiddenError("only the initiator may cancel a call")
		}
		if call.Status != domain.CallStatusRinging {
			return apperrors.InvalidStateError("only a ringing call can be cancelled")
		}

		now := time.Now().UTC()
		call.Status = domain.CallStatusCancelled
		call.EndedAt = &now

		if err := s.callRepo.UpdateVersioned(ctx, call, call.Version); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
				metrics.CallRecordWriteConflictTotal.Inc()
				continue
			}
			return err
		}

		metrics.CallOperationsTotal.WithLabelValues("cancel", "success").Inc()
		metrics.CallsActive.Dec()
		if call.MediaSessionID != nil {
			logger.Warn("Cancelled call leaves media session allocated",
				zap.String("session_id", sessionID.String()),
				zap.String("media_session_id", *call.MediaSessionID))
		}

		s.notifyOthers(ctx, call, callerID, notify.NewEvent(notify.EventCallCancelled, sessionID,
			map[string]interface{}{"cancelled_by": callerID.String()}))
		return nil
	}

	metrics.CallOperationsTotal.WithLabelValues("cancel", "conflict").Inc()
	return apperrors.ConflictError("call record contention, retry")
}

// LeaveCall removes a joined participant. The owner of a GROUP call with
// remaining active participants must name a successor; the transfer commits
// with the leave. The last active participant leaving ends the call.
func (s *Service) LeaveCall(ctx context.Context, sessionID, userID uuid.UUID, newOwnerID *uuid.UUID) (*LeaveCallOutput, error) {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		call, err := s.callRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		participant := call.Participant(userID)
		if participant == nil {
			return nil, apperrors.NotAParticipantError("you are not a participant of this call")
		}
		if call.Status.IsTerminal() {
			return nil, apperrors.InvalidStateError("call has already concluded")
		}

		newStatus, effects, err := Transition(participant.Status, EventLeave)
		if err != nil {
			return nil, err
		}

		remaining := call.ActiveParticipants(userID)
		now := time.Now().UTC()

		var transferredOwnerID *uuid.UUID
		ownerLeaving := effects.OwnerTransferRequired && call.OwnerID() == userID
		if ownerLeaving && len(remaining) > 0 && call.CallType == domain.CallTypeGroup {
			// No automatic successor selection: the caller must name one.
			if newOwnerID == nil {
				return nil, apperrors.ValidationError("owner leaving a group call must name a new owner")
			}
			valid := false
			for _, p := range remaining {
				if p.UserID == *newOwnerID {
					valid = true
					break
				}
			}
			if !valid {
				return nil, apperrors.ValidationError("new owner must be a remaining active participant")
			}
			call.TransferOwnership(*newOwnerID, now)
			transferredOwnerID = newOwnerID
		}

		participant.Status = newStatus

		ended := len(remaining) == 0
		if ended {
			call.Status = domain.CallStatusEnded
			call.EndedAt = &now
		}

		if err := s.callRepo.UpdateVersioned(ctx, call, call.Version); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
				metrics.CallRecordWriteConflictTotal.Inc()
				continue
			}
			return nil, err
		}

		metrics.CallOperationsTotal.WithLabelValues("leave", "success").Inc()
		logger.Info("Participant left call",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Bool("call_ended", ended))

		leftData := map[string]interface{}{"user_id": userID.String()}
		if transferredOwnerID != nil {
			leftData["new_owner_id"] = transferredOwnerID.String()
		}
		s.notifyOthers(ctx, call, userID, notify.NewEvent(notify.EventParticipantLeft, sessionID, leftData))

		if ended {
			metrics.CallsActive.Dec()
			s.releaseMediaSession(ctx, call)
			s.notifyOthers(ctx, call, userID, notify.NewEvent(notify.EventCallEnded, sessionID,
				map[string]interface{}{"ended_by": userID.String()}))
		}

		return &LeaveCallOutput{Call: call, TransferredOwnerID: transferredOwnerID}, nil
	}

	metrics.CallOperationsTotal.WithLabelValues("leave", "conflict").Inc()
	return nil, apperrors.ConflictError("call record contention, retry")
}

// EndCall terminates an active call for everyone. Only the current owner may
// end it, and only once the call is ACTIVE; withdrawing a still-ringing call
// is CancelCall's job and records CANCELLED, not ENDED. Ending an
// already-ENDED call is explicitly an idempotent no-op success. Media session
// deletion is best-effort: a provider failure is logged as a leaked resource,
// never surfaced, because the user-visible call has already concluded.
func (s *Service) EndCall(ctx context.Context, sessionID, endedBy uuid.UUID) error {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		call, err := s.callRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			return err
		}

		if call.Participant(endedBy) == nil {
			return apperrors.NotAParticipantError("you are not a participant of this call")
		}
		if call.Status == domain.CallStatusEnded {
			return nil
		}
		if call.Status.IsTerminal() {
			return apperrors.InvalidStateError("call has already concluded")
		}
		if call.Status != domain.CallStatusActive {
			return apperrors.InvalidStateError("only an active call can be ended; cancel a ringing call instead")
		}
		if call.OwnerID() != endedBy {
			return apperrors.ForbiddenError("only the call owner may end the call")
		}

		now := time.Now().UTC()
		call.Status = domain.CallStatusEnded
		call.EndedAt = &now
		for i := range call.Participants {
			p := &call.Participants[i]
			if p.Status.Active() {
				status, _, _ := Transition(p.Status, EventForcedEnd)
				p.Status = status
			}
		}

		if err := s.callRepo.UpdateVersioned(ctx, call, call.Version); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
				metrics.CallRecordWriteConflictTotal.Inc()
				continue
			}
			return err
		}

		metrics.CallOperationsTotal.WithLabelValues("end", "success").Inc()
		metrics.CallsActive.Dec()
		logger.Info("Call ended",
			zap.String("session_id", sessionID.String()),
			zap.String("ended_by", endedBy.String()))

		s.releaseMediaSession(ctx, call)
		s.notifyOthers(ctx, call, endedBy, notify.NewEvent(notify.EventCallEnded, sessionID,
			map[string]interface{}{"ended_by": endedBy.String()}))
		return nil
	}

	metrics.CallOperationsTotal.WithLabelValues("end", "conflict").Inc()
	return apperrors.ConflictError("call record contention, retry")
}

// GetCall returns the call record to one of its participants
func (s *Service) GetCall(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if call.Participant(userID) == nil {
		return nil, apperrors.NotAParticipantError("you are not a participant of this call")
	}
	return call, nil
}

// GetUserCallHistory retrieves call history for a user
func (s *Service) GetUserCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	return s.callRepo.GetUserCalls(ctx, userID, limit, offset)
}

// notifyOthers sends event to every participant except actor
func (s *Service) notifyOthers(ctx context.Context, call *domain.Call, actor uuid.UUID, event *notify.Event) {
	targets := make([]uuid.UUID, 0, len(call.Participants))
	for _, p := range call.Participants {
		if p.UserID != actor {
			targets = append(targets, p.UserID)
		}
	}
	s.notifier.NotifyAll(ctx, targets, event)
}

// releaseMediaSession deletes the provider meeting, logging failure as a
// leaked resource rather than surfacing it
func (s *Service) releaseMediaSession(ctx context.Context, call *domain.Call) {
	if call.MediaSessionID == nil {
		return
	}
	if err := s.deleteMeeting(ctx, *call.MediaSessionID); err != nil {
		logger.Warn("Failed to delete media session, resource may be leaked",
			zap.String("session_id", call.SessionID.String()),
			zap.String("media_session_id", *call.MediaSessionID),
			zap.Error(err))
	}
}

func (s *Service) createMeeting(ctx context.Context, sessionID uuid.UUID) (*meeting.MeetingHandle, error) {
	start := time.Now()
	handle, err := s.provider.CreateMeeting(ctx, sessionID.String())
	metrics.MediaProviderRequestDuration.WithLabelValues("create_meeting").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MediaProviderErrorsTotal.WithLabelValues("create_meeting").Inc()
		return nil, err
	}
	return handle, nil
}

func (s *Service) createAttendee(ctx context.Context, meetingID string, userID uuid.UUID) (*meeting.AttendeeHandle, error) {
	start := time.Now()
	handle, err := s.provider.CreateAttendee(ctx, meetingID, userID.String())
	metrics.MediaProviderRequestDuration.WithLabelValues("create_attendee").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MediaProviderErrorsTotal.WithLabelValues("create_attendee").Inc()
		return nil, err
	}
	return handle, nil
}

func (s *Service) deleteMeeting(ctx context.Context, meetingID string) error {
	start := time.Now()
	err := s.provider.DeleteMeeting(ctx, meetingID)
	metrics.MediaProviderRequestDuration.WithLabelValues("delete_meeting").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MediaProviderErrorsTotal.WithLabelValues("delete_meeting").Inc()
	}
	return err
}
