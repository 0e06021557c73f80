package call

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dessources/PantherKolab-sub001/internal/domain"
	"github.com/dessources/PantherKolab-sub001/internal/notify"
	apperrors "github.com/dessources/PantherKolab-sub001/pkg/errors"
	"github.com/dessources/PantherKolab-sub001/pkg/logger"
	"github.com/dessources/PantherKolab-sub001/pkg/meeting"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) UpdateVersioned(ctx context.Context, call *domain.Call, expectedVersion int64) error {
	args := m.Called(ctx, call, expectedVersion)
	return args.Error(0)
}

func (m *MockCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

// MockConversationRepository is a mock implementation of ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetMemberIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// recordingNotifier collects delivered events for assertions
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	UserID uuid.UUID
	Event  *notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, event *notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{UserID: userID, Event: event})
}

func (n *recordingNotifier) NotifyAll(ctx context.Context, userIDs []uuid.UUID, event *notify.Event) {
	for _, id := range userIDs {
		n.Notify(ctx, id, event)
	}
}

func (n *recordingNotifier) received(userID uuid.UUID, eventType notify.EventType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.UserID == userID && e.Event.Type == eventType {
			return true
		}
	}
	return false
}

// memoryCallRepo is an in-memory CallRepository with real compare-and-swap
// semantics, used to exercise the retry loops and concurrent operations
type memoryCallRepo struct {
	mu          sync.Mutex
	calls       map[uuid.UUID]*domain.Call
	failUpdates int // make this many leading UpdateVersioned calls conflict
}

func newMemoryCallRepo() *memoryCallRepo {
	return &memoryCallRepo{calls: make(map[uuid.UUID]*domain.Call)}
}

func cloneCall(c *domain.Call) *domain.Call {
	out := *c
	out.Participants = make([]domain.Participant, len(c.Participants))
	for i, p := range c.Participants {
		cp := p
		if p.MediaAttendeeID != nil {
			v := *p.MediaAttendeeID
			cp.MediaAttendeeID = &v
		}
		if p.BecameCallOwner != nil {
			v := *p.BecameCallOwner
			cp.BecameCallOwner = &v
		}
		out.Participants[i] = cp
	}
	if c.MediaSessionID != nil {
		v := *c.MediaSessionID
		out.MediaSessionID = &v
	}
	if c.ConversationID != nil {
		v := *c.ConversationID
		out.ConversationID = &v
	}
	if c.EndedAt != nil {
		v := *c.EndedAt
		out.EndedAt = &v
	}
	return &out
}

func (r *memoryCallRepo) Create(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call.Version = 1
	r.calls[call.SessionID] = cloneCall(call)
	return nil
}

func (r *memoryCallRepo) GetBySessionID(_ context.Context, sessionID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.calls[sessionID]
	if !ok {
		return nil, apperrors.NotFoundError("call")
	}
	return cloneCall(stored), nil
}

func (r *memoryCallRepo) UpdateVersioned(_ context.Context, call *domain.Call, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return apperrors.ConflictError("call record was modified concurrently")
	}
	stored, ok := r.calls[call.SessionID]
	if !ok {
		return apperrors.NotFoundError("call")
	}
	if stored.Version != expectedVersion {
		return apperrors.ConflictError("call record was modified concurrently")
	}
	call.Version = expectedVersion + 1
	r.calls[call.SessionID] = cloneCall(call)
	return nil
}

func (r *memoryCallRepo) GetUserCalls(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Call
	for _, c := range r.calls {
		if c.Participant(userID) != nil {
			out = append(out, cloneCall(c))
		}
	}
	return out, nil
}

func newTestService(repo CallRepository, convRepo ConversationRepository) (*Service, *recordingNotifier, *meeting.MockProvider) {
	notifier := &recordingNotifier{}
	provider := meeting.NewMockProvider()
	return NewService(repo, convRepo, provider, notifier), notifier, provider
}

func TestInitiateCall_Direct(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, notifier, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	output, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	require.NotNil(t, output)

	call := output.Call
	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, initiator, call.InitiatedBy)
	require.NotNil(t, call.MediaSessionID)
	assert.Equal(t, output.MediaSession.MeetingID, *call.MediaSessionID)

	// initiator joins immediately with a media credential
	p := call.Participant(initiator)
	require.NotNil(t, p)
	assert.Equal(t, domain.ParticipantJoined, p.Status)
	require.NotNil(t, p.MediaAttendeeID)
	assert.Equal(t, output.Attendee.AttendeeID, *p.MediaAttendeeID)

	// recipient rings
	assert.Equal(t, domain.ParticipantRinging, call.Participant(recipient).Status)

	assert.True(t, notifier.received(recipient, notify.EventIncomingCall))
	assert.True(t, notifier.received(initiator, notify.EventCallConnected))
}

func TestInitiateCall_Validation(t *testing.T) {
	initiator := uuid.New()
	recipient := uuid.New()
	conversationID := uuid.New()

	tests := []struct {
		name  string
		input *InitiateCallInput
	}{
		{
			name: "direct call with two recipients",
			input: &InitiateCallInput{
				CallType:       domain.CallTypeDirect,
				InitiatedBy:    initiator,
				ParticipantIDs: []uuid.UUID{recipient, uuid.New()},
			},
		},
		{
			name: "no recipients",
			input: &InitiateCallInput{
				CallType:    domain.CallTypeDirect,
				InitiatedBy: initiator,
			},
		},
		{
			name: "initiator listed as recipient",
			input: &InitiateCallInput{
				CallType:       domain.CallTypeDirect,
				InitiatedBy:    initiator,
				ParticipantIDs: []uuid.UUID{initiator},
			},
		},
		{
			name: "duplicate recipient",
			input: &InitiateCallInput{
				CallType:       domain.CallTypeGroup,
				InitiatedBy:    initiator,
				ConversationID: &conversationID,
				ParticipantIDs: []uuid.UUID{recipient, recipient},
			},
		},
		{
			name: "group call without conversation",
			input: &InitiateCallInput{
				CallType:       domain.CallTypeGroup,
				InitiatedBy:    initiator,
				ParticipantIDs: []uuid.UUID{recipient},
			},
		},
		{
			name: "unknown call type",
			input: &InitiateCallInput{
				CallType:       domain.CallType("CONFERENCE"),
				InitiatedBy:    initiator,
				ParticipantIDs: []uuid.UUID{recipient},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(newMemoryCallRepo(), nil)
			_, err := svc.InitiateCall(context.Background(), tt.input)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
		})
	}
}

func TestInitiateCall_GroupMembership(t *testing.T) {
	initiator := uuid.New()
	member := uuid.New()
	stranger := uuid.New()
	conversationID := uuid.New()

	mockConvRepo := new(MockConversationRepository)
	mockConvRepo.On("GetMemberIDs", mock.Anything, conversationID).
		Return([]uuid.UUID{initiator, member}, nil)

	svc, notifier, _ := newTestService(newMemoryCallRepo(), mockConvRepo)

	// non-member recipient is rejected
	_, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeGroup,
		InitiatedBy:    initiator,
		ConversationID: &conversationID,
		ParticipantIDs: []uuid.UUID{stranger},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	// all members is fine
	output, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeGroup,
		InitiatedBy:    initiator,
		ConversationID: &conversationID,
		ParticipantIDs: []uuid.UUID{member},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallTypeGroup, output.Call.CallType)
	assert.True(t, notifier.received(member, notify.EventIncomingCall))
}

func TestAcceptCall(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, notifier, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	accepted, err := svc.AcceptCall(context.Background(), sessionID, recipient)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusActive, accepted.Call.Status)
	p := accepted.Call.Participant(recipient)
	assert.Equal(t, domain.ParticipantJoined, p.Status)
	require.NotNil(t, p.MediaAttendeeID)

	// idempotency token means the recipient joins the same meeting
	assert.Equal(t, initiated.MediaSession.MeetingID, accepted.MediaSession.MeetingID)

	assert.True(t, notifier.received(initiator, notify.EventParticipantJoined))
}

func TestAcceptCall_Idempotent(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, _, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)

	_, err = svc.AcceptCall(context.Background(), initiated.Call.SessionID, recipient)
	require.NoError(t, err)

	again, err := svc.AcceptCall(context.Background(), initiated.Call.SessionID, recipient)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, again.Call.Status)
	assert.Equal(t, domain.ParticipantJoined, again.Call.Participant(recipient).Status)
}

func TestAcceptCall_Errors(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, _, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	// a stranger cannot accept
	_, err = svc.AcceptCall(context.Background(), sessionID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAParticipant))

	// unknown session
	_, err = svc.AcceptCall(context.Background(), uuid.New(), recipient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	// accepting a cancelled call is illegal
	require.NoError(t, svc.CancelCall(context.Background(), sessionID, initiator))
	_, err = svc.AcceptCall(context.Background(), sessionID, recipient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestAcceptCall_RetriesOnWriteConflict(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, _, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)

	repo.failUpdates = 2
	accepted, err := svc.AcceptCall(context.Background(), initiated.Call.SessionID, recipient)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, accepted.Call.Status)
}

func TestConcurrentAccepts_BothSucceed(t *testing.T) {
	repo := newMemoryCallRepo()
	conversationID := uuid.New()
	initiator := uuid.New()
	first := uuid.New()
	second := uuid.New()

	mockConvRepo := new(MockConversationRepository)
	mockConvRepo.On("GetMemberIDs", mock.Anything, conversationID).
		Return([]uuid.UUID{initiator, first, second}, nil)

	svc, _, _ := newTestService(repo, mockConvRepo)

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeGroup,
		InitiatedBy:    initiator,
		ConversationID: &conversationID,
		ParticipantIDs: []uuid.UUID{first, second},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, userID := range []uuid.UUID{first, second} {
		wg.Add(1)
		go func(i int, userID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.AcceptCall(context.Background(), sessionID, userID)
		}(i, userID)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	stored, err := repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, stored.Status)
	assert.Equal(t, domain.ParticipantJoined, stored.Participant(first).Status)
	assert.Equal(t, domain.ParticipantJoined, stored.Participant(second).Status)
}

func TestRejectCall_DirectBecomesRejected(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, notifier, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	require.NoError(t, svc.RejectCall(context.Background(), sessionID, recipient))

	stored, err := repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, stored.Status)
	assert.NotNil(t, stored.EndedAt)
	assert.Equal(t, domain.ParticipantRejected, stored.Participant(recipient).Status)

	assert.True(t, notifier.received(initiator, notify.EventCallRejected))
}

func TestRejectCall_GroupPartialKeepsRinging(t *testing.T) {
	repo := newMemoryCallRepo()
	conversationID := uuid.New()
	initiator := uuid.New()
	first := uuid.New()
	second := uuid.New()

	mockConvRepo := new(MockConversationRepository)
	mockConvRepo.On("GetMemberIDs", mock.Anything, conversationID).
		Return([]uuid.UUID{initiator, first, second}, nil)

	svc, _, _ := newTestService(repo, mockConvRepo)

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeGroup,
		InitiatedBy:    initiator,
		ConversationID: &conversationID,
		ParticipantIDs: []uuid.UUID{first, second},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	require.NoError(t, svc.RejectCall(context.Background(), sessionID, first))

	stored, err := repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, stored.Status)

	// the last recipient rejecting concludes the call
	require.NoError(t, svc.RejectCall(context.Background(), sessionID, second))
	stored, err = repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, stored.Status)
}

func TestCancelCall(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, notifier, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	// only the initiator may cancel
	err = svc.CancelCall(context.Background(), sessionID, recipient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	require.NoError(t, svc.CancelCall(context.Background(), sessionID, initiator))

	stored, err := repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCancelled, stored.Status)
	assert.NotNil(t, stored.EndedAt)
	// recipient statuses are retained as history
	assert.Equal(t, domain.ParticipantRinging, stored.Participant(recipient).Status)

	assert.True(t, notifier.received(recipient, notify.EventCallCancelled))
}

func TestCancelCall_ActiveCallCannotBeCancelled(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, _, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	_, err = svc.AcceptCall(context.Background(), sessionID, recipient)
	require.NoError(t, err)

	err = svc.CancelCall(context.Background(), sessionID, initiator)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestLeaveCall_LastParticipantEndsCall(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, notifier, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	_, err = svc.AcceptCall(context.Background(), sessionID, recipient)
	require.NoError(t, err)

	// first leave keeps the call alive
	output, err := svc.LeaveCall(context.Background(), sessionID, recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, output.Call.Status)
	assert.True(t, notifier.received(initiator, notify.EventParticipantLeft))

	// last leave ends it
	output, err = svc.LeaveCall(context.Background(), sessionID, initiator, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, output.Call.Status)
	assert.NotNil(t, output.Call.EndedAt)
}

func TestLeaveCall_GroupOwnerMustNameSuccessor(t *testing.T) {
	repo := newMemoryCallRepo()
	conversationID := uuid.New()
	initiator := uuid.New()
	first := uuid.New()
	second := uuid.New()

	mockConvRepo := new(MockConversationRepository)
	mockConvRepo.On("GetMemberIDs", mock.Anything, conversationID).
		Return([]uuid.UUID{initiator, first, second}, nil)

	svc, _, _ := newTestService(repo, mockConvRepo)

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeGroup,
		InitiatedBy:    initiator,
		ConversationID: &conversationID,
		ParticipantIDs: []uuid.UUID{first, second},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	_, err = svc.AcceptCall(context.Background(), sessionID, first)
	require.NoError(t, err)

	// owner leaving without naming a successor is rejected
	_, err = svc.LeaveCall(context.Background(), sessionID, initiator, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	// successor must be a remaining active participant
	stranger := uuid.New()
	_, err = svc.LeaveCall(context.Background(), sessionID, initiator, &stranger)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	// a valid successor commits with the leave
	output, err := svc.LeaveCall(context.Background(), sessionID, initiator, &first)
	require.NoError(t, err)
	require.NotNil(t, output.TransferredOwnerID)
	assert.Equal(t, first, *output.TransferredOwnerID)
	assert.Equal(t, first, output.Call.OwnerID())
	assert.Equal(t, domain.ParticipantLeft, output.Call.Participant(initiator).Status)
}

func TestEndCall(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, notifier, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	_, err = svc.AcceptCall(context.Background(), sessionID, recipient)
	require.NoError(t, err)

	// only the owner may end
	err = svc.EndCall(context.Background(), sessionID, recipient)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	require.NoError(t, svc.EndCall(context.Background(), sessionID, initiator))

	stored, err := repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
	assert.NotNil(t, stored.EndedAt)
	assert.Equal(t, domain.ParticipantLeft, stored.Participant(recipient).Status)

	assert.True(t, notifier.received(recipient, notify.EventCallEnded))

	// ending an ended call is an idempotent no-op success
	assert.NoError(t, svc.EndCall(context.Background(), sessionID, initiator))
}

func TestEndCall_AfterOwnershipTransfer(t *testing.T) {
	repo := newMemoryCallRepo()
	conversationID := uuid.New()
	initiator := uuid.New()
	first := uuid.New()
	second := uuid.New()

	mockConvRepo := new(MockConversationRepository)
	mockConvRepo.On("GetMemberIDs", mock.Anything, conversationID).
		Return([]uuid.UUID{initiator, first, second}, nil)

	svc, _, _ := newTestService(repo, mockConvRepo)

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeGroup,
		InitiatedBy:    initiator,
		ConversationID: &conversationID,
		ParticipantIDs: []uuid.UUID{first, second},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	_, err = svc.AcceptCall(context.Background(), sessionID, first)
	require.NoError(t, err)
	_, err = svc.AcceptCall(context.Background(), sessionID, second)
	require.NoError(t, err)

	_, err = svc.LeaveCall(context.Background(), sessionID, initiator, &first)
	require.NoError(t, err)

	// original owner is gone, the successor holds end rights
	err = svc.EndCall(context.Background(), sessionID, second)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	require.NoError(t, svc.EndCall(context.Background(), sessionID, first))

	stored, err := repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
}

func TestEndCall_RejectedCallIsInvalidState(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, _, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	require.NoError(t, svc.RejectCall(context.Background(), sessionID, recipient))

	err = svc.EndCall(context.Background(), sessionID, initiator)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestEndCall_RingingCallCannotBeEnded(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, _, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)
	sessionID := initiated.Call.SessionID

	// ringing calls cannot jump straight to ENDED, even for the owner
	err = svc.EndCall(context.Background(), sessionID, initiator)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))

	stored, err := repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, stored.Status)

	// withdrawing the ring goes through cancel and records CANCELLED
	require.NoError(t, svc.CancelCall(context.Background(), sessionID, initiator))
	stored, err = repo.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCancelled, stored.Status)
}

func TestGetCall_ParticipantsOnly(t *testing.T) {
	repo := newMemoryCallRepo()
	svc, _, _ := newTestService(repo, nil)

	initiator := uuid.New()
	recipient := uuid.New()

	initiated, err := svc.InitiateCall(context.Background(), &InitiateCallInput{
		CallType:       domain.CallTypeDirect,
		InitiatedBy:    initiator,
		ParticipantIDs: []uuid.UUID{recipient},
	})
	require.NoError(t, err)

	call, err := svc.GetCall(context.Background(), initiated.Call.SessionID, recipient)
	require.NoError(t, err)
	assert.Equal(t, initiated.Call.SessionID, call.SessionID)

	_, err = svc.GetCall(context.Background(), initiated.Call.SessionID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotAParticipant))
}

func TestGetUserCallHistory_ClampsLimit(t *testing.T) {
	mockRepo := new(MockCallRepository)
	svc := NewService(mockRepo, nil, meeting.NewMockProvider(), &recordingNotifier{})

	userID := uuid.New()
	mockRepo.On("GetUserCalls", mock.Anything, userID, 20, 0).Return([]*domain.Call{}, nil).Once()
	mockRepo.On("GetUserCalls", mock.Anything, userID, 100, 0).Return([]*domain.Call{}, nil).Once()

	_, err := svc.GetUserCallHistory(context.Background(), userID, 0, 0)
	assert.NoError(t, err)

	_, err = svc.GetUserCallHistory(context.Background(), userID, 500, 0)
	assert.NoError(t, err)

	mockRepo.AssertExpectations(t)
}
