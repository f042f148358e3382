package calls

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ripple-chat/internal/cache"
	"ripple-chat/internal/domain/call"
	"ripple-chat/internal/domain/message"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/logger"
)

var (
	selfID   = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	callerID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func setupCoordinator(t *testing.T) (*Coordinator, *mockStore, *mockProvider, *cache.ThreadCache) {
	t.Helper()
	ms := newMockStore()
	provider := &mockProvider{}
	c := cache.NewThreadCache(ms, noopFeed{}, selfID, logger.NewNop())
	coord := NewCoordinator(ms, c, provider, selfID, "Alice", time.Minute, logger.NewNop())
	return coord, ms, provider, c
}

func inboundCallRequest(threadID, sender uuid.UUID, roomID string) *message.Message {
	meta, _ := json.Marshal(message.CallRequestMetadata{
		CallType:   call.TypeVideo,
		RoomID:     roomID,
		Token:      "tok",
		CallerID:   sender,
		CallerName: "Bob",
		Timestamp:  time.Now(),
	})
	return &message.Message{
		ID:        uuid.New(),
		ThreadID:  threadID,
		SenderID:  sender,
		Type:      message.TypeCallRequest,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
}

func TestStartCallHappyPath(t *testing.T) {
	coord, ms, provider, _ := setupCoordinator(t)
	threadID := uuid.New()

	provider.On("CreateRoom", mock.Anything).Return("room-1", nil)
	provider.On("IssueToken", mock.Anything, "room-1", selfID).Return("jwt-token", nil)

	req, err := coord.StartCall(context.Background(), threadID, call.TypeVideo)
	require.NoError(t, err)

	assert.Equal(t, "room-1", req.RoomID)
	assert.Equal(t, "jwt-token", req.Token)
	assert.Equal(t, call.TypeVideo, req.Type)
	assert.Equal(t, call.StateRingingOutgoing, coord.StateOf(threadID))

	got, ok := coord.Request(threadID)
	require.True(t, ok)
	assert.Equal(t, req, got)

	persisted := ms.sentOfType(message.TypeCallRequest)
	require.Len(t, persisted, 1)
	meta, err := message.DecodeCallRequest(&persisted[0])
	require.NoError(t, err)
	assert.Equal(t, "room-1", meta.RoomID)
	assert.Equal(t, selfID, meta.CallerID)
}

func TestStartCallRoomFailureLeavesNoState(t *testing.T) {
	coord, ms, provider, _ := setupCoordinator(t)
	threadID := uuid.New()

	provider.On("CreateRoom", mock.Anything).Return("", assert.AnError)

	_, err := coord.StartCall(context.Background(), threadID, call.TypeAudio)
	var setupErr *ripple_errors.CallSetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, ripple_errors.StageRoomCreate, setupErr.Stage)

	_, ok := coord.Request(threadID)
	assert.False(t, ok, "no CallRequest after room failure")
	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
	assert.Empty(t, ms.sentMessages(), "no call_request persisted")
}

func TestStartCallTokenFailureLeavesNoState(t *testing.T) {
	coord, ms, provider, _ := setupCoordinator(t)
	threadID := uuid.New()

	provider.On("CreateRoom", mock.Anything).Return("room-1", nil)
	provider.On("IssueToken", mock.Anything, "room-1", selfID).Return("", assert.AnError)

	_, err := coord.StartCall(context.Background(), threadID, call.TypeAudio)
	var setupErr *ripple_errors.CallSetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, ripple_errors.StageTokenIssue, setupErr.Stage)
	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
	assert.Empty(t, ms.sentMessages())
}

func TestStartCallRejectedWhileActive(t *testing.T) {
	coord, _, provider, _ := setupCoordinator(t)
	threadID := uuid.New()

	provider.On("CreateRoom", mock.Anything).Return("room-1", nil)
	provider.On("IssueToken", mock.Anything, "room-1", selfID).Return("tok", nil)

	_, err := coord.StartCall(context.Background(), threadID, call.TypeAudio)
	require.NoError(t, err)

	_, err = coord.StartCall(context.Background(), threadID, call.TypeAudio)
	assert.ErrorIs(t, err, ripple_errors.ErrCallInProgress)
}

func TestStartCallPersistFailureKeepsLocalCall(t *testing.T) {
	coord, ms, provider, _ := setupCoordinator(t)
	threadID := uuid.New()

	provider.On("CreateRoom", mock.Anything).Return("room-1", nil)
	provider.On("IssueToken", mock.Anything, "room-1", selfID).Return("tok", nil)
	ms.sendErr = assert.AnError

	req, err := coord.StartCall(context.Background(), threadID, call.TypeVideo)
	require.NoError(t, err, "persistence failure does not roll back the local call")
	assert.Equal(t, "room-1", req.RoomID)
	assert.Equal(t, call.StateRingingOutgoing, coord.StateOf(threadID))
}

func TestInboundCallRequestRings(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	var events []Event
	coord.OnEvent(func(ev Event) { events = append(events, ev) })

	coord.HandleMessage(inboundCallRequest(threadID, callerID, "room-9"))

	assert.Equal(t, call.StateRingingIncoming, coord.StateOf(threadID))
	req, ok := coord.Request(threadID)
	require.True(t, ok)
	assert.Equal(t, "room-9", req.RoomID)
	assert.Equal(t, callerID, req.CallerID)
	require.Len(t, events, 1)
	assert.Equal(t, EventIncomingRinging, events[0].Kind)
}

func TestInboundCallRequestIdempotentPerThread(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	first := inboundCallRequest(threadID, callerID, "room-9")
	coord.HandleMessage(first)
	firstReq, _ := coord.Request(threadID)

	// Redelivered and re-signaled for the same active call.
	coord.HandleMessage(first)
	coord.HandleMessage(inboundCallRequest(threadID, callerID, "room-other"))

	req, ok := coord.Request(threadID)
	require.True(t, ok)
	assert.Equal(t, firstReq.RoomID, req.RoomID, "second signal for a ringing thread is ignored")
}

func TestInboundFromNonParticipantSilentlyDropped(t *testing.T) {
	coord, _, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	// No participants registered: the authorization lookup fails.

	coord.HandleMessage(inboundCallRequest(threadID, callerID, "room-9"))

	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
	_, ok := coord.Request(threadID)
	assert.False(t, ok, "no ring, no CallRequest for a non-participant")
}

func TestOwnSignalFromAnotherDeviceIgnored(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	coord.HandleMessage(inboundCallRequest(threadID, selfID, "room-9"))

	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
}

func TestCallEndedAlwaysClears(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	coord.HandleMessage(inboundCallRequest(threadID, callerID, "room-9"))
	require.Equal(t, call.StateRingingIncoming, coord.StateOf(threadID))

	coord.HandleMessage(&message.Message{
		ID:        uuid.New(),
		ThreadID:  threadID,
		SenderID:  callerID,
		Type:      message.TypeCallEnded,
		CreatedAt: time.Now(),
	})

	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
	_, ok := coord.Request(threadID)
	assert.False(t, ok)
}

func TestCallEndedBeforeCallRequestStaysIdle(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	// Subscription race: the ended signal arrives first.
	coord.HandleMessage(&message.Message{
		ID:        uuid.New(),
		ThreadID:  threadID,
		SenderID:  callerID,
		Type:      message.TypeCallEnded,
		CreatedAt: time.Now(),
	})
	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
	_, ok := coord.Request(threadID)
	assert.False(t, ok, "ended-before-request leaves no CallRequest")
}

func TestAnswerAndEndLifecycle(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	coord.HandleMessage(inboundCallRequest(threadID, callerID, "room-9"))

	req, err := coord.Answer(threadID)
	require.NoError(t, err)
	assert.Equal(t, "room-9", req.RoomID)
	assert.Equal(t, call.StateConnected, coord.StateOf(threadID))

	coord.EndCall(context.Background(), threadID)
	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))

	ended := ms.sentOfType(message.TypeCallEnded)
	require.Len(t, ended, 1)
	meta := message.DecodeCallEnded(&ended[0])
	assert.Equal(t, selfID, meta.EndedBy)
	assert.Equal(t, "room-9", meta.RoomID)
}

func TestDeclinePersistsEndedAndClears(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	coord.HandleMessage(inboundCallRequest(threadID, callerID, "room-9"))
	coord.Decline(context.Background(), threadID)

	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
	ended := ms.sentOfType(message.TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "declined", message.DecodeCallEnded(&ended[0]).Reason)
}

func TestDeclineWithoutCallPersistsNothing(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	var events []Event
	coord.OnEvent(func(ev Event) { events = append(events, ev) })

	// A stray relayed decline for a thread that never rang.
	coord.Decline(context.Background(), threadID)
	coord.EndCall(context.Background(), threadID)

	assert.Empty(t, ms.sentMessages(), "no call, no call_ended row in the thread")
	assert.Empty(t, events)
	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
}

func TestAnswerWithoutRingFails(t *testing.T) {
	coord, _, _, _ := setupCoordinator(t)
	_, err := coord.Answer(uuid.New())
	assert.ErrorIs(t, err, ripple_errors.ErrNotFound)
}

func TestClearCallRequestIsLocalOnly(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	coord.HandleMessage(inboundCallRequest(threadID, callerID, "room-9"))
	coord.ClearCallRequest(threadID)

	assert.Equal(t, call.StateIdle, coord.StateOf(threadID))
	assert.Empty(t, ms.sentOfType(message.TypeCallEnded), "dismissing a surface does not notify the far side")
}

func TestRingTimeoutEndsCall(t *testing.T) {
	ms := newMockStore()
	provider := &mockProvider{}
	c := cache.NewThreadCache(ms, noopFeed{}, selfID, logger.NewNop())
	coord := NewCoordinator(ms, c, provider, selfID, "Alice", 30*time.Millisecond, logger.NewNop())

	threadID := uuid.New()
	provider.On("CreateRoom", mock.Anything).Return("room-1", nil)
	provider.On("IssueToken", mock.Anything, "room-1", selfID).Return("tok", nil)

	_, err := coord.StartCall(context.Background(), threadID, call.TypeAudio)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return coord.StateOf(threadID) == call.StateIdle
	}, time.Second, 10*time.Millisecond, "unanswered ring times out to Idle")
	ended := ms.sentOfType(message.TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "timeout", message.DecodeCallEnded(&ended[0]).Reason)
}

func TestHandleIncomingSignalFromRelay(t *testing.T) {
	coord, ms, _, _ := setupCoordinator(t)
	threadID := uuid.New()
	ms.addParticipant(threadID, selfID)

	coord.HandleIncomingSignal(context.Background(), threadID, &message.CallRequestMetadata{
		CallType:   call.TypeAudio,
		RoomID:     "room-7",
		Token:      "tok",
		CallerID:   callerID,
		CallerName: "Bob",
	})

	assert.Equal(t, call.StateRingingIncoming, coord.StateOf(threadID))
}

func TestMarkConnectedStopsOutgoingRing(t *testing.T) {
	coord, _, provider, _ := setupCoordinator(t)
	threadID := uuid.New()

	provider.On("CreateRoom", mock.Anything).Return("room-1", nil)
	provider.On("IssueToken", mock.Anything, "room-1", selfID).Return("tok", nil)
	_, err := coord.StartCall(context.Background(), threadID, call.TypeAudio)
	require.NoError(t, err)

	coord.MarkConnected(threadID)
	assert.Equal(t, call.StateConnected, coord.StateOf(threadID))
}
