package ripple_errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotParticipant   = errors.New("user is not a participant of the thread")
	ErrCallInProgress   = errors.New("call already in progress for thread")
	ErrAmbiguousPayload = errors.New("push payload could not be classified")
	ErrRelayClosed      = errors.New("relay connection closed")
)

// TransportError marks a store or network failure on a specific call.
// Callers may retry the individual call; it never poisons the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// CallSetupStage identifies which step of call setup failed.
type CallSetupStage string

const (
	StageRoomCreate = CallSetupStage("room_create")
	StageTokenIssue = CallSetupStage("token_issue")
)

// CallSetupError aborts StartCall before any state change. The callee is
// never rung when one of these is returned.
type CallSetupError struct {
	Stage CallSetupStage
	Err   error
}

func (e *CallSetupError) Error() string {
	return fmt.Sprintf("call setup failed at %s: %v", e.Stage, e.Err)
}

func (e *CallSetupError) Unwrap() error { return e.Err }

func NewCallSetupError(stage CallSetupStage, err error) *CallSetupError {
	return &CallSetupError{Stage: stage, Err: err}
}

// DegradedWriteError reports that a message was persisted only locally after
// a store failure. It is logged, never surfaced to the user.
type DegradedWriteError struct {
	ThreadID string
	LocalID  string
	Err      error
}

func (e *DegradedWriteError) Error() string {
	return fmt.Sprintf("degraded write in thread %s (local id %s): %v", e.ThreadID, e.LocalID, e.Err)
}

func (e *DegradedWriteError) Unwrap() error { return e.Err }
