package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for agent operations.
var (
	// ErrInvalidInput indicates an empty or malformed prompt/message,
	// rejected before any process is spawned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLaunch indicates the agent subprocess failed to start.
	ErrLaunch = errors.New("agent process failed to start")

	// ErrCommunication indicates an I/O failure mid-exchange.
	ErrCommunication = errors.New("agent process communication failed")

	// ErrTimeout indicates an operation exceeded its configured duration.
	// The subprocess is always killed on this path, never left running.
	ErrTimeout = errors.New("operation timed out")

	// ErrSessionClosed indicates an operation on a session that is no
	// longer active.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionNotFound indicates an unknown or expired session id.
	// Expired and never-existing ids are observably identical.
	ErrSessionNotFound = errors.New("session not found")

	// ErrManagerClosed indicates an operation after manager shutdown.
	ErrManagerClosed = errors.New("session manager is shut down")

	// ErrStreamClosed indicates a pull on a stream after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// Error wraps agent errors with operation context.
type Error struct {
	Op        string // Operation that failed ("create", "send", "stream")
	SessionID string // Session involved, if any
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("agent %s [%s]: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("agent %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, sessionID string, err error) *Error {
	return &Error{Op: op, SessionID: sessionID, Err: err}
}
