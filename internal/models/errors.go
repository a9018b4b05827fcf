package models

import (
	"errors"
	"fmt"
)

// ErrAuthRejected means the token was refused during connect. Terminal for
// that session instance; the caller must re-authenticate and open a new one.
var ErrAuthRejected = errors.New("authentication rejected")

// ErrSessionClosed means the session was explicitly closed and accepts no
// further transitions.
var ErrSessionClosed = errors.New("session closed")

// TransportError wraps a recoverable connect/heartbeat/frame failure on the
// streaming connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SendFailure wraps a failed REST send. The affected message stays in the
// view with StatusFailed so the user can see it and retry.
type SendFailure struct {
	ChannelID int64
	Err       error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to channel %d failed: %v", e.ChannelID, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// ParseError reports a malformed inbound frame or history item. The offending
// item is skipped and logged, never fatal to the session.
type ParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
