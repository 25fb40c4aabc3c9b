package stream

import (
	"context"
	"errors"
	"time"
)

// ErrIdleTimeout is returned by Conn.ReadMessage when no message arrived
// within the receive-wait window. It marks a natural pause point, not a
// transport failure.
var ErrIdleTimeout = errors.New("stream: idle timeout waiting for message")

// ErrConnectionBudgetExhausted is returned when the hard connection ceiling
// is reached before the document completed. Partial audio accepted so far
// remains available to the caller.
var ErrConnectionBudgetExhausted = errors.New("stream: connection ceiling reached before document completed")

// Conn is one live bidirectional message channel to the server. The
// initiation message has already been sent by the factory.
type Conn interface {
	// ReadMessage blocks for up to timeout for the next message. binary
	// reports whether the transport framed the message as binary. A timeout
	// surfaces as ErrIdleTimeout; anything else is an abnormal close.
	ReadMessage(timeout time.Duration) (data []byte, binary bool, err error)
	Close() error
}

// ConnectionFactory opens a connection resuming at the given absolute
// character position, correlated by streamID.
type ConnectionFactory interface {
	Dial(ctx context.Context, position int, streamID string) (Conn, error)
}

// ConnectError is the typed failure surfaced when a connection cannot be
// established.
type ConnectError struct {
	Position int
	Err      error
}

func (e *ConnectError) Error() string {
	return "stream: connect failed: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TimingSink receives accepted per-character timing metadata, index-aligned
// slices of characters, start times and durations in milliseconds.
type TimingSink interface {
	Enqueue(chars []string, startsMs, dursMs []int)
}

// ProgressSink durably records confirmed document progress. Best-effort:
// failures are logged but never fatal to streaming.
type ProgressSink interface {
	Update(ctx context.Context, documentID string, position int) error
}

// LengthOracle reports the document's total character count when known.
// Absence is a supported, degraded mode.
type LengthOracle interface {
	Length(ctx context.Context, documentID string) (int, bool)
}

// SessionState is the terminal state of one connection's lifecycle.
type SessionState int

const (
	// StateRolledOver is a planned, voluntary end of the connection; the
	// document continues on a fresh connection.
	StateRolledOver SessionState = iota
	// StateFinalized means the document is exhausted.
	StateFinalized
	// StateFailed is an unplanned connection failure, retried by the
	// orchestrator at the same position.
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateRolledOver:
		return "rolled_over"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// RolloverTrigger records which condition ended a rolled-over connection.
type RolloverTrigger string

const (
	TriggerNone        RolloverTrigger = ""
	TriggerIdle        RolloverTrigger = "idle"
	TriggerBudget      RolloverTrigger = "budget"
	TriggerServerFinal RolloverTrigger = "server_final"
)

// SessionResult is what one connection reports back to the orchestrator.
type SessionResult struct {
	State            SessionState
	Trigger          RolloverTrigger
	NewPosition      int // confirmed absolute position after this connection
	AcceptedBytes    int
	AcceptedSegments int
	DroppedSegments  int
	Err              error
}

// StopReason tags the orchestrator's per-connection continuation decision.
type StopReason int

const (
	// ContinueStreaming starts another connection.
	ContinueStreaming StopReason = iota
	// StopLengthReached means confirmed progress covers the known document length.
	StopLengthReached
	// StopNoProgress means a clean connection end produced no new position;
	// without a length oracle this is the best-effort completion signal.
	StopNoProgress
	// StopFatal means the connection ceiling was exhausted.
	StopFatal
)

func (r StopReason) String() string {
	switch r {
	case ContinueStreaming:
		return "continue"
	case StopLengthReached:
		return "length_reached"
	case StopNoProgress:
		return "no_progress"
	case StopFatal:
		return "fatal"
	}
	return "unknown"
}
