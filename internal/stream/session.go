package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxreader/reader-stream/internal/observability"
	"github.com/voxreader/reader-stream/internal/protocol"
)

// SessionConfig holds the per-connection policy knobs.
type SessionConfig struct {
	// IdleTimeout is the receive-wait window. Expiry with at least one
	// accepted segment is treated as a natural pause point and rolls the
	// connection over.
	IdleTimeout time.Duration
	// CharBudget is the accepted-character target per connection. The server
	// caps useful throughput per connection; rolling over at the budget
	// avoids a server-side forced close arriving mid-segment.
	CharBudget int
	// CharBudgetHardCap bounds total characters seen per connection,
	// accepted or not, so a connection replaying rejected data cannot run
	// unbounded.
	CharBudgetHardCap int
}

// DefaultSessionConfig returns the observed-protocol defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:       1500 * time.Millisecond,
		CharBudget:        1348,
		CharBudgetHardCap: 1600,
	}
}

// connectionState holds one connection's mutable counters. Created at
// connection start, destroyed at connection end, never shared across
// connections.
type connectionState struct {
	cumulativeChars int // all alignment chars seen, accepted or not
	acceptedChars   int
	acceptedBytes   int
	acceptedSegs    int
	droppedSegs     int
	budgetReached   bool
}

// Session owns one physical connection: it dials through the factory, pumps
// incoming messages through the decoder, gates audio against the confirmed
// position, and reports accepted bytes plus the new absolute position.
type Session struct {
	factory ConnectionFactory
	decoder *protocol.Decoder
	out     io.Writer
	timing  TimingSink // may be nil when highlighting is disabled
	cfg     SessionConfig
	metrics *observability.StreamMetrics
	logger  zerolog.Logger
}

// NewSession creates a session runner. The same Session may run any number
// of sequential connections.
func NewSession(factory ConnectionFactory, decoder *protocol.Decoder, out io.Writer, timing TimingSink, cfg SessionConfig, metrics *observability.StreamMetrics, logger zerolog.Logger) *Session {
	return &Session{
		factory: factory,
		decoder: decoder,
		out:     out,
		timing:  timing,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Run executes one connection and returns its terminal result.
//
// startPos is the absolute position the server is asked to stream from;
// confirmed is the durable accepted progress the overlap gate protects. They
// differ after a failed connection that accepted data before dying: the retry
// re-requests the old position and the gate drops everything the server
// redelivers below confirmed.
func (s *Session) Run(ctx context.Context, startPos, confirmed int) SessionResult {
	if confirmed < startPos {
		confirmed = startPos
	}

	streamID := strings.ToUpper(uuid.New().String())
	logger := s.logger.With().Str("stream_id", streamID).Int("position", startPos).Logger()

	conn, err := s.factory.Dial(ctx, startPos, streamID)
	if err != nil {
		logger.Warn().Err(err).Msg("Connect failed")
		return SessionResult{
			State:       StateFailed,
			NewPosition: confirmed,
			Err:         &ConnectError{Position: startPos, Err: err},
		}
	}
	defer conn.Close()

	s.metrics.RecordConnectionStart()
	logger.Debug().Msg("Connection established")

	state := &connectionState{}

	for {
		select {
		case <-ctx.Done():
			s.metrics.RecordConnectionEnd(StateFailed.String())
			return s.result(StateFailed, TriggerNone, confirmed, state, ctx.Err())
		default:
		}

		data, binary, err := conn.ReadMessage(s.cfg.IdleTimeout)
		if err != nil {
			if errors.Is(err, ErrIdleTimeout) {
				// A pause with data already accepted is a natural rollover
				// point; with nothing accepted yet, keep waiting.
				if state.acceptedSegs > 0 {
					logger.Debug().Int("accepted_chars", state.acceptedChars).Msg("Idle with data this connection, rolling over")
					return s.rollover(TriggerIdle, confirmed, state)
				}
				continue
			}
			logger.Warn().Err(err).Int("accepted_segments", state.acceptedSegs).Msg("Connection closed abnormally")
			s.metrics.RecordConnectionEnd(StateFailed.String())
			return s.result(StateFailed, TriggerNone, confirmed, state, err)
		}

		seg := s.decoder.Decode(data, binary)

		switch seg.Kind {
		case protocol.KindDropped:
			s.metrics.RecordDecodeError()
			continue

		case protocol.KindFinal:
			// End of this connection's segment, not end of document.
			logger.Debug().Msg("Server signaled end of connection")
			return s.rollover(TriggerServerFinal, confirmed, state)

		case protocol.KindRaw:
			// Opaque binary frame: appended as-is, zero position advance.
			s.appendAudio(seg.Audio, state)
			s.metrics.RecordSegment("unrecognized")

		case protocol.KindAudio, protocol.KindSeparator:
			confirmed = s.handleAudio(seg, startPos, confirmed, state, logger)
		}

		if seg.IsFinal {
			logger.Debug().Msg("Server signaled end of connection")
			return s.rollover(TriggerServerFinal, confirmed, state)
		}
		if state.budgetReached {
			logger.Debug().
				Int("accepted_chars", state.acceptedChars).
				Int("cumulative_chars", state.cumulativeChars).
				Msg("Character budget reached, rolling over")
			return s.rollover(TriggerBudget, confirmed, state)
		}
	}
}

// handleAudio runs one audio or separator segment through the overlap gate
// and returns the updated confirmed position.
func (s *Session) handleAudio(seg protocol.Segment, startPos, confirmed int, state *connectionState, logger zerolog.Logger) int {
	segChars := seg.CharCount()

	// Block ranges derive from the connection's start plus everything seen on
	// it, independent of gating, because the server streams contiguously from
	// the requested position.
	blockStart := startPos + state.cumulativeChars
	blockEnd := blockStart + segChars
	state.cumulativeChars += segChars

	if Decide(blockStart, blockEnd, confirmed) == GateReject {
		state.droppedSegs++
		s.metrics.RecordSegment("dropped")
		logger.Debug().
			Int("block_start", blockStart).
			Int("block_end", blockEnd).
			Int("confirmed", confirmed).
			Msg("Dropped overlapping block")
	} else {
		s.appendAudio(seg.Audio, state)
		if seg.Kind == protocol.KindSeparator {
			s.metrics.RecordSegment("separator")
		} else {
			s.metrics.RecordSegment("accepted")
		}

		if segChars > 0 {
			state.acceptedChars += segChars
			confirmed = Advance(confirmed, blockEnd)

			if s.timing != nil && seg.Alignment != nil && len(seg.Audio) > 0 {
				s.timing.Enqueue(seg.Alignment.Chars, seg.Alignment.CharStartTimesMs, seg.Alignment.CharDurationsMs)
			}
		}
	}

	if !state.budgetReached && state.acceptedChars >= s.cfg.CharBudget {
		state.budgetReached = true
	}
	if !state.budgetReached && state.cumulativeChars >= s.cfg.CharBudgetHardCap {
		state.budgetReached = true
	}

	return confirmed
}

func (s *Session) appendAudio(audio []byte, state *connectionState) {
	if len(audio) == 0 {
		// Decode failures arrive here as empty segments; they still count as
		// accepted so idle handling sees a live connection.
		state.acceptedSegs++
		return
	}
	// The buffer write cannot fail; io.Writer is used so tests can substitute.
	n, _ := s.out.Write(audio)
	state.acceptedBytes += n
	state.acceptedSegs++
	s.metrics.RecordAudioBytes(n)
}

func (s *Session) rollover(trigger RolloverTrigger, confirmed int, state *connectionState) SessionResult {
	s.metrics.RecordRollover(string(trigger))
	s.metrics.RecordConnectionEnd(StateRolledOver.String())
	return s.result(StateRolledOver, trigger, confirmed, state, nil)
}

func (s *Session) result(st SessionState, trigger RolloverTrigger, confirmed int, state *connectionState, err error) SessionResult {
	return SessionResult{
		State:            st,
		Trigger:          trigger,
		NewPosition:      confirmed,
		AcceptedBytes:    state.acceptedBytes,
		AcceptedSegments: state.acceptedSegs,
		DroppedSegments:  state.droppedSegs,
		Err:              err,
	}
}
