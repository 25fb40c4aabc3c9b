package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxreader/reader-stream/internal/observability"
	"github.com/voxreader/reader-stream/internal/resilience"
)

// OrchestratorConfig bounds the reconnect loop.
type OrchestratorConfig struct {
	// MaxConnections is the hard ceiling on connection attempts per run, a
	// safety valve against reconnect storms.
	MaxConnections int
	// Backoff governs delays between failed connection attempts.
	Backoff *resilience.BackoffConfig
	// Session is the per-connection policy.
	Session SessionConfig
}

// DefaultOrchestratorConfig returns the reconnect loop defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConnections: 64,
		Backoff:        resilience.DefaultBackoffConfig(),
		Session:        DefaultSessionConfig(),
	}
}

// RunResult summarizes one completed streaming run.
type RunResult struct {
	Reason        StopReason
	FinalPosition int
	Connections   int
	AcceptedBytes int
	TotalLength   int
	LengthKnown   bool
}

// Orchestrator owns the reconnect loop and the confirmed absolute position.
// Sessions read the position to seed each connection and report the new one;
// only the orchestrator ever moves it, and only forward.
type Orchestrator struct {
	session  *Session
	progress ProgressSink
	oracle   LengthOracle
	cfg      OrchestratorConfig
	metrics  *observability.StreamMetrics
	logger   zerolog.Logger
}

// NewOrchestrator creates a reconnect loop around the given session runner.
// progress and oracle may be nil; both are advisory.
func NewOrchestrator(session *Session, progress ProgressSink, oracle LengthOracle, cfg OrchestratorConfig, metrics *observability.StreamMetrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		session:  session,
		progress: progress,
		oracle:   oracle,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run streams the document from startPos until completion, a heuristic
// no-progress stop, or a fatal exhaustion of the connection ceiling. Partial
// audio already written to the session's output remains valid on error.
func (o *Orchestrator) Run(ctx context.Context, documentID string, startPos int) (*RunResult, error) {
	// requestPos is what the server is asked to stream from; it only moves
	// after a clean rollover. confirmed tracks accepted progress and may run
	// ahead of requestPos while a failed connection is being retried, which is
	// what arms the overlap gate against redelivered audio.
	requestPos := startPos
	confirmed := startPos
	totalLen, haveLen := 0, false
	if o.oracle != nil {
		totalLen, haveLen = o.oracle.Length(ctx, documentID)
	}
	o.logger.Info().
		Str("document_id", documentID).
		Int("start_position", startPos).
		Int("total_length", totalLen).
		Bool("length_known", haveLen).
		Msg("Starting document stream")

	result := &RunResult{TotalLength: totalLen, LengthKnown: haveLen}
	priorAccepted := false
	failures := 0
	acceptedBytes := 0

	for connection := 1; connection <= o.cfg.MaxConnections; connection++ {
		if haveLen && confirmed >= totalLen {
			o.persistProgress(ctx, documentID, totalLen)
			result.Connections = connection - 1
			result.Reason = StopLengthReached
			result.FinalPosition = confirmed
			result.AcceptedBytes = acceptedBytes
			o.logger.Info().Int("position", confirmed).Msg("Document streaming complete")
			return result, nil
		}

		result.Connections = connection
		logger := o.logger.With().Int("connection", connection).Logger()
		logger.Debug().Int("position", requestPos).Int("confirmed", confirmed).Msg("Starting connection")

		res := o.session.Run(ctx, requestPos, confirmed)
		prev := confirmed
		// Progress is taken even from failed connections: their accepted
		// audio is already in the output, so regressing the position would
		// replay it.
		confirmed = Advance(confirmed, res.NewPosition)
		acceptedBytes += res.AcceptedBytes
		if res.AcceptedSegments > 0 {
			priorAccepted = true
		}

		if confirmed > prev {
			o.persistProgress(ctx, documentID, confirmed)
		}

		// A dead connection that accepted nothing once the known length is
		// covered is document exhaustion, not a failure.
		if res.State == StateFailed && res.AcceptedSegments == 0 && haveLen && confirmed >= totalLen {
			res.State = StateFinalized
		}

		reason := evaluateOutcome(res, requestPos, confirmed, totalLen, haveLen)
		logger.Debug().
			Str("state", res.State.String()).
			Str("trigger", string(res.Trigger)).
			Str("decision", reason.String()).
			Int("position", confirmed).
			Msg("Connection ended")

		switch reason {
		case ContinueStreaming:
			if res.State == StateFailed {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				failures++
				delay := o.cfg.Backoff.Delay(failures - 1)
				o.metrics.RecordBackoff(delay)
				logger.Info().Dur("backoff", delay).Err(res.Err).Msg("Backing off before reconnect")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			} else {
				failures = 0
				requestPos = confirmed
			}

		case StopLengthReached:
			o.persistProgress(ctx, documentID, totalLen)
			result.Reason = StopLengthReached
			result.FinalPosition = confirmed
			result.AcceptedBytes = acceptedBytes
			o.logger.Info().Int("position", confirmed).Msg("Document streaming complete")
			return result, nil

		case StopNoProgress:
			// Best-effort completion heuristic when the oracle is silent: a
			// clean connection end with nothing new, after earlier progress,
			// is read as document exhausted. May terminate early on an
			// unreachable oracle; the caller keeps all audio produced.
			result.Reason = StopNoProgress
			result.FinalPosition = confirmed
			result.AcceptedBytes = acceptedBytes
			o.logger.Info().
				Int("position", confirmed).
				Bool("prior_accepted", priorAccepted).
				Msg("No further progress, ending stream")
			return result, nil
		}
	}

	result.Reason = StopFatal
	result.FinalPosition = confirmed
	result.AcceptedBytes = acceptedBytes
	o.logger.Error().
		Int("connections", o.cfg.MaxConnections).
		Int("position", confirmed).
		Msg("Connection ceiling reached before document completed")
	return result, fmt.Errorf("%w: stopped at position %d after %d connections",
		ErrConnectionBudgetExhausted, confirmed, o.cfg.MaxConnections)
}

// evaluateOutcome maps one connection outcome onto the continuation
// decision. Pure function so termination logic is auditable apart from
// network code.
func evaluateOutcome(res SessionResult, requestPos, confirmed, totalLen int, haveLen bool) StopReason {
	if haveLen && confirmed >= totalLen {
		return StopLengthReached
	}

	switch res.State {
	case StateFinalized:
		return StopLengthReached

	case StateRolledOver:
		if confirmed > requestPos {
			return ContinueStreaming
		}
		// A clean end with no new position: nothing left to stream.
		return StopNoProgress

	case StateFailed:
		// Transient failures retry at the same position; the ceiling in the
		// run loop bounds them.
		return ContinueStreaming
	}

	return ContinueStreaming
}

func (o *Orchestrator) persistProgress(ctx context.Context, documentID string, position int) {
	if o.progress == nil {
		return
	}
	if err := o.progress.Update(ctx, documentID, position); err != nil {
		o.metrics.RecordProgressUpdate(false)
		o.logger.Debug().Err(err).Int("position", position).Msg("Progress update failed (non-fatal)")
		return
	}
	o.metrics.RecordProgressUpdate(true)
}
