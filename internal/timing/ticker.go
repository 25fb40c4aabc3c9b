package timing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxreader/reader-stream/internal/observability"
)

// HighlightEvent reports that the highlighted word changed. WindowText is a
// few words of context around the word; Start and End are the highlighted
// word's offsets within WindowText.
type HighlightEvent struct {
	WindowText string
	Start      int
	End        int
	BlockIndex int
	At         time.Time
}

// TickerConfig holds tuning for the highlight ticker.
type TickerConfig struct {
	TickHz       int           // Update rate; clamped to at least 10 Hz
	AnchorPad    time.Duration // Pad between chained blocks to absorb jitter
	FallbackStep time.Duration // Per-char step when a block has no timing data
	WordsBefore  int           // Context words before the highlighted word
	WordsAfter   int           // Context words after the highlighted word
}

// DefaultTickerConfig returns the ticker defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		TickHz:       30,
		AnchorPad:    50 * time.Millisecond,
		FallbackStep: 40 * time.Millisecond,
		WordsBefore:  8,
		WordsAfter:   8,
	}
}

// Ticker turns timing blocks, each timestamped relative to its own start,
// into one continuous monotonically advancing highlighted-word signal,
// decoupled from network arrival timing.
//
// Blocks are chained onto a single forward-only wall-clock timeline: each
// block's anchor is placed at or after the previous block's end plus a fixed
// pad, so highlights never overlap or run backwards even when the network
// delivers timing metadata in bursts.
type Ticker struct {
	cfg    TickerConfig
	tickDt time.Duration
	logger zerolog.Logger

	mu         sync.Mutex
	blocks     []*Block
	nextAnchor time.Time

	events  chan HighlightEvent
	stopped chan struct{}
	stop    sync.Once
}

// NewTicker creates a highlight ticker. Run must be called for events to flow.
func NewTicker(cfg TickerConfig, logger zerolog.Logger) *Ticker {
	hz := cfg.TickHz
	if hz < 10 {
		hz = 10
	}
	return &Ticker{
		cfg:     cfg,
		tickDt:  time.Second / time.Duration(hz),
		logger:  logger,
		events:  make(chan HighlightEvent, 64),
		stopped: make(chan struct{}),
	}
}

// Enqueue chains a block's timing onto the timeline. Safe to call from any
// goroutine; typically called from the streaming session's receive loop while
// the ticker drains on its own schedule.
func (t *Ticker) Enqueue(chars []string, startsMs, dursMs []int) {
	if len(chars) == 0 {
		return
	}

	block := newBlock(chars, startsMs, dursMs, t.cfg.FallbackStep)

	t.mu.Lock()
	now := time.Now()
	anchor := now
	if !t.nextAnchor.IsZero() && t.nextAnchor.After(now) {
		anchor = t.nextAnchor
	}
	block.anchor = anchor
	t.nextAnchor = anchor.Add(block.duration + t.cfg.AnchorPad)
	t.blocks = append(t.blocks, block)
	t.mu.Unlock()

	observability.RecordTimingBlockQueued()
}

// Events returns the channel highlight events are emitted on. The channel is
// closed when the ticker terminates.
func (t *Ticker) Events() <-chan HighlightEvent {
	return t.events
}

// Stop requests termination. Remaining queued blocks are discarded without
// emitting further events. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stop.Do(func() { close(t.stopped) })
}

// Run drives the ticker until ctx is cancelled or Stop is called. It is the
// only part of the system that sleeps on wall-clock time.
func (t *Ticker) Run(ctx context.Context) {
	defer close(t.events)

	tick := time.NewTicker(t.tickDt)
	defer tick.Stop()

	curBlock := 0
	lastWord := -2 // distinct from the -1 "no word" result

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopped:
			return
		case <-tick.C:
		}

		t.mu.Lock()
		var blk *Block
		if curBlock < len(t.blocks) {
			blk = t.blocks[curBlock]
		}
		t.mu.Unlock()

		if blk == nil {
			// No block ready yet; idle until one arrives.
			continue
		}

		now := time.Now()
		elapsed := now.Sub(blk.anchor)
		if elapsed < 0 {
			continue
		}
		if elapsed >= blk.duration {
			curBlock++
			lastWord = -2
			continue
		}

		charIdx := blk.charIndexAt(elapsed)
		wordIdx := wordIndexAt(blk.words, blk.runeLen, charIdx)
		if wordIdx < 0 || wordIdx == lastWord {
			continue
		}
		lastWord = wordIdx

		window, start, end := highlightWindow(blk.text, blk.words, wordIdx, t.cfg.WordsBefore, t.cfg.WordsAfter)
		event := HighlightEvent{
			WindowText: window,
			Start:      start,
			End:        end,
			BlockIndex: curBlock,
			At:         now,
		}

		select {
		case t.events <- event:
			observability.RecordHighlightEvent()
		default:
			// Display consumer fell behind; skipping one highlight beats
			// blocking the timeline.
			t.logger.Debug().Msg("Highlight channel full, dropping event")
		}
	}
}

// QueuedBlocks reports how many blocks are currently queued, including the
// one being played.
func (t *Ticker) QueuedBlocks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.blocks)
}
