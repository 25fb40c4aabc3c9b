package timing

import "time"

// Block is one segment's worth of character-level timing, normalized so the
// first character's offset is zero and anchored to wall-clock time when
// enqueued. Immutable once created.
type Block struct {
	chars        []string
	text         string
	runeLen      int
	words        []wordSpan
	startOffsets []time.Duration // per-character start, index-aligned with chars
	duration     time.Duration
	anchor       time.Time
}

// newBlock normalizes raw per-character timing into a Block. startsMs and
// dursMs may be empty or shorter than chars; missing timing falls back to a
// fixed per-character step so progress stays monotonic even without
// alignment data.
func newBlock(chars []string, startsMs, dursMs []int, fallbackStep time.Duration) *Block {
	text := joinChars(chars)
	b := &Block{
		chars:   chars,
		text:    text,
		runeLen: len([]rune(text)),
		words:   scanWords(text),
	}

	if len(startsMs) == 0 {
		// Coarse step-through: synthesize evenly spaced offsets.
		b.startOffsets = make([]time.Duration, len(chars))
		for i := range chars {
			b.startOffsets[i] = time.Duration(i) * fallbackStep
		}
		b.duration = time.Duration(len(chars)) * fallbackStep
		if b.duration < 100*time.Millisecond {
			b.duration = 100 * time.Millisecond
		}
		return b
	}

	first := startsMs[0]
	b.startOffsets = make([]time.Duration, len(startsMs))
	for i, s := range startsMs {
		off := s - first
		if off < 0 {
			off = 0
		}
		b.startOffsets[i] = time.Duration(off) * time.Millisecond
	}

	b.duration = b.startOffsets[len(b.startOffsets)-1]
	if len(dursMs) > 0 {
		b.duration += time.Duration(dursMs[len(dursMs)-1]) * time.Millisecond
	}
	if b.duration <= 0 {
		b.duration = 100 * time.Millisecond
	}
	return b
}

// charIndexAt returns the index of the character active at the given elapsed
// time since the block's anchor. Offsets are sorted and blocks are short, so
// a linear scan is enough.
func (b *Block) charIndexAt(elapsed time.Duration) int {
	if len(b.startOffsets) == 0 {
		return 0
	}
	i := 0
	for i+1 < len(b.startOffsets) && b.startOffsets[i+1] <= elapsed {
		i++
	}
	return i
}

// Duration returns the block's total scheduled duration.
func (b *Block) Duration() time.Duration {
	return b.duration
}

// Anchor returns the wall-clock instant the block is scheduled to start.
func (b *Block) Anchor() time.Time {
	return b.anchor
}
