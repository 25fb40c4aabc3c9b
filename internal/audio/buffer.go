package audio

import (
	"io"
	"sync"
)

// Buffer accumulates accepted audio bytes in acceptance order. It is written
// by the active streaming connection and read out once at completion, but
// stays safe for concurrent use so a playback tee can lag behind the writer.
type Buffer struct {
	mu   sync.RWMutex
	data []byte
	tee  io.Writer
}

// NewBuffer creates an empty output buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// NewBufferWithTee creates a buffer that also forwards every accepted chunk
// to the given writer, typically a real-time playback sink. Tee write errors
// disable the tee but never fail the buffer write; losing live playback must
// not lose the document's audio.
func NewBufferWithTee(tee io.Writer) *Buffer {
	return &Buffer{tee: tee}
}

// Write appends a chunk to the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	b.data = append(b.data, p...)
	tee := b.tee
	b.mu.Unlock()

	if tee != nil {
		if _, err := tee.Write(p); err != nil {
			b.mu.Lock()
			b.tee = nil
			b.mu.Unlock()
		}
	}

	return len(p), nil
}

// Bytes returns a copy of everything accepted so far.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the number of bytes accepted so far.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
