package protocol

import "encoding/json"

// StreamRequest is the initiation message sent after a websocket connection
// opens. Position is the absolute character offset the server should resume
// from; StreamID correlates all messages belonging to one connection.
type StreamRequest struct {
	StreamID string `json:"stream_id"`
	Position int    `json:"position"`
}

// streamMessage mirrors the server's wire shape. Alignment is kept raw so a
// missing field and an explicit null can both be recognized before decoding.
type streamMessage struct {
	Audio     string          `json:"audio"`
	Alignment json.RawMessage `json:"alignment"`
	IsFinal   bool            `json:"isFinal"`
	StreamID  string          `json:"streamId"`
}

// Alignment carries per-character timing for one segment's audio.
// The three slices are index-aligned.
type Alignment struct {
	Chars            []string `json:"chars"`
	CharStartTimesMs []int    `json:"charStartTimesMs"`
	CharDurationsMs  []int    `json:"charDurationsMs"`
}

// CharCount returns the number of characters this alignment spans.
func (a *Alignment) CharCount() int {
	if a == nil {
		return 0
	}
	return len(a.Chars)
}

// Kind tags the decoded form of one incoming message.
type Kind int

const (
	// KindAudio is an audio segment with per-character alignment.
	KindAudio Kind = iota
	// KindSeparator is audio whose alignment field was empty or null,
	// typically a pause between paragraphs. It carries no character range.
	KindSeparator
	// KindFinal is the server's end-of-connection marker with no audio.
	KindFinal
	// KindRaw is a binary frame that did not parse as JSON; its payload is
	// passed through as opaque audio.
	KindRaw
	// KindDropped is an unparseable or empty text message; it produces no
	// output.
	KindDropped
)

// Segment is one decoded unit of server output.
type Segment struct {
	Kind      Kind
	Audio     []byte
	Alignment *Alignment // nil unless Kind == KindAudio
	IsFinal   bool       // server signaled end of this connection
	StreamID  string
}

// CharCount returns the number of document characters this segment covers.
// Separators and raw frames cover zero characters.
func (s Segment) CharCount() int {
	return s.Alignment.CharCount()
}
