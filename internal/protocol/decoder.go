package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Decoder turns raw websocket messages into typed Segments. It holds no
// per-connection state; one Decoder can serve any number of connections.
type Decoder struct {
	logger zerolog.Logger
}

// NewDecoder creates a decoder that reports recovered errors on the given logger.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Decode parses one incoming message. binary reports whether the transport
// delivered the message as a binary frame.
//
// Decode never fails: malformed audio encodings yield an empty-audio segment,
// unparseable binary frames pass through as raw audio, and unparseable text
// frames are dropped with a diagnostic.
func (d *Decoder) Decode(data []byte, binary bool) Segment {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if binary {
			d.logger.Debug().Int("bytes", len(data)).Msg("Binary frame passed through as raw audio")
			return Segment{Kind: KindRaw, Audio: data}
		}
		d.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping unparseable text message")
		return Segment{Kind: KindDropped}
	}

	seg := Segment{IsFinal: msg.IsFinal, StreamID: msg.StreamID}

	if msg.Audio == "" {
		if msg.IsFinal {
			seg.Kind = KindFinal
			return seg
		}
		seg.Kind = KindDropped
		return seg
	}

	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		// Invalid encoding is recoverable: keep the segment's shape so the
		// session still advances, just without audio bytes.
		d.logger.Warn().Err(err).Msg("Failed to decode audio payload, treating as empty")
		audio = nil
	}
	seg.Audio = audio

	if alignmentAbsent(msg.Alignment) {
		seg.Kind = KindSeparator
		return seg
	}

	var alignment Alignment
	if err := json.Unmarshal(msg.Alignment, &alignment); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to parse alignment, treating segment as separator")
		seg.Kind = KindSeparator
		return seg
	}

	seg.Kind = KindAudio
	seg.Alignment = &alignment
	return seg
}

// alignmentAbsent reports whether the alignment field was missing or
// explicitly null, which marks the segment as a separator frame.
func alignmentAbsent(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
