package stream

// GateDecision is the outcome of running one segment's character range
// through the overlap gate.
type GateDecision int

const (
	// GateAccept admits the segment's audio in full.
	GateAccept GateDecision = iota
	// GateReject drops the segment's audio in full. Audio is never spliced
	// mid-block because sub-block byte/character correspondence is not
	// reliable.
	GateReject
)

// Decide applies the duplicate-suppression policy for one segment.
//
// A reconnecting server may resend the tail of the previous connection's last
// segment. Accepting a block that ends at or before the confirmed position
// would replay audio; accepting one that straddles it would splice a partial
// block. Both are rejected whole, trading a small amount of lost audio for
// guaranteed no-duplication.
//
// Empty ranges (blockStart == blockEnd) are always accepted: separator frames
// carry audio but no character progress.
func Decide(blockStart, blockEnd, confirmedPosition int) GateDecision {
	if blockStart == blockEnd {
		return GateAccept
	}
	if blockEnd <= confirmedPosition {
		return GateReject
	}
	if blockStart < confirmedPosition && confirmedPosition < blockEnd {
		return GateReject
	}
	return GateAccept
}

// Advance returns the confirmed position after accepting a block ending at
// blockEnd. The position never decreases.
func Advance(confirmedPosition, blockEnd int) int {
	if blockEnd > confirmedPosition {
		return blockEnd
	}
	return confirmedPosition
}
