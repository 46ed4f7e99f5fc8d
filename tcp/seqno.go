package tcp

// Value is a TCP sequence number or acknowledgment number: a 32 bit value
// living in the modular ring of sequence space. All comparisons between
// Values must go through the methods below instead of native operators;
// a naive a < b breaks the moment the ring wraps around 2**32.
type Value uint32

// Size is a length in sequence-space octets: segment payload size plus
// the unit contributed by SYN/FIN control bits.
type Size uint32

// Add returns v advanced by n octets of sequence space, wrapping modulo 2**32.
func Add(v Value, n Size) Value {
	return v + Value(n)
}

// Sub returns the number of octets from a to b going forward in sequence
// space, i.e. the n for which Add(a, n) == b.
func Sub(b, a Value) Size {
	return Size(b - a)
}

// LessThan reports whether v precedes w in sequence space, i.e. w is
// reachable from v by advancing a nonzero number of octets less than
// half the ring (2**31). This is the `a <? b` primitive the three-point
// comparisons below are built from.
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// LessThanEq reports whether v precedes or equals w in sequence space.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow reports whether v lies in the half-open window [nxt, nxt+wnd).
// Used for both the receive window (rcv.nxt, rcv.wnd) and the send window
// (snd.una, snd.wnd) depending on which pair of values is passed in.
func (v Value) InWindow(nxt Value, wnd Size) bool {
	return leLt(nxt, v, Add(nxt, wnd))
}

// leLt reports whether b is in the half-open interval [a, c): the
// seq_no_le_lt primitive from the source, i.e. "a <= b < c" under modular
// arithmetic. When a == c the interval is empty and no b is in it, so a
// zero-length window contains no sequence number.
func leLt(a, b, c Value) bool {
	if a.LessThanEq(c) {
		return a.LessThanEq(b) && b.LessThan(c)
	}
	// Wrapped interval: [a, maxValue] union [0, c).
	return a.LessThanEq(b) || b.LessThan(c)
}

// ltLe reports whether b is in the half-open-on-the-left interval (a, c]:
// the seq_no_lt_le primitive, i.e. "a < b <= c".
func ltLe(a, b, c Value) bool {
	if a.LessThan(c) || a == c {
		return a.LessThan(b) && b.LessThanEq(c)
	}
	return a.LessThan(b) || b.LessThanEq(c)
}

// ackAcceptable reports whether ack acknowledges new data: snd.una < ack <= snd.nxt.
func ackAcceptable(ack, sndUNA, sndNXT Value) bool {
	return ltLe(sndUNA, ack, sndNXT)
}

// ackDuplicate reports whether ack does not acknowledge anything new,
// i.e. ack <= snd.una. Implemented via signed difference, matching the
// heuristic in the source: a duplicate ack, when subtracted from una,
// yields a value whose sign bit is set (or zero).
func ackDuplicate(ack, sndUNA Value) bool {
	diff := int32(ack - sndUNA)
	return diff <= 0
}

// inRcvWnd reports whether sn falls inside the advertised receive window.
func inRcvWnd(sn, rcvNXT Value, rcvWND Size) bool {
	return sn.InWindow(rcvNXT, rcvWND)
}

// segmentAcceptable implements the RFC 793 acceptability table for an
// incoming segment against the current receive window, handling the four
// combinations of (seg len, rcv wnd) being zero or nonzero.
func segmentAcceptable(seq Value, segLen Size, rcvNXT Value, rcvWND Size) bool {
	switch {
	case segLen == 0 && rcvWND == 0:
		return seq == rcvNXT
	case segLen == 0 && rcvWND > 0:
		return inRcvWnd(seq, rcvNXT, rcvWND)
	case segLen > 0 && rcvWND == 0:
		return false
	default:
		last := Add(seq, segLen-1)
		beginIn := inRcvWnd(seq, rcvNXT, rcvWND)
		endIn := inRcvWnd(last, rcvNXT, rcvWND)
		straddles := seq.LessThanEq(rcvNXT) && rcvNXT.LessThan(Add(seq, segLen))
		return beginIn || endIn || straddles
	}
}

// segmentReady reports whether seq..seq+len intersects rcv.nxt, i.e. the
// segment either starts at rcv.nxt or already straddles it; such a
// segment can be delivered without waiting on any other queued segment.
func segmentReady(seq Value, segLen Size, rcvNXT Value) bool {
	return seq.LessThanEq(rcvNXT) && rcvNXT.LessThan(Add(seq, segLen+1))
}

// newWndUpdate reports whether seg carries a send-window update that is
// newer than the last one applied, per RFC 793's SND.WL1/SND.WL2 rule.
// Only called on segments that already passed ackAcceptable/acceptable
// checks for the current state.
func newWndUpdate(seq, ack, sndWL1, sndWL2 Value) bool {
	return sndWL1.LessThan(seq) || (sndWL1 == seq && sndWL2.LessThanEq(ack))
}

// controlLen returns the number of sequence-space octets contributed by
// control bits alone: 1 for SYN, 1 for FIN, before any payload.
func controlLen(f Flags) Size {
	var n Size
	if f.HasAny(FlagSYN) {
		n++
	}
	if f.HasAny(FlagFIN) {
		n++
	}
	return n
}

// segTrimCalc computes how many sequence-space octets must be trimmed from
// the left and right of a segment occupying [seq, seq+segLen) so that it
// fits entirely inside the receive window [rcvNXT, rcvNXT+rcvWND).
func segTrimCalc(seq Value, segLen Size, rcvNXT Value, rcvWND Size) (left, right Size) {
	wndEnd := Add(rcvNXT, rcvWND)
	segEnd := Add(seq, segLen)

	if seq.LessThan(rcvNXT) && rcvNXT.LessThanEq(segEnd) {
		left = Sub(rcvNXT, seq)
	} else if seq.LessThan(rcvNXT) {
		// Segment entirely before the window; trim it all from the left.
		left = segLen
	}

	if wndEnd.LessThan(segEnd) && seq.LessThanEq(wndEnd) {
		right = Sub(segEnd, wndEnd)
	} else if wndEnd.LessThan(seq) {
		// Segment entirely after the window; trim it all from the right.
		right = segLen
	}

	if left+right > segLen {
		// Degenerate window (e.g. rcvWND == 0): trimming from both ends
		// would overlap. Collapse to a full left-trim, producing a
		// zero-length segment anchored past the window.
		left = segLen
		right = 0
	}
	return left, right
}

// segCmp orders two acceptable segments by sequence number for iqueue
// insertion. Both segments must already be acceptable against the current
// window; comparing unacceptable segments is a programming error.
func segCmp(aSeq Value, aLen Size, bSeq Value, bLen Size) int {
	switch {
	case aSeq == bSeq:
		if aLen == bLen {
			return 0
		} else if aLen < bLen {
			return -1
		}
		return 1
	case aSeq.LessThan(bSeq):
		return -1
	default:
		return 1
	}
}
