package tcp

// MakeCtrl builds a control-only segment (no payload) carrying ctrl.
// seg.DATALEN is zero; seg.LEN() equals controlLen(ctrl).
func MakeCtrl(ctrl Flags) Segment {
	return Segment{Flags: ctrl}
}

// MakeData builds a segment carrying ctrl and a private copy of b.
// The caller's b is never aliased: MakeData always clones it.
func MakeData(ctrl Flags, b []byte) Segment {
	data := make([]byte, len(b))
	copy(data, b)
	return Segment{
		Flags:   ctrl,
		DATALEN: Size(len(data)),
		Data:    data,
	}
}

// MakeRST builds the reset reply to seg, per RFC 793: if seg carries an
// ACK, the reset echoes it as its own sequence number; otherwise the reset
// acknowledges the sequence space seg consumed.
func MakeRST(seg Segment) Segment {
	if !seg.Flags.HasAny(FlagACK) {
		return Segment{
			Flags: FlagRST | FlagACK,
			SEQ:   0,
			ACK:   Add(seg.SEQ, seg.LEN()),
		}
	}
	return Segment{
		Flags: FlagRST,
		SEQ:   seg.ACK,
	}
}

// Dup returns a deep copy of seg, including its payload. The copy shares
// no backing array with the original.
func Dup(seg Segment) Segment {
	cp := seg
	if len(seg.Data) > 0 {
		cp.Data = make([]byte, len(seg.Data))
		copy(cp.Data, seg.Data)
	} else {
		cp.Data = nil
	}
	return cp
}

// TextSize returns the number of payload octets in seg, excluding the
// sequence-space units contributed by SYN/FIN.
func TextSize(seg Segment) Size {
	return seg.DATALEN
}

// TextCopy copies up to len(dst) octets of seg's payload into dst. n must
// not exceed TextSize(seg).
func TextCopy(seg Segment, dst []byte) int {
	return copy(dst, seg.Data)
}

// Trim removes left octets of sequence space from the start of seg and
// right octets from the end, adjusting SEQ, control bits, and Data so the
// segment occupies exactly [seg.SEQ+left, seg.SEQ+seg.LEN()-right) after
// the call. Trim(seg, 0, 0) is a no-op. Callers must never trim beyond
// seg.LEN(): left+right > seg.LEN() panics, matching the assertion in the
// source this is grounded on rather than silently clamping.
func Trim(seg *Segment, left, right Size) {
	segLen := seg.LEN()
	if left+right > segLen {
		panic("tcp: trim exceeds segment length")
	}
	if left == 0 && right == 0 {
		return
	}

	if left == segLen {
		seg.SEQ = Add(seg.SEQ, segLen)
		seg.Flags &^= FlagSYN | FlagFIN
		seg.DATALEN = 0
		seg.Data = nil
		return
	}
	if right == segLen {
		seg.Flags &^= FlagSYN | FlagFIN
		seg.DATALEN = 0
		seg.Data = nil
		return
	}

	if left > 0 && seg.Flags.HasAny(FlagSYN) {
		seg.Flags &^= FlagSYN
		seg.SEQ = Add(seg.SEQ, 1)
		left--
	}
	if right > 0 && seg.Flags.HasAny(FlagFIN) {
		seg.Flags &^= FlagFIN
		right--
	}
	if left > 0 || right > 0 {
		tsize := seg.DATALEN
		if left+right > tsize {
			panic("tcp: text trim exceeds payload size")
		}
		seg.Data = seg.Data[left : tsize-right]
		seg.DATALEN = tsize - Size(left) - Size(right)
		seg.SEQ = Add(seg.SEQ, Size(left))
	}
}
