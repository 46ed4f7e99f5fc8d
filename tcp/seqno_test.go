package tcp

import "testing"

func TestValueLessThan(t *testing.T) {
	cases := []struct {
		v, w Value
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		// Wrap-around: maxValue is "before" a small value near zero.
		{0xFFFFFFFF, 1, true},
		{1, 0xFFFFFFFF, false},
	}
	for _, c := range cases {
		if got := c.v.LessThan(c.w); got != c.want {
			t.Errorf("Value(%d).LessThan(%d) = %v, want %v", c.v, c.w, got, c.want)
		}
	}
}

func TestInWindowWrap(t *testing.T) {
	// Window starting just below the 2**32 boundary must still report
	// membership correctly once it wraps past zero.
	const nxt = Value(0xFFFFFFF0)
	const wnd = Size(32) // window spans [0xFFFFFFF0, 0x10) after wrap.

	inWindow := []Value{0xFFFFFFF0, 0xFFFFFFFF, 0, 15}
	for _, v := range inWindow {
		if !v.InWindow(nxt, wnd) {
			t.Errorf("Value(%#x).InWindow(%#x, %d) = false, want true", v, nxt, wnd)
		}
	}
	outOfWindow := []Value{0xFFFFFFEF, 16, 100}
	for _, v := range outOfWindow {
		if v.InWindow(nxt, wnd) {
			t.Errorf("Value(%#x).InWindow(%#x, %d) = true, want false", v, nxt, wnd)
		}
	}
}

func TestAckAcceptable(t *testing.T) {
	const una, nxt = Value(100), Value(110)
	cases := []struct {
		ack  Value
		want bool
	}{
		{100, false}, // not > una
		{101, true},
		{110, true},
		{111, false}, // > nxt
	}
	for _, c := range cases {
		if got := ackAcceptable(c.ack, una, nxt); got != c.want {
			t.Errorf("ackAcceptable(%d, una=%d, nxt=%d) = %v, want %v", c.ack, una, nxt, got, c.want)
		}
	}
}

func TestAckDuplicate(t *testing.T) {
	const una = Value(100)
	if ackDuplicate(101, una) {
		t.Error("ack 101 should not be duplicate of una 100")
	}
	if !ackDuplicate(100, una) {
		t.Error("ack == una should be duplicate")
	}
	if !ackDuplicate(50, una) {
		t.Error("ack < una should be duplicate")
	}
}

func TestSegmentAcceptable(t *testing.T) {
	const rcvNXT = Value(1000)
	const rcvWND = Size(100)

	// (0,0): only the exact next byte is acceptable.
	if !segmentAcceptable(rcvNXT, 0, rcvNXT, 0) {
		t.Error("zero-len segment at rcv.nxt with zero window should be acceptable")
	}
	if segmentAcceptable(rcvNXT+1, 0, rcvNXT, 0) {
		t.Error("zero-len segment not at rcv.nxt with zero window should be unacceptable")
	}
	// (0,>0): seq must fall in the window.
	if !segmentAcceptable(rcvNXT+5, 0, rcvNXT, rcvWND) {
		t.Error("zero-len segment inside window should be acceptable")
	}
	if segmentAcceptable(rcvNXT+200, 0, rcvNXT, rcvWND) {
		t.Error("zero-len segment outside window should be unacceptable")
	}
	// (>0,0): always rejected.
	if segmentAcceptable(rcvNXT, 10, rcvNXT, 0) {
		t.Error("nonzero-len segment with zero window should be unacceptable")
	}
	// (>0,>0): begin-in, end-in, or straddling.
	if !segmentAcceptable(rcvNXT+90, 20, rcvNXT, rcvWND) {
		t.Error("segment straddling the window's end should be acceptable")
	}
	if !segmentAcceptable(rcvNXT-10, 20, rcvNXT, rcvWND) {
		t.Error("segment straddling rcv.nxt from before should be acceptable")
	}
	if segmentAcceptable(rcvNXT+200, 20, rcvNXT, rcvWND) {
		t.Error("segment entirely past the window should be unacceptable")
	}
}

func TestSegmentReady(t *testing.T) {
	const rcvNXT = Value(500)
	if !segmentReady(rcvNXT, 10, rcvNXT) {
		t.Error("segment starting at rcv.nxt should be ready")
	}
	if !segmentReady(rcvNXT-5, 10, rcvNXT) {
		t.Error("segment straddling rcv.nxt should be ready")
	}
	if segmentReady(rcvNXT+1, 10, rcvNXT) {
		t.Error("segment strictly ahead of rcv.nxt should not be ready")
	}
}

func TestNewWndUpdate(t *testing.T) {
	const wl1, wl2 = Value(100), Value(50)
	if !newWndUpdate(101, 50, wl1, wl2) {
		t.Error("strictly newer seq should update window")
	}
	if !newWndUpdate(100, 51, wl1, wl2) {
		t.Error("same seq with newer ack should update window")
	}
	if newWndUpdate(100, 49, wl1, wl2) {
		t.Error("same seq with older ack should not update window")
	}
	if newWndUpdate(99, 999, wl1, wl2) {
		t.Error("older seq should not update window regardless of ack")
	}
}

func TestSegTrimCalc(t *testing.T) {
	const rcvNXT = Value(1000)
	const rcvWND = Size(100)

	// Fully inside: no trim.
	if l, r := segTrimCalc(1010, 20, rcvNXT, rcvWND); l != 0 || r != 0 {
		t.Errorf("fully-inside segment should need no trim, got (%d, %d)", l, r)
	}
	// Hangs off the left.
	if l, r := segTrimCalc(990, 20, rcvNXT, rcvWND); l != 10 || r != 0 {
		t.Errorf("left overhang: got (%d, %d), want (10, 0)", l, r)
	}
	// Hangs off the right.
	if l, r := segTrimCalc(1090, 20, rcvNXT, rcvWND); l != 0 || r != 10 {
		t.Errorf("right overhang: got (%d, %d), want (0, 10)", l, r)
	}
	// Straddles both ends.
	if l, r := segTrimCalc(990, 130, rcvNXT, rcvWND); l != 10 || r != 20 {
		t.Errorf("both overhang: got (%d, %d), want (10, 20)", l, r)
	}
}

func TestSegCmpOrdersBySeqThenLen(t *testing.T) {
	if segCmp(100, 5, 200, 5) >= 0 {
		t.Error("lower seq should sort first")
	}
	if segCmp(100, 5, 100, 10) >= 0 {
		t.Error("equal seq, shorter len should sort first")
	}
	if segCmp(100, 5, 100, 5) != 0 {
		t.Error("identical (seq, len) should compare equal")
	}
}
