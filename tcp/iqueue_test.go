package tcp

import "testing"

func TestIQueueInsertOrdersBySequence(t *testing.T) {
	var q IQueue
	q.Insert(Segment{SEQ: 300, DATALEN: 5})
	q.Insert(Segment{SEQ: 295, DATALEN: 5})
	q.Insert(Segment{SEQ: 310, DATALEN: 5})

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	want := []Value{295, 300, 310}
	for i, w := range want {
		if q.segs[i].SEQ != w {
			t.Errorf("segs[%d].SEQ = %d, want %d", i, q.segs[i].SEQ, w)
		}
	}
}

// TestIQueueOutOfOrderReassembly: a segment arrives ahead of rcv.nxt and
// sits queued; only once the gap-filler arrives does GetReady drain
// both in order.
func TestIQueueOutOfOrderReassembly(t *testing.T) {
	var q IQueue
	rcvNXT := Value(295)
	const rcvWND = Size(4096)

	q.Insert(Segment{SEQ: 300, DATALEN: 5})
	if _, ok := q.GetReady(rcvNXT, rcvWND); ok {
		t.Fatal("segment ahead of rcv.nxt should not be ready yet")
	}

	q.Insert(Segment{SEQ: 295, DATALEN: 5})
	seg, ok := q.GetReady(rcvNXT, rcvWND)
	if !ok || seg.SEQ != 295 {
		t.Fatalf("expected segment at 295 to be ready, got %+v ok=%v", seg, ok)
	}
	rcvNXT = Add(rcvNXT, seg.DATALEN) // simulate conn advancing past it

	seg, ok = q.GetReady(rcvNXT, rcvWND)
	if !ok || seg.SEQ != 300 {
		t.Fatalf("expected segment at 300 to now be ready, got %+v ok=%v", seg, ok)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be drained, Len() = %d", q.Len())
	}
}

func TestIQueueDiscardsUnacceptableAtHead(t *testing.T) {
	var q IQueue
	rcvNXT := Value(1000)
	const rcvWND = Size(100)

	// Entirely stale segment, wholly before the window.
	q.Insert(Segment{SEQ: 500, DATALEN: 10})
	q.Insert(Segment{SEQ: 1000, DATALEN: 10})

	seg, ok := q.GetReady(rcvNXT, rcvWND)
	if !ok {
		t.Fatal("expected a ready segment after discarding the stale head")
	}
	if seg.SEQ != 1000 {
		t.Fatalf("SEQ = %d, want 1000 (stale 500 should have been discarded)", seg.SEQ)
	}
}

func TestIQueueRemove(t *testing.T) {
	var q IQueue
	s1 := Segment{SEQ: 100, DATALEN: 5}
	s2 := Segment{SEQ: 200, DATALEN: 5}
	q.Insert(s1)
	q.Insert(s2)
	q.Remove(s1)
	if q.Len() != 1 || q.segs[0].SEQ != 200 {
		t.Fatalf("Remove did not remove the right entry: %+v", q.segs)
	}
}

func TestIQueueEmptyGetReady(t *testing.T) {
	var q IQueue
	if _, ok := q.GetReady(0, 100); ok {
		t.Fatal("GetReady on an empty queue must return ok=false")
	}
}
