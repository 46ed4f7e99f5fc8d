package tcp

import "testing"

// fakeTimer is a recording retransmitTimer stand-in so TQueue can be
// tested without a real Conn or wall-clock timer.
type fakeTimer struct {
	armed    int
	disarmed int
	restarts int
}

func (f *fakeTimer) armRetransmit()     { f.armed++ }
func (f *fakeTimer) disarmRetransmit()  { f.disarmed++ }
func (f *fakeTimer) restartRetransmit() { f.restarts++ }

func TestTQueueEnqueueArmsTimerOnce(t *testing.T) {
	ft := &fakeTimer{}
	q := NewTQueue(ft)

	q.Enqueue(MakeData(0, []byte("a")))
	q.Enqueue(MakeData(0, []byte("b")))

	if ft.armed != 1 {
		t.Errorf("armed = %d, want 1 (only first enqueue arms)", ft.armed)
	}
}

func TestTQueueEnqueueIgnoresZeroLenSegments(t *testing.T) {
	ft := &fakeTimer{}
	q := NewTQueue(ft)
	q.Enqueue(MakeCtrl(FlagACK)) // pure ACK: no sequence space consumed.
	if !q.Empty() {
		t.Fatal("a pure ACK must never be enqueued in the retransmission queue")
	}
	if ft.armed != 0 {
		t.Errorf("armed = %d, want 0", ft.armed)
	}
}

func TestTQueueOnAckPrunesWhollyAcked(t *testing.T) {
	ft := &fakeTimer{}
	q := NewTQueue(ft)

	s1 := MakeData(0, []byte("hello")) // len 5
	s1.SEQ = 100
	s2 := MakeData(0, []byte("world"))
	s2.SEQ = 105
	q.Enqueue(s1)
	q.Enqueue(s2)

	finAcked := q.OnAck(105) // acks only s1 (seq 100, end 105)
	if finAcked {
		t.Error("no FIN was in the acked range")
	}
	if q.Empty() {
		t.Fatal("s2 should remain queued")
	}
	head, ok := q.Head()
	if !ok || head.SEQ != 105 {
		t.Fatalf("head = %+v ok=%v, want seq=105", head, ok)
	}
	if ft.disarmed != 0 {
		t.Errorf("disarmed = %d, want 0 (queue not yet empty)", ft.disarmed)
	}
	if ft.restarts != 1 {
		t.Errorf("restarts = %d, want 1 (head changed, timer refreshed)", ft.restarts)
	}
}

func TestTQueueOnAckReportsFINAcked(t *testing.T) {
	ft := &fakeTimer{}
	q := NewTQueue(ft)

	fin := MakeCtrl(FlagFIN)
	fin.SEQ = 200
	q.Enqueue(fin)

	finAcked := q.OnAck(201)
	if !finAcked {
		t.Fatal("acking past a FIN-bearing entry must report finAcked=true")
	}
	if !q.Empty() {
		t.Fatal("queue should be empty once the FIN is acked")
	}
	if ft.disarmed != 1 {
		t.Errorf("disarmed = %d, want 1", ft.disarmed)
	}
}

func TestTQueueClearDisarms(t *testing.T) {
	ft := &fakeTimer{}
	q := NewTQueue(ft)
	q.Enqueue(MakeData(0, []byte("x")))
	q.Clear()
	if !q.Empty() {
		t.Fatal("Clear must empty the queue")
	}
	if ft.disarmed != 1 {
		t.Errorf("disarmed = %d, want 1", ft.disarmed)
	}
}

func TestTQueueHeadIsACopy(t *testing.T) {
	ft := &fakeTimer{}
	q := NewTQueue(ft)
	orig := MakeData(0, []byte("data"))
	orig.SEQ = 1
	q.Enqueue(orig)

	h1, _ := q.Head()
	h1.Data[0] = 'X'
	h2, _ := q.Head()
	if h2.Data[0] == 'X' {
		t.Fatal("Head must return an independent copy each call")
	}
}
