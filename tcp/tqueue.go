package tcp

import (
	"time"

	"golang.org/x/time/rate"
)

// retransmitLogLimiter is shared by every TQueue so that retransmit
// timeouts across all connections produce at most one log line per second.
var retransmitLogLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// tqEntry is one outstanding, transmitted-but-unacked segment.
type tqEntry struct {
	seg Segment // deep copy, as assigned at transmit time (SEQ already final).
}

// retransmitTimer is the minimal interface TQueue needs from its owning
// Conn to arm/disarm the single retransmission timer. Conn implements
// this by starting/stopping a *time.Timer and bumping/dropping its own
// reference count -- each armed timer holds its own reference.
type retransmitTimer interface {
	armRetransmit()
	disarmRetransmit()
	restartRetransmit()
}

// TQueue is the per-connection FIFO of transmitted-but-unacked segments
// that consume sequence space (data, SYN, FIN). Pure ACKs are never
// enqueued. Grounded on tqueue.c. Callers must hold the owning
// connection's lock for every method.
type TQueue struct {
	list  []tqEntry
	armed bool
	timer retransmitTimer

	// dropLogLimiter collapses bursts of retransmit-timeout log lines
	// (e.g. many connections timing out in the same scheduler tick)
	// into a single debug log line instead of spamming slog. This is purely a
	// logging-rate concern; it never changes retransmission semantics.
	dropLogLimiter *rate.Limiter
}

// NewTQueue constructs an empty retransmission queue bound to timer.
func NewTQueue(timer retransmitTimer) *TQueue {
	return &TQueue{
		timer:          timer,
		dropLogLimiter: retransmitLogLimiter,
	}
}

// Enqueue appends a deep copy of seg (which must carry sequence space: SYN,
// FIN, or payload) to the tail of the retransmission list and arms the
// timer if it was not already armed.
func (q *TQueue) Enqueue(seg Segment) {
	if seg.LEN() == 0 {
		return
	}
	q.list = append(q.list, tqEntry{seg: Dup(seg)})
	if !q.armed {
		q.armed = true
		q.timer.armRetransmit()
	}
}

// OnAck removes every entry wholly acknowledged by sndUNA from the head of
// the queue, reporting whether a FIN-bearing entry was among them (the
// caller sets conn.finIsAcked accordingly). Disarms the timer when the
// queue becomes empty, otherwise leaves it armed for the next entry.
func (q *TQueue) OnAck(sndUNA Value) (finAcked bool) {
	i := 0
	for ; i < len(q.list); i++ {
		e := q.list[i]
		segEnd := Add(e.seg.SEQ, e.seg.LEN())
		if !segEnd.LessThanEq(sndUNA) {
			break
		}
		if e.seg.Flags.HasAny(FlagFIN) {
			finAcked = true
		}
	}
	pruned := i > 0
	q.list = q.list[i:]
	if len(q.list) == 0 && q.armed {
		q.armed = false
		q.timer.disarmRetransmit()
	} else if pruned && q.armed {
		// Give the new head a fresh 2s window rather than letting it
		// inherit whatever remained of the pruned head's deadline,
		// matching tqueue.c's tcp_tqueue_timer_set call at the end of
		// every successful prune in tcp_tqueue_ack_received.
		q.timer.restartRetransmit()
	}
	return finAcked
}

// Head returns the oldest unacked segment and true, or the zero value and
// false if the queue is empty. Used by the retransmit timeout handler,
// which retransmits a duplicate of the head and re-arms itself
// unconditionally -- no backoff, no retry cap, a deliberate choice
// documented in DESIGN.md.
func (q *TQueue) Head() (Segment, bool) {
	if len(q.list) == 0 {
		return Segment{}, false
	}
	return Dup(q.list[0].seg), true
}

// Empty reports whether the retransmission queue holds no entries.
func (q *TQueue) Empty() bool { return len(q.list) == 0 }

// Clear discards all entries and disarms the timer if it was armed.
func (q *TQueue) Clear() {
	q.list = nil
	if q.armed {
		q.armed = false
		q.timer.disarmRetransmit()
	}
}

// AllowDropLog reports whether the caller may log a retransmit-timeout
// event right now, rate-limiting bursts to at most one log line/sec.
func (q *TQueue) AllowDropLog() bool {
	return q.dropLogLimiter.Allow()
}
