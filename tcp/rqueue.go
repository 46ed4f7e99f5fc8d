package tcp

import "log/slog"

// incomingSegment is one datagram's worth of decoded segment plus the
// endpoint pair it arrived on, as handed to the dispatcher by the lower
// layer. PDU decoding is a separate concern upstream of this queue.
type incomingSegment struct {
	epp EndpointPair
	seg Segment
}

// RQueue is the single-consumer receive dispatcher: exactly one
// goroutine drains it and routes each segment to the
// connection amap finds for its endpoint pair, or to the stray-segment
// handler if none matches. Grounded on rqueue.c's prodcons_t + fibril
// pattern: a Go channel stands in for the producer/consumer queue, and a
// closed channel stands in for the NULL-segment shutdown sentinel.
type RQueue struct {
	ch   chan incomingSegment
	amap *AMap
	logger
	done chan struct{}
}

// NewRQueue constructs a dispatcher with the given backlog capacity,
// routing matched segments against amap.
func NewRQueue(amap *AMap, backlog int, log *slog.Logger) *RQueue {
	return &RQueue{
		ch:     make(chan incomingSegment, backlog),
		amap:   amap,
		logger: logger{log: log},
		done:   make(chan struct{}),
	}
}

// Insert enqueues a segment for dispatch, blocking while the backlog is
// full: like the source's tcp_rqueue_insert_seg, callers are expected to
// size the backlog so this only blocks under true overload, which here
// applies backpressure to the lower layer rather than dropping silently.
// Once Shutdown has stopped Run nothing drains the backlog, so Insert
// then blocks for good as soon as the backlog is full.
func (q *RQueue) Insert(epp EndpointPair, seg Segment) {
	q.ch <- incomingSegment{epp: epp, seg: seg}
}

// Run is the dispatcher's fibril equivalent: it must be run in exactly
// one goroutine. It consumes segments until Shutdown is called, calling
// lookup(epp) to find the destination connection (nil if none matches,
// in which case unexpected is invoked to build and send a stray-segment
// RST).
func (q *RQueue) Run(lookup func(EndpointPair) *Conn, unexpected func(EndpointPair, Segment)) {
	for {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			conn := lookup(item.epp)
			if conn == nil {
				q.debug("stray segment", slog.String("remote", item.epp.Remote.Addr.String()))
				unexpected(item.epp, item.seg)
				continue
			}
			conn.SegmentArrived(item.epp, item.seg)
		case <-q.done:
			return
		}
	}
}

// Shutdown terminates the dispatcher's Run loop. Safe to call once.
func (q *RQueue) Shutdown() {
	close(q.done)
}
