package tcp

// IQueue is a per-connection, sequence-ordered queue of out-of-order
// received segments awaiting reassembly. Grounded on iqueue.c: a sorted
// singly-linked insertion list, walked front-to-back by GetReady.
type IQueue struct {
	segs []Segment
}

// Insert places seg into the queue in sequence order, per segCmp.
func (q *IQueue) Insert(seg Segment) {
	i := 0
	for ; i < len(q.segs); i++ {
		if segCmp(seg.SEQ, seg.LEN(), q.segs[i].SEQ, q.segs[i].LEN()) < 0 {
			break
		}
	}
	q.segs = append(q.segs, Segment{})
	copy(q.segs[i+1:], q.segs[i:])
	q.segs[i] = seg
}

// Remove deletes a specific segment from the queue by identity of its
// (SEQ, Flags, DATALEN) fields, used when a segment is re-extracted by GetReady,
// partially consumed, and its residue needs to be re-inserted rather than
// left as a stale duplicate entry.
func (q *IQueue) Remove(seg Segment) {
	for i := range q.segs {
		if q.segs[i].SEQ == seg.SEQ && q.segs[i].Flags == seg.Flags && q.segs[i].DATALEN == seg.DATALEN {
			q.segs = append(q.segs[:i], q.segs[i+1:]...)
			return
		}
	}
}

// GetReady pops and returns the head segment if it is ready for delivery
// (intersects rcvNXT), discarding any unacceptable segments encountered
// at the head first. Returns ok=false if the queue is empty or the head
// is acceptable but not yet ready (its SEQ lies strictly ahead of
// rcvNXT), without dequeuing it.
func (q *IQueue) GetReady(rcvNXT Value, rcvWND Size) (seg Segment, ok bool) {
	for len(q.segs) > 0 {
		head := q.segs[0]
		if !segmentAcceptable(head.SEQ, head.LEN(), rcvNXT, rcvWND) {
			q.segs = q.segs[1:]
			continue
		}
		if !segmentReady(head.SEQ, head.LEN(), rcvNXT) {
			return Segment{}, false
		}
		q.segs = q.segs[1:]
		return head, true
	}
	return Segment{}, false
}

// Len reports the number of segments currently queued.
func (q *IQueue) Len() int { return len(q.segs) }
