package tcp

// cproc mirrors the source's cproc_t: each pipeline stage reports whether
// it fully consumed the segment (cpDone) or whether later stages should
// still see it (cpContinue).
type cproc uint8

const (
	cpContinue cproc = iota
	cpDone
)

// SegmentArrived is the dispatcher's (rqueue.go) entry point for a segment
// RQueue has already matched to this connection via amap. Grounded on
// conn.c's tcp_conn_segment_arrived: closed connections bounce the segment
// back as unexpected, a still-wildcarded identity is upgraded to the
// concrete arriving pair, and the segment is routed to Listen/SynSent
// handling or queued for in-order pipeline processing.
func (c *Conn) SegmentArrived(epp EndpointPair, seg Segment) (unexpected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return true
	}
	c.met.incReceived()
	c.traceSeg("rx", seg)

	// AMap.Lookup already upgraded its own stored entry for a wildcarded
	// passive listener (amap.go), but deliberately never reaches into
	// c.ident to do the same -- that would require taking AMap's lock
	// before the connection's own, which the lock ordering here forbids
	// (a connection's lock may be held while taking AMap's, never the
	// reverse). This adopts the same upgrade on the connection's side,
	// so Status() and every subsequent transmitSegment target the
	// concrete peer instead of a wildcard.
	if c.ident != epp && (c.ident.Remote.addrWild() || c.ident.Remote.portWild()) {
		c.ident = epp
	}

	switch c.state {
	case StateListen:
		c.segArrivedListen(seg)
	case StateSynSent:
		c.segArrivedSynSent(seg)
	default:
		c.segArrivedQueue(seg)
	}
	return false
}

// segArrivedListen handles the first segment of a passive connection.
// Grounded on tcp_conn_sa_listen: RST is silently ignored, a bare ACK
// draws a reset reply, a segment without SYN is dropped, and a SYN
// adopts the arriving pair as this connection's concrete identity,
// chooses IRS/ISS, and answers with SYN|ACK.
func (c *Conn) segArrivedListen(seg Segment) {
	if seg.Flags.HasAny(FlagRST) {
		c.debug("ignoring incoming RST in listen")
		return
	}
	if seg.Flags.HasAny(FlagACK) {
		c.debug("incoming ACK in listen, sending RST")
		c.transmitSegment(MakeRST(seg))
		return
	}
	if !seg.Flags.HasAny(FlagSYN) {
		c.debug("no SYN in listen, ignoring segment")
		return
	}

	c.irs = seg.SEQ
	c.rcvNXT = Add(seg.SEQ, 1)
	c.rcvWND = Size(c.cfg.RcvBufSize)

	c.sndNXT = c.iss
	c.sndUNA = c.iss
	c.sndWND = seg.WND
	c.sndWL1 = seg.SEQ
	c.sndWL2 = seg.SEQ

	c.setState(StateSynRcvd)
	c.sendControl(MakeCtrl(FlagSYN))
}

// segArrivedSynSent handles the second leg of an active open. Grounded on
// tcp_conn_sa_syn_sent: an unacceptable ACK (without RST) draws a reset
// reply; RST with an acceptable ACK tears the connection down; RST alone
// (no ACK) is a silent drop since it can't be attributed to this attempt;
// absence of SYN is a silent drop; a SYN (with or without piggybacked
// ACK) establishes rcv state and moves to Established if our own SYN was
// acked, else to SynRcvd for the simultaneous-open case.
func (c *Conn) segArrivedSynSent(seg Segment) {
	if seg.Flags.HasAny(FlagACK) {
		if !ackAcceptable(seg.ACK, c.sndUNA, c.sndNXT) {
			if !seg.Flags.HasAny(FlagRST) {
				c.debug("ack not acceptable in syn-sent, sending RST")
				c.transmitSegment(MakeRST(seg))
			}
			return
		}
	}

	if seg.Flags.HasAny(FlagRST) {
		if seg.Flags.HasAny(FlagACK) {
			c.debug("connection reset in syn-sent")
			c.reset()
		}
		return
	}

	if !seg.Flags.HasAny(FlagSYN) {
		return
	}

	c.irs = seg.SEQ
	c.rcvNXT = Add(seg.SEQ, 1)

	if seg.Flags.HasAny(FlagACK) {
		c.sndUNA = seg.ACK
		c.onAckReceived()
	}

	c.sndWND = seg.WND
	c.sndWL1 = seg.SEQ
	c.sndWL2 = seg.SEQ

	if ltLe(c.iss, c.sndUNA, c.sndNXT) {
		c.setState(StateEstablished)
		c.sendControl(MakeCtrl(FlagACK))
	} else {
		c.setState(StateSynRcvd)
		c.sendControl(MakeCtrl(FlagSYN))
	}
}

// segArrivedQueue handles every state where segments are processed in
// sequence-number order: discard unacceptable ("old duplicate") segments
// up front with an ACK reply, otherwise queue and drain. Grounded on
// tcp_conn_sa_queue.
func (c *Conn) segArrivedQueue(seg Segment) {
	if !segmentAcceptable(seg.SEQ, seg.LEN(), c.rcvNXT, c.rcvWND) {
		c.debug("unacceptable segment, replying ack")
		c.sendControl(MakeCtrl(FlagACK))
		return
	}
	c.incoming.Insert(seg)
	c.drainIncoming()
}

// drainIncoming repeatedly pulls ready segments off the incoming queue
// and runs each through the pipeline, stopping once no ready segment
// remains (either the queue is empty or the next one is still ahead of
// rcv.nxt, awaiting a gap-filling retransmission).
func (c *Conn) drainIncoming() {
	for {
		seg, ok := c.incoming.GetReady(c.rcvNXT, c.rcvWND)
		if !ok {
			return
		}
		c.processPipeline(seg)
	}
}

// processPipeline runs one already-dequeued, in-order segment through
// seven processing stages (RST, security/precedence, SYN, ACK, URG,
// text, FIN), grounded stage-by-stage on conn.c's tcp_conn_seg_process.
// Any octets left over after every stage (which should not normally
// happen) are re-queued rather than re-examined inline, matching the
// source.
func (c *Conn) processPipeline(seg Segment) {
	if c.segProcRST(&seg) == cpDone {
		return
	}
	// Security/precedence fields are not modeled; the stage exists as a
	// placeholder seam, matching tcp_conn_seg_proc_sp.
	if c.segProcSYN(&seg) == cpDone {
		return
	}
	if c.segProcACK(&seg) == cpDone {
		return
	}
	// Urgent data delivery is not modeled; URG is parsed but never
	// surfaced to the user, matching tcp_conn_seg_proc_urg.
	if c.segProcText(&seg) == cpDone {
		return
	}
	if c.segProcFIN(&seg) == cpDone {
		return
	}
	if seg.LEN() > 0 {
		c.incoming.Insert(seg)
	}
}

// segProcRST implements the RST stage. Grounded on
// tcp_conn_seg_proc_rst: SynRcvd from a passive open reverts to Listen
// (discarding timers and the retransmit queue); SynRcvd from an active
// open, Established, FinWait1/2, and CloseWait raise the reset signal and
// tear down; Closing/LastAck/TimeWait tear down silently.
func (c *Conn) segProcRST(seg *Segment) cproc {
	if !seg.Flags.HasAny(FlagRST) {
		return cpContinue
	}
	switch c.state {
	case StateSynRcvd:
		if c.ap == Passive {
			c.amap.Remove(c)
			c.ident.Remote = Endpoint{}
			if epp, err := c.amap.Insert(c.ident, c); err == nil {
				c.ident = epp
			}
			c.setState(StateListen)
			c.disarmTimeWait()
			c.retransmit.Clear()
		} else {
			c.reset()
		}
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
		c.reset()
	case StateClosing, StateLastAck, StateTimeWait:
		c.setState(StateClosed)
	}
	return cpDone
}

// segProcSYN implements the SYN-in-window stage. The source leaves this
// as a logging placeholder (tcp_conn_seg_proc_syn); this implements the
// RFC 793-compliant behavior instead: send a reset, flush both queues,
// and close the connection, since a SYN inside the receive window
// signals a desynchronized peer.
func (c *Conn) segProcSYN(seg *Segment) cproc {
	if !seg.Flags.HasAny(FlagSYN) {
		return cpContinue
	}
	c.debug("SYN in receive window, resetting connection")
	c.transmitSegment(MakeRST(*seg))
	c.incoming = IQueue{}
	c.retransmit.Clear()
	c.reset()
	return cpDone
}

// segProcACK implements the ACK stage, dispatching to the per-state
// handler of conn.c's tcp_conn_seg_proc_ack switch.
func (c *Conn) segProcACK(seg *Segment) cproc {
	if !seg.Flags.HasAny(FlagACK) {
		c.debug("segment has no ACK, dropping")
		return cpDone
	}
	switch c.state {
	case StateSynRcvd:
		return c.segProcAckSR(seg)
	case StateEstablished:
		return c.segProcAckEst(seg)
	case StateFinWait1:
		return c.segProcAckFW1(seg)
	case StateFinWait2:
		return c.segProcAckFW2(seg)
	case StateCloseWait:
		return c.segProcAckEst(seg)
	case StateClosing:
		return c.segProcAckCls(seg)
	case StateLastAck:
		return c.segProcAckLA(seg)
	case StateTimeWait:
		return cpContinue
	}
	return cpDone
}

func (c *Conn) segProcAckSR(seg *Segment) cproc {
	if !ackAcceptable(seg.ACK, c.sndUNA, c.sndNXT) {
		c.debug("segment ack not acceptable in syn-received, sending RST")
		c.transmitSegment(MakeRST(*seg))
		return cpDone
	}
	c.setState(StateEstablished)
	c.sndUNA = seg.ACK
	return cpContinue
}

// segProcAckEst implements the shared Established-family ACK handling:
// update SND.UNA, apply a newer send-window update if present, then
// prune the retransmission queue and possibly send more data.
func (c *Conn) segProcAckEst(seg *Segment) cproc {
	if !ackAcceptable(seg.ACK, c.sndUNA, c.sndNXT) {
		if !ackDuplicate(seg.ACK, c.sndUNA) {
			c.debug("ack not acceptable, not duplicate; replying ack and dropping")
			c.sendControl(MakeCtrl(FlagACK))
			return cpDone
		}
		c.debug("ignoring duplicate ack")
	} else {
		c.sndUNA = seg.ACK
	}

	if newWndUpdate(seg.SEQ, seg.ACK, c.sndWL1, c.sndWL2) {
		c.sndWND = seg.WND
		c.sndWL1 = seg.SEQ
		c.sndWL2 = seg.ACK
	}

	c.onAckReceived()
	return cpContinue
}

func (c *Conn) segProcAckFW1(seg *Segment) cproc {
	if c.segProcAckEst(seg) == cpDone {
		return cpDone
	}
	if c.finIsAcked {
		c.setState(StateFinWait2)
	}
	return cpContinue
}

func (c *Conn) segProcAckFW2(seg *Segment) cproc {
	return c.segProcAckEst(seg)
}

func (c *Conn) segProcAckCls(seg *Segment) cproc {
	if c.segProcAckEst(seg) == cpDone {
		return cpDone
	}
	if c.finIsAcked {
		c.setState(StateTimeWait)
	}
	return cpContinue
}

func (c *Conn) segProcAckLA(seg *Segment) cproc {
	if c.segProcAckEst(seg) == cpDone {
		return cpDone
	}
	if c.finIsAcked {
		c.setState(StateClosed)
		return cpDone
	}
	return cpContinue
}

// onAckReceived prunes the retransmission queue of everything sndUNA now
// covers, latching finIsAcked if a FIN-bearing segment was among the
// pruned entries, and wakes any sender blocked on send-buffer space
// since an ACK may have opened the window. Grounded on
// tqueue.c's tcp_tqueue_ack_received.
func (c *Conn) onAckReceived() {
	if c.retransmit.OnAck(c.sndUNA) {
		c.finIsAcked = true
	}
	c.sndCV.Broadcast()
	c.pushPending()
}

// segProcText implements the TEXT stage. Grounded on
// tcp_conn_seg_proc_text: in CloseWait/Closing/LastAck/TimeWait a FIN has
// already been received so any text is stale and ignored; otherwise the
// segment is trimmed to the window, as much as fits is copied into the
// receive buffer, RCV.NXT/RCV.WND advance by the copied amount, an ACK is
// sent if anything was copied, and the stage is "done" only once nothing
// -- including a trailing FIN -- remains in the segment.
func (c *Conn) segProcText(seg *Segment) cproc {
	switch c.state {
	case StateCloseWait, StateClosing, StateLastAck, StateTimeWait:
		return cpContinue
	}

	left, right := segTrimCalc(seg.SEQ, seg.LEN(), c.rcvNXT, c.rcvWND)
	Trim(seg, left, right)

	textSize := TextSize(*seg)
	xfer := textSize
	if free := Size(c.rcvBuf.Free()); xfer > free {
		xfer = free
	}

	if xfer > 0 {
		buf := make([]byte, xfer)
		TextCopy(*seg, buf)
		c.rcvBuf.Write(buf)
		c.rcvCV.Broadcast()
		if cb := c.cb.OnDataAvailable; cb != nil {
			cb(c)
		}
	}

	c.rcvNXT = Add(c.rcvNXT, xfer)
	c.rcvWND -= xfer

	if xfer > 0 {
		c.sendControl(MakeCtrl(FlagACK))
	}

	if xfer < seg.LEN() {
		l2, r2 := segTrimCalc(seg.SEQ, seg.LEN(), c.rcvNXT, c.rcvWND)
		Trim(seg, l2, r2)
		return cpContinue
	}
	return cpDone
}

// segProcFIN implements the FIN stage: only acts once no text remains in
// the segment. Grounded on tcp_conn_seg_proc_fin's state-transition
// switch; Time-Wait timer arming for every TimeWait-entering transition
// is centralized in setState rather than called from here directly (see
// setState's comment on the source's Closing->TimeWait gap).
func (c *Conn) segProcFIN(seg *Segment) cproc {
	if TextSize(*seg) != 0 || !seg.Flags.HasAny(FlagFIN) {
		return cpContinue
	}

	c.rcvNXT = Add(c.rcvNXT, 1)
	c.rcvWND--
	c.sendControl(MakeCtrl(FlagACK))

	switch c.state {
	case StateSynRcvd, StateEstablished:
		c.setState(StateCloseWait)
	case StateFinWait1:
		c.setState(StateClosing)
	case StateFinWait2:
		c.setState(StateTimeWait)
	case StateCloseWait, StateClosing, StateLastAck:
		// no change
	case StateTimeWait:
		c.armTimeWait()
	}

	c.rcvBufFin = true
	c.rcvCV.Broadcast()
	if cb := c.cb.OnDataAvailable; cb != nil {
		cb(c)
	}
	return cpDone
}
