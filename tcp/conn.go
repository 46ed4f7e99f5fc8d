package tcp

import (
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/nazdridoy/usertcp/internal"
)

// AcPass distinguishes an active (client-initiated) open from a passive
// (listening) one, named after the source's acpass_t.
type AcPass uint8

const (
	Passive AcPass = iota
	Active
)

// ConnCallbacks are invoked while the connection's lock is held and must
// not re-enter the connection. A nil field is simply skipped.
type ConnCallbacks struct {
	// OnStateChange observes old -> conn.State() exactly once per
	// transition.
	OnStateChange func(conn *Conn, old State)
	// OnDataAvailable fires whenever rcv_buf gains bytes or rcv_buf_fin
	// is set.
	OnDataAvailable func(conn *Conn)
}

// Transmitter is the lower-layer collaborator a Conn sends finished
// segments to. PDU encoding and the datagram transport are a separate
// concern; Transmitter is the seam where that layer attaches.
type Transmitter interface {
	SendSegment(epp EndpointPair, seg Segment) error
}

// Conn is a single TCP connection: the 11-state machine, send/receive
// buffers, sliding-window variables, Time-Wait timer, and reference
// count. A Mutex must not be copied after first use, so Conn is always
// handled through a pointer once Reset has been called.
type Conn struct {
	mu sync.Mutex
	logger
	met *Metrics
	id  xid.ID
	cfg Config

	ident EndpointPair
	state State
	ap    AcPass

	iss, sndUNA, sndNXT, sndWL1, sndWL2 Value
	sndWND                              Size
	sndUP                               Value

	irs, rcvNXT, rcvUP Value
	rcvWND             Size

	sndBuf    internal.Ring
	sndBufFin bool
	rcvBuf    internal.Ring
	rcvBufFin bool

	incoming   IQueue
	retransmit *TQueue
	rtTimer    *time.Timer
	rtEpoch    uint64
	twTimer    *time.Timer

	finIsAcked bool
	resetFlag  bool
	deleted    bool
	refcnt     int32

	stateCV *sync.Cond
	rcvCV   *sync.Cond
	sndCV   *sync.Cond

	cb    ConnCallbacks
	amap  *AMap
	trans Transmitter

	stateSince time.Time
}

// ConnConfig groups the arguments to Reset.
type ConnConfig struct {
	Config      Config
	AMap        *AMap
	Transmitter Transmitter
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Reset reinitializes conn as a fresh, Closed connection ready for Open.
// This may be called on a zero-value Conn (the mutex has never been
// locked) but never on one currently in use -- copying a locked Mutex
// corrupts it on multi-core systems.
func (c *Conn) Reset(cc ConnConfig) {
	id := xid.New()
	log := cc.Logger
	if log != nil {
		log = log.With(slog.String("conn", id.String()))
	}
	*c = Conn{
		logger: logger{log: log},
		met:    cc.Metrics,
		id:     id,
		cfg:    cc.Config,
		amap:   cc.AMap,
		trans:  cc.Transmitter,
		state:  StateClosed,
		refcnt: 2, // one for "user owns it", one for "not yet Closed".
	}
	c.sndBuf = internal.Ring{Buf: make([]byte, c.cfg.SndBufSize)}
	c.rcvBuf = internal.Ring{Buf: make([]byte, c.cfg.RcvBufSize)}
	c.rcvWND = Size(c.cfg.RcvBufSize)
	c.stateCV = sync.NewCond(&c.mu)
	c.rcvCV = sync.NewCond(&c.mu)
	c.sndCV = sync.NewCond(&c.mu)
	c.retransmit = NewTQueue(c)
	c.stateSince = timeNow()
}

// timeNow exists so tests can monkeypatch wall-clock reads without
// reaching for a fake clock dependency; production always uses
// time.Now.
var timeNow = time.Now

// ID returns the connection's opaque, sortable identifier, used to
// correlate log lines and metrics across a connection's lifetime.
func (c *Conn) ID() xid.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnStatus is the boundary-crossing status snapshot, extending the
// source's tcp_conn_status_t with the buffered-byte counts.
type ConnStatus struct {
	State       State
	Local       Endpoint
	Remote      Endpoint
	RcvBuffered int
	SndBuffered int
	FinIsAcked  bool
}

// Status returns a snapshot of the connection's externally-visible
// state, matching ucall.c's tcp_uc_status plus the fields its status
// struct already carried (tcp_conn_status_t).
func (c *Conn) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnStatus{
		State:       c.state,
		Local:       c.ident.Local,
		Remote:      c.ident.Remote,
		RcvBuffered: c.rcvBuf.Buffered(),
		SndBuffered: c.sndBuf.Buffered(),
		FinIsAcked:  c.finIsAcked,
	}
}

// DebugRefCount exposes the live reference count for tests and the
// optional CLI, grounded on the original's addref/delref logging
// (conn.c always logs the resulting count rather than mutating
// silently).
func (c *Conn) DebugRefCount() int32 {
	return atomic.LoadInt32(&c.refcnt)
}

func (c *Conn) addref() {
	n := atomic.AddInt32(&c.refcnt, 1)
	c.debug("addref", slog.Int64("refcnt", int64(n)))
}

func (c *Conn) delref() {
	n := atomic.AddInt32(&c.refcnt, -1)
	c.debug("delref", slog.Int64("refcnt", int64(n)))
	if n < 0 {
		panic("tcp: refcnt underflow")
	}
	if n == 0 {
		c.free()
	}
}

// free runs once refcnt reaches zero: both the "user owns it" and "not
// yet Closed" sentinel references have been dropped, and no timer holds
// a reference either, so it is safe to drop this connection's entry
// from the association map.
func (c *Conn) free() {
	c.amap.Remove(c)
	c.met.connClosed()
}

// armRetransmit implements retransmitTimer for TQueue: it adds a
// reference for the timer -- each armed timer holds its own reference --
// and schedules the fixed-delay callback. rtEpoch is bumped so the
// scheduled callback can recognize whether it is still the current
// timer by the time it fires; Stop() does not guarantee that, since a
// callback already dispatched to its own goroutine keeps running even
// after Stop returns.
func (c *Conn) armRetransmit() {
	c.addref()
	c.rtEpoch++
	epoch := c.rtEpoch
	c.rtTimer = time.AfterFunc(c.cfg.RetransmitTimeout, func() { c.onRetransmitTimeout(epoch) })
}

// disarmRetransmit stops the timer, if any, and drops its reference.
// Bumping rtEpoch first means a callback that already raced past
// Stop() finds itself stale once it acquires the lock, and takes no
// further action on the reference this function is about to drop.
func (c *Conn) disarmRetransmit() {
	if c.rtTimer != nil {
		c.rtTimer.Stop()
		c.rtTimer = nil
	}
	c.rtEpoch++
	c.delref()
}

// restartRetransmit gives the retransmission queue's new head a fresh
// deadline without touching the reference count, which the timer already
// holds from the armRetransmit call that started it. The epoch bump
// retires the outgoing timer the same way disarmRetransmit does, so a
// firing that raced past this Stop() call is recognized as stale.
func (c *Conn) restartRetransmit() {
	if c.rtTimer != nil {
		c.rtTimer.Stop()
	}
	c.rtEpoch++
	epoch := c.rtEpoch
	c.rtTimer = time.AfterFunc(c.cfg.RetransmitTimeout, func() { c.onRetransmitTimeout(epoch) })
}

// onRetransmitTimeout is the timer callback (runs on its own goroutine):
// it takes the connection lock and first checks epoch against the
// current rtEpoch, discarding the firing with no reference change if
// some other transition already disarmed or restarted the timer in the
// meantime -- that transition already accounted for the one reference
// this firing would otherwise double-drop. Otherwise, if the connection
// is already Closed or the queue has drained, it drops its reference.
// Otherwise it retransmits a duplicate of the queue head and re-arms
// itself unconditionally -- no backoff, no retry cap, a deliberate
// choice documented in DESIGN.md.
func (c *Conn) onRetransmitTimeout(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.rtEpoch {
		return
	}
	if c.state == StateClosed {
		c.rtEpoch++
		c.delref()
		return
	}
	seg, ok := c.retransmit.Head()
	if !ok {
		c.rtEpoch++
		c.delref()
		return
	}
	if c.retransmit.AllowDropLog() {
		c.debug("retransmit timeout", slog.Uint64("seg.seq", uint64(seg.SEQ)))
	}
	c.met.incRetransmit()
	c.transmitSegment(seg)
	// Re-arm unconditionally with the same fixed delay; the new timer
	// inherits the reference the fired one held, so the refcount is
	// unchanged.
	c.rtEpoch++
	epoch = c.rtEpoch
	c.rtTimer = time.AfterFunc(c.cfg.RetransmitTimeout, func() { c.onRetransmitTimeout(epoch) })
}

// armTimeWait (re)starts the 2*MSL Time-Wait timer.
func (c *Conn) armTimeWait() {
	if c.twTimer != nil {
		c.twTimer.Stop()
	} else {
		c.addref()
	}
	c.twTimer = time.AfterFunc(c.cfg.TimeWaitTimeout(), c.onTimeWaitTimeout)
}

func (c *Conn) disarmTimeWait() {
	if c.twTimer != nil {
		c.twTimer.Stop()
		c.twTimer = nil
		c.delref()
	}
}

// onTimeWaitTimeout fires once after 2*MSL; if the connection has not
// already left TimeWait, it transitions to Closed.
func (c *Conn) onTimeWaitTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateTimeWait {
		return
	}
	// Entering Closed disarms the Time-Wait timer, which drops its reference.
	c.setState(StateClosed)
}

// setState performs the transition, recording the duration spent in the
// previous state and invoking OnStateChange while the lock is held, then
// broadcasting the state-change condvar. Entering Closed drops the
// "not yet Closed" sentinel reference and clears every timer, so a
// Closed connection never holds an active timer reference.
func (c *Conn) setState(next State) {
	old := c.state
	if old == next {
		return
	}
	c.met.observeState(old, timeNow().Sub(c.stateSince))
	c.state = next
	c.stateSince = timeNow()
	c.debug("state transition", slog.String("from", old.String()), slog.String("to", next.String()))

	if cb := c.cb.OnStateChange; cb != nil {
		cb(c, old)
	}
	c.stateCV.Broadcast()

	switch next {
	case StateClosed:
		c.retransmit.Clear()
		c.disarmTimeWait()
		if old != StateClosed {
			c.delref()
		}
	case StateTimeWait:
		// Armed centrally rather than at each call site: the source
		// only arms this timer on the FinWait2->TimeWait path and
		// omits it on Closing->TimeWait (conn.c:920), which would
		// leave that path stuck in TimeWait forever. Arming it here
		// for every entry into TimeWait is the compliant fix.
		c.armTimeWait()
	}
}

// reset marks the connection reset, transitions it to Closed, clears
// every timer, and wakes any blocked user call on the receive/send
// condvars so they observe RESET. Grounded on conn.c's tcp_conn_reset.
func (c *Conn) reset() {
	c.resetFlag = true
	c.setState(StateClosed)
	c.rcvCV.Broadcast()
	c.sndCV.Broadcast()
}

// OpenActive performs the active-open sequence: choose ISS, initialize
// snd.nxt/snd.una, enqueue a SYN-only segment, and transition to
// SynSent. local may have a zero port, in which case amap assigns an
// ephemeral one.
func (c *Conn) OpenActive(local Endpoint, remote netip.AddrPort, iss Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return errInvalidArgs
	}
	c.ap = Active
	c.ident = EndpointPair{
		Local:  local,
		Remote: Endpoint{Addr: remote.Addr(), Port: remote.Port()},
	}
	epp, err := c.amap.Insert(c.ident, c)
	if err != nil {
		return err
	}
	c.ident = epp
	c.met.connOpened()

	c.iss = iss
	c.sndUNA = iss
	c.sndNXT = iss
	syn := MakeCtrl(FlagSYN)
	c.setState(StateSynSent)
	c.sendControl(syn)
	return nil
}

// OpenListen registers a passive-open listener on local (which may carry
// a wildcard address/port for remote) and transitions to Listen. iss
// seeds the ISS this listener will use once it receives a SYN and
// replies with SYN|ACK.
func (c *Conn) OpenListen(local Endpoint, iss Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return errInvalidArgs
	}
	c.ap = Passive
	c.ident = EndpointPair{Local: local}
	epp, err := c.amap.Insert(c.ident, c)
	if err != nil {
		return err
	}
	c.ident = epp
	c.iss = iss
	c.met.connOpened()
	c.setState(StateListen)
	return nil
}

// syncActiveOpen performs an active open triggered implicitly by a
// send/receive call issued while still Listen. Caller must hold c.mu.
// Only meaningful for a connection opened Passive that has not yet
// heard from a peer. Reuses the ISS already recorded by OpenListen,
// mirroring OpenActive's snd.una/snd.nxt initialization.
func (c *Conn) syncActiveOpen() {
	if c.state != StateListen {
		return
	}
	c.sndUNA = c.iss
	c.sndNXT = c.iss
	c.setState(StateSynSent)
	c.sendControl(MakeCtrl(FlagSYN))
}

// sendControl builds a control-only segment, runs it through outbound
// preparation, enqueues it in the retransmission queue if it consumes
// sequence space, and transmits it. Caller must hold c.mu.
func (c *Conn) sendControl(seg Segment) {
	c.prepareOutbound(&seg)
	c.retransmit.Enqueue(seg)
	c.transmitSegment(seg)
}

// prepareOutbound finalizes an outbound segment: sets ACK once the
// connection has received a SYN (unless seg is a pure RST), assigns SEQ
// from snd.nxt and advances it, and stamps WND/ACK fields from the
// current receive window.
func (c *Conn) prepareOutbound(seg *Segment) {
	isPureRST := seg.Flags == FlagRST
	if c.state.hasIRS() && !isPureRST {
		seg.Flags |= FlagACK
	}
	seg.SEQ = c.sndNXT
	c.sndNXT = Add(c.sndNXT, seg.LEN())
	seg.WND = c.rcvWND
	if seg.Flags.HasAny(FlagACK) {
		seg.ACK = c.rcvNXT
	} else {
		seg.ACK = 0
	}
}

// pushPending implements the new-data transmit loop, grounded on
// tqueue.c's tcp_tqueue_new_data: compute how much of the send buffer fits
// in the currently advertised send window, carry a trailing FIN once the
// buffer is fully drained and the user has closed for writing, and send
// whatever fits as a single segment. Caller must hold c.mu.
func (c *Conn) pushPending() {
	availWnd := Sub(Add(c.sndUNA, c.sndWND), c.sndNXT)
	pending := Size(c.sndBuf.Buffered())
	if c.sndBufFin {
		pending++
	}

	xfer := pending
	if xfer > availWnd {
		xfer = availWnd
	}
	if xfer == 0 {
		return
	}

	sendFin := c.sndBufFin && xfer == pending
	dataSize := xfer
	if sendFin {
		dataSize--
	}

	buf := make([]byte, dataSize)
	c.sndBuf.ReadPeek(buf)
	c.sndBuf.ReadDiscard(int(dataSize))
	c.sndCV.Broadcast()

	ctrl := Flags(0)
	if sendFin {
		ctrl = FlagFIN
		c.sndBufFin = false
	}
	c.sendControl(MakeData(ctrl, buf))
}

// transmitSegment hands seg to the lower layer, logging and counting it.
// Grounded on tqueue.c's tcp_conn_transmit_segment / tcp_tqueue_send_immed.
func (c *Conn) transmitSegment(seg Segment) {
	c.traceSeg("tx", seg)
	c.met.incSent()
	if c.trans == nil {
		return
	}
	if err := c.trans.SendSegment(c.ident, seg); err != nil {
		c.logerr("transmit failed", slog.String("err", err.Error()))
	}
}
