package tcp

import (
	"net/netip"
	"time"
)

// OpenMode distinguishes a blocking Open (wait until Established or the
// attempt fails) from a non-blocking one (return immediately, leaving the
// connection to finish the handshake in the background), mirroring
// ucall.c's tcp_open_flags_t.
type OpenMode uint8

const (
	OpenBlocking OpenMode = iota
	OpenNonBlock
)

// RecvFlags reports out-of-band conditions observed by Receive alongside
// whatever data bytes it returns, matching ucall.c's XFLAGS_FIN.
type RecvFlags uint8

const (
	RecvEOF RecvFlags = 1 << iota
)

// Open starts a connection in c (already Reset by the owner) as either an
// active open toward remote or a passive listener on local, per ap.
// Grounded on ucall.c's tcp_uc_open: a blocking open waits on stateCV
// until the handshake concludes one way or another; a non-blocking open
// returns EOK as soon as the request has been issued, leaving the caller
// to observe the outcome via Status or OnStateChange.
func Open(c *Conn, ap AcPass, local Endpoint, remote netip.AddrPort, iss *ISSGenerator, mode OpenMode) Error {
	var err error
	if ap == Active {
		seq := iss.Generate(local, Endpoint{Addr: remote.Addr(), Port: remote.Port()}, timeNow())
		err = c.OpenActive(local, remote, seq)
	} else {
		seq := iss.Generate(local, Endpoint{}, timeNow())
		err = c.OpenListen(local, seq)
	}
	if err != nil {
		return toUcallError(err)
	}
	if mode == OpenNonBlock {
		return EOK
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == StateListen || c.state == StateSynSent || c.state == StateSynRcvd {
		c.stateCV.Wait()
	}
	if c.state != StateEstablished {
		return toUcallError(errReset)
	}
	return EOK
}

// Send copies data into the connection's send buffer and pushes as much
// of it onto the wire as the send window currently allows, blocking
// while the buffer is full. Grounded on ucall.c's tcp_uc_send: Listen
// triggers an implicit active open (tcp_conn_sync), a connection already
// closed for writing or fully Closed is rejected up front, and the copy
// loop wakes on sndCV each time pushPending or an incoming ACK frees
// space.
func (c *Conn) Send(data []byte) Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ENotExist
	}
	if c.sndBufFin {
		return EClosing
	}
	switch c.state {
	case StateFinWait1, StateFinWait2, StateClosing, StateLastAck, StateTimeWait:
		// The FIN has gone out; pushPending cleared sndBufFin when it did.
		return EClosing
	}
	if c.state == StateListen {
		c.syncActiveOpen()
	}

	for len(data) > 0 {
		for c.sndBuf.Free() == 0 && !c.resetFlag && !c.sndBufFin {
			c.sndCV.Wait()
		}
		if c.resetFlag {
			return EReset
		}
		if c.sndBufFin {
			return EClosing
		}
		n := c.sndBuf.Free()
		if n > len(data) {
			n = len(data)
		}
		c.sndBuf.Write(data[:n])
		data = data[n:]
		c.pushPending()
	}
	return EOK
}

// Receive copies up to len(buf) bytes out of the receive buffer. Grounded
// on ucall.c's tcp_uc_receive, but the blocking/non-blocking distinction
// is implemented as two genuinely separate branches: the source's wait
// loop returns TCP_EAGAIN unconditionally before ever reaching
// fibril_condvar_wait, which makes its "blocking" mode dead code as
// written. Here, mode selects which branch actually runs.
func (c *Conn) Receive(buf []byte, mode OpenMode) (n int, flags RecvFlags, err Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed && c.rcvBuf.Buffered() == 0 {
		return 0, 0, ENotExist
	}

	if mode == OpenNonBlock {
		if c.rcvBuf.Buffered() == 0 && !c.rcvBufFin && !c.resetFlag {
			return 0, 0, EAgain
		}
	} else {
		for c.rcvBuf.Buffered() == 0 && !c.rcvBufFin && !c.resetFlag {
			c.rcvCV.Wait()
		}
	}

	if c.rcvBuf.Buffered() == 0 {
		if c.resetFlag {
			return 0, 0, EReset
		}
		return 0, RecvEOF, EClosing
	}

	n, _ = c.rcvBuf.Read(buf)
	c.rcvWND += Size(n)
	c.sendControl(MakeCtrl(FlagACK))
	return n, 0, EOK
}

// Close initiates (or completes) an orderly close: Listen/SynSent abort
// outright since no data has been exchanged, otherwise the connection
// marks its send side finished and pushes the trailing FIN once the
// buffer drains. Grounded on ucall.c's tcp_uc_close.
func (c *Conn) Close() Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ENotExist
	case StateListen, StateSynSent:
		c.reset()
		return EOK
	case StateFinWait1, StateFinWait2, StateClosing, StateLastAck, StateTimeWait:
		// Already closed for writing, even once the FIN has gone out and
		// pushPending has cleared sndBufFin.
		return EClosing
	}
	if c.sndBufFin {
		return EClosing
	}
	c.sndBufFin = true
	// Established (and SynRcvd, which hasn't delivered any data to the
	// user yet but is already synchronized) moves to FinWait1; CloseWait
	// -- already holding the peer's FIN -- moves to LastAck instead.
	// Every other state already sits somewhere in the closing half of
	// the machine and needs no further transition here.
	switch c.state {
	case StateEstablished, StateSynRcvd:
		c.setState(StateFinWait1)
	case StateCloseWait:
		c.setState(StateLastAck)
	}
	c.pushPending()
	return EOK
}

// Abort immediately resets the connection, discarding any unsent or
// unacked data. Grounded on ucall.c's tcp_uc_abort.
func (c *Conn) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.reset()
	}
}

// Delete drops the caller's reference to c, per ucall.c's tcp_uc_delete.
// The connection itself is only freed once every reference (including
// any armed timer's) has been dropped -- see Conn.free.
func (c *Conn) Delete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delref()
}

// SetCallbacks installs cb, replacing any previously set callbacks.
// Grounded on ucall.c's tcp_uc_set_cb.
func (c *Conn) SetCallbacks(cb ConnCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}
