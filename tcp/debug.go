package tcp

import (
	"log/slog"

	"github.com/nazdridoy/usertcp/internal"
)

// logger is the nil-safe structured-logging embed shared by Conn. Embedding
// a value type rather than *slog.Logger directly means a zero-value Conn
// can call c.debug/c.trace/c.logerr before SetLogger-equivalent
// configuration without a nil check at every call site; internal.LogAttrs
// already treats a nil *slog.Logger as "drop the record".
type logger struct {
	log *slog.Logger
}

func (l logger) logenabled(lvl slog.Level) bool {
	return internal.LogEnabled(l.log, lvl)
}

func (l logger) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, lvl, msg, attrs...)
}

func (l logger) debug(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelDebug, msg, attrs...)
}

func (l logger) trace(msg string, attrs ...slog.Attr) {
	l.logattrs(internal.LevelTrace, msg, attrs...)
}

func (l logger) logerr(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}

// traceSeg logs a segment crossing the wire boundary, in either direction.
func (l logger) traceSeg(msg string, seg Segment) {
	if l.logenabled(internal.LevelTrace) {
		l.trace(msg,
			slog.Uint64("seg.seq", uint64(seg.SEQ)),
			slog.Uint64("seg.ack", uint64(seg.ACK)),
			slog.Uint64("seg.wnd", uint64(seg.WND)),
			slog.String("seg.flags", seg.Flags.String()),
			slog.Uint64("seg.data", uint64(seg.DATALEN)),
		)
	}
}

// traceSnd logs the send sequence space, for diagnosing window/ack bugs.
func (c *Conn) traceSnd(msg string) {
	c.trace(msg,
		slog.String("state", c.state.String()),
		slog.Uint64("snd.nxt", uint64(c.sndNXT)),
		slog.Uint64("snd.una", uint64(c.sndUNA)),
		slog.Uint64("snd.wnd", uint64(c.sndWND)),
	)
}

// traceRcv logs the receive sequence space.
func (c *Conn) traceRcv(msg string) {
	c.trace(msg,
		slog.String("state", c.state.String()),
		slog.Uint64("rcv.nxt", uint64(c.rcvNXT)),
		slog.Uint64("rcv.wnd", uint64(c.rcvWND)),
	)
}
