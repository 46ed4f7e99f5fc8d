package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Endpoint is one side of a TCP connection: an address and a port, either
// of which may be the wildcard value (zero addr / zero port).
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) addrWild() bool { return !e.Addr.IsValid() || e.Addr.IsUnspecified() }
func (e Endpoint) portWild() bool { return e.Port == 0 }

// EndpointPair identifies a connection by its local and remote endpoints.
// Wildcards are only ever legal on the remote side, and on the local
// address (never the local port, which open() always assigns, allocating
// an ephemeral one if needed).
type EndpointPair struct {
	Local  Endpoint
	Remote Endpoint
}

// specificity scores how exact a match epp provides for an arriving
// segment's endpoint pair. Higher is more specific: a concrete local
// address adds 4, a concrete remote address 2 and a concrete remote port
// 1 (the local port is always concrete), so an exact pair scores 7, a
// concrete local address with a wildcard remote scores 4, and a pair
// wildcarded everywhere but the local port scores 0.
func specificity(epp EndpointPair) int {
	score := 0
	if !epp.Local.addrWild() {
		score += 4
	}
	if !epp.Remote.addrWild() {
		score += 2
	}
	if !epp.Remote.portWild() {
		score += 1
	}
	return score
}

// matches reports whether candidate epp (possibly wildcarded, as stored in
// the map) matches the concrete pair arriving off the wire.
func matches(candidate, arriving EndpointPair) bool {
	if candidate.Local.Port != arriving.Local.Port {
		return false
	}
	if !candidate.Local.addrWild() && candidate.Local.Addr != arriving.Local.Addr {
		return false
	}
	if !candidate.Remote.addrWild() && candidate.Remote.Addr != arriving.Remote.Addr {
		return false
	}
	if !candidate.Remote.portWild() && candidate.Remote.Port != arriving.Remote.Port {
		return false
	}
	return true
}

// overlaps reports whether two stored (possibly wildcarded) entries could
// both match the same arriving segment, which open() must reject as
// Exists rather than allow.
func overlaps(a, b EndpointPair) bool {
	if a.Local.Port != b.Local.Port {
		return false
	}
	if !a.Local.addrWild() && !b.Local.addrWild() && a.Local.Addr != b.Local.Addr {
		return false
	}
	if !a.Remote.addrWild() && !b.Remote.addrWild() && a.Remote.Addr != b.Remote.Addr {
		return false
	}
	if !a.Remote.portWild() && !b.Remote.portWild() && a.Remote.Port != b.Remote.Port {
		return false
	}
	return true
}

// AMap maps endpoint pairs to connections. It has its own mutex, which
// may only be taken while holding a connection's lock, never before --
// callers (conn.go, ucall.go) are responsible for that ordering; AMap
// itself only ever locks its own mutex.
type AMap struct {
	mu        sync.Mutex
	entries   []amapEntry
	ephCursor uint32 // walk counter, mixed through ephStart before use
	ephSecret [16]byte
	ephemeral [2]uint16 // [lo, hi] inclusive range for ephemeral port allocation
}

type amapEntry struct {
	epp  EndpointPair
	conn *Conn
}

// NewAMap constructs an association map with the conventional ephemeral
// port range. The allocation order within that range is derived from a
// random secret (ephStart) rather than a bare incrementing counter, so
// an observer watching successive ephemeral ports assigned to other
// peers cannot predict the next one -- the same keyed-hash technique
// used for SYN-cookie generation, applied here to port selection
// instead.
func NewAMap() *AMap {
	m := &AMap{
		ephemeral: [2]uint16{49152, 65535},
	}
	rand.Read(m.ephSecret[:])
	return m
}

// ephStart derives the scan's starting offset from ephSecret and the
// walk counter via a keyed hash, then allocEphemeral does a plain
// rotation from there -- a rotation is a bijection over [0, span), so
// every free port is still tried exactly once, but the starting point
// (and thus the whole visiting order) isn't a predictable function of
// how many ports were handed out before.
func (m *AMap) ephStart(span uint32) uint32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], m.ephCursor)
	sum := blake2b.Sum256(append(m.ephSecret[:], buf[:]...))
	return binary.BigEndian.Uint32(sum[:4]) % span
}

// Insert registers conn under epp. If epp.Local.Port is zero, an ephemeral
// port is allocated and written back into epp.Local.Port (and returned).
// Insertion that would create an ambiguous match with an existing
// wildcarded entry fails with errExists.
func (m *AMap) Insert(epp EndpointPair, conn *Conn) (EndpointPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epp.Local.portWild() {
		port, ok := m.allocEphemeral(epp)
		if !ok {
			return epp, errNoMem
		}
		epp.Local.Port = port
	}

	for _, e := range m.entries {
		if overlaps(e.epp, epp) {
			return epp, errExists
		}
	}

	m.entries = append(m.entries, amapEntry{epp: epp, conn: conn})
	return epp, nil
}

func (m *AMap) allocEphemeral(epp EndpointPair) (uint16, bool) {
	lo, hi := m.ephemeral[0], m.ephemeral[1]
	span := uint32(hi) - uint32(lo) + 1
	start := m.ephStart(span)
	m.ephCursor++

	for i := uint32(0); i < span; i++ {
		port := lo + uint16((start+i)%span)
		if port == 0 {
			continue
		}
		candidate := epp
		candidate.Local.Port = port
		free := true
		for _, e := range m.entries {
			if overlaps(e.epp, candidate) {
				free = false
				break
			}
		}
		if free {
			return port, true
		}
	}
	return 0, false
}

// Lookup finds the most specific entry matching arriving, or nil if none
// matches. If the matched entry is a wildcarded passive listener, it is
// upgraded in place to the concrete arriving pair on its first accepted
// arrival; the upgraded connection is returned, not a new one.
func (m *AMap) Lookup(arriving EndpointPair) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	bestIdx := -1
	bestScore := -1
	for i, e := range m.entries {
		if !matches(e.epp, arriving) {
			continue
		}
		s := specificity(e.epp)
		if s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil
	}
	e := &m.entries[bestIdx]
	if e.epp != arriving && (e.epp.Remote.addrWild() || e.epp.Remote.portWild()) {
		e.epp = arriving
	}
	return e.conn
}

// Remove deletes the entry holding conn, if any. Safe to call on a
// connection that was never fully registered (e.g. open() failed after a
// partial insert never happened).
func (m *AMap) Remove(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.conn == conn {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}
