// Command usertcpd is a minimal driver that wires rqueue, amap, and a
// UDP-datagram lower layer together for manual testing. It is not a
// real TCP/IP stack: segment encoding over UDP here is a stand-in for
// the PDU codec and checksum, both explicitly out of core scope.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/nazdridoy/usertcp/tcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		flagListen = ":7000"
		flagDebug  = false
	)
	flag.StringVar(&flagListen, "listen", flagListen, "UDP address to listen on.")
	flag.BoolVar(&flagDebug, "debug", flagDebug, "Enable debug logging.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usertcpd is a minimal userspace TCP driver over UDP, for manual testing.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	laddr, err := net.ResolveUDPAddr("udp", flagListen)
	if err != nil {
		return fmt.Errorf("resolving listen address: %w", err)
	}
	pconn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listening udp: %w", err)
	}
	defer pconn.Close()

	amap := tcp.NewAMap()
	rq := tcp.NewRQueue(amap, 64, log)
	defer rq.Shutdown()

	trans := &udpTransport{pconn: pconn, log: log}
	iss, err := tcp.NewISSGenerator(rand.Reader)
	if err != nil {
		return fmt.Errorf("seeding ISS generator: %w", err)
	}

	go trans.readLoop(rq)
	go rq.Run(amap.Lookup, func(epp tcp.EndpointPair, seg tcp.Segment) {
		log.Warn("stray segment", slog.String("remote", epp.Remote.Addr.String()))
		if seg.Flags.HasAny(tcp.FlagRST) {
			return
		}
		if err := trans.SendSegment(epp, tcp.MakeRST(seg)); err != nil {
			log.Error("replying to stray segment", slog.String("err", err.Error()))
		}
	})

	var listener tcp.Conn
	listener.Reset(tcp.ConnConfig{
		Config:      tcp.DefaultConfig(),
		AMap:        amap,
		Transmitter: trans,
		Logger:      log,
	})
	local := tcp.Endpoint{Port: laddr.AddrPort().Port()}
	if code := tcp.Open(&listener, tcp.Passive, local, netip.AddrPort{}, iss, tcp.OpenNonBlock); code != tcp.EOK {
		return fmt.Errorf("opening listener: %s", code)
	}
	fmt.Printf("listening on %s\n", laddr)

	for {
		time.Sleep(time.Second)
	}
}

// udpTransport is the lower layer Conn.Transmitter attaches to: it
// carries Segments over UDP datagrams via gob, standing in for the real
// PDU/checksum layer the core package deliberately omits.
type udpTransport struct {
	pconn *net.UDPConn
	log   *slog.Logger
}

type wireMsg struct {
	Local  tcp.Endpoint
	Remote tcp.Endpoint
	Seg    tcp.Segment
}

func (t *udpTransport) SendSegment(epp tcp.EndpointPair, seg tcp.Segment) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wireMsg{Local: epp.Local, Remote: epp.Remote, Seg: seg}); err != nil {
		return err
	}
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(epp.Remote.Addr, epp.Remote.Port))
	_, err := t.pconn.WriteToUDP(buf.Bytes(), addr)
	return err
}

func (t *udpTransport) readLoop(rq *tcp.RQueue) {
	buf := make([]byte, 65536)
	for {
		n, raddr, err := t.pconn.ReadFromUDP(buf)
		if err != nil {
			t.log.Error("udp read failed", slog.String("err", err.Error()))
			return
		}
		var msg wireMsg
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&msg); err != nil {
			t.log.Warn("dropping malformed datagram", slog.String("err", err.Error()))
			continue
		}
		epp := tcp.EndpointPair{
			Local:  msg.Local,
			Remote: tcp.Endpoint{Addr: raddr.AddrPort().Addr(), Port: raddr.AddrPort().Port()},
		}
		rq.Insert(epp, msg.Seg)
	}
}
