package sender

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/mirrorlink/wire"
)

const (
	tcpQueueCapacity = 256
	tcpWriteDeadline = 5 * time.Second

	// Rebind schedule when the server socket itself is lost. Exhausting
	// the retries degrades the sender to permanently inactive.
	tcpRebindRetries = 5
	tcpRebindDelay   = 500 * time.Millisecond
)

// TCPSender serves the video stream to a single connected client. It binds
// its listener once; when a client disconnects, the accept loop re-enters
// without rebinding. Only a lost listener triggers the bounded
// rebind-with-delay path. The onConnect callback fires once per accepted
// client, which upstream uses to request a fresh keyframe.
type TCPSender struct {
	log       *slog.Logger
	addr      string
	lnMu      sync.Mutex
	ln        net.Listener
	q         *dropOldestQueue
	done      chan struct{}
	onConnect func()
	greeting  []byte // written to each accepted client before queued packets

	active atomic.Bool
	closed atomic.Bool

	sentPackets atomic.Int64
	sentBytes   atomic.Int64
	errs        atomic.Int64
	accepts     atomic.Int64
}

// NewTCP binds addr and starts the accept/write worker. onConnect may be
// nil. If log is nil, slog.Default() is used.
func NewTCP(addr string, onConnect func(), log *slog.Logger) (*TCPSender, error) {
	return newTCP(addr, nil, onConnect, log)
}

// NewMTIL creates a TCP sender for one tile connection: each accepted client
// first receives the encoded StreamHello announcing the tile grid, then the
// MTIL-framed packet flow. Everything else matches NewTCP.
func NewMTIL(addr string, hello wire.StreamHello, onConnect func(), log *slog.Logger) (*TCPSender, error) {
	return newTCP(addr, wire.EncodeStreamHello(hello), onConnect, log)
}

func newTCP(addr string, greeting []byte, onConnect func(), log *slog.Logger) (*TCPSender, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &TCPSender{
		log: log.With("component", "tcp-sender", "addr", ln.Addr().String()),
		// Rebind targets the concretely bound address, so a ":0" sender
		// keeps its ephemeral port across listener loss.
		addr:      ln.Addr().String(),
		ln:        ln,
		q:         newDropOldestQueue(tcpQueueCapacity),
		done:      make(chan struct{}),
		onConnect: onConnect,
		greeting:  greeting,
	}
	s.active.Store(true)
	go s.run()
	return s, nil
}

// Addr returns the bound listener address (useful when addr used port 0).
func (s *TCPSender) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	return s.ln.Addr()
}

// Send queues one framed packet for the connected client, evicting the
// oldest queued packet if the queue is full.
func (s *TCPSender) Send(pkt []byte) error {
	if !s.active.Load() {
		return ErrInactive
	}
	s.q.push(pkt)
	return nil
}

// Flush is a no-op: the writer loop sends each packet as it drains.
func (s *TCPSender) Flush() error {
	if !s.active.Load() {
		return ErrInactive
	}
	return nil
}

// IsActive reports whether the sender still accepts packets.
func (s *TCPSender) IsActive() bool {
	return s.active.Load()
}

// Close deactivates the sender, closes the listener to unblock a pending
// accept, and stops the worker. Idempotent.
func (s *TCPSender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.active.Store(false)
	close(s.done)
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	return s.ln.Close()
}

// Stats returns delivery counters.
func (s *TCPSender) Stats() Stats {
	return Stats{
		SentPackets: s.sentPackets.Load(),
		SentBytes:   s.sentBytes.Load(),
		Dropped:     s.q.dropped.Load(),
		Errors:      s.errs.Load(),
	}
}

// run alternates between accepting one client and serving it until the
// connection drops, then re-enters accept on the same listener.
func (s *TCPSender) run() {
	for {
		s.lnMu.Lock()
		ln := s.ln
		s.lnMu.Unlock()

		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if !s.rebind() {
				return
			}
			continue
		}

		s.accepts.Add(1)
		s.log.Info("client connected", "remote", conn.RemoteAddr())
		if len(s.greeting) > 0 && !s.sendGreeting(conn) {
			conn.Close()
			continue
		}
		if s.onConnect != nil {
			s.onConnect()
		}

		s.serve(conn)
		conn.Close()
		s.log.Info("client disconnected", "remote", conn.RemoteAddr())
	}
}

// sendGreeting writes the per-connection announcement directly, ahead of
// anything the queue holds.
func (s *TCPSender) sendGreeting(conn net.Conn) bool {
	conn.SetWriteDeadline(time.Now().Add(tcpWriteDeadline))
	if _, err := conn.Write(s.greeting); err != nil {
		s.errs.Add(1)
		s.log.Debug("greeting write failed", "error", err)
		return false
	}
	return true
}

// serve drains the queue to one client until a write fails or the sender
// closes.
func (s *TCPSender) serve(conn net.Conn) {
	for {
		select {
		case <-s.done:
			return
		case pkt := <-s.q.ch:
			conn.SetWriteDeadline(time.Now().Add(tcpWriteDeadline))
			n, err := conn.Write(pkt)
			if err != nil {
				s.errs.Add(1)
				s.log.Debug("client write failed", "error", err)
				return
			}
			s.sentPackets.Add(1)
			s.sentBytes.Add(int64(n))
		}
	}
}

// rebind attempts to re-establish a lost listener on a fixed delay
// schedule. Returns false once the retry budget is exhausted or the sender
// closes, leaving the sender permanently inactive.
func (s *TCPSender) rebind() bool {
	for attempt := 1; attempt <= tcpRebindRetries; attempt++ {
		select {
		case <-s.done:
			return false
		case <-time.After(tcpRebindDelay):
		}

		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			s.errs.Add(1)
			s.log.Warn("rebind failed", "attempt", attempt, "error", err)
			continue
		}
		s.lnMu.Lock()
		s.ln = ln
		s.lnMu.Unlock()
		if s.closed.Load() {
			ln.Close()
			return false
		}
		s.log.Info("listener rebound", "attempt", attempt)
		return true
	}
	s.active.Store(false)
	s.log.Warn("rebind retries exhausted, sender deactivated")
	return false
}
