package sender

import (
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

const (
	udpQueueCapacity  = 256
	udpWriteDeadline  = time.Second
	udpResolveTimeout = 3 * time.Second
)

// UDPSender transmits each packet as one datagram to a fixed destination.
// Address resolution is deferred to the worker's first send so constructing
// the sender never blocks the producer. Any resolution or socket error
// deactivates the sender permanently; UDP delivery is fire-and-forget and
// the protocol tolerates loss.
type UDPSender struct {
	log  *slog.Logger
	addr string
	q    *dropOldestQueue
	done chan struct{}

	active atomic.Bool
	closed atomic.Bool

	sentPackets atomic.Int64
	sentBytes   atomic.Int64
	errs        atomic.Int64
}

// NewUDP creates a UDP sender targeting addr ("host:port") and starts its
// writer worker. If log is nil, slog.Default() is used.
func NewUDP(addr string, log *slog.Logger) *UDPSender {
	if log == nil {
		log = slog.Default()
	}
	s := &UDPSender{
		log:  log.With("component", "udp-sender", "addr", addr),
		addr: addr,
		q:    newDropOldestQueue(udpQueueCapacity),
		done: make(chan struct{}),
	}
	s.active.Store(true)
	go s.run()
	return s
}

// Send queues one packet for transmission, evicting the oldest queued
// packet if the queue is full.
func (s *UDPSender) Send(pkt []byte) error {
	if !s.active.Load() {
		return ErrInactive
	}
	s.q.push(pkt)
	return nil
}

// Flush is a no-op: datagrams are not buffered beyond the send queue.
func (s *UDPSender) Flush() error {
	if !s.active.Load() {
		return ErrInactive
	}
	return nil
}

// IsActive reports whether the sender still accepts packets.
func (s *UDPSender) IsActive() bool {
	return s.active.Load()
}

// Close deactivates the sender and stops its worker. Idempotent.
func (s *UDPSender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.active.Store(false)
	close(s.done)
	return nil
}

// Stats returns delivery counters.
func (s *UDPSender) Stats() Stats {
	return Stats{
		SentPackets: s.sentPackets.Load(),
		SentBytes:   s.sentBytes.Load(),
		Dropped:     s.q.dropped.Load(),
		Errors:      s.errs.Load(),
	}
}

// run resolves the destination on the first queued packet, then drains the
// queue for the sender's lifetime. The socket lives and dies with the worker.
func (s *UDPSender) run() {
	var conn net.Conn

	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case pkt := <-s.q.ch:
			if conn == nil {
				c, err := net.DialTimeout("udp", s.addr, udpResolveTimeout)
				if err != nil {
					s.errs.Add(1)
					s.active.Store(false)
					s.log.Warn("resolve failed, sender deactivated", "error", err)
					return
				}
				conn = c
				s.log.Info("destination resolved", "remote", conn.RemoteAddr())
			}

			conn.SetWriteDeadline(time.Now().Add(udpWriteDeadline))
			n, err := conn.Write(pkt)
			if err != nil {
				s.errs.Add(1)
				s.active.Store(false)
				s.log.Warn("write failed, sender deactivated", "error", err)
				return
			}
			s.sentPackets.Add(1)
			s.sentBytes.Add(int64(n))
		}
	}
}
