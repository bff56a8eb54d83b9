package sender

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	quicQueueCapacity = 256
	quicDialTimeout   = 5 * time.Second

	// QUICProto is the ALPN identifier for the mirror collector.
	QUICProto = "mirrorlink-vid"
)

// QUICSender mirrors the framed video stream to a remote collector over a
// QUIC unidirectional stream. It is a best-effort secondary sink for
// debugging and recording: dial and write failures deactivate it without
// affecting the primary transport.
type QUICSender struct {
	log     *slog.Logger
	addr    string
	tlsConf *tls.Config
	q       *dropOldestQueue
	cancel  context.CancelFunc

	active atomic.Bool
	closed atomic.Bool

	sentPackets atomic.Int64
	sentBytes   atomic.Int64
	errs        atomic.Int64
}

// NewQUIC creates a QUIC mirror sender dialing addr lazily from its worker.
// Collectors present self-signed certificates, so callers normally pin one
// with certs.Pinned; a nil tlsConf gets a default that skips verification
// entirely, for throwaway debugging against a local collector. If log is
// nil, slog.Default() is used.
func NewQUIC(addr string, tlsConf *tls.Config, log *slog.Logger) *QUICSender {
	if log == nil {
		log = slog.Default()
	}
	if tlsConf == nil {
		tlsConf = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{QUICProto},
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &QUICSender{
		log:     log.With("component", "quic-sender", "addr", addr),
		addr:    addr,
		tlsConf: tlsConf,
		q:       newDropOldestQueue(quicQueueCapacity),
		cancel:  cancel,
	}
	s.active.Store(true)
	go s.run(ctx)
	return s
}

// Send queues one framed packet, evicting the oldest on overflow.
func (s *QUICSender) Send(pkt []byte) error {
	if !s.active.Load() {
		return ErrInactive
	}
	s.q.push(pkt)
	return nil
}

// Flush is a no-op: the worker writes each packet as it drains.
func (s *QUICSender) Flush() error {
	if !s.active.Load() {
		return ErrInactive
	}
	return nil
}

// IsActive reports whether the sender still accepts packets.
func (s *QUICSender) IsActive() bool {
	return s.active.Load()
}

// Close deactivates the sender and cancels its worker. Idempotent.
func (s *QUICSender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.active.Store(false)
	s.cancel()
	return nil
}

// Stats returns delivery counters.
func (s *QUICSender) Stats() Stats {
	return Stats{
		SentPackets: s.sentPackets.Load(),
		SentBytes:   s.sentBytes.Load(),
		Dropped:     s.q.dropped.Load(),
		Errors:      s.errs.Load(),
	}
}

// run dials on the first queued packet, opens one unidirectional stream,
// and drains the queue into it. Any failure deactivates the sender; the
// mirror never retries.
func (s *QUICSender) run(ctx context.Context) {
	var (
		conn   quic.Connection
		stream quic.SendStream
	)

	defer func() {
		if stream != nil {
			stream.Close()
		}
		if conn != nil {
			conn.CloseWithError(0, "mirror closed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-s.q.ch:
			if stream == nil {
				var err error
				conn, stream, err = s.dial(ctx)
				if err != nil {
					s.errs.Add(1)
					s.active.Store(false)
					s.log.Warn("dial failed, mirror deactivated", "error", err)
					return
				}
				s.log.Info("mirror connected", "remote", conn.RemoteAddr())
			}

			n, err := stream.Write(pkt)
			if err != nil {
				s.errs.Add(1)
				s.active.Store(false)
				s.log.Warn("write failed, mirror deactivated", "error", err)
				return
			}
			s.sentPackets.Add(1)
			s.sentBytes.Add(int64(n))
		}
	}
}

func (s *QUICSender) dial(ctx context.Context) (quic.Connection, quic.SendStream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, quicDialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, s.addr, s.tlsConf, &quic.Config{})
	if err != nil {
		return nil, nil, err
	}
	stream, err := conn.OpenUniStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, nil, err
	}
	return conn, stream, nil
}
