package sender

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/mirrorlink/wire"
)

const (
	// usbBufferSize is the pre-allocated batch buffer: large enough to hold
	// every packet of a typical access unit so a frame goes out in exactly
	// one write on the shared stream.
	usbBufferSize = 256 * 1024

	// usbFailLimit is the consecutive-write-failure budget before the
	// sender deactivates permanently. USB links do not self-heal.
	usbFailLimit = 3
)

// USBSender batches VID0-framed packets into a pre-allocated buffer and
// writes the whole batch with a single call on Flush. The caller supplies
// the already-open stream — typically a LockedWriter shared with the
// command-ACK path — and retains ownership of it; Close never closes the
// stream. Writes happen synchronously inside the caller's flush, so the
// sender owns no worker goroutine.
type USBSender struct {
	log *slog.Logger
	w   io.Writer

	mu          sync.Mutex
	buf         []byte
	consecFails int

	active atomic.Bool

	sentPackets atomic.Int64
	sentBytes   atomic.Int64
	flushes     atomic.Int64
	errs        atomic.Int64
}

// NewUSB creates a USB sender writing to the shared stream w. If log is
// nil, slog.Default() is used.
func NewUSB(w io.Writer, log *slog.Logger) *USBSender {
	if log == nil {
		log = slog.Default()
	}
	s := &USBSender{
		log: log.With("component", "usb-sender"),
		w:   w,
		buf: make([]byte, 0, usbBufferSize),
	}
	s.active.Store(true)
	return s
}

// Send appends one RTP packet to the batch buffer with VID0 framing. If the
// packet would overflow the buffer, the pending batch is flushed first.
func (s *USBSender) Send(pkt []byte) error {
	if !s.active.Load() {
		return ErrInactive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	need := wire.VID0HeaderLen + len(pkt)
	if len(s.buf)+need > cap(s.buf) && len(s.buf) > 0 {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	s.buf = wire.AppendVID0(s.buf, pkt)
	s.sentPackets.Add(1)
	return nil
}

// Flush writes the accumulated batch in exactly one call on the shared
// stream. An empty buffer flushes to nothing.
func (s *USBSender) Flush() error {
	if !s.active.Load() {
		return ErrInactive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *USBSender) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}

	n, err := s.w.Write(s.buf)
	// The batch is dropped either way: a partial or failed write leaves the
	// peer mid-frame, and the protocol recovers on the next keyframe.
	s.buf = s.buf[:0]

	if err != nil {
		s.errs.Add(1)
		s.consecFails++
		if s.consecFails >= usbFailLimit {
			s.active.Store(false)
			s.log.Warn("consecutive write failures, sender deactivated",
				"failures", s.consecFails, "error", err)
		}
		return err
	}

	s.consecFails = 0
	s.flushes.Add(1)
	s.sentBytes.Add(int64(n))
	return nil
}

// IsActive reports whether the sender still accepts packets.
func (s *USBSender) IsActive() bool {
	return s.active.Load()
}

// Close flushes any pending batch best-effort and deactivates the sender.
// The underlying stream stays open for the command-ACK path. Idempotent.
func (s *USBSender) Close() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	return nil
}

// Stats returns delivery counters.
func (s *USBSender) Stats() Stats {
	return Stats{
		SentPackets: s.sentPackets.Load(),
		SentBytes:   s.sentBytes.Load(),
		Errors:      s.errs.Load(),
	}
}
