// Package sender provides the interchangeable video transport
// implementations: UDP fire-and-forget, TCP server-role with rebind, USB
// batched writes over a shared byte stream, and a best-effort QUIC mirror.
// All senders favor freshness over completeness: bounded queues evict the
// oldest packet on overflow, and a sender that exhausts its error budget
// deactivates permanently rather than retrying.
package sender

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Sender is the uniform transport contract. Send hands off one
// already-framed packet (ownership transfers to the sender); Flush forces
// any buffered data out; IsActive reports whether further sends will be
// accepted; Close releases resources and is idempotent. A sender never
// reactivates — callers construct a new instance after deactivation.
type Sender interface {
	Send(pkt []byte) error
	Flush() error
	IsActive() bool
	Close() error
}

// ErrInactive is returned by Send once a sender has deactivated or closed.
var ErrInactive = errors.New("sender: inactive")

// Stats is a point-in-time snapshot of a sender's delivery counters.
type Stats struct {
	SentPackets int64
	SentBytes   int64
	Dropped     int64
	Errors      int64
}

// dropOldestQueue is a bounded packet queue that evicts the oldest entry
// when full, so a slow consumer sees the freshest packets rather than a
// growing backlog. push never blocks the producer.
type dropOldestQueue struct {
	ch      chan []byte
	dropped atomic.Int64
}

func newDropOldestQueue(capacity int) *dropOldestQueue {
	return &dropOldestQueue{ch: make(chan []byte, capacity)}
}

func (q *dropOldestQueue) push(pkt []byte) {
	for {
		select {
		case q.ch <- pkt:
			return
		default:
			select {
			case <-q.ch:
				q.dropped.Add(1)
			default:
			}
		}
	}
}

// LockedWriter serializes writes to a shared byte stream with a coarse
// lock, so a video batch flush and a command ACK never interleave mid-write
// on a USB link that carries both.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLockedWriter wraps w.
func NewLockedWriter(w io.Writer) *LockedWriter {
	return &LockedWriter{w: w}
}

// Write performs one locked write of p.
func (l *LockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
