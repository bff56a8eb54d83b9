// Package relay fans out packetized access units from the encoder boundary
// to the active video transport and any secondary mirror sinks. A bounded
// drop-oldest batch queue decouples the producer from transport stalls, and
// a single dispatch worker keeps per-sender ordering intact.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/mirrorlink/sender"
	"github.com/zsiec/mirrorlink/wire"
)

// batchQueueCapacity bounds how many access units can be in flight between
// the producer and the dispatch worker. Overflow evicts the oldest batch:
// the system favors current-frame latency over completeness.
const batchQueueCapacity = 32

// Batch is one access unit's worth of raw RTP packets plus the metadata
// tile framing needs. Packets are ordered; every packet shares the batch's
// frame identity.
type Batch struct {
	Packets   [][]byte
	FrameID   uint32
	Timestamp uint64 // capture timestamp, microseconds
	Keyframe  bool
	TileIndex byte
}

// Framer converts one raw RTP packet into the bytes a particular sink
// transmits. Framing lives at the sink edge so one batch can fan out to
// transports with different wire formats.
type Framer interface {
	Frame(pkt []byte, b *Batch) []byte
}

// RawFramer passes packets through unchanged: UDP datagrams carry bare RTP,
// and the USB sender applies VID0 inside its own batch buffer.
type RawFramer struct{}

// Frame returns pkt unchanged.
func (RawFramer) Frame(pkt []byte, _ *Batch) []byte { return pkt }

// VID0Framer length-prefixes each packet for stream transports (TCP, QUIC).
type VID0Framer struct{}

// Frame returns a freshly allocated VID0 frame.
func (VID0Framer) Frame(pkt []byte, _ *Batch) []byte { return wire.EncodeVID0(pkt) }

// MTILFramer prefixes each packet with a tile header carrying the batch's
// frame id and timestamp, for multi-encoder tile connections.
type MTILFramer struct {
	TileIndex byte
}

// Frame returns a freshly allocated MTIL-framed packet.
func (f MTILFramer) Frame(pkt []byte, b *Batch) []byte {
	hdr := wire.TileHeader{
		Version:   wire.MTILVersion,
		TileIndex: f.TileIndex,
		FrameID:   b.FrameID,
		Timestamp: b.Timestamp,
	}
	return wire.AppendTilePacket(make([]byte, 0, wire.TileHeaderLen+len(pkt)), hdr, pkt)
}

// Sink pairs a sender with the framing its transport expects.
type Sink struct {
	Sender sender.Sender
	Framer Framer
}

// Stats is a snapshot of relay dispatch counters.
type Stats struct {
	BatchesQueued     int64
	BatchesDropped    int64
	BatchesDispatched int64
}

// Relay owns the batch queue, the currently-active primary sink, and a set
// of named mirror sinks. Swapping the primary is replace-and-close: the new
// sink is installed first, then the old sender is closed best-effort — a
// write already in flight on it may still complete, which is accepted.
type Relay struct {
	log *slog.Logger
	q   chan *Batch

	mu      sync.RWMutex
	primary *Sink
	mirrors map[string]Sink

	queued     atomic.Int64
	dropped    atomic.Int64
	dispatched atomic.Int64
}

// New creates a Relay with no sinks. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:     log.With("component", "relay"),
		q:       make(chan *Batch, batchQueueCapacity),
		mirrors: make(map[string]Sink),
	}
}

// SetPrimary installs sink as the active transport and closes the previous
// sender best-effort. Passing a zero-value Sink removes the primary.
func (r *Relay) SetPrimary(sink Sink) {
	r.mu.Lock()
	old := r.primary
	if sink.Sender != nil {
		if sink.Framer == nil {
			sink.Framer = RawFramer{}
		}
		r.primary = &sink
	} else {
		r.primary = nil
	}
	r.mu.Unlock()

	if old != nil {
		if err := old.Sender.Close(); err != nil {
			r.log.Debug("closing previous sender", "error", err)
		}
	}
}

// Primary returns the active sender, or nil if none is installed. Callers
// poll IsActive on it to detect a deactivated transport.
func (r *Relay) Primary() sender.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.primary == nil {
		return nil
	}
	return r.primary.Sender
}

// AddMirror registers a named secondary sink. Mirrors receive every batch
// the primary does; their failures never disturb the primary.
func (r *Relay) AddMirror(name string, sink Sink) {
	if sink.Framer == nil {
		sink.Framer = RawFramer{}
	}
	r.mu.Lock()
	r.mirrors[name] = sink
	r.mu.Unlock()
	r.log.Info("mirror added", "name", name)
}

// RemoveMirror unregisters and closes a mirror sink by name.
func (r *Relay) RemoveMirror(name string) {
	r.mu.Lock()
	sink, ok := r.mirrors[name]
	if ok {
		delete(r.mirrors, name)
	}
	r.mu.Unlock()

	if ok {
		sink.Sender.Close()
		r.log.Info("mirror removed", "name", name)
	}
}

// Push queues one batch for dispatch, evicting the oldest queued batch on
// overflow. It never blocks the producer.
func (r *Relay) Push(b *Batch) {
	r.queued.Add(1)
	for {
		select {
		case r.q <- b:
			return
		default:
			select {
			case <-r.q:
				r.dropped.Add(1)
			default:
			}
		}
	}
}

// Run dispatches batches until ctx is cancelled. It is the relay's only
// worker; all sink sends for a batch happen in order from here.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-r.q:
			r.dispatch(b)
		}
	}
}

func (r *Relay) dispatch(b *Batch) {
	r.mu.RLock()
	primary := r.primary
	mirrors := make([]Sink, 0, len(r.mirrors))
	for _, m := range r.mirrors {
		mirrors = append(mirrors, m)
	}
	r.mu.RUnlock()

	if primary != nil {
		r.sendBatch(*primary, b)
	}
	for _, m := range mirrors {
		r.sendBatch(m, b)
	}
	r.dispatched.Add(1)
}

// sendBatch feeds every packet of one access unit to a sink and flushes.
// A send failure abandons the rest of the batch for that sink only.
func (r *Relay) sendBatch(sink Sink, b *Batch) {
	if !sink.Sender.IsActive() {
		return
	}
	for _, pkt := range b.Packets {
		if err := sink.Sender.Send(sink.Framer.Frame(pkt, b)); err != nil {
			r.log.Debug("sink send failed", "frame", b.FrameID, "error", err)
			return
		}
	}
	if err := sink.Sender.Flush(); err != nil {
		r.log.Debug("sink flush failed", "frame", b.FrameID, "error", err)
	}
}

// Stats returns a snapshot of dispatch counters.
func (r *Relay) Stats() Stats {
	return Stats{
		BatchesQueued:     r.queued.Load(),
		BatchesDropped:    r.dropped.Load(),
		BatchesDispatched: r.dispatched.Load(),
	}
}
