// Package engine bridges the capture source and the relay: it splits each
// encoded access unit into NAL units, packetizes them to RTP, enforces the
// SPS/PPS refresh policy, and pushes one batch per access unit downstream.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/mirrorlink/h264"
	"github.com/zsiec/mirrorlink/relay"
	"github.com/zsiec/mirrorlink/rtpenc"
)

// paramRefreshInterval is how often cached SPS/PPS are re-sent even without
// a keyframe, so a client that joins or resynchronizes mid-stream can
// initialize its decoder within a bounded wait.
const paramRefreshInterval = 3 * time.Second

// AccessUnit is one encoder output: a complete Annex B access unit with its
// presentation timestamp (microseconds) and keyframe flag. TileIndex is
// zero for single-encoder capture and identifies the tile otherwise.
type AccessUnit struct {
	Data      []byte
	PTS       int64
	Keyframe  bool
	TileIndex byte
}

// Source supplies encoded access units. The engine never initiates capture;
// RequestKeyframe asks the encoder for an IDR at the next opportunity (new
// client connected, controller sent VIDEO_IDR).
type Source interface {
	AccessUnits() <-chan AccessUnit
	RequestKeyframe()
}

// Config parameterizes the engine's packetizers.
type Config struct {
	SSRC        uint32
	PayloadType uint8
	MTU         int
}

// Stats is a snapshot of engine counters.
type Stats struct {
	AccessUnits int64
	Packets     int64
}

// Engine consumes access units from one source and produces relay batches.
// It owns a packetizer per tile index so tiled capture keeps independent
// RTP sequence spaces per tile connection.
type Engine struct {
	log   *slog.Logger
	cfg   Config
	src   Source
	relay *relay.Relay

	packetizers map[byte]*rtpenc.Packetizer
	frameID     uint32
	basePTS     int64
	baseSet     bool
	lastRefresh map[byte]time.Time

	auCount  atomic.Int64
	pktCount atomic.Int64
}

// New creates an Engine. If log is nil, slog.Default() is used.
func New(cfg Config, src Source, r *relay.Relay, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:         log.With("component", "engine"),
		cfg:         cfg,
		src:         src,
		relay:       r,
		packetizers: make(map[byte]*rtpenc.Packetizer),
		lastRefresh: make(map[byte]time.Time),
	}
}

// RequestKeyframe forwards an IDR request to the capture source. Wired to
// the TCP sender's connect callback and to the VIDEO_IDR command.
func (e *Engine) RequestKeyframe() {
	e.src.RequestKeyframe()
}

// Run consumes access units until ctx is cancelled or the source channel
// closes.
func (e *Engine) Run(ctx context.Context) error {
	units := e.src.AccessUnits()
	for {
		select {
		case <-ctx.Done():
			return nil
		case au, ok := <-units:
			if !ok {
				e.log.Info("capture source closed")
				return nil
			}
			e.process(au)
		}
	}
}

// process packetizes one access unit and pushes the resulting batch.
func (e *Engine) process(au AccessUnit) {
	nals := h264.SplitAnnexB(au.Data)
	if len(nals) == 0 {
		return
	}
	e.auCount.Add(1)

	p := e.packetizer(au.TileIndex)

	if !e.baseSet {
		e.basePTS = au.PTS
		e.baseSet = true
	}
	// Microseconds to the 90kHz RTP clock.
	p.SetTimestamp(uint32((au.PTS - e.basePTS) * 9 / 100))

	var pkts [][]byte
	emit := func(pkt []byte) { pkts = append(pkts, pkt) }

	sawIDR := false
	for _, nal := range nals {
		p.CacheParameterSets(nal)
		if h264.IsKeyframe(nal) {
			sawIDR = true
		}
	}

	// Parameter sets go out ahead of every IDR, and on a wall-clock
	// refresh so late joiners don't wait for the next keyframe.
	now := time.Now()
	if sawIDR || now.Sub(e.lastRefresh[au.TileIndex]) >= paramRefreshInterval {
		if p.HasParameterSets() {
			if err := p.ResendParameterSets(emit); err != nil {
				e.log.Warn("parameter set resend failed", "error", err)
			}
			e.lastRefresh[au.TileIndex] = now
		}
	}

	last := lastTransmittedNAL(nals)
	for i, nal := range nals {
		if skipNAL(nal) {
			continue
		}
		if err := p.Packetize(nal, i == last, emit); err != nil {
			e.log.Warn("packetize failed", "type", h264.NALType(nal), "error", err)
			return
		}
	}
	if len(pkts) == 0 {
		return
	}
	e.pktCount.Add(int64(len(pkts)))

	e.frameID++
	e.relay.Push(&relay.Batch{
		Packets:   pkts,
		FrameID:   e.frameID,
		Timestamp: uint64(au.PTS),
		Keyframe:  au.Keyframe || sawIDR,
		TileIndex: au.TileIndex,
	})
}

func (e *Engine) packetizer(tile byte) *rtpenc.Packetizer {
	p, ok := e.packetizers[tile]
	if !ok {
		p = rtpenc.New(rtpenc.Config{
			// Distinct SSRC per tile keeps receiver-side streams separable.
			SSRC:        e.cfg.SSRC + uint32(tile),
			PayloadType: e.cfg.PayloadType,
			MTU:         e.cfg.MTU,
		})
		e.packetizers[tile] = p
	}
	return p
}

// skipNAL filters NALs that carry no picture data worth transmitting.
func skipNAL(nal []byte) bool {
	switch h264.NALType(nal) {
	case h264.NALTypeAUD, h264.NALTypeFillerData:
		return true
	}
	return false
}

// lastTransmittedNAL returns the index of the final NAL that will actually
// be packetized, so the RTP marker lands on the access unit's last packet.
func lastTransmittedNAL(nals [][]byte) int {
	for i := len(nals) - 1; i >= 0; i-- {
		if !skipNAL(nals[i]) {
			return i
		}
	}
	return -1
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		AccessUnits: e.auCount.Load(),
		Packets:     e.pktCount.Load(),
	}
}
