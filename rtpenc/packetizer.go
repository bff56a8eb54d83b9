// Package rtpenc converts H.264 NAL units into RTP packets per RFC 6184,
// using Single NAL Unit packets when a NAL fits in the MTU and FU-A
// fragmentation when it does not. It also caches SPS/PPS parameter sets so
// they can be re-sent ahead of keyframes and to late-joining receivers.
package rtpenc

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/zsiec/mirrorlink/h264"
)

// DefaultMTU is the largest RTP payload emitted per packet. 1200 bytes keeps
// the full packet under typical path MTUs with headroom for tunnel overhead.
const DefaultMTU = 1200

const (
	fuaHeaderLen = 2
	fuaType      = 28

	fuaStartBit = 0x80
	fuaEndBit   = 0x40
)

// EmitFunc receives each marshaled RTP packet. The slice is freshly
// allocated per packet and may be retained.
type EmitFunc func(pkt []byte)

// Config parameterizes a Packetizer. Zero values select the defaults noted
// per field.
type Config struct {
	PayloadType uint8  // RTP payload type; default 96 (dynamic H.264)
	SSRC        uint32 // stream source identifier
	MTU         int    // max RTP payload bytes; default DefaultMTU
	InitialSeq  uint16 // starting sequence number
}

// Packetizer owns the RTP sequence/timestamp state for one video stream.
// It is not safe for concurrent use; the encoder boundary drives it from a
// single goroutine.
type Packetizer struct {
	payloadType uint8
	ssrc        uint32
	mtu         int

	seq       uint16
	timestamp uint32

	sps []byte
	pps []byte
}

// New creates a Packetizer from cfg.
func New(cfg Config) *Packetizer {
	if cfg.MTU <= fuaHeaderLen {
		cfg.MTU = DefaultMTU
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = 96
	}
	return &Packetizer{
		payloadType: cfg.PayloadType,
		ssrc:        cfg.SSRC,
		mtu:         cfg.MTU,
		seq:         cfg.InitialSeq,
	}
}

// SetTimestamp sets the 90kHz clock shared by every packet of the access
// unit about to be packetized. Callers set it once per access unit.
func (p *Packetizer) SetTimestamp(ts90k uint32) {
	p.timestamp = ts90k
}

// AdvanceTimestamp moves the shared clock forward by delta 90kHz ticks,
// wrapping mod 2^32.
func (p *Packetizer) AdvanceTimestamp(delta uint32) {
	p.timestamp += delta
}

// Timestamp returns the current 90kHz clock value.
func (p *Packetizer) Timestamp() uint32 {
	return p.timestamp
}

// SequenceNumber returns the sequence number the next emitted packet will carry.
func (p *Packetizer) SequenceNumber() uint16 {
	return p.seq
}

// CacheParameterSets stores the NAL verbatim if it is an SPS or PPS,
// overwriting any previously cached copy. Other NAL types are ignored.
func (p *Packetizer) CacheParameterSets(nal []byte) {
	switch h264.NALType(nal) {
	case h264.NALTypeSPS:
		p.sps = append([]byte(nil), nal...)
	case h264.NALTypePPS:
		p.pps = append([]byte(nil), nal...)
	}
}

// HasParameterSets reports whether both an SPS and a PPS have been cached.
func (p *Packetizer) HasParameterSets() bool {
	return p.sps != nil && p.pps != nil
}

// ResendParameterSets emits the cached SPS then PPS (whichever are present)
// as Single NAL Unit packets with the current timestamp and marker unset,
// so a receiver joining mid-stream can initialize its decoder.
func (p *Packetizer) ResendParameterSets(emit EmitFunc) error {
	if p.sps != nil {
		if err := p.emitSingle(p.sps, false, emit); err != nil {
			return err
		}
	}
	if p.pps != nil {
		if err := p.emitSingle(p.pps, false, emit); err != nil {
			return err
		}
	}
	return nil
}

// Packetize converts one NAL unit into one or more RTP packets. NALs no
// larger than the MTU become a single packet carrying the given marker;
// larger NALs are FU-A fragmented and the marker applies only to the packet
// carrying the final fragment. An empty NAL emits nothing.
func (p *Packetizer) Packetize(nal []byte, marker bool, emit EmitFunc) error {
	if len(nal) == 0 {
		return nil
	}
	if len(nal) <= p.mtu {
		return p.emitSingle(nal, marker, emit)
	}
	return p.emitFragmented(nal, marker, emit)
}

func (p *Packetizer) emitSingle(payload []byte, marker bool, emit EmitFunc) error {
	buf, err := p.marshal(payload, marker)
	if err != nil {
		return err
	}
	emit(buf)
	return nil
}

// emitFragmented splits the NAL into FU-A fragments. The original NAL header
// byte is not transmitted; its F/NRI bits move into the FU indicator and its
// type into the low bits of the FU header, with S/E bits bracketing the run.
func (p *Packetizer) emitFragmented(nal []byte, marker bool, emit EmitFunc) error {
	indicator := nal[0]&0xE0 | fuaType
	nalType := nal[0] & 0x1F

	rest := nal[1:]
	chunk := p.mtu - fuaHeaderLen
	first := true

	for len(rest) > 0 {
		n := chunk
		if n > len(rest) {
			n = len(rest)
		}
		last := n == len(rest)

		fuHeader := nalType
		if first {
			fuHeader |= fuaStartBit
		}
		if last {
			fuHeader |= fuaEndBit
		}

		payload := make([]byte, 0, fuaHeaderLen+n)
		payload = append(payload, indicator, fuHeader)
		payload = append(payload, rest[:n]...)

		if err := p.emitSingle(payload, marker && last, emit); err != nil {
			return err
		}

		rest = rest[n:]
		first = false
	}
	return nil
}

func (p *Packetizer) marshal(payload []byte, marker bool) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal RTP packet: %w", err)
	}
	p.seq++
	return buf, nil
}

// FragmentCount returns how many RTP packets Packetize will emit for a NAL
// of the given length under the configured MTU.
func (p *Packetizer) FragmentCount(nalLen int) int {
	if nalLen == 0 {
		return 0
	}
	if nalLen <= p.mtu {
		return 1
	}
	chunk := p.mtu - fuaHeaderLen
	return (nalLen - 1 + chunk - 1) / chunk
}
