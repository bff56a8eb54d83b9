package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/zsiec/mirrorlink/relay"
)

var (
	testSPS = []byte{0x67, 0x42, 0xE0, 0x1F}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	testIDR = []byte{0x65, 0x88, 0x80, 0x10}
	testP   = []byte{0x41, 0x9A, 0x10}
	testAUD = []byte{0x09, 0xF0}
)

func annexB(nals ...[]byte) []byte {
	var buf []byte
	for _, nal := range nals {
		buf = append(buf, 0, 0, 0, 1)
		buf = append(buf, nal...)
	}
	return buf
}

// captureSink implements sender.Sender and records delivered packets.
type captureSink struct {
	mu      sync.Mutex
	packets [][]byte
}

func (s *captureSink) Send(pkt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, pkt)
	return nil
}

func (s *captureSink) Flush() error   { return nil }
func (s *captureSink) IsActive() bool { return true }
func (s *captureSink) Close() error   { return nil }

func (s *captureSink) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		got := len(s.packets)
		s.mu.Unlock()
		if got >= n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d packets, have %d", n, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.packets...)
}

type stubSource struct {
	ch           chan AccessUnit
	keyframeReqs int
}

func (s *stubSource) AccessUnits() <-chan AccessUnit { return s.ch }
func (s *stubSource) RequestKeyframe()               { s.keyframeReqs++ }

func startEngine(t *testing.T) (*Engine, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	r := relay.New(nil)
	r.SetPrimary(relay.Sink{Sender: sink, Framer: relay.RawFramer{}})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	e := New(Config{SSRC: 0x1000}, &stubSource{ch: make(chan AccessUnit)}, r, nil)
	return e, sink
}

func unmarshalAll(t *testing.T, raw [][]byte) []rtp.Packet {
	t.Helper()
	pkts := make([]rtp.Packet, len(raw))
	for i, buf := range raw {
		if err := pkts[i].Unmarshal(buf); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
	}
	return pkts
}

func TestProcessKeyframeResendsParameterSets(t *testing.T) {
	t.Parallel()
	e, sink := startEngine(t)

	e.process(AccessUnit{Data: annexB(testSPS, testPPS, testIDR), PTS: 0})

	// Two parameter-set resends ahead of the IDR, then the three NALs of
	// the access unit itself.
	raw := sink.wait(t, 5)
	pkts := unmarshalAll(t, raw)
	if len(pkts) != 5 {
		t.Fatalf("got %d packets, want 5", len(pkts))
	}

	if pkts[0].Payload[0] != 0x67 || pkts[1].Payload[0] != 0x68 {
		t.Errorf("resent parameter sets out of order: %x %x", pkts[0].Payload[0], pkts[1].Payload[0])
	}
	for i, pkt := range pkts {
		if pkt.Timestamp != 0 {
			t.Errorf("packet %d: timestamp %d", i, pkt.Timestamp)
		}
		wantMarker := i == len(pkts)-1
		if pkt.Marker != wantMarker {
			t.Errorf("packet %d: marker = %v", i, pkt.Marker)
		}
	}
	if pkts[4].Payload[0] != 0x65 {
		t.Errorf("final packet is not the IDR: %x", pkts[4].Payload[0])
	}
}

func TestProcessNonKeyframeSkipsResend(t *testing.T) {
	t.Parallel()
	e, sink := startEngine(t)

	e.process(AccessUnit{Data: annexB(testSPS, testPPS, testIDR), PTS: 0})
	sink.wait(t, 5)

	// 33ms later: one P slice, no IDR, refresh interval not elapsed.
	e.process(AccessUnit{Data: annexB(testP), PTS: 33_333})
	raw := sink.wait(t, 6)
	if len(raw) != 6 {
		t.Fatalf("got %d packets, want 6", len(raw))
	}

	pkts := unmarshalAll(t, raw)
	last := pkts[5]
	if last.Payload[0] != 0x41 {
		t.Errorf("expected the P slice, got NAL header %x", last.Payload[0])
	}
	if !last.Marker {
		t.Error("marker not set on the access unit's only packet")
	}
	// 33333us on the 90kHz clock.
	if want := uint32(33_333 * 9 / 100); last.Timestamp != want {
		t.Errorf("timestamp = %d, want %d", last.Timestamp, want)
	}
}

func TestProcessSkipsAUDAndKeepsMarker(t *testing.T) {
	t.Parallel()
	e, sink := startEngine(t)

	// AUD precedes the slice and another AUD trails it; neither transmits
	// and the marker still lands on the slice.
	e.process(AccessUnit{Data: annexB(testAUD, testP, testAUD), PTS: 0})

	raw := sink.wait(t, 1)
	if len(raw) != 1 {
		t.Fatalf("got %d packets, want 1", len(raw))
	}
	pkts := unmarshalAll(t, raw)
	if pkts[0].Payload[0] != 0x41 {
		t.Errorf("transmitted NAL header %x, want the slice", pkts[0].Payload[0])
	}
	if !pkts[0].Marker {
		t.Error("marker not set")
	}
}

func TestProcessEmptyAccessUnit(t *testing.T) {
	t.Parallel()
	e, _ := startEngine(t)

	e.process(AccessUnit{Data: nil, PTS: 0})
	e.process(AccessUnit{Data: annexB(testAUD), PTS: 0})

	if s := e.Stats(); s.Packets != 0 {
		t.Errorf("packets = %d, want 0", s.Packets)
	}
}

func TestPerTileSequenceSpaces(t *testing.T) {
	t.Parallel()
	e, sink := startEngine(t)

	e.process(AccessUnit{Data: annexB(testP), PTS: 0, TileIndex: 0})
	e.process(AccessUnit{Data: annexB(testP), PTS: 0, TileIndex: 1})

	raw := sink.wait(t, 2)
	pkts := unmarshalAll(t, raw)
	if pkts[0].SSRC == pkts[1].SSRC {
		t.Errorf("tiles share SSRC %d", pkts[0].SSRC)
	}
	if pkts[0].SequenceNumber != 0 || pkts[1].SequenceNumber != 0 {
		t.Errorf("tiles share a sequence space: %d, %d",
			pkts[0].SequenceNumber, pkts[1].SequenceNumber)
	}
}

func TestRequestKeyframeForwards(t *testing.T) {
	t.Parallel()
	src := &stubSource{ch: make(chan AccessUnit)}
	e := New(Config{}, src, relay.New(nil), nil)

	e.RequestKeyframe()
	e.RequestKeyframe()
	if src.keyframeReqs != 2 {
		t.Errorf("keyframe requests = %d, want 2", src.keyframeReqs)
	}
}

func TestRunStopsWhenSourceCloses(t *testing.T) {
	t.Parallel()
	src := &stubSource{ch: make(chan AccessUnit)}
	e := New(Config{}, src, relay.New(nil), nil)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	close(src.ch)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on source close")
	}
}
