package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestVID0RoundTrip(t *testing.T) {
	t.Parallel()
	pkt := []byte{0x80, 0x60, 0x00, 0x01, 0xDE, 0xAD}
	frame := EncodeVID0(pkt)

	if len(frame) != VID0HeaderLen+len(pkt) {
		t.Fatalf("frame length %d, want %d", len(frame), VID0HeaderLen+len(pkt))
	}
	if !bytes.Equal(frame[0:4], []byte("VID0")) {
		t.Fatalf("magic mismatch: %x", frame[0:4])
	}
	if !bytes.Equal(frame[4:8], []byte{0x00, 0x00, 0x00, 0x06}) {
		t.Fatalf("length field mismatch: %x", frame[4:8])
	}

	got, err := ReadVID0(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, pkt) {
		t.Errorf("payload mismatch: %x", got)
	}
}

func TestVID0BatchedFrames(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = AppendVID0(buf, []byte{1})
	buf = AppendVID0(buf, []byte{2, 2})
	buf = AppendVID0(buf, nil)

	r := bytes.NewReader(buf)
	for i, want := range [][]byte{{1}, {2, 2}, {}} {
		got, err := ReadVID0(r)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %x, want %x", i, got, want)
		}
	}
	if _, err := ReadVID0(r); err != io.EOF {
		t.Errorf("after last frame: got %v, want EOF", err)
	}
}

func TestReadVID0Rejects(t *testing.T) {
	t.Parallel()
	bad := EncodeVID0([]byte{1, 2, 3})
	bad[0] = 'X'
	if _, err := ReadVID0(bytes.NewReader(bad)); err == nil {
		t.Error("bad magic: expected error")
	}

	oversize := []byte{'V', 'I', 'D', '0', 0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := ReadVID0(bytes.NewReader(oversize)); err == nil {
		t.Error("oversize length: expected error")
	}

	truncated := EncodeVID0([]byte{1, 2, 3})[:VID0HeaderLen+1]
	if _, err := ReadVID0(bytes.NewReader(truncated)); err == nil {
		t.Error("truncated payload: expected error")
	}
}
