package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeMiraLiteral(t *testing.T) {
	t.Parallel()
	// PING (cmd 0), seq=7, empty payload.
	frame := EncodeMira(0x00, 7, nil)
	want := []byte{
		0x41, 0x52, 0x49, 0x4D, // magic "ARIM" on the wire (LE 0x4D495241)
		0x01,                   // version
		0x00,                   // command
		0x07, 0x00, 0x00, 0x00, // seq
		0x00, 0x00, 0x00, 0x00, // payload length
	}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame mismatch:\n got %x\nwant %x", frame, want)
	}
}

func TestMiraHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cmd     byte
		seq     uint32
		payload []byte
	}{
		{0x00, 0, nil},
		{0x01, 1, []byte{0xAA}},
		{0x24, 0xDEADBEEF, make([]byte, 300)},
		{0x80, 0xFFFFFFFF, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	}
	for _, tc := range cases {
		frame := EncodeMira(tc.cmd, tc.seq, tc.payload)
		hdr, payload, err := ParseMiraFrame(frame)
		if err != nil {
			t.Fatalf("cmd %#x: parse error: %v", tc.cmd, err)
		}
		if hdr.Cmd != tc.cmd || hdr.Seq != tc.seq || int(hdr.PayloadLen) != len(tc.payload) {
			t.Errorf("cmd %#x: header mismatch: %+v", tc.cmd, hdr)
		}
		if !bytes.Equal(payload, tc.payload) {
			t.Errorf("cmd %#x: payload mismatch", tc.cmd)
		}
	}
}

func TestParseMiraHeaderRejects(t *testing.T) {
	t.Parallel()
	good := EncodeMira(0x01, 42, []byte{1, 2, 3})

	if _, err := ParseMiraHeader(good[:10]); !errors.Is(err, ErrShortHeader) {
		t.Errorf("short buffer: got %v, want ErrShortHeader", err)
	}

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 0xFF
	if _, err := ParseMiraHeader(badMagic); !errors.Is(err, ErrBadMagic) {
		t.Errorf("bad magic: got %v, want ErrBadMagic", err)
	}

	badVer := append([]byte(nil), good...)
	badVer[4] = 2
	if _, err := ParseMiraHeader(badVer); !errors.Is(err, ErrBadVersion) {
		t.Errorf("bad version: got %v, want ErrBadVersion", err)
	}

	// Declared payload longer than the buffer.
	if _, _, err := ParseMiraFrame(good[:MiraHeaderLen+1]); !errors.Is(err, ErrShortPayload) {
		t.Errorf("truncated payload: got %v, want ErrShortPayload", err)
	}
}

func TestAckRoundTrip(t *testing.T) {
	t.Parallel()
	frame := EncodeAck(0x80, 1234, 2)
	hdr, payload, err := ParseMiraFrame(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if hdr.Cmd != 0x80 || hdr.Seq != 1234 || hdr.PayloadLen != AckPayloadLen {
		t.Fatalf("header mismatch: %+v", hdr)
	}
	seq, status, err := ParseAckPayload(payload)
	if err != nil {
		t.Fatalf("payload parse: %v", err)
	}
	if seq != 1234 || status != 2 {
		t.Errorf("ack fields: seq=%d status=%d", seq, status)
	}
	// Reserved bytes stay zero.
	if payload[5] != 0 || payload[6] != 0 || payload[7] != 0 {
		t.Errorf("reserved bytes not zero: %x", payload[5:8])
	}
}

func TestParseAckPayloadShort(t *testing.T) {
	t.Parallel()
	if _, _, err := ParseAckPayload([]byte{1, 2, 3}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("got %v, want ErrShortPayload", err)
	}
}
