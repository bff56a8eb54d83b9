package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// VID0 stream framing: each RTP packet on a byte-stream transport (USB, TCP)
// is preceded by the 4-byte magic "VID0" and a 4-byte big-endian length.
const (
	VID0HeaderLen = 8

	// maxVID0Payload bounds a declared frame length when reading from a
	// stream, so a corrupt header cannot trigger an unbounded allocation.
	maxVID0Payload = 1 << 20
)

// VID0Magic is the literal framing magic as it appears on the wire.
var VID0Magic = [4]byte{'V', 'I', 'D', '0'}

// AppendVID0 appends a VID0-framed packet to dst and returns the extended
// slice. Useful for batching several packets into one buffer before a
// single stream write.
func AppendVID0(dst, pkt []byte) []byte {
	dst = append(dst, VID0Magic[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(pkt)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, pkt...)
}

// EncodeVID0 returns a freshly allocated VID0 frame for one packet.
func EncodeVID0(pkt []byte) []byte {
	return AppendVID0(make([]byte, 0, VID0HeaderLen+len(pkt)), pkt)
}

// ReadVID0 reads one VID0 frame from r and returns its payload. It is the
// receive-side counterpart used by collectors and tests.
func ReadVID0(r io.Reader) ([]byte, error) {
	var hdr [VID0HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if [4]byte(hdr[0:4]) != VID0Magic {
		return nil, fmt.Errorf("wire: bad VID0 magic %x", hdr[0:4])
	}
	length := binary.BigEndian.Uint32(hdr[4:8])
	if length > maxVID0Payload {
		return nil, fmt.Errorf("wire: VID0 frame length %d exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
