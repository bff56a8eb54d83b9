// Package wire defines the binary framing formats shared by the two ends of
// a mirroring link: the MIRA command/ACK envelope, the VID0 length-prefixed
// RTP stream framing, and the MTIL tile framing for multi-encoder streams.
// Every format is byte-exact; both peers must agree on these layouts.
package wire

import (
	"encoding/binary"
	"errors"
)

// MIRA command envelope constants. The header is little-endian; the magic is
// the uint32 0x4D495241 ("MIRA" read as LE bytes 41 52 49 4D on the wire).
const (
	MiraMagic     uint32 = 0x4D495241
	MiraVersion   byte   = 1
	MiraHeaderLen        = 14
	AckPayloadLen        = 8
)

var (
	// ErrShortHeader reports a buffer smaller than the 14-byte MIRA header.
	ErrShortHeader = errors.New("wire: buffer shorter than MIRA header")
	// ErrBadMagic reports a header whose magic does not match.
	ErrBadMagic = errors.New("wire: bad MIRA magic")
	// ErrBadVersion reports a header whose version byte does not match.
	ErrBadVersion = errors.New("wire: unsupported MIRA version")
	// ErrShortPayload reports a frame whose declared payload length exceeds
	// the available bytes.
	ErrShortPayload = errors.New("wire: MIRA payload truncated")
)

// MiraHeader is the parsed form of the 14-byte MIRA envelope header.
type MiraHeader struct {
	Cmd        byte
	Seq        uint32
	PayloadLen uint32
}

// EncodeMira builds a complete MIRA frame: header plus payload. A nil
// payload encodes a zero-length frame.
func EncodeMira(cmd byte, seq uint32, payload []byte) []byte {
	buf := make([]byte, MiraHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], MiraMagic)
	buf[4] = MiraVersion
	buf[5] = cmd
	binary.LittleEndian.PutUint32(buf[6:10], seq)
	binary.LittleEndian.PutUint32(buf[10:14], uint32(len(payload)))
	copy(buf[MiraHeaderLen:], payload)
	return buf
}

// ParseMiraHeader validates and decodes a MIRA header at the start of buf.
// It does not consume the payload; callers check PayloadLen against the
// remaining bytes themselves (or use ParseMiraFrame).
func ParseMiraHeader(buf []byte) (MiraHeader, error) {
	if len(buf) < MiraHeaderLen {
		return MiraHeader{}, ErrShortHeader
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != MiraMagic {
		return MiraHeader{}, ErrBadMagic
	}
	if buf[4] != MiraVersion {
		return MiraHeader{}, ErrBadVersion
	}
	return MiraHeader{
		Cmd:        buf[5],
		Seq:        binary.LittleEndian.Uint32(buf[6:10]),
		PayloadLen: binary.LittleEndian.Uint32(buf[10:14]),
	}, nil
}

// ParseMiraFrame decodes a header and returns the payload slice it declares.
// The payload aliases buf; callers that retain it must copy.
func ParseMiraFrame(buf []byte) (MiraHeader, []byte, error) {
	hdr, err := ParseMiraHeader(buf)
	if err != nil {
		return MiraHeader{}, nil, err
	}
	end := MiraHeaderLen + int(hdr.PayloadLen)
	if end > len(buf) {
		return MiraHeader{}, nil, ErrShortPayload
	}
	return hdr, buf[MiraHeaderLen:end], nil
}

// EncodeAck builds a complete ACK frame correlating seq with a status byte.
// The 8-byte payload is the echoed sequence, the status, and 3 reserved bytes.
func EncodeAck(ackCmd byte, seq uint32, status byte) []byte {
	payload := make([]byte, AckPayloadLen)
	binary.LittleEndian.PutUint32(payload[0:4], seq)
	payload[4] = status
	return EncodeMira(ackCmd, seq, payload)
}

// ParseAckPayload decodes the echoed sequence and status from an ACK payload.
func ParseAckPayload(payload []byte) (seq uint32, status byte, err error) {
	if len(payload) < AckPayloadLen {
		return 0, 0, ErrShortPayload
	}
	return binary.LittleEndian.Uint32(payload[0:4]), payload[4], nil
}
