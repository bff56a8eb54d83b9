package wire

import (
	"encoding/binary"
	"fmt"
)

// MTIL tile framing carries one tile's RTP packets over a dedicated stream
// connection when the frame is split across multiple encoder instances.
// A 20-byte StreamHello describes the tile grid once per connection; each
// packet is then preceded by a 22-byte tile header. All fields big-endian.
const (
	StreamHelloLen = 20
	TileHeaderLen  = 22

	MTILVersion byte = 1
)

// Framing magics as they appear on the wire.
var (
	StreamHelloMagic = [4]byte{'M', 'S', 'H', '1'}
	TileMagic        = [4]byte{'M', 'T', 'I', 'L'}
)

// StreamHello is the one-time per-connection tile announcement.
type StreamHello struct {
	Version   byte
	CodecID   byte
	TileIndex byte
	TilesX    byte
	TilesY    byte
	Flags     byte
	TargetW   uint16
	TargetH   uint16
	TileW     uint16
	TileH     uint16
}

// EncodeStreamHello serializes the 20-byte StreamHello.
// Layout: magic(4) version(1) codec(1) tileIndex(1) tilesX(1) tilesY(1)
// flags(1) targetW(2) targetH(2) tileW(2) tileH(2) reserved(2).
func EncodeStreamHello(h StreamHello) []byte {
	buf := make([]byte, StreamHelloLen)
	copy(buf[0:4], StreamHelloMagic[:])
	buf[4] = h.Version
	buf[5] = h.CodecID
	buf[6] = h.TileIndex
	buf[7] = h.TilesX
	buf[8] = h.TilesY
	buf[9] = h.Flags
	binary.BigEndian.PutUint16(buf[10:12], h.TargetW)
	binary.BigEndian.PutUint16(buf[12:14], h.TargetH)
	binary.BigEndian.PutUint16(buf[14:16], h.TileW)
	binary.BigEndian.PutUint16(buf[16:18], h.TileH)
	// buf[18:20] reserved
	return buf
}

// ParseStreamHello decodes a StreamHello from the start of buf.
func ParseStreamHello(buf []byte) (StreamHello, error) {
	if len(buf) < StreamHelloLen {
		return StreamHello{}, fmt.Errorf("wire: StreamHello needs %d bytes, have %d", StreamHelloLen, len(buf))
	}
	if [4]byte(buf[0:4]) != StreamHelloMagic {
		return StreamHello{}, fmt.Errorf("wire: bad StreamHello magic %x", buf[0:4])
	}
	return StreamHello{
		Version:   buf[4],
		CodecID:   buf[5],
		TileIndex: buf[6],
		TilesX:    buf[7],
		TilesY:    buf[8],
		Flags:     buf[9],
		TargetW:   binary.BigEndian.Uint16(buf[10:12]),
		TargetH:   binary.BigEndian.Uint16(buf[12:14]),
		TileW:     binary.BigEndian.Uint16(buf[14:16]),
		TileH:     binary.BigEndian.Uint16(buf[16:18]),
	}, nil
}

// TileHeader precedes every RTP packet on a tile connection, binding the
// packet to a tile index, frame id, and capture timestamp.
type TileHeader struct {
	Version    byte
	TileIndex  byte
	FrameID    uint32
	Timestamp  uint64
	PayloadLen uint32
}

// AppendTilePacket appends a tile header plus the packet bytes to dst.
// Layout: magic(4) version(1) tileIndex(1) frameID(4) timestamp(8) len(4).
func AppendTilePacket(dst []byte, hdr TileHeader, pkt []byte) []byte {
	var buf [TileHeaderLen]byte
	copy(buf[0:4], TileMagic[:])
	buf[4] = hdr.Version
	buf[5] = hdr.TileIndex
	binary.BigEndian.PutUint32(buf[6:10], hdr.FrameID)
	binary.BigEndian.PutUint64(buf[10:18], hdr.Timestamp)
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(pkt)))
	dst = append(dst, buf[:]...)
	return append(dst, pkt...)
}

// ParseTileHeader decodes a tile header from the start of buf.
func ParseTileHeader(buf []byte) (TileHeader, error) {
	if len(buf) < TileHeaderLen {
		return TileHeader{}, fmt.Errorf("wire: tile header needs %d bytes, have %d", TileHeaderLen, len(buf))
	}
	if [4]byte(buf[0:4]) != TileMagic {
		return TileHeader{}, fmt.Errorf("wire: bad tile magic %x", buf[0:4])
	}
	return TileHeader{
		Version:    buf[4],
		TileIndex:  buf[5],
		FrameID:    binary.BigEndian.Uint32(buf[6:10]),
		Timestamp:  binary.BigEndian.Uint64(buf[10:18]),
		PayloadLen: binary.BigEndian.Uint32(buf[18:22]),
	}, nil
}
