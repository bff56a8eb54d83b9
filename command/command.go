// Package command implements the MIRA command protocol: the fixed,
// version-gated command set exchanged between controller and device, and the
// dispatcher that parses inbound frames, invokes the executor, and emits a
// correlated ACK for every command.
package command

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command identifiers carried in the MIRA header's command byte.
const (
	CmdPing        byte = 0x00
	CmdTap         byte = 0x01
	CmdBack        byte = 0x02
	CmdKey         byte = 0x03
	CmdConfig      byte = 0x04
	CmdClickByID   byte = 0x05
	CmdClickByText byte = 0x06
	CmdSwipe       byte = 0x07
	CmdPinch       byte = 0x08
	CmdLongPress   byte = 0x09
	CmdVideoFps    byte = 0x24
	CmdVideoRoute  byte = 0x25
	CmdVideoIdr    byte = 0x26
	CmdDeviceInfo  byte = 0x27
	CmdAck         byte = 0x80
)

// Status is the single-byte result carried in every ACK.
type Status byte

// ACK status codes. The dispatcher itself only produces the first three;
// Busy and NotFound are reserved for executors that report them.
const (
	StatusOK             Status = 0
	StatusUnknownCmd     Status = 1
	StatusInvalidPayload Status = 2
	StatusBusy           Status = 3
	StatusNotFound       Status = 4
)

// Video route identifiers carried by VideoRoute.
const (
	RouteUSB byte = 0
	RouteTCP byte = 1
	RouteUDP byte = 2
)

var (
	// ErrUnknownCommand reports a command id outside the known set.
	ErrUnknownCommand = errors.New("command: unknown command id")
	// ErrInvalidPayload reports a payload too short for the command's
	// fixed fields.
	ErrInvalidPayload = errors.New("command: payload too short")
)

// Command is the tagged union of parsed command payloads. Each variant owns
// only the fields its payload defines; the correlating sequence number
// travels alongside in the MIRA header.
type Command interface {
	ID() byte
}

// Ping carries no payload; the ACK itself is the liveness signal.
type Ping struct{}

// Tap is a single pointer down/up at device coordinates.
type Tap struct {
	X int32
	Y int32
}

// Back presses the device's back navigation control.
type Back struct{}

// Key injects a platform key code.
type Key struct {
	Code uint32
}

// Config updates the capture/encode parameters for the video stream.
type Config struct {
	Width   uint32
	Height  uint32
	Bitrate uint32
	MaxFps  uint32
}

// ClickByID asks the on-device recognizer to click the element with the
// given resource identifier.
type ClickByID struct {
	TargetID string
}

// ClickByText asks the on-device recognizer to click the element whose
// visible text matches.
type ClickByText struct {
	Text string
}

// Swipe is a pointer drag between two coordinates over a duration.
type Swipe struct {
	X1, Y1     int32
	X2, Y2     int32
	DurationMs uint32
}

// Pinch is a two-finger zoom gesture around a center point. The wire layout
// is the 24-byte variant, gated by the envelope version.
type Pinch struct {
	CenterX    int32
	CenterY    int32
	StartSpan  int32
	EndSpan    int32
	DurationMs uint32
	Steps      uint32
}

// LongPress holds a pointer down at a coordinate for a duration.
type LongPress struct {
	X          int32
	Y          int32
	DurationMs uint32
}

// VideoFps changes the capture frame rate.
type VideoFps struct {
	Fps uint32
}

// VideoRoute switches the active video transport. Host/Port are only
// meaningful for the TCP and UDP routes.
type VideoRoute struct {
	Route byte
	Port  uint16
	Host  string
}

// VideoIdr requests an immediate keyframe from the encoder.
type VideoIdr struct{}

// DeviceInfo requests the device descriptor, returned over the side channel.
type DeviceInfo struct{}

// Unknown wraps an unrecognized command id so the raw bytes stay available
// for diagnostics.
type Unknown struct {
	Cmd     byte
	Payload []byte
}

// ID implementations.
func (Ping) ID() byte        { return CmdPing }
func (Tap) ID() byte         { return CmdTap }
func (Back) ID() byte        { return CmdBack }
func (Key) ID() byte         { return CmdKey }
func (Config) ID() byte      { return CmdConfig }
func (ClickByID) ID() byte   { return CmdClickByID }
func (ClickByText) ID() byte { return CmdClickByText }
func (Swipe) ID() byte       { return CmdSwipe }
func (Pinch) ID() byte       { return CmdPinch }
func (LongPress) ID() byte   { return CmdLongPress }
func (VideoFps) ID() byte    { return CmdVideoFps }
func (VideoRoute) ID() byte  { return CmdVideoRoute }
func (VideoIdr) ID() byte    { return CmdVideoIdr }
func (DeviceInfo) ID() byte  { return CmdDeviceInfo }
func (u Unknown) ID() byte   { return u.Cmd }

// Fixed payload sizes (little-endian fields).
const (
	tapPayloadLen       = 8
	keyPayloadLen       = 4
	configPayloadLen    = 16
	swipePayloadLen     = 20
	pinchPayloadLen     = 24
	longPressPayloadLen = 12
	videoFpsPayloadLen  = 4
	videoRouteFixedLen  = 4 // route(1) + port(2) + host length(1)
)

// Parse decodes a command payload for the given id. Unrecognized ids return
// an Unknown command together with ErrUnknownCommand; recognized ids with a
// short payload return ErrInvalidPayload.
func Parse(id byte, payload []byte) (Command, error) {
	switch id {
	case CmdPing:
		return Ping{}, nil
	case CmdBack:
		return Back{}, nil
	case CmdVideoIdr:
		return VideoIdr{}, nil
	case CmdDeviceInfo:
		return DeviceInfo{}, nil

	case CmdTap:
		if len(payload) < tapPayloadLen {
			return nil, ErrInvalidPayload
		}
		return Tap{
			X: int32(binary.LittleEndian.Uint32(payload[0:4])),
			Y: int32(binary.LittleEndian.Uint32(payload[4:8])),
		}, nil

	case CmdKey:
		if len(payload) < keyPayloadLen {
			return nil, ErrInvalidPayload
		}
		return Key{Code: binary.LittleEndian.Uint32(payload[0:4])}, nil

	case CmdConfig:
		if len(payload) < configPayloadLen {
			return nil, ErrInvalidPayload
		}
		return Config{
			Width:   binary.LittleEndian.Uint32(payload[0:4]),
			Height:  binary.LittleEndian.Uint32(payload[4:8]),
			Bitrate: binary.LittleEndian.Uint32(payload[8:12]),
			MaxFps:  binary.LittleEndian.Uint32(payload[12:16]),
		}, nil

	case CmdClickByID:
		s, err := parseString16(payload)
		if err != nil {
			return nil, err
		}
		return ClickByID{TargetID: s}, nil

	case CmdClickByText:
		s, err := parseString16(payload)
		if err != nil {
			return nil, err
		}
		return ClickByText{Text: s}, nil

	case CmdSwipe:
		if len(payload) < swipePayloadLen {
			return nil, ErrInvalidPayload
		}
		return Swipe{
			X1:         int32(binary.LittleEndian.Uint32(payload[0:4])),
			Y1:         int32(binary.LittleEndian.Uint32(payload[4:8])),
			X2:         int32(binary.LittleEndian.Uint32(payload[8:12])),
			Y2:         int32(binary.LittleEndian.Uint32(payload[12:16])),
			DurationMs: binary.LittleEndian.Uint32(payload[16:20]),
		}, nil

	case CmdPinch:
		if len(payload) < pinchPayloadLen {
			return nil, ErrInvalidPayload
		}
		return Pinch{
			CenterX:    int32(binary.LittleEndian.Uint32(payload[0:4])),
			CenterY:    int32(binary.LittleEndian.Uint32(payload[4:8])),
			StartSpan:  int32(binary.LittleEndian.Uint32(payload[8:12])),
			EndSpan:    int32(binary.LittleEndian.Uint32(payload[12:16])),
			DurationMs: binary.LittleEndian.Uint32(payload[16:20]),
			Steps:      binary.LittleEndian.Uint32(payload[20:24]),
		}, nil

	case CmdLongPress:
		if len(payload) < longPressPayloadLen {
			return nil, ErrInvalidPayload
		}
		return LongPress{
			X:          int32(binary.LittleEndian.Uint32(payload[0:4])),
			Y:          int32(binary.LittleEndian.Uint32(payload[4:8])),
			DurationMs: binary.LittleEndian.Uint32(payload[8:12]),
		}, nil

	case CmdVideoFps:
		if len(payload) < videoFpsPayloadLen {
			return nil, ErrInvalidPayload
		}
		return VideoFps{Fps: binary.LittleEndian.Uint32(payload[0:4])}, nil

	case CmdVideoRoute:
		if len(payload) < videoRouteFixedLen {
			return nil, ErrInvalidPayload
		}
		hostLen := int(payload[3])
		if len(payload) < videoRouteFixedLen+hostLen {
			return nil, ErrInvalidPayload
		}
		return VideoRoute{
			Route: payload[0],
			Port:  binary.LittleEndian.Uint16(payload[1:3]),
			Host:  string(payload[videoRouteFixedLen : videoRouteFixedLen+hostLen]),
		}, nil
	}

	return Unknown{Cmd: id, Payload: payload}, ErrUnknownCommand
}

// Encode serializes a command payload (header excluded). It is the
// controller-side counterpart of Parse and keeps the two byte layouts in one
// place.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Ping, Back, VideoIdr, DeviceInfo:
		return nil, nil

	case Tap:
		buf := make([]byte, tapPayloadLen)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(c.X))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Y))
		return buf, nil

	case Key:
		buf := make([]byte, keyPayloadLen)
		binary.LittleEndian.PutUint32(buf[0:4], c.Code)
		return buf, nil

	case Config:
		buf := make([]byte, configPayloadLen)
		binary.LittleEndian.PutUint32(buf[0:4], c.Width)
		binary.LittleEndian.PutUint32(buf[4:8], c.Height)
		binary.LittleEndian.PutUint32(buf[8:12], c.Bitrate)
		binary.LittleEndian.PutUint32(buf[12:16], c.MaxFps)
		return buf, nil

	case ClickByID:
		return encodeString16(c.TargetID)

	case ClickByText:
		return encodeString16(c.Text)

	case Swipe:
		buf := make([]byte, swipePayloadLen)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(c.X1))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Y1))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(c.X2))
		binary.LittleEndian.PutUint32(buf[12:16], uint32(c.Y2))
		binary.LittleEndian.PutUint32(buf[16:20], c.DurationMs)
		return buf, nil

	case Pinch:
		buf := make([]byte, pinchPayloadLen)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(c.CenterX))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(c.CenterY))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(c.StartSpan))
		binary.LittleEndian.PutUint32(buf[12:16], uint32(c.EndSpan))
		binary.LittleEndian.PutUint32(buf[16:20], c.DurationMs)
		binary.LittleEndian.PutUint32(buf[20:24], c.Steps)
		return buf, nil

	case LongPress:
		buf := make([]byte, longPressPayloadLen)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(c.X))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Y))
		binary.LittleEndian.PutUint32(buf[8:12], c.DurationMs)
		return buf, nil

	case VideoFps:
		buf := make([]byte, videoFpsPayloadLen)
		binary.LittleEndian.PutUint32(buf[0:4], c.Fps)
		return buf, nil

	case VideoRoute:
		if len(c.Host) > 255 {
			return nil, fmt.Errorf("command: host too long (%d bytes)", len(c.Host))
		}
		buf := make([]byte, videoRouteFixedLen, videoRouteFixedLen+len(c.Host))
		buf[0] = c.Route
		binary.LittleEndian.PutUint16(buf[1:3], c.Port)
		buf[3] = byte(len(c.Host))
		return append(buf, c.Host...), nil
	}

	return nil, fmt.Errorf("command: cannot encode id 0x%02X: %w", cmd.ID(), ErrUnknownCommand)
}

func parseString16(payload []byte) (string, error) {
	if len(payload) < 2 {
		return "", ErrInvalidPayload
	}
	n := int(binary.LittleEndian.Uint16(payload[0:2]))
	if len(payload) < 2+n {
		return "", ErrInvalidPayload
	}
	return string(payload[2 : 2+n]), nil
}

func encodeString16(s string) ([]byte, error) {
	if len(s) > 0xFFFF {
		return nil, fmt.Errorf("command: string too long (%d bytes)", len(s))
	}
	buf := make([]byte, 2, 2+len(s))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(s)))
	return append(buf, s...), nil
}
