package command

import (
	"errors"
	"testing"
)

func TestParseEncodeRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []Command{
		Ping{},
		Back{},
		VideoIdr{},
		DeviceInfo{},
		Tap{X: 540, Y: -1200},
		Key{Code: 66},
		Config{Width: 1080, Height: 1920, Bitrate: 4_000_000, MaxFps: 60},
		ClickByID{TargetID: "com.example:id/login"},
		ClickByText{Text: "Sign in"},
		Swipe{X1: 100, Y1: 200, X2: 300, Y2: 400, DurationMs: 250},
		Pinch{CenterX: 540, CenterY: 960, StartSpan: 100, EndSpan: 400, DurationMs: 300, Steps: 20},
		LongPress{X: 10, Y: 20, DurationMs: 800},
		VideoFps{Fps: 30},
		VideoRoute{Route: RouteTCP, Port: 5004, Host: "192.168.1.10"},
		VideoRoute{Route: RouteUSB},
	}
	for _, want := range cases {
		payload, err := Encode(want)
		if err != nil {
			t.Fatalf("%T: encode: %v", want, err)
		}
		got, err := Parse(want.ID(), payload)
		if err != nil {
			t.Fatalf("%T: parse: %v", want, err)
		}
		if got != want {
			t.Errorf("%T round trip:\n got %+v\nwant %+v", want, got, want)
		}
	}
}

func TestParseUnknownID(t *testing.T) {
	t.Parallel()
	cmd, err := Parse(0x7F, []byte{1, 2})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("got %v, want ErrUnknownCommand", err)
	}
	u, ok := cmd.(Unknown)
	if !ok {
		t.Fatalf("got %T, want Unknown", cmd)
	}
	if u.Cmd != 0x7F || len(u.Payload) != 2 {
		t.Errorf("Unknown fields: %+v", u)
	}
}

func TestParseShortPayloads(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		id      byte
		payload []byte
	}{
		{"tap", CmdTap, make([]byte, 7)},
		{"key", CmdKey, nil},
		{"config", CmdConfig, make([]byte, 15)},
		{"swipe", CmdSwipe, make([]byte, 19)},
		{"pinch", CmdPinch, make([]byte, 23)},
		{"longpress", CmdLongPress, make([]byte, 11)},
		{"fps", CmdVideoFps, make([]byte, 3)},
		{"route fixed", CmdVideoRoute, make([]byte, 3)},
		{"route host", CmdVideoRoute, []byte{RouteTCP, 0x94, 0x13, 5, 'a', 'b'}},
		{"click id", CmdClickByID, []byte{1}},
		{"click id short string", CmdClickByID, []byte{5, 0, 'a'}},
		{"click text short string", CmdClickByText, []byte{3, 0, 'x', 'y'}},
	}
	for _, tc := range cases {
		if _, err := Parse(tc.id, tc.payload); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s: got %v, want ErrInvalidPayload", tc.name, err)
		}
	}
}

func TestParseTrailingBytesTolerated(t *testing.T) {
	t.Parallel()
	payload, err := Encode(Tap{X: 1, Y: 2})
	if err != nil {
		t.Fatal(err)
	}
	payload = append(payload, 0xFF, 0xFF)
	cmd, err := Parse(CmdTap, payload)
	if err != nil {
		t.Fatalf("parse with trailing bytes: %v", err)
	}
	if tap := cmd.(Tap); tap.X != 1 || tap.Y != 2 {
		t.Errorf("tap fields: %+v", tap)
	}
}

func TestEncodeHostTooLong(t *testing.T) {
	t.Parallel()
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := Encode(VideoRoute{Route: RouteTCP, Host: string(long)}); err == nil {
		t.Error("expected error for 256-byte host")
	}
}
