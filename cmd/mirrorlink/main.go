// Command mirrorlink runs the device-side transport core: it packetizes an
// H.264 Annex B stream (a file or stdin standing in for the hardware
// encoder), serves it over the selected transport, and answers MIRA
// commands on a TCP control channel. Controllers can switch the video
// route, request keyframes, and drive gestures; gesture execution itself is
// delegated to the platform layer and only logged here.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mirrorlink/certs"
	"github.com/zsiec/mirrorlink/command"
	"github.com/zsiec/mirrorlink/engine"
	"github.com/zsiec/mirrorlink/h264"
	"github.com/zsiec/mirrorlink/preview"
	"github.com/zsiec/mirrorlink/relay"
	"github.com/zsiec/mirrorlink/sender"
)

var version = "dev"

func main() {
	var (
		input       string
		fps         int
		route       string
		videoAddr   string
		cmdAddr     string
		previewAddr string
		mirrorQUIC  string
		mirrorPin   string
		mtu         int
		ssrc        uint32
	)

	pflag.StringVarP(&input, "input", "i", "-", "Annex B H.264 stream ('-' for stdin)")
	pflag.IntVar(&fps, "fps", 30, "Playback frame rate for the input stream")
	pflag.StringVarP(&route, "route", "r", "tcp", "Initial video route (usb, tcp, udp)")
	pflag.StringVar(&videoAddr, "video-addr", ":5004", "Video listen address (tcp) or destination (udp)")
	pflag.StringVar(&cmdAddr, "cmd-addr", ":5005", "MIRA command channel listen address")
	pflag.StringVar(&previewAddr, "preview-addr", "", "Optional websocket preview listen address")
	pflag.StringVar(&mirrorQUIC, "mirror-quic", "", "Optional QUIC collector address to mirror to")
	pflag.StringVar(&mirrorPin, "mirror-fingerprint", "", "Base64 SHA-256 fingerprint of the collector certificate to pin")
	pflag.IntVar(&mtu, "mtu", 0, "RTP payload MTU (0 = default)")
	pflag.Uint32Var(&ssrc, "ssrc", 0x4D4C0001, "RTP SSRC")
	pflag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("mirrorlink starting",
		"version", version,
		"route", route,
		"video", videoAddr,
		"cmd", cmdAddr,
	)

	r := relay.New(nil)
	src := newFileSource(input, fps)
	eng := engine.New(engine.Config{SSRC: ssrc, MTU: mtu}, src, r, nil)

	exec := &deviceExecutor{
		log:       slog.With("component", "executor"),
		eng:       eng,
		relay:     r,
		usbStream: sender.NewLockedWriter(os.Stdout),
	}

	if err := exec.switchRoute(routeID(route), videoAddr); err != nil {
		slog.Error("initial route setup failed", "route", route, "error", err)
		os.Exit(1)
	}

	if mirrorQUIC != "" {
		var tlsConf *tls.Config
		if mirrorPin != "" {
			var err error
			tlsConf, err = certs.PinnedBase64(mirrorPin, sender.QUICProto)
			if err != nil {
				slog.Error("invalid mirror fingerprint", "error", err)
				os.Exit(1)
			}
		}
		r.AddMirror("quic", relay.Sink{
			Sender: sender.NewQUIC(mirrorQUIC, tlsConf, nil),
			Framer: relay.VID0Framer{},
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	if previewAddr != "" {
		pv := preview.NewServer(previewAddr, nil)
		r.AddMirror("preview", relay.Sink{Sender: pv, Framer: relay.VID0Framer{}})
		g.Go(func() error { return pv.Start(ctx) })
	}

	g.Go(func() error {
		r.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return src.Run(ctx)
	})

	g.Go(func() error {
		return eng.Run(ctx)
	})

	g.Go(func() error {
		return serveCommands(ctx, cmdAddr, exec)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// serveCommands accepts MIRA control connections and runs a dispatcher per
// client, with ACKs returned on the same connection. On a USB accessory
// link the dispatcher would instead share the video stream's LockedWriter.
func serveCommands(ctx context.Context, addr string, exec *deviceExecutor) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("command listen on %s: %w", addr, err)
	}
	slog.Info("command channel listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("command accept error", "error", err)
			continue
		}
		slog.Info("controller connected", "remote", conn.RemoteAddr())

		go func() {
			defer conn.Close()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()
			d := command.NewDispatcher(exec, conn, nil)
			if err := d.ReadLoop(ctx, conn); err != nil {
				slog.Debug("command read loop ended", "error", err)
			}
		}()
	}
}

func routeID(name string) byte {
	switch name {
	case "usb":
		return command.RouteUSB
	case "udp":
		return command.RouteUDP
	default:
		return command.RouteTCP
	}
}

// deviceExecutor maps parsed commands to local actions: transport swaps and
// keyframe requests are handled here; gestures belong to the platform input
// layer and are logged as placeholders.
type deviceExecutor struct {
	log       *slog.Logger
	eng       *engine.Engine
	relay     *relay.Relay
	usbStream *sender.LockedWriter
}

// Execute implements command.Executor. It returns promptly: the ACK means
// the command was parsed and dispatched, not that a gesture completed.
func (e *deviceExecutor) Execute(seq uint32, cmd command.Command) command.Status {
	switch c := cmd.(type) {
	case command.Ping:
		return command.StatusOK

	case command.VideoIdr:
		e.eng.RequestKeyframe()
		return command.StatusOK

	case command.VideoRoute:
		addr := c.Host
		if addr != "" {
			addr = net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
		}
		if err := e.switchRoute(c.Route, addr); err != nil {
			e.log.Warn("route switch failed", "route", c.Route, "error", err)
			return command.StatusNotFound
		}
		return command.StatusOK

	case command.VideoFps, command.Config:
		// Capture reconfiguration is owned by the encoder layer; the
		// stand-in source has a fixed cadence.
		e.log.Info("capture config command", "seq", seq, "cmd", fmt.Sprintf("%#v", cmd))
		return command.StatusOK

	case command.Tap, command.Back, command.Key, command.Swipe,
		command.Pinch, command.LongPress, command.ClickByID,
		command.ClickByText, command.DeviceInfo:
		e.log.Info("gesture dispatched", "seq", seq, "id", cmd.ID())
		return command.StatusOK
	}

	return command.StatusUnknownCmd
}

// switchRoute installs a new primary sender for the requested transport.
// The relay closes the previous one after the swap.
func (e *deviceExecutor) switchRoute(route byte, addr string) error {
	switch route {
	case command.RouteUSB:
		e.relay.SetPrimary(relay.Sink{
			Sender: sender.NewUSB(e.usbStream, nil),
			Framer: relay.RawFramer{},
		})
	case command.RouteTCP:
		s, err := sender.NewTCP(addr, e.eng.RequestKeyframe, nil)
		if err != nil {
			return err
		}
		e.relay.SetPrimary(relay.Sink{Sender: s, Framer: relay.VID0Framer{}})
	case command.RouteUDP:
		e.relay.SetPrimary(relay.Sink{
			Sender: sender.NewUDP(addr, nil),
			Framer: relay.RawFramer{},
		})
	default:
		return fmt.Errorf("unknown route %d", route)
	}
	e.eng.RequestKeyframe()
	return nil
}

// fileSource replays an Annex B elementary stream at a fixed frame rate,
// standing in for the hardware encoder. Access units are cut at each video
// slice; preceding parameter sets and SEI attach to the following slice.
type fileSource struct {
	log  *slog.Logger
	path string
	fps  int
	ch   chan engine.AccessUnit

	keyframeReqs atomic.Int64
}

func newFileSource(path string, fps int) *fileSource {
	if fps <= 0 {
		fps = 30
	}
	return &fileSource{
		log:  slog.With("component", "file-source", "path", path),
		path: path,
		fps:  fps,
		ch:   make(chan engine.AccessUnit, 4),
	}
}

// AccessUnits implements engine.Source.
func (f *fileSource) AccessUnits() <-chan engine.AccessUnit {
	return f.ch
}

// RequestKeyframe implements engine.Source. A replayed file has a fixed GOP
// structure, so the request is only counted; a real encoder source forces
// an IDR here.
func (f *fileSource) RequestKeyframe() {
	f.keyframeReqs.Add(1)
}

// Run reads the whole stream, cuts it into access units, and replays them
// in a loop at the configured rate until ctx is cancelled.
func (f *fileSource) Run(ctx context.Context) error {
	defer close(f.ch)

	var (
		data []byte
		err  error
	)
	if f.path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(f.path)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	units := cutAccessUnits(data)
	if len(units) == 0 {
		return errors.New("no access units in input")
	}
	f.log.Info("input loaded", "bytes", len(data), "access_units", len(units))

	interval := time.Second / time.Duration(f.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pts := int64(0)
	for i := 0; ; i = (i + 1) % len(units) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		au := units[i]
		select {
		case f.ch <- engine.AccessUnit{Data: au.data, PTS: pts, Keyframe: au.keyframe}:
		case <-ctx.Done():
			return nil
		}
		pts += interval.Microseconds()
	}
}

type rawAU struct {
	data     []byte
	keyframe bool
}

var startCode = []byte{0, 0, 0, 1}

// cutAccessUnits groups NAL units into access units: every VCL NAL closes
// the unit it belongs to, carrying along any parameter sets or SEI that
// preceded it.
func cutAccessUnits(data []byte) []rawAU {
	var units []rawAU
	var cur []byte
	keyframe := false

	for _, nal := range h264.SplitAnnexB(data) {
		cur = append(cur, startCode...)
		cur = append(cur, nal...)
		if h264.IsKeyframe(nal) {
			keyframe = true
		}
		switch h264.NALType(nal) {
		case h264.NALTypeSlice, h264.NALTypeIDR:
			units = append(units, rawAU{data: cur, keyframe: keyframe})
			cur = nil
			keyframe = false
		}
	}
	return units
}
