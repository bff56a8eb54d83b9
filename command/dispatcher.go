package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/mirrorlink/wire"
)

// readBufferSize bounds a single inbound read. Command frames are small;
// the largest variable payload is a click-by-text string.
const readBufferSize = 64 * 1024

// Executor performs the device action for a parsed command. It must return
// promptly: the ACK is sent as soon as Execute returns, so long-running
// gestures are scheduled internally and their completion reported over a
// side channel. Busy and NotFound statuses originate here, never in the
// dispatcher.
type Executor interface {
	Execute(seq uint32, cmd Command) Status
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(seq uint32, cmd Command) Status

// Execute calls f.
func (f ExecutorFunc) Execute(seq uint32, cmd Command) Status { return f(seq, cmd) }

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	FramesReceived int64
	AcksSent       int64
	FramesDropped  int64
	AckErrors      int64
}

// Dispatcher parses MIRA frames from the command channel, invokes the
// executor, and emits exactly one ACK per valid header. Malformed frames
// (bad magic/version, truncated payload) are dropped without an ACK since
// no sequence number can be trusted.
type Dispatcher struct {
	log  *slog.Logger
	exec Executor
	ack  io.Writer // shared with the video path on USB; must serialize writes itself

	received  atomic.Int64
	acked     atomic.Int64
	dropped   atomic.Int64
	ackErrors atomic.Int64
}

// NewDispatcher creates a Dispatcher writing ACKs to ackWriter. On a USB
// link ackWriter is the same locked stream the video sender flushes to, so
// an ACK and a video batch never interleave mid-write. If log is nil,
// slog.Default() is used.
func NewDispatcher(exec Executor, ackWriter io.Writer, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:  log.With("component", "dispatcher"),
		exec: exec,
		ack:  ackWriter,
	}
}

// HandleFrame makes a single parse attempt on one inbound read's bytes.
// The link is private and point-to-point, so a framing violation discards
// the whole buffer rather than resynchronizing byte by byte.
func (d *Dispatcher) HandleFrame(buf []byte) {
	d.received.Add(1)

	hdr, payload, err := wire.ParseMiraFrame(buf)
	if err != nil {
		d.dropped.Add(1)
		d.log.Debug("dropping malformed frame", "len", len(buf), "error", err)
		return
	}

	if hdr.Cmd == CmdAck {
		// ACKs flow device-to-controller only; an inbound one is an echo
		// or a misrouted frame. Acking it would loop.
		d.dropped.Add(1)
		d.log.Debug("ignoring inbound ACK frame", "seq", hdr.Seq)
		return
	}

	status := d.dispatch(hdr.Seq, hdr.Cmd, payload)
	d.sendAck(hdr.Seq, status)
}

// dispatch maps (command id, payload) to an executor invocation and the
// resulting ACK status. Parse failures never reach the executor.
func (d *Dispatcher) dispatch(seq uint32, id byte, payload []byte) Status {
	cmd, err := Parse(id, payload)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		d.log.Warn("unknown command", "id", id, "seq", seq)
		return StatusUnknownCmd
	case errors.Is(err, ErrInvalidPayload):
		d.log.Warn("invalid payload", "id", id, "seq", seq, "len", len(payload))
		return StatusInvalidPayload
	case err != nil:
		return StatusInvalidPayload
	}

	return d.exec.Execute(seq, cmd)
}

// sendAck writes the correlated ACK. ACK failures are counted, not
// propagated: the command channel shares the transport's fate and the read
// loop will observe the broken link on its next read.
func (d *Dispatcher) sendAck(seq uint32, status Status) {
	frame := wire.EncodeAck(CmdAck, seq, byte(status))
	if _, err := d.ack.Write(frame); err != nil {
		d.ackErrors.Add(1)
		d.log.Warn("ack write failed", "seq", seq, "error", err)
		return
	}
	d.acked.Add(1)
}

// ReadLoop reads command frames from r until the context is cancelled or
// the reader fails. Each read produces at most one parse attempt. Callers
// unblock a pending read by closing the underlying connection; the loop
// treats any read error after cancellation as a clean exit.
func (d *Dispatcher) ReadLoop(ctx context.Context, r io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}
		d.HandleFrame(buf[:n])
	}
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		FramesReceived: d.received.Load(),
		AcksSent:       d.acked.Load(),
		FramesDropped:  d.dropped.Load(),
		AckErrors:      d.ackErrors.Load(),
	}
}
