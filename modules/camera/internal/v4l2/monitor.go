package v4l2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrEndOfStream is returned by Watch when the device stops delivering
var ErrEndOfStream = errors.New("end of stream")

// WaitPlaying polls the bus until the pipeline reaches PLAYING.
//
// v4l2src reports open failures (permission, busy, missing node) as bus
// errors during the READY→PAUSED transition, so this is where acquisition
// errors surface. The returned error carries both the GError message and
// its debug string so callers can classify it by keyword.
func WaitPlaying(ctx context.Context, pipeline *gst.Pipeline, timeout time.Duration) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return gstError(msg)

		case gst.MessageEOS:
			return ErrEndOfStream

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			old, next := msg.ParseStateChanged()
			slog.Debug("v4l2: pipeline state changed", "from", old, "to", next)
			if next == gst.StatePlaying {
				return nil
			}
		}
	}

	return fmt.Errorf("timeout waiting for PLAYING after %s", timeout)
}

// Watch monitors the bus of a running pipeline until ctx is cancelled.
//
// Returns nil on cancellation, or the first EOS/error. There is no
// reconnection: a local camera that errors mid-stream was unplugged or
// taken over, and the caller decides whether to acquire again.
func Watch(ctx context.Context, pipeline *gst.Pipeline) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("v4l2: context cancelled, stopping pipeline monitor")
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return ErrEndOfStream
		case gst.MessageError:
			return gstError(msg)
		}
	}
}

func gstError(msg *gst.Message) error {
	gerr := msg.ParseError()
	if gerr == nil {
		return fmt.Errorf("pipeline error")
	}
	if debug := gerr.DebugString(); debug != "" {
		return fmt.Errorf("pipeline error: %s (%s)", gerr.Error(), debug)
	}
	return fmt.Errorf("pipeline error: %s", gerr.Error())
}
