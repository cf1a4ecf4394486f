package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Frame mirrors camera.Frame; the gstreamer source converts it
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   string
}

// CallbackContext is the appsink callback state for one stream
type CallbackContext struct {
	FrameChan chan<- Frame
	// FrameCounter and FramesDropped are updated atomically
	FrameCounter  *uint64
	FramesDropped *uint64
	Width         int
	Height        int
}

var errNoSample = errors.New("no sample")

// OnNewSample copies one RGB sample out of the appsink and hands it over
// without blocking. Unusable samples are skipped with gst.FlowOK so a single
// bad buffer never stops the stream.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	data, err := readRGB(sink.PullSample(), ctx.Width, ctx.Height)
	if err != nil {
		slog.Warn("v4l2: skipping sample", "error", err)
		return gst.FlowOK
	}

	frame := Frame{
		Seq:       atomic.AddUint64(ctx.FrameCounter, 1),
		Timestamp: time.Now(),
		Width:     ctx.Width,
		Height:    ctx.Height,
		Data:      data,
		TraceID:   uuid.NewString(),
	}

	select {
	case ctx.FrameChan <- frame:
	default:
		// consumer still busy with the previous frame
		atomic.AddUint64(ctx.FramesDropped, 1)
		slog.Debug("v4l2: frame dropped", "seq", frame.Seq)
	}
	return gst.FlowOK
}

// readRGB returns a private, tightly packed copy of the sample.
// The mapped buffer belongs to GStreamer and is reused after Unmap.
func readRGB(sample *gst.Sample, width, height int) ([]byte, error) {
	if sample == nil {
		return nil, errNoSample
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("sample without buffer")
	}

	mapped := buffer.Map(gst.MapRead)
	defer buffer.Unmap()

	return PackRGB(mapped.Bytes(), width, height)
}

// RowStride is the byte length of one RGB row as GStreamer lays it out in
// system memory: 3 bytes per pixel, rounded up to a multiple of 4.
func RowStride(width int) int {
	return (width*3 + 3) &^ 3
}

// PackRGB copies width x height RGB pixels out of src, dropping the row
// padding GStreamer adds when width*3 is not a multiple of 4.
func PackRGB(src []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	row := width * 3
	stride := RowStride(width)
	// the last row is not necessarily padded
	need := stride*(height-1) + row
	if len(src) < need {
		return nil, fmt.Errorf("short buffer: %d of %d bytes", len(src), need)
	}

	out := make([]byte, row*height)
	if stride == row {
		copy(out, src[:row*height])
		return out, nil
	}
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], src[y*stride:y*stride+row])
	}
	return out, nil
}
