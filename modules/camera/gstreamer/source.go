package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/camera/internal/v4l2"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Source implements camera.Source over v4l2src
type Source struct {
	cfg camera.DeviceConfig
}

// NewSource creates a V4L2 source with fail-fast validation
func NewSource(cfg camera.DeviceConfig) (*Source, error) {
	if cfg.UserDevice == "" {
		return nil, fmt.Errorf("camera: user device is required")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}

	if err := v4l2.CheckAvailable(); err != nil {
		return nil, fmt.Errorf("camera: GStreamer not available: %w", err)
	}

	slog.Info("camera: gstreamer source created",
		"user_device", cfg.UserDevice,
		"environment_device", cfg.EnvironmentDevice,
	)

	return &Source{cfg: cfg}, nil
}

// Open builds and starts a pipeline for the given constraints.
//
// The pipeline is destroyed (device closed) on every failure path.
func (s *Source) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	device := s.cfg.Device(c.Facing)

	elements, err := v4l2.CreatePipeline(v4l2.PipelineConfig{
		Device: device,
		Width:  c.Width,
		Height: c.Height,
		FPS:    c.FPS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	st := &gstStream{
		elements:    elements,
		constraints: c,
		device:      device,
		frames:      make(chan camera.Frame, 4),
		started:     time.Now(),
	}

	internal := make(chan v4l2.Frame, 4)
	callbackCtx := &v4l2.CallbackContext{
		FrameChan:     internal,
		FrameCounter:  &st.frameCount,
		FramesDropped: &st.framesDropped,
		Width:         c.Width,
		Height:        c.Height,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return v4l2.OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = v4l2.DestroyPipeline(elements)
		return nil, fmt.Errorf("failed to start pipeline on %s: %w", device, err)
	}

	if err := v4l2.WaitPlaying(ctx, elements.Pipeline, s.cfg.StartTimeout); err != nil {
		_ = v4l2.DestroyPipeline(elements)
		return nil, fmt.Errorf("device %s: %w", device, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel

	st.wg.Add(2)
	go st.forward(runCtx, internal)
	go st.watch(runCtx)

	slog.Info("camera: pipeline playing",
		"device", device,
		"constraints", c.String(),
	)

	return st, nil
}

// gstStream is a running v4l2 pipeline
type gstStream struct {
	elements    *v4l2.PipelineElements
	constraints camera.Constraints
	device      string

	frames chan camera.Frame
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameCount    uint64
	framesDropped uint64
	started       time.Time

	closeOnce    sync.Once
	framesClosed atomic.Bool
}

func (st *gstStream) Frames() <-chan camera.Frame { return st.frames }

func (st *gstStream) Constraints() camera.Constraints { return st.constraints }

// forward converts pipeline frames to camera frames until cancelled.
// It is the only writer of st.frames and closes it on exit.
func (st *gstStream) forward(ctx context.Context, internal <-chan v4l2.Frame) {
	defer st.wg.Done()
	defer func() {
		if st.framesClosed.CompareAndSwap(false, true) {
			close(st.frames)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-internal:
			frame := camera.Frame{
				Seq:       f.Seq,
				Timestamp: f.Timestamp,
				Width:     f.Width,
				Height:    f.Height,
				Data:      f.Data,
				TraceID:   f.TraceID,
			}
			select {
			case st.frames <- frame:
			case <-ctx.Done():
				return
			default:
				atomic.AddUint64(&st.framesDropped, 1)
			}
		}
	}
}

// watch stops forwarding if the device fails mid-stream
func (st *gstStream) watch(ctx context.Context) {
	defer st.wg.Done()

	if err := v4l2.Watch(ctx, st.elements.Pipeline); err != nil {
		slog.Error("camera: pipeline failed",
			"device", st.device,
			"error", err,
			"uptime", time.Since(st.started),
			"frames_captured", atomic.LoadUint64(&st.frameCount),
		)
		st.cancel()
	}
}

// Close stops the pipeline and releases the device.
//
// Idempotent - safe to call multiple times.
func (st *gstStream) Close() error {
	var err error

	st.closeOnce.Do(func() {
		st.cancel()

		done := make(chan struct{})
		go func() {
			st.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(3 * time.Second):
			slog.Warn("camera: stop timeout exceeded, some goroutines may still be running")
		}

		err = v4l2.DestroyPipeline(st.elements)

		slog.Info("camera: pipeline stopped",
			"device", st.device,
			"frames_captured", atomic.LoadUint64(&st.frameCount),
			"frames_dropped", atomic.LoadUint64(&st.framesDropped),
			"uptime", time.Since(st.started),
		)
	})

	return err
}

var _ camera.Source = (*Source)(nil)
