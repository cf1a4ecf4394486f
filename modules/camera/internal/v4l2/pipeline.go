package v4l2

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// PipelineConfig contains configuration for GStreamer pipeline creation
type PipelineConfig struct {
	Device string
	Width  int
	Height int
	FPS    int
}

// PipelineElements holds references to GStreamer pipeline elements
type PipelineElements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	Source     *gst.Element
	CapsFilter *gst.Element
}

// CreatePipeline builds, but does not start, the capture pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// The device is opened only when the caller sets the pipeline to PLAYING.
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	caps := BuildCaps(cfg.Width, cfg.Height, cfg.FPS)

	// driver timestamps keep videorate decisions stable
	chain := []struct {
		factory string
		props   map[string]any
	}{
		{"v4l2src", map[string]any{"device": cfg.Device, "do-timestamp": true}},
		{"videoconvert", map[string]any{"n-threads": 0}},
		{"videoscale", nil},
		{"videorate", map[string]any{"drop-only": true, "skip-to-first": true}},
		{"capsfilter", map[string]any{"caps": gst.NewCapsFromString(caps)}},
	}

	elems := make([]*gst.Element, 0, len(chain)+1)
	for _, link := range chain {
		el, err := newElement(link.factory, link.props)
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	// only the newest frame matters; never back-pressure the camera
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)
	elems = append(elems, sink.Element)

	if err := pipeline.AddMany(elems...); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(elems...); err != nil {
		return nil, fmt.Errorf("failed to link %s: %w", cfg.Device, err)
	}

	slog.Debug("v4l2: pipeline created", "device", cfg.Device, "caps", caps)

	return &PipelineElements{
		Pipeline:   pipeline,
		AppSink:    sink,
		Source:     elems[0],
		CapsFilter: elems[len(chain)-1],
	}, nil
}

func newElement(factory string, props map[string]any) (*gst.Element, error) {
	el, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", factory, err)
	}
	for name, v := range props {
		if err := el.SetProperty(name, v); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", factory, name, err)
		}
	}
	return el, nil
}

// DestroyPipeline sets the pipeline to NULL, which closes the device.
//
// Safe to call with nil elements.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}

	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}

	return nil
}

// BuildCaps builds the appsink caps string
//
// Format: "video/x-raw,format=RGB,width=W,height=H[,framerate=F/1]"
func BuildCaps(width, height, fps int) string {
	caps := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
	if fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", fps)
	}
	return caps
}

// CheckAvailable verifies that GStreamer and the v4l2 plugin are installed
func CheckAvailable() error {
	gst.Init(nil)

	if _, err := gst.NewElement("v4l2src"); err != nil {
		return fmt.Errorf("v4l2src element not available (gst-plugins-good missing?): %w", err)
	}
	return nil
}
