// Package capture freezes a frame, crops it to the on-screen preview aspect
// ratio and encodes a single high-quality still.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// Releaser is the part of the device manager the engine needs
type Releaser interface {
	Release() error
}

// Config contains capture engine configuration
type Config struct {
	// PreviewAspect is the width/height ratio of the on-screen preview
	PreviewAspect float64
	// JPEGQuality is the encoder quality (1-100)
	JPEGQuality int
	// SettleDelay is waited after releasing the device before the still is
	// handed to the caller
	SettleDelay time.Duration
}

// DefaultConfig returns a 3:4 portrait guide at quality 95
func DefaultConfig() Config {
	return Config{
		PreviewAspect: 3.0 / 4.0,
		JPEGQuality:   95,
		SettleDelay:   150 * time.Millisecond,
	}
}

// CapturedImage is an encoded still. Immutable once produced: callers must
// not modify Encoded, and a retry replaces the value wholesale.
type CapturedImage struct {
	AttemptID  string
	Width      int
	Height     int
	Encoded    []byte
	Quality    int
	CapturedAt time.Time
	// Crop is the region of the source frame the still was taken from
	Crop image.Rectangle
	// SourceSeq is the sequence number of the source frame
	SourceSeq uint64
}

// ContentType returns the MIME type of Encoded
func (c *CapturedImage) ContentType() string {
	return "image/jpeg"
}

// Engine produces one still per trigger and releases the device afterwards
type Engine struct {
	cfg      Config
	releaser Releaser
}

// NewEngine creates a capture engine
func NewEngine(cfg Config, releaser Releaser) (*Engine, error) {
	if cfg.PreviewAspect <= 0 {
		return nil, fmt.Errorf("capture: preview aspect must be positive, got %v", cfg.PreviewAspect)
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("capture: jpeg quality must be in [1, 100], got %d", cfg.JPEGQuality)
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("capture: settle delay must not be negative")
	}
	if releaser == nil {
		return nil, fmt.Errorf("capture: releaser is required")
	}
	return &Engine{cfg: cfg, releaser: releaser}, nil
}

// Capture crops and encodes f, releases the device, then waits SettleDelay.
//
// On success the device is always released before returning. On an encode
// failure the device is left to the caller's teardown path.
func (e *Engine) Capture(ctx context.Context, f *camera.Frame) (*CapturedImage, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("capture: invalid frame")
	}

	crop, err := ComputeCrop(f.Width, f.Height, e.cfg.PreviewAspect)
	if err != nil {
		return nil, err
	}

	still := renderCrop(f.Image(), crop)

	var buf bytes.Buffer
	buf.Grow(crop.Dx() * crop.Dy() / 4)
	if err := jpeg.Encode(&buf, still, &jpeg.Options{Quality: e.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("capture: encode failed: %w", err)
	}

	img := &CapturedImage{
		AttemptID:  uuid.New().String(),
		Width:      crop.Dx(),
		Height:     crop.Dy(),
		Encoded:    buf.Bytes(),
		Quality:    e.cfg.JPEGQuality,
		CapturedAt: time.Now(),
		Crop:       crop,
		SourceSeq:  f.Seq,
	}

	if err := e.releaser.Release(); err != nil {
		slog.Warn("capture: device release failed", "error", err, "attempt_id", img.AttemptID)
	}

	slog.Info("capture: still encoded",
		"attempt_id", img.AttemptID,
		"source", fmt.Sprintf("%dx%d", f.Width, f.Height),
		"crop", crop.String(),
		"size_bytes", len(img.Encoded),
		"trace_id", f.TraceID,
	)

	if e.cfg.SettleDelay > 0 {
		timer := time.NewTimer(e.cfg.SettleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return img, nil
}

// renderCrop copies only the crop region into a buffer sized to the crop
func renderCrop(src image.Image, crop image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Copy(dst, image.Point{}, src, crop, draw.Src, nil)
	return dst
}
