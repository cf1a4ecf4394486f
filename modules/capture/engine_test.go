package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReleaser struct {
	calls atomic.Int32
	err   error
}

func (r *countingReleaser) Release() error {
	r.calls.Add(1)
	return r.err
}

// gradientFrame encodes x in R and y in G so crops can be located
func gradientFrame(w, h int) *camera.Frame {
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			data[i] = byte(x)
			data[i+1] = byte(y)
			data[i+2] = 128
		}
	}
	return &camera.Frame{Seq: 7, Width: w, Height: h, Data: data}
}

func TestComputeCrop(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		aspect float64
		want   image.Rectangle
	}{
		{"landscape_to_portrait", 1280, 720, 0.75, image.Rect(370, 0, 910, 720)},
		{"vga_to_portrait", 640, 480, 0.75, image.Rect(140, 0, 500, 480)},
		{"portrait_to_square", 480, 640, 1, image.Rect(0, 80, 480, 560)},
		{"already_matching", 600, 800, 0.75, image.Rect(0, 0, 600, 800)},
		{"narrow_to_wide", 720, 1280, 16.0 / 9.0, image.Rect(0, 437, 720, 842)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeCrop(tt.w, tt.h, tt.aspect)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeCrop_Invalid(t *testing.T) {
	_, err := ComputeCrop(0, 480, 0.75)
	assert.Error(t, err)

	_, err = ComputeCrop(640, 480, 0)
	assert.Error(t, err)

	_, err = ComputeCrop(640, 480, math.NaN())
	assert.Error(t, err)
}

// TestComputeCrop_Properties validates the crop invariant for arbitrary
// frame sizes: aspect preserved within rounding, centred, inside the frame.
func TestComputeCrop_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	aspects := []float64{3.0 / 4.0, 9.0 / 16.0, 1, 4.0 / 3.0, 16.0 / 9.0}

	for i := 0; i < 10000; i++ {
		w := 16 + rng.Intn(4000)
		h := 16 + rng.Intn(4000)
		aspect := aspects[rng.Intn(len(aspects))]

		crop, err := ComputeCrop(w, h, aspect)
		require.NoError(t, err)

		frame := image.Rect(0, 0, w, h)
		require.True(t, crop.In(frame), "crop %v outside frame %v", crop, frame)

		// one dimension is always the full frame
		fullW := crop.Dx() == w
		fullH := crop.Dy() == h
		require.True(t, fullW || fullH, "crop %v of %dx%d crops both axes", crop, w, h)

		// rounding error of one pixel on the derived side
		cw, ch := float64(crop.Dx()), float64(crop.Dy())
		require.LessOrEqual(t, math.Abs(cw-ch*aspect), math.Max(0.5, 0.5*aspect)+1e-9,
			"aspect drift: %dx%d → %v (aspect %.4f)", w, h, crop, aspect)

		// centred within one pixel
		require.LessOrEqual(t, absInt(crop.Min.X-(w-crop.Max.X)), 1)
		require.LessOrEqual(t, absInt(crop.Min.Y-(h-crop.Max.Y)), 1)
	}

	t.Logf("✅ Crop invariant validated over 10000 random frame sizes")
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestRenderCrop_CopiesSubRectangle(t *testing.T) {
	f := gradientFrame(200, 100)
	crop := image.Rect(62, 0, 137, 100)

	out := renderCrop(f.Image(), crop)
	require.Equal(t, image.Rect(0, 0, 75, 100), out.Bounds())

	for _, p := range []image.Point{{0, 0}, {74, 99}, {30, 50}} {
		c := out.RGBAAt(p.X, p.Y)
		assert.Equal(t, byte(crop.Min.X+p.X), c.R, "x at %v", p)
		assert.Equal(t, byte(crop.Min.Y+p.Y), c.G, "y at %v", p)
	}
}

func TestEngine_Capture(t *testing.T) {
	rel := &countingReleaser{}
	cfg := DefaultConfig()
	cfg.SettleDelay = 30 * time.Millisecond

	e, err := NewEngine(cfg, rel)
	require.NoError(t, err)

	start := time.Now()
	img, err := e.Capture(context.Background(), gradientFrame(640, 480))
	require.NoError(t, err)

	assert.True(t, time.Since(start) >= cfg.SettleDelay, "settle delay not applied")
	assert.Equal(t, int32(1), rel.calls.Load(), "device must be released exactly once")
	assert.Equal(t, 360, img.Width)
	assert.Equal(t, 480, img.Height)
	assert.Equal(t, 95, img.Quality)
	assert.Equal(t, uint64(7), img.SourceSeq)
	assert.NotEmpty(t, img.AttemptID)
	assert.Equal(t, "image/jpeg", img.ContentType())

	decoded, err := jpeg.Decode(bytes.NewReader(img.Encoded))
	require.NoError(t, err)
	b := decoded.Bounds()
	assert.InDelta(t, cfg.PreviewAspect, float64(b.Dx())/float64(b.Dy()), 0.01)
}

func TestEngine_ReleaseErrorDoesNotFailCapture(t *testing.T) {
	rel := &countingReleaser{err: errors.New("already closed")}
	cfg := DefaultConfig()
	cfg.SettleDelay = 0

	e, err := NewEngine(cfg, rel)
	require.NoError(t, err)

	img, err := e.Capture(context.Background(), gradientFrame(320, 240))
	require.NoError(t, err)
	assert.NotNil(t, img)
}

func TestEngine_CaptureCancelledDuringSettle(t *testing.T) {
	rel := &countingReleaser{}
	cfg := DefaultConfig()
	cfg.SettleDelay = time.Second

	e, err := NewEngine(cfg, rel)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = e.Capture(ctx, gradientFrame(320, 240))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), rel.calls.Load(), "release happens before the settle wait")
}

func TestEngine_InvalidFrame(t *testing.T) {
	rel := &countingReleaser{}
	e, err := NewEngine(DefaultConfig(), rel)
	require.NoError(t, err)

	_, err = e.Capture(context.Background(), &camera.Frame{Width: 10, Height: 10})
	assert.Error(t, err)
	assert.Zero(t, rel.calls.Load())
}

func TestNewEngine_Validation(t *testing.T) {
	rel := &countingReleaser{}

	_, err := NewEngine(Config{PreviewAspect: 0, JPEGQuality: 95}, rel)
	assert.Error(t, err)

	_, err = NewEngine(Config{PreviewAspect: 0.75, JPEGQuality: 101}, rel)
	assert.Error(t, err)

	_, err = NewEngine(DefaultConfig(), nil)
	assert.Error(t, err)
}
