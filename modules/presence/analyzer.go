// Package presence scores "is there a face-like presence in the guide region"
// for a single video frame.
//
// The heuristic is deliberately lightweight: skin-tone, brightness and fill
// ratios inside a centred ellipse, bucketed into tiers. It is not a face
// detector and runs comfortably at the analysis cadence on a phone-class CPU.
package presence

import (
	"fmt"
	"image"
	"math"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"golang.org/x/image/draw"
)

// Config contains analyzer configuration
type Config struct {
	// Width and Height are the fixed analysis resolution
	Width  int
	Height int
	// RadiusX and RadiusY are the guide ellipse radii as fractions of the
	// analysis width and height
	RadiusX float64
	RadiusY float64
}

// DefaultConfig returns the 160x120 analysis grid with a 35%/50% ellipse
func DefaultConfig() Config {
	return Config{Width: 160, Height: 120, RadiusX: 0.35, RadiusY: 0.50}
}

// FrameScore is the per-frame analysis result. Not persisted.
type FrameScore struct {
	PresenceScore      int
	SkinToneRatio      float64
	BrightnessRatio    float64
	CenterDensityRatio float64
}

// Analyzer downsamples frames into a reused raster and scores the guide region.
//
// Not safe for concurrent use: the raster buffer is shared between calls.
type Analyzer struct {
	cfg Config
	buf *image.RGBA

	// mask[i] is true when pixel i of the analysis grid lies in the ellipse
	mask   []bool
	inside int
	area   float64
}

// NewAnalyzer creates an analyzer with a preallocated raster
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("presence: invalid analysis resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.RadiusX <= 0 || cfg.RadiusX > 0.5 || cfg.RadiusY <= 0 || cfg.RadiusY > 0.5 {
		return nil, fmt.Errorf("presence: ellipse radii must be in (0, 0.5], got %.2f/%.2f", cfg.RadiusX, cfg.RadiusY)
	}

	a := &Analyzer{
		cfg:  cfg,
		buf:  image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		mask: make([]bool, cfg.Width*cfg.Height),
	}

	cx, cy := float64(cfg.Width)/2, float64(cfg.Height)/2
	rx, ry := cfg.RadiusX*float64(cfg.Width), cfg.RadiusY*float64(cfg.Height)
	a.area = math.Pi * rx * ry

	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			dy := (float64(y) + 0.5 - cy) / ry
			if dx*dx+dy*dy <= 1 {
				a.mask[y*cfg.Width+x] = true
				a.inside++
			}
		}
	}

	return a, nil
}

// AnalyzeFrame scores a camera frame. Invalid or empty frames score zero.
func (a *Analyzer) AnalyzeFrame(f *camera.Frame) FrameScore {
	if !f.Valid() {
		return FrameScore{}
	}
	return a.Analyze(f.Image())
}

// Analyze downsamples img to the analysis grid and scores the ellipse.
func (a *Analyzer) Analyze(img image.Image) FrameScore {
	if img == nil || img.Bounds().Empty() || a.inside == 0 {
		return FrameScore{}
	}

	draw.ApproxBiLinear.Scale(a.buf, a.buf.Bounds(), img, img.Bounds(), draw.Src, nil)

	var skin, bright, analyzed int
	pix := a.buf.Pix
	for i, in := range a.mask {
		if !in {
			continue
		}
		r, g, b := pix[i*4], pix[i*4+1], pix[i*4+2]
		mean := (int(r) + int(g) + int(b)) / 3

		if isSkin(r, g, b) {
			skin++
		}
		if mean >= 60 && mean <= 200 {
			bright++
		}
		// black or blown-out pixels carry no information
		if mean > 20 && mean < 235 {
			analyzed++
		}
	}

	score := FrameScore{
		SkinToneRatio:      float64(skin) / float64(a.inside),
		BrightnessRatio:    float64(bright) / float64(a.inside),
		CenterDensityRatio: math.Min(1, float64(analyzed)/a.area),
	}
	score.PresenceScore = Score(score.SkinToneRatio, score.BrightnessRatio, score.CenterDensityRatio)

	return score
}

// isSkin is the classic RGB skin-tone rule: red dominant, enough red/green
// separation and channel spread.
func isSkin(r, g, b uint8) bool {
	if r <= 95 || g <= 40 || b <= 20 {
		return false
	}
	if r <= g || r <= b {
		return false
	}
	maxc := max(r, g, b)
	minc := min(r, g, b)
	return int(r)-int(g) > 15 && int(maxc)-int(minc) > 15
}

// Score converts the three ratios into a 0-100 presence score.
//
// Tiers:
//   - skin tone: >0.40 → 40, >0.25 → 30, >0.15 → 20, >0.08 → 10
//   - brightness: >0.60 → 30, >0.40 → 20, >0.20 → 10
//   - center density: >0.85 → 30, >0.65 → 20, >0.45 → 10
//
// Each tier function is non-decreasing, so raising any ratio never lowers
// the score.
func Score(skin, brightness, density float64) int {
	total := skinPoints(skin) + brightnessPoints(brightness) + densityPoints(density)
	return min(total, 100)
}

func skinPoints(r float64) int {
	switch {
	case r > 0.40:
		return 40
	case r > 0.25:
		return 30
	case r > 0.15:
		return 20
	case r > 0.08:
		return 10
	default:
		return 0
	}
}

func brightnessPoints(r float64) int {
	switch {
	case r > 0.60:
		return 30
	case r > 0.40:
		return 20
	case r > 0.20:
		return 10
	default:
		return 0
	}
}

func densityPoints(r float64) int {
	switch {
	case r > 0.85:
		return 30
	case r > 0.65:
		return 20
	case r > 0.45:
		return 10
	default:
		return 0
	}
}
