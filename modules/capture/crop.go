package capture

import (
	"fmt"
	"image"
	"math"
)

// ComputeCrop returns the centred crop of a w×h frame whose aspect ratio
// (width/height) equals aspect.
//
// Fill and center-crop semantics:
//   - frame wider than aspect: full height, width = round(height × aspect),
//     horizontally centred
//   - otherwise: full width, height = round(width / aspect), vertically centred
//
// The crop never exceeds the frame; pixels are never stretched.
func ComputeCrop(w, h int, aspect float64) (image.Rectangle, error) {
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("capture: invalid frame size %dx%d", w, h)
	}
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		return image.Rectangle{}, fmt.Errorf("capture: invalid preview aspect %v", aspect)
	}

	frameAspect := float64(w) / float64(h)

	if frameAspect > aspect {
		cw := clamp(int(math.Round(float64(h)*aspect)), 1, w)
		x0 := (w - cw) / 2
		return image.Rect(x0, 0, x0+cw, h), nil
	}

	ch := clamp(int(math.Round(float64(w)/aspect)), 1, h)
	y0 := (h - ch) / 2
	return image.Rect(0, y0, w, y0+ch), nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
