package camera

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// Frame represents a single video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame data (interleaved RGB, Width*Height*3 bytes)
	Data []byte
	// TraceID is a unique identifier for tracing a frame into a capture
	TraceID string
}

// Valid reports whether Data matches the declared dimensions.
func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Data) == f.Width*f.Height*3
}

// Image returns a zero-copy image.Image view over the frame's RGB data.
func (f *Frame) Image() *RGBImage {
	return &RGBImage{Pix: f.Data, Stride: f.Width * 3, Rect: image.Rect(0, 0, f.Width, f.Height)}
}

// RGBImage is an image.Image over packed 24-bit RGB pixels, the format the
// appsink caps negotiate. It avoids converting every frame to RGBA.
type RGBImage struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func (p *RGBImage) ColorModel() color.Model { return color.RGBAModel }

func (p *RGBImage) Bounds() image.Rectangle { return p.Rect }

func (p *RGBImage) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

// RGBAt returns the raw channels at (x, y) without boxing through color.Color.
func (p *RGBImage) RGBAt(x, y int) (r, g, b uint8) {
	i := p.PixOffset(x, y)
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2]
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *RGBImage) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// Facing selects the camera orientation requested from the platform.
type Facing int

const (
	// FacingAny lets the platform pick the device
	FacingAny Facing = iota
	// FacingUser requests the front (selfie) camera
	FacingUser
	// FacingEnvironment requests the rear camera
	FacingEnvironment
)

// String returns a human-readable representation of the facing mode
func (f Facing) String() string {
	switch f {
	case FacingUser:
		return "user"
	case FacingEnvironment:
		return "environment"
	default:
		return "any"
	}
}

// Constraints describes the stream configuration requested from a Source.
type Constraints struct {
	// Width and Height are the requested frame dimensions in pixels
	Width  int
	Height int
	// FPS is the requested frame rate (0 lets the device decide)
	FPS int
	// Facing is the preferred camera orientation
	Facing Facing
}

// String returns "WxH@fps/facing"
func (c Constraints) String() string {
	return fmt.Sprintf("%dx%d@%d/%s", c.Width, c.Height, c.FPS, c.Facing)
}

// PreferredConstraints is the high-resolution front-facing configuration
// requested first on every acquisition.
func PreferredConstraints() Constraints {
	return Constraints{Width: 1280, Height: 720, FPS: 30, Facing: FacingUser}
}

// MinimalConstraints is the fallback configuration used when the preferred
// one cannot be satisfied.
func MinimalConstraints() Constraints {
	return Constraints{Width: 640, Height: 480, FPS: 15}
}

// Stats contains a snapshot of the manager's lifecycle counters
type Stats struct {
	// Active is true while a stream handle is held
	Active bool
	// InProgress is true while an acquire or release holds the guard
	InProgress bool
	// Acquisitions is the number of successful acquisitions
	Acquisitions uint64
	// Releases is the number of releases that closed a stream
	Releases uint64
	// FramesReceived is the total number of frames received from the source
	FramesReceived uint64
	// FramesOverwritten counts frames replaced before anyone read them
	FramesOverwritten uint64
	// Constraints is the configuration the active stream was opened with
	Constraints Constraints
	// UsedMinimal is true if the active stream needed the minimal configuration
	UsedMinimal bool
}
