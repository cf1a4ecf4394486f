package facecapture

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/capture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
	"github.com/e7canasta/orion-liveness/modules/presence"
	"github.com/e7canasta/orion-liveness/modules/stability"
)

var (
	// ErrBusy is returned by Start while another capture is running
	ErrBusy = errors.New("facecapture: capture already running")
	// ErrCancelled is returned by Start after Cancel
	ErrCancelled = errors.New("facecapture: capture cancelled")
	// ErrNotRunning is returned by TriggerNow when no capture is armed
	ErrNotRunning = errors.New("facecapture: no capture running")
	// ErrNoFrame means the trigger fired before the device produced a frame
	ErrNoFrame = errors.New("facecapture: no frame available")

	errDeviceContended = errors.New("acquisition already in progress")
)

// Device is the exclusive camera (implemented by *camera.Manager).
// Acquire is a no-op returning nil while another acquire or release holds
// the device; Active tells the two apart.
type Device interface {
	Acquire(ctx context.Context) error
	Release() error
	Active() bool
	Latest() *camera.Frame
}

// Scorer scores a frame (implemented by *presence.Analyzer)
type Scorer interface {
	AnalyzeFrame(f *camera.Frame) presence.FrameScore
}

// Capturer produces the still (implemented by *capture.Engine)
type Capturer interface {
	Capture(ctx context.Context, f *camera.Frame) (*capture.CapturedImage, error)
}

// Verifier runs the remote protocol (implemented by *liveness.Orchestrator)
type Verifier interface {
	Run(ctx context.Context, img *capture.CapturedImage, subjectID string) liveness.Result
}

// Sink receives one Report per finished attempt
type Sink interface {
	Publish(ctx context.Context, r Report) error
}

// Observer receives flow-level measurements
type Observer interface {
	FrameAnalyzed(score presence.FrameScore)
	CountdownStarted()
	CountdownCancelled()
	AttemptFinished(r Report)
}

// Config contains flow timing and retry configuration
type Config struct {
	// SearchInterval is the analysis period while searching
	SearchInterval time.Duration
	// CountdownInterval is the analysis period while a countdown runs
	CountdownInterval time.Duration
	// TickInterval is the countdown step (one "second")
	TickInterval time.Duration
	// MaxAttempts bounds automatic retries after a rejection
	MaxAttempts int
	// AutoRetryOnReject discards a rejected still and re-acquires the device
	AutoRetryOnReject bool
}

// DefaultConfig returns default flow configuration
func DefaultConfig() Config {
	return Config{
		SearchInterval:    200 * time.Millisecond,
		CountdownInterval: 400 * time.Millisecond,
		TickInterval:      time.Second,
		MaxAttempts:       3,
		AutoRetryOnReject: true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SearchInterval <= 0 || c.CountdownInterval <= 0 || c.TickInterval <= 0 {
		return errors.New("facecapture: intervals must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("facecapture: max_attempts must be at least 1")
	}
	return nil
}

// Components wires the pipeline stages
type Components struct {
	Device     Device
	Scorer     Scorer
	Controller *stability.Controller
	Capturer   Capturer
	Verifier   Verifier
}

// Result is the outcome of Start
type Result struct {
	SubjectID string                 `json:"subject_id"`
	Attempts  int                    `json:"attempts"`
	Outcome   liveness.Outcome       `json:"outcome"`
	Liveness  liveness.Result        `json:"liveness"`
	Image     *capture.CapturedImage `json:"-"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration"`
}

// Report describes one finished attempt
type Report struct {
	SubjectID              string           `json:"subject_id"`
	Attempt                int              `json:"attempt"`
	AttemptID              string           `json:"attempt_id,omitempty"`
	Outcome                liveness.Outcome `json:"outcome"`
	Status                 liveness.Status  `json:"status,omitempty"`
	SessionID              string           `json:"session_id,omitempty"`
	UsedFallbackIdentifier bool             `json:"used_fallback_identifier"`
	Error                  string           `json:"error,omitempty"`
	Duration               time.Duration    `json:"duration"`
	At                     time.Time        `json:"at"`
}

// FlowStatus is the view polled by a UI
type FlowStatus struct {
	Running   bool             `json:"running"`
	SubjectID string           `json:"subject_id,omitempty"`
	Attempt   int              `json:"attempt"`
	Stability stability.Status `json:"stability"`
}
