package facecapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/capture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
	"github.com/e7canasta/orion-liveness/modules/stability"
)

// Option configures a Flow
type Option func(*Flow)

// WithSink registers the per-attempt report sink
func WithSink(s Sink) Option {
	return func(f *Flow) { f.sink = s }
}

// WithObserver registers a metrics observer
func WithObserver(o Observer) Option {
	return func(f *Flow) { f.obs = o }
}

// Flow runs acquisition → analysis → countdown → capture → protocol for one
// subject at a time.
//
// Start blocks until an outcome is produced, the flow is cancelled, or a
// non-protocol error (device, capture) ends it. The device is released on
// every exit path.
type Flow struct {
	cfg  Config
	c    Components
	sink Sink
	obs  Observer

	mu        sync.Mutex
	running   bool
	subjectID string
	cancel    context.CancelCauseFunc
	done      chan struct{}
	trigger   chan struct{}

	attempt atomic.Int32
}

// NewFlow creates a flow over the given components
func NewFlow(cfg Config, c Components, opts ...Option) (*Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.Device == nil || c.Scorer == nil || c.Controller == nil || c.Capturer == nil || c.Verifier == nil {
		return nil, fmt.Errorf("facecapture: all components are required")
	}

	f := &Flow{cfg: cfg, c: c}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Start runs a capture for subjectID.
//
// Protocol failures come back as Result.Outcome == liveness.Failed with
// Result.Liveness.Err set and a nil error. The error return is reserved for
// ErrBusy, ErrCancelled, device errors (camera.DeviceError) and capture
// failures. Result.Image is set only for accepted outcomes.
func (f *Flow) Start(ctx context.Context, subjectID string) (Result, error) {
	if subjectID == "" {
		return Result{}, fmt.Errorf("facecapture: subject id is required")
	}

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return Result{}, ErrBusy
	}
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	trigger := make(chan struct{}, 1)
	f.running = true
	f.subjectID = subjectID
	f.cancel = cancel
	f.done = done
	f.trigger = trigger
	f.mu.Unlock()

	f.attempt.Store(0)

	defer func() {
		if err := f.c.Device.Release(); err != nil {
			slog.Warn("facecapture: device release failed", "error", err)
		}
		cancel(nil)

		f.mu.Lock()
		f.running = false
		f.cancel = nil
		f.trigger = nil
		f.mu.Unlock()
		close(done)
	}()

	slog.Info("facecapture: capture started",
		"subject_id", subjectID,
		"max_attempts", f.cfg.MaxAttempts,
		"auto_retry_on_reject", f.cfg.AutoRetryOnReject,
	)

	res := Result{SubjectID: subjectID, StartedAt: time.Now(), Outcome: liveness.Failed}
	err := f.run(ctx, subjectID, trigger, &res)
	res.Duration = time.Since(res.StartedAt)

	if err != nil {
		if errors.Is(context.Cause(ctx), ErrCancelled) {
			err = ErrCancelled
		}
		slog.Warn("facecapture: capture ended without outcome",
			"subject_id", subjectID,
			"attempts", res.Attempts,
			"error", err,
		)
		return res, err
	}

	slog.Info("facecapture: capture finished",
		"subject_id", subjectID,
		"outcome", res.Outcome.String(),
		"attempts", res.Attempts,
		"duration", res.Duration,
	)
	return res, nil
}

// Cancel tears the running capture down: timers stop, the device is
// released and Cancel waits for Start to return. Safe to call at any time.
func (f *Flow) Cancel() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		_ = f.c.Device.Release()
		return
	}
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	cancel(ErrCancelled)
	if err := f.c.Device.Release(); err != nil {
		slog.Warn("facecapture: device release failed", "error", err)
	}

	select {
	case <-done:
		slog.Info("facecapture: capture cancelled")
	case <-time.After(3 * time.Second):
		slog.Warn("facecapture: timeout waiting for capture loop to exit")
	}
}

// Retry cancels any running capture and starts a fresh one
func (f *Flow) Retry(ctx context.Context, subjectID string) (Result, error) {
	f.Cancel()
	return f.Start(ctx, subjectID)
}

// TriggerNow requests an immediate capture of the current frame
func (f *Flow) TriggerNow() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return ErrNotRunning
	}
	select {
	case f.trigger <- struct{}{}:
	default:
		// a trigger is already pending
	}
	return nil
}

// Status returns the derived view for a UI poller
func (f *Flow) Status() FlowStatus {
	f.mu.Lock()
	running, subject := f.running, f.subjectID
	f.mu.Unlock()

	st := FlowStatus{
		Running:   running,
		Attempt:   int(f.attempt.Load()),
		Stability: f.c.Controller.Status(),
	}
	if running {
		st.SubjectID = subject
	}
	return st
}

func (f *Flow) run(ctx context.Context, subjectID string, trigger <-chan struct{}, res *Result) error {
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		f.attempt.Store(int32(attempt))
		res.Attempts = attempt
		started := time.Now()

		img, err := f.captureOnce(ctx, trigger)
		if err != nil {
			f.report(ctx, Report{
				SubjectID: subjectID,
				Attempt:   attempt,
				Outcome:   liveness.Failed,
				Error:     err.Error(),
				Duration:  time.Since(started),
				At:        time.Now(),
			})
			return err
		}

		lr := f.c.Verifier.Run(ctx, img, subjectID)
		res.Liveness = lr
		res.Outcome = lr.Outcome
		res.Image = nil
		if lr.Accepted() {
			res.Image = img
		}

		rep := Report{
			SubjectID: subjectID,
			Attempt:   attempt,
			AttemptID: img.AttemptID,
			Outcome:   lr.Outcome,
			Status:    lr.Status,
			Duration:  time.Since(started),
			At:        time.Now(),
		}
		if lr.Session != nil {
			rep.SessionID = lr.Session.ID
			rep.UsedFallbackIdentifier = lr.Session.UsedFallbackIdentifier
		}
		if lr.Err != nil {
			rep.Error = lr.Err.Error()
		}
		f.report(ctx, rep)

		if err := ctx.Err(); err != nil {
			return err
		}
		if lr.Outcome != liveness.Rejected || !f.cfg.AutoRetryOnReject || attempt == f.cfg.MaxAttempts {
			return nil
		}

		slog.Info("facecapture: still rejected, re-acquiring device",
			"subject_id", subjectID,
			"attempt", attempt,
			"status", lr.Status,
		)
	}
	return nil
}

// captureOnce arms the controller on a freshly acquired device and returns
// the still. The capture engine releases the device.
func (f *Flow) captureOnce(ctx context.Context, trigger <-chan struct{}) (*capture.CapturedImage, error) {
	f.c.Controller.Reset()
	select {
	case <-trigger:
	default:
	}

	if err := f.c.Device.Acquire(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !f.c.Device.Active() {
		// another acquire or release held the guard; nothing was opened
		return nil, &camera.DeviceError{Kind: camera.DeviceBusy, Err: errDeviceContended}
	}

	analysis := time.NewTicker(f.cfg.SearchInterval)
	defer analysis.Stop()

	var countdown *time.Ticker
	var countdownC <-chan time.Time
	stopCountdown := func() {
		if countdown != nil {
			countdown.Stop()
			countdown, countdownC = nil, nil
		}
	}
	defer stopCountdown()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-trigger:
			if f.c.Device.Latest() == nil {
				slog.Warn("facecapture: manual trigger ignored, no frame yet")
				continue
			}
			if f.c.Controller.ForceTrigger() {
				slog.Info("facecapture: manual trigger")
				return f.capture(ctx)
			}

		case <-analysis.C:
			frame := f.c.Device.Latest()
			if frame == nil {
				continue
			}
			score := f.c.Scorer.AnalyzeFrame(frame)
			if f.obs != nil {
				f.obs.FrameAnalyzed(score)
			}

			before := f.c.Controller.State()
			after := f.c.Controller.Observe(score.PresenceScore)

			switch {
			case after == stability.CountingDown && before != stability.CountingDown:
				countdown = time.NewTicker(f.cfg.TickInterval)
				countdownC = countdown.C
				analysis.Reset(f.cfg.CountdownInterval)
				if f.obs != nil {
					f.obs.CountdownStarted()
				}
				slog.Debug("facecapture: countdown started", "score", score.PresenceScore)

			case before == stability.CountingDown && after != stability.CountingDown:
				stopCountdown()
				analysis.Reset(f.cfg.SearchInterval)
				if f.obs != nil {
					f.obs.CountdownCancelled()
				}
				slog.Debug("facecapture: countdown cancelled", "score", score.PresenceScore)
			}

		case <-countdownC:
			if f.c.Controller.Tick() {
				stopCountdown()
				return f.capture(ctx)
			}
		}
	}
}

func (f *Flow) capture(ctx context.Context) (*capture.CapturedImage, error) {
	frame := f.c.Device.Latest()
	if frame == nil {
		return nil, ErrNoFrame
	}
	return f.c.Capturer.Capture(ctx, frame)
}

func (f *Flow) report(ctx context.Context, r Report) {
	slog.Info("facecapture: attempt finished",
		"subject_id", r.SubjectID,
		"attempt", r.Attempt,
		"attempt_id", r.AttemptID,
		"outcome", r.Outcome.String(),
		"status", r.Status,
		"error", r.Error,
	)

	if f.obs != nil {
		f.obs.AttemptFinished(r)
	}
	if f.sink != nil {
		if err := f.sink.Publish(context.WithoutCancel(ctx), r); err != nil {
			slog.Warn("facecapture: report publish failed", "error", err, "attempt", r.Attempt)
		}
	}
}
