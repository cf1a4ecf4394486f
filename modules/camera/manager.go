package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-liveness/modules/camera/internal/mailbox"
)

// ErrAcquireCancelled is returned when Release (or ctx) interrupts an acquisition.
var ErrAcquireCancelled = errors.New("camera: acquisition cancelled")

// ManagerConfig contains configuration for the device manager
type ManagerConfig struct {
	// Preferred is requested first on every acquisition
	Preferred Constraints
	// Minimal is requested once if Preferred fails
	Minimal Constraints
	// GraceDelay is waited before requesting the device. A sibling capture
	// step (document photo) may not have released the hardware yet.
	GraceDelay time.Duration
	// HandoffDelay is waited after stopping a previous local stream before
	// starting a new one.
	HandoffDelay time.Duration
}

// DefaultManagerConfig returns default manager configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Preferred:    PreferredConstraints(),
		Minimal:      MinimalConstraints(),
		GraceDelay:   300 * time.Millisecond,
		HandoffDelay: 500 * time.Millisecond,
	}
}

// Manager owns the camera exclusively.
//
// Guarantees:
//   - at most one Stream is held at any time
//   - Acquire() arriving while another Acquire() or Release() runs is a
//     no-op returning nil (no queuing)
//   - Release() is idempotent and cancels an in-flight acquisition; a device
//     opened by a cancelled acquisition is closed before Acquire returns
//   - frames are kept in a single-slot mailbox; Latest() never blocks
type Manager struct {
	source Source
	cfg    ManagerConfig

	// mu protects the handle fields below and makes the guard transition
	// atomic with acquireCancel registration.
	mu            sync.Mutex
	inProgress    atomic.Bool
	acquireCancel context.CancelFunc
	stream        Stream
	constraints   Constraints
	usedMinimal   bool
	stopPump      chan struct{}
	pumpDone      chan struct{}

	latest mailbox.Mailbox[Frame]

	acquisitions uint64
	releases     uint64
}

// NewManager creates a device manager over the given source
func NewManager(source Source, cfg ManagerConfig) (*Manager, error) {
	if source == nil {
		return nil, fmt.Errorf("camera: source is required")
	}
	if cfg.Preferred.Width <= 0 || cfg.Preferred.Height <= 0 {
		return nil, fmt.Errorf("camera: invalid preferred constraints %s", cfg.Preferred)
	}
	if cfg.Minimal.Width <= 0 || cfg.Minimal.Height <= 0 {
		return nil, fmt.Errorf("camera: invalid minimal constraints %s", cfg.Minimal)
	}
	if cfg.GraceDelay < 0 || cfg.HandoffDelay < 0 {
		return nil, fmt.Errorf("camera: delays must not be negative")
	}

	return &Manager{source: source, cfg: cfg}, nil
}

// Acquire requests the device, retrying once with the minimal configuration.
//
// This method:
//  1. Returns nil immediately if another operation holds the guard
//  2. Stops a previous local stream and waits HandoffDelay
//  3. Waits GraceDelay
//  4. Opens Preferred, then Minimal on failure
//  5. Starts pumping frames into the mailbox
//
// Returns a *DeviceError (PermissionDenied, DeviceNotFound, DeviceBusy or
// unknown) when both configurations fail, or ErrAcquireCancelled.
func (m *Manager) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.inProgress.CompareAndSwap(false, true) {
		m.mu.Unlock()
		slog.Debug("camera: acquire ignored, operation in progress")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.acquireCancel = cancel
	hadStream := m.stream != nil
	m.mu.Unlock()

	// published is set once the stream is handed over; from then on the
	// guard belongs to whoever takes it next (usually Release)
	published := false
	defer func() {
		if !published {
			m.mu.Lock()
			m.acquireCancel = nil
			m.inProgress.Store(false)
			m.mu.Unlock()
		}
		cancel()
	}()

	started := time.Now()

	if hadStream {
		m.closeStream("reacquire")
		if err := sleepCtx(ctx, m.cfg.HandoffDelay); err != nil {
			return fmt.Errorf("%w: %v", ErrAcquireCancelled, err)
		}
	}

	if err := sleepCtx(ctx, m.cfg.GraceDelay); err != nil {
		return fmt.Errorf("%w: %v", ErrAcquireCancelled, err)
	}

	usedMinimal := false
	stream, err := m.source.Open(ctx, m.cfg.Preferred)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrAcquireCancelled, ctx.Err())
		}
		slog.Warn("camera: preferred configuration failed, retrying with minimal",
			"preferred", m.cfg.Preferred.String(),
			"minimal", m.cfg.Minimal.String(),
			"error", err,
		)
		usedMinimal = true
		stream, err = m.source.Open(ctx, m.cfg.Minimal)
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrAcquireCancelled, ctx.Err())
		}
		de := Classify(err)
		slog.Error("camera: acquisition failed",
			"kind", de.Kind.String(),
			"error", err,
			"elapsed", time.Since(started),
		)
		return de
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		// Release() ran while the device was opening
		m.mu.Unlock()
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("camera: failed to close stream opened by cancelled acquisition", "error", cerr)
		}
		slog.Info("camera: acquisition cancelled, device closed")
		return fmt.Errorf("%w: %v", ErrAcquireCancelled, ctx.Err())
	}

	m.stream = stream
	m.constraints = stream.Constraints()
	m.usedMinimal = usedMinimal
	m.stopPump = make(chan struct{})
	m.pumpDone = make(chan struct{})
	m.acquisitions++
	go m.pump(stream.Frames(), m.stopPump, m.pumpDone)
	// guard and cancel are dropped together with the stream becoming
	// visible, so a Release from here on closes it
	m.acquireCancel = nil
	m.inProgress.Store(false)
	published = true
	m.mu.Unlock()

	slog.Info("camera: device acquired",
		"constraints", m.constraints.String(),
		"used_minimal", usedMinimal,
		"elapsed", time.Since(started),
	)

	return nil
}

// Release stops every track, detaches the frame source and clears handles.
//
// Idempotent - safe to call multiple times, before any Acquire, and from a
// teardown path. If an acquisition is in flight it is cancelled and cleans
// up after itself.
func (m *Manager) Release() error {
	m.mu.Lock()
	if m.acquireCancel != nil {
		m.acquireCancel()
		m.mu.Unlock()
		slog.Debug("camera: release cancelled in-flight acquisition")
		return nil
	}
	if !m.inProgress.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	defer m.inProgress.Store(false)

	m.closeStream("release")
	return nil
}

// Latest returns the most recent frame, or nil if none arrived since the
// last acquisition.
func (m *Manager) Latest() *Frame {
	return m.latest.Latest()
}

// Active reports whether a stream handle is held
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// InProgress reports whether the guard is held
func (m *Manager) InProgress() bool {
	return m.inProgress.Load()
}

// Stats returns current manager statistics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Active:            m.stream != nil,
		InProgress:        m.inProgress.Load(),
		Acquisitions:      m.acquisitions,
		Releases:          m.releases,
		FramesReceived:    m.latest.Published(),
		FramesOverwritten: m.latest.Overwritten(),
		Constraints:       m.constraints,
		UsedMinimal:       m.usedMinimal,
	}
}

// closeStream detaches and closes the current stream, if any
func (m *Manager) closeStream(reason string) {
	m.mu.Lock()
	stream := m.stream
	stop := m.stopPump
	done := m.pumpDone
	m.stream = nil
	m.stopPump = nil
	m.pumpDone = nil
	if stream != nil {
		m.releases++
	}
	m.mu.Unlock()

	if stream == nil {
		slog.Debug("camera: no active stream, nothing to release", "reason", reason)
		return
	}

	close(stop)
	if err := stream.Close(); err != nil {
		slog.Error("camera: failed to close stream", "error", err, "reason", reason)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("camera: frame pump did not stop in time")
	}

	m.latest.Reset()

	slog.Info("camera: device released",
		"reason", reason,
		"frames_received", m.latest.Published(),
	)
}

// pump moves frames from the stream into the mailbox until stopped
func (m *Manager) pump(frames <-chan Frame, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case f, ok := <-frames:
			if !ok {
				slog.Warn("camera: frame source closed")
				return
			}
			frame := f
			m.latest.Publish(&frame)
		}
	}
}

// sleepCtx waits d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
