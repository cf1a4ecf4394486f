// Package stability decides when a subject is present and still enough to
// capture, and drives the countdown before auto-capture.
package stability

import (
	"fmt"
	"sync"
)

// State is the controller state for one capture attempt
type State int

const (
	Searching State = iota
	Present
	CountingDown
	Triggered
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Present:
		return "present"
	case CountingDown:
		return "counting_down"
	case Triggered:
		return "triggered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Phase is the human-facing status classification
type Phase string

const (
	PhaseSearching   Phase = "searching"
	PhaseHoldStill   Phase = "hold_still"
	PhasePerfectHold Phase = "perfect_hold_position"
	PhaseCapturing   Phase = "capturing"
)

// Status is a derived view of the controller. It holds no state of its own.
type Status struct {
	Phase            Phase `json:"phase"`
	State            State `json:"-"`
	SecondsRemaining int   `json:"seconds_remaining,omitempty"`
	Misses           int   `json:"misses,omitempty"`
	LastScore        int   `json:"last_score"`
}

// Controller is the stability and countdown state machine.
//
// Invariants:
//   - countdown is set only in CountingDown
//   - reaching MissCeiling consecutive misses clears the countdown and the
//     miss counter and returns to Searching
//   - Triggered is reported exactly once per armed attempt and is sticky
//     until Reset
//
// Safe for concurrent use; Status may be polled from another goroutine.
type Controller struct {
	cfg Config

	mu        sync.Mutex
	state     State
	prev      int
	hasPrev   bool
	countdown *int
	misses    int
	lastScore int
}

// NewController creates a controller in the Searching state
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// Observe feeds one presence score and returns the resulting state.
//
// Absence or instability are ordinary transitions, never errors.
func (c *Controller) Observe(score int) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastScore = score

	switch c.state {
	case Triggered:
		// no re-arm until Reset

	case Searching:
		if score <= c.cfg.StartThreshold {
			break
		}
		if c.cfg.Strict() {
			// first present frame only sets the baseline
			c.prev, c.hasPrev = score, true
			c.state = Present
			break
		}
		c.prev, c.hasPrev = score, true
		c.startCountdown()

	case Present:
		if score <= c.cfg.StartThreshold {
			c.state = Searching
			break
		}
		stable := c.stable(score)
		c.prev, c.hasPrev = score, true
		if stable {
			c.startCountdown()
		}

	case CountingDown:
		present := score > c.cfg.RelaxedThreshold
		ok := present && c.stable(score)
		if present {
			c.prev, c.hasPrev = score, true
		}
		if ok {
			c.misses = 0
			break
		}
		c.misses++
		if c.misses >= c.cfg.MissCeiling {
			c.state = Searching
			c.countdown = nil
			c.misses = 0
		}
	}

	return c.state
}

// Tick advances the countdown by one second. It returns true exactly once,
// on the tick that reaches zero and enters Triggered.
func (c *Controller) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CountingDown || c.countdown == nil {
		return false
	}

	*c.countdown--
	if *c.countdown > 0 {
		return false
	}

	c.countdown = nil
	c.state = Triggered
	return true
}

// ForceTrigger enters Triggered from any other state (manual capture).
// Returns false if the attempt already triggered.
func (c *Controller) ForceTrigger() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Triggered {
		return false
	}
	c.state = Triggered
	c.countdown = nil
	c.misses = 0
	return true
}

// Reset re-arms the controller for a new attempt
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Searching
	c.prev, c.hasPrev = 0, false
	c.countdown = nil
	c.misses = 0
	c.lastScore = 0
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the countdown seconds left, or nil when not counting down
func (c *Controller) Remaining() *int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.countdown == nil {
		return nil
	}
	v := *c.countdown
	return &v
}

// Misses returns the consecutive miss counter
func (c *Controller) Misses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}

// Status derives the human-facing classification
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state, Misses: c.misses, LastScore: c.lastScore}

	switch c.state {
	case Searching:
		st.Phase = PhaseSearching
	case Present:
		st.Phase = PhaseHoldStill
	case CountingDown:
		st.Phase = PhasePerfectHold
		if c.misses > 0 {
			st.Phase = PhaseHoldStill
		}
		if c.countdown != nil {
			st.SecondsRemaining = *c.countdown
		}
	case Triggered:
		st.Phase = PhaseCapturing
	}

	return st
}

// stable reports whether score is within tolerance of the baseline.
// Always true for the simple variant.
func (c *Controller) stable(score int) bool {
	if !c.cfg.Strict() || !c.hasPrev {
		return true
	}
	d := score - c.prev
	if d < 0 {
		d = -d
	}
	return d < c.cfg.StabilityTolerance
}

func (c *Controller) startCountdown() {
	n := c.cfg.CountdownSeconds
	c.countdown = &n
	c.misses = 0
	c.state = CountingDown
}
