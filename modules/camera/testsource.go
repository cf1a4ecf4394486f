package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Scene selects what the synthetic camera shows
type Scene int32

const (
	// SceneFace paints a skin-toned ellipse centred in the frame
	SceneFace Scene = iota
	// SceneEmpty paints a uniform dark background
	SceneEmpty
)

// TestSource generates synthetic frames for testing and demo deployments
// without camera hardware.
//
// Failures can be scripted per resolution so fallback and error
// classification paths can be exercised.
type TestSource struct {
	fps int

	scene atomic.Int32

	mu        sync.Mutex
	failures  map[string]error
	openDelay time.Duration
	opens     int
	open      int
}

// NewTestSource creates a synthetic source emitting fps frames per second
func NewTestSource(fps int) *TestSource {
	if fps <= 0 {
		fps = 15
	}
	return &TestSource{fps: fps, failures: make(map[string]error)}
}

// SetScene switches the content of subsequent frames
func (s *TestSource) SetScene(sc Scene) {
	s.scene.Store(int32(sc))
}

// FailWith makes Open fail with err for the given resolution. nil clears it.
func (s *TestSource) FailWith(width, height int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%dx%d", width, height)
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// SetOpenDelay makes Open block for d (honouring ctx)
func (s *TestSource) SetOpenDelay(d time.Duration) {
	s.mu.Lock()
	s.openDelay = d
	s.mu.Unlock()
}

// Opens returns the number of Open calls
func (s *TestSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// OpenStreams returns the number of streams opened and not yet closed
func (s *TestSource) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Open starts a synthetic stream
func (s *TestSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	s.mu.Lock()
	s.opens++
	delay := s.openDelay
	failure := s.failures[fmt.Sprintf("%dx%d", c.Width, c.Height)]
	s.mu.Unlock()

	if delay > 0 {
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}
	if failure != nil {
		return nil, failure
	}

	fps := s.fps
	if c.FPS > 0 && c.FPS < fps {
		fps = c.FPS
	}

	st := &testStream{
		source:      s,
		constraints: c,
		frames:      make(chan Frame, 4),
		stopCh:      make(chan struct{}),
		face:        renderScene(c.Width, c.Height, SceneFace),
		empty:       renderScene(c.Width, c.Height, SceneEmpty),
		started:     time.Now(),
	}

	s.mu.Lock()
	s.open++
	s.mu.Unlock()

	slog.Debug("camera: test stream starting",
		"constraints", c.String(),
		"fps", fps,
	)

	st.wg.Add(1)
	go st.generate(time.Second / time.Duration(fps))

	return st, nil
}

type testStream struct {
	source      *TestSource
	constraints Constraints

	frames chan Frame
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	face  []byte
	empty []byte

	seq     uint64
	started time.Time
}

func (st *testStream) Frames() <-chan Frame { return st.frames }

func (st *testStream) Constraints() Constraints { return st.constraints }

func (st *testStream) Close() error {
	st.once.Do(func() {
		close(st.stopCh)
		st.wg.Wait()
		close(st.frames)

		st.source.mu.Lock()
		st.source.open--
		st.source.mu.Unlock()

		slog.Debug("camera: test stream stopped",
			"frames_emitted", st.seq,
			"duration", time.Since(st.started),
		)
	})
	return nil
}

// generate emits frames at the target rate, dropping when the consumer lags
func (st *testStream) generate(interval time.Duration) {
	defer st.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stopCh:
			return
		case <-ticker.C:
			data := st.face
			if Scene(st.source.scene.Load()) == SceneEmpty {
				data = st.empty
			}
			st.seq++
			frame := Frame{
				Seq:       st.seq,
				Timestamp: time.Now(),
				Width:     st.constraints.Width,
				Height:    st.constraints.Height,
				Data:      data,
				TraceID:   uuid.New().String(),
			}
			select {
			case st.frames <- frame:
			default:
			}
		}
	}
}

// renderScene paints an RGB24 buffer. Frames share the buffer; consumers
// must treat Frame.Data as read-only.
func renderScene(w, h int, sc Scene) []byte {
	data := make([]byte, w*h*3)

	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := 0.3*float64(w), 0.45*float64(h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			dx := (float64(x) + 0.5 - cx) / rx
			dy := (float64(y) + 0.5 - cy) / ry
			if sc == SceneFace && dx*dx+dy*dy <= 1 {
				data[i], data[i+1], data[i+2] = 200, 150, 120
				continue
			}
			data[i], data[i+1], data[i+2] = 40, 40, 40
		}
	}

	return data
}
