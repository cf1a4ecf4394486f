package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/facecapture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
	"github.com/e7canasta/orion-liveness/modules/presence"
)

// Metrics holds Prometheus collectors for the capture pipeline.
//
// All recording methods are safe on a nil *Metrics (metrics disabled).
type Metrics struct {
	registry *prometheus.Registry

	framesAnalyzed  prometheus.Counter
	presenceScore   prometheus.Histogram
	countdowns      *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	steps           *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveness_frames_analyzed_total",
			Help: "Total number of frames scored by the presence analyzer",
		}),
		presenceScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveness_presence_score",
			Help:    "Distribution of per-frame presence scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		countdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveness_countdowns_total",
			Help: "Countdowns started and cancelled",
		}, []string{"event"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveness_attempts_total",
			Help: "Finished capture attempts by outcome",
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveness_attempt_duration_seconds",
			Help:    "Duration of a capture attempt from acquisition to outcome",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveness_protocol_steps_total",
			Help: "Remote protocol calls by step, identifier kind and result",
		}, []string{"step", "identifier_kind", "result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liveness_protocol_step_duration_seconds",
			Help:    "Latency of remote protocol calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
	}

	registry.MustRegister(
		m.framesAnalyzed,
		m.presenceScore,
		m.countdowns,
		m.attempts,
		m.attemptDuration,
		m.steps,
		m.stepDuration,
	)

	return m
}

// RegisterCamera exports device manager counters read at scrape time
func (m *Metrics) RegisterCamera(stats func() camera.Stats) error {
	if m == nil {
		return nil
	}

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "liveness_camera_active",
			Help: "1 when the camera is held",
		}, func() float64 {
			if stats().Active {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "liveness_camera_acquisitions_total",
			Help: "Successful device acquisitions",
		}, func() float64 { return float64(stats().Acquisitions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "liveness_camera_frames_received_total",
			Help: "Frames delivered by the device",
		}, func() float64 { return float64(stats().FramesReceived) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "liveness_camera_frames_overwritten_total",
			Help: "Frames replaced in the mailbox before being read",
		}, func() float64 { return float64(stats().FramesOverwritten) }),
	}

	var errs []error
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FrameAnalyzed implements facecapture.Observer
func (m *Metrics) FrameAnalyzed(score presence.FrameScore) {
	if m == nil {
		return
	}
	m.framesAnalyzed.Inc()
	m.presenceScore.Observe(float64(score.PresenceScore))
}

// CountdownStarted implements facecapture.Observer
func (m *Metrics) CountdownStarted() {
	if m == nil {
		return
	}
	m.countdowns.WithLabelValues("started").Inc()
}

// CountdownCancelled implements facecapture.Observer
func (m *Metrics) CountdownCancelled() {
	if m == nil {
		return
	}
	m.countdowns.WithLabelValues("cancelled").Inc()
}

// AttemptFinished implements facecapture.Observer
func (m *Metrics) AttemptFinished(r facecapture.Report) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(r.Outcome.String()).Inc()
	m.attemptDuration.Observe(r.Duration.Seconds())
}

// ObserveStep implements liveness.StepObserver
func (m *Metrics) ObserveStep(step liveness.Step, kind liveness.IdentifierKind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if kind == "" {
		kind = "none"
	}
	m.steps.WithLabelValues(string(step), string(kind), result).Inc()
	m.stepDuration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
}

// Handler returns an http.Handler serving the private registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

var (
	_ facecapture.Observer  = (*Metrics)(nil)
	_ liveness.StepObserver = (*Metrics)(nil)
)
