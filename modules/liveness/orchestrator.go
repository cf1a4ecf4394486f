package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-liveness/modules/capture"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/e7canasta/orion-liveness/modules/liveness"

// Config contains orchestrator configuration
type Config struct {
	// ProcessTag is sent with the upload to select the server-side process
	ProcessTag string
	// SettleDelay is waited before each validation call
	SettleDelay time.Duration
	// Policy maps remote statuses to outcomes
	Policy StatusPolicy
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		ProcessTag:  "liveness",
		SettleDelay: time.Second,
		Policy:      DefaultStatusPolicy(),
	}
}

// StepObserver receives one call per remote call (metrics hook)
type StepObserver interface {
	ObserveStep(step Step, kind IdentifierKind, err error, elapsed time.Duration)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithStepObserver registers a step observer
func WithStepObserver(obs StepObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// Orchestrator drives the upload → session → validation protocol.
//
// Steps are strictly sequential. Session creation and validation each get
// exactly one fallback attempt keyed by the subject identifier; the upload
// has none.
type Orchestrator struct {
	client   Client
	cfg      Config
	tracer   trace.Tracer
	observer StepObserver
}

// NewOrchestrator creates an orchestrator over client
func NewOrchestrator(client Client, cfg Config, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("liveness: client is required")
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("liveness: settle delay must not be negative")
	}

	o := &Orchestrator{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the protocol for one captured still.
//
// It always returns a Result with one of the four outcomes; Result.Err is
// a *ProtocolError when the outcome is Failed.
func (o *Orchestrator) Run(ctx context.Context, img *capture.CapturedImage, subjectID string) Result {
	attemptID := ""
	if img != nil {
		attemptID = img.AttemptID
	}

	ctx, span := o.tracer.Start(ctx, "liveness.run", trace.WithAttributes(
		attribute.String("attempt_id", attemptID),
	))
	defer span.End()

	r := &run{
		o:         o,
		subjectID: subjectID,
		log: slog.With(
			"attempt_id", attemptID,
			"subject_id", subjectID,
		),
	}

	started := time.Now()
	res := r.execute(ctx, img)
	res.Steps = r.steps

	span.SetAttributes(
		attribute.String("outcome", res.Outcome.String()),
		attribute.String("status", string(res.Status)),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}

	attrs := []any{
		"outcome", res.Outcome.String(),
		"status", res.Status,
		"steps", len(res.Steps),
		"elapsed", time.Since(started),
	}
	if res.Session != nil {
		attrs = append(attrs,
			"session_id", res.Session.ID,
			"used_fallback_identifier", res.Session.UsedFallbackIdentifier,
		)
	}
	if res.Err != nil {
		r.log.Error("liveness: protocol failed", append(attrs, "error", res.Err)...)
	} else {
		r.log.Info("liveness: protocol finished", attrs...)
	}

	return res
}

// run holds per-invocation state
type run struct {
	o         *Orchestrator
	subjectID string
	log       *slog.Logger
	steps     []StepRecord
}

type validated struct {
	session *Session
	resp    ValidationResponse
}

func (r *run) execute(ctx context.Context, img *capture.CapturedImage) Result {
	res := Result{Outcome: Failed}

	if img == nil || len(img.Encoded) == 0 {
		res.Err = &ProtocolError{Step: StepUpload, Err: errors.New("no captured image")}
		return res
	}
	if r.subjectID == "" {
		res.Err = &ProtocolError{Step: StepUpload, Err: errors.New("subject id is required")}
		return res
	}

	// 1. Upload (terminal on failure)
	bvid, err := r.upload(ctx, img)
	if err != nil {
		res.Err = &ProtocolError{Step: StepUpload, Err: err}
		return res
	}
	res.BiometricValidationID = bvid

	// 2. Session creation: primary, then fallback identifier
	session, _, errs := firstSuccess(ctx, []attempt[*Session]{
		{kind: IdentifierPrimary, run: func(ctx context.Context) (*Session, error) {
			return r.createSession(ctx, IdentifierPrimary, bvid)
		}},
		{kind: IdentifierFallback, run: func(ctx context.Context) (*Session, error) {
			return r.createSession(ctx, IdentifierFallback, r.subjectID)
		}},
	})
	if errs != nil {
		res.Err = &ProtocolError{Step: StepCreateSession, Err: errs[len(errs)-1]}
		return res
	}
	res.Session = session

	// 3. Validation: the created session, then a fresh fallback session
	v, _, errs := firstSuccess(ctx, []attempt[validated]{
		{kind: session.Identifier, run: func(ctx context.Context) (validated, error) {
			resp, err := r.validate(ctx, session)
			return validated{session: session, resp: resp}, err
		}},
		{kind: IdentifierFallback, run: func(ctx context.Context) (validated, error) {
			second, err := r.createSession(ctx, IdentifierFallback, r.subjectID)
			if err != nil {
				return validated{}, err
			}
			resp, err := r.validate(ctx, second)
			return validated{session: second, resp: resp}, err
		}},
	})
	if errs != nil {
		// the original validation error is the one worth reporting
		res.Err = &ProtocolError{Step: StepValidate, Err: errs[0]}
		return res
	}

	// 4. Status interpretation
	final := *v.session
	final.Status = v.resp.Status
	res.Session = &final
	res.Status = v.resp.Status
	res.LiveScore = v.resp.LiveScore
	res.Threshold = v.resp.Threshold
	res.Outcome = r.o.cfg.Policy.Interpret(v.resp.Status)

	if res.Outcome == AcceptedWithWarning {
		r.log.Warn("liveness: accepting session without completed gesture",
			"session_id", final.ID,
			"status", final.Status,
		)
	}

	return res
}

func (r *run) upload(ctx context.Context, img *capture.CapturedImage) (string, error) {
	ctx, span := r.o.tracer.Start(ctx, "liveness.upload")
	defer span.End()

	started := time.Now()
	resp, err := r.o.client.UploadImage(ctx, UploadRequest{
		Image:       img.Encoded,
		ContentType: img.ContentType(),
		Filename:    img.AttemptID + ".jpg",
		SubjectID:   r.subjectID,
		ProcessTag:  r.o.cfg.ProcessTag,
	})
	if err == nil && resp.BiometricValidationID == "" {
		err = ErrMissingValidationID
	}

	r.record(span, StepRecord{Step: StepUpload}, started, err)
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("biometric_validation_id", resp.BiometricValidationID))
	return resp.BiometricValidationID, nil
}

func (r *run) createSession(ctx context.Context, kind IdentifierKind, identifier string) (*Session, error) {
	ctx, span := r.o.tracer.Start(ctx, "liveness.create_session", trace.WithAttributes(
		attribute.String("identifier_kind", string(kind)),
	))
	defer span.End()

	started := time.Now()
	resp, err := r.o.client.CreateSession(ctx, identifier)
	if err == nil && resp.SessionID == "" {
		err = errors.New("session response has no sessionId")
	}

	r.record(span, StepRecord{Step: StepCreateSession, Identifier: kind, SessionID: resp.SessionID}, started, err)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:                     resp.SessionID,
		CreatedAt:              time.Now(),
		ExpiresIn:              time.Duration(resp.ExpiresIn) * time.Second,
		Identifier:             kind,
		UsedFallbackIdentifier: kind == IdentifierFallback,
	}, nil
}

func (r *run) validate(ctx context.Context, s *Session) (ValidationResponse, error) {
	if err := sleepCtx(ctx, r.o.cfg.SettleDelay); err != nil {
		return ValidationResponse{}, err
	}

	ctx, span := r.o.tracer.Start(ctx, "liveness.validate", trace.WithAttributes(
		attribute.String("session_id", s.ID),
		attribute.String("identifier_kind", string(s.Identifier)),
	))
	defer span.End()

	started := time.Now()
	resp, err := r.o.client.ValidateSession(ctx, s.ID)

	r.record(span, StepRecord{
		Step:       StepValidate,
		Identifier: s.Identifier,
		SessionID:  s.ID,
		Status:     resp.Status,
	}, started, err)

	return resp, err
}

// record appends to the decision trail, logs, observes and closes the span status
func (r *run) record(span trace.Span, rec StepRecord, started time.Time, err error) {
	rec.At = started
	rec.Elapsed = time.Since(started)
	if err != nil {
		rec.Error = err.Error()
	}
	r.steps = append(r.steps, rec)

	if r.o.observer != nil {
		r.o.observer.ObserveStep(rec.Step, rec.Identifier, err, rec.Elapsed)
	}

	attrs := []any{
		"step", rec.Step,
		"identifier_kind", rec.Identifier,
		"session_id", rec.SessionID,
		"status", rec.Status,
		"elapsed", rec.Elapsed,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("liveness: step failed", append(attrs, "error", err)...)
		return
	}
	r.log.Info("liveness: step succeeded", attrs...)
}

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
