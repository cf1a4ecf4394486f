package liveness_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-liveness/modules/capture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
	"github.com/e7canasta/orion-liveness/modules/liveness/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	subjectID = "subject-42"
	bvid      = "bv-123"
)

func testImage() *capture.CapturedImage {
	return &capture.CapturedImage{
		AttemptID:  "attempt-1",
		Width:      360,
		Height:     480,
		Encoded:    []byte{0xff, 0xd8, 0xff, 0xd9},
		Quality:    95,
		CapturedAt: time.Now(),
	}
}

func newOrchestrator(t *testing.T, client liveness.Client, policy liveness.StatusPolicy, opts ...liveness.Option) *liveness.Orchestrator {
	t.Helper()
	cfg := liveness.DefaultConfig()
	cfg.SettleDelay = 0
	cfg.Policy = policy

	o, err := liveness.NewOrchestrator(client, cfg, opts...)
	require.NoError(t, err)
	return o
}

func expectUpload(client *mocks.MockClient) *gomock.Call {
	return client.EXPECT().
		UploadImage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req liveness.UploadRequest) (liveness.UploadResponse, error) {
			if req.SubjectID != subjectID || len(req.Image) == 0 {
				return liveness.UploadResponse{}, errors.New("unexpected upload request")
			}
			return liveness.UploadResponse{BiometricValidationID: bvid}, nil
		})
}

func TestOrchestrator_Succeeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	score, threshold := 0.93, 0.8
	gomock.InOrder(
		expectUpload(client),
		client.EXPECT().CreateSession(gomock.Any(), bvid).
			Return(liveness.SessionResponse{SessionID: "sess-primary", ExpiresIn: 300}, nil),
		client.EXPECT().ValidateSession(gomock.Any(), "sess-primary").
			Return(liveness.ValidationResponse{Status: liveness.StatusSucceeded, LiveScore: &score, Threshold: &threshold}, nil),
	)

	o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())
	res := o.Run(context.Background(), testImage(), subjectID)

	require.NoError(t, res.Err)
	assert.Equal(t, liveness.Accepted, res.Outcome)
	assert.True(t, res.Accepted())
	assert.Equal(t, bvid, res.BiometricValidationID)
	require.NotNil(t, res.Session)
	assert.Equal(t, "sess-primary", res.Session.ID)
	assert.False(t, res.Session.UsedFallbackIdentifier)
	assert.Equal(t, 5*time.Minute, res.Session.ExpiresIn)
	assert.Equal(t, &score, res.LiveScore)
	assert.Len(t, res.Steps, 3)
}

// TestOrchestrator_SessionFallback covers a failed primary session creation
// followed by a successful fallback: validation runs once, on the fallback.
func TestOrchestrator_SessionFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	gomock.InOrder(
		expectUpload(client),
		client.EXPECT().CreateSession(gomock.Any(), bvid).
			Return(liveness.SessionResponse{}, errors.New("identifier not enrolled")),
		client.EXPECT().CreateSession(gomock.Any(), subjectID).
			Return(liveness.SessionResponse{SessionID: "sess-fallback"}, nil),
		client.EXPECT().ValidateSession(gomock.Any(), "sess-fallback").
			Return(liveness.ValidationResponse{Status: liveness.StatusSucceeded}, nil).
			Times(1),
	)

	o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())
	res := o.Run(context.Background(), testImage(), subjectID)

	require.NoError(t, res.Err)
	assert.Equal(t, liveness.Accepted, res.Outcome)
	require.NotNil(t, res.Session)
	assert.True(t, res.Session.UsedFallbackIdentifier)
	assert.Equal(t, "sess-fallback", res.Session.ID)
	assert.Equal(t, liveness.IdentifierFallback, res.Session.Identifier)

	require.Len(t, res.Steps, 4)
	assert.False(t, res.Steps[1].OK())
	assert.Equal(t, liveness.IdentifierPrimary, res.Steps[1].Identifier)
	assert.True(t, res.Steps[2].OK())
	assert.Equal(t, liveness.IdentifierFallback, res.Steps[2].Identifier)
}

func TestOrchestrator_StatusInterpretation(t *testing.T) {
	tests := []struct {
		name    string
		status  liveness.Status
		policy  liveness.StatusPolicy
		outcome liveness.Outcome
	}{
		{"succeeded", liveness.StatusSucceeded, liveness.DefaultStatusPolicy(), liveness.Accepted},
		{"created_default", liveness.StatusCreated, liveness.DefaultStatusPolicy(), liveness.AcceptedWithWarning},
		{"expired_default", liveness.StatusExpired, liveness.DefaultStatusPolicy(), liveness.AcceptedWithWarning},
		{"created_strict", liveness.StatusCreated, liveness.StrictStatusPolicy(), liveness.Rejected},
		{"expired_strict", liveness.StatusExpired, liveness.StrictStatusPolicy(), liveness.Rejected},
		{"failed", liveness.Status("FAILED"), liveness.DefaultStatusPolicy(), liveness.Rejected},
		{"no_face", liveness.Status("NO_FACE"), liveness.DefaultStatusPolicy(), liveness.Rejected},
		{"unknown", liveness.Status("SOME_UNKNOWN_CODE"), liveness.DefaultStatusPolicy(), liveness.Rejected},
		{"empty", liveness.Status(""), liveness.DefaultStatusPolicy(), liveness.Rejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)

			expectUpload(client)
			client.EXPECT().CreateSession(gomock.Any(), bvid).
				Return(liveness.SessionResponse{SessionID: "sess-1"}, nil)
			client.EXPECT().ValidateSession(gomock.Any(), "sess-1").
				Return(liveness.ValidationResponse{Status: tt.status}, nil)

			o := newOrchestrator(t, client, tt.policy)
			res := o.Run(context.Background(), testImage(), subjectID)

			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.status, res.Status)
			assert.NoError(t, res.Err, "a remote verdict is never an error")
		})
	}
}

func TestOrchestrator_UploadFailures(t *testing.T) {
	tests := []struct {
		name    string
		resp    liveness.UploadResponse
		err     error
		wantErr error
	}{
		{"missing_validation_id", liveness.UploadResponse{}, nil, liveness.ErrMissingValidationID},
		{"transport_error", liveness.UploadResponse{}, errors.New("connection refused"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)

			client.EXPECT().UploadImage(gomock.Any(), gomock.Any()).Return(tt.resp, tt.err)
			// no CreateSession / ValidateSession expected: upload failure is terminal

			o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())
			res := o.Run(context.Background(), testImage(), subjectID)

			assert.Equal(t, liveness.Failed, res.Outcome)
			assert.ErrorIs(t, res.Err, liveness.ErrUploadFailed)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			}
			if tt.err != nil {
				assert.ErrorIs(t, res.Err, tt.err)
			}
			assert.Len(t, res.Steps, 1)
		})
	}
}

func TestOrchestrator_BothSessionCreationsFail(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	last := errors.New("subject locked")
	gomock.InOrder(
		expectUpload(client),
		client.EXPECT().CreateSession(gomock.Any(), bvid).Return(liveness.SessionResponse{}, errors.New("primary rejected")),
		client.EXPECT().CreateSession(gomock.Any(), subjectID).Return(liveness.SessionResponse{}, last),
	)

	o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())
	res := o.Run(context.Background(), testImage(), subjectID)

	assert.Equal(t, liveness.Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, liveness.ErrSessionCreationFailed)
	assert.ErrorIs(t, res.Err, last, "the last error surfaces")
	assert.Contains(t, res.Err.Error(), "subject locked")
}

func TestOrchestrator_ValidationFallback(t *testing.T) {
	original := errors.New("session not ready")

	t.Run("fallback_succeeds", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)

		gomock.InOrder(
			expectUpload(client),
			client.EXPECT().CreateSession(gomock.Any(), bvid).Return(liveness.SessionResponse{SessionID: "sess-1"}, nil),
			client.EXPECT().ValidateSession(gomock.Any(), "sess-1").Return(liveness.ValidationResponse{}, original),
			client.EXPECT().CreateSession(gomock.Any(), subjectID).Return(liveness.SessionResponse{SessionID: "sess-2"}, nil),
			client.EXPECT().ValidateSession(gomock.Any(), "sess-2").Return(liveness.ValidationResponse{Status: liveness.StatusSucceeded}, nil),
		)

		o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())
		res := o.Run(context.Background(), testImage(), subjectID)

		require.NoError(t, res.Err)
		assert.Equal(t, liveness.Accepted, res.Outcome)
		assert.Equal(t, "sess-2", res.Session.ID)
		assert.True(t, res.Session.UsedFallbackIdentifier)
		assert.Equal(t, liveness.StatusSucceeded, res.Session.Status)
	})

	t.Run("fallback_validation_fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)

		gomock.InOrder(
			expectUpload(client),
			client.EXPECT().CreateSession(gomock.Any(), bvid).Return(liveness.SessionResponse{SessionID: "sess-1"}, nil),
			client.EXPECT().ValidateSession(gomock.Any(), "sess-1").Return(liveness.ValidationResponse{}, original),
			client.EXPECT().CreateSession(gomock.Any(), subjectID).Return(liveness.SessionResponse{SessionID: "sess-2"}, nil),
			client.EXPECT().ValidateSession(gomock.Any(), "sess-2").Return(liveness.ValidationResponse{}, errors.New("second failure")),
		)

		o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())
		res := o.Run(context.Background(), testImage(), subjectID)

		assert.Equal(t, liveness.Failed, res.Outcome)
		assert.ErrorIs(t, res.Err, liveness.ErrValidationFailed)
		assert.ErrorIs(t, res.Err, original, "the original validation error surfaces")
	})

	t.Run("fallback_creation_fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockClient(ctrl)

		gomock.InOrder(
			expectUpload(client),
			client.EXPECT().CreateSession(gomock.Any(), bvid).Return(liveness.SessionResponse{SessionID: "sess-1"}, nil),
			client.EXPECT().ValidateSession(gomock.Any(), "sess-1").Return(liveness.ValidationResponse{}, original),
			client.EXPECT().CreateSession(gomock.Any(), subjectID).Return(liveness.SessionResponse{}, errors.New("quota")),
		)

		o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())
		res := o.Run(context.Background(), testImage(), subjectID)

		assert.Equal(t, liveness.Failed, res.Outcome)
		assert.ErrorIs(t, res.Err, original)
	})
}

func TestOrchestrator_InvalidInput(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	o := newOrchestrator(t, client, liveness.DefaultStatusPolicy())

	res := o.Run(context.Background(), nil, subjectID)
	assert.Equal(t, liveness.Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, liveness.ErrUploadFailed)

	res = o.Run(context.Background(), testImage(), "")
	assert.Equal(t, liveness.Failed, res.Outcome)
}

func TestOrchestrator_SettleDelayHonoursContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	expectUpload(client)
	client.EXPECT().CreateSession(gomock.Any(), bvid).Return(liveness.SessionResponse{SessionID: "sess-1"}, nil)

	cfg := liveness.DefaultConfig()
	cfg.SettleDelay = time.Minute
	o, err := liveness.NewOrchestrator(client, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res := o.Run(ctx, testImage(), subjectID)
	assert.Equal(t, liveness.Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, liveness.ErrValidationFailed)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

type stepLog struct {
	mu    sync.Mutex
	steps []liveness.Step
	fails int
}

func (s *stepLog) ObserveStep(step liveness.Step, _ liveness.IdentifierKind, err error, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	if err != nil {
		s.fails++
	}
}

func TestOrchestrator_StepObserver(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	expectUpload(client)
	client.EXPECT().CreateSession(gomock.Any(), bvid).Return(liveness.SessionResponse{}, errors.New("nope"))
	client.EXPECT().CreateSession(gomock.Any(), subjectID).Return(liveness.SessionResponse{SessionID: "s"}, nil)
	client.EXPECT().ValidateSession(gomock.Any(), "s").Return(liveness.ValidationResponse{Status: liveness.StatusExpired}, nil)

	obs := &stepLog{}
	o := newOrchestrator(t, client, liveness.DefaultStatusPolicy(), liveness.WithStepObserver(obs))
	res := o.Run(context.Background(), testImage(), subjectID)

	assert.Equal(t, liveness.AcceptedWithWarning, res.Outcome)
	assert.Equal(t, []liveness.Step{
		liveness.StepUpload,
		liveness.StepCreateSession,
		liveness.StepCreateSession,
		liveness.StepValidate,
	}, obs.steps)
	assert.Equal(t, 1, obs.fails)
}

func TestNewOrchestrator_RequiresClient(t *testing.T) {
	_, err := liveness.NewOrchestrator(nil, liveness.DefaultConfig())
	assert.Error(t, err)
}
