package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-liveness/modules/facecapture"
	"github.com/e7canasta/orion-liveness/modules/liveness"
)

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// token is an already-completed mqtt.Token
type token struct{ err error }

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return closed }
func (t *token) Error() error                   { return t.err }

type message struct {
	mqtt.Message
	payload []byte
}

func (m *message) Payload() []byte { return m.payload }

// fakeClient records subscriptions and publishes
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	subscribeErr error
	handler      mqtt.MessageHandler
	unsubscribed bool
	published    [][]byte
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = cb
	return &token{err: c.subscribeErr}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = true
	return &token{}
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, payload.([]byte))
	return &token{}
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) deliver(t *testing.T, v any) {
	t.Helper()
	payload, ok := v.([]byte)
	if !ok {
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	c.mu.Lock()
	cb := c.handler
	c.mu.Unlock()
	require.NotNil(t, cb, "not subscribed")
	cb(c, &message{payload: payload})
}

func (c *fakeClient) responses() []Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Response, 0, len(c.published))
	for _, p := range c.published {
		var r Response
		if err := json.Unmarshal(p, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

type fakeFlow struct {
	start      func(ctx context.Context, subjectID string) (facecapture.Result, error)
	triggerErr error
	running    atomic.Bool
	cancels    atomic.Int32
}

func (f *fakeFlow) Start(ctx context.Context, subjectID string) (facecapture.Result, error) {
	return f.start(ctx, subjectID)
}

func (f *fakeFlow) Cancel()           { f.cancels.Add(1) }
func (f *fakeFlow) TriggerNow() error { return f.triggerErr }

func (f *fakeFlow) Status() facecapture.FlowStatus {
	return facecapture.FlowStatus{Running: f.running.Load(), SubjectID: "subject-1"}
}

func newTestHandler(t *testing.T, flow *fakeFlow) (*Handler, *fakeClient) {
	t.Helper()
	fc := &fakeClient{}
	h, err := NewHandler(Config{
		Topic:         "liveness/control/kiosk-01",
		ResponseTopic: "liveness/control/kiosk-01/responses",
		QoS:           1,
		Timeout:       time.Second,
	}, fc, flow)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	t.Cleanup(func() {
		cancel()
		h.Stop()
	})
	return h, fc
}

func waitResponse(t *testing.T, fc *fakeClient, n int) Response {
	t.Helper()
	require.Eventually(t, func() bool { return len(fc.responses()) >= n }, 2*time.Second, 5*time.Millisecond)
	return fc.responses()[n-1]
}

func TestHandler_StartCapture(t *testing.T) {
	flow := &fakeFlow{start: func(ctx context.Context, subjectID string) (facecapture.Result, error) {
		return facecapture.Result{
			SubjectID: subjectID,
			Attempts:  1,
			Outcome:   liveness.Accepted,
			Liveness:  liveness.Result{Outcome: liveness.Accepted},
		}, nil
	}}
	_, fc := newTestHandler(t, flow)

	fc.deliver(t, Command{Command: CmdStartCapture, RequestID: "r-1", SubjectID: "subject-1"})

	resp := waitResponse(t, fc, 1)
	assert.Equal(t, CmdStartCapture, resp.CommandAck)
	assert.Equal(t, "r-1", resp.RequestID)
	assert.Equal(t, "success", resp.Status)
	assert.NotEmpty(t, resp.Timestamp)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "accepted", data["outcome"])
	assert.Equal(t, true, data["accepted"])
	assert.Equal(t, "subject-1", data["subject_id"])

	t.Logf("✅ start_capture answered with outcome %v", data["outcome"])
}

func TestHandler_StartCaptureErrors(t *testing.T) {
	tests := []struct {
		name       string
		cmd        Command
		running    bool
		startErr   error
		wantStatus string
		wantError  string
	}{
		{"missing_subject", Command{Command: CmdStartCapture}, false, nil, "error", "subject_id is required"},
		{"busy", Command{Command: CmdStartCapture, SubjectID: "s"}, true, nil, "error", facecapture.ErrBusy.Error()},
		{"cancelled", Command{Command: CmdStartCapture, SubjectID: "s"}, false, facecapture.ErrCancelled, "cancelled", ""},
		{"device_error", Command{Command: CmdStartCapture, SubjectID: "s"}, false, errors.New("camera: device busy"), "error", "camera: device busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &fakeFlow{start: func(context.Context, string) (facecapture.Result, error) {
				return facecapture.Result{}, tt.startErr
			}}
			flow.running.Store(tt.running)
			_, fc := newTestHandler(t, flow)

			fc.deliver(t, tt.cmd)

			resp := waitResponse(t, fc, 1)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantError, resp.Error)
			t.Logf("✅ %s → %s", tt.name, resp.Status)
		})
	}
}

func TestHandler_Commands(t *testing.T) {
	tests := []struct {
		name       string
		payload    any
		triggerErr error
		wantAck    string
		wantStatus string
	}{
		{"trigger", Command{Command: CmdTriggerCapture}, nil, CmdTriggerCapture, "success"},
		{"trigger_not_running", Command{Command: CmdTriggerCapture}, facecapture.ErrNotRunning, CmdTriggerCapture, "error"},
		{"cancel", Command{Command: CmdCancelCapture}, nil, CmdCancelCapture, "cancelled"},
		{"status", Command{Command: CmdGetStatus}, nil, CmdGetStatus, "success"},
		{"unknown", Command{Command: "reboot"}, nil, "reboot", "error"},
		{"invalid_json", []byte("{not json"), nil, "unknown", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &fakeFlow{triggerErr: tt.triggerErr}
			_, fc := newTestHandler(t, flow)

			fc.deliver(t, tt.payload)

			resp := waitResponse(t, fc, 1)
			assert.Equal(t, tt.wantAck, resp.CommandAck)
			assert.Equal(t, tt.wantStatus, resp.Status)
			t.Logf("✅ %s → %s", tt.name, resp.Status)
		})
	}
}

func TestHandler_CancelAndStatus(t *testing.T) {
	flow := &fakeFlow{}
	flow.running.Store(true)
	_, fc := newTestHandler(t, flow)

	fc.deliver(t, Command{Command: CmdCancelCapture})
	waitResponse(t, fc, 1)
	assert.Equal(t, int32(1), flow.cancels.Load())

	fc.deliver(t, Command{Command: CmdGetStatus})
	resp := waitResponse(t, fc, 2)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["running"])
	assert.Equal(t, "subject-1", data["subject_id"])
}

func TestHandler_StopIsIdempotent(t *testing.T) {
	h, fc := newTestHandler(t, &fakeFlow{})

	h.Stop()
	h.Stop()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.True(t, fc.unsubscribed)
}

func TestHandler_SubscribeFailure(t *testing.T) {
	fc := &fakeClient{subscribeErr: errors.New("not authorized")}
	h, err := NewHandler(Config{Topic: "c", ResponseTopic: "r"}, fc, &fakeFlow{})
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(Config{Topic: "c", ResponseTopic: "r"}, nil, &fakeFlow{})
	assert.Error(t, err)

	_, err = NewHandler(Config{Topic: "c", ResponseTopic: "r"}, &fakeClient{}, nil)
	assert.Error(t, err)

	_, err = NewHandler(Config{Topic: "c"}, &fakeClient{}, &fakeFlow{})
	assert.Error(t, err)
}
