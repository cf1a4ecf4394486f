package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-liveness/modules/facecapture"
)

// Command names accepted on the control topic
const (
	CmdStartCapture   = "start_capture"
	CmdTriggerCapture = "trigger_capture"
	CmdCancelCapture  = "cancel_capture"
	CmdGetStatus      = "get_status"
)

// Flow is the capture flow driven by control commands (implemented by
// *facecapture.Flow)
type Flow interface {
	Start(ctx context.Context, subjectID string) (facecapture.Result, error)
	Cancel()
	TriggerNow() error
	Status() facecapture.FlowStatus
}

// Command represents a control plane command
type Command struct {
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string `json:"command_ack"`
	RequestID  string `json:"request_id,omitempty"`
	Status     string `json:"status"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Config contains control plane settings
type Config struct {
	Topic         string
	ResponseTopic string
	QoS           byte
	// Timeout bounds subscribe and response publish acknowledgements
	Timeout time.Duration
}

// Handler subscribes to the control topic and maps commands onto the flow.
//
// Commands are processed one at a time in arrival order. start_capture runs
// in the background; its response is published when the attempt finishes.
type Handler struct {
	cfg      Config
	client   mqtt.Client
	flow     Flow
	commands chan Command

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewHandler creates a new control plane handler
func NewHandler(cfg Config, client mqtt.Client, flow Flow) (*Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("control: mqtt client is required")
	}
	if flow == nil {
		return nil, fmt.Errorf("control: flow is required")
	}
	if cfg.Topic == "" || cfg.ResponseTopic == "" {
		return nil, fmt.Errorf("control: topic and response topic are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Handler{
		cfg:      cfg,
		client:   client,
		flow:     flow,
		commands: make(chan Command, 10),
		stop:     make(chan struct{}),
	}, nil
}

// Start subscribes to the control topic. Captures started by commands run
// under ctx.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("control: subscribing to control plane", "topic", h.cfg.Topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(h.cfg.Topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(h.cfg.Timeout) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control: handler started", "response_topic", h.cfg.ResponseTopic)
	return nil
}

// Stop unsubscribes and waits for in-flight commands. Idempotent.
// Cancel the flow first: a running start_capture holds Stop until it ends.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		if h.client.IsConnected() {
			h.client.Unsubscribe(h.cfg.Topic).WaitTimeout(h.cfg.Timeout)
		}
		close(h.stop)
		h.wg.Wait()
		slog.Info("control: handler stopped")
	})
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("control: command received", "command", cmd.Command, "request_id", cmd.RequestID)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
		h.respond(Response{
			CommandAck: cmd.Command,
			RequestID:  cmd.RequestID,
			Status:     "error",
			Error:      "command queue full",
		})
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	resp := Response{CommandAck: cmd.Command, RequestID: cmd.RequestID, Status: "success"}

	switch cmd.Command {
	case CmdStartCapture:
		if cmd.SubjectID == "" {
			resp.Status = "error"
			resp.Error = "subject_id is required"
			break
		}
		if h.flow.Status().Running {
			resp.Status = "error"
			resp.Error = facecapture.ErrBusy.Error()
			break
		}
		h.wg.Add(1)
		go h.runCapture(ctx, cmd)
		return

	case CmdTriggerCapture:
		if err := h.flow.TriggerNow(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		}

	case CmdCancelCapture:
		h.flow.Cancel()
		resp.Status = "cancelled"

	case CmdGetStatus:
		resp.Data = h.flow.Status()

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.respond(resp)
}

// runCapture blocks for the whole attempt loop
func (h *Handler) runCapture(ctx context.Context, cmd Command) {
	defer h.wg.Done()

	resp := Response{CommandAck: cmd.Command, RequestID: cmd.RequestID}

	res, err := h.flow.Start(ctx, cmd.SubjectID)
	switch {
	case errors.Is(err, facecapture.ErrCancelled):
		resp.Status = "cancelled"
	case err != nil:
		resp.Status = "error"
		resp.Error = err.Error()
	default:
		resp.Status = "success"
		data := map[string]any{
			"subject_id": res.SubjectID,
			"outcome":    res.Outcome.String(),
			"accepted":   res.Liveness.Accepted(),
			"attempts":   res.Attempts,
		}
		if res.Liveness.Err != nil {
			data["error"] = res.Liveness.Err.Error()
		}
		resp.Data = data
	}

	h.respond(resp)
}

func (h *Handler) respond(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.ResponseTopic, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(h.cfg.Timeout) {
		slog.Warn("control: response publish timeout", "command", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("control: response publish failed", "command", resp.CommandAck, "error", err)
	}
}
