package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/e7canasta/orion-liveness/modules/camera"
	"github.com/e7canasta/orion-liveness/modules/facecapture"
)

// Capturer is the flow driven by the API (implemented by *facecapture.Flow)
type Capturer interface {
	Start(ctx context.Context, subjectID string) (facecapture.Result, error)
	Cancel()
	TriggerNow() error
	Status() facecapture.FlowStatus
}

// Handler exposes the capture flow over HTTP
type Handler struct {
	flow Capturer
	log  *slog.Logger
}

// NewHandler returns a Handler over flow
func NewHandler(flow Capturer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{flow: flow, log: log}
}

type startRequest struct {
	SubjectID string `json:"subject_id"`
}

type captureResponse struct {
	SubjectID              string `json:"subject_id"`
	Outcome                string `json:"outcome"`
	Accepted               bool   `json:"accepted"`
	Status                 string `json:"status,omitempty"`
	Attempts               int    `json:"attempts"`
	BiometricValidationID  string `json:"biometric_validation_id,omitempty"`
	SessionID              string `json:"session_id,omitempty"`
	UsedFallbackIdentifier bool   `json:"used_fallback_identifier"`
	ImageWidth             int    `json:"image_width,omitempty"`
	ImageHeight            int    `json:"image_height,omitempty"`
	Error                  string `json:"error,omitempty"`
	DurationMS             int64  `json:"duration_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StartCapture handles POST /v1/captures. Body: {"subject_id": "..."}.
// The request blocks until the flow produces an outcome.
func (h *Handler) StartCapture(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "subject_id is required"})
		return
	}

	res, err := h.flow.Start(r.Context(), req.SubjectID)
	if err != nil {
		status, kind := classify(err)
		h.log.Warn("api: capture failed",
			"subject_id", req.SubjectID,
			"status", status,
			"error", err,
		)
		writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
		return
	}

	resp := captureResponse{
		SubjectID:             res.SubjectID,
		Outcome:               res.Outcome.String(),
		Accepted:              res.Liveness.Accepted(),
		Status:                string(res.Liveness.Status),
		Attempts:              res.Attempts,
		BiometricValidationID: res.Liveness.BiometricValidationID,
		DurationMS:            res.Duration.Milliseconds(),
	}
	if s := res.Liveness.Session; s != nil {
		resp.SessionID = s.ID
		resp.UsedFallbackIdentifier = s.UsedFallbackIdentifier
	}
	if res.Image != nil {
		resp.ImageWidth, resp.ImageHeight = res.Image.Width, res.Image.Height
	}
	if res.Liveness.Err != nil {
		resp.Error = res.Liveness.Err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// TriggerCapture handles POST /v1/captures/trigger
func (h *Handler) TriggerCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.TriggerNow(); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelCapture handles DELETE /v1/captures
func (h *Handler) CancelCapture(w http.ResponseWriter, r *http.Request) {
	h.flow.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus handles GET /v1/captures/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.flow.Status())
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// classify maps flow errors to HTTP status codes
func classify(err error) (int, string) {
	var devErr *camera.DeviceError
	switch {
	case errors.Is(err, facecapture.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, facecapture.ErrCancelled):
		return http.StatusConflict, "cancelled"
	case errors.As(err, &devErr):
		switch devErr.Kind {
		case camera.PermissionDenied:
			return http.StatusForbidden, "permission_denied"
		case camera.DeviceNotFound:
			return http.StatusNotFound, "device_not_found"
		case camera.DeviceBusy:
			return http.StatusServiceUnavailable, "device_busy"
		}
		return http.StatusServiceUnavailable, "device_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
