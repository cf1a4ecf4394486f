package liveness

import (
	"context"
	"time"
)

// Status is the remote session status
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusCreated   Status = "CREATED"
	StatusExpired   Status = "EXPIRED"
)

// Outcome is the terminal value handed back to the caller
type Outcome int

const (
	// Failed means the protocol could not produce a remote verdict
	Failed Outcome = iota
	// Accepted means the full liveness check succeeded
	Accepted
	// AcceptedWithWarning means the session exists without a completed
	// gesture; the still is validated server-side
	AcceptedWithWarning
	// Rejected means the remote verdict was negative or unknown
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AcceptedWithWarning:
		return "accepted_with_warning"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

// MarshalText renders the outcome as its string form in JSON and YAML
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// IdentifierKind tells which identifier keyed a session
type IdentifierKind string

const (
	// IdentifierPrimary is the biometricValidationId returned by the upload
	IdentifierPrimary IdentifierKind = "primary"
	// IdentifierFallback is the subject's own identifier
	IdentifierFallback IdentifierKind = "fallback"
)

// UploadRequest carries the captured still to the upload endpoint
type UploadRequest struct {
	Image       []byte
	ContentType string
	Filename    string
	SubjectID   string
	ProcessTag  string
}

// UploadResponse is the upload endpoint result
type UploadResponse struct {
	BiometricValidationID string `json:"biometricValidationId"`
}

// SessionResponse is the session creation result
type SessionResponse struct {
	SessionID string `json:"sessionId"`
	// ExpiresIn is the session lifetime in seconds
	ExpiresIn int `json:"expiresIn"`
}

// ValidationResponse is the session validation result
type ValidationResponse struct {
	Status    Status   `json:"status"`
	LiveScore *float64 `json:"liveScore,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Client is the remote liveness service
//
//go:generate mockgen -source=types.go -destination=mocks/client_mock.go -package=mocks Client
type Client interface {
	UploadImage(ctx context.Context, req UploadRequest) (UploadResponse, error)
	CreateSession(ctx context.Context, identifier string) (SessionResponse, error)
	ValidateSession(ctx context.Context, sessionID string) (ValidationResponse, error)
}

// Session is a remote liveness session. A fallback supersedes it with a new
// value; it is never mutated.
type Session struct {
	ID                     string         `json:"session_id"`
	CreatedAt              time.Time      `json:"created_at"`
	ExpiresIn              time.Duration  `json:"expires_in"`
	Status                 Status         `json:"status,omitempty"`
	Identifier             IdentifierKind `json:"identifier_kind"`
	UsedFallbackIdentifier bool           `json:"used_fallback_identifier"`
}

// StepRecord is one entry of the decision trail
type StepRecord struct {
	Step       Step           `json:"step"`
	Identifier IdentifierKind `json:"identifier_kind,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Status     Status         `json:"status,omitempty"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// OK reports whether the step succeeded
func (r StepRecord) OK() bool {
	return r.Error == ""
}

// Result is the complete protocol result. It always carries one of the four
// outcomes; Err is set only for Failed.
type Result struct {
	Outcome               Outcome      `json:"outcome"`
	Status                Status       `json:"status,omitempty"`
	BiometricValidationID string       `json:"biometric_validation_id,omitempty"`
	Session               *Session     `json:"session,omitempty"`
	LiveScore             *float64     `json:"live_score,omitempty"`
	Threshold             *float64     `json:"threshold,omitempty"`
	Steps                 []StepRecord `json:"steps"`
	Err                   error        `json:"-"`
}

// Accepted reports whether the caller may proceed
func (r Result) Accepted() bool {
	return r.Outcome == Accepted || r.Outcome == AcceptedWithWarning
}
