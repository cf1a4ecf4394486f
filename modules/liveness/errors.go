package liveness

import (
	"errors"
	"fmt"
)

// Step names a protocol step
type Step string

const (
	StepUpload        Step = "upload"
	StepCreateSession Step = "create_session"
	StepValidate      Step = "validate"
)

// Sentinel errors matchable with errors.Is against a *ProtocolError
var (
	ErrUploadFailed          = errors.New("liveness: upload failed")
	ErrSessionCreationFailed = errors.New("liveness: session creation failed")
	ErrValidationFailed      = errors.New("liveness: validation failed")

	// ErrMissingValidationID is an otherwise-successful upload without a
	// biometricValidationId
	ErrMissingValidationID = errors.New("upload response has no biometricValidationId")
)

// ProtocolError wraps the terminal error of a protocol step
type ProtocolError struct {
	Step Step
	Err  error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("liveness: %s failed: %v", e.Step, e.Err)
}

// Unwrap supports error unwrapping
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is matches the step sentinels
func (e *ProtocolError) Is(target error) bool {
	switch target {
	case ErrUploadFailed:
		return e.Step == StepUpload
	case ErrSessionCreationFailed:
		return e.Step == StepCreateSession
	case ErrValidationFailed:
		return e.Step == StepValidate
	}
	return false
}

// HTTPError is a non-2xx response from the liveness service
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	// Body is an excerpt of the response body
	Body string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (5xx, 429)
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
