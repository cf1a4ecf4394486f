package camera

import (
	"errors"
	"fmt"
	"strings"
)

// DeviceErrorKind represents the classification of device failures
type DeviceErrorKind int

const (
	// DeviceUnknown indicates an unclassified platform error
	DeviceUnknown DeviceErrorKind = iota
	// PermissionDenied indicates the user or OS refused camera access
	PermissionDenied
	// DeviceNotFound indicates no matching camera exists
	DeviceNotFound
	// DeviceBusy indicates another process (or a sibling flow) still holds the camera
	DeviceBusy
)

// String returns a human-readable string representation of the kind
func (k DeviceErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceNotFound:
		return "device_not_found"
	case DeviceBusy:
		return "device_busy"
	default:
		return "unknown"
	}
}

// Sentinel errors matchable with errors.Is against a *DeviceError.
var (
	ErrPermissionDenied = errors.New("camera: permission denied")
	ErrDeviceNotFound   = errors.New("camera: device not found")
	ErrDeviceBusy       = errors.New("camera: device busy")
)

// DeviceError wraps a platform failure with its classification so callers
// can render a precise message.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera: %s", e.Kind)
	}
	return fmt.Sprintf("camera: %s: %v", e.Kind, e.Err)
}

// Unwrap supports error unwrapping
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == PermissionDenied
	case ErrDeviceNotFound:
		return e.Kind == DeviceNotFound
	case ErrDeviceBusy:
		return e.Kind == DeviceBusy
	}
	return false
}

// Classify converts a platform error into a *DeviceError.
//
// An error that already carries a *DeviceError keeps its kind. Otherwise the
// message is matched against keyword lists. go-gst does not expose GError
// domains, so string matching is the only option there as well.
//
// Priority: permission (most specific) → busy → not found.
func Classify(err error) *DeviceError {
	if err == nil {
		return nil
	}

	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, permissionKeywords):
		return &DeviceError{Kind: PermissionDenied, Err: err}
	case containsAny(msg, busyKeywords):
		return &DeviceError{Kind: DeviceBusy, Err: err}
	case containsAny(msg, notFoundKeywords):
		return &DeviceError{Kind: DeviceNotFound, Err: err}
	default:
		return &DeviceError{Kind: DeviceUnknown, Err: err}
	}
}

var (
	permissionKeywords = []string{
		"permission denied",
		"not permitted",
		"not authorized",
		"notallowederror",
		"eacces",
		"access denied",
	}
	busyKeywords = []string{
		"busy",
		"ebusy",
		"in use",
		"notreadableerror",
		"could not start video source",
	}
	notFoundKeywords = []string{
		"no such file",
		"no such device",
		"not found",
		"notfounderror",
		"cannot identify device",
		"enoent",
		"enodev",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
