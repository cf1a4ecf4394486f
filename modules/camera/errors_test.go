package camera

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want DeviceErrorKind
	}{
		{"v4l2_permission", errors.New("Could not open device '/dev/video0' for reading and writing: Permission denied"), PermissionDenied},
		{"eacces", errors.New("open /dev/video0: EACCES"), PermissionDenied},
		{"browser_not_allowed", errors.New("NotAllowedError: user dismissed prompt"), PermissionDenied},
		{"v4l2_busy", errors.New("Device '/dev/video0' is busy"), DeviceBusy},
		{"not_readable", errors.New("NotReadableError: Could not start video source"), DeviceBusy},
		{"no_such_file", errors.New("open /dev/video3: no such file or directory"), DeviceNotFound},
		{"cannot_identify", errors.New("Cannot identify device '/dev/video9'."), DeviceNotFound},
		{"unknown", errors.New("internal data stream error"), DeviceUnknown},
		// permission wins over busy when both appear
		{"priority", errors.New("permission denied while device busy"), PermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("Classify(%q).Kind = %s, want %s", tt.err, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error must wrap the platform error")
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassify_KeepsExistingKind(t *testing.T) {
	orig := &DeviceError{Kind: DeviceNotFound, Err: errors.New("device busy (stale message)")}
	wrapped := fmt.Errorf("open: %w", orig)

	got := Classify(wrapped)
	if got != orig {
		t.Errorf("Classify() = %v, want the original *DeviceError", got)
	}
}

func TestDeviceError_Is(t *testing.T) {
	err := fmt.Errorf("acquire: %w", &DeviceError{Kind: DeviceBusy, Err: errors.New("EBUSY")})

	if !errors.Is(err, ErrDeviceBusy) {
		t.Error("expected errors.Is(err, ErrDeviceBusy)")
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceNotFound) {
		t.Error("kind sentinels must not cross-match")
	}
}
