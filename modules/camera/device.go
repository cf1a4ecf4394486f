package camera

import "time"

// DeviceConfig names the capture device nodes for a hardware Source
type DeviceConfig struct {
	// UserDevice is the front (selfie) camera node, e.g. /dev/video0
	UserDevice string
	// EnvironmentDevice is the rear camera node. Empty falls back to UserDevice.
	EnvironmentDevice string
	// StartTimeout bounds the wait for the device to start streaming
	StartTimeout time.Duration
}

// Device returns the node serving the requested orientation
func (c DeviceConfig) Device(f Facing) string {
	if f == FacingEnvironment && c.EnvironmentDevice != "" {
		return c.EnvironmentDevice
	}
	return c.UserDevice
}
