package camera

import "context"

// Source opens the camera hardware.
//
// Implementations must guarantee:
//   - Open() either returns a running Stream or an error; it never leaves
//     the device held on failure
//   - Open() honours ctx cancellation while waiting for the device
//   - errors for denied access, missing hardware and busy hardware are
//     recognisable by Classify (wrap a *DeviceError or use its keywords)
type Source interface {
	// Open requests the device with the given constraints and starts
	// delivering frames at the platform's native rate.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open camera handle.
//
// The frame channel stays open until Close() is called or the device
// fails, whichever happens first. Frames are sent with a non-blocking
// pattern: if the consumer is slow, frames are dropped.
type Stream interface {
	// Frames returns the read-only channel of frames
	Frames() <-chan Frame

	// Close stops every track and releases the device.
	//
	// Safe to call multiple times (idempotent).
	Close() error

	// Constraints returns the configuration the device actually granted
	Constraints() Constraints
}
