// Package camera manages exclusive access to the local video capture device.
//
// The camera is a singleton hardware resource that may still be held by a
// preceding capture step in the same journey (for example a document photo).
// Manager serializes acquire/release with a single guard, inserts fixed grace
// delays before touching the device, and falls back to a minimal
// configuration when the preferred one cannot be satisfied.
//
// # Quick Start
//
//	src, err := gstreamer.NewSource(camera.DeviceConfig{
//	    UserDevice: "/dev/video0",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mgr, err := camera.NewManager(src, camera.DefaultManagerConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Release()
//
//	if err := mgr.Acquire(ctx); err != nil {
//	    switch {
//	    case errors.Is(err, camera.ErrPermissionDenied):
//	        // ask the user to grant access
//	    case errors.Is(err, camera.ErrDeviceBusy):
//	        // another application holds the camera
//	    }
//	}
//
//	frame := mgr.Latest() // nil until the first frame arrives
//
// # Concurrency
//
//   - Acquire() arriving while another Acquire() or Release() runs returns
//     nil immediately; requests are never queued
//   - Release() is idempotent and cancels an in-flight acquisition
//   - Frames are delivered at the device's native rate into a single-slot
//     mailbox; the Manager never samples them itself
//
// # Sources
//
//   - gstreamer.Source (subpackage): v4l2src pipeline producing RGB frames
//     (requires gstreamer1.0 with gst-plugins-good; the only cgo dependency)
//   - TestSource: synthetic frames for tests and hardware-less demos
package camera
