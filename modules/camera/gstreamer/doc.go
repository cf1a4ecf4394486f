// Package gstreamer implements camera.Source over a GStreamer v4l2src
// pipeline producing packed RGB frames.
//
// It is the only package in the module that links GStreamer (cgo); the
// camera manager and everything above it build without it.
//
// Requires gstreamer1.0 with gst-plugins-good.
//
//	src, err := gstreamer.NewSource(camera.DeviceConfig{UserDevice: "/dev/video0"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr, err := camera.NewManager(src, camera.DefaultManagerConfig())
package gstreamer
