//go:build !gstreamer
// +build !gstreamer

package capture

import "fmt"

// GStreamer is a stub when GStreamer support is disabled.
// Build with -tags=gstreamer to enable the v4l2 and camera module backends.
func GStreamer() Backends {
	return Backends{
		Direct: func(index, width, height int) (Device, error) {
			return nil, fmt.Errorf("%w: rebuild with -tags=gstreamer to open /dev/video%d", ErrBackendUnavailable, index)
		},
		Module: func(width, height int) (Device, error) {
			return nil, fmt.Errorf("%w: rebuild with -tags=gstreamer to open the camera module", ErrBackendUnavailable)
		},
	}
}
