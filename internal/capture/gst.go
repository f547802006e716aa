//go:build gstreamer
// +build gstreamer

package capture

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pullTimeout bounds a single frame read.
const pullTimeout = 2 * time.Second

var gstInit sync.Once

// GStreamer returns the v4l2 (device index) and libcamera (camera module)
// backends.
func GStreamer() Backends {
	return Backends{Direct: openV4L2, Module: openLibcamera}
}

func openV4L2(index, width, height int) (Device, error) {
	path := fmt.Sprintf("/dev/video%d", index)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return openPipeline("v4l2src", map[string]interface{}{"device": path}, width, height)
}

func openLibcamera(width, height int) (Device, error) {
	return openPipeline("libcamerasrc", nil, width, height)
}

// gstDevice is a running pipeline:
//
//	src → videoconvert → videoscale → capsfilter(RGB, w×h) → appsink
type gstDevice struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int
}

func openPipeline(srcName string, props map[string]interface{}, width, height int) (Device, error) {
	gstInit.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	src, err := gst.NewElement(srcName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, srcName, err)
	}
	for k, v := range props {
		src.SetProperty(k, v)
	}
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1) // keep only the latest frame
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link %s pipeline: %w", srcName, err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start %s pipeline: %w", srcName, err)
	}
	return &gstDevice{pipeline: pipeline, sink: sink, width: width, height: height}, nil
}

func (d *gstDevice) Read() (image.Image, error) {
	sample := d.sink.TryPullSample(pullTimeout)
	if sample == nil {
		return nil, fmt.Errorf("no sample within %v", pullTimeout)
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, ErrEmptyFrame
	}
	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	return rgbToImage(mapInfo.Bytes(), d.width, d.height)
}

func (d *gstDevice) Close() error {
	return d.pipeline.SetState(gst.StateNull)
}

// rgbToImage copies packed RGB rows into an RGBA image. Rows may be padded,
// so the stride is derived from the buffer length.
func rgbToImage(data []byte, width, height int) (image.Image, error) {
	if len(data) == 0 || width <= 0 || height <= 0 {
		return nil, ErrEmptyFrame
	}
	stride := len(data) / height
	if stride < width*3 {
		return nil, fmt.Errorf("short frame: %d bytes for %dx%d RGB", len(data), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			out[x*4+0] = row[x*3+0]
			out[x*4+1] = row[x*3+1]
			out[x*4+2] = row[x*3+2]
			out[x*4+3] = 0xff
		}
	}
	return img, nil
}
