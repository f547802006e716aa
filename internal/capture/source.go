// Package capture acquires still frames from the sorter's camera.
//
// At construction a Source walks an ordered list of backends: a camera opened
// by device index (first the configured one, then a bounded scan of the
// others) and then the camera module. The first one that works is kept for
// the life of the process. If none works the Source stays in a "no source"
// state where Acquire returns nil, so the rest of the device keeps running
// with detection skipped.
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

var (
	// ErrBackendUnavailable is returned by openers whose backend is not
	// compiled in or not present on this host.
	ErrBackendUnavailable = errors.New("capture backend unavailable")
	// ErrEmptyFrame is returned by Device.Read when the camera produced no
	// pixels.
	ErrEmptyFrame = errors.New("empty frame")
)

// Device is an open camera.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

// DirectOpener opens a camera by device index.
type DirectOpener func(index, width, height int) (Device, error)

// ModuleOpener opens the board's camera module.
type ModuleOpener func(width, height int) (Device, error)

// Backends lists the openers tried in order. Nil openers are skipped.
type Backends struct {
	Direct DirectOpener
	Module ModuleOpener
}

// Frame is one captured image.
type Frame struct {
	Image   image.Image
	At      time.Time
	Backend string
}

// Config controls acquisition.
type Config struct {
	Index  int
	Width  int
	Height int
	// ScanMax is the highest device index scanned after the configured one
	// fails.
	ScanMax int
	// Attempts and AttemptDelay bound the probe of a candidate index: it is
	// accepted once a read returns a non-empty frame.
	Attempts     int
	AttemptDelay time.Duration
	Clock        timeutil.Clock
}

// DefaultConfig returns the acquisition defaults.
func DefaultConfig() Config {
	return Config{
		Width:        320,
		Height:       240,
		ScanMax:      20,
		Attempts:     5,
		AttemptDelay: 200 * time.Millisecond,
		Clock:        timeutil.RealClock{},
	}
}

// NoSource is the backend name of a Source without a camera.
const NoSource = "none"

// Source is the acquired camera, or the absence of one.
type Source struct {
	cfg Config

	mu       sync.Mutex
	dev      Device
	backend  string
	released bool
}

// Open runs the acquisition chain and returns a Source. It never fails; see
// Source.Available.
func Open(cfg Config, b Backends) *Source {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &Source{cfg: cfg, backend: NoSource}

	if b.Direct != nil {
		if s.tryIndex(b.Direct, cfg.Index) {
			return s
		}
		for idx := 0; idx <= cfg.ScanMax; idx++ {
			if idx == cfg.Index {
				continue
			}
			if s.tryIndex(b.Direct, idx) {
				return s
			}
		}
	}

	if b.Module != nil {
		dev, err := b.Module(cfg.Width, cfg.Height)
		if err == nil {
			s.dev = dev
			s.backend = "module"
			monitoring.Logf("camera initialised via camera module %dx%d", cfg.Width, cfg.Height)
			return s
		}
		monitoring.Logf("camera module failed: %v", err)
	}

	monitoring.Logf("no camera available (tried device indices 0-%d and the camera module); detection will be skipped", cfg.ScanMax)
	return s
}

// tryIndex opens index and probes it for a non-empty frame.
func (s *Source) tryIndex(open DirectOpener, index int) bool {
	dev, err := open(index, s.cfg.Width, s.cfg.Height)
	if err != nil {
		monitoring.Debugf("camera index %d: %v", index, err)
		return false
	}
	for i := 0; i < s.cfg.Attempts; i++ {
		img, err := dev.Read()
		if err == nil && !emptyImage(img) {
			s.dev = dev
			s.backend = fmt.Sprintf("direct:%d", index)
			monitoring.Logf("camera initialised via device index %d %dx%d", index, s.cfg.Width, s.cfg.Height)
			return true
		}
		// some webcams need a few reads before producing a frame
		s.cfg.Clock.Sleep(s.cfg.AttemptDelay)
	}
	_ = dev.Close()
	return false
}

func emptyImage(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}

// Available reports whether a camera was acquired and not yet released.
func (s *Source) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil
}

// Backend names the acquired backend, or NoSource.
func (s *Source) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Acquire reads one frame. It returns nil when there is no camera or the
// read failed.
func (s *Source) Acquire() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	img, err := s.dev.Read()
	if err != nil || emptyImage(img) {
		if err == nil {
			err = ErrEmptyFrame
		}
		monitoring.Logf("frame capture failed on %s: %v", s.backend, err)
		return nil
	}
	return &Frame{Image: img, At: s.cfg.Clock.Now(), Backend: s.backend}
}

// Release closes the camera. It is safe to call more than once and on a
// Source without a camera.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			monitoring.Logf("camera release on %s: %v", s.backend, err)
		}
		s.dev = nil
	}
	s.backend = NoSource
}
