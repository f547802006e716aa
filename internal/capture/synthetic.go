package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// Synthetic is an in-memory camera for --dev runs and tests. Each Read
// returns the next scene, cycling.
type Synthetic struct {
	mu     sync.Mutex
	scenes []image.Image
	next   int
	closed bool
}

// NewSynthetic returns a camera cycling through scenes. With no scenes it
// renders a flat grey frame.
func NewSynthetic(width, height int, scenes ...image.Image) *Synthetic {
	if len(scenes) == 0 {
		scenes = []image.Image{Solid(width, height, color.RGBA{R: 128, G: 128, B: 128, A: 255})}
	}
	return &Synthetic{scenes: scenes}
}

func (s *Synthetic) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("synthetic camera closed")
	}
	img := s.scenes[s.next%len(s.scenes)]
	s.next++
	return img, nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SyntheticBackends exposes cam as device index 0 only.
func SyntheticBackends(cam Device) Backends {
	return Backends{
		Direct: func(index, width, height int) (Device, error) {
			if index != 0 {
				return nil, ErrBackendUnavailable
			}
			return cam, nil
		},
	}
}

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// Stripes returns a w×h image of vertical stripes period pixels wide,
// alternating between a and b.
func Stripes(w, h, period int, a, b color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if period <= 0 {
		period = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/period)%2 == 0 {
				img.Set(x, y, a)
			} else {
				img.Set(x, y, b)
			}
		}
	}
	return img
}
