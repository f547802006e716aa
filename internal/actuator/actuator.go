// Package actuator drives the sorting mechanism: one servo per bin door.
package actuator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// ErrUnknownDestination is returned by RouteTo when no door serves the label
// and no catch-all door is configured.
var ErrUnknownDestination = errors.New("unknown destination")

// LabelUnknown names the catch-all door used for labels without their own.
const LabelUnknown = "unknown"

// Actuator moves an object to the bin for a label. The caller owns the dwell
// between RouteTo and Reset.
type Actuator interface {
	RouteTo(label string) error
	Reset() error
	Cleanup() error
}

// Board is the part of a microcontroller the servos need.
type Board interface {
	ServoMode(pin uint8) error
	ServoWrite(pin uint8, angle uint8) error
	Close() error
}

// ServoConfig maps labels to servo pins.
type ServoConfig struct {
	Pins        map[string]uint8
	OpenAngle   uint8
	ClosedAngle uint8
}

// DefaultServoConfig matches the stock wiring of the sorter.
func DefaultServoConfig() ServoConfig {
	return ServoConfig{
		Pins: map[string]uint8{
			"dry":        9,
			"wet":        10,
			"electronic": 11,
			LabelUnknown: 6,
		},
		OpenAngle:   90,
		ClosedAngle: 0,
	}
}

// Servos opens the door of the destination bin and closes the others.
type Servos struct {
	mu     sync.Mutex
	board  Board
	cfg    ServoConfig
	opened string
	closed bool
}

// NewServos puts every configured pin into servo mode and closes all doors.
func NewServos(board Board, cfg ServoConfig) (*Servos, error) {
	if len(cfg.Pins) == 0 {
		return nil, errors.New("no servo pins configured")
	}
	s := &Servos{board: board, cfg: cfg}
	for _, label := range s.labels() {
		pin := cfg.Pins[label]
		if err := board.ServoMode(pin); err != nil {
			return nil, fmt.Errorf("failed to set servo mode on pin %d (%s): %w", pin, label, err)
		}
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	monitoring.Logf("servos ready: %v open=%d closed=%d", cfg.Pins, cfg.OpenAngle, cfg.ClosedAngle)
	return s, nil
}

func (s *Servos) labels() []string {
	labels := make([]string, 0, len(s.cfg.Pins))
	for l := range s.cfg.Pins {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// pinFor resolves the door for label, falling back to the catch-all door.
func (s *Servos) pinFor(label string) (string, uint8, error) {
	if pin, ok := s.cfg.Pins[label]; ok {
		return label, pin, nil
	}
	if pin, ok := s.cfg.Pins[LabelUnknown]; ok {
		return LabelUnknown, pin, nil
	}
	return "", 0, fmt.Errorf("%w: %q", ErrUnknownDestination, label)
}

func (s *Servos) RouteTo(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("servos are closed")
	}
	door, pin, err := s.pinFor(label)
	if err != nil {
		return err
	}
	if err := s.board.ServoWrite(pin, s.cfg.OpenAngle); err != nil {
		return fmt.Errorf("failed to open %s door: %w", door, err)
	}
	s.opened = door
	monitoring.Logf("routing %s: opened %s door (pin %d)", label, door, pin)
	return nil
}

// Reset closes every door.
func (s *Servos) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Servos) resetLocked() error {
	if s.closed {
		return nil
	}
	var errs []error
	for _, label := range s.labels() {
		if err := s.board.ServoWrite(s.cfg.Pins[label], s.cfg.ClosedAngle); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s door: %w", label, err))
		}
	}
	s.opened = ""
	return errors.Join(errs...)
}

// Opened returns the label of the open door, or "".
func (s *Servos) Opened() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Cleanup closes the doors and releases the board. Later calls are no-ops.
func (s *Servos) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.resetLocked()
	s.closed = true
	return errors.Join(err, s.board.Close())
}
