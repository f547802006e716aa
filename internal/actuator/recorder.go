package actuator

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

// Command is one call made on a Recorder.
type Command struct {
	Op    string // "route", "reset" or "cleanup"
	Label string
	At    time.Time
}

// Recorder is an Actuator that logs and records commands instead of moving
// hardware. It backs --dev mode and tests. Known, when set, restricts the
// labels RouteTo accepts.
type Recorder struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	known    map[string]bool
	commands []Command
	active   int
	maxSeen  int
	FailNext error
}

// NewRecorder returns a recorder. With no labels any label is accepted.
func NewRecorder(clock timeutil.Clock, labels ...string) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Recorder{clock: clock}
	if len(labels) > 0 {
		r.known = make(map[string]bool, len(labels))
		for _, l := range labels {
			r.known[l] = true
		}
	}
	return r
}

func (r *Recorder) record(op, label string) error {
	if err := r.FailNext; err != nil {
		r.FailNext = nil
		return err
	}
	r.commands = append(r.commands, Command{Op: op, Label: label, At: r.clock.Now()})
	return nil
}

func (r *Recorder) RouteTo(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known != nil && !r.known[label] && !r.known[LabelUnknown] {
		return fmt.Errorf("%w: %q", ErrUnknownDestination, label)
	}
	if err := r.record("route", label); err != nil {
		return err
	}
	r.active++
	r.maxSeen = max(r.maxSeen, r.active)
	monitoring.Logf("actuator: route to %s", label)
	return nil
}

func (r *Recorder) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("reset", ""); err != nil {
		return err
	}
	r.active = 0
	return nil
}

func (r *Recorder) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("cleanup", "")
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// MaxOpen is the largest number of routes seen outstanding at once.
func (r *Recorder) MaxOpen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSeen
}
