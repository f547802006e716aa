// Package indicator drives the status and error LEDs.
//
// Either LED may be absent. Write failures are logged and otherwise ignored:
// a broken LED never stops sorting.
package indicator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/pins"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

// Hold durations used by the sorter.
const (
	ReadyBlink = 500 * time.Millisecond
	ErrorHold  = time.Second
)

// Indicator owns the two LEDs.
type Indicator struct {
	mu     sync.Mutex
	status pins.OutputPin
	err    pins.OutputPin
	clock  timeutil.Clock
	state  map[string]bool
}

// New returns an indicator with both LEDs off.
func New(status, errLED pins.OutputPin, clock timeutil.Clock) *Indicator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	i := &Indicator{status: status, err: errLED, clock: clock, state: map[string]bool{}}
	i.Status(false)
	i.Error(false)
	return i
}

func (i *Indicator) set(name string, p pins.OutputPin, on bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state[name] = on
	if p == nil {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := p.Out(level); err != nil {
		monitoring.Logf("failed to drive %s LED on %s: %v", name, p.Name(), err)
		return fmt.Errorf("%s LED: %w", name, err)
	}
	return nil
}

// Status turns the status LED on or off.
func (i *Indicator) Status(on bool) { _ = i.set("status", i.status, on) }

// Error turns the error LED on or off.
func (i *Indicator) Error(on bool) { _ = i.set("error", i.err, on) }

// Blink lights the status LED for d.
func (i *Indicator) Blink(d time.Duration) {
	i.Status(true)
	i.clock.Sleep(d)
	i.Status(false)
}

// FlashError lights the error LED for d.
func (i *Indicator) FlashError(d time.Duration) {
	i.Error(true)
	i.clock.Sleep(d)
	i.Error(false)
}

// State reports the last commanded state of each LED.
func (i *Indicator) State() (status, errLED bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state["status"], i.state["error"]
}

// Cleanup turns both LEDs off.
func (i *Indicator) Cleanup() error {
	return errors.Join(
		i.set("status", i.status, false),
		i.set("error", i.err, false),
	)
}
