// Package pins abstracts the GPIO lines used by the bin: the proximity
// trigger input, the ultrasonic trigger/echo pairs and the indicator LEDs.
//
// Production code resolves pins through periph.io; tests and --dev runs use
// the simulated pins in sim.go. Both satisfy the same small interfaces so the
// sensor packages never import a driver directly.
package pins

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrUnknownPin is returned when a pin name does not resolve to a GPIO line.
var ErrUnknownPin = errors.New("unknown gpio pin")

// InputPin is the subset of periph's gpio.PinIn used by the sensors.
type InputPin interface {
	// In configures the pin as input with the given pull and edge detection.
	// Requesting an edge on a line without interrupt support returns an error.
	In(pull gpio.Pull, edge gpio.Edge) error
	// Read returns the current level.
	Read() gpio.Level
	// WaitForEdge blocks until an edge is detected or timeout elapses. A
	// negative timeout waits forever.
	WaitForEdge(timeout time.Duration) bool
	Name() string
}

// OutputPin is the subset of periph's gpio.PinOut used by the sensors and
// indicator LEDs.
type OutputPin interface {
	Out(l gpio.Level) error
	Name() string
}

// Registry resolves named pins.
type Registry interface {
	Input(name string) (InputPin, error)
	Output(name string) (OutputPin, error)
}

// Periph resolves pins through periph.io's gpioreg. It must be created with
// InitPeriph, which loads the host drivers.
type Periph struct{}

// InitPeriph initialises the periph host drivers. Failure here is fatal for
// the device: nothing else can run without GPIO.
func InitPeriph() (*Periph, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise gpio host drivers: %w", err)
	}
	for _, failure := range state.Failed {
		// Drivers for absent peripherals commonly fail; they are not fatal.
		logf("gpio: driver %s failed: %v", failure.D, failure.Err)
	}
	return &Periph{}, nil
}

func (*Periph) lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPin, name)
	}
	return p, nil
}

// Input returns the named pin as an InputPin.
func (r *Periph) Input(name string) (InputPin, error) {
	return r.lookup(name)
}

// Output returns the named pin as an OutputPin.
func (r *Periph) Output(name string) (OutputPin, error) {
	return r.lookup(name)
}
