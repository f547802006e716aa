package ranging

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/pins"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

// Sensor measures the distance to the nearest surface.
type Sensor interface {
	// Measure takes up to samples readings and aggregates them. It never
	// fails; an unusable measurement is reported as Failed.
	Measure(samples int) Reading
	Close() error
}

// PulseConfig holds the timing parameters of a trigger/echo sensor.
type PulseConfig struct {
	// EchoTimeout bounds each wait on the echo line.
	EchoTimeout time.Duration
	// TriggerWidth is the length of the trigger pulse.
	TriggerWidth time.Duration
	// SampleGap is the pause between consecutive pulses so that late echoes
	// from the previous pulse die out.
	SampleGap time.Duration
	Clock     timeutil.Clock
}

// DefaultPulseConfig returns the HC-SR04 timings.
func DefaultPulseConfig() PulseConfig {
	return PulseConfig{
		EchoTimeout:  100 * time.Millisecond,
		TriggerWidth: 10 * time.Microsecond,
		SampleGap:    50 * time.Millisecond,
		Clock:        timeutil.RealClock{},
	}
}

// PulseSensor times echo pulses on a GPIO trigger/echo pair.
type PulseSensor struct {
	trig pins.OutputPin
	echo pins.InputPin
	cfg  PulseConfig
}

// NewPulseSensor configures the pins and lets the transducer settle. An error
// here means the GPIO lines cannot be used at all.
func NewPulseSensor(trig pins.OutputPin, echo pins.InputPin, cfg PulseConfig) (*PulseSensor, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = 100 * time.Millisecond
	}
	if cfg.TriggerWidth <= 0 {
		cfg.TriggerWidth = 10 * time.Microsecond
	}
	if err := echo.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure echo pin %s: %w", echo.Name(), err)
	}
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure trigger pin %s: %w", trig.Name(), err)
	}
	cfg.Clock.Sleep(100 * time.Millisecond)
	monitoring.Logf("ultrasonic sensor initialised (trigger=%s echo=%s)", trig.Name(), echo.Name())
	return &PulseSensor{trig: trig, echo: echo, cfg: cfg}, nil
}

// Measure fires samples pulses and averages the in-range results.
func (s *PulseSensor) Measure(samples int) Reading {
	if samples <= 0 {
		samples = DefaultSamples
	}
	distances := make([]float64, 0, samples)
	var lastPulse time.Duration
	var lastDistance float64
	for i := 0; i < samples; i++ {
		lastPulse = s.pulse()
		lastDistance = DistanceFromPulse(lastPulse)
		distances = append(distances, lastDistance)
		if i < samples-1 && s.cfg.SampleGap > 0 {
			s.cfg.Clock.Sleep(s.cfg.SampleGap)
		}
	}

	r := Aggregate(distances)
	if !r.Valid {
		monitoring.Logf("no valid distance (trigger=%s echo=%s), last pulse=%.4fs dist=%.1fcm; check wiring and the echo voltage divider",
			s.trig.Name(), s.echo.Name(), lastPulse.Seconds(), lastDistance)
		return r
	}
	monitoring.Debugf("measured distance %.2f cm from %v", r.DistanceCm, distances)
	return r
}

// pulse emits one trigger pulse and returns the echo width. Both waits are
// bounded by EchoTimeout, so a disconnected echo line yields a short or
// over-long width that the range filter rejects.
func (s *PulseSensor) pulse() time.Duration {
	clock := s.cfg.Clock
	_ = s.trig.Out(gpio.High)
	clock.Sleep(s.cfg.TriggerWidth)
	_ = s.trig.Out(gpio.Low)

	start := s.waitWhile(gpio.Low)
	end := s.waitWhile(gpio.High)
	return end.Sub(start)
}

// waitWhile spins while the echo line is at level and returns the last time
// it was observed there.
func (s *PulseSensor) waitWhile(level gpio.Level) time.Time {
	clock := s.cfg.Clock
	began := clock.Now()
	last := began
	for s.echo.Read() == level {
		last = clock.Now()
		if last.Sub(began) > s.cfg.EchoTimeout {
			break
		}
	}
	return last
}

// Close leaves the trigger line low.
func (s *PulseSensor) Close() error {
	return s.trig.Out(gpio.Low)
}
