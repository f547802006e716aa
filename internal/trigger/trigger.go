// Package trigger detects an object placed in front of the IR proximity
// sensor. The sensor pulls its output low while an object is present.
//
// Edge interrupts are used when the GPIO driver supports them; otherwise the
// trigger polls the line. Both paths raise raw signals that pass through a
// Debouncer before reaching the callback.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/smartbin/internal/metrics"
	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/pins"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

// Signal sources.
const (
	SourceEdge   = "edge"
	SourcePoll   = "poll"
	SourceManual = "manual"
)

// Event is a debounced object-presence signal.
type Event struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
}

// Debouncer admits at most one signal per window.
type Debouncer struct {
	window time.Duration
	clock  timeutil.Clock

	mu   sync.Mutex
	last time.Time
	seen bool
}

// NewDebouncer returns a debouncer with the given window.
func NewDebouncer(window time.Duration, clock timeutil.Clock) *Debouncer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Debouncer{window: window, clock: clock}
}

// Admit reports whether a signal from source arriving now is at least one
// window after the last admitted signal, and records it if so. The check and
// the update happen under one lock, so concurrent callers cannot both be
// admitted.
func (d *Debouncer) Admit(source string) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	if d.seen && now.Sub(d.last) < d.window {
		return Event{}, false
	}
	d.last = now
	d.seen = true
	return Event{At: now, Source: source}, true
}

// Mode is how a Trigger learns about presence changes.
type Mode int

const (
	ModeEdge Mode = iota
	ModePolling
)

func (m Mode) String() string {
	switch m {
	case ModeEdge:
		return "edge"
	case ModePolling:
		return "polling"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config holds the trigger timings.
type Config struct {
	// Debounce is the minimum time between admitted signals.
	Debounce time.Duration
	// PollInterval is the period of presence polling.
	PollInterval time.Duration
	// EdgeWait bounds each wait for an interrupt so that Run can observe
	// cancellation.
	EdgeWait time.Duration
	Clock    timeutil.Clock
}

func (c *Config) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.EdgeWait <= 0 {
		c.EdgeWait = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
}

// Trigger watches the IR sensor line.
type Trigger struct {
	pin       pins.InputPin
	cfg       Config
	debouncer *Debouncer
	callback  func(Event)
	mode      Mode
}

// New configures pin as a pulled-up input. A failure of that base setup is
// returned and is fatal for the caller. When callback is non-nil, falling-edge
// detection is requested as well; if the driver refuses, the trigger logs
// the reason and falls back to ModePolling.
func New(pin pins.InputPin, cfg Config, callback func(Event)) (*Trigger, error) {
	cfg.applyDefaults()
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure IR sensor pin %s: %w", pin.Name(), err)
	}

	t := &Trigger{
		pin:       pin,
		cfg:       cfg,
		debouncer: NewDebouncer(cfg.Debounce, cfg.Clock),
		callback:  callback,
		mode:      ModePolling,
	}
	if callback != nil {
		if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			monitoring.Logf("edge detection unavailable on %s (%v), falling back to polling every %v",
				pin.Name(), err, cfg.PollInterval)
		} else {
			t.mode = ModeEdge
		}
	}
	monitoring.Logf("IR trigger on %s ready (%s mode, debounce %v)", pin.Name(), t.mode, cfg.Debounce)
	return t, nil
}

// Mode reports the active notification mode.
func (t *Trigger) Mode() Mode { return t.mode }

// IsPresent polls the line once. Low means an object blocks the beam.
func (t *Trigger) IsPresent() bool {
	return t.pin.Read() == gpio.Low
}

// WaitForObject polls every PollInterval until an object is present, the
// timeout elapses or ctx is done. A timeout <= 0 waits with no deadline.
// It works in both modes.
func (t *Trigger) WaitForObject(ctx context.Context, timeout time.Duration) bool {
	clock := t.cfg.Clock
	deadline := clock.Now().Add(timeout)
	for {
		if t.IsPresent() {
			return true
		}
		if timeout > 0 && !clock.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-clock.After(t.cfg.PollInterval):
		}
	}
}

// Signal passes a raw signal through the debouncer and, if admitted, invokes
// the callback synchronously. It reports whether the signal was admitted.
func (t *Trigger) Signal(source string) bool {
	ev, ok := t.debouncer.Admit(source)
	metrics.RecordTriggerSignal(source, ok)
	if !ok {
		monitoring.Debugf("trigger signal from %s debounced", source)
		return false
	}
	monitoring.Logf("object detected (%s)", source)
	if t.callback != nil {
		t.callback(ev)
	}
	return true
}

// Run delivers signals until ctx is done. In ModeEdge it waits on the
// interrupt; in ModePolling it raises a signal on each absent to present
// transition. The callback runs on Run's goroutine.
func (t *Trigger) Run(ctx context.Context) error {
	if t.mode == ModeEdge {
		t.runEdge(ctx)
	} else {
		t.runPolling(ctx)
	}
	return nil
}

func (t *Trigger) runEdge(ctx context.Context) {
	for ctx.Err() == nil {
		if t.pin.WaitForEdge(t.cfg.EdgeWait) && ctx.Err() == nil && t.Signal(SourceEdge) {
			t.drainEdges()
		}
	}
}

// maxDrain bounds drainEdges on a line that keeps chattering.
const maxDrain = 64

// drainEdges discards interrupts latched while the callback ran, so an
// object that arrived during a run is dropped rather than queued behind it.
func (t *Trigger) drainEdges() {
	n := 0
	for n < maxDrain && t.pin.WaitForEdge(0) {
		metrics.RecordTriggerSignal(SourceEdge, false)
		n++
	}
	if n > 0 {
		monitoring.Debugf("discarded %d edge(s) latched during processing", n)
	}
}

func (t *Trigger) runPolling(ctx context.Context) {
	present := t.IsPresent()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.cfg.Clock.After(t.cfg.PollInterval):
		}
		now := t.IsPresent()
		if now && !present {
			t.Signal(SourcePoll)
		}
		present = now
	}
}
