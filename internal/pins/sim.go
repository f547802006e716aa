package pins

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

func logf(format string, v ...interface{}) { monitoring.Logf(format, v...) }

// ErrEdgeUnsupported is returned by SimPin.In when edge detection is
// requested on a pin created without interrupt support.
var ErrEdgeUnsupported = errors.New("edge detection not supported on this line")

// SimPin is an in-memory GPIO line. It implements InputPin and OutputPin.
type SimPin struct {
	name string

	mu       sync.Mutex
	level    gpio.Level
	pull     gpio.Pull
	edge     gpio.Edge
	noEdges  bool
	inErr    error
	outs     []gpio.Level
	edges    chan struct{}
	inCalls  int
	outCalls int
}

// NewSimPin returns a simulated pin resting at the given level.
func NewSimPin(name string, level gpio.Level) *SimPin {
	return &SimPin{
		name:  name,
		level: level,
		edges: make(chan struct{}, 16),
	}
}

// DisableEdges makes subsequent edge requests fail, as on a line whose
// driver cannot attach an interrupt.
func (p *SimPin) DisableEdges() *SimPin {
	p.mu.Lock()
	p.noEdges = true
	p.mu.Unlock()
	return p
}

// FailSetup makes every In call fail with err.
func (p *SimPin) FailSetup(err error) *SimPin {
	p.mu.Lock()
	p.inErr = err
	p.mu.Unlock()
	return p
}

func (p *SimPin) Name() string { return p.name }

func (p *SimPin) String() string { return p.name }

func (p *SimPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inCalls++
	if p.inErr != nil {
		return p.inErr
	}
	if edge != gpio.NoEdge && p.noEdges {
		return fmt.Errorf("%s: %w", p.name, ErrEdgeUnsupported)
	}
	p.pull = pull
	p.edge = edge
	return nil
}

func (p *SimPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// WaitForEdge consumes one queued edge. A zero timeout only checks for an
// edge that is already pending; a negative one waits forever.
func (p *SimPin) WaitForEdge(timeout time.Duration) bool {
	if timeout == 0 {
		select {
		case <-p.edges:
			return true
		default:
			return false
		}
	}
	var after <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		after = timer.C
	}
	select {
	case <-p.edges:
		return true
	case <-after:
		return false
	}
}

func (p *SimPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outCalls++
	p.outs = append(p.outs, l)
	p.level = l
	return nil
}

// Set drives the line to l as an external device would, queuing an edge
// notification when the transition matches the configured edge.
func (p *SimPin) Set(l gpio.Level) {
	p.mu.Lock()
	prev := p.level
	p.level = l
	edge := p.edge
	p.mu.Unlock()

	if prev == l {
		return
	}
	if edge == gpio.BothEdges ||
		(edge == gpio.FallingEdge && l == gpio.Low) ||
		(edge == gpio.RisingEdge && l == gpio.High) {
		select {
		case p.edges <- struct{}{}:
		default:
		}
	}
}

// Edge reports the edge mode the pin was last configured with.
func (p *SimPin) Edge() gpio.Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edge
}

// Pull reports the pull the pin was last configured with.
func (p *SimPin) Pull() gpio.Pull {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pull
}

// Outs returns every level written with Out, in order.
func (p *SimPin) Outs() []gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]gpio.Level, len(p.outs))
	copy(out, p.outs)
	return out
}

// SimEcho simulates an HC-SR04 echo line paired with a trigger pin. After the
// trigger pulse falls, the echo goes high after a short delay and stays high
// for the round-trip time of the distance returned by Distance.
//
// When Step is non-zero each Read advances the mock clock by Step, which lets
// busy-wait loops make progress under a timeutil.MockClock.
type SimEcho struct {
	name     string
	clock    timeutil.Clock
	mock     *timeutil.MockClock
	Step     time.Duration
	Distance func() float64

	mu        sync.Mutex
	trigHigh  bool
	riseAt    time.Time
	fallAt    time.Time
	armed     bool
	triggered int
}

// RiseDelay is the simulated time between the trigger falling and the echo
// line rising.
const RiseDelay = 10 * time.Microsecond

// NewSimEcho creates an echo simulator. If clock is a *timeutil.MockClock,
// Step defaults to one microsecond.
func NewSimEcho(name string, clock timeutil.Clock, distance func() float64) *SimEcho {
	e := &SimEcho{name: name, clock: clock, Distance: distance}
	if mc, ok := clock.(*timeutil.MockClock); ok {
		e.mock = mc
		e.Step = time.Microsecond
	}
	return e
}

// Trigger returns the output side of the pair.
func (e *SimEcho) Trigger() OutputPin { return simTrigger{e} }

// Echo returns the input side of the pair.
func (e *SimEcho) Echo() InputPin { return simEchoIn{e} }

// Triggered reports how many trigger pulses were observed.
func (e *SimEcho) Triggered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

type simTrigger struct{ e *SimEcho }

func (t simTrigger) Name() string { return t.e.name + "-trig" }

func (t simTrigger) Out(l gpio.Level) error {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if l == gpio.High {
		e.trigHigh = true
		return nil
	}
	if !e.trigHigh {
		return nil
	}
	e.trigHigh = false
	e.triggered++
	d := -1.0
	if e.Distance != nil {
		d = e.Distance()
	}
	if d < 0 {
		// no echo at all
		e.armed = false
		return nil
	}
	roundTrip := time.Duration(d / 17150 * float64(time.Second))
	e.riseAt = e.clock.Now().Add(RiseDelay)
	e.fallAt = e.riseAt.Add(roundTrip)
	e.armed = true
	return nil
}

type simEchoIn struct{ e *SimEcho }

func (s simEchoIn) Name() string                   { return s.e.name + "-echo" }
func (s simEchoIn) In(gpio.Pull, gpio.Edge) error  { return nil }
func (s simEchoIn) WaitForEdge(time.Duration) bool { return false }

func (s simEchoIn) Read() gpio.Level {
	e := s.e
	if e.mock != nil && e.Step > 0 {
		e.mock.Advance(e.Step)
	}
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.armed {
		return gpio.Low
	}
	if !now.Before(e.riseAt) && now.Before(e.fallAt) {
		return gpio.High
	}
	if !now.Before(e.fallAt) {
		e.armed = false
	}
	return gpio.Low
}

// Sim is a Registry of simulated pins, created on first use.
type Sim struct {
	mu     sync.Mutex
	pins   map[string]*SimPin
	echoes map[string]*SimEcho
}

// NewSim returns an empty simulated registry.
func NewSim() *Sim {
	return &Sim{pins: make(map[string]*SimPin), echoes: make(map[string]*SimEcho)}
}

// Pin returns the named simulated pin, creating it at rest level High
// (inputs are pulled up).
func (s *Sim) Pin(name string) *SimPin {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[name]
	if !ok {
		p = NewSimPin(name, gpio.High)
		s.pins[name] = p
	}
	return p
}

// AttachEcho registers an echo simulator under the given trigger and echo
// pin names so that Output(trig) and Input(echo) resolve to it.
func (s *Sim) AttachEcho(trig, echo string, e *SimEcho) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echoes[trig] = e
	s.echoes[echo] = e
}

func (s *Sim) Input(name string) (InputPin, error) {
	s.mu.Lock()
	e, ok := s.echoes[name]
	s.mu.Unlock()
	if ok {
		return e.Echo(), nil
	}
	return s.Pin(name), nil
}

func (s *Sim) Output(name string) (OutputPin, error) {
	s.mu.Lock()
	e, ok := s.echoes[name]
	s.mu.Unlock()
	if ok {
		return e.Trigger(), nil
	}
	return s.Pin(name), nil
}
