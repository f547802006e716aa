// Package smartbin sequences the sorter: trigger, capture, classify and
// route, with at most one processing run at a time, while a background loop
// reports bin fill levels.
package smartbin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/smartbin/internal/actuator"
	"github.com/banshee-data/smartbin/internal/capture"
	"github.com/banshee-data/smartbin/internal/detect"
	"github.com/banshee-data/smartbin/internal/indicator"
	"github.com/banshee-data/smartbin/internal/metrics"
	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/ranging"
	"github.com/banshee-data/smartbin/internal/telemetry"
	"github.com/banshee-data/smartbin/internal/timeutil"
	"github.com/banshee-data/smartbin/internal/trigger"
)

// Lifecycle states.
const (
	StateInitializing = "initializing"
	StateReady        = "ready"
	StateProcessing   = "processing"
	StateShuttingDown = "shutting_down"
	StateStopped      = "stopped"
)

// FrameSource yields frames for processing. *capture.Source implements it.
type FrameSource interface {
	Acquire() *capture.Frame
	Backend() string
	Release()
}

// BinMonitor measures bin fill levels. *ranging.Monitor implements it.
type BinMonitor interface {
	Survey() (levels []ranging.FillLevel, failed []string)
	Close() error
}

// TriggerRunner delivers trigger events until its context ends.
// *trigger.Trigger implements it.
type TriggerRunner interface {
	Run(ctx context.Context) error
	Mode() trigger.Mode
}

// Config wires the collaborators and timings of a System.
type Config struct {
	Detector  detect.Detector
	Capture   FrameSource
	Actuator  actuator.Actuator
	Indicator *indicator.Indicator
	Telemetry telemetry.Publisher
	Bins      BinMonitor
	Clock     timeutil.Clock

	Dwell           time.Duration
	MonitorInterval time.Duration
	MonitorBackoff  time.Duration
	FullThreshold   float64

	Preprocess     bool
	PreprocessSize int
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.Detector == nil {
		c.Detector = detect.NewHeuristic(detect.DefaultSummarizer())
	}
	if c.Capture == nil {
		c.Capture = capture.Open(capture.Config{Clock: c.Clock}, capture.Backends{})
	}
	if c.Actuator == nil {
		c.Actuator = actuator.NewRecorder(c.Clock)
	}
	if c.Indicator == nil {
		c.Indicator = indicator.New(nil, nil, c.Clock)
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.Log{}
	}
	if c.Dwell == 0 {
		c.Dwell = 2 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 60 * time.Second
	}
	if c.MonitorBackoff <= 0 {
		c.MonitorBackoff = 10 * time.Second
	}
	if c.FullThreshold == 0 {
		c.FullThreshold = 80
	}
}

// Admission is the outcome of offering a trigger to the System.
type Admission int

const (
	Admitted Admission = iota
	Busy
	Stopped
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Busy:
		return "busy"
	default:
		return "stopped"
	}
}

// Counters are lifetime run statistics.
type Counters struct {
	Triggers uint64 `json:"triggers"`
	Rejected uint64 `json:"rejected"`
	Routed   uint64 `json:"routed"`
	Skipped  uint64 `json:"skipped"`
	Aborted  uint64 `json:"aborted"`
	Failed   uint64 `json:"failed"`
}

// System owns the sorter's hardware and the processing gate.
type System struct {
	cfg   Config
	clock timeutil.Clock

	// inFlight is the admission gate; at most one run holds it.
	inFlight atomic.Bool
	running  atomic.Bool
	runs     sync.WaitGroup
	loops    sync.WaitGroup
	shutdown sync.Once

	mu          sync.Mutex
	state       string
	cancel      context.CancelFunc
	trigger     TriggerRunner
	startedAt   time.Time
	lastStatus  telemetry.SystemStatus
	lastSummary *detect.Summary
	lastRunID   string
	lastLevels  []ranging.FillLevel
	lastFull    []string
	counters    Counters
}

// New returns an initializing System. Nil collaborators are replaced with
// inert defaults.
func New(cfg Config) *System {
	cfg.applyDefaults()
	return &System{cfg: cfg, clock: cfg.Clock, state: StateInitializing}
}

// AttachTrigger sets the trigger that Run drives. The trigger's callback is
// normally HandleTrigger.
func (s *System) AttachTrigger(t TriggerRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigger = t
}

func (s *System) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// admit takes the processing gate. The running check and the gate are
// taken under s.mu so that Shutdown cannot miss a run it must wait for.
func (s *System) admit() (string, Admission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.Triggers++
	if !s.running.Load() {
		return "", Stopped
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.counters.Rejected++
		return "", Busy
	}
	s.runs.Add(1)
	s.state = StateProcessing
	return uuid.NewString(), Admitted
}

func (s *System) finish() {
	s.mu.Lock()
	if s.running.Load() {
		s.state = StateReady
	}
	s.mu.Unlock()
	s.inFlight.Store(false)
	s.runs.Done()
}

func (s *System) reject(ev trigger.Event, a Admission) {
	switch a {
	case Busy:
		monitoring.Logf("already processing, discarding trigger from %s", ev.Source)
		metrics.RecordRun(metrics.RunRejected, 0)
	case Stopped:
		monitoring.Logf("not running, ignoring trigger from %s", ev.Source)
	}
}

// HandleTrigger runs the processing sequence for ev on the calling
// goroutine. It returns false without waiting if another run is in flight
// or the system is not running; such events are dropped, never queued.
func (s *System) HandleTrigger(ev trigger.Event) bool {
	runID, a := s.admit()
	if a != Admitted {
		s.reject(ev, a)
		return false
	}
	defer s.finish()
	s.process(runID, ev)
	return true
}

// Submit admits a trigger from source synchronously and runs it on a new
// goroutine.
func (s *System) Submit(source string) Admission {
	ev := trigger.Event{At: s.clock.Now(), Source: source}
	runID, a := s.admit()
	if a != Admitted {
		s.reject(ev, a)
		return a
	}
	monitoring.Logf("object detected (%s)", source)
	go func() {
		defer s.finish()
		s.process(runID, ev)
	}()
	return Admitted
}

// Run starts the system and blocks until ctx is done, then shuts down.
func (s *System) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitializing {
		s.mu.Unlock()
		return errors.New("system already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)
	s.state = StateReady
	s.startedAt = s.clock.Now()
	trig := s.trigger
	s.mu.Unlock()

	if err := s.cfg.Telemetry.Connect(ctx); err != nil {
		monitoring.Logf("telemetry connect failed, continuing without it: %v", err)
	}
	s.publishStatus(telemetry.PhaseReady, "system ready", "")
	s.cfg.Indicator.Blink(indicator.ReadyBlink)

	if s.cfg.Bins != nil {
		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			s.monitorLoop(ctx)
		}()
	}
	if trig != nil {
		monitoring.Logf("trigger running in %s mode", trig.Mode())
		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			if err := trig.Run(ctx); err != nil {
				monitoring.Logf("trigger stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	s.Shutdown()
	return nil
}

// Shutdown stops the loops, waits for an in-flight run and releases every
// collaborator in order. It is idempotent.
func (s *System) Shutdown() {
	s.shutdown.Do(func() {
		monitoring.Logf("shutting down")
		s.mu.Lock()
		s.running.Store(false)
		s.state = StateShuttingDown
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		s.loops.Wait()
		s.runs.Wait()

		s.publishStatus(telemetry.PhaseShutdown, "system shutting down", "")
		s.cfg.Capture.Release()
		if err := s.cfg.Telemetry.Disconnect(); err != nil {
			monitoring.Logf("telemetry disconnect: %v", err)
		}
		if err := s.cfg.Actuator.Cleanup(); err != nil {
			monitoring.Logf("actuator cleanup: %v", err)
		}
		if s.cfg.Bins != nil {
			if err := s.cfg.Bins.Close(); err != nil {
				monitoring.Logf("closing bin sensors: %v", err)
			}
		}
		if err := s.cfg.Indicator.Cleanup(); err != nil {
			monitoring.Logf("indicator cleanup: %v", err)
		}
		s.setState(StateStopped)
		monitoring.Logf("shutdown complete")
	})
}

func (s *System) publishStatus(phase, message, runID string) {
	st := telemetry.SystemStatus{Phase: phase, Message: message, Time: s.clock.Now(), RunID: runID}
	s.mu.Lock()
	s.lastStatus = st
	s.mu.Unlock()
	if err := s.cfg.Telemetry.PublishSystemStatus(st); err != nil {
		monitoring.Logf("failed to publish %s status: %v", phase, err)
		metrics.RecordPublishError(telemetry.KindStatus)
	}
}
