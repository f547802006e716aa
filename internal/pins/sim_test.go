package pins

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/smartbin/internal/timeutil"
)

func TestSimPin_EdgeNotification(t *testing.T) {
	p := NewSimPin("GPIO17", gpio.High)
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		t.Fatalf("In() error = %v", err)
	}

	p.Set(gpio.Low)
	if !p.WaitForEdge(100 * time.Millisecond) {
		t.Fatal("expected falling edge")
	}

	// rising edge is not reported for a falling-edge pin
	p.Set(gpio.High)
	if p.WaitForEdge(10 * time.Millisecond) {
		t.Fatal("unexpected edge on rising transition")
	}
}

func TestSimPin_WaitForEdgeZeroTimeout(t *testing.T) {
	p := NewSimPin("GPIO17", gpio.High)
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		t.Fatalf("In() error = %v", err)
	}
	if p.WaitForEdge(0) {
		t.Fatal("WaitForEdge(0) reported an edge with none pending")
	}
	p.Set(gpio.Low)
	if !p.WaitForEdge(0) {
		t.Fatal("WaitForEdge(0) missed a pending edge")
	}
	if p.WaitForEdge(0) {
		t.Fatal("edge was delivered twice")
	}
}

func TestSimPin_DisableEdges(t *testing.T) {
	p := NewSimPin("GPIO17", gpio.High).DisableEdges()

	err := p.In(gpio.PullUp, gpio.FallingEdge)
	if !errors.Is(err, ErrEdgeUnsupported) {
		t.Fatalf("In(FallingEdge) error = %v, want ErrEdgeUnsupported", err)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		t.Fatalf("In(NoEdge) error = %v", err)
	}
	if p.Pull() != gpio.PullUp {
		t.Errorf("Pull() = %v, want PullUp", p.Pull())
	}
}

func TestSimPin_FailSetup(t *testing.T) {
	boom := errors.New("boom")
	p := NewSimPin("GPIO4", gpio.High).FailSetup(boom)
	if err := p.In(gpio.PullUp, gpio.NoEdge); !errors.Is(err, boom) {
		t.Fatalf("In() error = %v, want boom", err)
	}
}

func TestSimPin_OutRecordsLevels(t *testing.T) {
	p := NewSimPin("GPIO22", gpio.Low)
	_ = p.Out(gpio.High)
	_ = p.Out(gpio.Low)
	outs := p.Outs()
	if len(outs) != 2 || outs[0] != gpio.High || outs[1] != gpio.Low {
		t.Errorf("Outs() = %v", outs)
	}
}

func TestSimEcho_PulseWidthMatchesDistance(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	e := NewSimEcho("bin", clock, func() float64 { return 100 })
	trig, echo := e.Trigger(), e.Echo()

	_ = trig.Out(gpio.High)
	_ = trig.Out(gpio.Low)

	var rise, fall time.Time
	for i := 0; i < 100000; i++ {
		l := echo.Read()
		if l == gpio.High && rise.IsZero() {
			rise = clock.Now()
		}
		if l == gpio.Low && !rise.IsZero() {
			fall = clock.Now()
			break
		}
	}
	if rise.IsZero() || fall.IsZero() {
		t.Fatal("echo pulse not observed")
	}
	width := fall.Sub(rise)
	wantNs := 100.0 / 17150 * float64(time.Second)
	want := time.Duration(wantNs)
	if diff := width - want; diff < -2*time.Microsecond || diff > 2*time.Microsecond {
		t.Errorf("pulse width = %v, want ~%v", width, want)
	}
	if e.Triggered() != 1 {
		t.Errorf("Triggered() = %d, want 1", e.Triggered())
	}
}

func TestSim_Registry(t *testing.T) {
	sim := NewSim()
	in, err := sim.Input("GPIO17")
	if err != nil {
		t.Fatal(err)
	}
	if in.Read() != gpio.High {
		t.Error("simulated inputs should rest high")
	}
	if sim.Pin("GPIO17") != in {
		t.Error("Pin() should return the same instance as Input()")
	}

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	e := NewSimEcho("dry", clock, nil)
	sim.AttachEcho("GPIO23", "GPIO24", e)
	out, _ := sim.Output("GPIO23")
	if out.Name() != "dry-trig" {
		t.Errorf("Output(GPIO23).Name() = %q, want dry-trig", out.Name())
	}
}
