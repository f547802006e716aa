package main

import (
	"fmt"
	"image/color"
	"log"
	"sort"
	"time"

	"github.com/banshee-data/smartbin/internal/actuator"
	"github.com/banshee-data/smartbin/internal/api"
	"github.com/banshee-data/smartbin/internal/capture"
	"github.com/banshee-data/smartbin/internal/config"
	"github.com/banshee-data/smartbin/internal/detect"
	"github.com/banshee-data/smartbin/internal/pins"
	"github.com/banshee-data/smartbin/internal/ranging"
	"github.com/banshee-data/smartbin/internal/serialmux"
	"github.com/banshee-data/smartbin/internal/telemetry"
	"github.com/banshee-data/smartbin/internal/timeutil"
)

// simulatedLineInterval is how often a --dev serial ranger emits a line.
const simulatedLineInterval = 100 * time.Millisecond

// devFill is the simulated fill fraction of each bin in --dev mode, so the
// dashboard shows one full bin.
var devFill = map[string]float64{
	"dry":        0.35,
	"wet":        0.55,
	"electronic": 0.85,
}

// hardware bundles what differs between a real device and a --dev run.
type hardware struct {
	pins pins.Registry
	sim  *pins.Sim
	dev  bool
}

func newHardware(dev bool) (*hardware, error) {
	if dev {
		sim := pins.NewSim()
		return &hardware{pins: sim, sim: sim, dev: true}, nil
	}
	reg, err := pins.InitPeriph()
	if err != nil {
		return nil, err
	}
	return &hardware{pins: reg}, nil
}

// binSet is the constructed bin monitor plus the serial muxes behind it,
// which the caller must run and close.
type binSet struct {
	monitor *ranging.Monitor
	muxes   []serialmux.SerialMuxInterface
}

func (b *binSet) adminRouters() []api.AdminRouter {
	routers := make([]api.AdminRouter, len(b.muxes))
	for i, m := range b.muxes {
		routers[i] = m
	}
	return routers
}

func (b *binSet) closeMuxes() {
	for _, m := range b.muxes {
		if err := m.Close(); err != nil {
			log.Printf("failed to close serial ranger: %v", err)
		}
	}
}

// buildBins creates one sensor per configured bin. A GPIO setup failure is
// fatal; a serial port that cannot be opened degrades to a disabled mux so
// the bin reports 0%.
func buildBins(cfg *config.Config, hw *hardware, clock timeutil.Clock) (*binSet, error) {
	set := &binSet{}
	var bins []ranging.Bin
	for _, bc := range cfg.GetBins() {
		var (
			sensor ranging.Sensor
			err    error
		)
		if bc.SerialPort != "" {
			sensor, err = set.serialSensor(bc, cfg, hw)
		} else {
			sensor, err = pulseSensor(bc, cfg, hw, clock)
		}
		if err != nil {
			for _, b := range bins {
				b.Sensor.Close()
			}
			set.closeMuxes()
			return nil, fmt.Errorf("bin %s: %w", bc.Name, err)
		}
		bins = append(bins, ranging.Bin{Name: bc.Name, DepthCm: bc.DepthCm, Sensor: sensor})
	}
	set.monitor = ranging.NewMonitor(cfg.GetRangingSamples(), bins...)
	return set, nil
}

func pulseSensor(bc config.BinConfig, cfg *config.Config, hw *hardware, clock timeutil.Clock) (ranging.Sensor, error) {
	if hw.dev {
		depth := bc.DepthCm
		fill := devFill[bc.Name]
		hw.sim.AttachEcho(bc.TriggerPin, bc.EchoPin, pins.NewSimEcho(bc.Name, clock, func() float64 {
			return depth * (1 - fill)
		}))
	}
	trig, err := hw.pins.Output(bc.TriggerPin)
	if err != nil {
		return nil, err
	}
	echo, err := hw.pins.Input(bc.EchoPin)
	if err != nil {
		return nil, err
	}
	pc := ranging.DefaultPulseConfig()
	pc.EchoTimeout = cfg.GetEchoTimeout()
	pc.Clock = clock
	return ranging.NewPulseSensor(trig, echo, pc)
}

func (b *binSet) serialSensor(bc config.BinConfig, cfg *config.Config, hw *hardware) (ranging.Sensor, error) {
	var mux serialmux.SerialMuxInterface
	if hw.dev {
		mm := int(bc.DepthCm * (1 - devFill[bc.Name]) * 10)
		line := fmt.Sprintf("R%04d", mm)
		mux = serialmux.NewSimulatedSerialMux(bc.Name, simulatedLineInterval, func() string { return line })
	} else {
		port, err := serialmux.NewRealSerialMux(bc.SerialPort, bc.SerialOptions())
		if err != nil {
			log.Printf("serial ranger for %s bin unavailable, reporting 0%%: %v", bc.Name, err)
			mux = serialmux.NewDisabledSerialMux()
		} else {
			mux = port
		}
	}
	b.muxes = append(b.muxes, mux)
	return ranging.NewSerialSensor(bc.Name, mux, ranging.SerialConfig{
		Units:         bc.SerialUnits,
		SampleTimeout: 2 * cfg.GetEchoTimeout(),
	})
}

// buildCapture opens the camera. --dev uses a synthetic camera.
func buildCapture(cfg *config.Config, dev, disabled bool, clock timeutil.Clock) *capture.Source {
	cc := capture.DefaultConfig()
	cc.Index = cfg.GetCameraIndex()
	cc.Width = cfg.GetCameraWidth()
	cc.Height = cfg.GetCameraHeight()
	cc.ScanMax = cfg.GetCameraScanMax()
	cc.Clock = clock

	var backends capture.Backends
	switch {
	case disabled:
		log.Print("camera disabled, detection will be skipped")
	case dev:
		cc.Index = 0
		backends = capture.SyntheticBackends(devCamera(cc.Width, cc.Height))
	default:
		backends = capture.GStreamer()
	}
	return capture.Open(cc, backends)
}

// devCamera renders a dry, a wet and an electronic scene. The stripes are
// four pixels wide once scaled to the heuristic's analysis size.
func devCamera(w, h int) *capture.Synthetic {
	period := max(1, 4*w/detect.HeuristicWidth)
	return capture.NewSynthetic(w, h,
		capture.Solid(w, h, color.RGBA{R: 200, G: 180, B: 140, A: 255}),
		capture.Solid(w, h, color.RGBA{R: 60, G: 90, B: 200, A: 255}),
		capture.Stripes(w, h, period, color.Black, color.White),
	)
}

func buildDetector(cfg *config.Config) (detect.Detector, error) {
	return detect.New(cfg.GetDetector(), detect.Options{
		Summarizer: detect.Summarizer{
			Threshold: cfg.GetConfidenceThreshold(),
			SafeLabel: cfg.GetSafeLabel(),
		},
		ModelPath:  cfg.GetModelPath(),
		LabelsPath: cfg.GetLabelsPath(),
		InputSize:  cfg.GetModelInputSize(),
	})
}

// buildActuator connects the servo board. In --dev, or when no servo port
// is configured, door commands are only recorded and logged.
func buildActuator(cfg *config.Config, dev bool, clock timeutil.Clock) (actuator.Actuator, error) {
	servoPins := cfg.GetServoPins()
	if dev || cfg.GetServoPort() == "" {
		if !dev {
			log.Print("no servo port configured, door commands will only be logged")
		}
		labels := make([]string, 0, len(servoPins))
		for label := range servoPins {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		return actuator.NewRecorder(clock, labels...), nil
	}
	board, err := actuator.OpenFirmata(cfg.GetServoPort(), cfg.GetServoBaud())
	if err != nil {
		return nil, err
	}
	open, closed := cfg.GetServoAngles()
	servos, err := actuator.NewServos(board, actuator.ServoConfig{
		Pins:        servoPins,
		OpenAngle:   open,
		ClosedAngle: closed,
	})
	if err != nil {
		board.Close()
		return nil, err
	}
	return servos, nil
}

// buildTelemetry always logs and feeds the hub; MQTT is added when a broker
// is configured and not disabled.
func buildTelemetry(cfg *config.Config, hub *telemetry.Hub, disableMQTT bool) telemetry.Multi {
	sinks := telemetry.Multi{telemetry.Log{}, hub}
	broker := cfg.GetMQTTBroker()
	if disableMQTT || broker == "" {
		log.Print("MQTT telemetry disabled")
		return sinks
	}
	return append(sinks, telemetry.NewMQTT(telemetry.MQTTConfig{
		Broker:      broker,
		ClientID:    cfg.GetMQTTClientID(),
		TopicPrefix: cfg.GetMQTTTopicPrefix(),
		QoS:         cfg.GetMQTTQoS(),
	}))
}

// optionalOutput resolves an LED pin. LEDs are cosmetic, so a missing pin
// is logged and skipped.
func optionalOutput(reg pins.Registry, name, role string) pins.OutputPin {
	if name == "" {
		return nil
	}
	p, err := reg.Output(name)
	if err != nil {
		log.Printf("%s LED on %s unavailable: %v", role, name, err)
		return nil
	}
	return p
}
