package ranging

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// LineSource is the part of a serialmux.SerialMuxInterface a serial ranger
// consumes.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// Units of the range value in a serial ranger's output.
const (
	UnitsMillimetres = "mm"
	UnitsCentimetres = "cm"
	UnitsInches      = "in"
)

// SerialConfig configures a SerialSensor.
type SerialConfig struct {
	// Units of the streamed "Rnnnn" values.
	Units string
	// SampleTimeout bounds the wait for each line.
	SampleTimeout time.Duration
}

// SerialSensor reads a ranger that continuously streams lines of the form
// "R0123" (MaxBotix TTL/RS232 output).
type SerialSensor struct {
	src   LineSource
	id    string
	lines chan string
	cfg   SerialConfig
	name  string
}

// NewSerialSensor subscribes to src. Lines published while no measurement
// is in progress are dropped by the mux, so a measurement always sees fresh
// samples.
func NewSerialSensor(name string, src LineSource, cfg SerialConfig) (*SerialSensor, error) {
	switch cfg.Units {
	case "":
		cfg.Units = UnitsMillimetres
	case UnitsMillimetres, UnitsCentimetres, UnitsInches:
	default:
		return nil, fmt.Errorf("unsupported serial ranger units %q", cfg.Units)
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = 200 * time.Millisecond
	}
	id, ch := src.Subscribe()
	return &SerialSensor{src: src, id: id, lines: ch, cfg: cfg, name: name}, nil
}

// ParseRangeLine converts one "Rnnnn" line to centimetres.
func ParseRangeLine(line, units string) (float64, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "R") || len(line) < 2 {
		return 0, fmt.Errorf("not a range line: %q", line)
	}
	v, err := strconv.Atoi(line[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid range value in %q: %w", line, err)
	}
	switch units {
	case UnitsCentimetres:
		return float64(v), nil
	case UnitsInches:
		return float64(v) * 2.54, nil
	default:
		return float64(v) / 10, nil
	}
}

// Measure collects up to samples range lines, each bounded by the sample
// timeout, and aggregates them.
func (s *SerialSensor) Measure(samples int) Reading {
	if samples <= 0 {
		samples = DefaultSamples
	}
	distances := make([]float64, 0, samples)
	var last string
	for i := 0; i < samples; i++ {
		select {
		case line, ok := <-s.lines:
			if !ok {
				monitoring.Logf("serial ranger %s: line source closed", s.name)
				return Failed
			}
			last = line
			cm, err := ParseRangeLine(line, s.cfg.Units)
			if err != nil {
				monitoring.Debugf("serial ranger %s: %v", s.name, err)
				continue
			}
			distances = append(distances, cm)
		case <-time.After(s.cfg.SampleTimeout):
		}
	}
	r := Aggregate(distances)
	if !r.Valid {
		monitoring.Logf("no valid distance from serial ranger %s (last line %q)", s.name, last)
	}
	return r
}

// Close unsubscribes from the line source.
func (s *SerialSensor) Close() error {
	s.src.Unsubscribe(s.id)
	return nil
}
