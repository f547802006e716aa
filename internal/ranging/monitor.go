package ranging

import (
	"errors"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// Bin couples a sensor with the depth of the bin it looks into.
type Bin struct {
	Name    string
	DepthCm float64
	Sensor  Sensor
}

// FillLevel measures the bin once and converts the reading.
func (b Bin) FillLevel(samples int) FillLevel {
	return FillLevelFor(b.Name, b.Sensor.Measure(samples), b.DepthCm)
}

// Monitor reads the fill level of every configured bin.
type Monitor struct {
	bins    []Bin
	samples int
}

// NewMonitor returns a monitor over bins, in the given order.
func NewMonitor(samples int, bins ...Bin) *Monitor {
	if samples <= 0 {
		samples = DefaultSamples
	}
	for _, b := range bins {
		monitoring.Logf("monitoring fill level of %s bin (depth %.1f cm)", b.Name, b.DepthCm)
	}
	return &Monitor{bins: bins, samples: samples}
}

// Names returns the bin names in configuration order.
func (m *Monitor) Names() []string {
	names := make([]string, len(m.bins))
	for i, b := range m.bins {
		names[i] = b.Name
	}
	return names
}

// Levels measures every bin once.
func (m *Monitor) Levels() []FillLevel {
	levels, _ := m.Survey()
	return levels
}

// Survey measures every bin once and also names the bins whose sensor
// produced no valid sample. Those bins report 0%.
func (m *Monitor) Survey() (levels []FillLevel, failed []string) {
	levels = make([]FillLevel, len(m.bins))
	for i, b := range m.bins {
		r := b.Sensor.Measure(m.samples)
		if !r.Valid {
			failed = append(failed, b.Name)
		}
		levels[i] = FillLevelFor(b.Name, r, b.DepthCm)
	}
	return levels, failed
}

// FullBins returns the names of the levels at or above threshold. It does no
// I/O.
func FullBins(levels []FillLevel, threshold float64) []string {
	var full []string
	for _, l := range levels {
		if l.IsFull(threshold) {
			full = append(full, l.Bin)
		}
	}
	return full
}

// LevelsByBin indexes levels by bin name.
func LevelsByBin(levels []FillLevel) map[string]float64 {
	out := make(map[string]float64, len(levels))
	for _, l := range levels {
		out[l.Bin] = l.Percent
	}
	return out
}

// Close releases every sensor.
func (m *Monitor) Close() error {
	var errs []error
	for _, b := range m.bins {
		if err := b.Sensor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
