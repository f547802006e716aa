// Package ranging measures distance to the waste surface in each bin and
// converts it to a fill level.
//
// Two sensor families are supported: HC-SR04 style trigger/echo sensors timed
// on GPIO (PulseSensor) and serial rangers that stream "Rnnnn" lines
// (SerialSensor). Both apply the same sample filtering: readings outside the
// physical range of the transducer are dropped and the rest averaged.
package ranging

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinValidCm and MaxValidCm bound the physical range of the sensor.
	// Samples must lie strictly inside (MinValidCm, MaxValidCm).
	MinValidCm = 2.0
	MaxValidCm = 400.0

	// HalfSpeedOfSound converts echo round-trip seconds to one-way cm.
	HalfSpeedOfSound = 17150.0

	// FailedDistance is the sentinel distance of a failed measurement.
	FailedDistance = -1.0

	// DefaultSamples is the number of pulses averaged per measurement.
	DefaultSamples = 3
)

// Reading is the aggregate of one measurement.
type Reading struct {
	DistanceCm float64 `json:"distance_cm"`
	Valid      bool    `json:"valid"`
}

// Failed is returned when no sample of a measurement was in range.
var Failed = Reading{DistanceCm: FailedDistance, Valid: false}

// ValidSample reports whether a single distance sample is inside the
// sensor's physical range.
func ValidSample(cm float64) bool {
	return cm > MinValidCm && cm < MaxValidCm
}

// Aggregate drops out-of-range samples and averages the rest. With no
// surviving sample it returns Failed.
func Aggregate(samples []float64) Reading {
	valid := make([]float64, 0, len(samples))
	for _, s := range samples {
		if ValidSample(s) {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return Failed
	}
	return Reading{DistanceCm: stat.Mean(valid, nil), Valid: true}
}

// DistanceFromPulse converts an echo pulse width to centimetres, rounded to
// two decimals.
func DistanceFromPulse(d time.Duration) float64 {
	return math.Round(d.Seconds()*HalfSpeedOfSound*100) / 100
}

// FillLevel is the occupied share of a bin's depth, in percent.
type FillLevel struct {
	Bin     string  `json:"bin"`
	Percent float64 `json:"percent"`
}

// FillLevelFor maps a reading to a fill level for a bin of the given depth.
// A failed reading maps to 0 so that a broken sensor never reports a full
// bin.
func FillLevelFor(bin string, r Reading, depthCm float64) FillLevel {
	if !r.Valid || r.DistanceCm < 0 || depthCm <= 0 {
		return FillLevel{Bin: bin}
	}
	pct := (depthCm - r.DistanceCm) / depthCm * 100
	return FillLevel{Bin: bin, Percent: math.Max(0, math.Min(100, pct))}
}

// IsFull reports whether the level is at or above threshold percent.
func (f FillLevel) IsFull(threshold float64) bool {
	return f.Percent >= threshold
}
