// Package detect classifies a captured frame into a waste category and turns
// the result into a routing decision.
//
// Detectors are selected by name once at startup (see New) and are safe for
// concurrent use.
package detect

import (
	"context"
	"image"
	"math"
)

// Labels known to the sorter. A model may emit others; they are routed as
// is and the actuator decides whether it has a door for them.
const (
	LabelDry        = "dry"
	LabelWet        = "wet"
	LabelElectronic = "electronic"

	// DestinationNone means nothing was detected and no routing happens.
	DestinationNone = "none"
)

// Detection is one classified object.
type Detection struct {
	Label      string           `json:"label"`
	Confidence float64          `json:"confidence"`
	Box        *image.Rectangle `json:"box,omitempty"`
}

// Object is a detection as reported in a Summary.
type Object struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Summary is the routing decision for one frame.
type Summary struct {
	Count       int      `json:"count"`
	Objects     []Object `json:"objects"`
	Destination string   `json:"destination"`
	Confidence  float64  `json:"confidence"`
	// Label is the label of the best detection before any downgrade.
	Label string `json:"label,omitempty"`
}

// Downgraded reports whether the destination differs from the detected label.
func (s Summary) Downgraded() bool {
	return s.Count > 0 && s.Destination != s.Label
}

// Detector classifies frames.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Summarize(detections []Detection) Summary
}

// Summarizer applies the confidence threshold. A detection below Threshold
// is routed to SafeLabel; a confidence equal to Threshold is accepted.
type Summarizer struct {
	Threshold float64
	SafeLabel string
}

// DefaultSummarizer uses threshold 0.4 and the dry bin as the safe default.
func DefaultSummarizer() Summarizer {
	return Summarizer{Threshold: 0.4, SafeLabel: LabelDry}
}

// Summarize routes on the highest-confidence detection; ties go to the
// earliest one.
func (s Summarizer) Summarize(detections []Detection) Summary {
	if len(detections) == 0 {
		return Summary{Count: 0, Objects: []Object{}, Destination: DestinationNone}
	}

	objects := make([]Object, len(detections))
	best := 0
	for i, d := range detections {
		objects[i] = Object{Label: d.Label, Confidence: round2(d.Confidence)}
		if d.Confidence > detections[best].Confidence {
			best = i
		}
	}

	b := detections[best]
	dest := b.Label
	if b.Confidence < s.Threshold {
		dest = s.SafeLabel
	}
	return Summary{
		Count:       len(detections),
		Objects:     objects,
		Destination: dest,
		Confidence:  round2(b.Confidence),
		Label:       b.Label,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
