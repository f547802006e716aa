package detect

import (
	"context"
	"image"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// Heuristic analysis parameters.
const (
	HeuristicWidth  = 160
	HeuristicHeight = 120

	CannyLow  = 80
	CannyHigh = 160
)

// Stats are the frame statistics the heuristic rules read. Saturation and
// brightness use the 8-bit HSV scale (0..255).
type Stats struct {
	MeanSaturation float64 `json:"mean_saturation"`
	MeanBrightness float64 `json:"mean_brightness"`
	StdBrightness  float64 `json:"std_brightness"`
	EdgeDensity    float64 `json:"edge_density"`
}

// Classify applies the ordered rules; the first match wins.
func Classify(s Stats) Detection {
	switch {
	case s.EdgeDensity > 0.12 && s.MeanBrightness > 80 && s.MeanBrightness < 200:
		return Detection{Label: LabelElectronic, Confidence: 0.70}
	case s.MeanSaturation > 80 && s.MeanBrightness > 90:
		return Detection{Label: LabelWet, Confidence: 0.65}
	default:
		return Detection{Label: LabelDry, Confidence: 0.60}
	}
}

// Heuristic guesses the category from colour, brightness and edge density.
// It needs no model and always returns exactly one whole-frame detection.
type Heuristic struct {
	Summarizer
}

// NewHeuristic returns a heuristic detector.
func NewHeuristic(s Summarizer) *Heuristic {
	monitoring.Logf("initialised heuristic detector (threshold %.2f, safe label %s)", s.Threshold, s.SafeLabel)
	return &Heuristic{Summarizer: s}
}

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := ComputeStats(img)
	monitoring.Debugf("heuristic stats: mean_s=%.2f mean_v=%.2f std_v=%.2f edge_density=%.3f",
		s.MeanSaturation, s.MeanBrightness, s.StdBrightness, s.EdgeDensity)
	d := Classify(s)
	monitoring.Logf("heuristic detection: %s @%.2f", d.Label, d.Confidence)
	return []Detection{d}, nil
}

// ComputeStats downsamples img to 160×120 and measures it.
func ComputeStats(img image.Image) Stats {
	small := image.NewRGBA(image.Rect(0, 0, HeuristicWidth, HeuristicHeight))
	xdraw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	n := HeuristicWidth * HeuristicHeight
	sat := make([]float64, n)
	val := make([]float64, n)
	gray := make([]float64, n)
	for i := 0; i < n; i++ {
		r, g, b := small.Pix[i*4], small.Pix[i*4+1], small.Pix[i*4+2]
		sat[i], val[i] = saturationValue(r, g, b)
		gray[i] = luma(r, g, b)
	}

	meanV, stdV := stat.PopMeanStdDev(val, nil)
	edges := Canny(gray, HeuristicWidth, HeuristicHeight, CannyLow, CannyHigh)
	var count int
	for _, e := range edges {
		if e {
			count++
		}
	}
	return Stats{
		MeanSaturation: stat.Mean(sat, nil),
		MeanBrightness: meanV,
		StdBrightness:  stdV,
		EdgeDensity:    float64(count) / float64(n),
	}
}

// saturationValue returns S and V of the 8-bit HSV encoding of r,g,b.
func saturationValue(r, g, b uint8) (s, v float64) {
	hi, lo := r, r
	for _, c := range []uint8{g, b} {
		if c > hi {
			hi = c
		}
		if c < lo {
			lo = c
		}
	}
	if hi == 0 {
		return 0, 0
	}
	return float64(hi-lo) * 255 / float64(hi), float64(hi)
}

func luma(r, g, b uint8) float64 {
	y := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	return float64(int(y + 0.5))
}
