package detect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	xdraw "golang.org/x/image/draw"
	"gorgonia.org/tensor"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// ImageNet normalisation applied to model inputs.
var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Model classifies the whole frame with an ONNX image classifier whose
// input is a 1×3×S×S float tensor and whose first output holds one score per
// label.
type Model struct {
	Summarizer
	labels []string
	size   int

	mu      sync.Mutex
	backend *gorgonnx.Graph
	model   *onnx.Model
}

// LoadModel reads the ONNX file and its labels (one per line).
func LoadModel(modelPath, labelsPath string, size int, s Summarizer) (*Model, error) {
	if size <= 0 {
		size = 224
	}
	labels, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", modelPath, err)
	}
	monitoring.Logf("loaded ONNX model %s (%d labels, input %dx%d)", modelPath, len(labels), size, size)
	return &Model{Summarizer: s, labels: labels, size: size, backend: backend, model: model}, nil
}

// LoadLabels reads a labels file. Blank lines are skipped; a leading
// "<index> " column, as written by common export tools, is stripped.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		if idx, rest, ok := strings.Cut(line, " "); ok && isDigits(idx) {
			line = strings.TrimSpace(rest)
		}
		labels = append(labels, strings.ToLower(line))
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (m *Model) Name() string { return "onnx" }

func (m *Model) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := tensor.New(
		tensor.WithShape(1, 3, m.size, m.size),
		tensor.WithBacking(ToCHW(img, m.size)),
	)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.model.SetInput(0, input); err != nil {
		return nil, fmt.Errorf("failed to set model input: %w", err)
	}
	if err := m.backend.Run(); err != nil {
		return nil, fmt.Errorf("model inference failed: %w", err)
	}
	outputs, err := m.model.GetOutputTensors()
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}
	if len(outputs) == 0 {
		return nil, errors.New("model produced no output")
	}
	scores, ok := outputs[0].Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected model output type %T", outputs[0].Data())
	}
	d, err := TopClass(scores, m.labels)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("model detection: %s @%.2f", d.Label, d.Confidence)
	return []Detection{d}, nil
}

// ToCHW resizes img to size×size and returns its ImageNet-normalised
// planar RGB pixels.
func ToCHW(img image.Image, size int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	plane := size * size
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			v := float32(dst.Pix[i*4+c]) / 255
			out[c*plane+i] = (v - imageNetMean[c]) / imageNetStd[c]
		}
	}
	return out
}

// TopClass applies softmax to scores and returns the most probable label.
func TopClass(scores []float32, labels []string) (Detection, error) {
	if len(scores) == 0 {
		return Detection{}, errors.New("empty score vector")
	}
	if len(scores) != len(labels) {
		return Detection{}, fmt.Errorf("model emits %d scores for %d labels", len(scores), len(labels))
	}
	probs := Softmax(scores)
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return Detection{Label: labels[best], Confidence: probs[best]}, nil
}

// Softmax normalises scores into probabilities. Scores that already sum to
// one are left unchanged.
func Softmax(scores []float32) []float64 {
	out := make([]float64, len(scores))
	var sum float64
	isProb := true
	for i, s := range scores {
		out[i] = float64(s)
		sum += out[i]
		if s < 0 || s > 1 {
			isProb = false
		}
	}
	if isProb && math.Abs(sum-1) < 1e-3 {
		return out
	}

	maxScore := out[0]
	for _, v := range out {
		if v > maxScore {
			maxScore = v
		}
	}
	sum = 0
	for i, v := range out {
		out[i] = math.Exp(v - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
