package detect

import (
	"fmt"
	"sort"
	"strings"
)

// Options configure a detector.
type Options struct {
	Summarizer
	ModelPath  string
	LabelsPath string
	InputSize  int
}

// Factory builds a detector from options.
type Factory func(Options) (Detector, error)

var factories = map[string]Factory{
	"heuristic": func(o Options) (Detector, error) {
		return NewHeuristic(o.Summarizer), nil
	},
	"onnx": func(o Options) (Detector, error) {
		if o.ModelPath == "" || o.LabelsPath == "" {
			return nil, fmt.Errorf("onnx detector requires model_path and labels_path")
		}
		return LoadModel(o.ModelPath, o.LabelsPath, o.InputSize, o.Summarizer)
	},
}

// Kinds lists the registered detector names.
func Kinds() []string {
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New resolves a detector by name. The empty name selects the heuristic.
func New(kind string, o Options) (Detector, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = "heuristic"
	}
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown detector %q (available: %s)", kind, strings.Join(Kinds(), ", "))
	}
	if o.SafeLabel == "" {
		o.SafeLabel = LabelDry
	}
	return f(o)
}
