package smartbin

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/banshee-data/smartbin/internal/detect"
	"github.com/banshee-data/smartbin/internal/indicator"
	"github.com/banshee-data/smartbin/internal/metrics"
	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/telemetry"
	"github.com/banshee-data/smartbin/internal/trigger"
)

var errNoFrame = errors.New("failed to capture frame")

// process is one processing run. Errors and panics end the run here.
func (s *System) process(runID string, ev trigger.Event) {
	start := s.clock.Now()
	result := metrics.RunFailed
	defer func() {
		if r := recover(); r != nil {
			result = metrics.RunFailed
			s.fail(runID, fmt.Errorf("panic: %v", r))
		}
		metrics.RecordRun(result, s.clock.Since(start))
		s.count(result)
		monitoring.Logf("[run %s] finished: %s in %s", runID, result, s.clock.Since(start))
	}()

	monitoring.Logf("[run %s] processing object (%s trigger)", runID, ev.Source)
	s.cfg.Indicator.Status(true)

	var err error
	result, err = s.classifyAndRoute(runID)
	if err != nil {
		s.fail(runID, err)
		return
	}
	s.cfg.Indicator.Status(false)
}

func (s *System) classifyAndRoute(runID string) (string, error) {
	frame := s.cfg.Capture.Acquire()
	if frame == nil {
		return metrics.RunAborted, errNoFrame
	}

	img := frame.Image
	if s.cfg.Preprocess {
		img = detect.Preprocess(img, s.cfg.PreprocessSize, true)
	}
	summary, err := s.classify(img)
	if err != nil {
		return metrics.RunFailed, err
	}

	s.mu.Lock()
	s.lastSummary = &summary
	s.lastRunID = runID
	s.mu.Unlock()

	if summary.Count > 0 {
		metrics.RecordDetection(summary.Label, summary.Destination)
	}
	if summary.Downgraded() {
		monitoring.Logf("[run %s] %s @%.2f below threshold, routing to %s",
			runID, summary.Label, summary.Confidence, summary.Destination)
	}
	s.publishDetection(telemetry.DetectionEvent{
		RunID:    runID,
		Time:     s.clock.Now(),
		Detector: s.cfg.Detector.Name(),
		Backend:  frame.Backend,
		Summary:  summary,
	})

	if summary.Destination == detect.DestinationNone {
		monitoring.Logf("[run %s] nothing detected, no routing", runID)
		return metrics.RunSkipped, nil
	}
	if err := s.cfg.Actuator.RouteTo(summary.Destination); err != nil {
		return metrics.RunFailed, fmt.Errorf("route to %s: %w", summary.Destination, err)
	}
	s.clock.Sleep(s.cfg.Dwell)
	if err := s.cfg.Actuator.Reset(); err != nil {
		return metrics.RunFailed, fmt.Errorf("reset actuator: %w", err)
	}
	return metrics.RunRouted, nil
}

func (s *System) classify(img image.Image) (detect.Summary, error) {
	detections, err := s.cfg.Detector.Detect(context.Background(), img)
	if err != nil {
		return detect.Summary{}, fmt.Errorf("%s detector: %w", s.cfg.Detector.Name(), err)
	}
	return s.cfg.Detector.Summarize(detections), nil
}

func (s *System) publishDetection(e telemetry.DetectionEvent) {
	if err := s.cfg.Telemetry.PublishDetection(e); err != nil {
		monitoring.Logf("[run %s] failed to publish detection: %v", e.RunID, err)
		metrics.RecordPublishError(telemetry.KindDetection)
	}
}

// fail reports a run-scoped error: error status, status LED off, error LED
// held briefly.
func (s *System) fail(runID string, err error) {
	monitoring.Logf("[run %s] error processing object: %v", runID, err)
	s.publishStatus(telemetry.PhaseError, err.Error(), runID)
	s.cfg.Indicator.Status(false)
	s.cfg.Indicator.FlashError(indicator.ErrorHold)
}

func (s *System) count(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch result {
	case metrics.RunRouted:
		s.counters.Routed++
	case metrics.RunSkipped:
		s.counters.Skipped++
	case metrics.RunAborted:
		s.counters.Aborted++
	default:
		s.counters.Failed++
	}
}
