package smartbin

import (
	"time"

	"github.com/banshee-data/smartbin/internal/detect"
	"github.com/banshee-data/smartbin/internal/ranging"
	"github.com/banshee-data/smartbin/internal/telemetry"
)

// Snapshot is a point-in-time view of the System for the API.
type Snapshot struct {
	State          string                 `json:"state"`
	InFlight       bool                   `json:"in_flight"`
	StartedAt      time.Time              `json:"started_at,omitempty"`
	Detector       string                 `json:"detector"`
	CaptureBackend string                 `json:"capture_backend"`
	TriggerMode    string                 `json:"trigger_mode,omitempty"`
	LastStatus     telemetry.SystemStatus `json:"last_status"`
	LastRunID      string                 `json:"last_run_id,omitempty"`
	LastSummary    *detect.Summary        `json:"last_summary,omitempty"`
	Levels         []ranging.FillLevel    `json:"levels"`
	FullBins       []string               `json:"full_bins,omitempty"`
	Counters       Counters               `json:"counters"`
}

// Snapshot returns the current state. It does no I/O.
func (s *System) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:          s.state,
		InFlight:       s.inFlight.Load(),
		StartedAt:      s.startedAt,
		Detector:       s.cfg.Detector.Name(),
		CaptureBackend: s.cfg.Capture.Backend(),
		LastStatus:     s.lastStatus,
		LastRunID:      s.lastRunID,
		Levels:         append([]ranging.FillLevel{}, s.lastLevels...),
		FullBins:       append([]string(nil), s.lastFull...),
		Counters:       s.counters,
	}
	if s.trigger != nil {
		snap.TriggerMode = s.trigger.Mode().String()
	}
	if s.lastSummary != nil {
		sum := *s.lastSummary
		snap.LastSummary = &sum
	}
	return snap
}

// Running reports whether the system accepts triggers.
func (s *System) Running() bool { return s.running.Load() }
