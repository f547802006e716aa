// Package telemetry reports detections, bin levels and system status to the
// outside world. Publishing is fire-and-forget from the sorter's point of
// view: callers log failures and carry on.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/smartbin/internal/detect"
	"github.com/banshee-data/smartbin/internal/ranging"
)

// ErrNotConnected is returned when publishing before Connect or after
// Disconnect.
var ErrNotConnected = errors.New("telemetry not connected")

// System phases.
const (
	PhaseReady    = "ready"
	PhaseError    = "error"
	PhaseAlert    = "alert"
	PhaseShutdown = "shutdown"
	// PhaseOffline is only ever published by the broker as the last will.
	PhaseOffline = "offline"
)

// Event kinds, also the MQTT topic suffixes.
const (
	KindDetection = "detection"
	KindBins      = "bins"
	KindStatus    = "status"
)

// DetectionEvent is published once per processing run that captured a frame.
type DetectionEvent struct {
	RunID    string         `json:"run_id"`
	Time     time.Time      `json:"time"`
	Detector string         `json:"detector"`
	Backend  string         `json:"capture_backend,omitempty"`
	Summary  detect.Summary `json:"summary"`
}

// BinStatus is the periodic fill report.
type BinStatus struct {
	Time   time.Time           `json:"time"`
	Levels []ranging.FillLevel `json:"levels"`
	Full   []string            `json:"full,omitempty"`
}

// SystemStatus reports a lifecycle or error condition.
type SystemStatus struct {
	Phase   string    `json:"phase"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id,omitempty"`
}

// Event wraps any published payload for streaming consumers.
type Event struct {
	Kind    string    `json:"kind"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Publisher is implemented by every telemetry sink. Implementations are
// safe for concurrent use.
type Publisher interface {
	Connect(ctx context.Context) error
	PublishDetection(DetectionEvent) error
	PublishBinStatus(BinStatus) error
	PublishSystemStatus(SystemStatus) error
	Disconnect() error
}
