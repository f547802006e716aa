package smartbin

import (
	"context"
	"fmt"

	"github.com/banshee-data/smartbin/internal/metrics"
	"github.com/banshee-data/smartbin/internal/monitoring"
	"github.com/banshee-data/smartbin/internal/ranging"
	"github.com/banshee-data/smartbin/internal/telemetry"
)

// monitorLoop checks the bins immediately and then every MonitorInterval,
// or MonitorBackoff after a sensor panic, until ctx ends or the system stops.
func (s *System) monitorLoop(ctx context.Context) {
	for s.running.Load() {
		wait := s.cfg.MonitorInterval
		if err := s.CheckBins(); err != nil {
			monitoring.Logf("bin monitor error: %v", err)
			metrics.RecordMonitorError()
			wait = s.cfg.MonitorBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
	}
}

// CheckBins measures every bin, publishes the bin status and raises an
// alert per full bin. Publish failures are logged and do not stop the
// alerts. A panic in a sensor is returned as an error.
func (s *System) CheckBins() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bin monitor panic: %v", r)
		}
	}()
	if s.cfg.Bins == nil {
		return nil
	}

	levels, failed := s.cfg.Bins.Survey()
	for _, bin := range failed {
		monitoring.Logf("bin %s: no valid distance reading", bin)
		metrics.RecordRangingFailure(bin)
	}
	for _, l := range levels {
		metrics.RecordFillLevel(l.Bin, l.Percent)
	}
	full := ranging.FullBins(levels, s.cfg.FullThreshold)

	s.mu.Lock()
	s.lastLevels = levels
	s.lastFull = full
	s.mu.Unlock()

	status := telemetry.BinStatus{Time: s.clock.Now(), Levels: levels, Full: full}
	if err := s.cfg.Telemetry.PublishBinStatus(status); err != nil {
		monitoring.Logf("failed to publish bin status: %v", err)
		metrics.RecordPublishError(telemetry.KindBins)
	}

	byBin := ranging.LevelsByBin(levels)
	for _, bin := range full {
		msg := fmt.Sprintf("%s bin is %.0f%% full", bin, byBin[bin])
		monitoring.Logf("alert: %s", msg)
		s.publishStatus(telemetry.PhaseAlert, msg, "")
	}
	return nil
}
