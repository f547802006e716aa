package telemetry

import (
	"context"
	"errors"
	"strings"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// Multi publishes to every sink and joins their errors. One failing sink
// does not stop delivery to the others.
type Multi []Publisher

func (m Multi) each(f func(Publisher) error) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := f(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Connect(ctx context.Context) error {
	return m.each(func(p Publisher) error { return p.Connect(ctx) })
}

func (m Multi) PublishDetection(e DetectionEvent) error {
	return m.each(func(p Publisher) error { return p.PublishDetection(e) })
}

func (m Multi) PublishBinStatus(s BinStatus) error {
	return m.each(func(p Publisher) error { return p.PublishBinStatus(s) })
}

func (m Multi) PublishSystemStatus(s SystemStatus) error {
	return m.each(func(p Publisher) error { return p.PublishSystemStatus(s) })
}

func (m Multi) Disconnect() error {
	return m.each(func(p Publisher) error { return p.Disconnect() })
}

// Log writes every event to the log. It never fails.
type Log struct{}

func (Log) Connect(context.Context) error { return nil }

func (Log) PublishDetection(e DetectionEvent) error {
	objs := make([]string, len(e.Summary.Objects))
	for i, o := range e.Summary.Objects {
		objs[i] = o.Label
	}
	monitoring.Logf("[run %s] detection: %d object(s) [%s] -> %s @%.2f",
		e.RunID, e.Summary.Count, strings.Join(objs, ","), e.Summary.Destination, e.Summary.Confidence)
	return nil
}

func (Log) PublishBinStatus(s BinStatus) error {
	for _, l := range s.Levels {
		monitoring.Logf("bin %s: %.1f%% full", l.Bin, l.Percent)
	}
	return nil
}

func (Log) PublishSystemStatus(s SystemStatus) error {
	if s.Message != "" {
		monitoring.Logf("status %s: %s", s.Phase, s.Message)
	} else {
		monitoring.Logf("status %s", s.Phase)
	}
	return nil
}

func (Log) Disconnect() error { return nil }
