package rollup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/identity"
	"github.com/nicktill/popwatch/pkg/instrument"
	"github.com/nicktill/popwatch/pkg/model"
)

const (
	defaultInterval     = 60 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Window is the source of samples to summarize. Drain returns the current
// window and empties it.
type Window interface {
	Drain() []model.Sample
}

// Writer persists a rollup document.
type Writer interface {
	Upsert(ctx context.Context, collection, id string, doc any) error
}

// HealthRecorder tracks rollup outcomes for health checks.
type HealthRecorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Config wires an Aggregator. Window, Store, Sessions and Collection are
// required.
type Config struct {
	Window     Window
	Store      Writer
	Sessions   *identity.Holder
	Collection string

	Interval     time.Duration
	WriteTimeout time.Duration
	Location     *time.Location
	Clock        quartz.Clock
	Metrics      *instrument.Metrics
	Health       HealthRecorder
	Logger       logrus.FieldLogger
}

// Aggregator watches for the local date to change and writes one
// DailyAverage per change.
//
// The document is keyed by the previous calendar date while the guard tracks
// today's date. When a day boundary is crossed the window holds the tail of
// the day that just ended, so the average is filed under that day.
type Aggregator struct {
	cfg Config
	log logrus.FieldLogger

	mu             sync.Mutex
	lastSummarized string
}

// New creates an aggregator whose guard starts at today, so the first rollup
// happens at the next date change rather than on startup.
func New(cfg Config) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = instrument.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Aggregator{
		cfg:            cfg,
		log:            cfg.Logger.WithField("component", "rollup"),
		lastSummarized: model.DateKey(cfg.Clock.Now(), cfg.Location),
	}
}

// LastSummarized returns the date of the most recent boundary handled.
func (a *Aggregator) LastSummarized() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSummarized
}

// Run checks for a date change every Interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := a.cfg.Clock.NewTicker(a.cfg.Interval, "rollup")
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("Stopping daily aggregator")
			return
		case <-ticker.C:
			if err := a.Check(ctx); err != nil && ctx.Err() == nil {
				a.log.WithError(err).Warn("Daily rollup failed")
			}
		}
	}
}

// Check performs one boundary check. A write failure is returned but the
// guard has already advanced, so that day's average is not retried.
func (a *Aggregator) Check(ctx context.Context) (err error) {
	if a.cfg.Health != nil {
		defer func() {
			if err != nil {
				a.cfg.Health.RecordFailure(err)
			} else {
				a.cfg.Health.RecordSuccess()
			}
		}()
	}

	now := a.cfg.Clock.Now()
	today := model.DateKey(now, a.cfg.Location)

	a.mu.Lock()
	if today == a.lastSummarized {
		a.mu.Unlock()
		return nil
	}
	a.lastSummarized = today
	a.mu.Unlock()

	samples := a.cfg.Window.Drain()
	if len(samples) == 0 {
		a.cfg.Metrics.DailyRollups.WithLabelValues(instrument.ResultSkipped).Inc()
		a.log.WithField("date", today).Info("Date changed with an empty window, nothing to summarize")
		return nil
	}

	agg := FromSamples(samples)
	avg := model.DailyAverage{
		AverageUsers: agg.Average(),
		Timestamp:    now.UTC(),
		EntryCount:   agg.Count,
	}
	key := model.PreviousDateKey(now, a.cfg.Location)

	if a.cfg.Sessions.Current() == nil {
		a.cfg.Metrics.DailyRollups.WithLabelValues(instrument.ResultSkipped).Inc()
		a.log.WithField("key", key).Warn("No session, daily average not persisted")
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()

	if err := a.cfg.Store.Upsert(writeCtx, a.cfg.Collection, key, avg); err != nil {
		a.cfg.Metrics.DailyRollups.WithLabelValues(instrument.ResultFailure).Inc()
		a.cfg.Metrics.StoreWrites.WithLabelValues(a.cfg.Collection, instrument.ResultFailure).Inc()
		return fmt.Errorf("failed to write daily average %s: %w", key, err)
	}

	a.cfg.Metrics.DailyRollups.WithLabelValues(instrument.ResultSuccess).Inc()
	a.cfg.Metrics.StoreWrites.WithLabelValues(a.cfg.Collection, instrument.ResultSuccess).Inc()
	a.log.WithFields(logrus.Fields{
		"key":     key,
		"average": avg.AverageUsers,
		"entries": avg.EntryCount,
	}).Info("Daily average written")
	return nil
}
