// Package sampler polls the population API on a fixed interval and records
// each reading as a sample document.
package sampler

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/identity"
	"github.com/nicktill/popwatch/pkg/instrument"
	"github.com/nicktill/popwatch/pkg/model"
	"github.com/nicktill/popwatch/pkg/population"
	"github.com/nicktill/popwatch/pkg/status"
)

const (
	defaultInterval     = 300 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Writer is the slice of docstore.Store the sampler needs.
type Writer interface {
	Upsert(ctx context.Context, collection, id string, doc any) error
}

// HealthRecorder tracks poll outcomes for health checks.
type HealthRecorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Config wires a Sampler. Source, Store, Sessions, Board and Collection are
// required.
type Config struct {
	Source     population.Source
	Store      Writer
	Sessions   *identity.Holder
	Board      *status.Board
	Collection string

	Interval     time.Duration
	WriteTimeout time.Duration
	Location     *time.Location
	Clock        quartz.Clock
	Metrics      *instrument.Metrics
	Health       HealthRecorder
	Logger       logrus.FieldLogger
}

// Sampler is the sampling loop.
type Sampler struct {
	cfg Config
	log logrus.FieldLogger
}

// New creates a sampler, filling optional fields with defaults.
func New(cfg Config) *Sampler {
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
	return &Sampler{
		cfg: cfg,
		log: cfg.Logger.WithField("component", "sampler"),
	}
}

// Run polls every Interval and once more as soon as a session is available.
// It returns when ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval, "sampler")
	defer ticker.Stop()

	ready := s.cfg.Sessions.Ready()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping sampler")
			return
		case <-ready:
			// Only fires once.
			ready = nil
			s.log.Debug("Session available, polling immediately")
			s.Poll(ctx)
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll performs one fetch. A failed fetch only flips the status; the next
// tick is the retry. A successful fetch updates the display and, when a
// session exists, upserts the sample under its minute key.
func (s *Sampler) Poll(ctx context.Context) error {
	count, err := s.cfg.Source.Fetch(ctx)
	if ctx.Err() != nil {
		// Torn down mid-fetch; nobody is watching any more.
		return ctx.Err()
	}
	if err != nil {
		s.cfg.Metrics.Polls.WithLabelValues(instrument.ResultFailure).Inc()
		s.cfg.Board.SetStatus(status.FetchError)
		if s.cfg.Health != nil {
			s.cfg.Health.RecordFailure(err)
		}
		s.log.WithError(err).Warn("Population fetch failed")
		return err
	}

	now := s.cfg.Clock.Now()
	sample := model.NewSample(count, now, s.cfg.Location)

	s.cfg.Metrics.Polls.WithLabelValues(instrument.ResultSuccess).Inc()
	s.cfg.Metrics.OnlineUsers.Set(float64(count))
	s.cfg.Board.RecordCount(count, now, sample.Label)
	if s.cfg.Health != nil {
		s.cfg.Health.RecordSuccess()
	}

	s.write(ctx, sample)
	return nil
}

func (s *Sampler) write(ctx context.Context, sample model.Sample) {
	if s.cfg.Sessions.Current() == nil {
		s.cfg.Metrics.StoreWrites.WithLabelValues(s.cfg.Collection, instrument.ResultSkipped).Inc()
		s.log.Debug("No session yet, sample not persisted")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	key := sample.Key()
	if err := s.cfg.Store.Upsert(writeCtx, s.cfg.Collection, key, sample); err != nil {
		// Dropped: the sample for this minute is lost.
		s.cfg.Metrics.StoreWrites.WithLabelValues(s.cfg.Collection, instrument.ResultFailure).Inc()
		s.log.WithError(err).WithField("key", key).Error("Failed to write sample")
		return
	}

	s.cfg.Metrics.StoreWrites.WithLabelValues(s.cfg.Collection, instrument.ResultSuccess).Inc()
	s.log.WithFields(logrus.Fields{"key": key, "count": sample.Count}).Debug("Sample written")
}

var _ Writer = (docstore.Store)(nil)
