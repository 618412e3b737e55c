package server

import (
	"context"
	"fmt"
	"os"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/config"
	"github.com/nicktill/popwatch/pkg/dashboard"
	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/docstore/badger"
	"github.com/nicktill/popwatch/pkg/export"
	"github.com/nicktill/popwatch/pkg/history"
	"github.com/nicktill/popwatch/pkg/identity"
	"github.com/nicktill/popwatch/pkg/instrument"
	"github.com/nicktill/popwatch/pkg/population"
	"github.com/nicktill/popwatch/pkg/rollup"
	"github.com/nicktill/popwatch/pkg/sampler"
	"github.com/nicktill/popwatch/pkg/server/monitor"
	"github.com/nicktill/popwatch/pkg/status"
)

// Components is every long-lived piece of a running popwatch.
type Components struct {
	Config   *config.Config
	Store    docstore.Store
	Clock    quartz.Clock
	Registry *prometheus.Registry
	Metrics  *instrument.Metrics

	Board      *status.Board
	Sessions   *identity.Holder
	Provider   *identity.Provider
	Projection *history.Projection
	Sampler    *sampler.Sampler
	Aggregator *rollup.Aggregator
	Hub        *dashboard.Hub
	Dashboard  *dashboard.Handler
	Export     *export.Handler

	StorageMonitor *monitor.StorageMonitor
	SamplerMonitor *monitor.TaskMonitor
	RollupMonitor  *monitor.TaskMonitor

	Log logrus.FieldLogger
}

// InitializeStorage opens the badger document store described by cfg.
func InitializeStorage(cfg *config.Config, log logrus.FieldLogger) (*badger.Store, error) {
	if !cfg.StoreInMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"data_dir":  cfg.DataDir,
		"in_memory": cfg.StoreInMemory,
	}).Info("Initializing BadgerDB document store with Snappy compression")

	store, err := badger.New(badger.Config{
		Path:             cfg.DataDir,
		InMemory:         cfg.StoreInMemory,
		MaxMemoryMB:      cfg.MaxMemoryMB,
		ResubscribeDelay: config.SubscribeRetryDelay,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}
	log.Info("BadgerDB document store initialized")
	return store, nil
}

// InitializeComponents wires the sampling pipeline and dashboard on top of
// store. Nothing is started.
func InitializeComponents(cfg *config.Config, store docstore.Store, clock quartz.Clock, log logrus.FieldLogger) *Components {
	if clock == nil {
		clock = quartz.NewReal()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := instrument.New(reg)

	historyCollection := docstore.Collection(cfg.AppID, config.HistoryCollection)
	dailyCollection := docstore.Collection(cfg.AppID, config.DailyCollection)

	board := status.NewBoard()
	sessions := &identity.Holder{}

	dataDir := cfg.DataDir
	if cfg.StoreInMemory {
		dataDir = ""
	}

	c := &Components{
		Config:         cfg,
		Store:          store,
		Clock:          clock,
		Registry:       reg,
		Metrics:        metrics,
		Board:          board,
		Sessions:       sessions,
		Provider:       identity.NewProvider(cfg.SigningKey, cfg.AnonymousAuth, clock),
		StorageMonitor: monitor.NewStorageMonitor(dataDir, cfg.MaxStorageBytes(), clock),
		// A task is stale after missing a few of its own intervals.
		SamplerMonitor: monitor.NewTaskMonitor("sampler", 3*cfg.PollInterval, clock),
		RollupMonitor:  monitor.NewTaskMonitor("rollup", 3*cfg.DailyCheckInterval, clock),
		Log:            log,
	}

	c.Projection = history.New(history.Config{
		Store:      store,
		Collection: historyCollection,
		Sessions:   sessions,
		Board:      board,
		WindowSize: cfg.WindowSize,
		Metrics:    metrics,
		Logger:     log,
	})

	c.Sampler = sampler.New(sampler.Config{
		Source:       population.NewHTTP(cfg.SourceURL, config.SourceTimeout),
		Store:        store,
		Sessions:     sessions,
		Board:        board,
		Collection:   historyCollection,
		Interval:     cfg.PollInterval,
		WriteTimeout: config.StoreOperationTimeout,
		Location:     cfg.Location(),
		Clock:        clock,
		Metrics:      metrics,
		Health:       c.SamplerMonitor,
		Logger:       log,
	})

	c.Aggregator = rollup.New(rollup.Config{
		Window:       c.Projection,
		Store:        store,
		Sessions:     sessions,
		Collection:   dailyCollection,
		Interval:     cfg.DailyCheckInterval,
		WriteTimeout: config.StoreOperationTimeout,
		Location:     cfg.Location(),
		Clock:        clock,
		Metrics:      metrics,
		Health:       c.RollupMonitor,
		Logger:       log,
	})

	c.Hub = dashboard.NewHub(metrics, log)
	c.Dashboard = dashboard.NewHandler(dashboard.HandlerConfig{
		Board:           board,
		Window:          c.Projection,
		Store:           store,
		DailyCollection: dailyCollection,
		Hub:             c.Hub,
		StoreTimeout:    config.StoreOperationTimeout,
		Logger:          log,
	})
	dashboard.Bind(c.Hub, board, c.Projection, c.Projection.OnChange)

	c.Export = export.NewHandler(store, export.Collections{History: historyCollection, Daily: dailyCollection},
		cfg.Location(), sessions, clock, log.WithField("component", "export"))

	log.WithFields(logrus.Fields{
		"source":        cfg.SourceURL,
		"poll_interval": cfg.PollInterval,
		"window_size":   cfg.WindowSize,
		"history":       historyCollection,
		"daily":         dailyCollection,
	}).Info("Sampling pipeline ready")
	return c
}

// SignIn establishes the session every store operation is gated on. A
// failure leaves the dashboard running with the secure-connection status;
// there is no retry.
func (c *Components) SignIn(ctx context.Context) error {
	if c.Config.AuthToken != "" {
		c.Log.Warn("POPWATCH_AUTH_TOKEN is set but ignored, signing in anonymously")
	}

	session, err := c.Provider.SignInAnonymously(ctx)
	if err != nil {
		c.Board.SetStatus(status.AuthError)
		c.Log.WithError(err).Error("Sign-in failed")
		return err
	}

	c.Sessions.Set(session)
	c.Board.SetSessionReady()
	c.Log.WithField("session", session.ID).Info("Signed in anonymously")
	return nil
}
