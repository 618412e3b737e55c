package server

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/config"
	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/docstore/badger"
)

// gcDiscardRatio reclaims a value log file once half of it is garbage.
const gcDiscardRatio = 0.5

// StartBackground launches every background loop on wg. They all stop when
// ctx is cancelled.
func StartBackground(ctx context.Context, c *Components, wg *sync.WaitGroup) {
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			c.Log.WithField("task", name).Debug("Background task exited")
		}()
	}

	run("hub", c.Hub.Run)
	run("history", func(ctx context.Context) {
		if err := c.Projection.Run(ctx); err != nil && ctx.Err() == nil {
			c.Log.WithError(err).Error("History projection stopped")
		}
	})
	run("sampler", c.Sampler.Run)
	run("rollup", c.Aggregator.Run)

	if store, ok := c.Store.(*badger.Store); ok {
		run("badger-gc", func(ctx context.Context) {
			RunBadgerGC(ctx, store, c.Clock, c.Log)
		})
	} else {
		c.Log.Info("Store is not BadgerDB, skipping GC")
	}
}

// gcRunner is the piece of badger.Store the GC loop drives.
type gcRunner interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs BadgerDB value-log garbage collection periodically.
// Every sample upsert rewrites a key, so the value log accumulates stale
// versions that only GC reclaims.
func RunBadgerGC(ctx context.Context, store gcRunner, clock quartz.Clock, log logrus.FieldLogger) {
	ticker := clock.NewTicker(config.BadgerGCInterval, "badger-gc")
	defer ticker.Stop()

	log.WithField("interval", config.BadgerGCInterval).Info("BadgerDB GC scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping BadgerDB GC scheduler")
			return
		case <-ticker.C:
			start := clock.Now()
			err := store.RunGC(gcDiscardRatio)
			elapsed := clock.Since(start).Round(time.Millisecond)
			switch {
			case err == nil:
				log.WithField("elapsed", elapsed).Info("BadgerDB GC reclaimed disk space")
			case badger.IsNoRewrite(err):
				log.WithField("elapsed", elapsed).Debug("BadgerDB GC found nothing to rewrite")
			default:
				log.WithError(err).Warn("BadgerDB GC failed")
			}
		}
	}
}

var _ docstore.Store = (*badger.Store)(nil)
