// Package history keeps the live window: the most recent samples of the raw
// history collection, pushed by the document store.
package history

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/identity"
	"github.com/nicktill/popwatch/pkg/instrument"
	"github.com/nicktill/popwatch/pkg/model"
	"github.com/nicktill/popwatch/pkg/status"
)

// DefaultWindowSize bounds the window when Config.WindowSize is unset.
const DefaultWindowSize = 100

// Subscriber is the slice of docstore.Store the projection needs.
type Subscriber interface {
	Subscribe(ctx context.Context, collection string, l docstore.Listener) (docstore.Subscription, error)
}

// Config wires a Projection.
type Config struct {
	Store      Subscriber
	Collection string
	Sessions   *identity.Holder
	Board      *status.Board
	WindowSize int
	Metrics    *instrument.Metrics
	Logger     logrus.FieldLogger
}

// Projection turns collection snapshots into a bounded, time-ordered window.
type Projection struct {
	cfg Config
	log logrus.FieldLogger

	mu        sync.RWMutex
	window    []model.Sample
	observers []func([]model.Sample)
}

// New creates a projection with an empty window.
func New(cfg Config) *Projection {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = instrument.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Projection{
		cfg: cfg,
		log: cfg.Logger.WithField("component", "history"),
	}
}

// Run waits for a session, subscribes and blocks until ctx is cancelled.
func (p *Projection) Run(ctx context.Context) error {
	if _, err := p.cfg.Sessions.Wait(ctx); err != nil {
		return err
	}

	sub, err := p.cfg.Store.Subscribe(ctx, p.cfg.Collection, p)
	if err != nil {
		p.log.WithError(err).Error("Failed to subscribe to history")
		if p.cfg.Board != nil {
			p.cfg.Board.SetStatus(status.ReadError)
		}
		return err
	}
	p.log.WithField("collection", p.cfg.Collection).Info("Subscribed to history")

	<-ctx.Done()
	sub.Unsubscribe()
	p.log.Info("Stopping history projection")
	return nil
}

// OnSnapshot replaces the window with the newest samples in docs.
func (p *Projection) OnSnapshot(docs []docstore.Document) {
	samples := make([]model.Sample, 0, len(docs))
	for _, doc := range docs {
		var s model.Sample
		if err := doc.Decode(&s); err != nil {
			p.log.WithError(err).WithField("id", doc.ID).Warn("Skipping undecodable sample")
			continue
		}
		samples = append(samples, s)
	}

	window := Latest(samples, p.cfg.WindowSize)

	p.mu.Lock()
	p.window = window
	observers := slices.Clone(p.observers)
	p.mu.Unlock()

	p.cfg.Metrics.WindowSamples.Set(float64(len(window)))
	if p.cfg.Board != nil {
		p.cfg.Board.SetStatus(status.Synchronized)
	}
	for _, fn := range observers {
		fn(cloneSamples(window))
	}
}

// OnError flags the read failure. The store keeps the subscription alive.
func (p *Projection) OnError(err error) {
	p.log.WithError(err).Error("History subscription error")
	if p.cfg.Board != nil {
		p.cfg.Board.SetStatus(status.ReadError)
	}
}

// OnChange registers fn to receive every new window. fn must not block.
func (p *Projection) OnChange(fn func([]model.Sample)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Window returns a copy of the current window, oldest first.
func (p *Projection) Window() []model.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneSamples(p.window)
}

// Drain returns the window and empties it. Observers see the empty window.
func (p *Projection) Drain() []model.Sample {
	p.mu.Lock()
	window := p.window
	p.window = nil
	observers := slices.Clone(p.observers)
	p.mu.Unlock()

	p.cfg.Metrics.WindowSamples.Set(0)
	for _, fn := range observers {
		fn([]model.Sample{})
	}
	return window
}

// Latest sorts samples by timestamp and returns the newest n, oldest first.
// The input slice is not modified.
func Latest(samples []model.Sample, n int) []model.Sample {
	sorted := cloneSamples(samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

func cloneSamples(in []model.Sample) []model.Sample {
	if in == nil {
		return nil
	}
	return append([]model.Sample(nil), in...)
}
