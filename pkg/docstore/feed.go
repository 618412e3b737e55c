package docstore

import (
	"context"
	"sync"
)

// LoadFunc reads the current contents of a subscribed collection.
type LoadFunc func(ctx context.Context) ([]Document, error)

// Feed serializes snapshot delivery for a single subscription. Backends call
// Notify whenever the collection may have changed; Feed reloads the collection
// and hands it to the listener on its own goroutine, coalescing notifications
// that arrive while a push is in progress.
type Feed struct {
	load     LoadFunc
	listener Listener

	notify chan struct{}
	errs   chan error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewFeed starts a feed. The first snapshot is delivered immediately.
func NewFeed(ctx context.Context, load LoadFunc, l Listener) *Feed {
	ctx, cancel := context.WithCancel(ctx)
	f := &Feed{
		load:     load,
		listener: l,
		notify:   make(chan struct{}, 1),
		errs:     make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

// Context is cancelled when the feed ends.
func (f *Feed) Context() context.Context {
	return f.ctx
}

// Done is closed once the delivery goroutine has exited.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Notify schedules a reload. It never blocks.
func (f *Feed) Notify() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Fail reports a feed error to the listener. Errors arriving while one is
// already pending are dropped.
func (f *Feed) Fail(err error) {
	select {
	case f.errs <- err:
	default:
	}
}

// Unsubscribe stops delivery. Safe to call more than once and from inside a
// listener callback.
func (f *Feed) Unsubscribe() {
	f.once.Do(f.cancel)
}

func (f *Feed) run() {
	defer close(f.done)

	f.push()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.notify:
			f.push()
		case err := <-f.errs:
			if f.ctx.Err() != nil {
				return
			}
			f.listener.OnError(err)
		}
	}
}

func (f *Feed) push() {
	docs, err := f.load(f.ctx)
	if f.ctx.Err() != nil {
		return
	}
	if err != nil {
		f.listener.OnError(err)
		return
	}
	f.listener.OnSnapshot(docs)
}
