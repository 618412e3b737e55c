package history

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/popwatch/pkg/docstore"
	"github.com/nicktill/popwatch/pkg/docstore/memory"
	"github.com/nicktill/popwatch/pkg/identity"
	"github.com/nicktill/popwatch/pkg/logger"
	"github.com/nicktill/popwatch/pkg/model"
	"github.com/nicktill/popwatch/pkg/status"
)

const testCollection = "artifacts/test/public/data/online_history"

var base = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

func sampleAt(minute int) model.Sample {
	return model.NewSample(minute, base.Add(time.Duration(minute)*time.Minute), time.UTC)
}

func TestLatest_SortsAndBounds(t *testing.T) {
	var samples []model.Sample
	for i := 0; i < 250; i++ {
		samples = append(samples, sampleAt(i))
	}
	rand.New(rand.NewSource(1)).Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	window := Latest(samples, 100)
	require.Len(t, window, 100)
	for i, s := range window {
		assert.Equal(t, 150+i, s.Count, "window[%d]", i)
	}
}

func TestLatest_ShortInput(t *testing.T) {
	samples := []model.Sample{sampleAt(3), sampleAt(1), sampleAt(2)}
	window := Latest(samples, 100)

	require.Len(t, window, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{window[0].Count, window[1].Count, window[2].Count})
	// Input untouched.
	assert.Equal(t, 3, samples[0].Count)
}

func newProjection(t *testing.T, store *memory.Store) (*Projection, *status.Board, *identity.Holder) {
	t.Helper()
	board := status.NewBoard()
	sessions := &identity.Holder{}
	p := New(Config{
		Store:      store,
		Collection: testCollection,
		Sessions:   sessions,
		Board:      board,
		WindowSize: 100,
		Logger:     logger.Discard(),
	})
	return p, board, sessions
}

func TestOnSnapshot_SkipsBadDocuments(t *testing.T) {
	p, board, _ := newProjection(t, memory.New())

	good := docstore.Document{ID: "20240309T0001", Data: []byte(`{"count":4,"timestamp":"2024-03-09T00:01:00Z","label":"12:01:00 AM"}`)}
	p.OnSnapshot([]docstore.Document{
		good,
		{ID: "garbage", Data: []byte(`not json`)},
	})

	window := p.Window()
	require.Len(t, window, 1)
	assert.Equal(t, 4, window[0].Count)
	assert.Equal(t, status.Synchronized, board.Status())
}

func TestOnError_SetsReadError(t *testing.T) {
	p, board, _ := newProjection(t, memory.New())
	p.OnError(errors.New("feed broke"))
	assert.Equal(t, status.ReadError, board.Status())
}

func TestDrain(t *testing.T) {
	p, _, _ := newProjection(t, memory.New())
	p.OnSnapshot(nil)
	assert.Empty(t, p.Drain())

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testCollection, "a", sampleAt(1)))
	docs, err := store.List(ctx, testCollection)
	require.NoError(t, err)

	p.OnSnapshot(docs)
	drained := p.Drain()
	require.Len(t, drained, 1)
	assert.Empty(t, p.Window())
}

func TestDrain_NotifiesObservers(t *testing.T) {
	p, _, _ := newProjection(t, memory.New())
	var pushes [][]model.Sample
	p.OnChange(func(w []model.Sample) { pushes = append(pushes, w) })

	p.OnSnapshot([]docstore.Document{
		{ID: "20240309T0001", Data: []byte(`{"count":4,"timestamp":"2024-03-09T00:01:00Z","label":"12:01:00 AM"}`)},
	})
	require.Len(t, p.Drain(), 1)

	require.Len(t, pushes, 2)
	assert.Len(t, pushes[0], 1)
	assert.NotNil(t, pushes[1])
	assert.Empty(t, pushes[1])
}

func TestRun_FollowsStore(t *testing.T) {
	store := memory.New()
	defer store.Close()
	p, board, sessions := newProjection(t, store)

	var pushes []int
	updates := make(chan []model.Sample, 16)
	p.OnChange(func(w []model.Sample) { updates <- w })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Nothing happens until a session exists.
	require.NoError(t, store.Upsert(ctx, testCollection, sampleAt(1).Key(), sampleAt(1)))
	select {
	case <-updates:
		t.Fatal("projection subscribed without a session")
	case <-time.After(50 * time.Millisecond):
	}

	sessions.Set(&identity.Session{ID: "s"})
	w := waitWindow(t, updates, 1)
	pushes = append(pushes, len(w))

	// Rewriting the same key does not duplicate it.
	require.NoError(t, store.Upsert(ctx, testCollection, sampleAt(1).Key(), model.NewSample(99, base.Add(time.Minute), time.UTC)))
	require.NoError(t, store.Upsert(ctx, testCollection, sampleAt(2).Key(), sampleAt(2)))
	w = waitWindow(t, updates, 2)
	pushes = append(pushes, len(w))

	assert.Equal(t, []int{1, 2}, pushes)
	assert.Equal(t, 99, w[0].Count)
	assert.Equal(t, 2, w[1].Count)
	assert.Equal(t, status.Synchronized, board.Status())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("projection did not stop")
	}
}

func TestRun_CancelledBeforeSession(t *testing.T) {
	p, _, _ := newProjection(t, memory.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// waitWindow returns the first pushed window of length n.
func waitWindow(t *testing.T, updates <-chan []model.Sample, n int) []model.Sample {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case w := <-updates:
			if len(w) == n {
				return w
			}
		case <-timeout:
			t.Fatalf("no window of length %d", n)
			return nil
		}
	}
}
