package rollup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/popwatch/pkg/docstore/memory"
	"github.com/nicktill/popwatch/pkg/identity"
	"github.com/nicktill/popwatch/pkg/logger"
	"github.com/nicktill/popwatch/pkg/model"
)

const testCollection = "artifacts/test/public/data/daily_averages"

type fakeWindow struct {
	mu      sync.Mutex
	samples []model.Sample
	drains  int
}

func (w *fakeWindow) Drain() []model.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drains++
	out := w.samples
	w.samples = nil
	return out
}

func (w *fakeWindow) fill(now time.Time, counts ...int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range counts {
		w.samples = append(w.samples, model.NewSample(c, now.Add(time.Duration(i)*time.Minute), time.UTC))
	}
}

type fakeHealth struct {
	successes, failures int
}

func (h *fakeHealth) RecordSuccess()        { h.successes++ }
func (h *fakeHealth) RecordFailure(_ error) { h.failures++ }

func TestMean(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		want   int
	}{
		{"exact", []int{10, 20, 30}, 20},
		{"half rounds up", []int{1, 2}, 2},
		{"below half rounds down", []int{1, 1, 2}, 1},
		{"single", []int{7}, 7},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mean(tt.counts))
		})
	}
}

func TestAggregate_MinMax(t *testing.T) {
	var a Aggregate
	for _, v := range []int{5, 2, 9} {
		a.Add(v)
	}
	assert.Equal(t, 2, a.Min)
	assert.Equal(t, 9, a.Max)
	assert.Equal(t, 3, a.Count)
	assert.Equal(t, int64(16), a.Sum)
}

type fixture struct {
	clock    *quartz.Mock
	window   *fakeWindow
	store    *memory.Store
	sessions *identity.Holder
	health   *fakeHealth
}

func newFixture(t *testing.T, start time.Time) (*fixture, *Aggregator) {
	t.Helper()
	f := &fixture{
		clock:    quartz.NewMock(t),
		window:   &fakeWindow{},
		store:    memory.New(),
		sessions: &identity.Holder{},
		health:   &fakeHealth{},
	}
	f.clock.Set(start)
	f.sessions.Set(&identity.Session{ID: "s"})
	t.Cleanup(func() { _ = f.store.Close() })

	agg := New(Config{
		Window:     f.window,
		Store:      f.store,
		Sessions:   f.sessions,
		Collection: testCollection,
		Location:   time.UTC,
		Clock:      f.clock,
		Health:     f.health,
		Logger:     logger.Discard(),
	})
	return f, agg
}

func TestCheck_SameDayDoesNothing(t *testing.T) {
	start := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	f, agg := newFixture(t, start)
	f.window.fill(start, 10, 20, 30)

	require.NoError(t, agg.Check(context.Background()))
	assert.Equal(t, "2024-03-09", agg.LastSummarized())
	assert.Equal(t, 0, f.window.drains)
	assert.Equal(t, 0, f.store.Len(testCollection))
	assert.Equal(t, 1, f.health.successes)
}

func TestCheck_WritesYesterday(t *testing.T) {
	start := time.Date(2024, 3, 9, 23, 58, 0, 0, time.UTC)
	f, agg := newFixture(t, start)
	f.window.fill(start, 10, 20, 30)

	f.clock.Set(time.Date(2024, 3, 10, 0, 0, 30, 0, time.UTC))
	require.NoError(t, agg.Check(context.Background()))

	assert.Equal(t, "2024-03-10", agg.LastSummarized())
	docs, err := f.store.List(context.Background(), testCollection)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2024-03-09", docs[0].ID)

	var avg model.DailyAverage
	require.NoError(t, docs[0].Decode(&avg))
	assert.Equal(t, 20, avg.AverageUsers)
	assert.Equal(t, 3, avg.EntryCount)
	assert.True(t, avg.Timestamp.Equal(f.clock.Now()))

	// Same date again: nothing new.
	f.window.fill(f.clock.Now(), 1)
	require.NoError(t, agg.Check(context.Background()))
	assert.Equal(t, 1, f.store.Len(testCollection))
	assert.Equal(t, 1, f.window.drains)
}

func TestCheck_EmptyWindowAdvancesGuard(t *testing.T) {
	start := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	f, agg := newFixture(t, start)

	f.clock.Set(time.Date(2024, 3, 10, 0, 1, 0, 0, time.UTC))
	require.NoError(t, agg.Check(context.Background()))

	assert.Equal(t, "2024-03-10", agg.LastSummarized())
	assert.Equal(t, 0, f.store.Len(testCollection))
}

func TestCheck_NoSessionSkipsWrite(t *testing.T) {
	start := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	f := &fixture{
		clock:  quartz.NewMock(t),
		window: &fakeWindow{},
		store:  memory.New(),
	}
	defer f.store.Close()
	f.clock.Set(start)
	agg := New(Config{
		Window:     f.window,
		Store:      f.store,
		Sessions:   &identity.Holder{},
		Collection: testCollection,
		Location:   time.UTC,
		Clock:      f.clock,
		Logger:     logger.Discard(),
	})
	f.window.fill(start, 4)

	f.clock.Set(start.Add(2 * time.Minute))
	require.NoError(t, agg.Check(context.Background()))
	assert.Equal(t, "2024-03-10", agg.LastSummarized())
	assert.Equal(t, 0, f.store.Len(testCollection))
}

func TestCheck_WriteFailureStillAdvances(t *testing.T) {
	start := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	f, agg := newFixture(t, start)
	f.window.fill(start, 4)
	require.NoError(t, f.store.Close())

	f.clock.Set(start.Add(2 * time.Minute))
	err := agg.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, "2024-03-10", agg.LastSummarized())
	assert.Equal(t, 1, f.health.failures)

	// No retry on the next check.
	require.NoError(t, agg.Check(context.Background()))
	assert.Equal(t, 1, f.window.drains)
}

func TestCheck_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	clock := quartz.NewMock(t)
	// 03:00 UTC on the 10th is still the 9th at UTC-5.
	clock.Set(time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC))

	agg := New(Config{
		Window:     &fakeWindow{},
		Store:      memory.New(),
		Sessions:   &identity.Holder{},
		Collection: testCollection,
		Location:   loc,
		Clock:      clock,
		Logger:     logger.Discard(),
	})
	assert.Equal(t, "2024-03-09", agg.LastSummarized())
}

func TestRun_TicksChecks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Date(2024, 3, 9, 23, 59, 30, 0, time.UTC)
	f, agg := newFixture(t, start)
	f.window.fill(start, 1, 2)

	trap := f.clock.Trap().NewTicker()
	defer trap.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go agg.Run(runCtx)

	call := trap.MustWait(ctx)
	assert.Equal(t, 60*time.Second, call.Duration)
	call.MustRelease(ctx)

	f.clock.Advance(60 * time.Second).MustWait(ctx)
	require.Eventually(t, func() bool {
		return f.store.Len(testCollection) == 1
	}, 5*time.Second, 10*time.Millisecond)

	docs, err := f.store.List(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09", docs[0].ID)
}
