package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/popwatch/pkg/docstore"
)

const (
	history = "artifacts/test-app/public/data/online_history"
	daily   = "artifacts/test-app/public/data/daily_averages"
)

type sampleDoc struct {
	Count int `json:"count"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true, ResubscribeDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_UpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, history, "20240101T1001", sampleDoc{Count: 2}))
	require.NoError(t, store.Upsert(ctx, history, "20240101T1000", sampleDoc{Count: 1}))
	require.NoError(t, store.Upsert(ctx, daily, "2024-01-01", map[string]int{"averageUsers": 1}))

	docs, err := store.List(ctx, history)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "20240101T1000", docs[0].ID)
	assert.Equal(t, "20240101T1001", docs[1].ID)

	var got sampleDoc
	require.NoError(t, docs[1].Decode(&got))
	assert.Equal(t, 2, got.Count)
}

func TestBadgerStore_UpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, history, "20240101T1000", sampleDoc{Count: 1}))
	require.NoError(t, store.Upsert(ctx, history, "20240101T1000", sampleDoc{Count: 9}))

	docs, err := store.List(ctx, history)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"count":9}`, string(docs[0].Data))
}

func TestBadgerStore_ListIgnoresSiblingPrefixes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, history, "a", sampleDoc{Count: 1}))
	require.NoError(t, store.Upsert(ctx, history+"_archive", "b", sampleDoc{Count: 2}))

	docs, err := store.List(ctx, history)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		store, err := New(Config{Path: dir})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, history, "20240101T1000", sampleDoc{Count: 42}))
		require.NoError(t, store.Close())
	}

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	docs, err := store.List(ctx, history)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"count":42}`, string(docs[0].Data))
}

type collector struct {
	mu        sync.Mutex
	snapshots [][]docstore.Document
}

func (c *collector) OnSnapshot(docs []docstore.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, docs)
}

func (c *collector) OnError(error) {}

func (c *collector) lastLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snapshots) == 0 {
		return -1
	}
	return len(c.snapshots[len(c.snapshots)-1])
}

func TestBadgerStore_Subscribe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, history, "20240101T1000", sampleDoc{Count: 1}))

	c := &collector{}
	sub, err := store.Subscribe(ctx, history, c)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return c.lastLen() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Give the badger subscriber a moment to register before writing.
	require.Eventually(t, func() bool {
		_ = store.Upsert(ctx, history, "20240101T1001", sampleDoc{Count: 2})
		return c.lastLen() == 2
	}, 2*time.Second, 20*time.Millisecond)

	// Writes to other collections leave the subscriber alone.
	require.NoError(t, store.Upsert(ctx, daily, "2024-01-01", map[string]int{"averageUsers": 1}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, c.lastLen())
}

func TestBadgerStore_CloseEndsSubscriptions(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)

	sub, err := store.Subscribe(context.Background(), history, &collector{})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	<-sub.(*docstore.Feed).Done()

	err = store.Upsert(context.Background(), history, "k", sampleDoc{})
	require.ErrorIs(t, err, docstore.ErrClosed)
}

func TestBadgerStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, history, "20240101T1000", sampleDoc{Count: 1}))
	require.NoError(t, store.Upsert(ctx, history, "20240101T1001", sampleDoc{Count: 2}))
	require.NoError(t, store.Upsert(ctx, daily, "2024-01-01", map[string]int{"averageUsers": 1}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Documents)
	assert.Equal(t, uint64(2), stats.Collections[history])
	assert.Equal(t, uint64(1), stats.Collections[daily])
}

func TestParseKey(t *testing.T) {
	collection, id := parseKey(makeKey(history, "20240101T1000"))
	assert.Equal(t, history, collection)
	assert.Equal(t, "20240101T1000", id)
}
