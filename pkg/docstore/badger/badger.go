package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/popwatch/pkg/docstore"
)

const (
	defaultResubscribeDelay = 2 * time.Second
	catchUpDelay            = 250 * time.Millisecond
)

// Store implements docstore.Store using BadgerDB (LSM tree)
type Store struct {
	db     *badger.DB
	log    logrus.FieldLogger
	delay  time.Duration
	feeds  sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop defaults)
	MaxMemoryMB int64

	// ResubscribeDelay is how long a broken change feed waits before
	// re-registering (0 = 2s)
	ResubscribeDelay time.Duration

	Logger logrus.FieldLogger
}

// Stats summarizes store contents
type Stats struct {
	Documents   uint64            `json:"documents"`
	Collections map[string]uint64 `json:"collections"`
	SizeBytes   uint64            `json:"size_bytes"`
}

// New opens a BadgerDB document store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		// Disk-less mode rejects a directory.
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	// BadgerDB defaults to 64 MB memtables x5; keep the footprint laptop sized.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	delay := cfg.ResubscribeDelay
	if delay <= 0 {
		delay = defaultResubscribeDelay
	}

	return &Store{
		db:     db,
		log:    log.WithField("component", "docstore"),
		delay:  delay,
		closed: make(chan struct{}),
	}, nil
}

// Upsert writes doc as JSON under collection/id.
// Enforces context timeout/cancellation so a stalled write cannot block callers.
func (s *Store) Upsert(ctx context.Context, collection, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}
	if s.isClosed() {
		return docstore.ErrClosed
	}

	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	key := makeKey(collection, id)

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, value)
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to write document %s/%s: %w", collection, id, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// List returns every document in the collection ordered by ID
func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, docstore.ErrClosed
	}

	type listResult struct {
		docs []docstore.Document
		err  error
	}
	done := make(chan listResult, 1)

	go func() {
		var res listResult
		prefix := collectionPrefix(collection)

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				id := string(item.Key()[len(prefix):])
				if strings.Contains(id, "/") {
					// Nested collection, not ours
					continue
				}
				data, err := item.ValueCopy(nil)
				if err != nil {
					return fmt.Errorf("failed to read document %s: %w", id, err)
				}
				res.docs = append(res.docs, docstore.Document{ID: id, Data: data})
			}
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.docs, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("list operation cancelled: %w", ctx.Err())
	}
}

// Subscribe pushes the collection to l after every change, using Badger's
// native key-prefix subscription as the change feed. If the feed breaks the
// listener gets OnError and the store re-subscribes after ResubscribeDelay.
func (s *Store) Subscribe(ctx context.Context, collection string, l docstore.Listener) (docstore.Subscription, error) {
	if s.isClosed() {
		return nil, docstore.ErrClosed
	}

	feed := docstore.NewFeed(ctx, func(ctx context.Context) ([]docstore.Document, error) {
		return s.List(ctx, collection)
	}, l)

	s.feeds.Add(1)
	go func() {
		defer s.feeds.Done()
		s.watch(feed, collection)
	}()

	return feed, nil
}

// watch keeps a Badger subscriber alive for the lifetime of feed.
func (s *Store) watch(feed *docstore.Feed, collection string) {
	ctx := feed.Context()
	prefix := collectionPrefix(collection)
	matches := []pb.Match{{Prefix: prefix}}

	go func() {
		// The initial load and the subscriber registration race; one
		// reload shortly after start covers writes that fell in between.
		catchUp := time.NewTimer(catchUpDelay)
		defer catchUp.Stop()
		for {
			select {
			case <-s.closed:
				feed.Unsubscribe()
				return
			case <-ctx.Done():
				return
			case <-catchUp.C:
				feed.Notify()
			}
		}
	}()

	defer func() {
		feed.Unsubscribe()
		<-feed.Done()
	}()

	for {
		err := s.db.Subscribe(ctx, func(kv *badger.KVList) error {
			feed.Notify()
			return nil
		}, matches)

		if ctx.Err() != nil || s.isClosed() {
			return
		}
		if err == nil {
			// Subscriber closed underneath us without an error; the DB is going away.
			return
		}

		s.log.WithError(err).WithField("collection", collection).Warn("Change feed failed, re-subscribing")
		feed.Fail(fmt.Errorf("change feed for %s: %w", collection, err))

		select {
		case <-time.After(s.delay):
			// Pick up anything written while the feed was down.
			feed.Notify()
		case <-ctx.Done():
			return
		}
	}
}

// Close ends all subscriptions and shuts down BadgerDB cleanly
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.feeds.Wait()
		err = s.db.Close()
	})
	return err
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to reclaim.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// IsNoRewrite reports whether err from RunGC only means nothing was reclaimed.
func IsNoRewrite(err error) bool {
	return errors.Is(err, badger.ErrNoRewrite)
}

// Stats counts documents per collection
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, docstore.ErrClosed
	}

	type statsResult struct {
		stats *Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &Stats{Collections: make(map[string]uint64)}
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				collection, _ := parseKey(it.Item().Key())
				stats.Documents++
				stats.Collections[collection]++
			}
			return nil
		})
		if err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// makeKey creates the storage key: {collection}/{id}
func makeKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

// collectionPrefix is the key prefix shared by every document in collection.
func collectionPrefix(collection string) []byte {
	return []byte(strings.TrimSuffix(collection, "/") + "/")
}

// parseKey splits a storage key into collection and document ID
func parseKey(key []byte) (string, string) {
	k := string(key)
	i := strings.LastIndex(k, "/")
	if i < 0 {
		return "", k
	}
	return k[:i], k[i+1:]
}
