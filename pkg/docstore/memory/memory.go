package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nicktill/popwatch/pkg/docstore"
)

// Store keeps documents in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	collections map[string]map[string]json.RawMessage
	feeds       map[string]map[*docstore.Feed]struct{}
	closed      bool
	mu          sync.RWMutex
}

// New creates an in-memory document store
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]json.RawMessage),
		feeds:       make(map[string]map[*docstore.Feed]struct{}),
	}
}

// Upsert stores doc as JSON under collection/id
func (s *Store) Upsert(ctx context.Context, collection, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]json.RawMessage)
		s.collections[collection] = docs
	}
	docs[id] = data

	feeds := make([]*docstore.Feed, 0, len(s.feeds[collection]))
	for f := range s.feeds[collection] {
		feeds = append(feeds, f)
	}
	s.mu.Unlock()

	for _, f := range feeds {
		f.Notify()
	}
	return nil
}

// List returns every document in the collection ordered by ID
func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}

	docs := s.collections[collection]
	results := make([]docstore.Document, 0, len(docs))
	for id, data := range docs {
		results = append(results, docstore.Document{ID: id, Data: append(json.RawMessage(nil), data...)})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Subscribe registers l for pushes of collection
func (s *Store) Subscribe(ctx context.Context, collection string, l docstore.Listener) (docstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}

	feed := docstore.NewFeed(ctx, func(ctx context.Context) ([]docstore.Document, error) {
		return s.List(ctx, collection)
	}, l)

	if s.feeds[collection] == nil {
		s.feeds[collection] = make(map[*docstore.Feed]struct{})
	}
	s.feeds[collection][feed] = struct{}{}

	go func() {
		<-feed.Done()
		s.mu.Lock()
		delete(s.feeds[collection], feed)
		s.mu.Unlock()
	}()

	return feed, nil
}

// Fail pushes err to every subscriber of collection. Tests use it to
// simulate a broken change feed.
func (s *Store) Fail(collection string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for f := range s.feeds[collection] {
		f.Fail(err)
	}
}

// Close ends all subscriptions
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var feeds []*docstore.Feed
	for _, set := range s.feeds {
		for f := range set {
			feeds = append(feeds, f)
		}
	}
	s.mu.Unlock()

	for _, f := range feeds {
		f.Unsubscribe()
	}
	return nil
}

// Len returns the number of documents in collection
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}
