package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("docstore: store closed")

// Store defines the interface for document storage backends.
// Implementations: memory (testing), badger (production)
type Store interface {
	// Upsert writes doc under collection/id, replacing any existing document
	Upsert(ctx context.Context, collection, id string, doc any) error

	// List returns every document in the collection ordered by ID
	List(ctx context.Context, collection string) ([]Document, error)

	// Subscribe delivers the full collection to l once, then again after
	// every change, until the subscription or ctx ends
	Subscribe(ctx context.Context, collection string, l Listener) (Subscription, error)

	// Close cleanly shuts down the store
	Close() error
}

// Listener receives pushes from a subscription. Calls for one subscription
// never overlap.
type Listener interface {
	OnSnapshot(docs []Document)
	OnError(err error)
}

// Subscription is a live collection subscription.
type Subscription interface {
	Unsubscribe()
}

// Document is a stored JSON document.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %q: %w", d.ID, err)
	}
	return nil
}

// Collection returns the path of a public data collection for an app.
func Collection(appID, name string) string {
	return "artifacts/" + appID + "/public/data/" + name
}

// ValidateID rejects document IDs that would escape their collection.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("docstore: empty document id")
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("docstore: document id %q contains '/'", id)
	}
	return nil
}

// ListenerFuncs adapts a pair of functions to Listener.
type ListenerFuncs struct {
	Snapshot func(docs []Document)
	Error    func(err error)
}

// OnSnapshot implements Listener.
func (f ListenerFuncs) OnSnapshot(docs []Document) {
	if f.Snapshot != nil {
		f.Snapshot(docs)
	}
}

// OnError implements Listener.
func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
