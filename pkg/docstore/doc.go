/*
Package docstore provides the document store abstraction popwatch persists to.

# Collections and Documents

Documents are JSON values addressed by a collection path and an ID. Collection
paths follow the hosted-store convention popwatch was designed around:

	artifacts/{appId}/public/data/online_history   raw samples, keyed 20060102T1504
	artifacts/{appId}/public/data/daily_averages   rollups, keyed 2006-01-02

Writes are blind upserts. Nothing in popwatch reads a document, modifies it and
writes it back, so no transactional discipline is required of backends.

# Subscriptions

Subscribe is push-on-change. The listener gets the whole collection right away
and again after every write that touches it:

	sub, err := store.Subscribe(ctx, docstore.Collection(appID, "online_history"), listener)
	if err != nil {
	    return err
	}
	defer sub.Unsubscribe()

Pushes for one subscription are serialized, so a listener can replace its state
without locking against itself. Bursts of writes may be coalesced into a single
push; since every push carries the full collection nothing is lost.

A backend that loses its change feed reports OnError and re-establishes the feed
on its own. Consumers never reconnect manually.

# Backends

  - memory: in-process maps, for tests and throwaway runs
  - badger: BadgerDB (LSM tree + Snappy compression), persistent

# See Also

  - pkg/history for the subscriber that maintains the live window
  - pkg/rollup for the daily_averages writer
*/
package docstore
