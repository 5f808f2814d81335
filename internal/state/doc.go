// Package state holds the reactive in-memory projection of persisted
// download records: derived movie/show lists, memoized per-key snapshots,
// and synchronous subscriber notification.
package state
