// Package downloads implements the download pipeline: a priority-ordered
// queue manager enforcing the configured concurrency ceiling, and an executor
// that carries a single item from queued through transfer to its terminal
// status. All state transitions are persisted before listeners are notified,
// so a crash at any point is recoverable from the key-value records alone.
package downloads
