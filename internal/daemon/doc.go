// Package daemon composes the persisted record store, queue manager,
// reactive state store, and control API into a single lifecycle with
// flock-based locking to prevent multiple concurrent instances.
package daemon
