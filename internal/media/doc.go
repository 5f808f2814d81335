// Package media defines the persisted data model for offline downloads: the
// queue item, execution record, descriptive metadata, chapter markers, and
// the ephemeral progress snapshot.
package media
