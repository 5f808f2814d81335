// Package offline serves downloaded media from persisted records without any
// network dependency. It is the read path a player uses when the server is
// unreachable: local file paths, cached metadata and artwork, chapter markers
// for intro skipping, and the stored playback position.
package offline
