// Package plex implements the media-source collaborator contract against a
// Plex Media Server: stream URL resolution, image transcoding URLs, and
// chapter marker retrieval.
package plex
