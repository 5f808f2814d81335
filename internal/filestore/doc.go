// Package filestore owns the on-disk layout for downloaded media: movie and
// episode path derivation, the deduplicated artwork pool, and cleanup of
// directories emptied by deletion.
package filestore
