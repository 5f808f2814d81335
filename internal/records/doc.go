// Package records maps the download data model onto namespaced JSON records
// in the key-value store: one queue record, one master index record, and four
// per-key records (media, metadata, progress, markers).
package records
