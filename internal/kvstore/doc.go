// Package kvstore persists small JSON records in a single-table SQLite
// database with WAL journaling and busy retries.
package kvstore
