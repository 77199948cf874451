// Package metrics provides the embedded time-series store backing the
// whole engine: append-only sample storage with a retention window,
// range queries, latest-value snapshots, and the notification audit log.
//
// Storage is a single SQLite database in WAL mode. Writes go through an
// in-memory buffer flushed by a background loop; reads flush first, so
// a completed Write is always visible to a subsequent Query.
package metrics
