// Package journal persists diagnostic sink calls to PostgreSQL.
//
// A journal Sink wraps another sink.Sink. Every call is forwarded unchanged
// and also queued as an Entry on a growable buffer. The Writer drains that
// buffer into batches and inserts them into the connection_events table.
//
// Inserts are append-only: rows are keyed by a random UUID and conflicts
// are ignored, so replaying a batch is harmless.
package journal
