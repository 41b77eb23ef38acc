// Package changefeed consumes a CockroachDB changefeed for one table and
// turns its unbounded row stream into bridge events.
//
// The statement is issued over the PostgreSQL wire protocol as a regular
// query whose result set never ends. Each row is either a change
// (table, key, value) or a resolved checkpoint (NULL, NULL, value). Changes
// become bus.Publish events; a checkpoint becomes at most one bus.Cursor event
// when changes were forwarded since the previous one.
//
// The cursor persisted for a table is the `updated` timestamp of the last
// forwarded change, never the resolved watermark, so a restart can only
// replay changes and never skip them. The resolved watermark is kept in memory
// and used when the same process resubscribes.
package changefeed
