// Package store provides the SQLite-backed repository that is the source of
// truth for property sets.
//
// The store holds two tables:
//   - resources: one row per resource, keyed by a never-reused id and a unique uri
//   - changelog: append-only record of mutations, consumed by the change notifier
//
// # Ordering
//
// Every uri-ordered query uses ORDER BY uri COLLATE BINARY so the iteration
// order matches Go string comparison and the index's term order.
//
// # Change log
//
// Every mutation appends its change-log entries in the same transaction as
// the mutation itself. Readers coalesce to the most recent entry per
// resource; removal deletes everything up to the delivered entry, so changes
// logged after a poll survive the trim.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
