// Package store provides the SQLite-backed audit log for process execution.
//
// The store records:
//   - Process instances: one row per instance, terminal exactly once
//   - Node instances: append-only Enter/Exit entries
//   - Variable instances: append-only canonical-JSON value updates
//   - Pending callbacks: instances suspended at an event node
//
// # Units of Work
//
// Every operation runs in exactly one unit of work. An unbound Store starts
// a local transaction per operation and commits it when the operation
// returns. Begin creates an ambient transaction; operations on the view
// returned by Join run inside it and leave commit and rollback to the
// caller. With Config.SharedUnitOfWork the commit step is disabled entirely
// and an ambient transaction is required. A Config.TransactionManager
// replaces the database handle as the source of transactions; in shared
// mode it must hand out an existing transaction (newTx=false).
//
// A unit of work moves NoTransaction -> Joined -> Committed | RolledBack and
// finishes at most once. Begin, commit and rollback failures are reported
// as *TransactionError.
//
// # Ordering
//
// Every query carries an ORDER BY with a unique tiebreaker: node and
// variable logs by (date, id), instances by id, pending callbacks by
// (created_at, id). Collection results are never nil.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - one open connection: a caller holding an ambient transaction must
//     route nested operations through Join, never the unbound Store
package store
