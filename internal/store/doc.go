// Package store provides the SQLite-backed generation ledger.
//
// Every workflow written by scan-batch can be recorded with its paths,
// artifact digests and node count, along with the outcome of submission.
// The ledger is append-only apart from the submission outcome, which is
// set once per record.
//
// # Ordering
//
// Records are ordered by seq, an autoincrement key assigned on insert.
// No wall-clock time is stored; record IDs are UUIDv7 and so also sort by
// creation time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5 seconds for a lock
package store
