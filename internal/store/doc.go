// Package store provides persistent storage for parley conversations, messages
// and users.
//
// # Backends
//
// SQLStore runs the same SQL over two database/sql drivers:
//
//   - SQLite (modernc.org/sqlite), the default, for single-node deployments
//   - Postgres (github.com/jackc/pgx/v5/stdlib) for shared databases
//
// A small dialect value covers the differences: placeholder style, row
// locking inside AppendMessage, and how a unique violation is reported.
//
// # Invariants
//
//   - At most one conversation exists per unordered participant pair. The
//     normalized PairKey is stored in a UNIQUE column, and a caller that loses
//     an insert race re-reads the winning row.
//   - Messages are append-only. Each gets the next seq in its conversation
//     inside a transaction that holds the conversation row, so concurrent
//     appends never interleave or reuse a position.
//   - last_activity never moves backwards.
//   - read only ever changes from false to true, and only for messages the
//     reader did not send.
//
// # Errors
//
// Every error returned is an *apperr.Error. Missing records map to NotFound,
// non-participants to Forbidden, bad input to InvalidArgument, and driver
// failures (including context deadlines) to Transient.
package store
