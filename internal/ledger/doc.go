// Package ledger implements the daily recap ledger: an append-only log of
// entries in which every identity may record at most one entry per UTC day.
//
// SubmissionLedger is the only writer. It validates the content digest,
// stamps the current DayID and creation time, and hands the record to a
// Store, which appends it and registers the (identity, day) key as one
// atomic unit. Readers observe committed state only.
//
// Store implementations provided:
//   - MemoryStore: in-process, for tests and single-process deployments.
//   - boltstore, sqlitestore, pgstore: durable backends.
package ledger
