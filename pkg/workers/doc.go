// Package workers holds the background maintenance loops that run
// alongside the commit path: a bounded thread pool for search and backfill
// work, a table-summary checkpointer, an index metadata cache loader, and
// the index fast-forward driver. None of these sit on the commit's critical
// path; each runs on its own ticker and can fall behind without blocking a
// transaction.
package workers
