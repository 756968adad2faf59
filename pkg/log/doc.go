/*
Package log provides structured logging for Flux using zerolog.

It wraps zerolog to give every subsystem JSON-structured logging with
component-specific child loggers, a configurable level, and a small set of
package-level helpers for one-off messages.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	committerLog := log.WithComponent("committer")
	committerLog.Info().Int64("ts", int64(ts)).Msg("commit applied")

	txnLog := log.WithTxnID(txn.ID)
	txnLog.Debug().Msg("read-set recorded")

# Context loggers

  - WithComponent: tag logs with a subsystem name (committer, registry,
    subscriptions, textindex, workers)
  - WithTabletID: tag logs with the tablet being operated on
  - WithTxnID: tag logs with the originating transaction
  - WithIndexID: tag logs with the index being updated or queried

# Conventions

Use Info for commit/flush/compaction milestones, Debug for per-operation
detail, Warn for retried OCC conflicts, and Error for persistence or
invariant failures. Never log document values at Info or above — only
ids, timestamps, and counts, since documents may carry end-user data.
*/
package log
