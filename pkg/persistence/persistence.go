// Package persistence is the append-only durable document log keyed by
// (tablet, id, ts), with reverse scans by key and forward scans by
// timestamp.
package persistence

import (
	"context"
	"sync/atomic"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
)

// Batch is a set of revisions sharing one timestamp — the unit of atomicity
// for Append.
type Batch struct {
	Ts        document.Timestamp
	Revisions []document.Revision
}

// Iterator streams revisions one at a time so callers never have to buffer
// an entire log scan in memory.
type Iterator interface {
	// Next advances the iterator and reports whether a revision is
	// available. Returns false, nil at end of stream.
	Next(ctx context.Context) (document.Revision, bool, error)
	Close() error
}

// Persistence is the durable log contract. Implementations: bolt.go
// (durable, bbolt-backed) and memory.go (in-memory, for tests).
type Persistence interface {
	// Append durably stores a batch. Fails with ferrors.LeaseLost if this
	// process is no longer the single writer.
	Append(ctx context.Context, batch Batch) error

	// LoadFrom streams revisions in timestamp order starting at (and
	// including) from, restartable from any timestamp that has already
	// been committed.
	LoadFrom(ctx context.Context, from document.Timestamp) (Iterator, error)

	// Get retrieves the latest revision of id at or before atMostTs. Fails
	// with ferrors.OutOfRetention if atMostTs is older than the retention
	// floor.
	Get(ctx context.Context, tablet document.TabletID, id document.ID, atMostTs document.Timestamp) (document.Revision, bool, error)

	// ScanDocumentLog streams revisions in commit order within [fromTs,
	// toTs), for subscription invalidation (C7).
	ScanDocumentLog(ctx context.Context, fromTs, toTs document.Timestamp) (Iterator, error)

	// LastCommittedTimestamp returns the most recently appended batch's
	// timestamp, or 0 if the log is empty.
	LastCommittedTimestamp() document.Timestamp

	Close() error
}

// RetentionFloorFunc reports the current retention floor, consulted by Get
// to decide whether a read is still valid.
type RetentionFloorFunc func() document.Timestamp

// Lease models the single-writer discipline: exactly one process holds the
// commit lease at a time, and every append carries a monotonically
// increasing lease generation. An append observed against a stale
// generation is fatal for the writer and triggers shutdown.
type Lease struct {
	generation uint64
	lost       int32 // atomic bool
}

// NewLease starts a lease at the given generation (loaded from durable
// storage at startup).
func NewLease(generation uint64) *Lease {
	return &Lease{generation: generation}
}

func (l *Lease) Generation() uint64 { return atomic.LoadUint64(&l.generation) }

// Fence bumps the lease generation past a higher generation observed from
// another writer, marking this lease permanently lost. Subsequent Check
// calls return ferrors.LeaseLost forever — the process must shut down.
func (l *Lease) Fence(observedGeneration uint64) {
	if observedGeneration > atomic.LoadUint64(&l.generation) {
		atomic.StoreInt32(&l.lost, 1)
	}
}

func (l *Lease) Lost() bool { return atomic.LoadInt32(&l.lost) != 0 }

// Check returns ferrors.LeaseLost if the lease has been fenced out.
func (l *Lease) Check() error {
	if l.Lost() {
		return ferrors.New(ferrors.LeaseLost, "commit lease no longer held")
	}
	return nil
}
