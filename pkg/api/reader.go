package api

import (
	"context"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/persistence"
	"github.com/cuemby/flux/pkg/registry"
)

// snapshotReader implements txn.Reader over a fixed timestamp: point reads
// go through the persistence log at that timestamp, range reads through the
// registry's snapshot at the same timestamp, so a transaction's reads are
// always consistent with each other even while commits keep landing.
type snapshotReader struct {
	ctx     context.Context
	log     persistence.Persistence
	snap    *registry.Snapshot
	ts      document.Timestamp
	indexes *indexSet
}

func (r *snapshotReader) Get(tablet document.TabletID, id document.ID) (document.Revision, bool, error) {
	return r.log.Get(r.ctx, tablet, id, r.ts)
}

func (r *snapshotReader) Range(index document.IndexID, low, high document.IndexKey) []registry.Entry {
	var out []registry.Entry
	r.snap.Range(index, low, high, func(e registry.Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// IndexDefinition reports index's live metadata, so a transaction's Range
// can compute the index key a pending insert would occupy and merge it into
// the scan in its correct ordered position.
func (r *snapshotReader) IndexDefinition(index document.IndexID) (document.IndexDefinition, bool) {
	return r.indexes.Get(index)
}
