package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
)

// MemPersistence is an in-memory Persistence implementation used by tests
// and by other core packages' own unit tests, so those suites don't pay
// the cost of a real bbolt file.
type MemPersistence struct {
	mu            sync.RWMutex
	log           []document.Revision // append order == commit order, sorted by Ts
	lastCommitted document.Timestamp
	lease         *Lease
	retentionFn   RetentionFloorFunc
}

func NewMemPersistence(lease *Lease, retentionFn RetentionFloorFunc) *MemPersistence {
	if retentionFn == nil {
		retentionFn = func() document.Timestamp { return 0 }
	}
	return &MemPersistence{lease: lease, retentionFn: retentionFn}
}

func (p *MemPersistence) Append(ctx context.Context, batch Batch) error {
	if err := p.lease.Check(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range batch.Revisions {
		r.Ts = batch.Ts
		p.log = append(p.log, r)
	}
	if batch.Ts > p.lastCommitted {
		p.lastCommitted = batch.Ts
	}
	return nil
}

func (p *MemPersistence) LastCommittedTimestamp() document.Timestamp {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCommitted
}

type sliceIterator struct {
	revisions []document.Revision
	pos       int
}

func (it *sliceIterator) Next(ctx context.Context) (document.Revision, bool, error) {
	if err := ctx.Err(); err != nil {
		return document.Revision{}, false, err
	}
	if it.pos >= len(it.revisions) {
		return document.Revision{}, false, nil
	}
	r := it.revisions[it.pos]
	it.pos++
	return r, true, nil
}

func (it *sliceIterator) Close() error { return nil }

func (p *MemPersistence) LoadFrom(ctx context.Context, from document.Timestamp) (Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]document.Revision, 0)
	for _, r := range p.log {
		if r.Ts >= from {
			out = append(out, r)
		}
	}
	return &sliceIterator{revisions: out}, nil
}

func (p *MemPersistence) ScanDocumentLog(ctx context.Context, fromTs, toTs document.Timestamp) (Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]document.Revision, 0)
	for _, r := range p.log {
		if r.Ts >= fromTs && r.Ts < toTs {
			out = append(out, r)
		}
	}
	return &sliceIterator{revisions: out}, nil
}

func (p *MemPersistence) Get(ctx context.Context, tablet document.TabletID, id document.ID, atMostTs document.Timestamp) (document.Revision, bool, error) {
	if atMostTs < p.retentionFn() {
		return document.Revision{}, false, ferrors.New(ferrors.OutOfRetention, "snapshot %d is older than the retention floor", atMostTs)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Latest revision of id at or before atMostTs: scan backward since log
	// is in commit order. A real deployment sizes this index by (tablet,
	// id) per bolt.go; the in-memory variant favors simplicity.
	best := -1
	for i := len(p.log) - 1; i >= 0; i-- {
		r := p.log[i]
		if r.Tablet == tablet && r.ID == id && r.Ts <= atMostTs {
			best = i
			break
		}
	}
	if best == -1 {
		return document.Revision{}, false, nil
	}
	return p.log[best], true, nil
}

func (p *MemPersistence) Close() error { return nil }

// sortedCopy returns the log sorted by Ts then tablet/id, used by tests that
// want to assert ordering invariants directly.
func (p *MemPersistence) sortedCopy() []document.Revision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]document.Revision, len(p.log))
	copy(out, p.log)
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out
}
