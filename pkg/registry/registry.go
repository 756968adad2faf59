// Package registry is the in-memory index registry: a copy-on-write set of
// ordered trees, one per database index, that back range reads without
// touching the durable log. Every commit clones the trees it touches
// instead of mutating them in place, so a reader holding an older snapshot
// never observes a partially-applied commit.
package registry

import (
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/cuemby/flux/pkg/document"
)

// Entry is one ordered row of a database index: the extracted key, the
// document it belongs to, and whether it represents that document's
// deletion (a tombstone still occupies its key's position so a range scan
// at an older snapshot can skip past it without consulting the log).
type Entry struct {
	Key       document.IndexKey
	DocID     document.ID
	Tombstone bool
}

func less(a, b Entry) bool {
	return document.CompareKeys(a.Key, b.Key, a.DocID, b.DocID) < 0
}

// Mutation is the set of row changes one commit makes to one index: rows to
// remove at their old key (because the document was deleted, or an indexed
// field changed) and rows to insert at their new key.
type Mutation struct {
	Remove []Entry
	Insert []Entry
}

type version struct {
	ts   document.Timestamp
	tree *btree.BTreeG[Entry]
}

type indexHistory struct {
	mu       sync.RWMutex
	versions []version // ascending by ts; always non-empty after first Apply
}

func newIndexHistory() *indexHistory {
	return &indexHistory{versions: []version{{ts: 0, tree: btree.NewG(32, less)}}}
}

// cloneCurrent returns the most recently applied tree, cloning it so the caller
// can mutate the clone without disturbing in-flight readers of the original.
func (h *indexHistory) cloneCurrent() *btree.BTreeG[Entry] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.versions[len(h.versions)-1].tree.Clone()
}

func (h *indexHistory) append(ts document.Timestamp, tree *btree.BTreeG[Entry]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.versions = append(h.versions, version{ts: ts, tree: tree})
}

// at returns the tree that was current at ts: the last version whose
// timestamp is <= ts, or the oldest retained version if ts predates all of
// them.
func (h *indexHistory) at(ts document.Timestamp) *btree.BTreeG[Entry] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i := sort.Search(len(h.versions), func(i int) bool { return h.versions[i].ts > ts })
	if i == 0 {
		return h.versions[0].tree
	}
	return h.versions[i-1].tree
}

// evictBelow drops every retained version strictly older than floor, except
// the one version immediately at or before floor — reads at floor must
// still resolve.
func (h *indexHistory) evictBelow(floor document.Timestamp) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := sort.Search(len(h.versions), func(i int) bool { return h.versions[i].ts > floor })
	if i <= 1 {
		return
	}
	h.versions = h.versions[i-1:]
}

// Registry holds one indexHistory per index, created lazily on first use.
type Registry struct {
	mu   sync.RWMutex
	byID map[document.IndexID]*indexHistory
}

func New() *Registry {
	return &Registry{byID: make(map[document.IndexID]*indexHistory)}
}

func (r *Registry) history(id document.IndexID) *indexHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if !ok {
		h = newIndexHistory()
		r.byID[id] = h
	}
	return h
}

// Apply commits one batch's index mutations as a new version per touched
// index. Indexes not present in mutations are untouched; their current
// version still satisfies snapshot reads at ts and later.
func (r *Registry) Apply(ts document.Timestamp, mutations map[document.IndexID]Mutation) {
	for id, m := range mutations {
		h := r.history(id)
		tree := h.cloneCurrent()
		for _, e := range m.Remove {
			tree.Delete(e)
		}
		for _, e := range m.Insert {
			tree.ReplaceOrInsert(e)
		}
		h.append(ts, tree)
	}
}

// EvictBelow prunes history older than the retention floor across every
// index, bounding memory to the retention window rather than the whole log.
func (r *Registry) EvictBelow(floor document.Timestamp) {
	r.mu.RLock()
	histories := make([]*indexHistory, 0, len(r.byID))
	for _, h := range r.byID {
		histories = append(histories, h)
	}
	r.mu.RUnlock()
	for _, h := range histories {
		h.evictBelow(floor)
	}
}

// EntryCounts reports the live (non-tombstone) entry count for each index,
// for metrics reporting.
func (r *Registry) EntryCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.byID))
	for id, h := range r.byID {
		tree := h.cloneCurrent()
		n := 0
		tree.Ascend(func(e Entry) bool {
			if !e.Tombstone {
				n++
			}
			return true
		})
		out[documentIndexIDString(id)] = n
	}
	return out
}

func documentIndexIDString(id document.IndexID) string {
	b := document.ID(id)
	return b.String()
}

// Snapshot is a stable, read-only view of the registry as of one timestamp.
// Holding a Snapshot never blocks concurrent Apply calls and never observes
// their effects, because Apply only ever replaces a history's current
// pointer — it never mutates a tree a Snapshot has already captured.
type Snapshot struct {
	registry *Registry
	ts       document.Timestamp
}

func (r *Registry) Snapshot(ts document.Timestamp) *Snapshot {
	return &Snapshot{registry: r, ts: ts}
}

// Range calls visit for every live entry of the given index within [low,
// high) in key order, stopping early if visit returns false.
func (s *Snapshot) Range(id document.IndexID, low, high document.IndexKey, visit func(Entry) bool) {
	h := s.registry.history(id)
	tree := h.at(s.ts)

	lowEntry := Entry{Key: low}
	var highEntry *Entry
	if high != nil {
		e := Entry{Key: high}
		highEntry = &e
	}

	iter := func(e Entry) bool {
		if highEntry != nil && !less(e, *highEntry) {
			return false
		}
		if e.Tombstone {
			return true
		}
		return visit(e)
	}
	tree.AscendGreaterOrEqual(lowEntry, iter)
}
