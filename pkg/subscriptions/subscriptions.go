// Package subscriptions tracks every outstanding read set a client is
// subscribed to and transitions it from valid to invalid the moment a
// commit changes something that read set depends on. The transition is
// monotone: once invalid, a subscription stays invalid until the client
// re-subscribes with a fresh read set, matching the one-shot "this query's
// result may have changed, re-run it" signal a reactive query engine needs.
package subscriptions

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/textindex"
	"github.com/cuemby/flux/pkg/txn"
)

// IndexProvider reports the live index definitions for a tablet, so Notify
// can tell which of a commit's writes land in a text index and tokenize
// them the same way that index's searcher would.
type IndexProvider interface {
	Indexes(tablet document.TabletID) []document.IndexDefinition
}

// Subscription is one client's live read set. Valid turns false the first
// time Manager observes a commit that overlaps it and stays false;
// subsequent commits are no-ops against an already-invalid subscription.
type Subscription struct {
	id         uint64
	tablet     document.TabletID
	pointReads map[document.ID]bool
	rangeReads []txn.RangeRead
	textReads  []txn.TextRead
	invalid    int32 // atomic bool
}

func (s *Subscription) ID() uint64  { return s.id }
func (s *Subscription) Valid() bool { return atomic.LoadInt32(&s.invalid) == 0 }
func (s *Subscription) invalidate() { atomic.StoreInt32(&s.invalid, 1) }

// Manager indexes live subscriptions by the documents, index ranges, and
// text-search terms they read, so Notify only has to examine the
// subscriptions a commit could plausibly affect instead of scanning every
// outstanding one.
type Manager struct {
	mu sync.Mutex

	provider IndexProvider

	nextID uint64

	// byPoint maps a read document id to every subscription that read it.
	byPoint map[document.ID]map[uint64]*Subscription

	// byIndex maps an index id to every subscription with a range read over
	// it; overlap is checked by walking this (usually short) list rather
	// than an interval tree, since most indexes carry few concurrent range
	// subscriptions.
	byIndex map[document.IndexID]map[uint64]*Subscription

	// byText maps a text index id to every subscription with a search term
	// read against it, checked by re-tokenizing the commit's write and
	// matching each token against the subscription's term the same way a
	// Search call would.
	byText map[document.IndexID]map[uint64]*Subscription

	all map[uint64]*Subscription
}

// NewManager builds a Manager. provider may be nil if no text index ever
// needs subscription invalidation; Notify then skips text matching entirely.
func NewManager(provider IndexProvider) *Manager {
	return &Manager{
		provider: provider,
		byPoint:  make(map[document.ID]map[uint64]*Subscription),
		byIndex:  make(map[document.IndexID]map[uint64]*Subscription),
		byText:   make(map[document.IndexID]map[uint64]*Subscription),
		all:      make(map[uint64]*Subscription),
	}
}

// Subscribe registers a read set captured from a transaction token and
// returns the live Subscription handle.
func (m *Manager) Subscribe(tablet document.TabletID, pointReads []txn.PointRead, rangeReads []txn.RangeRead, textReads []txn.TextRead) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	sub := &Subscription{
		id:         m.nextID,
		tablet:     tablet,
		pointReads: make(map[document.ID]bool, len(pointReads)),
		rangeReads: append([]txn.RangeRead(nil), rangeReads...),
		textReads:  append([]txn.TextRead(nil), textReads...),
	}
	for _, pr := range pointReads {
		sub.pointReads[pr.ID] = true
		if m.byPoint[pr.ID] == nil {
			m.byPoint[pr.ID] = make(map[uint64]*Subscription)
		}
		m.byPoint[pr.ID][sub.id] = sub
	}
	for _, rr := range rangeReads {
		if m.byIndex[rr.Index] == nil {
			m.byIndex[rr.Index] = make(map[uint64]*Subscription)
		}
		m.byIndex[rr.Index][sub.id] = sub
	}
	for _, tr := range textReads {
		if m.byText[tr.Index] == nil {
			m.byText[tr.Index] = make(map[uint64]*Subscription)
		}
		m.byText[tr.Index][sub.id] = sub
	}
	m.all[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription's entries from every index, whether or
// not it was ever invalidated. Clients should call this once they stop
// caring about a subscription's result, to keep the manager's indexes from
// growing without bound.
func (m *Manager) Unsubscribe(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(sub)
}

func (m *Manager) remove(sub *Subscription) {
	for id := range sub.pointReads {
		delete(m.byPoint[id], sub.id)
		if len(m.byPoint[id]) == 0 {
			delete(m.byPoint, id)
		}
	}
	for _, rr := range sub.rangeReads {
		delete(m.byIndex[rr.Index], sub.id)
		if len(m.byIndex[rr.Index]) == 0 {
			delete(m.byIndex, rr.Index)
		}
	}
	for _, tr := range sub.textReads {
		delete(m.byText[tr.Index], sub.id)
		if len(m.byText[tr.Index]) == 0 {
			delete(m.byText, tr.Index)
		}
	}
	delete(m.all, sub.id)
}

// Notify implements committer.Notifier: invalidate every subscription whose
// read set overlaps this commit, then drop its index entries so a
// once-invalidated subscription stops costing anything to check against
// future commits.
func (m *Manager) Notify(ts document.Timestamp, tablet document.TabletID, writes []txn.Write, touched map[document.IndexID][]document.IndexKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	toInvalidate := make(map[uint64]*Subscription)

	for _, w := range writes {
		for id, sub := range m.byPoint[w.ID] {
			toInvalidate[id] = sub
		}
	}

	for indexID, keys := range touched {
		subs, ok := m.byIndex[indexID]
		if !ok {
			continue
		}
		for _, sub := range subs {
			if _, already := toInvalidate[sub.id]; already {
				continue
			}
			for _, rr := range sub.rangeReads {
				if rr.Index != indexID {
					continue
				}
				for _, k := range keys {
					if keyInRange(k, rr.Low, rr.High) {
						toInvalidate[sub.id] = sub
						break
					}
				}
			}
		}
	}

	m.notifyText(tablet, writes, toInvalidate)

	for _, sub := range toInvalidate {
		sub.invalidate()
		m.remove(sub)
	}
}

// notifyText matches each write against the subscribed text-search terms of
// every text index it lands in, the inverted form of what Search does at
// query time: instead of scoring documents against one term, it checks one
// document's tokens against every outstanding term. A tombstoned write
// carries no field values to test filters or terms against, so it
// conservatively invalidates every subscription on that index, since the
// manager does not track which prior commit's tokens a subscription's result
// actually matched.
func (m *Manager) notifyText(tablet document.TabletID, writes []txn.Write, toInvalidate map[uint64]*Subscription) {
	if m.provider == nil || len(writes) == 0 {
		return
	}
	var textDefs []document.IndexDefinition
	for _, def := range m.provider.Indexes(tablet) {
		if def.Kind == document.TextIndexKind {
			textDefs = append(textDefs, def)
		}
	}
	if len(textDefs) == 0 {
		return
	}

	for _, w := range writes {
		for _, def := range textDefs {
			subs, ok := m.byText[def.ID]
			if !ok || len(subs) == 0 {
				continue
			}
			var tokens []string
			if !w.Tombstone {
				tokens = textindex.Tokenize(w.Value.Field(def.SearchField).Str)
			}
			for _, sub := range subs {
				if _, already := toInvalidate[sub.id]; already {
					continue
				}
				for _, tr := range sub.textReads {
					if tr.Index != def.ID {
						continue
					}
					if !w.Tombstone && !filtersMatch(tr.Filters, w.Value) {
						continue
					}
					if w.Tombstone || termMatchesAny(tr, tokens) {
						toInvalidate[sub.id] = sub
						break
					}
				}
			}
		}
	}
}

func filtersMatch(filters map[string]document.Value, value document.Value) bool {
	for field, want := range filters {
		if document.Compare(value.Field([]string{field}), want) != 0 {
			return false
		}
	}
	return true
}

func termMatchesAny(tr txn.TextRead, tokens []string) bool {
	for _, tok := range tokens {
		if tr.Prefix {
			if strings.HasPrefix(tok, tr.Term) {
				return true
			}
			continue
		}
		if textindex.FuzzyMatch(tr.Term, tok, tr.MaxEditDistance) {
			return true
		}
	}
	return false
}

func keyInRange(k, low, high document.IndexKey) bool {
	if document.CompareKeys(k, low, document.ID{}, document.ID{}) < 0 {
		return false
	}
	if high != nil && document.CompareKeys(k, high, document.ID{}, document.ID{}) >= 0 {
		return false
	}
	return true
}

// Counts reports (valid, invalid) subscription totals, for metrics. An
// invalidated subscription is removed from the manager's indexes as soon as
// it's invalidated, under the same lock Counts takes, so "invalid" is
// always 0 here.
func (m *Manager) Counts() (valid, invalid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.all {
		if sub.Valid() {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}
