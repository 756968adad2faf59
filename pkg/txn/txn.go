// Package txn implements the transaction handle: a snapshot-isolated view
// of one tablet's documents plus a write buffer that stages inserts,
// replaces, patches, and deletes until the caller commits. Reads never
// block and never see another transaction's uncommitted writes. A read can
// still return the reader's error (and Patch fails on a missing document),
// but a conflict with another transaction only surfaces at commit time, when
// the committer checks whether anything it read has since changed.
package txn

import (
	"fmt"
	"sort"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
	"github.com/cuemby/flux/pkg/registry"
)

// PointRead records one document observed (or observed absent) during the
// transaction, for the committer's read-set conflict check.
type PointRead struct {
	Tablet document.TabletID
	ID     document.ID
}

// RangeRead records one index range scanned during the transaction.
type RangeRead struct {
	Index    document.IndexID
	Low, High document.IndexKey
}

// Write is one staged mutation. Tombstone marks a delete; otherwise Value
// holds the document's new contents.
type Write struct {
	Tablet    document.TabletID
	ID        document.ID
	Tombstone bool
	Value     document.Value
}

// TextRead records one text-index subscription term: the (search term,
// prefix?, max edit distance) triple plus any filter equalities a
// subscribed query's result depends on. Database.Subscribe hands these to
// the subscription manager alongside PointReads/RangeReads so a commit that
// changes a document's matching tokens invalidates the subscription the
// same way a changed index key invalidates a RangeRead.
type TextRead struct {
	Index           document.IndexID
	Term            string
	Prefix          bool
	MaxEditDistance int
	Filters         map[string]document.Value
}

// Reader is the snapshot a transaction reads through: the persisted log at
// a fixed timestamp plus the registry for index ranges.
type Reader interface {
	Get(tablet document.TabletID, id document.ID) (document.Revision, bool, error)
	Range(index document.IndexID, low, high document.IndexKey) []registry.Entry
	IndexDefinition(index document.IndexID) (document.IndexDefinition, bool)
}

// Token is the immutable summary of everything a transaction read and
// wrote, handed to the committer at commit time. Producing a Token does not
// commit anything — it only freezes the transaction's read/write sets so
// the committer can check and apply them under the single-writer lock.
type Token struct {
	Tablet     document.TabletID
	Ts         document.Timestamp // the snapshot timestamp reads were taken at
	PointReads []PointRead
	RangeReads []RangeRead
	TextReads  []TextRead
	Writes     []Write
}

// Transaction accumulates reads and writes against one tablet's snapshot at
// a fixed timestamp. Not safe for concurrent use — transactions are
// single-threaded by construction, matching the request/response model
// they serve.
type Transaction struct {
	tablet document.TabletID
	ts     document.Timestamp
	reader Reader

	pointReads []PointRead
	rangeReads []RangeRead
	textReads  []TextRead

	// writes preserves insertion order so replaying them at commit time
	// reproduces the same last-write-wins semantics the caller observed.
	order []document.ID
	writes map[document.ID]Write
}

func New(tablet document.TabletID, ts document.Timestamp, reader Reader) *Transaction {
	return &Transaction{
		tablet: tablet,
		ts:     ts,
		reader: reader,
		writes: make(map[document.ID]Write),
	}
}

// Get reads a document by id, falling through to the write buffer first so a
// transaction always observes its own writes.
func (t *Transaction) Get(id document.ID) (document.Value, bool, error) {
	if w, ok := t.writes[id]; ok {
		if w.Tombstone {
			return document.Value{}, false, nil
		}
		return w.Value, true, nil
	}

	t.pointReads = append(t.pointReads, PointRead{Tablet: t.tablet, ID: id})
	rev, ok, err := t.reader.Get(t.tablet, id)
	if err != nil {
		return document.Value{}, false, err
	}
	if !ok || rev.Tombstone {
		return document.Value{}, false, nil
	}
	return rev.Value, true, nil
}

// Insert stages a new document. The caller is responsible for generating a
// fresh id; Insert does not check for an existing document at id.
func (t *Transaction) Insert(id document.ID, value document.Value) {
	t.stage(Write{Tablet: t.tablet, ID: id, Value: value})
}

// Replace stages a full overwrite of id's value. Like Insert, it does not
// check whether a document exists at id.
func (t *Transaction) Replace(id document.ID, value document.Value) {
	t.stage(Write{Tablet: t.tablet, ID: id, Value: value})
}

// Patch reads the current value (through the write buffer), shallow-merges
// patch's object fields on top, and stages the result. Patch on a
// non-object value, or a patch that is itself non-object, replaces the
// value outright rather than erroring — matching the permissive merge a
// document store's partial update should offer.
func (t *Transaction) Patch(id document.ID, patch document.Value) error {
	current, ok, err := t.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.New(ferrors.NotFound, "document %s not found for patch", id)
	}
	merged := mergeValue(current, patch)
	t.stage(Write{Tablet: t.tablet, ID: id, Value: merged})
	return nil
}

func mergeValue(base, patch document.Value) document.Value {
	if base.Kind != document.KindObject || patch.Kind != document.KindObject {
		return patch
	}
	out := make(map[string]document.Value, len(base.Object)+len(patch.Object))
	for k, v := range base.Object {
		out[k] = v
	}
	for k, v := range patch.Object {
		out[k] = v
	}
	return document.Object(out)
}

// Delete stages a tombstone for id.
func (t *Transaction) Delete(id document.ID) {
	t.stage(Write{Tablet: t.tablet, ID: id, Tombstone: true})
}

// SubscribeText records a text-index query's term as part of this
// transaction's read set. Text search runs outside the snapshot reader (it
// answers from the text index's own memory/disk state rather than this
// transaction's tablet reads), so a caller that wants Database.Subscribe to
// invalidate on a text query's result changing records the query here with
// the same (term, prefix, maxEditDistance, filters) it passed to Search.
func (t *Transaction) SubscribeText(index document.IndexID, term string, prefix bool, maxEditDistance int, filters map[string]document.Value) {
	t.textReads = append(t.textReads, TextRead{
		Index:           index,
		Term:            term,
		Prefix:          prefix,
		MaxEditDistance: maxEditDistance,
		Filters:         filters,
	})
}

func (t *Transaction) stage(w Write) {
	if _, exists := t.writes[w.ID]; !exists {
		t.order = append(t.order, w.ID)
	}
	t.writes[w.ID] = w
}

// Range scans a database index within [low, high), merging the registry's
// committed entries with this transaction's own pending writes so a caller
// always sees its own uncommitted changes reflected in range results, in
// their correct ordered position. Entries the write buffer has deleted are
// filtered out even if the registry still lists them under their
// pre-transaction key; a pending insert or replace whose index key falls
// inside the range is merged in even though the registry has never seen it.
func (t *Transaction) Range(index document.IndexID, low, high document.IndexKey) []document.ID {
	t.rangeReads = append(t.rangeReads, RangeRead{Index: index, Low: low, High: high})

	entries := t.reader.Range(index, low, high)
	type keyed struct {
		key document.IndexKey
		id  document.ID
	}
	merged := make([]keyed, 0, len(entries))
	seen := make(map[document.ID]bool, len(entries))
	for _, e := range entries {
		seen[e.DocID] = true
		if w, staged := t.writes[e.DocID]; staged {
			if w.Tombstone {
				continue
			}
		} else if e.Tombstone {
			continue
		}
		merged = append(merged, keyed{key: e.Key, id: e.DocID})
	}

	if def, ok := t.reader.IndexDefinition(index); ok {
		for _, id := range t.order {
			if seen[id] {
				continue
			}
			w := t.writes[id]
			if w.Tombstone {
				continue
			}
			key := document.IndexKeyOf(def, document.Document{ID: id, Tablet: t.tablet, Value: w.Value})
			if !keyInRange(key, low, high) {
				continue
			}
			merged = append(merged, keyed{key: key, id: id})
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return document.CompareKeys(merged[i].key, merged[j].key, merged[i].id, merged[j].id) < 0
	})

	out := make([]document.ID, len(merged))
	for i, m := range merged {
		out[i] = m.id
	}
	return out
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

// IntoToken freezes the transaction's read and write sets for the committer.
// Calling it twice returns independent copies; it does not reset the
// transaction.
func (t *Transaction) IntoToken() Token {
	writes := make([]Write, 0, len(t.order))
	for _, id := range t.order {
		writes = append(writes, t.writes[id])
	}
	return Token{
		Tablet:     t.tablet,
		Ts:         t.ts,
		PointReads: append([]PointRead(nil), t.pointReads...),
		RangeReads: append([]RangeRead(nil), t.rangeReads...),
		TextReads:  append([]TextRead(nil), t.textReads...),
		Writes:     writes,
	}
}

func (t Token) String() string {
	return fmt.Sprintf("txn(tablet=%s ts=%d reads=%d+%d writes=%d)",
		t.Tablet, t.Ts, len(t.PointReads), len(t.RangeReads), len(t.Writes))
}
