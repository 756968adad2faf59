package document

// IndexKind selects which backing subsystem serves an index.
type IndexKind int

const (
	DatabaseIndexKind IndexKind = iota
	TextIndexKind
	VectorIndexKind
)

// IndexState is an index's lifecycle stage. Database indexes pass through
// all three; text/vector indexes behave the same way but additionally
// persist a snapshot timestamp once Enabled.
type IndexState int

const (
	Backfilling IndexState = iota
	Backfilled
	Enabled
)

func (s IndexState) String() string {
	switch s {
	case Backfilling:
		return "backfilling"
	case Backfilled:
		return "backfilled"
	case Enabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// IndexID identifies an index's metadata document.
type IndexID [16]byte

// IndexDefinition is the metadata describing one index. Definitions are
// held in memory by their owner (pkg/api's indexSet); they are not stored
// as documents in a system tablet, and index lifecycle changes do not go
// through the commit path.
type IndexDefinition struct {
	ID     IndexID
	Name   string
	Tablet TabletID
	Kind   IndexKind
	State  IndexState

	// Database index: ordered tuple of field paths.
	Fields [][]string

	// Text index: single search field plus equality filter fields.
	SearchField  []string
	FilterFields [][]string

	// Text/vector index on-disk state, persisted once a snapshot exists.
	OnDisk *OnDiskIndexState
}

// OnDiskIndexState is the on-disk snapshot pointer text and vector indexes
// persist once Enabled: a snapshot timestamp and a format version tag so a
// reader can tell whether an on-disk segment set is still compatible.
type OnDiskIndexState struct {
	SnapshotTs      Timestamp
	SnapshotVersion uint32
	SegmentKeys     []string // opaque storage keys of the current segment set
}

// IndexKey is the tuple of values extracted from a document for a database
// index's ordering.
type IndexKey []Value

// CompareKeys compares two index keys lexicographically using Value's total
// order, then breaks remaining ties by document id so every key is unique
// even when user fields collide.
func CompareKeys(a, b IndexKey, aID, bID ID) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	if c := intCompare(len(a), len(b)); c != 0 {
		return c
	}
	for i := range aID {
		if aID[i] != bID[i] {
			if aID[i] < bID[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// IndexKeyOf extracts the IndexKey a document implies for a given database
// index definition. Pure function of (doc, definition): calling it twice on
// the same inputs always yields equal keys.
func IndexKeyOf(def IndexDefinition, doc Document) IndexKey {
	key := make(IndexKey, len(def.Fields))
	for i, path := range def.Fields {
		key[i] = doc.Value.Field(path)
	}
	return key
}
