package document

import (
	"github.com/google/uuid"
)

// ID is a document's globally unique 16-byte identifier, backed by
// google/uuid.
type ID [16]byte

// NewID generates a fresh random document id.
func NewID() ID {
	return ID(uuid.New())
}

func (id ID) String() string { return uuid.UUID(id).String() }

// ParseID parses a canonical UUID string into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}

// TabletID is the physical table identifier. Tablets are created once and
// never reused; logical renames only change which tablet a table name
// resolves to.
type TabletID [16]byte

func NewTabletID() TabletID { return TabletID(uuid.New()) }

func (t TabletID) String() string { return uuid.UUID(t).String() }

// TableNumber is the logical table id a name maps to via the table mapping.
type TableNumber uint32

// Timestamp is the strictly increasing 64-bit commit clock.
type Timestamp uint64

// MinTimestamp is the smallest valid commit timestamp; 0 is reserved to mean
// "before any commit" so retention floors and snapshot comparisons have an
// unambiguous bottom element.
const MinTimestamp Timestamp = 1

// WriteTimestamp models Pending | Committed(ts): a write buffered in a
// transaction has no timestamp until the committer assigns one.
type WriteTimestamp struct {
	committed bool
	ts        Timestamp
}

func Pending() WriteTimestamp                  { return WriteTimestamp{} }
func Committed(ts Timestamp) WriteTimestamp     { return WriteTimestamp{committed: true, ts: ts} }
func (w WriteTimestamp) IsCommitted() bool      { return w.committed }
func (w WriteTimestamp) Timestamp() Timestamp   { return w.ts }

// Document is an immutable record: a revision of some id's value at the
// time it was read or produced by a commit.
type Document struct {
	ID           ID
	Tablet       TabletID
	Table        TableNumber
	CreationTime float64 // finite float64
	Value        Value   // KindNull for a tombstone
}

// Tombstone reports whether this document represents a deletion.
func (d Document) Tombstone() bool { return d.Value.Kind == KindNull }

// Revision is a document's on-log representation: (tablet, id, ts,
// value|tombstone).
type Revision struct {
	Tablet    TabletID
	ID        ID
	Ts        Timestamp
	Tombstone bool
	Value     Value
}

// Document projects a committed Revision back into a Document, using the
// table number and creation time the caller passes in; a tombstoned
// revision projects to a Null value.
func (r Revision) Document(table TableNumber, creationTime float64) Document {
	v := r.Value
	if r.Tombstone {
		v = Null()
	}
	return Document{ID: r.ID, Tablet: r.Tablet, Table: table, CreationTime: creationTime, Value: v}
}
