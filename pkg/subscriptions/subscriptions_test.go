package subscriptions

import (
	"testing"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/txn"
	"github.com/stretchr/testify/require"
)

type fakeIndexProvider struct {
	defs []document.IndexDefinition
}

func (f *fakeIndexProvider) Indexes(document.TabletID) []document.IndexDefinition {
	return f.defs
}

func TestPointReadInvalidatesOnWrite(t *testing.T) {
	m := NewManager(nil)
	tablet := document.NewTabletID()
	id := document.NewID()

	sub := m.Subscribe(tablet, []txn.PointRead{{Tablet: tablet, ID: id}}, nil, nil)
	require.True(t, sub.Valid())

	m.Notify(1, tablet, []txn.Write{{Tablet: tablet, ID: id, Value: document.Int(1)}}, nil)
	require.False(t, sub.Valid())
}

func TestPointReadUnaffectedByUnrelatedWrite(t *testing.T) {
	m := NewManager(nil)
	tablet := document.NewTabletID()
	id, other := document.NewID(), document.NewID()

	sub := m.Subscribe(tablet, []txn.PointRead{{Tablet: tablet, ID: id}}, nil, nil)
	m.Notify(1, tablet, []txn.Write{{Tablet: tablet, ID: other, Value: document.Int(1)}}, nil)
	require.True(t, sub.Valid())
}

func TestRangeReadInvalidatesOnOverlappingIndexKey(t *testing.T) {
	m := NewManager(nil)
	tablet := document.NewTabletID()
	idx := document.IndexID(document.NewID())

	sub := m.Subscribe(tablet, nil, []txn.RangeRead{
		{Index: idx, Low: document.IndexKey{document.Int(0)}, High: document.IndexKey{document.Int(10)}},
	}, nil)

	m.Notify(1, tablet, nil, map[document.IndexID][]document.IndexKey{
		idx: {{document.Int(5)}},
	})
	require.False(t, sub.Valid())
}

func TestRangeReadUnaffectedByOutOfRangeKey(t *testing.T) {
	m := NewManager(nil)
	tablet := document.NewTabletID()
	idx := document.IndexID(document.NewID())

	sub := m.Subscribe(tablet, nil, []txn.RangeRead{
		{Index: idx, Low: document.IndexKey{document.Int(0)}, High: document.IndexKey{document.Int(10)}},
	}, nil)

	m.Notify(1, tablet, nil, map[document.IndexID][]document.IndexKey{
		idx: {{document.Int(50)}},
	})
	require.True(t, sub.Valid())
}

func TestUnsubscribeRemovesFromIndexes(t *testing.T) {
	m := NewManager(nil)
	tablet := document.NewTabletID()
	id := document.NewID()

	sub := m.Subscribe(tablet, []txn.PointRead{{Tablet: tablet, ID: id}}, nil, nil)
	m.Unsubscribe(sub)

	valid, invalid := m.Counts()
	require.Equal(t, 0, valid)
	require.Equal(t, 0, invalid)

	// A later write to the same id must not touch the unsubscribed handle.
	m.Notify(1, tablet, []txn.Write{{Tablet: tablet, ID: id, Value: document.Int(1)}}, nil)
	require.True(t, sub.Valid())
}

func TestCountsReflectsValidSubscriptions(t *testing.T) {
	m := NewManager(nil)
	tablet := document.NewTabletID()
	idA, idB := document.NewID(), document.NewID()

	m.Subscribe(tablet, []txn.PointRead{{Tablet: tablet, ID: idA}}, nil, nil)
	m.Subscribe(tablet, []txn.PointRead{{Tablet: tablet, ID: idB}}, nil, nil)

	valid, invalid := m.Counts()
	require.Equal(t, 2, valid)
	require.Equal(t, 0, invalid)

	m.Notify(1, tablet, []txn.Write{{Tablet: tablet, ID: idA, Value: document.Int(1)}}, nil)
	valid, invalid = m.Counts()
	require.Equal(t, 1, valid)
	require.Equal(t, 0, invalid)
}

func TestTextSubscriptionInvalidatesOnPrefixMatchingWrite(t *testing.T) {
	tablet := document.NewTabletID()
	idx := document.IndexID(document.NewID())
	def := document.IndexDefinition{
		ID:          idx,
		Tablet:      tablet,
		Kind:        document.TextIndexKind,
		SearchField: []string{"body"},
	}
	m := NewManager(&fakeIndexProvider{defs: []document.IndexDefinition{def}})

	sub := m.Subscribe(tablet, nil, nil, []txn.TextRead{
		{Index: idx, Term: "co", Prefix: true},
	})
	require.True(t, sub.Valid())

	m.Notify(1, tablet, []txn.Write{
		{Tablet: tablet, ID: document.NewID(), Value: document.Object(map[string]document.Value{
			"body": document.String("combinator"),
		})},
	}, nil)
	require.False(t, sub.Valid())
}

func TestTextSubscriptionUnaffectedByNonMatchingWrite(t *testing.T) {
	tablet := document.NewTabletID()
	idx := document.IndexID(document.NewID())
	def := document.IndexDefinition{
		ID:          idx,
		Tablet:      tablet,
		Kind:        document.TextIndexKind,
		SearchField: []string{"body"},
	}
	m := NewManager(&fakeIndexProvider{defs: []document.IndexDefinition{def}})

	sub := m.Subscribe(tablet, nil, nil, []txn.TextRead{
		{Index: idx, Term: "co", Prefix: true},
	})

	m.Notify(1, tablet, []txn.Write{
		{Tablet: tablet, ID: document.NewID(), Value: document.Object(map[string]document.Value{
			"body": document.String("apple"),
		})},
	}, nil)
	require.True(t, sub.Valid())
}

func TestTextSubscriptionRespectsFilterEquality(t *testing.T) {
	tablet := document.NewTabletID()
	idx := document.IndexID(document.NewID())
	def := document.IndexDefinition{
		ID:          idx,
		Tablet:      tablet,
		Kind:        document.TextIndexKind,
		SearchField: []string{"body"},
	}
	m := NewManager(&fakeIndexProvider{defs: []document.IndexDefinition{def}})

	sub := m.Subscribe(tablet, nil, nil, []txn.TextRead{
		{Index: idx, Term: "co", Prefix: true, Filters: map[string]document.Value{"lang": document.String("en")}},
	})

	m.Notify(1, tablet, []txn.Write{
		{Tablet: tablet, ID: document.NewID(), Value: document.Object(map[string]document.Value{
			"body": document.String("combinator"),
			"lang": document.String("fr"),
		})},
	}, nil)
	require.True(t, sub.Valid())

	m.Notify(2, tablet, []txn.Write{
		{Tablet: tablet, ID: document.NewID(), Value: document.Object(map[string]document.Value{
			"body": document.String("combinator"),
			"lang": document.String("en"),
		})},
	}, nil)
	require.False(t, sub.Valid())
}
