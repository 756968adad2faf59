package txn

import (
	"testing"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/registry"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	docs    map[document.ID]document.Revision
	entries []registry.Entry
	indexes map[document.IndexID]document.IndexDefinition
}

func (f *fakeReader) Get(_ document.TabletID, id document.ID) (document.Revision, bool, error) {
	rev, ok := f.docs[id]
	return rev, ok, nil
}

func (f *fakeReader) Range(_ document.IndexID, _, _ document.IndexKey) []registry.Entry {
	return f.entries
}

func (f *fakeReader) IndexDefinition(index document.IndexID) (document.IndexDefinition, bool) {
	def, ok := f.indexes[index]
	return def, ok
}

func TestGetFallsThroughToWriteBuffer(t *testing.T) {
	id := document.NewID()
	reader := &fakeReader{docs: map[document.ID]document.Revision{}}
	tr := New(document.NewTabletID(), 10, reader)

	tr.Insert(id, document.String("hello"))
	v, ok, err := tr.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, document.String("hello"), v)
}

func TestGetReadsThroughReaderAndRecordsReadSet(t *testing.T) {
	id := document.NewID()
	tablet := document.NewTabletID()
	reader := &fakeReader{docs: map[document.ID]document.Revision{
		id: {Tablet: tablet, ID: id, Value: document.Int(7)},
	}}
	tr := New(tablet, 10, reader)

	v, ok, err := tr.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, document.Int(7), v)

	token := tr.IntoToken()
	require.Len(t, token.PointReads, 1)
	require.Equal(t, id, token.PointReads[0].ID)
}

func TestDeleteThenGetReturnsAbsent(t *testing.T) {
	id := document.NewID()
	tablet := document.NewTabletID()
	reader := &fakeReader{docs: map[document.ID]document.Revision{
		id: {Tablet: tablet, ID: id, Value: document.Int(1)},
	}}
	tr := New(tablet, 10, reader)
	tr.Delete(id)

	_, ok, err := tr.Get(id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPatchMergesObjectFields(t *testing.T) {
	id := document.NewID()
	tablet := document.NewTabletID()
	reader := &fakeReader{docs: map[document.ID]document.Revision{
		id: {Tablet: tablet, ID: id, Value: document.Object(map[string]document.Value{
			"a": document.Int(1),
			"b": document.Int(2),
		})},
	}}
	tr := New(tablet, 10, reader)

	err := tr.Patch(id, document.Object(map[string]document.Value{"b": document.Int(20), "c": document.Int(3)}))
	require.NoError(t, err)

	v, ok, err := tr.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, document.Int(1), v.Object["a"])
	require.Equal(t, document.Int(20), v.Object["b"])
	require.Equal(t, document.Int(3), v.Object["c"])
}

func TestPatchNotFoundFails(t *testing.T) {
	tablet := document.NewTabletID()
	reader := &fakeReader{docs: map[document.ID]document.Revision{}}
	tr := New(tablet, 10, reader)

	err := tr.Patch(document.NewID(), document.Object(nil))
	require.Error(t, err)
}

func TestRangeMergesWriteBuffer(t *testing.T) {
	tablet := document.NewTabletID()
	idx := document.IndexID(document.NewID())
	existing := document.NewID()
	deleted := document.NewID()
	inserted := document.NewID()

	reader := &fakeReader{entries: []registry.Entry{
		{Key: document.IndexKey{document.Int(1)}, DocID: existing},
		{Key: document.IndexKey{document.Int(2)}, DocID: deleted},
	}}
	tr := New(tablet, 10, reader)
	tr.Delete(deleted)
	tr.Insert(inserted, document.Int(3))

	ids := tr.Range(idx, document.IndexKey{document.Int(0)}, document.IndexKey{document.Int(10)})
	require.Contains(t, ids, existing)
	require.NotContains(t, ids, deleted)

	token := tr.IntoToken()
	require.Len(t, token.RangeReads, 1)
	require.Equal(t, idx, token.RangeReads[0].Index)
}

func TestRangeMergesPendingInsertIntoOrderedPosition(t *testing.T) {
	tablet := document.NewTabletID()
	idx := document.IndexID(document.NewID())
	def := document.IndexDefinition{ID: idx, Fields: [][]string{{"n"}}}
	lowest, highest := document.NewID(), document.NewID()

	reader := &fakeReader{
		entries: []registry.Entry{
			{Key: document.IndexKey{document.Int(1)}, DocID: lowest},
			{Key: document.IndexKey{document.Int(9)}, DocID: highest},
		},
		indexes: map[document.IndexID]document.IndexDefinition{idx: def},
	}
	tr := New(tablet, 10, reader)

	inserted := document.NewID()
	tr.Insert(inserted, document.Object(map[string]document.Value{"n": document.Int(5)}))

	ids := tr.Range(idx, document.IndexKey{document.Int(0)}, document.IndexKey{document.Int(10)})
	require.Equal(t, []document.ID{lowest, inserted, highest}, ids)
}

func TestIntoTokenPreservesWriteOrder(t *testing.T) {
	tablet := document.NewTabletID()
	reader := &fakeReader{docs: map[document.ID]document.Revision{}}
	tr := New(tablet, 1, reader)

	first, second := document.NewID(), document.NewID()
	tr.Insert(first, document.Int(1))
	tr.Insert(second, document.Int(2))
	tr.Replace(first, document.Int(10))

	token := tr.IntoToken()
	require.Len(t, token.Writes, 2)
	require.Equal(t, first, token.Writes[0].ID)
	require.Equal(t, document.Int(10), token.Writes[0].Value)
	require.Equal(t, second, token.Writes[1].ID)
}
