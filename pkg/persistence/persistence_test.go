package persistence

import (
	"context"
	"testing"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, it Iterator) []document.Revision {
	t.Helper()
	var out []document.Revision
	for {
		r, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, r)
	}
	require.NoError(t, it.Close())
	return out
}

func newMem(t *testing.T) *MemPersistence {
	t.Helper()
	return NewMemPersistence(NewLease(1), nil)
}

func newBolt(t *testing.T) *BoltPersistence {
	t.Helper()
	dir := t.TempDir()
	p, err := OpenBolt(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testAppendAndGet(t *testing.T, p Persistence) {
	tablet := document.NewTabletID()
	id := document.NewID()

	err := p.Append(context.Background(), Batch{
		Ts: 10,
		Revisions: []document.Revision{
			{Tablet: tablet, ID: id, Value: document.String("v1")},
		},
	})
	require.NoError(t, err)

	err = p.Append(context.Background(), Batch{
		Ts: 20,
		Revisions: []document.Revision{
			{Tablet: tablet, ID: id, Value: document.String("v2")},
		},
	})
	require.NoError(t, err)

	rev, ok, err := p.Get(context.Background(), tablet, id, 15)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, document.String("v1"), rev.Value)

	rev, ok, err = p.Get(context.Background(), tablet, id, 20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, document.String("v2"), rev.Value)

	_, ok, err = p.Get(context.Background(), tablet, id, 5)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, document.Timestamp(20), p.LastCommittedTimestamp())
}

func testScanAndLoad(t *testing.T, p Persistence) {
	tablet := document.NewTabletID()
	var ids [3]document.ID
	for i := range ids {
		ids[i] = document.NewID()
		err := p.Append(context.Background(), Batch{
			Ts:        document.Timestamp(10 * (i + 1)),
			Revisions: []document.Revision{{Tablet: tablet, ID: ids[i], Value: document.Int(int64(i))}},
		})
		require.NoError(t, err)
	}

	it, err := p.ScanDocumentLog(context.Background(), 10, 30)
	require.NoError(t, err)
	revs := drain(t, it)
	require.Len(t, revs, 2)
	require.Equal(t, document.Timestamp(10), revs[0].Ts)
	require.Equal(t, document.Timestamp(20), revs[1].Ts)

	it, err = p.LoadFrom(context.Background(), 20)
	require.NoError(t, err)
	revs = drain(t, it)
	require.Len(t, revs, 2)
	require.Equal(t, document.Timestamp(20), revs[0].Ts)
	require.Equal(t, document.Timestamp(30), revs[1].Ts)
}

func testLeaseFencing(t *testing.T, lease *Lease, p Persistence) {
	require.NoError(t, lease.Check())
	lease.Fence(lease.Generation() + 1)
	require.True(t, lease.Lost())

	err := p.Append(context.Background(), Batch{Ts: 1})
	require.Error(t, err)
	fe, ok := ferrors.As(err)
	require.True(t, ok)
	require.Equal(t, ferrors.LeaseLost, fe.Kind)
	require.True(t, ferrors.Fatal(err))
}

func testOutOfRetention(t *testing.T, p Persistence, floor *document.Timestamp) {
	tablet := document.NewTabletID()
	id := document.NewID()
	require.NoError(t, p.Append(context.Background(), Batch{
		Ts:        30,
		Revisions: []document.Revision{{Tablet: tablet, ID: id, Value: document.Int(1)}},
	}))
	require.NoError(t, p.Append(context.Background(), Batch{
		Ts:        100,
		Revisions: []document.Revision{{Tablet: tablet, ID: id, Value: document.Int(2)}},
	}))

	*floor = 50
	_, ok, err := p.Get(context.Background(), tablet, id, 60)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = p.Get(context.Background(), tablet, id, 10)
	require.Error(t, err)
	fe, ok := ferrors.As(err)
	require.True(t, ok)
	require.Equal(t, ferrors.OutOfRetention, fe.Kind)
}

func TestMemPersistence(t *testing.T) {
	t.Run("append and get", func(t *testing.T) { testAppendAndGet(t, newMem(t)) })
	t.Run("scan and load", func(t *testing.T) { testScanAndLoad(t, newMem(t)) })
	t.Run("lease fencing", func(t *testing.T) {
		lease := NewLease(1)
		testLeaseFencing(t, lease, NewMemPersistence(lease, nil))
	})
	t.Run("out of retention", func(t *testing.T) {
		var floor document.Timestamp
		p := NewMemPersistence(NewLease(1), func() document.Timestamp { return floor })
		testOutOfRetention(t, p, &floor)
	})
}

func TestBoltPersistence(t *testing.T) {
	t.Run("append and get", func(t *testing.T) { testAppendAndGet(t, newBolt(t)) })
	t.Run("scan and load", func(t *testing.T) { testScanAndLoad(t, newBolt(t)) })

	t.Run("lease fencing", func(t *testing.T) {
		p := newBolt(t)
		testLeaseFencing(t, p.Lease(), p)
	})

	t.Run("out of retention", func(t *testing.T) {
		var floor document.Timestamp
		dir := t.TempDir()
		p, err := OpenBolt(dir, func() document.Timestamp { return floor })
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		testOutOfRetention(t, p, &floor)
	})

	t.Run("lease generation survives reopen", func(t *testing.T) {
		dir := t.TempDir()
		p1, err := OpenBolt(dir, nil)
		require.NoError(t, err)
		gen1 := p1.Lease().Generation()
		require.NoError(t, p1.Close())

		p2, err := OpenBolt(dir, nil)
		require.NoError(t, err)
		defer p2.Close()
		require.Greater(t, p2.Lease().Generation(), gen1)
	})
}

func TestSortedCopyOrdering(t *testing.T) {
	p := newMem(t)
	tablet := document.NewTabletID()
	require.NoError(t, p.Append(context.Background(), Batch{
		Ts:        5,
		Revisions: []document.Revision{{Tablet: tablet, ID: document.NewID(), Value: document.Null()}},
	}))
	require.NoError(t, p.Append(context.Background(), Batch{
		Ts:        3,
		Revisions: []document.Revision{{Tablet: tablet, ID: document.NewID(), Value: document.Null()}},
	}))
	sorted := p.sortedCopy()
	require.Len(t, sorted, 2)
	require.Equal(t, document.Timestamp(3), sorted[0].Ts)
	require.Equal(t, document.Timestamp(5), sorted[1].Ts)
}
