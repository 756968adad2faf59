package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/persistence"
)

type fakeTabletLister struct {
	tablets []document.TabletID
}

func (f fakeTabletLister) Tablets() []document.TabletID { return f.tablets }

func TestCheckpointerRunOnceSavesEverySummary(t *testing.T) {
	store := NewMemSummaryStore()
	tablet := document.NewTabletID()
	lister := fakeTabletLister{tablets: []document.TabletID{tablet}}
	log := persistence.NewMemPersistence(persistence.NewLease(1), func() document.Timestamp { return 0 })

	counter := func(document.TabletID, document.Timestamp) (int64, error) { return 42, nil }
	c := NewCheckpointer(store, lister, counter, log, time.Hour)

	require.NoError(t, c.RunOnce(context.Background()))

	summary, ok, err := store.Load(tablet)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), summary.Count)
}
