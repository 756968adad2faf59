package textindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
)

func newTestSearcher(t *testing.T, memory *MemoryIndex, keys []string, store Store) *Searcher {
	t.Helper()
	cache, err := NewArchiveCache(store, "idx", 8)
	require.NoError(t, err)
	return NewSearcher(memory, cache, func() []string { return keys }, 1000, 2, nil)
}

func TestSearcherMergesMemoryAndSegments(t *testing.T) {
	memory := NewMemoryIndex()
	memID := document.NewID()
	memory.Add(10, memID, "fresh news", nil)

	archived := NewMemoryIndex()
	segID := document.NewID()
	archived.Add(1, segID, "old news", nil)
	seg := BuildSegment("seg-0", archived)

	store := NewMemStore()
	require.NoError(t, store.Put("seg-0", seg))

	s := newTestSearcher(t, memory, []string{"seg-0"}, store)
	results, err := s.Search(context.Background(), "news", nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSearcherMemoryShadowsStaleSegmentCopy(t *testing.T) {
	id := document.NewID()

	archived := NewMemoryIndex()
	archived.Add(1, id, "stale body", nil)
	seg := BuildSegment("seg-0", archived)
	store := NewMemStore()
	require.NoError(t, store.Put("seg-0", seg))

	memory := NewMemoryIndex()
	memory.Add(5, id, "fresh body", nil)

	s := newTestSearcher(t, memory, []string{"seg-0"}, store)
	results, err := s.Search(context.Background(), "body", nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ID)
}

func TestSearcherFailsOverMaxCandidates(t *testing.T) {
	memory := NewMemoryIndex()
	for i := 0; i < 5; i++ {
		memory.Add(document.Timestamp(i+1), document.NewID(), "shared term", nil)
	}
	cache, err := NewArchiveCache(NewMemStore(), "idx", 4)
	require.NoError(t, err)
	s := NewSearcher(memory, cache, func() []string { return nil }, 2, 0, nil)

	_, err = s.Search(context.Background(), "shared", nil, 0, 0)
	require.Error(t, err)
	var ferr *ferrors.Error
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, ferrors.Overloaded, ferr.Kind)
}

func TestSearcherRespectsFiltersAcrossSegments(t *testing.T) {
	archived := NewMemoryIndex()
	activeID, archivedID := document.NewID(), document.NewID()
	archived.Add(1, activeID, "widget", map[string]document.Value{"status": document.String("active")})
	archived.Add(2, archivedID, "widget", map[string]document.Value{"status": document.String("archived")})
	seg := BuildSegment("seg-0", archived)
	store := NewMemStore()
	require.NoError(t, store.Put("seg-0", seg))

	s := newTestSearcher(t, NewMemoryIndex(), []string{"seg-0"}, store)
	results, err := s.Search(context.Background(), "widget", map[string]document.Value{"status": document.String("active")}, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, activeID, results[0].ID)
}

func TestSearcherUnifiesStatsAcrossMemoryAndSegments(t *testing.T) {
	// Same corpus split two ways must score identically: entirely in
	// memory, versus half flushed to a segment. If the BM25 statistics
	// were computed separately per half (memory-only N/df vs
	// segment-only N/df) rather than unified, the split version would
	// score its matches differently from the whole-in-memory version.
	docs := []struct {
		id   document.ID
		text string
	}{
		{document.NewID(), "apple orchard"},
		{document.NewID(), "apple harvest"},
		{document.NewID(), "apple pie recipe"},
	}

	whole := NewMemoryIndex()
	for i, d := range docs {
		whole.Add(document.Timestamp(i+1), d.id, d.text, nil)
	}
	wholeSearcher := newTestSearcher(t, whole, nil, NewMemStore())
	wholeResults, err := wholeSearcher.Search(context.Background(), "apple", nil, 0, 0)
	require.NoError(t, err)

	split := NewMemoryIndex()
	split.Add(1, docs[2].id, docs[2].text, nil)
	archived := NewMemoryIndex()
	archived.Add(1, docs[0].id, docs[0].text, nil)
	archived.Add(2, docs[1].id, docs[1].text, nil)
	seg := BuildSegment("seg-0", archived)
	store := NewMemStore()
	require.NoError(t, store.Put("seg-0", seg))
	splitSearcher := newTestSearcher(t, split, []string{"seg-0"}, store)
	splitResults, err := splitSearcher.Search(context.Background(), "apple", nil, 0, 0)
	require.NoError(t, err)

	require.Len(t, splitResults, len(wholeResults))
	wholeByID := make(map[document.ID]float64, len(wholeResults))
	for _, r := range wholeResults {
		wholeByID[r.ID] = r.Score
	}
	for _, r := range splitResults {
		require.InDelta(t, wholeByID[r.ID], r.Score, 1e-9)
	}
}

type fakeRevisionChecker struct {
	live map[document.ID]bool
}

func (f *fakeRevisionChecker) IsLive(_ context.Context, id document.ID, _ document.Timestamp) (bool, error) {
	return f.live[id], nil
}

func TestSearcherRejectsStaleCandidate(t *testing.T) {
	memory := NewMemoryIndex()
	live, stale := document.NewID(), document.NewID()
	memory.Add(1, live, "fresh news", nil)
	memory.Add(1, stale, "stale news", nil)

	cache, err := NewArchiveCache(NewMemStore(), "idx", 4)
	require.NoError(t, err)
	checker := &fakeRevisionChecker{live: map[document.ID]bool{live: true, stale: false}}
	s := NewSearcher(memory, cache, func() []string { return nil }, 1000, 0, checker)

	results, err := s.Search(context.Background(), "news", nil, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, live, results[0].ID)
}
