package textindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/flux/pkg/document"
)

func TestMemoryIndexAddAndSearch(t *testing.T) {
	idx := NewMemoryIndex()
	id1, id2 := document.NewID(), document.NewID()
	idx.Add(1, id1, "the quick brown fox", nil)
	idx.Add(2, id2, "the slow brown turtle", nil)

	results, scanned := idx.Search("fox", nil, 0, 0)
	require.Equal(t, 1, scanned)
	require.Len(t, results, 1)
	require.Equal(t, id1, results[0].ID)
}

func TestMemoryIndexAddReplacesPriorPostings(t *testing.T) {
	idx := NewMemoryIndex()
	id := document.NewID()
	idx.Add(1, id, "alpha beta", nil)
	idx.Add(2, id, "gamma delta", nil)

	results, _ := idx.Search("alpha", nil, 0, 0)
	require.Empty(t, results)

	results, _ = idx.Search("gamma", nil, 0, 0)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ID)
}

func TestMemoryIndexRemove(t *testing.T) {
	idx := NewMemoryIndex()
	id := document.NewID()
	idx.Add(1, id, "hello world", nil)
	idx.Remove(2, id)

	results, _ := idx.Search("hello", nil, 0, 0)
	require.Empty(t, results)
	require.Equal(t, 0, idx.DocCount())
}

func TestMemoryIndexSearchAppliesFilters(t *testing.T) {
	idx := NewMemoryIndex()
	id1, id2 := document.NewID(), document.NewID()
	idx.Add(1, id1, "widget", map[string]document.Value{"status": document.String("active")})
	idx.Add(2, id2, "widget", map[string]document.Value{"status": document.String("archived")})

	results, _ := idx.Search("widget", map[string]document.Value{"status": document.String("active")}, 0, 0)
	require.Len(t, results, 1)
	require.Equal(t, id1, results[0].ID)
}

func TestMemoryIndexSearchFuzzyAndPrefix(t *testing.T) {
	idx := NewMemoryIndex()
	id := document.NewID()
	idx.Add(1, id, "database", nil)

	results, _ := idx.Search("databse", nil, 2, 0)
	require.Len(t, results, 1)

	results, _ = idx.Search("data", nil, 0, 0)
	require.Len(t, results, 1)
}

func TestMemoryIndexSearchLimit(t *testing.T) {
	idx := NewMemoryIndex()
	for i := 0; i < 5; i++ {
		idx.Add(document.Timestamp(i+1), document.NewID(), "shared term", nil)
	}
	results, _ := idx.Search("shared", nil, 0, 2)
	require.Len(t, results, 2)
}

func TestIsEmptySince(t *testing.T) {
	idx := NewMemoryIndex()
	require.True(t, idx.IsEmptySince(0))

	idx.Add(5, document.NewID(), "something", nil)
	require.False(t, idx.IsEmptySince(0))
	require.True(t, idx.IsEmptySince(5))
	require.True(t, idx.IsEmptySince(10))
}

func TestEstimateBytesGrowsWithPostings(t *testing.T) {
	idx := NewMemoryIndex()
	require.Equal(t, int64(0), idx.EstimateBytes())
	idx.Add(1, document.NewID(), "alpha beta gamma", nil)
	require.Greater(t, idx.EstimateBytes(), int64(0))
}
