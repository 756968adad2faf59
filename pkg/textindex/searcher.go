package textindex

import (
	"context"
	"sort"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
	"github.com/cuemby/flux/pkg/metrics"
)

// SegmentKeysFunc reports the on-disk segment keys currently backing an
// index, read from its IndexDefinition.OnDisk.SegmentKeys.
type SegmentKeysFunc func() []string

// RevisionChecker reports whether id is still the live revision as of a
// snapshot timestamp. Search uses it to reject a candidate whose postings
// are still on disk (or in memory) but whose underlying document has since
// been overwritten or deleted after ts — the text index's own state lags
// the commit log slightly between a write landing and its postings being
// indexed, and the inverse can also happen around a flush boundary.
type RevisionChecker interface {
	IsLive(ctx context.Context, id document.ID, ts document.Timestamp) (bool, error)
}

// mergedDoc is one candidate document's matched-term state after folding
// together whichever of memory and the attached segments matched it.
// Memory always shadows a segment's copy of the same document, since memory
// holds every write since the segment was flushed.
type mergedDoc struct {
	terms   map[string]int
	length  int
	filters map[string]document.Value
}

// Searcher answers text search queries by merging the live MemoryIndex
// with every on-disk segment still attached to the index, through the
// shared ArchiveCache, and scoring the merged candidate set against one
// unified BM25 corpus statistic (document count, total length, and
// per-term document frequency summed across memory and every segment)
// rather than scoring each half independently and merging raw scores.
type Searcher struct {
	memory        *MemoryIndex
	archive       *ArchiveCache
	segmentKeys   SegmentKeysFunc
	maxCandidates int
	fuzzyDistance int
	checker       RevisionChecker
}

// NewSearcher builds a Searcher. checker may be nil, in which case Search
// skips the liveness-verification phase and returns whatever the text index
// itself believes is live.
func NewSearcher(memory *MemoryIndex, archive *ArchiveCache, segmentKeys SegmentKeysFunc, maxCandidates, fuzzyDistance int, checker RevisionChecker) *Searcher {
	return &Searcher{
		memory:        memory,
		archive:       archive,
		segmentKeys:   segmentKeys,
		maxCandidates: maxCandidates,
		fuzzyDistance: fuzzyDistance,
		checker:       checker,
	}
}

// Search runs query against the memory index and every attached segment,
// unifies their BM25 corpus statistics before scoring, verifies each
// surviving candidate is still the live revision as of ts, and returns the
// top `limit` by score. Fails with ferrors.Overloaded if the number of
// candidate documents found exceeds maxCandidates, rather than silently
// truncating.
func (s *Searcher) Search(ctx context.Context, query string, filters map[string]document.Value, ts document.Timestamp, limit int) ([]ScoredDoc, error) {
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	merged := make(map[document.ID]mergedDoc)
	docFreq := make(map[string]int)

	memCandidates, memDocFreq := s.memory.MatchCandidates(queryTerms, s.fuzzyDistance)
	for term, df := range memDocFreq {
		docFreq[term] += df
	}
	for id, c := range memCandidates {
		merged[id] = mergedDoc{terms: c.terms, length: c.length, filters: c.filters}
	}

	totalDocs, totalLength := s.memory.Stats()

	for _, key := range s.segmentKeys() {
		seg, err := s.archive.Get(key)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.Internal, err, "textindex: load segment %s", key)
		}
		totalDocs += seg.docCount()
		totalLength += seg.TotalLen

		segCandidates, segDocFreq := seg.MatchCandidates(queryTerms, s.fuzzyDistance)
		for term, df := range segDocFreq {
			docFreq[term] += df
		}
		for ordinal, tf := range segCandidates {
			id := seg.DocIDs[ordinal]
			if _, inMemory := merged[id]; inMemory {
				continue
			}
			merged[id] = mergedDoc{terms: tf, length: seg.DocLen[ordinal], filters: seg.Filters[ordinal]}
		}
	}

	if len(merged) > s.maxCandidates {
		metrics.SearchOverScanTotal.Inc()
		return nil, ferrors.New(ferrors.Overloaded, "text search scanned more than %d candidate documents", s.maxCandidates)
	}
	metrics.SearchScannedDocuments.Observe(float64(len(merged)))

	avgLen := 1.0
	if totalDocs > 0 && totalLength > 0 {
		avgLen = float64(totalLength) / float64(totalDocs)
	}

	results := make([]ScoredDoc, 0, len(merged))
	for id, doc := range merged {
		if !matchesFilters(doc.filters, filters) {
			continue
		}
		var score float64
		for term, tf := range doc.terms {
			idf := idfBM25(totalDocs, docFreq[term])
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*float64(doc.length)/avgLen)
			score += idf * (float64(tf) * (bm25K1 + 1)) / denom
		}
		if score > 0 {
			results = append(results, ScoredDoc{ID: id, Score: score})
		}
	}

	if s.checker != nil {
		live := results[:0]
		for _, r := range results {
			ok, err := s.checker.IsLive(ctx, r.ID, ts)
			if err != nil {
				return nil, ferrors.Wrap(ferrors.Internal, err, "textindex: verify candidate %s as of ts %d", r.ID, ts)
			}
			if ok {
				live = append(live, r)
			}
		}
		results = live
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return idLess(results[i].ID, results[j].ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
