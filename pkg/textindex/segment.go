package textindex

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/metrics"
)

// Segment is an immutable, flushed slice of a text index: the postings and
// document lengths as of the flush, plus a roaring bitmap of ordinals that
// have since been superseded or deleted. Segments are never mutated after
// creation — a later flush that touches one of a segment's documents marks
// it deleted here and re-indexes it into the newest segment instead.
type Segment struct {
	Key      string
	Postings map[string]map[uint32]int // term -> ordinal -> term frequency
	DocIDs   []document.ID             // ordinal -> document id
	DocLen   []int                     // ordinal -> token count
	Filters  []map[string]document.Value // ordinal -> equality filter values
	Deleted  *roaring.Bitmap
	TotalLen int
}

// BuildSegment snapshots a MemoryIndex into an immutable Segment, assigning
// each live document a dense ordinal.
func BuildSegment(key string, idx *MemoryIndex) *Segment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seg := &Segment{
		Key:      key,
		Postings: make(map[string]map[uint32]int, len(idx.postings)),
		DocIDs:   make([]document.ID, 0, len(idx.docs)),
		DocLen:   make([]int, 0, len(idx.docs)),
		Filters:  make([]map[string]document.Value, 0, len(idx.docs)),
		Deleted:  roaring.New(),
		TotalLen: idx.totalLength,
	}

	ordinal := make(map[document.ID]uint32, len(idx.docs))
	for id, entry := range idx.docs {
		ordinal[id] = uint32(len(seg.DocIDs))
		seg.DocIDs = append(seg.DocIDs, id)
		seg.DocLen = append(seg.DocLen, entry.length)
		seg.Filters = append(seg.Filters, entry.filters)
	}
	for term, postings := range idx.postings {
		byOrdinal := make(map[uint32]int, len(postings))
		for id, freq := range postings {
			byOrdinal[ordinal[id]] = freq
		}
		seg.Postings[term] = byOrdinal
	}
	return seg
}

// docCount is the number of live (non-deleted) documents in the segment.
func (s *Segment) docCount() int {
	return len(s.DocIDs) - int(s.Deleted.GetCardinality())
}

// MatchCandidates finds every live ordinal matching queryTerms under the
// same exact/prefix/fuzzy rule Search applies, returning each match's
// per-term frequencies and this segment's share of each matched term's live
// document frequency, mirroring MemoryIndex.MatchCandidates so a Searcher
// can unify memory and on-disk statistics before scoring.
func (s *Segment) MatchCandidates(queryTerms []string, fuzzyDistance int) (map[uint32]map[string]int, map[string]int) {
	matchedTerms := make(map[uint32]map[string]bool)
	termDocFreq := make(map[string]int)
	for _, qt := range queryTerms {
		for term, postings := range s.Postings {
			if term != qt && (fuzzyDistance <= 0 || !fuzzyMatch(qt, term, fuzzyDistance)) && !strings.HasPrefix(term, qt) {
				continue
			}
			live := 0
			for ordinal := range postings {
				if s.Deleted.Contains(ordinal) {
					continue
				}
				live++
				if matchedTerms[ordinal] == nil {
					matchedTerms[ordinal] = make(map[string]bool)
				}
				matchedTerms[ordinal][term] = true
			}
			if _, seen := termDocFreq[term]; !seen {
				termDocFreq[term] = live
			}
		}
	}

	candidates := make(map[uint32]map[string]int, len(matchedTerms))
	for ordinal, terms := range matchedTerms {
		tf := make(map[string]int, len(terms))
		for term := range terms {
			tf[term] = s.Postings[term][ordinal]
		}
		candidates[ordinal] = tf
	}
	return candidates, termDocFreq
}

// MarkDeleted flags ordinal as superseded; it stays in DocIDs/DocLen/
// Postings (segments are immutable) but is skipped by Search and excluded
// from docCount, and compaction drops it the next time segments merge.
func (s *Segment) MarkDeleted(ordinal uint32) {
	s.Deleted.Add(ordinal)
}

// Store persists built segments under an opaque key. Flusher owns
// the lifecycle of segment keys it writes; Store only needs to round-trip
// them.
type Store interface {
	Put(key string, seg *Segment) error
	Get(key string) (*Segment, error)
	Delete(key string) error
}

// MemStore is an in-memory Store, used by tests and by deployments small
// enough that the archive never needs to survive a restart beyond the
// commit log's own replay.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]*Segment
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]*Segment)}
}

func (s *MemStore) Put(key string, seg *Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = seg
	return nil
}

func (s *MemStore) Get(key string) (*Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("textindex: segment %q not found", key)
	}
	return seg, nil
}

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ArchiveCache fronts a Store with a bounded LRU of decoded segments, so a
// hot segment doesn't get re-fetched (and, against a real backing store,
// re-deserialized) on every query.
type ArchiveCache struct {
	store     Store
	cache     *lru.Cache
	indexName string
	sizeBytes int64
}

// segmentByteEstimate mirrors MemoryIndex.EstimateBytes's per-posting cost.
func segmentByteEstimate(seg *Segment) int64 {
	var n int64
	for _, postings := range seg.Postings {
		n += int64(len(postings)) * 16
	}
	return n
}

func NewArchiveCache(store Store, indexName string, maxSegments int) (*ArchiveCache, error) {
	c, err := lru.New(maxSegments)
	if err != nil {
		return nil, fmt.Errorf("textindex: new archive cache: %w", err)
	}
	return &ArchiveCache{store: store, cache: c, indexName: indexName}, nil
}

func (a *ArchiveCache) Get(key string) (*Segment, error) {
	if v, ok := a.cache.Get(key); ok {
		return v.(*Segment), nil
	}
	seg, err := a.store.Get(key)
	if err != nil {
		return nil, err
	}
	if evicted := a.cache.Add(key, seg); evicted {
		metrics.ArchiveCacheEvictionsTotal.Inc()
	}
	atomic.AddInt64(&a.sizeBytes, segmentByteEstimate(seg))
	metrics.ArchiveCacheBytes.WithLabelValues(a.indexName).Set(float64(atomic.LoadInt64(&a.sizeBytes)))
	return seg, nil
}

func (a *ArchiveCache) Put(key string, seg *Segment) error {
	if err := a.store.Put(key, seg); err != nil {
		return err
	}
	a.cache.Add(key, seg)
	return nil
}
