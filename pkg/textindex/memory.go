package textindex

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/flux/pkg/document"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// docEntry is one document's indexed state: its term frequencies (for BM25
// scoring), its token count (for length normalization), the equality filter
// values recorded alongside it, and the timestamp it was last (re)indexed
// at, so a flush can truncate only the entries it actually covers.
type docEntry struct {
	termFreq map[string]int
	length   int
	filters  map[string]document.Value
	ts       document.Timestamp
}

// candidate is one document's matched-term state returned by
// MatchCandidates, before BM25 scoring: the caller folds it into a unified
// corpus statistic alongside whatever segments also matched.
type candidate struct {
	terms   map[string]int
	length  int
	filters map[string]document.Value
}

// ScoredDoc is one search result.
type ScoredDoc struct {
	ID    document.ID
	Score float64
}

// MemoryIndex is the mutable, in-process half of a text index: every
// document indexed since the last flush to an on-disk segment. Reads
// against it are always merged with the archive segments by a Searcher;
// MemoryIndex never touches storage itself.
type MemoryIndex struct {
	mu sync.RWMutex

	docs     map[document.ID]*docEntry
	postings map[string]map[document.ID]int // term -> docID -> termFreq, mirrors docs[id].termFreq for fast lookup

	totalLength int
	lastMutation document.Timestamp
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs:     make(map[document.ID]*docEntry),
		postings: make(map[string]map[document.ID]int),
	}
}

// Add (re)indexes a document. Calling Add for an id already present first
// removes its prior postings, so updates never leave stale term entries
// behind.
func (m *MemoryIndex) Add(ts document.Timestamp, id document.ID, text string, filters map[string]document.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)

	tokens := Tokenize(text)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	m.docs[id] = &docEntry{termFreq: tf, length: len(tokens), filters: filters, ts: ts}
	m.totalLength += len(tokens)
	for term, freq := range tf {
		if m.postings[term] == nil {
			m.postings[term] = make(map[document.ID]int)
		}
		m.postings[term][id] = freq
	}
	m.lastMutation = ts
}

// Remove deletes a document from the index.
func (m *MemoryIndex) Remove(ts document.Timestamp, id document.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeLocked(id) {
		m.lastMutation = ts
	}
}

func (m *MemoryIndex) removeLocked(id document.ID) bool {
	entry, ok := m.docs[id]
	if !ok {
		return false
	}
	for term := range entry.termFreq {
		delete(m.postings[term], id)
		if len(m.postings[term]) == 0 {
			delete(m.postings, term)
		}
	}
	m.totalLength -= entry.length
	delete(m.docs, id)
	return true
}

// IsEmptySince reports whether the index has had no mutation since ts — the
// flusher uses this to fast-forward an index's snapshot timestamp without
// writing an empty segment when nothing new has arrived to flush.
func (m *MemoryIndex) IsEmptySince(ts document.Timestamp) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs) == 0 || m.lastMutation <= ts
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// EstimateBytes is a coarse size estimate used to decide when to flush:
// each posting entry costs roughly 16 bytes (a document id plus an int),
// which is enough precision for a threshold check.
func (m *MemoryIndex) EstimateBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, postings := range m.postings {
		n += int64(len(postings)) * 16
	}
	return n
}

// Search runs a BM25 query over the in-memory postings, widened by prefix
// matching and, when fuzzyDistance > 0, by fuzzy matching, filtered to
// documents whose filter fields equal
// the requested values. scanned reports how many candidate documents were
// evaluated, for the caller's MAX_CANDIDATE_REVISIONS bookkeeping.
func (m *MemoryIndex) Search(query string, filters map[string]document.Value, fuzzyDistance int, limit int) (results []ScoredDoc, scanned int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 || len(m.docs) == 0 {
		return nil, 0
	}
	avgLen := float64(m.totalLength) / float64(len(m.docs))
	if avgLen == 0 {
		avgLen = 1
	}

	candidates := make(map[document.ID]bool)
	matchedTerms := make(map[document.ID][]string)
	for _, qt := range queryTerms {
		for term, postings := range m.postings {
			if term != qt && (fuzzyDistance <= 0 || !fuzzyMatch(qt, term, fuzzyDistance)) && !strings.HasPrefix(term, qt) {
				continue
			}
			for id := range postings {
				candidates[id] = true
				matchedTerms[id] = append(matchedTerms[id], term)
			}
		}
	}

	scores := make(map[document.ID]float64, len(candidates))
	for id := range candidates {
		scanned++
		entry := m.docs[id]
		if !matchesFilters(entry.filters, filters) {
			continue
		}
		var score float64
		for _, term := range matchedTerms[id] {
			df := len(m.postings[term])
			idf := idfBM25(len(m.docs), df)
			tf := float64(entry.termFreq[term])
			denom := tf + bm25K1*(1-bm25B+bm25B*float64(entry.length)/avgLen)
			score += idf * (tf * (bm25K1 + 1)) / denom
		}
		if score > 0 {
			scores[id] = score
		}
	}

	results = make([]ScoredDoc, 0, len(scores))
	for id, score := range scores {
		results = append(results, ScoredDoc{ID: id, Score: score})
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
	return results, scanned
}

// MatchCandidates finds every document matching queryTerms under the same
// exact/prefix/fuzzy rule Search applies, returning each match's per-term
// frequencies and this memory index's share of each matched term's document
// frequency. Unlike Search it does not score anything — a Searcher folds
// these counts together with every attached segment's MatchCandidates
// result before computing one unified BM25 weight per term.
func (m *MemoryIndex) MatchCandidates(queryTerms []string, fuzzyDistance int) (map[document.ID]candidate, map[string]int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matchedTerms := make(map[document.ID]map[string]bool)
	termDocFreq := make(map[string]int)
	for _, qt := range queryTerms {
		for term, postings := range m.postings {
			if term != qt && (fuzzyDistance <= 0 || !fuzzyMatch(qt, term, fuzzyDistance)) && !strings.HasPrefix(term, qt) {
				continue
			}
			if _, seen := termDocFreq[term]; !seen {
				termDocFreq[term] = len(postings)
			}
			for id := range postings {
				if matchedTerms[id] == nil {
					matchedTerms[id] = make(map[string]bool)
				}
				matchedTerms[id][term] = true
			}
		}
	}

	candidates := make(map[document.ID]candidate, len(matchedTerms))
	for id, terms := range matchedTerms {
		entry := m.docs[id]
		tf := make(map[string]int, len(terms))
		for term := range terms {
			tf[term] = entry.termFreq[term]
		}
		candidates[id] = candidate{terms: tf, length: entry.length, filters: entry.filters}
	}
	return candidates, termDocFreq
}

// Stats reports this memory index's document count and total token length,
// for folding into a Searcher's unified BM25 corpus statistics.
func (m *MemoryIndex) Stats() (docCount, totalLength int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), m.totalLength
}

// TruncateBelow drops every document last (re)indexed at or before t. A
// flush snapshots the memory index into a segment as of some timestamp T;
// only entries with ts <= T are covered by that snapshot; anything indexed
// after T arrived too late to be captured and must stay buffered in memory
// rather than be dropped outright.
func (m *MemoryIndex) TruncateBelow(t document.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.docs {
		if entry.ts > t {
			continue
		}
		for term := range entry.termFreq {
			delete(m.postings[term], id)
			if len(m.postings[term]) == 0 {
				delete(m.postings, term)
			}
		}
		m.totalLength -= entry.length
		delete(m.docs, id)
	}
}

func idfBM25(n, df int) float64 {
	if df == 0 {
		return 0
	}
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

func matchesFilters(docFilters, query map[string]document.Value) bool {
	for k, v := range query {
		dv, ok := docFilters[k]
		if !ok || document.Compare(dv, v) != 0 {
			return false
		}
	}
	return true
}

func idLess(a, b document.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
