package textindex

import (
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/metrics"
)

// IndexSnapshotSink receives an index's updated on-disk snapshot state
// after a flush or fast-forward, so the caller can persist the new
// IndexDefinition.OnDisk through the normal commit path.
type IndexSnapshotSink interface {
	UpdateOnDisk(indexID document.IndexID, state document.OnDiskIndexState)
}

// Flusher periodically moves an index's MemoryIndex into a new on-disk
// Segment once it grows past a size threshold, and compacts existing
// segments together once enough of them have accumulated deleted entries.
//
// CORRECTION: an earlier version of this flush loop always wrote a new
// segment on every tick, even when MemoryIndex had seen no mutation since
// the index's current snapshot timestamp — for a quiet index that produces
// an unbounded number of empty segments over time. FastForward now checks
// MemoryIndex.IsEmptySince(current) first and, when true, only advances
// SnapshotTs without writing anything.
type Flusher struct {
	indexID     document.IndexID
	memory      *MemoryIndex
	archive     *ArchiveCache
	sink        IndexSnapshotSink
	current     document.OnDiskIndexState
	threshold   int64
	nextSegment int

	mu sync.Mutex
}

func NewFlusher(indexID document.IndexID, memory *MemoryIndex, archive *ArchiveCache, sink IndexSnapshotSink, initial document.OnDiskIndexState, flushThresholdBytes int64) *Flusher {
	return &Flusher{
		indexID:   indexID,
		memory:    memory,
		archive:   archive,
		sink:      sink,
		current:   initial,
		threshold: flushThresholdBytes,
	}
}

// FastForward bumps the index's snapshot timestamp to now in place when
// MemoryIndex holds no mutation since the current snapshot. Otherwise it
// flushes MemoryIndex into a new segment if it has grown past the flush
// threshold, and below the threshold leaves both MemoryIndex and SnapshotTs
// unchanged.
func (f *Flusher) FastForward(now document.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.memory.IsEmptySince(f.current.SnapshotTs) {
		f.current.SnapshotTs = now
		f.sink.UpdateOnDisk(f.indexID, f.current)
		metrics.FlushesTotal.WithLabelValues("fast_forward").Inc()
		return nil
	}

	if f.memory.EstimateBytes() < f.threshold {
		// Below the flush threshold and there was a mutation since the
		// last snapshot: leave it buffered in memory rather than writing
		// a small segment.
		return nil
	}
	return f.flushLocked(now)
}

// Flush unconditionally writes MemoryIndex into a new segment, regardless
// of size, and clears it. Used when the threshold check in FastForward
// should be bypassed (e.g. on clean shutdown).
func (f *Flusher) Flush(now document.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked(now)
}

func (f *Flusher) flushLocked(now document.Timestamp) error {
	if f.memory.DocCount() == 0 {
		f.current.SnapshotTs = now
		f.sink.UpdateOnDisk(f.indexID, f.current)
		return nil
	}

	key := fmt.Sprintf("%x-%d", f.indexID, f.nextSegment)
	f.nextSegment++
	seg := BuildSegment(key, f.memory)
	if err := f.archive.Put(key, seg); err != nil {
		return fmt.Errorf("textindex: flush segment %s: %w", key, err)
	}

	// BuildSegment only snapshots entries present at the moment it ran; a
	// write that landed in memory after that point (while the segment was
	// being written) must survive the truncate rather than being dropped
	// along with what the segment already covers.
	f.memory.TruncateBelow(now)

	f.current.SnapshotTs = now
	f.current.SnapshotVersion++
	f.current.SegmentKeys = append(append([]string(nil), f.current.SegmentKeys...), key)
	f.sink.UpdateOnDisk(f.indexID, f.current)

	metrics.FlushesTotal.WithLabelValues("flush").Inc()
	return nil
}

// Compact merges every live entry across the index's current segments into
// one new segment, dropping deleted ordinals for good, then replaces the
// old segment keys with the single compacted one.
func (f *Flusher) Compact(archive *ArchiveCache, store Store) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.current.SegmentKeys) < 2 {
		return nil
	}

	merged := &Segment{
		Key:      fmt.Sprintf("%x-compacted-%d", f.indexID, f.nextSegment),
		Postings: make(map[string]map[uint32]int),
	}
	f.nextSegment++

	for _, key := range f.current.SegmentKeys {
		seg, err := archive.Get(key)
		if err != nil {
			return fmt.Errorf("textindex: compact: load segment %s: %w", key, err)
		}
		for ordinal, id := range seg.DocIDs {
			if seg.Deleted.Contains(uint32(ordinal)) {
				continue
			}
			newOrdinal := uint32(len(merged.DocIDs))
			merged.DocIDs = append(merged.DocIDs, id)
			merged.DocLen = append(merged.DocLen, seg.DocLen[ordinal])
			merged.Filters = append(merged.Filters, seg.Filters[ordinal])
			merged.TotalLen += seg.DocLen[ordinal]
			for term, postings := range seg.Postings {
				if tf, ok := postings[uint32(ordinal)]; ok {
					if merged.Postings[term] == nil {
						merged.Postings[term] = make(map[uint32]int)
					}
					merged.Postings[term][newOrdinal] = tf
				}
			}
		}
	}
	merged.Deleted = roaring.New()

	if err := archive.Put(merged.Key, merged); err != nil {
		return fmt.Errorf("textindex: compact: store merged segment: %w", err)
	}
	for _, key := range f.current.SegmentKeys {
		_ = store.Delete(key)
	}
	f.current.SegmentKeys = []string{merged.Key}
	f.current.SnapshotVersion++
	f.sink.UpdateOnDisk(f.indexID, f.current)
	metrics.CompactionsTotal.Inc()
	return nil
}

// Worker drives FastForward/Compact on a ticker, matching the
// interval-based maintenance loops used elsewhere in this codebase.
type Worker struct {
	flusher           *Flusher
	archive           *ArchiveCache
	store             Store
	fastForwardEvery  time.Duration
	compactEvery      time.Duration
	nowFunc           func() document.Timestamp
	stopCh            chan struct{}
}

func NewWorker(flusher *Flusher, archive *ArchiveCache, store Store, fastForwardEvery, compactEvery time.Duration, nowFunc func() document.Timestamp) *Worker {
	return &Worker{
		flusher:          flusher,
		archive:          archive,
		store:            store,
		fastForwardEvery: fastForwardEvery,
		compactEvery:     compactEvery,
		nowFunc:          nowFunc,
		stopCh:           make(chan struct{}),
	}
}

func (w *Worker) Start() {
	ffTicker := time.NewTicker(w.fastForwardEvery)
	compactTicker := time.NewTicker(w.compactEvery)
	go func() {
		defer ffTicker.Stop()
		defer compactTicker.Stop()
		for {
			select {
			case <-ffTicker.C:
				_ = w.flusher.FastForward(w.nowFunc())
			case <-compactTicker.C:
				_ = w.flusher.Compact(w.archive, w.store)
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *Worker) Stop() { close(w.stopCh) }
