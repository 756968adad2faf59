// Package api is the Go-level facade wiring the commit pipeline, the index
// registry, the subscription manager, and per-index text search together
// into the four primitives external collaborators need: begin, read/write
// inside a transaction, commit, and subscribe.
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/flux/pkg/committer"
	"github.com/cuemby/flux/pkg/config"
	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
	"github.com/cuemby/flux/pkg/log"
	"github.com/cuemby/flux/pkg/persistence"
	"github.com/cuemby/flux/pkg/registry"
	"github.com/cuemby/flux/pkg/retention"
	"github.com/cuemby/flux/pkg/schema"
	"github.com/cuemby/flux/pkg/subscriptions"
	"github.com/cuemby/flux/pkg/textindex"
	"github.com/cuemby/flux/pkg/txn"
	"github.com/cuemby/flux/pkg/workers"
)

// Database is one process's whole core: the durable log, the index
// registry, the committer serializing writes against both, the
// subscription manager the committer notifies, and the per-index text
// search state the committer's IndexProvider exposes to transactions.
type Database struct {
	cfg config.Config

	log        persistence.Persistence
	lease      *persistence.Lease
	reg        *registry.Registry
	indexes    *indexSet
	schemas    *schema.Registry
	subs       *subscriptions.Manager
	committer  *committer.Committer
	retention  *retention.Validator
	retentionW *retention.Worker
	pool       *workers.Pool
	ffRegistry *workers.FastForwardRegistry

	mu       sync.RWMutex
	search   map[document.IndexID]*textindex.Searcher
	memory   map[document.IndexID]*textindex.MemoryIndex
	archive  map[document.IndexID]*textindex.ArchiveCache
	flushers map[document.IndexID]*textindex.Flusher
	stores   map[document.IndexID]textindex.Store
}

// New wires a Database from cfg, opening (or creating) its durable log
// under cfg.DataDir.
func New(cfg config.Config) (*Database, error) {
	reg := registry.New()
	indexes := newIndexSet()
	schemas := schema.NewRegistry()
	subs := subscriptions.NewManager(indexes)

	validator := retention.NewValidator(document.Timestamp(cfg.Retention.Window.Seconds()))

	boltLog, err := persistence.OpenBolt(cfg.DataDir, validator.Floor)
	if err != nil {
		return nil, fmt.Errorf("api: open log: %w", err)
	}

	c := committer.New(boltLog, reg, indexes, schemas, subs)
	c.SetBackoff(cfg.Commit.OCCInitialBackoff, cfg.Commit.OCCMaxBackoff, cfg.Commit.OCCMaxRetries)

	retentionWorker := retention.NewWorker(validator, func() document.Timestamp { return c.LastCommittedTimestamp() }, 10*time.Second)
	retentionWorker.Start()

	pool := workers.NewPool(cfg.ThreadPool.Size, cfg.ThreadPool.QueueSize, cfg.ThreadPool.QueueTTL)

	db := &Database{
		cfg:        cfg,
		log:        boltLog,
		lease:      boltLog.Lease(),
		reg:        reg,
		indexes:    indexes,
		schemas:    schemas,
		subs:       subs,
		committer:  c,
		retention:  validator,
		retentionW: retentionWorker,
		pool:       pool,
		ffRegistry: workers.NewFastForwardRegistry(),
		search:     make(map[document.IndexID]*textindex.Searcher),
		memory:     make(map[document.IndexID]*textindex.MemoryIndex),
		archive:    make(map[document.IndexID]*textindex.ArchiveCache),
		flushers:   make(map[document.IndexID]*textindex.Flusher),
		stores:     make(map[document.IndexID]textindex.Store),
	}
	return db, nil
}

// Begin opens a transaction reading a snapshot at the log's latest
// committed timestamp.
func (d *Database) Begin(ctx context.Context, tablet document.TabletID) *txn.Transaction {
	ts := d.committer.LastCommittedTimestamp()
	reader := &snapshotReader{ctx: ctx, log: d.log, snap: d.reg.Snapshot(ts), ts: ts, indexes: d.indexes}
	return txn.New(tablet, ts, reader)
}

// Commit runs tx's accumulated reads and writes through the commit
// pipeline once, with no retry on an OCC conflict. Database does not expose
// its Committer, so committer.CommitWithRetry is not reachable through it.
func (d *Database) Commit(ctx context.Context, tx *txn.Transaction) (document.Timestamp, error) {
	return d.committer.Commit(ctx, tx.IntoToken())
}

// Subscribe registers tx's read set for invalidation notification. The
// transaction should not have committed any writes of its own — subscribing
// a pure read transaction's read set is the intended use.
func (d *Database) Subscribe(tx *txn.Transaction) *subscriptions.Subscription {
	token := tx.IntoToken()
	return d.subs.Subscribe(token.Tablet, token.PointReads, token.RangeReads, token.TextReads)
}

// Unsubscribe stops tracking a subscription for invalidation.
func (d *Database) Unsubscribe(sub *subscriptions.Subscription) {
	d.subs.Unsubscribe(sub)
}

// SetSchema installs a schema check for a tablet, enforced on every write to
// it from the next commit onward.
func (d *Database) SetSchema(tablet document.TabletID, s schema.TableSchema) {
	d.schemas.Set(tablet, s)
}

// CreateDatabaseIndex registers a new ordered-field index, starting in
// Backfilling state. The caller is responsible for driving the backfill
// (scanning existing documents and populating the registry) before the
// index is switched to Enabled through indexSet.SetState; Database has no
// exported method for that transition, and this core does not implement a
// backfill scanner itself.
func (d *Database) CreateDatabaseIndex(tablet document.TabletID, name string, fields [][]string) (document.IndexDefinition, error) {
	def := document.IndexDefinition{
		ID:     document.IndexID(document.NewID()),
		Name:   name,
		Tablet: tablet,
		Kind:   document.DatabaseIndexKind,
		Fields: fields,
	}
	if err := d.indexes.Add(def); err != nil {
		return document.IndexDefinition{}, err
	}
	return def, nil
}

// CreateTextIndex registers a new text index and wires its memory index,
// archive cache, searcher, and fast-forward worker. It starts Enabled
// immediately — unlike a database index, an empty text index needs no
// backfill to be queryable, it's simply empty until writes arrive.
func (d *Database) CreateTextIndex(tablet document.TabletID, name string, searchField []string, filterFields [][]string) (document.IndexDefinition, error) {
	id := document.IndexID(document.NewID())
	def := document.IndexDefinition{
		ID:           id,
		Name:         name,
		Tablet:       tablet,
		Kind:         document.TextIndexKind,
		State:        document.Enabled,
		SearchField:  searchField,
		FilterFields: filterFields,
		OnDisk:       &document.OnDiskIndexState{},
	}
	if err := d.indexes.Add(def); err != nil {
		return document.IndexDefinition{}, err
	}
	if err := d.indexes.SetState(id, document.Enabled); err != nil {
		return document.IndexDefinition{}, err
	}

	memory := textindex.NewMemoryIndex()
	store := textindex.NewMemStore()
	archive, err := textindex.NewArchiveCache(store, name, int(d.cfg.Search.ArchiveCacheSizeBytes/(64<<10)+1))
	if err != nil {
		return document.IndexDefinition{}, fmt.Errorf("api: new archive cache for %s: %w", name, err)
	}
	segmentKeys := func() []string {
		current, ok := d.indexes.Get(id)
		if !ok || current.OnDisk == nil {
			return nil
		}
		return current.OnDisk.SegmentKeys
	}
	searcher := textindex.NewSearcher(memory, archive, segmentKeys, d.cfg.Search.MaxCandidateRevisions, 2, logRevisionChecker{log: d.log, tablet: tablet})

	flusher := textindex.NewFlusher(id, memory, archive, onDiskSink{d.indexes}, document.OnDiskIndexState{}, d.cfg.Search.MemoryFlushThresholdBytes)
	w := textindex.NewWorker(flusher, archive, store, d.cfg.Search.FastForwardWindow, d.cfg.Search.CompactionInterval, func() document.Timestamp { return d.committer.LastCommittedTimestamp() })

	d.mu.Lock()
	d.memory[id] = memory
	d.archive[id] = archive
	d.search[id] = searcher
	d.flushers[id] = flusher
	d.stores[id] = store
	d.mu.Unlock()

	d.ffRegistry.Register(id, w)

	log.WithIndexID(id.String()).Info("text index created")
	return def, nil
}

// IndexDocument feeds a text index's memory structure directly, bypassing
// the commit pipeline. No Notifier in this package feeds committed writes
// to text indexes, so callers invoke it themselves once they have a
// committed timestamp.
func (d *Database) IndexDocument(id document.IndexID, ts document.Timestamp, docID document.ID, text string, filters map[string]document.Value) error {
	d.mu.RLock()
	memory, ok := d.memory[id]
	d.mu.RUnlock()
	if !ok {
		return ferrors.New(ferrors.NotFound, "text index %s not found", id)
	}
	memory.Add(ts, docID, text, filters)
	return nil
}

// Search runs a query against a text index, answered as of snapshot
// timestamp ts: a candidate whose document is no longer the live revision
// at ts is rejected even if the text index's own postings still list it.
func (d *Database) Search(ctx context.Context, id document.IndexID, query string, filters map[string]document.Value, ts document.Timestamp, limit int) ([]textindex.ScoredDoc, error) {
	d.mu.RLock()
	searcher, ok := d.search[id]
	d.mu.RUnlock()
	if !ok {
		return nil, ferrors.New(ferrors.NotFound, "text index %s not found", id)
	}
	return searcher.Search(ctx, query, filters, ts, limit)
}

// logRevisionChecker adapts the persistence log into a
// textindex.RevisionChecker, letting Search confirm a candidate document is
// still the tablet's live revision as of a snapshot timestamp rather than
// trusting the text index's own (slightly lagging) postings.
type logRevisionChecker struct {
	log    persistence.Persistence
	tablet document.TabletID
}

func (c logRevisionChecker) IsLive(ctx context.Context, id document.ID, ts document.Timestamp) (bool, error) {
	rev, ok, err := c.log.Get(ctx, c.tablet, id, ts)
	if err != nil {
		return false, err
	}
	return ok && !rev.Tombstone, nil
}

// CompactTextIndex runs one compaction pass over id's on-disk segments
// immediately, merging them and dropping deleted entries, rather than
// waiting for the background worker's next tick.
func (d *Database) CompactTextIndex(id document.IndexID) error {
	d.mu.RLock()
	flusher, ok := d.flushers[id]
	archive := d.archive[id]
	store := d.stores[id]
	d.mu.RUnlock()
	if !ok {
		return ferrors.New(ferrors.NotFound, "text index %s not found", id)
	}
	return flusher.Compact(archive, store)
}

// CompactAllTextIndices runs CompactTextIndex over every registered text
// index, collecting (not stopping on) individual failures.
func (d *Database) CompactAllTextIndices() error {
	d.mu.RLock()
	ids := make([]document.IndexID, 0, len(d.flushers))
	for id := range d.flushers {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := d.CompactTextIndex(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Pool exposes the bounded thread pool backing search and backfill work,
// so callers can bound their own blocking calls the same way.
func (d *Database) Pool() *workers.Pool { return d.pool }

// Lease exposes the commit lease so the admin surface can report health
// that tracks whether this process still holds single-writer status.
func (d *Database) Lease() *persistence.Lease { return d.lease }

// Close stops every background worker and closes the durable log.
func (d *Database) Close() error {
	d.retentionW.Stop()
	d.ffRegistry.StopAll()
	d.pool.Close()
	return d.log.Close()
}

// onDiskSink adapts indexSet to textindex.IndexSnapshotSink.
type onDiskSink struct {
	set *indexSet
}

func (s onDiskSink) UpdateOnDisk(id document.IndexID, state document.OnDiskIndexState) {
	_ = s.set.SetOnDisk(id, state)
}
