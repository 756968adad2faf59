// Package committer is the single-writer commit pipeline: every
// transaction token passes through Check (optimistic conflict detection
// against concurrent commits), Append (durable log write), Publish (index
// registry update), and Notify (subscription invalidation), in that order
// and fully serialized by one mutex. No step after Check is allowed to
// fail for a reason the caller could retry around — once a batch is
// appended it is committed.
package committer

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
	"github.com/cuemby/flux/pkg/metrics"
	"github.com/cuemby/flux/pkg/persistence"
	"github.com/cuemby/flux/pkg/registry"
	"github.com/cuemby/flux/pkg/txn"
)

// IndexProvider reports the live database index definitions for a tablet,
// so Publish knows which index trees a write touches.
type IndexProvider interface {
	Indexes(tablet document.TabletID) []document.IndexDefinition
}

// SchemaChecker optionally validates a document's shape before it commits.
// A nil SchemaChecker skips validation entirely.
type SchemaChecker interface {
	Validate(tablet document.TabletID, value document.Value) error
}

// Notifier is told about every committed write, plus the index keys the
// commit touched, so subscriptions can be invalidated. Notify must not
// block the commit path for long; slow subscribers should be handled
// asynchronously by the implementation.
type Notifier interface {
	Notify(ts document.Timestamp, tablet document.TabletID, writes []txn.Write, touchedIndexKeys map[document.IndexID][]document.IndexKey)
}

type commitRecord struct {
	ts               document.Timestamp
	tablet           document.TabletID
	writtenIDs       map[document.ID]bool
	touchedIndexKeys map[document.IndexID][]document.IndexKey
}

// Committer serializes every commit through a single mutex, matching the
// single-writer discipline the persistence lease already enforces at the
// log level.
type Committer struct {
	mu sync.Mutex

	log       persistence.Persistence
	registry  *registry.Registry
	indexes   IndexProvider
	schema    SchemaChecker
	notifier  Notifier

	nextTs  document.Timestamp
	history []commitRecord // append-only, pruned by PruneHistoryBelow

	backoff backoffPolicy
}

type backoffPolicy struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int
}

// New builds a Committer starting from the log's last committed timestamp.
// indexes and schema may be nil (schema skips validation; indexes leaves
// Publish a no-op, useful before any index exists).
func New(log persistence.Persistence, reg *registry.Registry, indexes IndexProvider, schema SchemaChecker, notifier Notifier) *Committer {
	return &Committer{
		log:      log,
		registry: reg,
		indexes:  indexes,
		schema:   schema,
		notifier: notifier,
		nextTs:   log.LastCommittedTimestamp() + 1,
		backoff: backoffPolicy{
			initial:    10 * time.Millisecond,
			max:        30 * time.Second,
			maxRetries: 8,
		},
	}
}

// SetBackoff overrides the OCC retry policy used by CommitWithRetry.
func (c *Committer) SetBackoff(initial, max time.Duration, maxRetries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff = backoffPolicy{initial: initial, max: max, maxRetries: maxRetries}
}

// Commit runs the full Check/Append/Publish/Notify pipeline once. Returns
// ferrors.OCC if the transaction's read set conflicts with a commit that
// happened after it took its snapshot; callers that want automatic retry
// should use CommitWithRetry instead.
func (c *Committer) Commit(ctx context.Context, token txn.Token) (document.Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked(ctx, token)
}

// CommitWithRetry retries Commit on ferrors.OCC with exponential backoff,
// re-running rebuild to produce a fresh token against the latest snapshot
// each time. rebuild returns ferrors.BadRequest (or any non-OCC error) to
// abort retrying immediately.
func (c *Committer) CommitWithRetry(ctx context.Context, rebuild func(ctx context.Context) (txn.Token, error)) (document.Timestamp, error) {
	c.mu.Lock()
	policy := c.backoff
	c.mu.Unlock()

	wait := policy.initial
	for attempt := 0; ; attempt++ {
		token, err := rebuild(ctx)
		if err != nil {
			return 0, err
		}
		ts, err := c.Commit(ctx, token)
		if err == nil {
			return ts, nil
		}
		if !ferrors.Retryable(err) || attempt >= policy.maxRetries {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > policy.max {
			wait = policy.max
		}
	}
}

func (c *Committer) commitLocked(ctx context.Context, token txn.Token) (document.Timestamp, error) {
	if err := c.check(token); err != nil {
		metrics.CommitsTotal.WithLabelValues("occ").Inc()
		return 0, err
	}

	if c.schema != nil {
		for _, w := range token.Writes {
			if w.Tombstone {
				continue
			}
			if err := c.schema.Validate(token.Tablet, w.Value); err != nil {
				metrics.CommitsTotal.WithLabelValues("schema_error").Inc()
				return 0, err
			}
		}
	}

	start := time.Now()
	ts := c.nextTs

	revisions := make([]document.Revision, len(token.Writes))
	for i, w := range token.Writes {
		revisions[i] = document.Revision{Tablet: token.Tablet, ID: w.ID, Ts: ts, Tombstone: w.Tombstone, Value: w.Value}
	}

	if err := c.log.Append(ctx, persistence.Batch{Ts: ts, Revisions: revisions}); err != nil {
		metrics.CommitsTotal.WithLabelValues("persistence_error").Inc()
		return 0, err
	}
	c.nextTs = ts + 1

	touched := c.publish(ctx, ts, token)
	c.recordHistory(ts, token, touched)

	if c.notifier != nil {
		c.notifier.Notify(ts, token.Tablet, token.Writes, touched)
	}

	metrics.CommitsTotal.WithLabelValues("ok").Inc()
	metrics.CommitLatencySeconds.Observe(time.Since(start).Seconds())
	metrics.LastCommittedTimestamp.Set(float64(ts))
	return ts, nil
}

// check rejects the commit with ferrors.OCC if any commit strictly after
// token.Ts touched a document this transaction read, or inserted/removed
// an index entry within a range this transaction scanned.
func (c *Committer) check(token txn.Token) error {
	for _, rec := range c.history {
		if rec.ts <= token.Ts || rec.tablet != token.Tablet {
			continue
		}
		for _, pr := range token.PointReads {
			if rec.writtenIDs[pr.ID] {
				return ferrors.New(ferrors.OCC, "document %s was written by a concurrent commit at ts %d", pr.ID, rec.ts)
			}
		}
		for _, rr := range token.RangeReads {
			keys, ok := rec.touchedIndexKeys[rr.Index]
			if !ok {
				continue
			}
			for _, k := range keys {
				if keyInRange(k, rr.Low, rr.High) {
					return ferrors.New(ferrors.OCC, "index range was modified by a concurrent commit at ts %d", rec.ts)
				}
			}
		}
	}
	return nil
}

func keyInRange(k, low, high document.IndexKey) bool {
	if document.CompareKeys(k, low, document.ID{}, document.ID{}) < 0 {
		return false
	}
	if high != nil && document.CompareKeys(k, high, document.ID{}, document.ID{}) >= 0 {
		return false
	}
	return true
}

// publish applies the commit's writes to the index registry, diffing each
// write against the document's previous revision so stale index entries
// get removed as well as new ones inserted. Returns the index keys touched,
// for the conflict-check history.
func (c *Committer) publish(ctx context.Context, ts document.Timestamp, token txn.Token) map[document.IndexID][]document.IndexKey {
	touched := make(map[document.IndexID][]document.IndexKey)
	if c.indexes == nil || c.registry == nil {
		return touched
	}
	defs := c.indexes.Indexes(token.Tablet)
	if len(defs) == 0 {
		return touched
	}

	mutations := make(map[document.IndexID]registry.Mutation, len(defs))
	for _, w := range token.Writes {
		prev, hasPrev, _ := c.log.Get(ctx, token.Tablet, w.ID, ts-1)

		for _, def := range defs {
			if def.Kind != document.DatabaseIndexKind || def.State != document.Enabled {
				continue
			}
			m := mutations[def.ID]
			if hasPrev && !prev.Tombstone {
				oldKey := document.IndexKeyOf(def, prev.Document(0, 0))
				m.Remove = append(m.Remove, registry.Entry{Key: oldKey, DocID: w.ID})
				touched[def.ID] = append(touched[def.ID], oldKey)
			}
			if !w.Tombstone {
				newKey := document.IndexKeyOf(def, document.Document{ID: w.ID, Tablet: token.Tablet, Value: w.Value})
				m.Insert = append(m.Insert, registry.Entry{Key: newKey, DocID: w.ID})
				touched[def.ID] = append(touched[def.ID], newKey)
			}
			mutations[def.ID] = m
		}
	}
	c.registry.Apply(ts, mutations)
	return touched
}

func (c *Committer) recordHistory(ts document.Timestamp, token txn.Token, touched map[document.IndexID][]document.IndexKey) {
	written := make(map[document.ID]bool, len(token.Writes))
	for _, w := range token.Writes {
		written[w.ID] = true
	}
	c.history = append(c.history, commitRecord{
		ts:               ts,
		tablet:           token.Tablet,
		writtenIDs:       written,
		touchedIndexKeys: touched,
	})
}

// PruneHistoryBelow drops conflict-check history older than floor. Safe to
// call concurrently with Commit; it only ever shrinks the retained window.
func (c *Committer) PruneHistoryBelow(floor document.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := 0
	for i < len(c.history) && c.history[i].ts < floor {
		i++
	}
	c.history = c.history[i:]
}

// LastCommittedTimestamp reports the most recent timestamp this Committer
// has assigned, for metrics and for readers picking a snapshot.
func (c *Committer) LastCommittedTimestamp() document.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextTs - 1
}
