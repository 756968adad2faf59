package persistence

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/cuemby/flux/pkg/document"
	"github.com/cuemby/flux/pkg/ferrors"
	bolt "go.etcd.io/bbolt"
)

// BoltPersistence is the durable Persistence implementation: a bbolt file
// holding two independent indexes over the same revisions, one keyed by id
// descending by timestamp and one keyed by timestamp, plus a small meta
// bucket for lease and watermark state.
type BoltPersistence struct {
	db          *bolt.DB
	lease       *Lease
	retentionFn RetentionFloorFunc
}

var (
	bucketLogByTs  = []byte("log_by_ts")  // ts(8) + seq(4) -> revision
	bucketLogByKey = []byte("log_by_key") // tablet(16)+id(16)+~ts(8) -> revision
	bucketMeta     = []byte("meta")
)

const metaKeyLeaseGeneration = "lease_generation"
const metaKeyLastCommittedTs = "last_committed_ts"

// OpenBolt opens (creating if needed) the log file at <dataDir>/log.db and
// returns a BoltPersistence holding a Lease at generation+1 — every open
// bumps the persisted generation so a previous holder of the same lease is
// fenced out on its next append.
func OpenBolt(dataDir string, retentionFn RetentionFloorFunc) (*BoltPersistence, error) {
	dbPath := filepath.Join(dataDir, "log.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", dbPath, err)
	}

	var generation uint64
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLogByTs, bucketLogByKey, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get([]byte(metaKeyLeaseGeneration)); v != nil {
			generation = binary.BigEndian.Uint64(v)
		}
		generation++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], generation)
		return meta.Put([]byte(metaKeyLeaseGeneration), buf[:])
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if retentionFn == nil {
		retentionFn = func() document.Timestamp { return 0 }
	}
	return &BoltPersistence{db: db, lease: NewLease(generation), retentionFn: retentionFn}, nil
}

func (p *BoltPersistence) Lease() *Lease { return p.lease }

func (p *BoltPersistence) Close() error { return p.db.Close() }

func invertTs(ts document.Timestamp) uint64 { return ^uint64(ts) }

func byKeyPrefix(tablet document.TabletID, id document.ID) []byte {
	key := make([]byte, 32)
	copy(key[0:16], tablet[:])
	copy(key[16:32], id[:])
	return key
}

func byKeyKey(tablet document.TabletID, id document.ID, ts document.Timestamp) []byte {
	key := make([]byte, 40)
	copy(key[0:16], tablet[:])
	copy(key[16:32], id[:])
	binary.BigEndian.PutUint64(key[32:40], invertTs(ts))
	return key
}

func byTsKey(ts document.Timestamp, seq uint32) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts))
	binary.BigEndian.PutUint32(key[8:12], seq)
	return key
}

func (p *BoltPersistence) Append(ctx context.Context, batch Batch) error {
	if err := p.lease.Check(); err != nil {
		return err
	}
	err := p.db.Update(func(tx *bolt.Tx) error {
		byTs := tx.Bucket(bucketLogByTs)
		byKey := tx.Bucket(bucketLogByKey)
		meta := tx.Bucket(bucketMeta)

		if v := meta.Get([]byte(metaKeyLeaseGeneration)); v != nil {
			if observed := binary.BigEndian.Uint64(v); observed > p.lease.Generation() {
				p.lease.Fence(observed)
				return p.lease.Check()
			}
		}

		for seq, r := range batch.Revisions {
			r.Ts = batch.Ts
			data := document.EncodeRevision(r)
			if err := byTs.Put(byTsKey(batch.Ts, uint32(seq)), data); err != nil {
				return err
			}
			if err := byKey.Put(byKeyKey(r.Tablet, r.ID, batch.Ts), data); err != nil {
				return err
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(batch.Ts))
		return meta.Put([]byte(metaKeyLastCommittedTs), buf[:])
	})
	if err != nil {
		if p.lease.Lost() {
			return p.lease.Check()
		}
		return ferrors.Wrap(ferrors.Internal, err, "persistence: append batch at ts %d", batch.Ts)
	}
	return nil
}

func (p *BoltPersistence) LastCommittedTimestamp() document.Timestamp {
	var ts document.Timestamp
	_ = p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(metaKeyLastCommittedTs))
		if v != nil {
			ts = document.Timestamp(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return ts
}

func (p *BoltPersistence) Get(ctx context.Context, tablet document.TabletID, id document.ID, atMostTs document.Timestamp) (document.Revision, bool, error) {
	if atMostTs < p.retentionFn() {
		return document.Revision{}, false, ferrors.New(ferrors.OutOfRetention, "snapshot %d is older than the retention floor", atMostTs)
	}

	var (
		found bool
		rev   document.Revision
	)
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogByKey).Cursor()
		prefix := byKeyPrefix(tablet, id)
		// Keys within a (tablet,id) prefix are ordered by inverted timestamp,
		// so the first key at or after seekKey is the newest revision at or
		// before atMostTs.
		k, v := c.Seek(byKeyKey(tablet, id, atMostTs))
		if k != nil && hasPrefix(k, prefix) {
			r, err := document.DecodeRevision(v)
			if err != nil {
				return err
			}
			rev, found = r, true
		}
		return nil
	})
	if err != nil {
		return document.Revision{}, false, ferrors.Wrap(ferrors.Internal, err, "persistence: get %s at ts %d", id, atMostTs)
	}
	return rev, found, nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

type boltIterator struct {
	revisions []document.Revision
	pos       int
}

func (it *boltIterator) Next(ctx context.Context) (document.Revision, bool, error) {
	if err := ctx.Err(); err != nil {
		return document.Revision{}, false, err
	}
	if it.pos >= len(it.revisions) {
		return document.Revision{}, false, nil
	}
	r := it.revisions[it.pos]
	it.pos++
	return r, true, nil
}

func (it *boltIterator) Close() error { return nil }

func (p *BoltPersistence) LoadFrom(ctx context.Context, from document.Timestamp) (Iterator, error) {
	return p.ScanDocumentLog(ctx, from, document.Timestamp(^uint64(0)))
}

func (p *BoltPersistence) ScanDocumentLog(ctx context.Context, fromTs, toTs document.Timestamp) (Iterator, error) {
	var out []document.Revision
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogByTs).Cursor()
		start := byTsKey(fromTs, 0)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			ts := document.Timestamp(binary.BigEndian.Uint64(k[0:8]))
			if ts >= toTs {
				break
			}
			r, err := document.DecodeRevision(v)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Internal, err, "persistence: scan [%d,%d)", fromTs, toTs)
	}
	return &boltIterator{revisions: out}, nil
}
