// Package substrate wraps an ordered key-value engine (Pebble) behind
// the batched read/write/scan surface the modality layers consume.
// Values are opaque bytes; keys are signed 64-bit integers namespaced
// by collection. All batch outputs land in a caller-provided arena.
package substrate

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/logger"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

// Options tunes the underlying engine.
type Options struct {
	// Sync forces an fsync on every committed write batch.
	Sync bool
	// CacheBytes sizes the block cache; 0 keeps pebble's default.
	CacheBytes int64
}

// DB is an open store. It is safe for concurrent use to the extent
// pebble is; the modality layers add no locking of their own.
type DB struct {
	pb   *pebble.DB
	path string
	sync bool

	mu     sync.Mutex
	cols   map[string]Collection
	nextID Collection
}

// Open opens (or creates) a store at the given path.
func Open(path string, opts Options) (*DB, error) {
	popts := &pebble.Options{}
	if opts.CacheBytes > 0 {
		popts.Cache = pebble.NewCache(opts.CacheBytes)
		defer popts.Cache.Unref()
	}
	logger.Info("opening_store", "path", path)
	pb, err := pebble.Open(path, popts)
	if err != nil {
		logger.Error("store_open_failed", "path", path, "error", err)
		return nil, errors.Wrap(err, "open pebble")
	}
	db := &DB{pb: pb, path: path, sync: opts.Sync, cols: map[string]Collection{}, nextID: Main + 1}
	if err := db.loadCollections(); err != nil {
		_ = pb.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the store.
func (db *DB) Close() error {
	if db.pb == nil {
		return nil
	}
	err := db.pb.Close()
	db.pb = nil
	logger.Info("store_closed", "path", db.path)
	return err
}

func (db *DB) writeOpt() *pebble.WriteOptions {
	if db.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// loadCollections restores the name registry from the meta namespace.
func (db *DB) loadCollections() error {
	iter, err := db.pb.NewIter(&pebble.IterOptions{
		LowerBound: colPrefix(metaCol),
		UpperBound: colEnd(metaCol),
	})
	if err != nil {
		return errors.Wrap(err, "registry iter")
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[4:])
		id := Collection(binary.BigEndian.Uint32(iter.Value()))
		db.cols[name] = id
		if id >= db.nextID {
			db.nextID = id + 1
		}
	}
	return iter.Error()
}

// Collection returns the handle for a named namespace, creating it on
// first use. The empty name aliases the main collection.
func (db *DB) Collection(name string) (Collection, error) {
	if name == "" {
		return Main, nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if id, ok := db.cols[name]; ok {
		return id, nil
	}
	id := db.nextID
	db.nextID++
	key := append(colPrefix(metaCol), name...)
	var val [4]byte
	binary.BigEndian.PutUint32(val[:], uint32(id))
	if err := db.pb.Set(key, val[:], db.writeOpt()); err != nil {
		return 0, errors.Wrap(err, "register collection")
	}
	db.cols[name] = id
	logger.Info("collection_created", "name", name, "id", uint32(id))
	return id, nil
}

// ReadResult is the output of a batched read: a presence bit per key
// and offset/length pairs into the arena tape for present values.
type ReadResult struct {
	Presences strided.Bitmap
	Offsets   []uint32
	Lengths   []uint32
	arena     *arena.Arena
}

// Get returns the value read for key i, or nil when absent.
func (r ReadResult) Get(i int) []byte {
	if !r.Presences.Get(i) {
		return nil
	}
	return r.arena.Slice(r.Offsets[i], r.Lengths[i])
}

func (db *DB) reader(txn *Txn) pebble.Reader {
	if txn != nil {
		return txn.batch
	}
	return db.pb
}

// Read performs a batched point lookup. Lookups are issued in sorted
// key order over a single iterator; outputs are written in input order.
func (db *DB) Read(txn *Txn, col Collection, keys []int64, a *arena.Arena) (ReadResult, error) {
	res := ReadResult{
		Presences: strided.NewBitmap(len(keys)),
		Offsets:   make([]uint32, len(keys)),
		Lengths:   make([]uint32, len(keys)),
		arena:     a,
	}
	if len(keys) == 0 {
		return res, nil
	}
	order := sortedIndices(keys)
	iter, err := db.reader(txn).NewIter(&pebble.IterOptions{
		LowerBound: colPrefix(col),
		UpperBound: colEnd(col),
	})
	if err != nil {
		telemetry.SubstrateOps.WithLabelValues("read", "error").Inc()
		return res, errors.Wrap(err, "read iter")
	}
	defer iter.Close()
	for _, i := range order {
		k := encodeKey(col, keys[i])
		if !iter.SeekGE(k) || !bytes.Equal(iter.Key(), k) {
			continue
		}
		res.Presences.Set(i)
		res.Offsets[i] = a.Append(iter.Value())
		res.Lengths[i] = uint32(len(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		telemetry.SubstrateOps.WithLabelValues("read", "error").Inc()
		return res, errors.Wrap(err, "read scan")
	}
	telemetry.SubstrateOps.WithLabelValues("read", "ok").Inc()
	telemetry.SubstrateKeys.WithLabelValues("read").Add(float64(len(keys)))
	return res, nil
}

// Write applies a batched upsert: values[i] == nil deletes keys[i].
// Outside a transaction the batch commits atomically before returning;
// inside one, the operations stage onto the transaction.
func (db *DB) Write(txn *Txn, col Collection, keys []int64, values [][]byte) error {
	if len(keys) != len(values) {
		return errors.Errorf("write arity mismatch: %d keys, %d values", len(keys), len(values))
	}
	apply := func(b *pebble.Batch) error {
		for i, key := range keys {
			k := encodeKey(col, key)
			if values[i] == nil {
				if err := b.Delete(k, nil); err != nil {
					return err
				}
				continue
			}
			if err := b.Set(k, values[i], nil); err != nil {
				return err
			}
		}
		return nil
	}
	var err error
	if txn != nil {
		err = apply(txn.batch)
	} else {
		b := db.pb.NewBatch()
		if err = apply(b); err == nil {
			err = b.Commit(db.writeOpt())
		} else {
			_ = b.Close()
		}
	}
	if err != nil {
		telemetry.SubstrateOps.WithLabelValues("write", "error").Inc()
		logger.Error("substrate_write_failed", "keys", len(keys), "error", err)
		return errors.Wrap(err, "write batch")
	}
	telemetry.SubstrateOps.WithLabelValues("write", "ok").Inc()
	telemetry.SubstrateKeys.WithLabelValues("write").Add(float64(len(keys)))
	return nil
}

// Scan walks keys of col in ascending order starting at start,
// returning at most limit of them.
func (db *DB) Scan(txn *Txn, col Collection, start int64, limit uint32) ([]int64, error) {
	iter, err := db.reader(txn).NewIter(&pebble.IterOptions{
		LowerBound: colPrefix(col),
		UpperBound: colEnd(col),
	})
	if err != nil {
		telemetry.SubstrateOps.WithLabelValues("scan", "error").Inc()
		return nil, errors.Wrap(err, "scan iter")
	}
	defer iter.Close()
	var out []int64
	for ok := iter.SeekGE(encodeKey(col, start)); ok && uint32(len(out)) < limit; ok = iter.Next() {
		_, key := decodeKey(iter.Key())
		out = append(out, key)
	}
	if err := iter.Error(); err != nil {
		telemetry.SubstrateOps.WithLabelValues("scan", "error").Inc()
		return nil, errors.Wrap(err, "scan")
	}
	telemetry.SubstrateOps.WithLabelValues("scan", "ok").Inc()
	telemetry.SubstrateKeys.WithLabelValues("scan").Add(float64(len(out)))
	return out, nil
}

// sortedIndices returns task indices ordered by key so a batch of point
// lookups walks the keyspace monotonically.
func sortedIndices(keys []int64) []int {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	return order
}
