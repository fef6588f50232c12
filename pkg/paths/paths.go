// Package paths lets callers address substrate values by arbitrary
// byte strings instead of integer keys. A path maps to the substrate
// key XXH64(path) (bucket format v1); colliding paths chain inside the
// bucket value, so lookups stay exact regardless of hash collisions.
package paths

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/status"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

// DefaultSeparator splits concatenated path inputs when the caller
// supplies no offsets or lengths.
const DefaultSeparator byte = 0

// Paths is the paths modality over one store.
type Paths struct {
	db *substrate.DB
}

// New returns the paths modality for db.
func New(db *substrate.DB) *Paths { return &Paths{db: db} }

// hashKey derives the substrate key for a path. Pinned to XXH64 of the
// raw bytes; changing it invalidates every stored bucket.
func hashKey(path []byte) int64 {
	return int64(xxhash.Sum64(path))
}

// WriteRequest is a batch of path upserts. A task whose value is empty
// deletes the path. Paths (and values) may arrive as offset/length
// columns or as one separator-joined blob.
type WriteRequest struct {
	Collection substrate.Collection
	Count      int
	Paths      strided.Bytes
	Values     strided.Bytes
	Separator  byte
	Txn        *substrate.Txn
}

// ReadRequest is a batch of path lookups.
type ReadRequest struct {
	Collection substrate.Collection
	Count      int
	Paths      strided.Bytes
	Separator  byte
	Txn        *substrate.Txn
}

// ReadResult holds per-task presences and offsets into the arena tape.
type ReadResult struct {
	Presences strided.Bitmap
	Offsets   []uint32
	Lengths   []uint32
	ar        *arena.Arena
}

// Get returns the payload read for task i, or nil when absent.
func (r ReadResult) Get(i int) []byte {
	if !r.Presences.Get(i) {
		return nil
	}
	return r.ar.Slice(r.Offsets[i], r.Lengths[i])
}

// taskBytes slices a variable-width input column into per-task byte
// strings, honoring the separator-joined form.
func taskBytes(b strided.Bytes, sep byte, count int) [][]byte {
	if b.Offsets.IsSet() || b.Lengths.IsSet() {
		out := make([][]byte, count)
		for i := 0; i < count; i++ {
			out[i] = b.Get(i)
		}
		return out
	}
	return strided.SplitJoined(b.Blob, sep, count)
}

// Write upserts a batch of paths. Buckets touched by several tasks are
// read once, mutated in input order and written once; emptied buckets
// are deleted from the substrate.
func (p *Paths) Write(req WriteRequest, a *arena.Arena) error {
	telemetry.BatchSize.WithLabelValues("paths", "write").Observe(float64(req.Count))
	n := req.Count
	pathsIn := taskBytes(req.Paths, req.Separator, n)
	valuesIn := taskBytes(req.Values, req.Separator, n)
	for i, path := range pathsIn {
		if len(path) == 0 {
			return status.Newf(status.InvalidArgument, "task %d: empty path", i)
		}
	}

	keys := make([]int64, n)
	for i, path := range pathsIn {
		keys[i] = hashKey(path)
	}
	distinct := dedupeSorted(keys)
	sub, err := p.db.Read(req.Txn, req.Collection, distinct, a)
	if err != nil {
		return status.Wrap(status.SubstrateError, err, "bucket read")
	}
	buckets := make(map[int64][]record, len(distinct))
	for i, k := range distinct {
		if !sub.Presences.Get(i) {
			continue
		}
		recs, err := decodeBucket(sub.Get(i))
		if err != nil {
			return status.Wrap(status.ParseFailed, err, "bucket")
		}
		buckets[k] = recs
	}

	for i := 0; i < n; i++ {
		var payload []byte
		if v := valuesIn[i]; len(v) > 0 {
			payload = v
		}
		buckets[keys[i]] = upsertRecord(buckets[keys[i]], pathsIn[i], payload)
	}

	outKeys := make([]int64, len(distinct))
	outVals := make([][]byte, len(distinct))
	for i, k := range distinct {
		outKeys[i] = k
		if recs := buckets[k]; len(recs) > 0 {
			outVals[i] = encodeBucket(recs)
		}
	}
	if err := p.db.Write(req.Txn, req.Collection, outKeys, outVals); err != nil {
		return status.Wrap(status.SubstrateError, err, "bucket write")
	}
	return nil
}

// Read resolves a batch of path lookups. An absent path and an absent
// bucket are indistinguishable to the caller: presence bit 0.
func (p *Paths) Read(req ReadRequest, a *arena.Arena) (ReadResult, error) {
	telemetry.BatchSize.WithLabelValues("paths", "read").Observe(float64(req.Count))
	n := req.Count
	pathsIn := taskBytes(req.Paths, req.Separator, n)
	keys := make([]int64, n)
	for i, path := range pathsIn {
		keys[i] = hashKey(path)
	}
	distinct := dedupeSorted(keys)
	sub, err := p.db.Read(req.Txn, req.Collection, distinct, a)
	if err != nil {
		return ReadResult{}, status.Wrap(status.SubstrateError, err, "bucket read")
	}
	buckets := make(map[int64][]record, len(distinct))
	for i, k := range distinct {
		if !sub.Presences.Get(i) {
			continue
		}
		recs, err := decodeBucket(sub.Get(i))
		if err != nil {
			return ReadResult{}, status.Wrap(status.ParseFailed, err, "bucket")
		}
		buckets[k] = recs
	}

	res := ReadResult{
		Presences: strided.NewBitmap(n),
		Offsets:   make([]uint32, n),
		Lengths:   make([]uint32, n),
		ar:        a,
	}
	for i := 0; i < n; i++ {
		recs := buckets[keys[i]]
		idx := findRecord(recs, pathsIn[i])
		if idx < 0 {
			continue
		}
		res.Presences.Set(i)
		res.Offsets[i] = a.Append(recs[idx].payload)
		res.Lengths[i] = uint32(len(recs[idx].payload))
	}
	return res, nil
}

// dedupeSorted returns the sorted distinct values of ks.
func dedupeSorted(ks []int64) []int64 {
	out := make([]int64, len(ks))
	copy(out, ks)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	uniq := out[:0]
	for i, k := range out {
		if i == 0 || k != uniq[len(uniq)-1] {
			uniq = append(uniq, k)
		}
	}
	return uniq
}
