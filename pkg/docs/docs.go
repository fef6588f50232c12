// Package docs layers a structured, multi-format document store over
// the substrate. Documents arrive and leave in any supported wire
// format; on disk they live in one canonical binary form. Requests are
// batches of strided tasks; outputs land in a caller-provided arena and
// mirror the input order.
package docs

import (
	"sort"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/status"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

// Docs is the documents modality over one store.
type Docs struct {
	db *substrate.DB
}

// New returns the documents modality for db.
func New(db *substrate.DB) *Docs { return &Docs{db: db} }

// Modify selects the write semantics of a docs batch.
type Modify int

const (
	// Upsert replaces the whole document, or sets the addressed
	// sub-tree when a field is given.
	Upsert Modify = iota
	// Update is Upsert that fails per-row when the key is absent.
	Update
	// Insert is Upsert that fails per-row when the key is present.
	Insert
	// Patch interprets the input as a JSON-Patch document applied to
	// the existing value (an empty object when absent).
	Patch
	// Merge deep-merges the input object into the existing object.
	Merge
)

// ReadRequest is a batch of document reads. Fields is optional; when a
// task's field is non-empty only that sub-tree is returned. Format is
// the requested output encoding.
type ReadRequest struct {
	Collection substrate.Collection
	Count      int
	Keys       strided.Col[int64]
	Fields     strided.Bytes
	Format     Format
	Txn        *substrate.Txn
}

// ReadResult holds per-task presences and offset/length pairs into the
// arena tape. Textual JSON values carry a NUL terminator in the tape
// just past the reported length.
type ReadResult struct {
	Presences strided.Bitmap
	Offsets   []uint32
	Lengths   []uint32
	ar        *arena.Arena
}

// Get returns the bytes produced for task i, or nil when absent.
func (r ReadResult) Get(i int) []byte {
	if !r.Presences.Get(i) {
		return nil
	}
	return r.ar.Slice(r.Offsets[i], r.Lengths[i])
}

// WriteRequest is a batch of document writes. Values tasks with no
// bytes are whole-document deletes. When Keys is absent, IDField names
// the document member the key is derived from.
type WriteRequest struct {
	Collection substrate.Collection
	Count      int
	Keys       strided.Col[int64]
	Values     strided.Bytes
	Fields     strided.Bytes
	Format     Format
	Modify     Modify
	IDField    string
	Txn        *substrate.Txn
}

// WriteResult reports per-row application: a cleared bit means the row
// was skipped by its modify mode (update on missing, insert on
// present); the batch itself still succeeded.
type WriteResult struct {
	Presences strided.Bitmap
}

// Read resolves a batch of document reads. Tasks naming the same
// document share a single substrate read and a single parse; outputs
// are emitted in task order.
func (d *Docs) Read(req ReadRequest, a *arena.Arena) (ReadResult, error) {
	n := req.Count
	telemetry.BatchSize.WithLabelValues("docs", "read").Observe(float64(n))
	if !req.Keys.IsSet() && n > 0 {
		return ReadResult{}, status.New(status.InvalidArgument, "keys column is required")
	}
	if req.Format == JSONPatch {
		return ReadResult{}, status.New(status.InvalidArgument, "json-patch is not a readable format")
	}

	// Whole-document requests in the canonical format are a substrate
	// pass-through: no parse, no dump.
	if !req.Fields.IsSet() && req.Format == Canonical {
		keys := make([]int64, n)
		for i := 0; i < n; i++ {
			keys[i] = req.Keys.Get(i)
		}
		sub, err := d.db.Read(req.Txn, req.Collection, keys, a)
		if err != nil {
			return ReadResult{}, status.Wrap(status.SubstrateError, err, "docs read")
		}
		return ReadResult{Presences: sub.Presences, Offsets: sub.Offsets, Lengths: sub.Lengths, ar: a}, nil
	}

	keys := make([]int64, n)
	for i := 0; i < n; i++ {
		keys[i] = req.Keys.Get(i)
	}
	distinct := dedupeSorted(keys)
	telemetry.DocsCoalesced.WithLabelValues("requested").Add(float64(n))
	telemetry.DocsCoalesced.WithLabelValues("distinct").Add(float64(len(distinct)))

	sub, err := d.db.Read(req.Txn, req.Collection, distinct, a)
	if err != nil {
		return ReadResult{}, status.Wrap(status.SubstrateError, err, "docs read")
	}

	// Parse each distinct document once; tasks slice the shared tree.
	parsed := make([]interface{}, len(distinct))
	for i := range distinct {
		if !sub.Presences.Get(i) {
			continue
		}
		tree, err := parseAny(sub.Get(i), Canonical)
		if err != nil {
			// stored bytes were produced by this layer
			return ReadResult{}, status.Wrap(status.ParseFailed, err, "stored document")
		}
		parsed[i] = tree
	}

	res := ReadResult{
		Presences: strided.NewBitmap(n),
		Offsets:   make([]uint32, n),
		Lengths:   make([]uint32, n),
		ar:        a,
	}
	for i := 0; i < n; i++ {
		pos := searchSorted(distinct, keys[i])
		if !sub.Presences.Get(pos) {
			continue
		}
		tree := parsed[pos]
		if field := req.Fields.Get(i); len(field) > 0 {
			tokens, err := fieldTokens(string(field))
			if err != nil {
				return ReadResult{}, err
			}
			if subTree, ok := getField(tree, tokens); ok {
				tree = subTree
			} else {
				tree = nil
			}
		}
		out, err := dumpAny(tree, req.Format)
		if err != nil {
			return ReadResult{}, err
		}
		res.Presences.Set(i)
		res.Offsets[i] = a.Append(out)
		res.Lengths[i] = uint32(len(out))
		if req.Format == JSON {
			a.AppendByte(0)
		}
	}
	return res, nil
}

// Write applies a batch of document writes. All inputs are parsed
// before the first substrate write, so a malformed task aborts the
// batch with no partial effects.
func (d *Docs) Write(req WriteRequest, a *arena.Arena) (WriteResult, error) {
	n := req.Count
	telemetry.BatchSize.WithLabelValues("docs", "write").Observe(float64(n))
	mode := req.Modify
	if req.Format == JSONPatch {
		mode = Patch
	}
	if !req.Keys.IsSet() && req.IDField == "" && n > 0 {
		return WriteResult{}, status.New(status.InvalidArgument, "either keys or an id field is required")
	}

	// Whole-document canonical upserts pass straight through.
	if !req.Fields.IsSet() && req.Format == Canonical && mode == Upsert && req.IDField == "" {
		keys := make([]int64, n)
		vals := make([][]byte, n)
		for i := 0; i < n; i++ {
			keys[i] = req.Keys.Get(i)
			vals[i] = req.Values.Get(i)
		}
		if err := d.db.Write(req.Txn, req.Collection, keys, vals); err != nil {
			return WriteResult{}, status.Wrap(status.SubstrateError, err, "docs write")
		}
		pres := strided.NewBitmap(n)
		for i := 0; i < n; i++ {
			pres.Set(i)
		}
		return WriteResult{Presences: pres}, nil
	}

	// Parse every input before touching the substrate.
	trees := make([]interface{}, n)
	deletes := make([]bool, n)
	for i := 0; i < n; i++ {
		val := req.Values.Get(i)
		if len(val) == 0 {
			deletes[i] = true
			continue
		}
		tree, err := parseAny(val, req.Format)
		if err != nil {
			return WriteResult{}, err
		}
		trees[i] = tree
	}

	// Resolve each task's key, either explicit or from the id field.
	keys := make([]int64, n)
	for i := 0; i < n; i++ {
		if req.Keys.IsSet() {
			keys[i] = req.Keys.Get(i)
			continue
		}
		obj, ok := trees[i].(map[string]interface{})
		if !ok {
			return WriteResult{}, status.Newf(status.InvalidArgument, "task %d: id field requires an object document", i)
		}
		id, ok := asInt64(obj[req.IDField])
		if !ok {
			return WriteResult{}, status.Newf(status.InvalidArgument, "task %d: missing or non-integer %q", i, req.IDField)
		}
		keys[i] = id
	}

	// Every non-trivial mode needs the current values; fetch each
	// distinct document once.
	var current map[int64][]byte
	needRead := req.Fields.IsSet() || mode != Upsert
	if needRead {
		distinct := dedupeSorted(keys)
		sub, err := d.db.Read(req.Txn, req.Collection, distinct, a)
		if err != nil {
			return WriteResult{}, status.Wrap(status.SubstrateError, err, "docs read-modify")
		}
		current = make(map[int64][]byte, len(distinct))
		for i, k := range distinct {
			if sub.Presences.Get(i) {
				current[k] = sub.Get(i)
			}
		}
	} else {
		current = make(map[int64][]byte)
	}

	// Apply tasks in input order so later tasks observe earlier ones
	// (later-wins within a batch).
	pres := strided.NewBitmap(n)
	staged := make(map[int64][]byte, n)
	orderedKeys := make([]int64, 0, n)
	stage := func(key int64, val []byte) {
		if _, seen := staged[key]; !seen {
			orderedKeys = append(orderedKeys, key)
		}
		staged[key] = val
		if val == nil {
			delete(current, key)
		} else {
			current[key] = val
		}
	}

	for i := 0; i < n; i++ {
		key := keys[i]
		cur, present := current[key]
		switch mode {
		case Update:
			if !present {
				continue // row failure, presence stays 0
			}
		case Insert:
			if present {
				continue
			}
		}

		if deletes[i] {
			stage(key, nil)
			pres.Set(i)
			continue
		}

		newTree, err := d.applyTask(cur, present, trees[i], req.Fields.Get(i), mode)
		if err != nil {
			return WriteResult{}, err
		}
		canonical, err := dumpAny(newTree, Canonical)
		if err != nil {
			return WriteResult{}, err
		}
		stage(key, canonical)
		pres.Set(i)
	}

	vals := make([][]byte, len(orderedKeys))
	for i, k := range orderedKeys {
		vals[i] = staged[k]
	}
	if err := d.db.Write(req.Txn, req.Collection, orderedKeys, vals); err != nil {
		return WriteResult{}, status.Wrap(status.SubstrateError, err, "docs write")
	}
	return WriteResult{Presences: pres}, nil
}

// applyTask computes one task's new document tree from the stored
// bytes, the parsed input and the addressed field.
func (d *Docs) applyTask(cur []byte, present bool, input interface{}, field []byte, mode Modify) (interface{}, error) {
	var base interface{}
	if present {
		tree, err := parseAny(cur, Canonical)
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "stored document")
		}
		base = tree
	}

	switch mode {
	case Patch:
		return applyPatch(base, input, field)
	case Merge:
		return applyMerge(base, input, field)
	}

	if len(field) == 0 {
		return input, nil
	}
	tokens, err := fieldTokens(string(field))
	if err != nil {
		return nil, err
	}
	return setField(base, tokens, input, mode != Update)
}

// dedupeSorted returns the sorted set of distinct keys in ks.
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

// searchSorted returns the index of k in the sorted slice ks.
func searchSorted(ks []int64, k int64) int {
	return sort.Search(len(ks), func(i int) bool { return ks[i] >= k })
}
