package docs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/status"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

// GistRequest asks for the union of leaf-addressable field paths
// across a batch of documents.
type GistRequest struct {
	Collection substrate.Collection
	Count      int
	Keys       strided.Col[int64]
	Txn        *substrate.Txn
}

// GistResult is the deduplicated, sorted set of JSON-pointer strings.
// Each path is NUL-terminated in the tape just past its length.
type GistResult struct {
	Count   int
	Offsets []uint32
	Lengths []uint32
	ar      *arena.Arena
}

// FieldAt returns the i-th path string.
func (r GistResult) FieldAt(i int) string {
	return string(r.ar.Slice(r.Offsets[i], r.Lengths[i]))
}

// Gist loads each requested document, walks its tree and emits every
// leaf JSON-pointer path once, sorted.
func (d *Docs) Gist(req GistRequest, a *arena.Arena) (GistResult, error) {
	n := req.Count
	telemetry.BatchSize.WithLabelValues("docs", "gist").Observe(float64(n))
	keys := make([]int64, n)
	for i := 0; i < n; i++ {
		keys[i] = req.Keys.Get(i)
	}
	distinct := dedupeSorted(keys)
	sub, err := d.db.Read(req.Txn, req.Collection, distinct, a)
	if err != nil {
		return GistResult{}, status.Wrap(status.SubstrateError, err, "gist read")
	}

	set := map[string]struct{}{}
	for i := range distinct {
		if !sub.Presences.Get(i) {
			continue
		}
		tree, err := parseAny(sub.Get(i), Canonical)
		if err != nil {
			return GistResult{}, status.Wrap(status.ParseFailed, err, "stored document")
		}
		collectLeafPaths("", tree, set)
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	res := GistResult{
		Count:   len(paths),
		Offsets: make([]uint32, len(paths)),
		Lengths: make([]uint32, len(paths)),
		ar:      a,
	}
	for i, p := range paths {
		res.Offsets[i] = a.Append([]byte(p))
		res.Lengths[i] = uint32(len(p))
		a.AppendByte(0)
	}
	return res, nil
}

// collectLeafPaths records the JSON-pointer of every scalar and every
// empty container reachable from v.
func collectLeafPaths(prefix string, v interface{}, out map[string]struct{}) {
	switch node := v.(type) {
	case map[string]interface{}:
		if len(node) == 0 {
			out[prefix] = struct{}{}
			return
		}
		for k, e := range node {
			collectLeafPaths(prefix+"/"+escapeToken(k), e, out)
		}
	case []interface{}:
		if len(node) == 0 {
			out[prefix] = struct{}{}
			return
		}
		for i, e := range node {
			collectLeafPaths(prefix+"/"+strconv.Itoa(i), e, out)
		}
	default:
		out[prefix] = struct{}{}
	}
}

// escapeToken applies RFC 6901 escaping to one path token.
func escapeToken(t string) string {
	t = strings.ReplaceAll(t, "~", "~0")
	return strings.ReplaceAll(t, "/", "~1")
}
