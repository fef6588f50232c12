package paths

import (
	"bytes"
	"math"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/status"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

// scanChunk bounds how many bucket keys one substrate scan fetches
// while matching.
const scanChunk = 512

// MatchRequest enumerates stored paths matching a pattern. The pattern
// supports `?` (exactly one byte) and `*` (zero or more bytes).
// Previous, when non-empty, resumes a paginated enumeration just past
// that path; Limit caps the number of results.
type MatchRequest struct {
	Collection substrate.Collection
	Pattern    []byte
	Previous   []byte
	Limit      uint32
	Txn        *substrate.Txn
}

// MatchResult lists matched paths in (bucket-key, in-bucket) order,
// which is stable across calls and therefore paginatable.
type MatchResult struct {
	Count   int
	Offsets []uint32
	Lengths []uint32
	ar      *arena.Arena
}

// PathAt returns the i-th matched path.
func (r MatchResult) PathAt(i int) []byte {
	return r.ar.Slice(r.Offsets[i], r.Lengths[i])
}

// Match walks the bucket keyspace and returns up to Limit matching
// paths. Exact patterns (no wildcards) skip the scan entirely.
func (p *Paths) Match(req MatchRequest, a *arena.Arena) (MatchResult, error) {
	telemetry.BatchSize.WithLabelValues("paths", "match").Observe(1)
	if req.Limit == 0 {
		return MatchResult{ar: a}, nil
	}
	res := MatchResult{ar: a}

	if !bytes.ContainsAny(req.Pattern, "?*") {
		// exact lookup; pagination past the only possible hit is empty
		if len(req.Previous) > 0 {
			return res, nil
		}
		rr, err := p.Read(ReadRequest{
			Collection: req.Collection,
			Count:      1,
			Paths: strided.Bytes{
				Blob:    req.Pattern,
				Lengths: strided.Broadcast(uint32(len(req.Pattern))),
				Count:   1,
			},
			Txn: req.Txn,
		}, a)
		if err != nil {
			return res, err
		}
		if rr.Presences.Get(0) {
			res.Count = 1
			res.Offsets = []uint32{a.Append(req.Pattern)}
			res.Lengths = []uint32{uint32(len(req.Pattern))}
		}
		return res, nil
	}

	start := int64(math.MinInt64)
	skipPast := req.Previous
	prevKey := int64(0)
	if len(skipPast) > 0 {
		prevKey = hashKey(skipPast)
		start = prevKey
	}

	for {
		keys, err := p.db.Scan(req.Txn, req.Collection, start, scanChunk)
		if err != nil {
			return res, status.Wrap(status.SubstrateError, err, "match scan")
		}
		if len(keys) == 0 {
			return res, nil
		}
		sub, err := p.db.Read(req.Txn, req.Collection, keys, a)
		if err != nil {
			return res, status.Wrap(status.SubstrateError, err, "match read")
		}
		for i := range keys {
			// the continuation path only anchors inside its own bucket;
			// if that bucket is gone, resume from the next one
			if len(skipPast) > 0 && keys[i] != prevKey {
				skipPast = nil
			}
			if !sub.Presences.Get(i) {
				continue
			}
			recs, err := decodeBucket(sub.Get(i))
			if err != nil {
				return res, status.Wrap(status.ParseFailed, err, "bucket")
			}
			for _, rec := range recs {
				if len(skipPast) > 0 {
					if bytes.Equal(rec.path, skipPast) {
						skipPast = nil
					}
					continue
				}
				if !matchPattern(req.Pattern, rec.path) {
					continue
				}
				res.Offsets = append(res.Offsets, a.Append(rec.path))
				res.Lengths = append(res.Lengths, uint32(len(rec.path)))
				res.Count++
				if uint32(res.Count) >= req.Limit {
					return res, nil
				}
			}
		}
		last := keys[len(keys)-1]
		if last == math.MaxInt64 {
			return res, nil
		}
		start = last + 1
	}
}

// matchPattern reports whether path matches pattern, where `?` matches
// exactly one byte and `*` matches any run of bytes.
func matchPattern(pattern, path []byte) bool {
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(path) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == path[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star, mark = pi, si
			pi++
		case star >= 0:
			mark++
			pi, si = star+1, mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
