package graph

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// AnyEdgeID is the edge-id sentinel meaning "any edge": upserts store
// it verbatim, removals treat it as a wildcard.
const AnyEdgeID int64 = math.MinInt64

// DegreeMissing marks a vertex that does not exist, as opposed to one
// with an empty adjacency list.
const DegreeMissing uint32 = math.MaxUint32

// Role selects which incident edges of a vertex an operation touches.
type Role uint8

const (
	RoleSource Role = 1 << iota
	RoleTarget
	RoleAny Role = RoleSource | RoleTarget
)

// entry is one adjacency-list record. Out marks the edge as outgoing
// (this vertex is the source); the mirror record at the neighbor
// carries the opposite orientation.
type entry struct {
	Neighbor int64
	Edge     int64
	Out      bool
}

// matches reports whether the entry is selected by the role filter.
func (e entry) matches(r Role) bool {
	if e.Out {
		return r&RoleSource != 0
	}
	return r&RoleTarget != 0
}

// Adjacency lists are stored as packed fixed-width records sorted by
// (neighbor, edge, orientation) so lookups binary-search and upserts
// stay idempotent.
const entrySize = 17

func encodeList(list []entry) []byte {
	out := make([]byte, 0, len(list)*entrySize)
	var b [entrySize]byte
	for _, e := range list {
		binary.LittleEndian.PutUint64(b[0:8], uint64(e.Neighbor))
		binary.LittleEndian.PutUint64(b[8:16], uint64(e.Edge))
		b[16] = 0
		if e.Out {
			b[16] = 1
		}
		out = append(out, b[:]...)
	}
	return out
}

func decodeList(b []byte) ([]entry, error) {
	if len(b)%entrySize != 0 {
		return nil, errors.Errorf("adjacency list length %d not a multiple of %d", len(b), entrySize)
	}
	list := make([]entry, len(b)/entrySize)
	for i := range list {
		rec := b[i*entrySize:]
		list[i] = entry{
			Neighbor: int64(binary.LittleEndian.Uint64(rec[0:8])),
			Edge:     int64(binary.LittleEndian.Uint64(rec[8:16])),
			Out:      rec[16] != 0,
		}
	}
	return list, nil
}

func entryLess(a, b entry) bool {
	if a.Neighbor != b.Neighbor {
		return a.Neighbor < b.Neighbor
	}
	if a.Edge != b.Edge {
		return a.Edge < b.Edge
	}
	return !a.Out && b.Out
}

// insertEntry adds e keeping the list sorted; duplicates are dropped.
func insertEntry(list []entry, e entry) []entry {
	i := sort.Search(len(list), func(i int) bool { return !entryLess(list[i], e) })
	if i < len(list) && list[i] == e {
		return list
	}
	list = append(list, entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

// removeEntries drops every record pointing at neighbor with the given
// orientation; edge filters to one edge id unless it is AnyEdgeID.
func removeEntries(list []entry, neighbor, edge int64, out bool) []entry {
	kept := list[:0]
	for _, e := range list {
		if e.Neighbor == neighbor && e.Out == out && (edge == AnyEdgeID || e.Edge == edge) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}
