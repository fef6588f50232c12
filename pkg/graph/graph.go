// Package graph presents a directed multigraph over the substrate.
// Each vertex key stores its adjacency list as the substrate value;
// every edge appears in both endpoints' lists, so finding edges by
// either role is a single value scan.
package graph

import (
	"sort"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/status"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
	"github.com/harisbotic/ustore/pkg/telemetry"
)

// Graph is the graph modality over one store.
type Graph struct {
	db *substrate.DB
}

// New returns the graph modality for db.
func New(db *substrate.DB) *Graph { return &Graph{db: db} }

// EdgesRequest is a batch of (source, target, edge-id) triples.
// EdgeIDs may be absent; every edge then carries AnyEdgeID.
type EdgesRequest struct {
	Collection substrate.Collection
	Count      int
	Sources    strided.Col[int64]
	Targets    strided.Col[int64]
	EdgeIDs    strided.Col[int64]
	Txn        *substrate.Txn
}

// VerticesRequest is a batch of vertices with optional role filters.
type VerticesRequest struct {
	Collection substrate.Collection
	Count      int
	Vertices   strided.Col[int64]
	Roles      strided.Col[Role]
	Txn        *substrate.Txn
}

// FindResult reports, per requested vertex, its filtered degree and a
// flat (vertex, neighbor, edge) triple per matched entry. A missing
// vertex reports DegreeMissing and contributes no triples.
type FindResult struct {
	Degrees []uint32
	Triples []int64
}

// lists materializes the adjacency lists of the given distinct
// vertices, tracking which exist at all.
func (g *Graph) lists(txn *substrate.Txn, col substrate.Collection, vertices []int64, a *arena.Arena) (map[int64][]entry, map[int64]bool, error) {
	sub, err := g.db.Read(txn, col, vertices, a)
	if err != nil {
		return nil, nil, status.Wrap(status.SubstrateError, err, "graph read")
	}
	byVertex := make(map[int64][]entry, len(vertices))
	present := make(map[int64]bool, len(vertices))
	for i, v := range vertices {
		if !sub.Presences.Get(i) {
			continue
		}
		list, err := decodeList(sub.Get(i))
		if err != nil {
			return nil, nil, status.Wrap(status.ParseFailed, err, "adjacency list")
		}
		byVertex[v] = list
		present[v] = true
	}
	return byVertex, present, nil
}

// writeLists flushes modified adjacency lists in sorted vertex order.
// Vertices in deleted are removed; every other touched vertex is
// written with its list, an empty list included.
func (g *Graph) writeLists(txn *substrate.Txn, col substrate.Collection, touched map[int64][]entry, deleted map[int64]bool) error {
	keys := make([]int64, 0, len(touched)+len(deleted))
	for v := range touched {
		if !deleted[v] {
			keys = append(keys, v)
		}
	}
	for v := range deleted {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	vals := make([][]byte, len(keys))
	for i, v := range keys {
		if deleted[v] {
			vals[i] = nil
			continue
		}
		vals[i] = encodeList(touched[v])
	}
	if err := g.db.Write(txn, col, keys, vals); err != nil {
		return status.Wrap(status.SubstrateError, err, "graph write")
	}
	return nil
}

// UpsertVertices ensures each vertex exists, with an empty adjacency
// list when it is new. Existing lists are left untouched.
func (g *Graph) UpsertVertices(req VerticesRequest, a *arena.Arena) error {
	telemetry.BatchSize.WithLabelValues("graph", "upsert_vertices").Observe(float64(req.Count))
	vertices := dedupeSorted(colValues(req.Vertices, req.Count))
	_, present, err := g.lists(req.Txn, req.Collection, vertices, a)
	if err != nil {
		return err
	}
	var keys []int64
	var vals [][]byte
	for _, v := range vertices {
		if present[v] {
			continue
		}
		keys = append(keys, v)
		vals = append(vals, []byte{})
	}
	if len(keys) == 0 {
		return nil
	}
	if err := g.db.Write(req.Txn, req.Collection, keys, vals); err != nil {
		return status.Wrap(status.SubstrateError, err, "graph write")
	}
	return nil
}

// UpsertEdges inserts each (s, t, e) into both endpoints' lists. The
// batch reads every touched vertex once, applies edges in input order
// and writes every modified list once; duplicate edges are no-ops.
func (g *Graph) UpsertEdges(req EdgesRequest, a *arena.Arena) error {
	telemetry.BatchSize.WithLabelValues("graph", "upsert_edges").Observe(float64(req.Count))
	n := req.Count
	all := make([]int64, 0, 2*n)
	for i := 0; i < n; i++ {
		all = append(all, req.Sources.Get(i))
	}
	for i := 0; i < n; i++ {
		all = append(all, req.Targets.Get(i))
	}
	vertices := dedupeSorted(all)
	byVertex, _, err := g.lists(req.Txn, req.Collection, vertices, a)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		s := req.Sources.Get(i)
		t := req.Targets.Get(i)
		e := req.EdgeIDs.GetOr(i, AnyEdgeID)
		byVertex[s] = insertEntry(byVertex[s], entry{Neighbor: t, Edge: e, Out: true})
		byVertex[t] = insertEntry(byVertex[t], entry{Neighbor: s, Edge: e, Out: false})
	}
	return g.writeLists(req.Txn, req.Collection, byVertex, nil)
}

// RemoveEdges removes each triple from both endpoints' lists. Missing
// edges are silently ignored; AnyEdgeID removes every edge between the
// pair.
func (g *Graph) RemoveEdges(req EdgesRequest, a *arena.Arena) error {
	telemetry.BatchSize.WithLabelValues("graph", "remove_edges").Observe(float64(req.Count))
	n := req.Count
	all := make([]int64, 0, 2*n)
	for i := 0; i < n; i++ {
		all = append(all, req.Sources.Get(i))
	}
	for i := 0; i < n; i++ {
		all = append(all, req.Targets.Get(i))
	}
	vertices := dedupeSorted(all)
	byVertex, present, err := g.lists(req.Txn, req.Collection, vertices, a)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		s := req.Sources.Get(i)
		t := req.Targets.Get(i)
		e := req.EdgeIDs.GetOr(i, AnyEdgeID)
		byVertex[s] = removeEntries(byVertex[s], t, e, true)
		byVertex[t] = removeEntries(byVertex[t], s, e, false)
	}
	// only write back vertices that exist; removals never create them
	touched := make(map[int64][]entry, len(byVertex))
	for v, list := range byVertex {
		if present[v] {
			touched[v] = list
		}
	}
	return g.writeLists(req.Txn, req.Collection, touched, nil)
}

// RemoveVertices deletes each vertex and scrubs the matching mirror
// records out of its neighbors' lists. RoleAny wipes the vertex
// completely; a narrower role still deletes the vertex but only
// detaches edges where it played that role.
func (g *Graph) RemoveVertices(req VerticesRequest, a *arena.Arena) error {
	telemetry.BatchSize.WithLabelValues("graph", "remove_vertices").Observe(float64(req.Count))
	n := req.Count
	victims := dedupeSorted(colValues(req.Vertices, req.Count))
	byVertex, _, err := g.lists(req.Txn, req.Collection, victims, a)
	if err != nil {
		return err
	}
	victimSet := make(map[int64]bool, len(victims))
	deleted := make(map[int64]bool, len(victims))
	for _, v := range victims {
		victimSet[v] = true
		deleted[v] = true
	}

	// collect mirror removals grouped by surviving neighbor
	type mirror struct {
		neighbor int64
		edge     int64
		out      bool
	}
	var mirrors []mirror
	neighborSet := map[int64]bool{}
	for i := 0; i < n; i++ {
		v := req.Vertices.Get(i)
		role := req.Roles.GetOr(i, RoleAny)
		for _, e := range byVertex[v] {
			if !e.matches(role) || victimSet[e.Neighbor] {
				continue
			}
			// the mirror record at the neighbor points back at v with
			// the opposite orientation
			mirrors = append(mirrors, mirror{neighbor: e.Neighbor, edge: e.Edge, out: !e.Out})
			neighborSet[e.Neighbor] = true
		}
	}

	neighbors := make([]int64, 0, len(neighborSet))
	for v := range neighborSet {
		neighbors = append(neighbors, v)
	}
	sort.Slice(neighbors, func(a, b int) bool { return neighbors[a] < neighbors[b] })
	neighborLists, _, err := g.lists(req.Txn, req.Collection, neighbors, a)
	if err != nil {
		return err
	}
	for _, m := range mirrors {
		if list, ok := neighborLists[m.neighbor]; ok {
			neighborLists[m.neighbor] = removeMirror(list, m.edge, m.out, victimSet)
		}
	}
	return g.writeLists(req.Txn, req.Collection, neighborLists, deleted)
}

// removeMirror drops records pointing at any victim with the given
// edge and orientation.
func removeMirror(list []entry, edge int64, out bool, victims map[int64]bool) []entry {
	kept := list[:0]
	for _, e := range list {
		if victims[e.Neighbor] && e.Out == out && e.Edge == edge {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// FindEdges reads each vertex's list, filters by role and expands each
// matched record into a (vertex, neighbor, edge) triple.
func (g *Graph) FindEdges(req VerticesRequest, a *arena.Arena) (FindResult, error) {
	telemetry.BatchSize.WithLabelValues("graph", "find_edges").Observe(float64(req.Count))
	n := req.Count
	vertices := dedupeSorted(colValues(req.Vertices, n))
	byVertex, present, err := g.lists(req.Txn, req.Collection, vertices, a)
	if err != nil {
		return FindResult{}, err
	}
	res := FindResult{Degrees: make([]uint32, n)}
	for i := 0; i < n; i++ {
		v := req.Vertices.Get(i)
		if !present[v] {
			res.Degrees[i] = DegreeMissing
			continue
		}
		role := req.Roles.GetOr(i, RoleAny)
		var degree uint32
		for _, e := range byVertex[v] {
			if !e.matches(role) {
				continue
			}
			res.Triples = append(res.Triples, v, e.Neighbor, e.Edge)
			degree++
		}
		res.Degrees[i] = degree
	}
	return res, nil
}

func colValues(c strided.Col[int64], n int) []int64 {
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = c.Get(i)
	}
	return out
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
