// Package api exposes a thin JSON/HTTP front end over the three
// modalities. It exists for the ustored binary and for poking a store
// with curl; the core library never depends on it.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/docs"
	"github.com/harisbotic/ustore/pkg/graph"
	"github.com/harisbotic/ustore/pkg/logger"
	"github.com/harisbotic/ustore/pkg/paths"
	"github.com/harisbotic/ustore/pkg/status"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
)

// Server bundles the modalities over one store.
type Server struct {
	db    *substrate.DB
	docs  *docs.Docs
	graph *graph.Graph
	paths *paths.Paths
}

// NewServer returns an HTTP server over db.
func NewServer(db *substrate.DB) *Server {
	return &Server{db: db, docs: docs.New(db), graph: graph.New(db), paths: paths.New(db)}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/v1/docs/{collection}/{key}", s.handleDoc).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/v1/graph/{collection}/edges", s.handleEdges).Methods(http.MethodGet, http.MethodPost, http.MethodDelete)
	r.HandleFunc("/v1/paths/{collection}", s.handlePaths).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	return r
}

func httpStatusFor(err error) int {
	switch status.KindOf(err) {
	case status.InvalidArgument, status.ParseFailed:
		return http.StatusBadRequest
	case status.NotFound:
		return http.StatusNotFound
	case status.Conflict:
		return http.StatusConflict
	case status.Unsupported:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  status.KindOf(err).String(),
	})
}

func (s *Server) collection(r *http.Request) (substrate.Collection, error) {
	name := mux.Vars(r)["collection"]
	if name == "main" {
		name = ""
	}
	return s.db.Collection(name)
}

// handleDoc serves single-document reads and writes. The wire format,
// field address and modify mode come from query parameters.
func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	col, err := s.collection(r)
	if err != nil {
		fail(w, err)
		return
	}
	key, err := strconv.ParseInt(mux.Vars(r)["key"], 10, 64)
	if err != nil {
		fail(w, status.Wrap(status.InvalidArgument, err, "key"))
		return
	}
	format, err := docs.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		fail(w, err)
		return
	}
	field := r.URL.Query().Get("field")
	a := arena.New(4096)

	switch r.Method {
	case http.MethodGet:
		res, err := s.docs.Read(docs.ReadRequest{
			Collection: col,
			Count:      1,
			Keys:       strided.Broadcast(key),
			Fields:     fieldCol(field),
			Format:     format,
		}, a)
		if err != nil {
			fail(w, err)
			return
		}
		if !res.Presences.Get(0) {
			fail(w, status.Newf(status.NotFound, "key %d", key))
			return
		}
		w.Header().Set("Content-Type", contentType(format))
		_, _ = w.Write(res.Get(0))
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			fail(w, status.Wrap(status.InvalidArgument, err, "body"))
			return
		}
		mode, err := parseMode(r.URL.Query().Get("mode"))
		if err != nil {
			fail(w, err)
			return
		}
		res, err := s.docs.Write(docs.WriteRequest{
			Collection: col,
			Count:      1,
			Keys:       strided.Broadcast(key),
			Values: strided.Bytes{
				Blob:    body,
				Lengths: strided.Broadcast(uint32(len(body))),
				Count:   1,
			},
			Fields: fieldCol(field),
			Format: format,
			Modify: mode,
		}, a)
		if err != nil {
			fail(w, err)
			return
		}
		if !res.Presences.Get(0) {
			fail(w, status.Newf(status.Conflict, "mode %q rejected key %d", r.URL.Query().Get("mode"), key))
			return
		}
		logger.Info("doc_written", "key", key, "format", format.String())
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		_, err := s.docs.Write(docs.WriteRequest{
			Collection: col,
			Count:      1,
			Keys:       strided.Broadcast(key),
			Format:     docs.Canonical,
		}, a)
		if err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type edgeBody struct {
	Source int64  `json:"source"`
	Target int64  `json:"target"`
	Edge   *int64 `json:"edge,omitempty"`
}

// handleEdges serves batch edge upsert/remove and per-vertex lookup.
func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	col, err := s.collection(r)
	if err != nil {
		fail(w, err)
		return
	}
	a := arena.New(4096)

	if r.Method == http.MethodGet {
		vertex, err := strconv.ParseInt(r.URL.Query().Get("vertex"), 10, 64)
		if err != nil {
			fail(w, status.Wrap(status.InvalidArgument, err, "vertex"))
			return
		}
		role, err := parseRole(r.URL.Query().Get("role"))
		if err != nil {
			fail(w, err)
			return
		}
		res, err := s.graph.FindEdges(graph.VerticesRequest{
			Collection: col,
			Count:      1,
			Vertices:   strided.Broadcast(vertex),
			Roles:      strided.Broadcast(role),
		}, a)
		if err != nil {
			fail(w, err)
			return
		}
		type triple struct {
			Source int64 `json:"source"`
			Target int64 `json:"target"`
			Edge   int64 `json:"edge"`
		}
		out := struct {
			Degree  *uint32  `json:"degree"`
			Triples []triple `json:"triples"`
		}{Triples: []triple{}}
		if res.Degrees[0] != graph.DegreeMissing {
			out.Degree = &res.Degrees[0]
		}
		for i := 0; i+2 < len(res.Triples); i += 3 {
			out.Triples = append(out.Triples, triple{res.Triples[i], res.Triples[i+1], res.Triples[i+2]})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	var body []edgeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, status.Wrap(status.ParseFailed, err, "edges body"))
		return
	}
	sources := make([]int64, len(body))
	targets := make([]int64, len(body))
	edges := make([]int64, len(body))
	for i, e := range body {
		sources[i] = e.Source
		targets[i] = e.Target
		edges[i] = graph.AnyEdgeID
		if e.Edge != nil {
			edges[i] = *e.Edge
		}
	}
	req := graph.EdgesRequest{
		Collection: col,
		Count:      len(body),
		Sources:    strided.Of(sources),
		Targets:    strided.Of(targets),
		EdgeIDs:    strided.Of(edges),
	}
	if r.Method == http.MethodPost {
		err = s.graph.UpsertEdges(req, a)
	} else {
		err = s.graph.RemoveEdges(req, a)
	}
	if err != nil {
		fail(w, err)
		return
	}
	logger.Info("edges_batch", "method", r.Method, "count", len(body))
	w.WriteHeader(http.StatusNoContent)
}

// handlePaths serves path reads/writes (?path=) and wildcard
// enumeration (?match=&limit=&previous=).
func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	col, err := s.collection(r)
	if err != nil {
		fail(w, err)
		return
	}
	a := arena.New(4096)
	q := r.URL.Query()

	if pattern := q.Get("match"); pattern != "" && r.Method == http.MethodGet {
		limit := uint32(100)
		if ls := q.Get("limit"); ls != "" {
			n, err := strconv.ParseUint(ls, 10, 32)
			if err != nil {
				fail(w, status.Wrap(status.InvalidArgument, err, "limit"))
				return
			}
			limit = uint32(n)
		}
		res, err := s.paths.Match(paths.MatchRequest{
			Collection: col,
			Pattern:    []byte(pattern),
			Previous:   []byte(q.Get("previous")),
			Limit:      limit,
		}, a)
		if err != nil {
			fail(w, err)
			return
		}
		out := make([]string, res.Count)
		for i := range out {
			out[i] = string(res.PathAt(i))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"paths": out})
		return
	}

	path := q.Get("path")
	if path == "" {
		fail(w, status.New(status.InvalidArgument, "path query parameter required"))
		return
	}
	pathCol := strided.Bytes{
		Blob:    []byte(path),
		Lengths: strided.Broadcast(uint32(len(path))),
		Count:   1,
	}

	switch r.Method {
	case http.MethodGet:
		res, err := s.paths.Read(paths.ReadRequest{Collection: col, Count: 1, Paths: pathCol}, a)
		if err != nil {
			fail(w, err)
			return
		}
		if !res.Presences.Get(0) {
			fail(w, status.Newf(status.NotFound, "path %q", path))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(res.Get(0))
	case http.MethodPut, http.MethodDelete:
		var value []byte
		if r.Method == http.MethodPut {
			value, err = io.ReadAll(r.Body)
			if err != nil {
				fail(w, status.Wrap(status.InvalidArgument, err, "body"))
				return
			}
		}
		err := s.paths.Write(paths.WriteRequest{
			Collection: col,
			Count:      1,
			Paths:      pathCol,
			Values: strided.Bytes{
				Blob:    value,
				Lengths: strided.Broadcast(uint32(len(value))),
				Count:   1,
			},
		}, a)
		if err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func fieldCol(field string) strided.Bytes {
	if field == "" {
		return strided.Bytes{}
	}
	return strided.Bytes{
		Blob:    []byte(field),
		Lengths: strided.Broadcast(uint32(len(field))),
		Count:   1,
	}
}

func contentType(f docs.Format) string {
	if f == docs.JSON {
		return "application/json"
	}
	return "application/octet-stream"
}

func parseMode(s string) (docs.Modify, error) {
	switch s {
	case "", "upsert":
		return docs.Upsert, nil
	case "update":
		return docs.Update, nil
	case "insert":
		return docs.Insert, nil
	case "patch":
		return docs.Patch, nil
	case "merge":
		return docs.Merge, nil
	}
	return 0, status.Newf(status.InvalidArgument, "unknown mode %q", s)
}

func parseRole(s string) (graph.Role, error) {
	switch s {
	case "", "any":
		return graph.RoleAny, nil
	case "source":
		return graph.RoleSource, nil
	case "target":
		return graph.RoleTarget, nil
	}
	return 0, status.Newf(status.InvalidArgument, "unknown role %q", s)
}
