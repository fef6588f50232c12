package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/harisbotic/ustore/pkg/arena"
	"github.com/harisbotic/ustore/pkg/docs"
	"github.com/harisbotic/ustore/pkg/graph"
	"github.com/harisbotic/ustore/pkg/logger"
	"github.com/harisbotic/ustore/pkg/paths"
	"github.com/harisbotic/ustore/pkg/strided"
	"github.com/harisbotic/ustore/pkg/substrate"
)

// ustore-inspect dumps the contents of a store through one modality's
// eyes. Useful for eyeballing what a misbehaving client actually wrote.
func main() {
	var dbPath, colName, view string
	var limit uint
	flag.StringVar(&dbPath, "path", "", "store path (required)")
	flag.StringVar(&colName, "collection", "", "collection name; empty for main")
	flag.StringVar(&view, "view", "raw", "one of raw, docs, graph, paths")
	flag.UintVar(&limit, "limit", 1000, "max keys to dump")
	flag.Parse()
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.InitWithLevel("warn")

	db, err := substrate.Open(dbPath, substrate.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	col, err := db.Collection(colName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collection: %v\n", err)
		os.Exit(1)
	}

	a := arena.New(1 << 20)
	keys, err := db.Scan(nil, col, math.MinInt64, uint32(limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}

	switch view {
	case "raw":
		res, err := db.Read(nil, col, keys, a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			os.Exit(1)
		}
		for i, k := range keys {
			fmt.Printf("%d\t%d bytes\n", k, len(res.Get(i)))
		}
	case "docs":
		d := docs.New(db)
		res, err := d.Read(docs.ReadRequest{
			Collection: col,
			Count:      len(keys),
			Keys:       strided.Of(keys),
			Format:     docs.JSON,
		}, a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "docs read: %v\n", err)
			os.Exit(1)
		}
		for i, k := range keys {
			fmt.Printf("%d\t%s\n", k, res.Get(i))
		}
	case "graph":
		g := graph.New(db)
		res, err := g.FindEdges(graph.VerticesRequest{
			Collection: col,
			Count:      len(keys),
			Vertices:   strided.Of(keys),
			Roles:      strided.Broadcast(graph.RoleAny),
		}, a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "find edges: %v\n", err)
			os.Exit(1)
		}
		at := 0
		for i, k := range keys {
			deg := res.Degrees[i]
			if deg == graph.DegreeMissing {
				continue
			}
			fmt.Printf("%d\tdegree=%d\n", k, deg)
			for j := uint32(0); j < deg; j++ {
				t := res.Triples[at : at+3]
				fmt.Printf("\t(%d -> %d) edge=%d\n", t[0], t[1], t[2])
				at += 3
			}
		}
	case "paths":
		p := paths.New(db)
		res, err := p.Match(paths.MatchRequest{
			Collection: col,
			Pattern:    []byte("*"),
			Limit:      uint32(limit),
		}, a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "match: %v\n", err)
			os.Exit(1)
		}
		for i := 0; i < res.Count; i++ {
			fmt.Printf("%s\n", res.PathAt(i))
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown view %q\n", view)
		os.Exit(2)
	}
}
