// Package graph renders the branch-slice DAG discovered by internal/fetch
// as a diagnostic image (SPEC_FULL.md §6 "--graph <file.png>"), the same
// two-step shape as the teacher's cmd/gitgraph: build a
// github.com/emicklei/dot graph in memory, then hand it to
// github.com/goccy/go-graphviz to rasterise. Every branch slice becomes a
// node labelled with its path and start revision; every copy-source link
// recorded in Branch.CopiedInto becomes an edge.
package graph

import (
	"context"
	"fmt"
	"os"

	"github.com/emicklei/dot"
	"github.com/goccy/go-graphviz"

	"github.com/svnbridge/gitsvn/internal/branch"
	"github.com/svnbridge/gitsvn/internal/svnerr"
)

// Build constructs the DOT graph for every branch slice in reg, one node
// per (path, start) slice and one edge per copy-source link.
func Build(reg *branch.Registry) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	nodes := make(map[*branch.Branch]dot.Node)
	for _, b := range reg.All() {
		label := fmt.Sprintf("%s@%d", b.Path, b.Start)
		nodes[b] = g.Node(label)
	}
	for _, b := range reg.All() {
		for _, child := range b.CopiedInto {
			g.Edge(nodes[b], nodes[child])
		}
	}
	return g
}

// RenderPNG builds the graph for reg and writes it as a PNG to path,
// mirroring the teacher's "build dot.Graph, write rendered bytes to
// --graphfile" flow (cmd/gitgraph/gitgraph.go), except rasterised
// through graphviz rather than left as raw DOT text.
func RenderPNG(ctx context.Context, reg *branch.Registry, path string) error {
	g := Build(reg)
	gv := graphviz.New()
	defer gv.Close()

	parsed, err := graphviz.ParseBytes([]byte(g.String()))
	if err != nil {
		return svnerr.Wrap(svnerr.IO, err, "parse branch graph")
	}
	defer parsed.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return svnerr.Wrap(svnerr.IO, err, fmt.Sprintf("open graph output %q", path))
	}
	defer f.Close()

	_ = ctx // reserved for a future context-aware graphviz release
	return gv.Render(parsed, graphviz.PNG, f)
}
