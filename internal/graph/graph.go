// Package graph flattens linked entity records into a deduplicated node-link
// graph: one node per entity identity, one link per reference.
//
// A Graph is built in three passes that must run in order:
//
//  1. Conform, once per root entity (recursing into nested entities)
//  2. FindMissing + ApplyBackfill, to fetch fields and thumbnails the
//     initial query did not return
//  3. ApplyGrouping, to derive single-level group pseudo-nodes
//
// A Graph is owned by a single request and is not safe for concurrent
// mutation, except for the per-type fan-out inside ApplyBackfill.
package graph

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

// step identifies one reference taken while walking the input.
type step struct {
	from  apptype.NodeKey
	field string
	index int
	to    apptype.NodeKey
}

// Graph is the working set of one conform pass.
type Graph struct {
	nodes  *orderedmap.OrderedMap[apptype.NodeKey, *apptype.Node]
	links  []apptype.Link
	taken  map[step]struct{}
	// entities whose Conform call has not returned yet
	active map[apptype.NodeKey]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:  orderedmap.New[apptype.NodeKey, *apptype.Node](),
		links:  make([]apptype.Link, 0),
		taken:  make(map[step]struct{}),
		active: make(map[apptype.NodeKey]struct{}),
	}
}

// Node returns the node stored under key.
func (g *Graph) Node(key apptype.NodeKey) (*apptype.Node, bool) {
	return g.nodes.Get(key)
}

// Nodes returns all nodes in the order they were first seen.
func (g *Graph) Nodes() []*apptype.Node {
	out := make([]*apptype.Node, 0, g.nodes.Len())
	for pair := g.nodes.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return g.nodes.Len() }

// Links returns the links in emission order.
func (g *Graph) Links() []apptype.Link {
	return g.links
}

// Payload serializes nodes followed by groups, plus links.
func (g *Graph) Payload(groups []apptype.Group) *apptype.Payload {
	nodes := make([]any, 0, g.nodes.Len()+len(groups))
	for _, n := range g.Nodes() {
		nodes = append(nodes, n)
	}
	for _, grp := range groups {
		nodes = append(nodes, grp)
	}
	links := make([]apptype.Link, len(g.links))
	copy(links, g.links)
	return &apptype.Payload{Nodes: nodes, Links: links}
}
