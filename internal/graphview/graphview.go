// Package graphview implements the Graph View (C3): typed edge navigation
// over the NodeStore's edge tables, bounded BFS/DFS, shortest path, and the
// derived analyses (transitive/reverse dependency closure, cycle
// detection, coupling, hubs).
//
// The node graph is intrinsically cyclic (call graphs, import graphs). Per
// the teacher pack's own recursive-CTE traversal
// (pkg/memory/postgres/knowledge_graph.go), this package never embeds
// pointers from one node record into another: every traversal step is an
// id lookup against the NodeStore capability, with a visited set guarding
// against revisiting.
package graphview

import (
	"context"
	"fmt"
	"sort"

	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

// defaultVisitLimit caps worst-case BFS work when the caller does not
// specify one.
const defaultVisitLimit = 5000

// Direction selects which edge table a navigation operation reads.
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
	DirectionBoth
)

// Hydrator resolves node ids to full node records. [nodecache.Cache]
// satisfies this interface structurally.
type Hydrator interface {
	GetMany(ctx context.Context, ids []codegraph.NodeID) (map[codegraph.NodeID]*codegraph.Node, error)
}

// View operates over a NodeStore's edge tables. All methods are safe for
// concurrent use; View holds no mutable state of its own.
type View struct {
	store capability.NodeStore
	nodes Hydrator
}

// New creates a [View] over store, hydrating nodes through nodes.
func New(store capability.NodeStore, nodes Hydrator) *View {
	return &View{store: store, nodes: nodes}
}

// Neighbors returns the edges incident to id in the requested direction,
// optionally filtered by edge kind. Dangling edges — whose far endpoint has
// no live node record — are dropped rather than surfaced, per spec.md's
// "filtered at read time" invariant.
func (v *View) Neighbors(ctx context.Context, id codegraph.NodeID, kindFilter codegraph.EdgeKind, direction Direction) ([]codegraph.Edge, error) {
	edges, err := v.fetchEdges(ctx, id, string(kindFilter), direction)
	if err != nil {
		return nil, fmt.Errorf("graphview: neighbors: %w", err)
	}
	return v.dropDangling(ctx, edges)
}

// fetchEdges reads the raw edge set for id in the given direction.
func (v *View) fetchEdges(ctx context.Context, id codegraph.NodeID, kind string, direction Direction) ([]codegraph.Edge, error) {
	var out []codegraph.Edge

	if direction == DirectionOut || direction == DirectionBoth {
		raw, err := v.store.EdgesFrom(ctx, id, kind)
		if err != nil {
			return nil, err
		}
		for _, e := range raw {
			out = append(out, storeEdgeToEdge(e))
		}
	}
	if direction == DirectionIn || direction == DirectionBoth {
		raw, err := v.store.EdgesTo(ctx, id, kind)
		if err != nil {
			return nil, err
		}
		for _, e := range raw {
			out = append(out, storeEdgeToEdge(e))
		}
	}
	return out, nil
}

// dropDangling removes edges whose far endpoint (the endpoint that is not
// the node we navigated from) no longer resolves to a live node record.
func (v *View) dropDangling(ctx context.Context, edges []codegraph.Edge) ([]codegraph.Edge, error) {
	if len(edges) == 0 {
		return edges, nil
	}
	ids := make([]codegraph.NodeID, 0, len(edges)*2)
	for _, e := range edges {
		ids = append(ids, e.From, e.To)
	}
	live, err := v.nodes.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]codegraph.Edge, 0, len(edges))
	for _, e := range edges {
		if _, ok := live[e.From]; !ok {
			continue
		}
		if _, ok := live[e.To]; !ok {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func storeEdgeToEdge(e capability.NodeStoreEdge) codegraph.Edge {
	return codegraph.Edge{
		From:     e.From,
		To:       e.To,
		Kind:     codegraph.EdgeKind(e.Kind),
		Weight:   e.Weight,
		Metadata: e.Metadata,
	}
}

// BFSOptions bounds a breadth-first traversal.
type BFSOptions struct {
	MaxDepth   int
	EdgeFilter codegraph.EdgeKind // empty means no filter
	VisitLimit int                // 0 means defaultVisitLimit
}

// Visited is one entry yielded by a bounded BFS: a hydrated node and its
// distance from the start.
type Visited struct {
	Node  *codegraph.Node
	Depth int
}

// BFS performs a bounded breadth-first traversal from start over outgoing
// edges, optionally filtered by kind. Traversal stops once max_depth or
// visit_limit is reached. Ties among same-depth, same-parent neighbors are
// broken deterministically by (kind, to_id), matching spec.md's ordering
// requirement. The start node itself is yielded first, at depth 0, per
// spec.md §8's graph_traverse example (start=A over A->B->C->D->E yields
// [A, B, C, D] for max_depth=3).
func (v *View) BFS(ctx context.Context, start codegraph.NodeID, opts BFSOptions) ([]Visited, error) {
	visitLimit := opts.VisitLimit
	if visitLimit <= 0 {
		visitLimit = defaultVisitLimit
	}

	visited := map[codegraph.NodeID]bool{start: true}
	type queued struct {
		id    codegraph.NodeID
		depth int
	}
	queue := []queued{{id: start, depth: 0}}

	orderedIDs := []codegraph.NodeID{start}
	depths := []int{0}

	for len(queue) > 0 && len(orderedIDs) < visitLimit {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= opts.MaxDepth {
			continue
		}

		edges, err := v.fetchEdges(ctx, cur.id, string(opts.EdgeFilter), DirectionOut)
		if err != nil {
			return nil, fmt.Errorf("graphview: bfs: %w", err)
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Kind != edges[j].Kind {
				return edges[i].Kind < edges[j].Kind
			}
			return edges[i].To.Less(edges[j].To)
		})

		for _, e := range edges {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			orderedIDs = append(orderedIDs, e.To)
			depths = append(depths, cur.depth+1)
			queue = append(queue, queued{id: e.To, depth: cur.depth + 1})
			if len(orderedIDs) >= visitLimit {
				break
			}
		}
	}

	hydrated, err := v.nodes.GetMany(ctx, orderedIDs)
	if err != nil {
		return nil, fmt.Errorf("graphview: bfs: hydrate: %w", err)
	}

	out := make([]Visited, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		n, ok := hydrated[id]
		if !ok {
			continue // dangling: node removed since the edge was written
		}
		out = append(out, Visited{Node: n, Depth: depths[i]})
	}
	return out, nil
}

// ShortestPath returns the sequence of node ids from from to to (inclusive
// of both endpoints), or ok=false if no path exists within the bound. It is
// implemented as a BFS that stops as soon as to is reached, which is
// optimal for unweighted graphs. Dangling edges are skipped, so a path
// never passes through or ends at a node missing from the store.
func (v *View) ShortestPath(ctx context.Context, from, to codegraph.NodeID, opts BFSOptions) (path []codegraph.NodeID, ok bool, err error) {
	if from == to {
		return []codegraph.NodeID{from}, true, nil
	}

	visitLimit := opts.VisitLimit
	if visitLimit <= 0 {
		visitLimit = defaultVisitLimit
	}

	visited := map[codegraph.NodeID]bool{from: true}
	parent := map[codegraph.NodeID]codegraph.NodeID{}
	type queued struct {
		id    codegraph.NodeID
		depth int
	}
	queue := []queued{{id: from, depth: 0}}
	visitedCount := 1

	for len(queue) > 0 && visitedCount < visitLimit {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= opts.MaxDepth {
			continue
		}

		edges, ferr := v.fetchEdges(ctx, cur.id, string(opts.EdgeFilter), DirectionOut)
		if ferr != nil {
			return nil, false, fmt.Errorf("graphview: shortest_path: %w", ferr)
		}
		edges, ferr = v.dropDangling(ctx, edges)
		if ferr != nil {
			return nil, false, fmt.Errorf("graphview: shortest_path: %w", ferr)
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Kind != edges[j].Kind {
				return edges[i].Kind < edges[j].Kind
			}
			return edges[i].To.Less(edges[j].To)
		})

		for _, e := range edges {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			parent[e.To] = cur.id
			visitedCount++

			if e.To == to {
				return reconstructPath(parent, from, to), true, nil
			}
			queue = append(queue, queued{id: e.To, depth: cur.depth + 1})
			if visitedCount >= visitLimit {
				break
			}
		}
	}
	return nil, false, nil
}

func reconstructPath(parent map[codegraph.NodeID]codegraph.NodeID, from, to codegraph.NodeID) []codegraph.NodeID {
	var rev []codegraph.NodeID
	cur := to
	for cur != from {
		rev = append(rev, cur)
		cur = parent[cur]
	}
	rev = append(rev, from)

	out := make([]codegraph.NodeID, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}
