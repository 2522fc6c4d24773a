package graphview

import (
	"context"
	"fmt"
	"sort"

	"github.com/codegraph/querycore/pkg/codegraph"
)

// TransitiveDependencies returns the forward closure of id over edgeKind:
// every node reachable by following outgoing edges of that kind, up to
// maxDepth hops, excluding id itself.
func (v *View) TransitiveDependencies(ctx context.Context, id codegraph.NodeID, edgeKind codegraph.EdgeKind, maxDepth int) ([]codegraph.NodeID, error) {
	visited, err := v.closure(ctx, id, edgeKind, maxDepth, DirectionOut)
	if err != nil {
		return nil, fmt.Errorf("graphview: transitive_dependencies: %w", err)
	}
	return visited, nil
}

// ReverseDependencies returns the backward closure of id over edgeKind:
// every node that can reach id by following that edge kind, up to maxDepth
// hops, excluding id itself.
func (v *View) ReverseDependencies(ctx context.Context, id codegraph.NodeID, edgeKind codegraph.EdgeKind, maxDepth int) ([]codegraph.NodeID, error) {
	visited, err := v.closure(ctx, id, edgeKind, maxDepth, DirectionIn)
	if err != nil {
		return nil, fmt.Errorf("graphview: reverse_dependencies: %w", err)
	}
	return visited, nil
}

// closure performs an id-only BFS in the given direction, returning the
// visited set in discovery order. Dangling edges are dropped before they
// are followed, so every returned id resolves to a live node. It is
// monotone in maxDepth: increasing maxDepth only ever adds ids, matching
// spec.md's round-trip law for transitive_dependencies.
func (v *View) closure(ctx context.Context, start codegraph.NodeID, edgeKind codegraph.EdgeKind, maxDepth int, direction Direction) ([]codegraph.NodeID, error) {
	visited := map[codegraph.NodeID]bool{start: true}
	type queued struct {
		id    codegraph.NodeID
		depth int
	}
	queue := []queued{{id: start, depth: 0}}

	var out []codegraph.NodeID
	for len(queue) > 0 && len(out) < defaultVisitLimit {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		edges, err := v.fetchEdges(ctx, cur.id, string(edgeKind), direction)
		if err != nil {
			return nil, err
		}
		edges, err = v.dropDangling(ctx, edges)
		if err != nil {
			return nil, err
		}
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Kind != edges[j].Kind {
				return edges[i].Kind < edges[j].Kind
			}
			return edges[i].To.Less(edges[j].To)
		})

		for _, e := range edges {
			next := e.To
			if direction == DirectionIn {
				next = e.From
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, queued{id: next, depth: cur.depth + 1})
		}
	}
	return out, nil
}

// Coupling returns the afferent (Ca) and efferent (Ce) edge counts for id
// under edgeKind, and the instability I = Ce / (Ca + Ce). When Ca+Ce is 0,
// Instability is reported as 0 rather than NaN.
type Coupling struct {
	Afferent    int // Ca: incoming edges
	Efferent    int // Ce: outgoing edges
	Instability float64
}

func (v *View) Coupling(ctx context.Context, id codegraph.NodeID, edgeKind codegraph.EdgeKind) (Coupling, error) {
	in, err := v.store.EdgesTo(ctx, id, string(edgeKind))
	if err != nil {
		return Coupling{}, fmt.Errorf("graphview: coupling: %w", err)
	}
	out, err := v.store.EdgesFrom(ctx, id, string(edgeKind))
	if err != nil {
		return Coupling{}, fmt.Errorf("graphview: coupling: %w", err)
	}

	ca, ce := len(in), len(out)
	c := Coupling{Afferent: ca, Efferent: ce}
	if ca+ce > 0 {
		c.Instability = float64(ce) / float64(ca+ce)
	}
	return c, nil
}

// SCC is one strongly connected component of size at least 2, as returned
// by DetectCycles.
type SCC struct {
	Members []codegraph.NodeID
}

// DetectCycles runs Tarjan's algorithm over the subgraph induced by scope
// (the set of node ids to consider) and edgeKind, returning every strongly
// connected component of size >= 2 — i.e. every genuine cycle, excluding
// the trivial single-node "component" every acyclic node forms on its own.
//
// scope bounds the search because NodeStore exposes no "list all node ids"
// capability; callers (typically the Tool Surface) seed it from a prior
// retrieval or traversal.
func (v *View) DetectCycles(ctx context.Context, scope []codegraph.NodeID, edgeKind codegraph.EdgeKind) ([]SCC, error) {
	t := &tarjan{
		v:        v,
		ctx:      ctx,
		edgeKind: edgeKind,
		inScope:  make(map[codegraph.NodeID]bool, len(scope)),
		index:    make(map[codegraph.NodeID]int),
		lowlink:  make(map[codegraph.NodeID]int),
		onStack:  make(map[codegraph.NodeID]bool),
	}
	for _, id := range scope {
		t.inScope[id] = true
	}

	for _, id := range scope {
		if _, seen := t.index[id]; seen {
			continue
		}
		if err := t.strongconnect(id); err != nil {
			return nil, fmt.Errorf("graphview: detect_cycles: %w", err)
		}
	}

	var out []SCC
	for _, members := range t.sccs {
		if len(members) >= 2 {
			sort.Slice(members, func(i, j int) bool { return members[i].Less(members[j]) })
			out = append(out, SCC{Members: members})
		}
	}
	return out, nil
}

// tarjan holds the working state for one DetectCycles run. It is not
// reusable across calls.
type tarjan struct {
	v        *View
	ctx      context.Context
	edgeKind codegraph.EdgeKind
	inScope  map[codegraph.NodeID]bool

	counter int
	index   map[codegraph.NodeID]int
	lowlink map[codegraph.NodeID]int
	onStack map[codegraph.NodeID]bool
	stack   []codegraph.NodeID
	sccs    [][]codegraph.NodeID
}

func (t *tarjan) strongconnect(id codegraph.NodeID) error {
	t.index[id] = t.counter
	t.lowlink[id] = t.counter
	t.counter++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	edges, err := t.v.store.EdgesFrom(t.ctx, id, string(t.edgeKind))
	if err != nil {
		return err
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		return codegraph.NodeID(edges[i].To).Less(codegraph.NodeID(edges[j].To))
	})

	for _, e := range edges {
		to := codegraph.NodeID(e.To)
		if !t.inScope[to] {
			continue
		}
		if _, seen := t.index[to]; !seen {
			if err := t.strongconnect(to); err != nil {
				return err
			}
			if t.lowlink[to] < t.lowlink[id] {
				t.lowlink[id] = t.lowlink[to]
			}
		} else if t.onStack[to] {
			if t.index[to] < t.lowlink[id] {
				t.lowlink[id] = t.index[to]
			}
		}
	}

	if t.lowlink[id] == t.index[id] {
		var members []codegraph.NodeID
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			members = append(members, w)
			if w == id {
				break
			}
		}
		t.sccs = append(t.sccs, members)
	}
	return nil
}

// Hub is a node whose total (in + out) degree under edgeKind meets or
// exceeds the requested threshold, as returned by Hubs.
type Hub struct {
	NodeID codegraph.NodeID
	Degree int
}

// Hubs returns every node in scope whose total degree under edgeKind is at
// least minDegree, sorted by degree descending (ties broken by node id for
// determinism).
//
// Like DetectCycles, scope bounds the search since NodeStore has no
// enumerate-all-ids capability.
func (v *View) Hubs(ctx context.Context, scope []codegraph.NodeID, edgeKind codegraph.EdgeKind, minDegree int) ([]Hub, error) {
	var out []Hub
	for _, id := range scope {
		in, err := v.store.EdgesTo(ctx, id, string(edgeKind))
		if err != nil {
			return nil, fmt.Errorf("graphview: hubs: %w", err)
		}
		out2, err := v.store.EdgesFrom(ctx, id, string(edgeKind))
		if err != nil {
			return nil, fmt.Errorf("graphview: hubs: %w", err)
		}
		degree := len(in) + len(out2)
		if degree >= minDegree {
			out = append(out, Hub{NodeID: id, Degree: degree})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Degree != out[j].Degree {
			return out[i].Degree > out[j].Degree
		}
		return out[i].NodeID.Less(out[j].NodeID)
	})
	return out, nil
}
