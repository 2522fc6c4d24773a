package toolsurface

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codegraph/querycore/internal/graphview"
	"github.com/codegraph/querycore/internal/retrieval"
	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

const (
	graphTraverseMaxLimit    = 200
	graphTraverseMaxDepth    = 6
	enhancedSearchAnnotation = "Summarize in one sentence why this result matches the query."
)

// BuildStandardCatalog registers the nine tools spec.md names, wired to the
// given Retrieval Engine (C5) and Graph View (C3). llm may be nil; in that
// case enhanced_search falls back to plain vector_search without
// annotation, since LLM-backed enrichment is this tool's only LLM
// dependency.
func BuildStandardCatalog(engine *retrieval.Engine, graph *graphview.View, llm capability.LLMClient) (*Catalog, error) {
	c := NewCatalog(nil)

	registrations := []Tool{
		vectorSearchTool(engine),
		enhancedSearchTool(engine, llm),
		graphNeighborsTool(graph),
		graphTraverseTool(graph),
		transitiveDependenciesTool(graph),
		reverseDependenciesTool(graph),
		detectCyclesTool(graph),
		calculateCouplingTool(graph),
		getHubsTool(graph),
	}
	for _, t := range registrations {
		if err := c.Register(t); err != nil {
			return nil, fmt.Errorf("toolsurface: build standard catalog: %w", err)
		}
	}
	return c, nil
}

func searchRequestSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query":  {Type: "string"},
			"paths":  {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"langs":  {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"limit":  {Type: "integer", Minimum: jsonschema.Ptr(1.0)},
			"rerank": {Type: "boolean"},
		},
		Required: []string{"query", "limit"},
	}
}

func searchResultSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"results":  {Type: "array"},
			"degraded": {Type: "boolean"},
		},
	}
}

func vectorSearchTool(engine *retrieval.Engine) Tool {
	return Tool{
		Name:              "vector_search",
		Description:       "Semantic search over indexed code, optionally filtered by path glob and language.",
		ArgSchema:         searchRequestSchema(),
		ObservationSchema: searchResultSchema(),
		Latency:           LatencyMedium,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			req, err := parseSearchRequest(args)
			if err != nil {
				return nil, err
			}
			return engine.Search(ctx, req)
		},
	}
}

func enhancedSearchTool(engine *retrieval.Engine, llm capability.LLMClient) Tool {
	return Tool{
		Name:              "enhanced_search",
		Description:       "Semantic search with an LLM-generated one-line relevance annotation per result.",
		ArgSchema:         searchRequestSchema(),
		ObservationSchema: searchResultSchema(),
		Latency:           LatencySlow,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			req, err := parseSearchRequest(args)
			if err != nil {
				return nil, err
			}
			results, err := engine.Search(ctx, req)
			if err != nil {
				return nil, err
			}
			if llm == nil {
				return results, nil
			}
			return annotate(ctx, llm, req.QueryText, results)
		},
	}
}

// annotate asks llm for a one-line relevance note per result. A failure
// here is not fatal to the tool call: enhanced_search degrades to the plain
// search result with annotations omitted, since the ZERO HEURISTICS rule
// only requires that any annotation present be LLM-attributed, not that
// one always be produced.
func annotate(ctx context.Context, llm capability.LLMClient, query string, results codegraph.RankedResults) (any, error) {
	type annotated struct {
		codegraph.SearchResult
		Annotation string `json:"annotation,omitempty"`
	}
	out := make([]annotated, len(results.Results))
	for i, r := range results.Results {
		out[i] = annotated{SearchResult: r}
		resp, err := llm.Complete(ctx, capability.CompletionRequest{
			System: enhancedSearchAnnotation,
			Messages: []capability.LLMMessage{
				{Role: "user", Content: fmt.Sprintf("Query: %s\nCode:\n%s", query, r.Node.Body)},
			},
			MaxTokens: 64,
		})
		if err != nil {
			continue
		}
		out[i].Annotation = resp.Text
	}
	return struct {
		Results  []annotated `json:"results"`
		Degraded bool        `json:"degraded"`
	}{Results: out, Degraded: results.Degraded}, nil
}

func parseSearchRequest(args map[string]any) (retrieval.Request, error) {
	query, ok := argString(args, "query")
	if !ok || query == "" {
		return retrieval.Request{}, &codegraph.InvalidArgument{Field: "query", Reason: "must be a non-empty string"}
	}
	limit := argInt(args, "limit", 0)
	if limit <= 0 {
		return retrieval.Request{}, &codegraph.InvalidArgument{Field: "limit", Reason: "must be a positive integer"}
	}
	return retrieval.Request{
		QueryText: query,
		Paths:     argStringSlice(args, "paths"),
		Langs:     argStringSlice(args, "langs"),
		Limit:     limit,
		Rerank:    argBool(args, "rerank"),
	}, nil
}

func nodeIDArgSchema(name string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			name: {Type: "string"},
		},
		Required: []string{name},
	}
}

func graphNeighborsTool(graph *graphview.View) Tool {
	schema := nodeIDArgSchema("node_id")
	schema.Properties["kind"] = &jsonschema.Schema{Type: "string"}
	schema.Properties["direction"] = &jsonschema.Schema{Type: "string", Enum: []any{"out", "in", "both"}}

	return Tool{
		Name:        "graph_neighbors",
		Description: "List a node's direct neighbors, optionally filtered by edge kind and direction.",
		ArgSchema:   schema,
		Latency:     LatencyFast,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argNodeID(args, "node_id")
			if err != nil {
				return nil, err
			}
			dir := parseDirection(argStringDefault(args, "direction", "out"))
			kind := codegraph.EdgeKind(argStringDefault(args, "kind", ""))
			return graph.Neighbors(ctx, id, kind, dir)
		},
	}
}

func graphTraverseTool(graph *graphview.View) Tool {
	schema := nodeIDArgSchema("node_id")
	schema.Properties["max_depth"] = &jsonschema.Schema{Type: "integer", Minimum: jsonschema.Ptr(1.0), Maximum: jsonschema.Ptr(float64(graphTraverseMaxDepth))}
	schema.Properties["visit_limit"] = &jsonschema.Schema{Type: "integer", Minimum: jsonschema.Ptr(1.0), Maximum: jsonschema.Ptr(float64(graphTraverseMaxLimit))}
	schema.Properties["kind"] = &jsonschema.Schema{Type: "string"}

	return Tool{
		Name:        "graph_traverse",
		Description: "Bounded breadth-first traversal from a node, capped at depth 6 and 200 visited nodes.",
		ArgSchema:   schema,
		Latency:     LatencyMedium,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argNodeID(args, "node_id")
			if err != nil {
				return nil, err
			}
			maxDepth := argInt(args, "max_depth", graphTraverseMaxDepth)
			if maxDepth > graphTraverseMaxDepth {
				return nil, &codegraph.InvalidArgument{Field: "max_depth", Reason: fmt.Sprintf("must be <= %d", graphTraverseMaxDepth)}
			}
			visitLimit := argInt(args, "visit_limit", graphTraverseMaxLimit)
			if visitLimit > graphTraverseMaxLimit {
				return nil, &codegraph.InvalidArgument{Field: "visit_limit", Reason: fmt.Sprintf("must be <= %d", graphTraverseMaxLimit)}
			}
			kind := codegraph.EdgeKind(argStringDefault(args, "kind", ""))
			return graph.BFS(ctx, id, graphview.BFSOptions{MaxDepth: maxDepth, EdgeFilter: kind, VisitLimit: visitLimit})
		},
	}
}

func depthBoundedNodeTool(name, description string, latency LatencyClass, run func(ctx context.Context, graph *graphview.View, id codegraph.NodeID, kind codegraph.EdgeKind, maxDepth int) (any, error), graph *graphview.View) Tool {
	schema := nodeIDArgSchema("node_id")
	schema.Properties["kind"] = &jsonschema.Schema{Type: "string"}
	schema.Properties["max_depth"] = &jsonschema.Schema{Type: "integer", Minimum: jsonschema.Ptr(1.0)}

	return Tool{
		Name:        name,
		Description: description,
		ArgSchema:   schema,
		Latency:     latency,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argNodeID(args, "node_id")
			if err != nil {
				return nil, err
			}
			kind := codegraph.EdgeKind(argStringDefault(args, "kind", ""))
			maxDepth := argInt(args, "max_depth", graphTraverseMaxDepth)
			return run(ctx, graph, id, kind, maxDepth)
		},
	}
}

func transitiveDependenciesTool(graph *graphview.View) Tool {
	return depthBoundedNodeTool("get_transitive_dependencies",
		"Forward dependency closure of a node under an edge kind, up to a depth bound.",
		LatencyMedium,
		func(ctx context.Context, g *graphview.View, id codegraph.NodeID, kind codegraph.EdgeKind, maxDepth int) (any, error) {
			return g.TransitiveDependencies(ctx, id, kind, maxDepth)
		}, graph)
}

func reverseDependenciesTool(graph *graphview.View) Tool {
	return depthBoundedNodeTool("get_reverse_dependencies",
		"Backward dependency closure of a node under an edge kind, up to a depth bound.",
		LatencyMedium,
		func(ctx context.Context, g *graphview.View, id codegraph.NodeID, kind codegraph.EdgeKind, maxDepth int) (any, error) {
			return g.ReverseDependencies(ctx, id, kind, maxDepth)
		}, graph)
}

func detectCyclesTool(graph *graphview.View) Tool {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"node_ids": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"kind":     {Type: "string"},
		},
		Required: []string{"node_ids"},
	}
	return Tool{
		Name:        "detect_cycles",
		Description: "Find strongly connected components (size >= 2) among the given nodes under an edge kind.",
		ArgSchema:   schema,
		Latency:     LatencySlow,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			scope, err := argNodeIDSlice(args, "node_ids")
			if err != nil {
				return nil, err
			}
			kind := codegraph.EdgeKind(argStringDefault(args, "kind", ""))
			return graph.DetectCycles(ctx, scope, kind)
		},
	}
}

func calculateCouplingTool(graph *graphview.View) Tool {
	schema := nodeIDArgSchema("node_id")
	schema.Properties["kind"] = &jsonschema.Schema{Type: "string"}
	return Tool{
		Name:        "calculate_coupling",
		Description: "Afferent/efferent coupling and instability for a node under an edge kind.",
		ArgSchema:   schema,
		Latency:     LatencyFast,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argNodeID(args, "node_id")
			if err != nil {
				return nil, err
			}
			kind := codegraph.EdgeKind(argStringDefault(args, "kind", ""))
			return graph.Coupling(ctx, id, kind)
		},
	}
}

func getHubsTool(graph *graphview.View) Tool {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"node_ids":   {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"kind":       {Type: "string"},
			"min_degree": {Type: "integer", Minimum: jsonschema.Ptr(1.0)},
		},
		Required: []string{"node_ids", "min_degree"},
	}
	return Tool{
		Name:        "get_hubs",
		Description: "Nodes among the given set whose total degree under an edge kind meets a threshold.",
		ArgSchema:   schema,
		Latency:     LatencyMedium,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			scope, err := argNodeIDSlice(args, "node_ids")
			if err != nil {
				return nil, err
			}
			kind := codegraph.EdgeKind(argStringDefault(args, "kind", ""))
			minDegree := argInt(args, "min_degree", 1)
			return graph.Hubs(ctx, scope, kind, minDegree)
		},
	}
}

func parseDirection(s string) graphview.Direction {
	switch s {
	case "in":
		return graphview.DirectionIn
	case "both":
		return graphview.DirectionBoth
	default:
		return graphview.DirectionOut
	}
}
