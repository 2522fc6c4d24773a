// Package mock provides in-memory test doubles for the capability
// interfaces consumed by the query core: [capability.Embedder],
// [capability.NodeStore], and [capability.LLMClient].
//
// Each double records every call for assertion in tests and exposes
// exported fields that control what it returns. All doubles are safe for
// concurrent use via an internal [sync.Mutex].
package mock

import (
	"context"
	"sync"

	"github.com/codegraph/querycore/pkg/capability"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Embedder is a configurable test double for [capability.Embedder].
type Embedder struct {
	mu sync.Mutex

	calls []Call

	// EmbedFunc, when set, is invoked by Embed instead of the default
	// behaviour (returning EmbedResult/EmbedErr). Useful for per-text
	// responses.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedResult is returned by Embed when EmbedFunc is nil and EmbedErr is
	// nil.
	EmbedResult []float32

	// EmbedErr is returned by Embed when non-nil and EmbedFunc is nil.
	EmbedErr error

	// DimensionResult is returned by Dimension.
	DimensionResult int

	// MetricResult is returned by Metric.
	MetricResult string
}

// Embed implements [capability.Embedder].
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Method: "Embed", Args: []any{text}})
	fn := e.EmbedFunc
	e.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	if e.EmbedErr != nil {
		return nil, e.EmbedErr
	}
	out := make([]float32, len(e.EmbedResult))
	copy(out, e.EmbedResult)
	return out, nil
}

// Dimension implements [capability.Embedder].
func (e *Embedder) Dimension() int { return e.DimensionResult }

// Metric implements [capability.Embedder].
func (e *Embedder) Metric() string { return e.MetricResult }

// CallCount returns how many times the named method was invoked.
func (e *Embedder) CallCount(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

var _ capability.Embedder = (*Embedder)(nil)

// NodeStore is a configurable test double for [capability.NodeStore].
type NodeStore struct {
	mu sync.Mutex

	calls []Call

	// Records maps node id to the record NodeStore holds for it. GetMany
	// omits any id not present in this map, matching the real contract for
	// missing nodes.
	Records map[[16]byte]capability.NodeStoreRecord

	// EdgesFromByID and EdgesToByID supply canned edge lists per node id.
	// EdgesFrom/EdgesTo return only the edges whose Kind equals the
	// requested kind, or every edge when the requested kind is empty.
	EdgesFromByID map[[16]byte][]capability.NodeStoreEdge
	EdgesToByID   map[[16]byte][]capability.NodeStoreEdge

	// ManifestResult is returned by ShardManifest.
	ManifestResult []capability.ShardDescriptor

	// GetManyErr, EdgesFromErr, EdgesToErr, ManifestErr are returned by the
	// corresponding method when non-nil.
	GetManyErr   error
	EdgesFromErr error
	EdgesToErr   error
	ManifestErr  error
}

// GetMany implements [capability.NodeStore].
func (s *NodeStore) GetMany(_ context.Context, ids [][16]byte) (map[[16]byte]capability.NodeStoreRecord, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "GetMany", Args: []any{ids}})
	s.mu.Unlock()

	if s.GetManyErr != nil {
		return nil, s.GetManyErr
	}
	out := make(map[[16]byte]capability.NodeStoreRecord, len(ids))
	seen := make(map[[16]byte]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if rec, ok := s.Records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// EdgesFrom implements [capability.NodeStore].
func (s *NodeStore) EdgesFrom(_ context.Context, id [16]byte, kind string) ([]capability.NodeStoreEdge, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "EdgesFrom", Args: []any{id, kind}})
	s.mu.Unlock()

	if s.EdgesFromErr != nil {
		return nil, s.EdgesFromErr
	}
	return filterByKind(s.EdgesFromByID[id], kind), nil
}

// EdgesTo implements [capability.NodeStore].
func (s *NodeStore) EdgesTo(_ context.Context, id [16]byte, kind string) ([]capability.NodeStoreEdge, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "EdgesTo", Args: []any{id, kind}})
	s.mu.Unlock()

	if s.EdgesToErr != nil {
		return nil, s.EdgesToErr
	}
	return filterByKind(s.EdgesToByID[id], kind), nil
}

// ShardManifest implements [capability.NodeStore].
func (s *NodeStore) ShardManifest(_ context.Context) ([]capability.ShardDescriptor, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "ShardManifest", Args: nil})
	s.mu.Unlock()

	if s.ManifestErr != nil {
		return nil, s.ManifestErr
	}
	out := make([]capability.ShardDescriptor, len(s.ManifestResult))
	copy(out, s.ManifestResult)
	return out, nil
}

// CallCount returns how many times the named method was invoked.
func (s *NodeStore) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func filterByKind(edges []capability.NodeStoreEdge, kind string) []capability.NodeStoreEdge {
	if kind == "" {
		out := make([]capability.NodeStoreEdge, len(edges))
		copy(out, edges)
		return out
	}
	out := make([]capability.NodeStoreEdge, 0, len(edges))
	for _, e := range edges {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var _ capability.NodeStore = (*NodeStore)(nil)

// LLMClient is a configurable test double for [capability.LLMClient].
type LLMClient struct {
	mu sync.Mutex

	calls []Call

	// Replies is consumed in order by successive Complete calls. When
	// exhausted, the last entry is repeated.
	Replies []capability.CompletionResponse

	// CompleteErr is returned by Complete when non-nil.
	CompleteErr error

	// ContextWindow is returned by AdvertisedContextWindow.
	ContextWindow int
}

// Complete implements [capability.LLMClient].
func (c *LLMClient) Complete(_ context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.calls)
	c.calls = append(c.calls, Call{Method: "Complete", Args: []any{req}})

	if c.CompleteErr != nil {
		return capability.CompletionResponse{}, c.CompleteErr
	}
	if len(c.Replies) == 0 {
		return capability.CompletionResponse{}, nil
	}
	if idx >= len(c.Replies) {
		idx = len(c.Replies) - 1
	}
	return c.Replies[idx], nil
}

// AdvertisedContextWindow implements [capability.LLMClient].
func (c *LLMClient) AdvertisedContextWindow() int { return c.ContextWindow }

// CallCount returns how many times the named method was invoked.
func (c *LLMClient) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

var _ capability.LLMClient = (*LLMClient)(nil)
