// Package capability defines the external collaborator interfaces the
// CodeGraph query core consumes: Parser, Embedder, NodeStore, and
// LLMClient. Concrete adapters live under pkg/provider/...; this package
// only names the contracts, mirroring the shape of the teacher's
// pkg/provider/llm.Provider interface.
package capability

import "context"

// Parser turns file bytes into nodes and edges. The query core consumes it
// only indirectly, through whatever process populated the NodeStore; it is
// declared here because spec.md names it as a downward capability at the
// core's boundary.
type Parser interface {
	Parse(ctx context.Context, fileBytes []byte, language string) (nodes []ParsedNode, edges []ParsedEdge, err error)
}

// ParsedNode is the Parser's raw output for one declaration, before it has
// an embedding or a place in a shard.
type ParsedNode struct {
	ID        [16]byte
	Name      string
	Kind      string
	Language  string
	FilePath  string
	StartLine int
	EndLine   int
	Body      string
}

// ParsedEdge is the Parser's raw output for one relationship.
type ParsedEdge struct {
	From [16]byte
	To   [16]byte
	Kind string
}

// Embedder turns text into a dense vector. The core pins exactly one
// Embedder per process and rejects shards whose (dimension, metric)
// disagree with it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Metric() string // one of "ip", "cosine", "l2"
}

// Reranker is an optional second-stage scorer. When absent, the Retrieval
// Engine treats reranking as opt-in and identity-preserving.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
}

// RerankCandidate is one item offered to a Reranker.
type RerankCandidate struct {
	NodeID [16]byte
	Text   string
	Score  float64
}

// RerankResult is a Reranker's judgment for one candidate.
type RerankResult struct {
	NodeID NodeID16
	Score  float64
}

// NodeID16 aliases the 16-byte node id to avoid an import cycle with
// pkg/codegraph from this low-level interface package.
type NodeID16 = [16]byte

// NodeStoreRecord is one node as returned by NodeStore.GetMany. A missing
// id has no record: it is absent from the returned map.
type NodeStoreRecord struct {
	ID         [16]byte
	Name       string
	Kind       string
	Language   string
	FilePath   string
	StartLine  int
	EndLine    int
	Body       string
	Embedding  []float32
	Complexity float64
	Metadata   map[string]any
}

// NodeStoreEdge is one edge as returned by NodeStore.EdgesFrom/EdgesTo.
type NodeStoreEdge struct {
	From     [16]byte
	To       [16]byte
	Kind     string
	Weight   float64
	Metadata map[string]any
}

// ShardDescriptor describes one ANN shard as enumerated by
// NodeStore.ShardManifest.
type ShardDescriptor struct {
	ShardID     string
	Dimension   int
	Metric      string
	Variant     string
	VectorCount int
}

// NodeStore is the persistent key-value store holding node bodies and edge
// tables. The core treats it as a read-only snapshot and never recomputes
// node ids.
type NodeStore interface {
	// GetMany fetches a batch of nodes by id. Missing ids are simply absent
	// from the returned map, not an error.
	GetMany(ctx context.Context, ids [][16]byte) (map[[16]byte]NodeStoreRecord, error)

	// EdgesFrom returns outgoing edges for id, optionally filtered by kind.
	EdgesFrom(ctx context.Context, id [16]byte, kind string) ([]NodeStoreEdge, error)

	// EdgesTo returns incoming edges for id, optionally filtered by kind.
	EdgesTo(ctx context.Context, id [16]byte, kind string) ([]NodeStoreEdge, error)

	// ShardManifest enumerates the shards currently known to the store.
	ShardManifest(ctx context.Context) ([]ShardDescriptor, error)
}

// LLMMessage is one turn in a completion request.
type LLMMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// CompletionRequest is the input to LLMClient.Complete.
type CompletionRequest struct {
	System    string
	Messages  []LLMMessage
	MaxTokens int
	Stop      []string
}

// CompletionResponse is the output of LLMClient.Complete.
type CompletionResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// LLMClient is the prompt-to-completion capability the Agent Loop drives.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// AdvertisedContextWindow reports the model's context window in tokens;
	// it drives tier selection (C7).
	AdvertisedContextWindow() int
}
