// Package retrieval implements the Retrieval Engine (C5): the single
// search() entry point that ties together the query cache (C4), the
// embedder, the vector index pool (C1), the node store adapter (C2), and an
// optional reranker into one ranked, hydrated, filtered result set.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/codegraph/querycore/internal/index"
	"github.com/codegraph/querycore/internal/nodecache"
	"github.com/codegraph/querycore/internal/querycache"
	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

const (
	defaultOverfetchMultiplier  = 3
	defaultCandidateMultiplier = 2
)

// Option configures an [Engine] at construction time.
type Option func(*config)

type config struct {
	overfetchMultiplier  int
	candidateMultiplier int
	logger              *slog.Logger
}

// WithOverfetchMultiplier overrides how many candidates (limit * n) each
// shard is asked for before merge (default 3).
func WithOverfetchMultiplier(n int) Option {
	return func(c *config) { c.overfetchMultiplier = n }
}

// WithCandidateMultiplier overrides how many merged candidates (limit * n)
// survive to hydration/rerank before the final trim (default 2).
func WithCandidateMultiplier(n int) Option {
	return func(c *config) { c.candidateMultiplier = n }
}

// WithLogger sets the structured logger used for per-shard failure
// reporting. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Request is the argument to [Engine.Search], mirroring spec.md's
// search(query_text, {paths?, langs?, limit, rerank?}) signature.
type Request struct {
	QueryText string
	Paths     []string // glob patterns matched against Node.FilePath
	Langs     []string // exact matches against Node.Language
	Limit     int
	Rerank    bool // honored only when Engine was built with a Reranker
}

// Engine is the Retrieval Engine. Construct with [New].
type Engine struct {
	embedder capability.Embedder
	store    capability.NodeStore
	pool     *index.Pool
	nodes    *nodecache.Cache
	cache    *querycache.Cache
	reranker capability.Reranker // nil when reranking is not configured
	cfg      config
}

// New creates an [Engine]. reranker may be nil; in that case rerank is
// always a no-op regardless of Request.Rerank.
func New(
	embedder capability.Embedder,
	store capability.NodeStore,
	pool *index.Pool,
	nodes *nodecache.Cache,
	cache *querycache.Cache,
	reranker capability.Reranker,
	opts ...Option,
) *Engine {
	cfg := config{
		overfetchMultiplier:  defaultOverfetchMultiplier,
		candidateMultiplier: defaultCandidateMultiplier,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{embedder: embedder, store: store, pool: pool, nodes: nodes, cache: cache, reranker: reranker, cfg: cfg}
}

// Search executes the full retrieval pipeline described in spec.md: cache
// lookup, singleflight-coalesced embed + ANN fan-out, merge/rescore, batched
// hydration, optional rerank, trim, and post-filtering. Identical concurrent
// requests for the same fingerprint share one embedder call and one shard
// fan-out.
func (e *Engine) Search(ctx context.Context, req Request) (codegraph.RankedResults, error) {
	if req.Limit <= 0 {
		return codegraph.RankedResults{}, nil
	}

	fp := codegraph.ComputeFingerprint(codegraph.SearchParams{
		QueryText: req.QueryText,
		Paths:     req.Paths,
		Langs:     req.Langs,
		Limit:     req.Limit,
	})

	result, err := e.cache.Execute(fp, func() (codegraph.RankedResults, []string, error) {
		return e.compute(ctx, req)
	})
	if err != nil {
		return codegraph.RankedResults{}, err
	}
	return result, nil
}

// compute runs the uncached retrieval pipeline once. Its second return
// value lists every shard id that contributed a surviving candidate, for
// [querycache.Cache]'s partial-invalidation bookkeeping.
func (e *Engine) compute(ctx context.Context, req Request) (codegraph.RankedResults, []string, error) {
	start := time.Now()
	var timings codegraph.PhaseTimings

	embedStart := time.Now()
	query, err := e.embedder.Embed(ctx, req.QueryText)
	timings.Embed = time.Since(embedStart)
	if err != nil {
		return codegraph.RankedResults{}, nil, &codegraph.EmbedderFailure{Cause: err}
	}

	manifest, err := e.store.ShardManifest(ctx)
	if err != nil {
		return codegraph.RankedResults{}, nil, fmt.Errorf("retrieval: shard_manifest: %w", err)
	}

	fanStart := time.Now()
	overfetch := req.Limit * e.cfg.overfetchMultiplier
	candidates, touched, succeeded := e.fanOut(ctx, manifest, query, overfetch)
	timings.ShardFan = time.Since(fanStart)

	// RetrievalFailed is reserved for "no usable shards remained" (spec.md
	// §4.5): a shard that succeeds with zero candidates (an empty or not
	// yet indexed shard) is not a failure and must not trip this.
	if succeeded == 0 && len(manifest) > 0 {
		return codegraph.RankedResults{}, nil, codegraph.ErrRetrievalFailed
	}

	mergeStart := time.Now()
	merged := mergeCandidates(candidates)
	candidateLimit := req.Limit * e.cfg.candidateMultiplier
	if candidateLimit < len(merged) {
		merged = merged[:candidateLimit]
	}
	timings.Merge = time.Since(mergeStart)

	hydrateStart := time.Now()
	degraded := false
	results, herr := e.hydrate(ctx, merged)
	if herr != nil {
		e.cfg.logger.Warn("retrieval: node-store hydration failed, degrading to empty result", "error", herr)
		degraded = true
		results = nil
	}
	timings.Hydrate = time.Since(hydrateStart)

	results = filterResults(results, req.Paths, req.Langs)

	if req.Rerank && e.reranker != nil && len(results) > 0 {
		rerankStart := time.Now()
		results = e.rerank(ctx, req.QueryText, results)
		timings.Rerank = time.Since(rerankStart)
	}

	sortResults(results)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	timings.Total = time.Since(start)

	return codegraph.RankedResults{Results: results, Degraded: degraded, Timings: timings}, touched, nil
}

// shardCandidate is one raw (node id, score) pair from a single shard's ANN
// scan, before merge across shards.
type shardCandidate struct {
	nodeID  codegraph.NodeID
	score   float64 // unified: higher is always better
	shardID string
}

// fanOut queries every shard in manifest concurrently and returns the
// flattened surviving candidates, the set of shard ids that returned at
// least one candidate, and the count of shards that searched successfully
// (regardless of how many candidates they contributed — a shard with zero
// vectors still counts as succeeded). A shard whose search fails is logged
// and dropped, never propagated, per spec.md's per-shard failure isolation.
func (e *Engine) fanOut(ctx context.Context, manifest []capability.ShardDescriptor, query []float32, k int) ([]shardCandidate, []string, int) {
	type shardResult struct {
		candidates []shardCandidate
		ok         bool
	}
	results := make([]shardResult, len(manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range manifest {
		i, desc := i, desc
		g.Go(func() error {
			ids, scores, err := e.pool.Search(gctx, desc.ShardID, query, k, 0)
			if err != nil {
				e.cfg.logger.Warn("retrieval: shard search failed, dropping shard", "shard", desc.ShardID, "error", err)
				return nil
			}
			higherBetter := desc.Metric != string(codegraph.MetricL2)
			out := make([]shardCandidate, len(ids))
			for j, id := range ids {
				score := scores[j]
				if !higherBetter {
					score = -score
				}
				out[j] = shardCandidate{nodeID: id, score: score, shardID: desc.ShardID}
			}
			results[i] = shardResult{candidates: out, ok: true}
			return nil
		})
	}
	_ = g.Wait() // per-shard errors are already swallowed inside each goroutine

	var all []shardCandidate
	var touched []string
	succeeded := 0
	for _, r := range results {
		if !r.ok {
			continue
		}
		succeeded++
		if len(r.candidates) > 0 {
			touched = append(touched, r.candidates[0].shardID)
		}
		all = append(all, r.candidates...)
	}
	return all, touched, succeeded
}

// mergeCandidates deduplicates candidates by node id (keeping the best
// score seen for each) and sorts by unified score descending, tie-broken by
// node id ascending for determinism.
func mergeCandidates(candidates []shardCandidate) []shardCandidate {
	best := make(map[codegraph.NodeID]shardCandidate, len(candidates))
	for _, c := range candidates {
		if existing, ok := best[c.nodeID]; !ok || c.score > existing.score {
			best[c.nodeID] = c
		}
	}

	out := make([]shardCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].nodeID.Less(out[j].nodeID)
	})
	return out
}

// hydrate resolves the merged candidates to full node records via the node
// cache, dropping any id that no longer exists.
func (e *Engine) hydrate(ctx context.Context, candidates []shardCandidate) ([]codegraph.SearchResult, error) {
	ids := make([]codegraph.NodeID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.nodeID
	}
	nodes, err := e.nodes.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]codegraph.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		n, ok := nodes[c.nodeID]
		if !ok {
			continue
		}
		out = append(out, codegraph.SearchResult{
			NodeID:     c.nodeID,
			Score:      c.score,
			Node:       n,
			FinalScore: c.score,
		})
	}
	return out, nil
}

// filterResults applies the path-glob and language-set post-filters.
func filterResults(results []codegraph.SearchResult, paths, langs []string) []codegraph.SearchResult {
	if len(paths) == 0 && len(langs) == 0 {
		return results
	}

	var pathGlobs []glob.Glob
	for _, p := range paths {
		if g, err := glob.Compile(p, '/'); err == nil {
			pathGlobs = append(pathGlobs, g)
		}
	}
	langSet := make(map[string]bool, len(langs))
	for _, l := range langs {
		langSet[l] = true
	}

	out := results[:0:0]
	for _, r := range results {
		if len(pathGlobs) > 0 && !matchesAny(pathGlobs, r.Node.FilePath) {
			continue
		}
		if len(langSet) > 0 && !langSet[r.Node.Language] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// rerank invokes the configured Reranker and merges its scores back into
// the candidate set. A reranker failure is logged and the original
// ANN-order scores are kept, since reranking is an optional enrichment
// stage, never a hard dependency.
func (e *Engine) rerank(ctx context.Context, queryText string, results []codegraph.SearchResult) []codegraph.SearchResult {
	cands := make([]capability.RerankCandidate, len(results))
	for i, r := range results {
		cands[i] = capability.RerankCandidate{NodeID: r.NodeID, Text: r.Node.Body, Score: r.Score}
	}

	scored, err := e.reranker.Rerank(ctx, queryText, cands)
	if err != nil {
		e.cfg.logger.Warn("retrieval: rerank failed, keeping ANN order", "error", err)
		return results
	}

	byID := make(map[codegraph.NodeID]float64, len(scored))
	for _, s := range scored {
		byID[s.NodeID] = s.Score
	}

	for i := range results {
		if score, ok := byID[results[i].NodeID]; ok {
			s := score
			results[i].RerankScore = &s
			results[i].FinalScore = s
		}
	}
	return results
}

// sortResults orders by FinalScore descending, then raw Score descending,
// then node id ascending, matching spec.md's ordering invariant.
func sortResults(results []codegraph.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].NodeID.Less(results[j].NodeID)
	})
}
