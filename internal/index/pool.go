// Package index implements the Vector Index Pool (C1): a process-wide
// mapping from shard id to an opened ANN index and its id-mapping, with
// lazy loading, a configurable memory cap with LRU eviction, and a
// per-shard circuit breaker so a persistently failing shard stops being
// retried on every call.
//
// The pool is many-readers/single-writer: [Pool.Search] and [Pool.Translate]
// look shards up under a read lock; the write lock is taken by [Pool.open]
// (on first access or after eviction), by [Pool.Invalidate], and briefly by
// each cache hit to move the shard to the front of the LRU order.
package index

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codegraph/querycore/internal/resilience"
	"github.com/codegraph/querycore/pkg/codegraph"
)

const defaultMemoryCapBytes = 2 << 30 // 2 GB

// Loader opens a shard's backing files (or an equivalent storage adapter,
// e.g. pkg/storage/postgres) and returns its vectors and id-mapping, plus
// the dimension/metric/variant the manifest declares for it.
type Loader interface {
	Load(ctx context.Context, shardID string) (desc codegraph.ShardDescriptor, vectors [][]float32, ids []codegraph.NodeID, err error)
}

// Option configures a [Pool] at construction time.
type Option func(*poolConfig)

type poolConfig struct {
	memoryCapBytes int64
	ivfThreshold   int
	logger         *slog.Logger
}

// WithMemoryCap overrides the pool's memory ceiling for loaded shards
// (default 2 GB).
func WithMemoryCap(bytes int64) Option {
	return func(c *poolConfig) { c.memoryCapBytes = bytes }
}

// WithIVFThreshold overrides the vector count at which a shard is built as
// IVF-flat instead of flat (default 10,000).
func WithIVFThreshold(n int) Option {
	return func(c *poolConfig) { c.ivfThreshold = n }
}

// WithLogger sets the structured logger used for shard load/evict/failure
// events. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *poolConfig) { c.logger = l }
}

// entryHandle is one loaded shard plus its LRU list element and failure
// breaker.
type entryHandle struct {
	shard   *shard
	breaker *resilience.CircuitBreaker
	elem    *list.Element // element in Pool.order, value is the shard id
}

// Pool owns every opened ANN shard for the process. A zero Pool is not
// usable; construct with [New].
type Pool struct {
	loader Loader
	cfg    poolConfig

	mu        sync.RWMutex
	shards    map[string]*entryHandle
	order     *list.List // front = most recently used
	usedBytes int64
}

// New creates a [Pool] that loads shards on demand through loader.
func New(loader Loader, opts ...Option) *Pool {
	cfg := poolConfig{memoryCapBytes: defaultMemoryCapBytes, ivfThreshold: defaultIVFThreshold, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pool{
		loader: loader,
		cfg:    cfg,
		shards: make(map[string]*entryHandle),
		order:  list.New(),
	}
}

// Search performs an ANN search against shardID, opening it first if
// necessary. nprobe is only consulted for IVF-flat shards; pass 0 to use
// the spec's default formula. A search failure is retried once before
// surfacing [codegraph.IndexFailure]; a load failure surfaces
// [codegraph.IndexUnavailable] without retry (retrying a load is the
// caller's concern, typically the next query).
func (p *Pool) Search(ctx context.Context, shardID string, query []float32, k, nprobe int) ([]codegraph.NodeID, []float64, error) {
	h, err := p.open(ctx, shardID)
	if err != nil {
		return nil, nil, err
	}

	var results []scoredLocal
	runErr := h.breaker.Execute(func() error {
		results = h.shard.search(query, k, nprobe)
		return nil
	})
	if runErr != nil {
		// One retry on a fresh attempt (the breaker only rejects outright
		// once it is open; a single search call has no transient failure
		// mode today, but the retry path stays generic for loaders/metrics
		// implementations that can fail mid-scan).
		runErr = h.breaker.Execute(func() error {
			results = h.shard.search(query, k, nprobe)
			return nil
		})
	}
	if runErr != nil {
		p.cfg.logger.Warn("shard search failed", "shard", shardID, "error", runErr)
		return nil, nil, &codegraph.IndexFailure{Shard: shardID, Cause: runErr}
	}

	locals := make([]int, len(results))
	scores := make([]float64, len(results))
	for i, r := range results {
		locals[i] = r.local
		scores[i] = r.score
	}
	ids := h.shard.translate(locals)
	return ids, scores, nil
}

// Translate maps local index positions within an already-opened shard to
// node ids, without performing a search.
func (p *Pool) Translate(ctx context.Context, shardID string, locals []int) ([]codegraph.NodeID, error) {
	h, err := p.open(ctx, shardID)
	if err != nil {
		return nil, err
	}
	return h.shard.translate(locals), nil
}

// Descriptor returns the manifest descriptor for an already-opened (or
// newly opened) shard.
func (p *Pool) Descriptor(ctx context.Context, shardID string) (codegraph.ShardDescriptor, error) {
	h, err := p.open(ctx, shardID)
	if err != nil {
		return codegraph.ShardDescriptor{}, err
	}
	return h.shard.desc, nil
}

// Invalidate drops the cached handle for shardID; the next access reloads
// it from the loader.
func (p *Pool) Invalidate(shardID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(shardID)
}

// open returns the handle for shardID, loading it on first access. The
// pinned (dimension, metric) check against embedderDim/embedderMetric
// happens in [ValidatingLoader], not here, keeping Pool itself loader-
// agnostic.
func (p *Pool) open(ctx context.Context, shardID string) (*entryHandle, error) {
	p.mu.RLock()
	h, ok := p.shards[shardID]
	if ok {
		p.mu.RUnlock()
		p.touch(shardID)
		return h, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the write lock: another goroutine may have loaded it
	// while we were waiting.
	if h, ok := p.shards[shardID]; ok {
		return h, nil
	}

	desc, vectors, ids, err := p.loader.Load(ctx, shardID)
	if err != nil {
		return nil, &codegraph.IndexUnavailable{Shard: shardID, Cause: err}
	}

	s := buildShard(desc, vectors, ids, p.cfg.ivfThreshold)
	handle := &entryHandle{
		shard:   s,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "shard:" + shardID}),
	}
	handle.elem = p.order.PushFront(shardID)
	p.shards[shardID] = handle
	p.usedBytes += s.sizeBytes

	p.cfg.logger.Info("shard loaded", "shard", shardID, "vectors", len(vectors), "variant", s.desc.Variant)
	p.evictOverCapLocked()
	return handle, nil
}

// touch moves shardID to the front of the LRU order on a read hit.
func (p *Pool) touch(shardID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.shards[shardID]; ok {
		p.order.MoveToFront(h.elem)
	}
}

// evictOverCapLocked evicts the least-recently-used shards until the pool
// is back under its memory cap. Callers must hold p.mu for writing.
func (p *Pool) evictOverCapLocked() {
	for p.usedBytes > p.cfg.memoryCapBytes {
		back := p.order.Back()
		if back == nil {
			return
		}
		shardID := back.Value.(string)
		p.cfg.logger.Info("evicting shard over memory cap", "shard", shardID)
		p.evictLocked(shardID)
	}
}

// evictLocked removes shardID's handle. Callers must hold p.mu for writing.
func (p *Pool) evictLocked(shardID string) {
	h, ok := p.shards[shardID]
	if !ok {
		return
	}
	p.order.Remove(h.elem)
	p.usedBytes -= h.shard.sizeBytes
	delete(p.shards, shardID)
}

// Stats reports the pool's current occupancy, used by the health endpoint.
type Stats struct {
	ShardCount int
	UsedBytes  int64
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{ShardCount: len(p.shards), UsedBytes: p.usedBytes}
}

// shardLoadTimeout bounds how long a single shard load may take before the
// pool gives up and surfaces IndexUnavailable; loading cost is expected to
// be tens to hundreds of milliseconds per spec.md.
const shardLoadTimeout = 10 * time.Second

// LoadWithTimeout is a convenience wrapper Loader implementations may call
// internally to bound their own I/O; Pool itself does not impose this
// timeout on Loader.Load since loaders may have their own cancellation
// policy (e.g. a Postgres statement_timeout).
func LoadWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = shardLoadTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
