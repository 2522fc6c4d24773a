// Package nodecache implements the Node Store Adapter (C2): a batched read
// API over the external NodeStore capability, backed by an in-memory LRU
// cache for hits and a short-TTL negative cache for misses.
//
// The positive cache is a plain hashicorp/golang-lru/v2 Cache; the negative
// cache is an expirable.LRU so that missing-id entries age out on their own
// and absorb races with an asynchronous parser without ever growing
// unbounded. Concurrent callers whose missing ids form the same set (in any
// order) coalesce onto a single underlying batch call via singleflight;
// partly overlapping sets are fetched separately. This mirrors the
// fan-out/join pattern the teacher uses for concurrent tool calibration
// (internal/mcp/mcphost/calibrate.go).
package nodecache

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

const (
	defaultCacheSize = 100_000
	defaultNegTTL    = 60 * time.Second
)

// Option configures a [Cache] at construction time.
type Option func(*config)

type config struct {
	cacheSize int
	negTTL    time.Duration
}

// WithCacheSize overrides the positive-cache capacity (default 100,000
// entries).
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithNegativeTTL overrides how long a missing-id entry is remembered
// (default 60s).
func WithNegativeTTL(d time.Duration) Option {
	return func(c *config) { c.negTTL = d }
}

// Cache wraps a [capability.NodeStore] with batched reads and a two-tier
// cache. All methods are safe for concurrent use.
type Cache struct {
	store    capability.NodeStore
	positive *lru.Cache[codegraph.NodeID, codegraph.Node]
	negative *expirable.LRU[codegraph.NodeID, struct{}]
	group    singleflight.Group
}

// New creates a [Cache] over store with the given options applied over the
// defaults.
func New(store capability.NodeStore, opts ...Option) *Cache {
	cfg := config{cacheSize: defaultCacheSize, negTTL: defaultNegTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	positive, err := lru.New[codegraph.NodeID, codegraph.Node](cfg.cacheSize)
	if err != nil {
		// Only occurs when cacheSize <= 0; fall back to a minimal cache
		// rather than panic in production code paths.
		positive, _ = lru.New[codegraph.NodeID, codegraph.Node](1)
	}

	return &Cache{
		store:    store,
		positive: positive,
		negative: expirable.NewLRU[codegraph.NodeID, struct{}](cfg.cacheSize, nil, cfg.negTTL),
	}
}

// Get fetches a single node, consulting the cache before falling through to
// the underlying store. The bool result reports whether the node exists.
func (c *Cache) Get(ctx context.Context, id codegraph.NodeID) (*codegraph.Node, bool, error) {
	nodes, err := c.GetMany(ctx, []codegraph.NodeID{id})
	if err != nil {
		return nil, false, err
	}
	n, ok := nodes[id]
	if !ok {
		return nil, false, nil
	}
	return n, true, nil
}

// GetMany fetches a batch of nodes, deduplicating ids and issuing at most
// one underlying batch call for whatever is not already cached. Ids absent
// from the returned map do not exist in the node store.
func (c *Cache) GetMany(ctx context.Context, ids []codegraph.NodeID) (map[codegraph.NodeID]*codegraph.Node, error) {
	out := make(map[codegraph.NodeID]*codegraph.Node, len(ids))
	var missing []codegraph.NodeID
	seen := make(map[codegraph.NodeID]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if n, ok := c.positive.Get(id); ok {
			nCopy := n
			out[id] = &nCopy
			continue
		}
		if _, ok := c.negative.Get(id); ok {
			continue // known-missing, still within TTL
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.fetchCoalesced(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, n := range fetched {
		out[id] = n
	}
	return out, nil
}

// fetchCoalesced issues the underlying batch read for ids, using a
// singleflight key derived from the id set so that identical concurrent
// misses share one store round trip.
func (c *Cache) fetchCoalesced(ctx context.Context, ids []codegraph.NodeID) (map[codegraph.NodeID]*codegraph.Node, error) {
	key := coalesceKey(ids)
	storeIDs := make([][16]byte, len(ids))
	for i, id := range ids {
		storeIDs[i] = id
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		records, err := c.store.GetMany(ctx, storeIDs)
		if err != nil {
			return nil, err
		}
		result := make(map[codegraph.NodeID]*codegraph.Node, len(ids))
		for _, id := range ids {
			rec, ok := records[id]
			if !ok {
				c.negative.Add(id, struct{}{})
				continue
			}
			n := recordToNode(rec)
			c.positive.Add(id, n)
			result[id] = &n
		}
		return result, nil
	})
	if err != nil {
		return nil, fmt.Errorf("nodecache: get_many: %w", err)
	}
	return v.(map[codegraph.NodeID]*codegraph.Node), nil
}

// Evict removes a single id from both cache tiers, e.g. after a confirmed
// re-index of that node.
func (c *Cache) Evict(id codegraph.NodeID) {
	c.positive.Remove(id)
	c.negative.Remove(id)
}

// Clear empties both cache tiers. Used after a full re-index.
func (c *Cache) Clear() {
	c.positive.Purge()
	c.negative.Purge()
}

func recordToNode(rec capability.NodeStoreRecord) codegraph.Node {
	return codegraph.Node{
		ID:         rec.ID,
		Name:       rec.Name,
		Kind:       codegraph.NodeKind(rec.Kind),
		Language:   rec.Language,
		FilePath:   rec.FilePath,
		StartLine:  rec.StartLine,
		EndLine:    rec.EndLine,
		Body:       rec.Body,
		Embedding:  rec.Embedding,
		Complexity: rec.Complexity,
		Metadata:   rec.Metadata,
	}
}

// coalesceKey builds a singleflight key stable under id reordering so that
// two concurrent GetMany calls requesting the same set (in any order)
// collapse onto one fetch.
func coalesceKey(ids []codegraph.NodeID) string {
	sorted := make([]codegraph.NodeID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	// A fixed-width separator keeps keys unambiguous given the sorted,
	// fixed-length ids.
	buf := make([]byte, 0, len(sorted)*33)
	for _, id := range sorted {
		buf = append(buf, id[:]...)
		buf = append(buf, '|')
	}
	return string(buf)
}
