// Package querycache implements the Query Cache (C4): a fingerprint keyed
// LRU with TTL, plus in-flight coalescing so that concurrent callers for
// the same fingerprint share one underlying computation rather than
// repeating it.
package querycache

import (
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/codegraph/querycore/pkg/codegraph"
)

const (
	defaultSize = 1_000
	defaultTTL  = 300 * time.Second
)

// Option configures a [Cache] at construction time.
type Option func(*config)

type config struct {
	size int
	ttl  time.Duration
}

// WithSize overrides the cache's entry capacity (default 1,000).
func WithSize(n int) Option {
	return func(c *config) { c.size = n }
}

// WithTTL overrides how long a cached result remains valid (default 300s).
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// entry is what the cache actually stores: the ranked result plus the shard
// ids that contributed to it, so a shard invalidation event can drop just
// the entries it touched.
type entry struct {
	result codegraph.RankedResults
	shards []string
}

// Cache is a fingerprint → result cache with in-flight coalescing. All
// methods are safe for concurrent use.
type Cache struct {
	lru   *expirable.LRU[codegraph.Fingerprint, entry]
	group singleflight.Group
}

// New creates a [Cache] with the given options applied over the defaults.
func New(opts ...Option) *Cache {
	cfg := config{size: defaultSize, ttl: defaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache{
		lru: expirable.NewLRU[codegraph.Fingerprint, entry](cfg.size, nil, cfg.ttl),
	}
}

// Get returns a cached result for fp if one exists and has not expired.
func (c *Cache) Get(fp codegraph.Fingerprint) (codegraph.RankedResults, bool) {
	e, ok := c.lru.Get(fp)
	if !ok {
		return codegraph.RankedResults{}, false
	}
	return e.result, true
}

// Execute returns the cached result for fp if present; otherwise it calls
// compute, coalescing concurrent callers that share the same fingerprint
// onto a single invocation of compute, and caches the result only on
// success. shardsTouched should list every shard id compute's result drew
// from, enabling later partial invalidation via [Cache.InvalidateShard].
func (c *Cache) Execute(
	fp codegraph.Fingerprint,
	compute func() (codegraph.RankedResults, []string, error),
) (codegraph.RankedResults, error) {
	if r, ok := c.Get(fp); ok {
		return r, nil
	}

	v, err, _ := c.group.Do(fp.String(), func() (any, error) {
		// Re-check: another goroutine may have populated the cache while we
		// were waiting to become the singleflight leader.
		if r, ok := c.Get(fp); ok {
			return r, nil
		}
		result, shards, err := compute()
		if err != nil {
			return nil, err
		}
		c.lru.Add(fp, entry{result: result, shards: shards})
		return result, nil
	})
	if err != nil {
		return codegraph.RankedResults{}, fmt.Errorf("querycache: compute: %w", err)
	}
	return v.(codegraph.RankedResults), nil
}

// Reset clears every cached entry unconditionally.
func (c *Cache) Reset() {
	c.lru.Purge()
}

// InvalidateShard drops every cached entry that drew any of its results
// from shardID, in response to a shard invalidation event from the index
// pool (C1).
func (c *Cache) InvalidateShard(shardID string) {
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if slices.Contains(e.shards, shardID) {
			c.lru.Remove(key)
		}
	}
}

// Len returns the number of entries currently cached (including any that
// have conceptually expired but not yet been swept).
func (c *Cache) Len() int {
	return c.lru.Len()
}
