package agentloop

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codegraph/querycore/pkg/codegraph"
)

const defaultResultCacheSize = 100

// resultCache is the optional agent-layer result cache keyed by
// (question hash, kind, tier, repo snapshot id), per spec.md's C8 design.
// A zero-size cache (resultCacheSize <= 0) falls back to the default.
type resultCache struct {
	lru *lru.Cache[string, FinalAnswer]
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		size = defaultResultCacheSize
	}
	c, err := lru.New[string, FinalAnswer](size)
	if err != nil {
		c, _ = lru.New[string, FinalAnswer](1)
	}
	return &resultCache{lru: c}
}

func (c *resultCache) get(key string) (FinalAnswer, bool) {
	return c.lru.Get(key)
}

func (c *resultCache) put(key string, answer FinalAnswer) {
	c.lru.Add(key, answer)
}

// cacheKey builds the deterministic cache key for req under the selected
// tier: a hash of the normalized question plus paths/langs filters, the
// analysis kind, the tier name, and the snapshot id.
func cacheKey(req Request, t codegraph.TierProfile) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", strings.ToLower(strings.TrimSpace(req.Question)), req.Kind, t.Tier)
	for _, p := range req.Paths {
		fmt.Fprintf(h, "%s\x01", p)
	}
	h.Write([]byte{0x00})
	for _, l := range req.Langs {
		fmt.Fprintf(h, "%s\x01", l)
	}
	fmt.Fprintf(h, "\x00%s", req.SnapshotID)
	return hex.EncodeToString(h.Sum(nil))
}
