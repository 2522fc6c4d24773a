package querycache_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codegraph/querycore/internal/querycache"
	"github.com/codegraph/querycore/pkg/codegraph"
)

func fp(seed byte) codegraph.Fingerprint {
	return codegraph.ComputeFingerprint(codegraph.SearchParams{
		QueryText: string(rune('a' + seed)),
		Limit:     int(seed),
	})
}

func TestGet_MissOnEmptyCache(t *testing.T) {
	c := querycache.New()
	if _, ok := c.Get(fp(1)); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestExecute_CachesOnSuccess(t *testing.T) {
	c := querycache.New()
	key := fp(1)
	calls := 0

	compute := func() (codegraph.RankedResults, []string, error) {
		calls++
		return codegraph.RankedResults{Results: []codegraph.SearchResult{{NodeID: codegraph.NodeID{1}}}}, []string{"shard-a"}, nil
	}

	r1, err := c.Execute(key, compute)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	r2, err := c.Execute(key, compute)
	if err != nil {
		t.Fatalf("Execute (cached): %v", err)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	if len(r1.Results) != 1 || len(r2.Results) != 1 {
		t.Errorf("unexpected results: %+v / %+v", r1, r2)
	}

	if _, ok := c.Get(key); !ok {
		t.Error("expected Get to find the cached entry after Execute")
	}
}

func TestExecute_DoesNotCacheOnError(t *testing.T) {
	c := querycache.New()
	key := fp(2)
	wantErr := errors.New("compute failed")

	_, err := c.Execute(key, func() (codegraph.RankedResults, []string, error) {
		return codegraph.RankedResults{}, nil, wantErr
	})
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("Execute error = %v, want wrapping %v", err, wantErr)
	}
	if _, ok := c.Get(key); ok {
		t.Error("expected no cache entry after a failed compute")
	}
}

func TestExecute_CoalescesConcurrentCallers(t *testing.T) {
	c := querycache.New()
	key := fp(3)

	var calls int32
	var mu sync.Mutex
	release := make(chan struct{})

	compute := func() (codegraph.RankedResults, []string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return codegraph.RankedResults{}, []string{"shard-a"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Execute(key, compute); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("compute called %d times across concurrent callers, want 1", calls)
	}
}

func TestInvalidateShard_RemovesOnlyMatchingEntries(t *testing.T) {
	c := querycache.New()
	keyA, keyB := fp(4), fp(5)

	if _, err := c.Execute(keyA, func() (codegraph.RankedResults, []string, error) {
		return codegraph.RankedResults{}, []string{"shard-a"}, nil
	}); err != nil {
		t.Fatalf("Execute A: %v", err)
	}
	if _, err := c.Execute(keyB, func() (codegraph.RankedResults, []string, error) {
		return codegraph.RankedResults{}, []string{"shard-b"}, nil
	}); err != nil {
		t.Fatalf("Execute B: %v", err)
	}

	c.InvalidateShard("shard-a")

	if _, ok := c.Get(keyA); ok {
		t.Error("expected entry touching shard-a to be invalidated")
	}
	if _, ok := c.Get(keyB); !ok {
		t.Error("expected entry touching shard-b to survive")
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	c := querycache.New()
	key := fp(6)
	if _, err := c.Execute(key, func() (codegraph.RankedResults, []string, error) {
		return codegraph.RankedResults{}, nil, nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", c.Len())
	}
}

func TestWithTTL_ExpiresEntries(t *testing.T) {
	c := querycache.New(querycache.WithTTL(10 * time.Millisecond))
	key := fp(7)
	if _, err := c.Execute(key, func() (codegraph.RankedResults, []string, error) {
		return codegraph.RankedResults{}, nil, nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Error("expected entry to have expired")
	}
}

func TestWithSize_BoundsCapacity(t *testing.T) {
	c := querycache.New(querycache.WithSize(2))
	for i := byte(10); i < 13; i++ {
		if _, err := c.Execute(fp(i), func() (codegraph.RankedResults, []string, error) {
			return codegraph.RankedResults{}, nil, nil
		}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if c.Len() > 2 {
		t.Errorf("Len() = %d, want at most 2", c.Len())
	}
}
