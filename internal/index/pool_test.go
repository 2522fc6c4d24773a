package index_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/codegraph/querycore/internal/index"
	"github.com/codegraph/querycore/pkg/codegraph"
)

// fakeLoader is a minimal in-memory [index.Loader] for testing Pool without
// any real storage backend.
type fakeLoader struct {
	loadCount atomic.Int32
	desc      codegraph.ShardDescriptor
	vectors   [][]float32
	ids       []codegraph.NodeID
	err       error
}

func (f *fakeLoader) Load(_ context.Context, shardID string) (codegraph.ShardDescriptor, [][]float32, []codegraph.NodeID, error) {
	f.loadCount.Add(1)
	if f.err != nil {
		return codegraph.ShardDescriptor{}, nil, nil, f.err
	}
	return f.desc, f.vectors, f.ids, nil
}

func idOf(b byte) codegraph.NodeID {
	var id codegraph.NodeID
	id[15] = b
	return id
}

func flatLoader() *fakeLoader {
	return &fakeLoader{
		desc: codegraph.ShardDescriptor{ShardID: "s1", Dimension: 3, Metric: codegraph.MetricCosine, VectorCount: 3},
		vectors: [][]float32{
			{1, 0, 0},
			{0, 1, 0},
			{0.9, 0.1, 0},
		},
		ids: []codegraph.NodeID{idOf(1), idOf(2), idOf(3)},
	}
}

func TestSearch_ReturnsClosestByMetric(t *testing.T) {
	loader := flatLoader()
	p := index.New(loader)

	ids, scores, err := p.Search(context.Background(), "s1", []float32{1, 0, 0}, 2, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 || len(scores) != 2 {
		t.Fatalf("expected 2 results, got ids=%v scores=%v", ids, scores)
	}
	if ids[0] != idOf(1) {
		t.Errorf("nearest result = %v, want exact match idOf(1)", ids[0])
	}
}

func TestSearch_LoadsShardOnceAcrossCalls(t *testing.T) {
	loader := flatLoader()
	p := index.New(loader)

	for i := 0; i < 3; i++ {
		if _, _, err := p.Search(context.Background(), "s1", []float32{1, 0, 0}, 1, 0); err != nil {
			t.Fatalf("Search[%d]: %v", i, err)
		}
	}
	if got := loader.loadCount.Load(); got != 1 {
		t.Errorf("loader.Load called %d times, want 1", got)
	}
}

func TestSearch_LoaderErrorSurfacesIndexUnavailable(t *testing.T) {
	loader := &fakeLoader{err: errors.New("disk read failed")}
	p := index.New(loader)

	_, _, err := p.Search(context.Background(), "missing", []float32{1, 0, 0}, 1, 0)
	var unavailable *codegraph.IndexUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("Search error = %v, want *codegraph.IndexUnavailable", err)
	}
	if unavailable.Shard != "missing" {
		t.Errorf("IndexUnavailable.Shard = %q, want %q", unavailable.Shard, "missing")
	}
}

func TestTranslate_MapsLocalsToNodeIDs(t *testing.T) {
	loader := flatLoader()
	p := index.New(loader)

	ids, err := p.Translate(context.Background(), "s1", []int{0, 2})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	want := []codegraph.NodeID{idOf(1), idOf(3)}
	if len(ids) != len(want) || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("Translate = %v, want %v", ids, want)
	}
}

func TestDescriptor_ReturnsManifestDescriptor(t *testing.T) {
	loader := flatLoader()
	p := index.New(loader)

	desc, err := p.Descriptor(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if desc.ShardID != "s1" || desc.Dimension != 3 {
		t.Errorf("Descriptor = %+v, want ShardID=s1 Dimension=3", desc)
	}
}

func TestInvalidate_ForcesReload(t *testing.T) {
	loader := flatLoader()
	p := index.New(loader)

	if _, _, err := p.Search(context.Background(), "s1", []float32{1, 0, 0}, 1, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	p.Invalidate("s1")
	if _, _, err := p.Search(context.Background(), "s1", []float32{1, 0, 0}, 1, 0); err != nil {
		t.Fatalf("Search after invalidate: %v", err)
	}
	if got := loader.loadCount.Load(); got != 2 {
		t.Errorf("loader.Load called %d times after invalidate, want 2", got)
	}
}

func TestStats_ReflectsLoadedShards(t *testing.T) {
	loader := flatLoader()
	p := index.New(loader)

	if _, _, err := p.Search(context.Background(), "s1", []float32{1, 0, 0}, 1, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	stats := p.Stats()
	if stats.ShardCount != 1 {
		t.Errorf("Stats().ShardCount = %d, want 1", stats.ShardCount)
	}
	if stats.UsedBytes <= 0 {
		t.Errorf("Stats().UsedBytes = %d, want > 0", stats.UsedBytes)
	}
}

func TestIVFThreshold_BuildsIVFShardAboveThreshold(t *testing.T) {
	vectors := make([][]float32, 20)
	ids := make([]codegraph.NodeID, 20)
	for i := range vectors {
		vectors[i] = []float32{float32(i), 0, 0}
		ids[i] = idOf(byte(i + 1))
	}
	loader := &fakeLoader{
		desc:    codegraph.ShardDescriptor{ShardID: "big", Dimension: 3, Metric: codegraph.MetricL2, VectorCount: 20},
		vectors: vectors,
		ids:     ids,
	}
	p := index.New(loader, index.WithIVFThreshold(10))

	// The shard should still answer search correctly once built as IVF-flat.
	gotIDs, _, err := p.Search(context.Background(), "big", []float32{5, 0, 0}, 1, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(gotIDs) != 1 {
		t.Fatalf("expected 1 result, got %v", gotIDs)
	}
}

func TestWithMemoryCap_EvictsLeastRecentlyUsed(t *testing.T) {
	loaderA := flatLoader()
	loaderA.desc.ShardID = "a"

	multi := &multiLoader{
		byShard: map[string]*fakeLoader{
			"a": loaderA,
			"b": flatLoaderNamed("b"),
		},
	}
	// Cap small enough that only one shard's vectors (3 vectors * 3 floats *
	// 4 bytes = 36 bytes) fits at a time.
	p := index.New(multi, index.WithMemoryCap(40))

	if _, _, err := p.Search(context.Background(), "a", []float32{1, 0, 0}, 1, 0); err != nil {
		t.Fatalf("Search a: %v", err)
	}
	if _, _, err := p.Search(context.Background(), "b", []float32{1, 0, 0}, 1, 0); err != nil {
		t.Fatalf("Search b: %v", err)
	}
	if stats := p.Stats(); stats.ShardCount != 1 {
		t.Errorf("Stats().ShardCount = %d, want 1 (a should have been evicted)", stats.ShardCount)
	}

	if _, _, err := p.Search(context.Background(), "a", []float32{1, 0, 0}, 1, 0); err != nil {
		t.Fatalf("Search a (reload): %v", err)
	}
	if got := loaderA.loadCount.Load(); got != 2 {
		t.Errorf("loaderA.Load called %d times, want 2 (evicted once)", got)
	}
}

func flatLoaderNamed(shardID string) *fakeLoader {
	f := flatLoader()
	f.desc.ShardID = shardID
	return f
}

type multiLoader struct {
	byShard map[string]*fakeLoader
}

func (m *multiLoader) Load(ctx context.Context, shardID string) (codegraph.ShardDescriptor, [][]float32, []codegraph.NodeID, error) {
	return m.byShard[shardID].Load(ctx, shardID)
}
