package index

import (
	"context"
	"fmt"

	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

// ValidatingLoader wraps another [Loader] and rejects any shard whose
// (dimension, metric) disagrees with the pinned [capability.Embedder], per
// spec.md §6 ("the core pins one embedder per process and rejects shards
// whose (dimension, metric) disagrees with it"). This check happens once,
// at load time, rather than on every search.
type ValidatingLoader struct {
	Inner    Loader
	Embedder capability.Embedder
}

// Load implements [Loader].
func (v *ValidatingLoader) Load(ctx context.Context, shardID string) (codegraph.ShardDescriptor, [][]float32, []codegraph.NodeID, error) {
	desc, vectors, ids, err := v.Inner.Load(ctx, shardID)
	if err != nil {
		return codegraph.ShardDescriptor{}, nil, nil, err
	}

	if desc.Dimension != v.Embedder.Dimension() {
		return codegraph.ShardDescriptor{}, nil, nil, fmt.Errorf(
			"shard %q has dimension %d, pinned embedder has dimension %d",
			shardID, desc.Dimension, v.Embedder.Dimension())
	}
	if string(desc.Metric) != v.Embedder.Metric() {
		return codegraph.ShardDescriptor{}, nil, nil, fmt.Errorf(
			"shard %q has metric %q, pinned embedder has metric %q",
			shardID, desc.Metric, v.Embedder.Metric())
	}
	return desc, vectors, ids, nil
}

var _ Loader = (*ValidatingLoader)(nil)
