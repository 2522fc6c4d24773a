package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/codegraph/querycore/internal/index"
	"github.com/codegraph/querycore/pkg/codegraph"
)

var _ index.Loader = (*Store)(nil)

// Load implements [index.Loader], reading every embedded node tagged with
// shardID into memory for internal/index to build an in-process ANN shard
// from, grounded on the teacher's QueryWithEmbedding bulk-scan pattern but
// without the topK/scope restriction — the pool needs the whole shard.
func (s *Store) Load(ctx context.Context, shardID string) (codegraph.ShardDescriptor, [][]float32, []codegraph.NodeID, error) {
	const q = `
		SELECT id, embedding
		FROM   nodes
		WHERE  shard_id = $1 AND embedding IS NOT NULL
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, shardID)
	if err != nil {
		return codegraph.ShardDescriptor{}, nil, nil, fmt.Errorf("storage/postgres: load shard %q: %w", shardID, err)
	}
	defer rows.Close()

	var (
		vectors [][]float32
		ids     []codegraph.NodeID
	)
	for rows.Next() {
		var (
			idBytes []byte
			vec     pgvector.Vector
		)
		if err := rows.Scan(&idBytes, &vec); err != nil {
			return codegraph.ShardDescriptor{}, nil, nil, fmt.Errorf("storage/postgres: load shard %q: scan: %w", shardID, err)
		}
		var id codegraph.NodeID
		copy(id[:], idBytes)
		ids = append(ids, id)
		vectors = append(vectors, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return codegraph.ShardDescriptor{}, nil, nil, fmt.Errorf("storage/postgres: load shard %q: rows: %w", shardID, err)
	}

	desc := codegraph.ShardDescriptor{
		ShardID:     shardID,
		Dimension:   s.dimension,
		Metric:      s.metric,
		Variant:     codegraph.VariantFlat,
		VectorCount: len(ids),
	}
	if len(ids) >= defaultIVFThreshold {
		desc.Variant = codegraph.VariantIVFFlat
	}
	return desc, vectors, ids, nil
}

const defaultIVFThreshold = 10_000
