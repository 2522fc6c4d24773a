package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/codegraph/querycore/pkg/capability"
)

// GetMany implements [capability.NodeStore]. Missing ids are simply absent
// from the returned map, matching the teacher's fetchEntitiesIn pattern of
// tolerating a partial match set rather than erroring.
func (s *Store) GetMany(ctx context.Context, ids [][16]byte) (map[[16]byte]capability.NodeStoreRecord, error) {
	out := make(map[[16]byte]capability.NodeStoreRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([][]byte, len(ids))
	for i, id := range ids {
		b := make([]byte, 16)
		copy(b, id[:])
		keys[i] = b
	}

	const q = `
		SELECT id, name, kind, language, file_path, start_line, end_line,
		       body, embedding, complexity
		FROM   nodes
		WHERE  id = ANY($1::bytea[])`

	rows, err := s.pool.Query(ctx, q, keys)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: get many: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idBytes  []byte
			rec      capability.NodeStoreRecord
			embedVec *pgvector.Vector
		)
		if err := rows.Scan(&idBytes, &rec.Name, &rec.Kind, &rec.Language, &rec.FilePath,
			&rec.StartLine, &rec.EndLine, &rec.Body, &embedVec, &rec.Complexity); err != nil {
			return nil, fmt.Errorf("storage/postgres: get many: scan: %w", err)
		}
		var key [16]byte
		copy(key[:], idBytes)
		rec.ID = key
		if embedVec != nil {
			rec.Embedding = embedVec.Slice()
		}
		out[key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage/postgres: get many: rows: %w", err)
	}
	return out, nil
}

// EdgesFrom implements [capability.NodeStore]. An empty kind returns edges
// of every kind.
func (s *Store) EdgesFrom(ctx context.Context, id [16]byte, kind string) ([]capability.NodeStoreEdge, error) {
	return s.queryEdges(ctx, "from_id", id, kind)
}

// EdgesTo implements [capability.NodeStore]. An empty kind returns edges of
// every kind.
func (s *Store) EdgesTo(ctx context.Context, id [16]byte, kind string) ([]capability.NodeStoreEdge, error) {
	return s.queryEdges(ctx, "to_id", id, kind)
}

func (s *Store) queryEdges(ctx context.Context, column string, id [16]byte, kind string) ([]capability.NodeStoreEdge, error) {
	args := []any{id[:]}
	q := fmt.Sprintf(`
		SELECT from_id, to_id, kind, weight, metadata
		FROM   edges
		WHERE  %s = $1`, column)
	if kind != "" {
		args = append(args, kind)
		q += fmt.Sprintf(" AND kind = $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: edges (%s): %w", column, err)
	}
	defer rows.Close()

	var out []capability.NodeStoreEdge
	for rows.Next() {
		var (
			e            capability.NodeStoreEdge
			fromB, toB   []byte
			metadataJSON []byte
		)
		if err := rows.Scan(&fromB, &toB, &e.Kind, &e.Weight, &metadataJSON); err != nil {
			return nil, fmt.Errorf("storage/postgres: edges (%s): scan: %w", column, err)
		}
		copy(e.From[:], fromB)
		copy(e.To[:], toB)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("storage/postgres: edges (%s): unmarshal metadata: %w", column, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage/postgres: edges (%s): rows: %w", column, err)
	}
	return out, nil
}

// ShardManifest implements [capability.NodeStore]. Shards are a grouping
// label on nodes.shard_id, not a separate table; the manifest is derived by
// aggregation, with (dimension, metric) fixed by the Store's configuration
// since every node shares one pinned Embedder.
func (s *Store) ShardManifest(ctx context.Context) ([]capability.ShardDescriptor, error) {
	const q = `
		SELECT shard_id, count(*)
		FROM   nodes
		WHERE  embedding IS NOT NULL
		GROUP  BY shard_id
		ORDER  BY shard_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: shard manifest: %w", err)
	}

	descs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (capability.ShardDescriptor, error) {
		var (
			shardID string
			count   int
		)
		if err := row.Scan(&shardID, &count); err != nil {
			return capability.ShardDescriptor{}, err
		}
		return capability.ShardDescriptor{
			ShardID:     shardID,
			Dimension:   s.dimension,
			Metric:      string(s.metric),
			Variant:     variantForCount(count),
			VectorCount: count,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: shard manifest: scan: %w", err)
	}
	return descs, nil
}

// variantForCount mirrors internal/index's flat/IVF threshold choice for
// manifest reporting purposes only; the actual shard build decision is
// made by internal/index itself when it loads the shard.
func variantForCount(count int) string {
	const ivfThreshold = 10_000
	if count >= ivfThreshold {
		return "ivf"
	}
	return "flat"
}
