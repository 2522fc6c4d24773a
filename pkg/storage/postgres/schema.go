// Package postgres provides a PostgreSQL+pgvector-backed implementation of
// the query core's downward capabilities: [capability.NodeStore] for node
// and edge lookups, and [index.Loader] for opening a vector shard's
// embeddings. Both share a single [pgxpool.Pool].
//
// The pgvector extension must be available in the target database;
// [Migrate] installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlNodes = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS nodes (
    id          BYTEA        PRIMARY KEY,
    shard_id    TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    kind        TEXT         NOT NULL,
    language    TEXT         NOT NULL DEFAULT '',
    file_path   TEXT         NOT NULL DEFAULT '',
    start_line  INT          NOT NULL DEFAULT 0,
    end_line    INT          NOT NULL DEFAULT 0,
    body        TEXT         NOT NULL DEFAULT '',
    complexity  DOUBLE PRECISION NOT NULL DEFAULT 0,
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_nodes_shard_id ON nodes (shard_id);
CREATE INDEX IF NOT EXISTS idx_nodes_file_path ON nodes (file_path);
CREATE INDEX IF NOT EXISTS idx_nodes_embedding
    ON nodes USING hnsw (embedding vector_cosine_ops);
`

const ddlEdges = `
CREATE TABLE IF NOT EXISTS edges (
    from_id   BYTEA  NOT NULL REFERENCES nodes (id) ON DELETE CASCADE,
    to_id     BYTEA  NOT NULL REFERENCES nodes (id) ON DELETE CASCADE,
    kind      TEXT   NOT NULL,
    weight    DOUBLE PRECISION NOT NULL DEFAULT 1,
    metadata  JSONB  NOT NULL DEFAULT '{}',
    PRIMARY KEY (from_id, to_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_edges_from ON edges (from_id);
CREATE INDEX IF NOT EXISTS idx_edges_to   ON edges (to_id);
CREATE INDEX IF NOT EXISTS idx_edges_kind ON edges (kind);
`

// Migrate creates or ensures all required tables, indexes, and the pgvector
// extension exist. It is idempotent and safe to call on every application
// start.
//
// embeddingDimension must match the pinned Embedder's output dimension
// (per spec.md §6, shards whose dimension disagrees with the pinned
// Embedder are rejected); changing it after the first migration requires a
// manual schema change, matching the teacher's ddlL2 pattern.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimension int) error {
	statements := []string{
		fmt.Sprintf(ddlNodes, embeddingDimension),
		ddlEdges,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage/postgres: migrate: %w", err)
		}
	}
	return nil
}
