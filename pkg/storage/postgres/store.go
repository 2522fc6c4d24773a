package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

var (
	_ capability.NodeStore = (*Store)(nil)
	_ dbPool               = (*pgxpool.Pool)(nil)
)

// dbPool is the subset of *pgxpool.Pool that Store depends on, abstracted
// so tests can substitute an in-memory fake rather than a live database,
// mirroring the teacher's injectable DB pattern in internal/agent/npcstore.
type dbPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store is the PostgreSQL-backed NodeStore and shard Loader. A single
// connection pool serves both the point-lookup/traversal queries
// (capability.NodeStore) and the bulk per-shard vector scan
// (index.Loader), mirroring the teacher's single-pool Store shape.
type Store struct {
	pool      dbPool
	dimension int
	metric    codegraph.Metric
}

// NewStore connects to dsn, registers pgvector types on every connection,
// and runs [Migrate]. embeddingDimension and metric must match the pinned
// Embedder configured for this deployment.
func NewStore(ctx context.Context, dsn string, embeddingDimension int, metric codegraph.Metric) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage/postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimension); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage/postgres: migrate: %w", err)
	}

	return &Store{pool: pool, dimension: embeddingDimension, metric: metric}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
