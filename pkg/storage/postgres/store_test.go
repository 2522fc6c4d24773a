package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/codegraph/querycore/pkg/codegraph"
)

// mockRows implements pgx.Rows for testing, grounded on the teacher's
// npcstore mockRows fixture.
type mockRows struct {
	data    [][]any
	idx     int
	err     error
	closed  bool
	scanErr error
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		if v == nil {
			continue
		}
		switch d := dest[i].(type) {
		case *[]byte:
			*d = v.([]byte)
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *float64:
			*d = v.(float64)
		case **pgvector.Vector:
			*d = v.(*pgvector.Vector)
		case *pgvector.Vector:
			*d = v.(pgvector.Vector)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

func (r *mockRows) Values() ([]any, error) { return nil, nil }

// mockPool implements dbPool for testing.
type mockPool struct {
	queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	closed    bool
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockPool) Close() { m.closed = true }

func idOf(b byte) [16]byte {
	var id [16]byte
	id[15] = b
	return id
}

func TestGetMany_ScansRowsIntoRecords(t *testing.T) {
	a := idOf(1)
	pool := &mockPool{
		queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			vec := pgvector.NewVector([]float32{1, 0, 0})
			return &mockRows{data: [][]any{
				{a[:], "Foo", "function", "go", "pkg/foo.go", 1, 10, "func Foo() {}", &vec, 1.5},
			}}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	out, err := s.GetMany(context.Background(), [][16]byte{a})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	rec, ok := out[a]
	if !ok {
		t.Fatalf("expected record for id %v, got %+v", a, out)
	}
	if rec.Name != "Foo" || rec.FilePath != "pkg/foo.go" || rec.Language != "go" {
		t.Errorf("record = %+v, want Name=Foo FilePath=pkg/foo.go Language=go", rec)
	}
	if len(rec.Embedding) != 3 {
		t.Errorf("Embedding = %v, want length 3", rec.Embedding)
	}
}

func TestGetMany_EmptyInputSkipsQuery(t *testing.T) {
	queried := false
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			queried = true
			return &mockRows{}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	out, err := s.GetMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %+v", out)
	}
	if queried {
		t.Error("expected GetMany to skip the query entirely for an empty id list")
	}
}

func TestGetMany_PropagatesQueryError(t *testing.T) {
	wantErr := errors.New("connection reset")
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return nil, wantErr
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	_, err := s.GetMany(context.Background(), [][16]byte{idOf(1)})
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetMany error = %v, want wrapping %v", err, wantErr)
	}
}

func TestEdgesFrom_ScansEdgesAndFiltersByColumn(t *testing.T) {
	a, b := idOf(1), idOf(2)
	var gotSQL string
	pool := &mockPool{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotSQL = sql
			return &mockRows{data: [][]any{
				{a[:], b[:], "calls", 1.0, []byte(`{}`)},
			}}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	edges, err := s.EdgesFrom(context.Background(), a, "calls")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 1 || edges[0].To != b || edges[0].Kind != "calls" {
		t.Fatalf("edges = %+v, want one edge a->b kind calls", edges)
	}
	if !contains(gotSQL, "from_id") {
		t.Errorf("query = %q, want it to filter on from_id", gotSQL)
	}
}

func TestEdgesTo_FiltersByToColumn(t *testing.T) {
	a, b := idOf(1), idOf(2)
	var gotSQL string
	pool := &mockPool{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotSQL = sql
			return &mockRows{data: [][]any{
				{a[:], b[:], "calls", 1.0, []byte(`{}`)},
			}}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	edges, err := s.EdgesTo(context.Background(), b, "calls")
	if err != nil {
		t.Fatalf("EdgesTo: %v", err)
	}
	if len(edges) != 1 || edges[0].From != a {
		t.Fatalf("edges = %+v, want one edge from a", edges)
	}
	if !contains(gotSQL, "to_id") {
		t.Errorf("query = %q, want it to filter on to_id", gotSQL)
	}
}

func TestQueryEdges_EmptyKindOmitsFilter(t *testing.T) {
	a, b := idOf(1), idOf(2)
	var gotArgs []any
	pool := &mockPool{
		queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
			gotArgs = args
			return &mockRows{data: [][]any{
				{a[:], b[:], "calls", 1.0, []byte(`{}`)},
			}}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	if _, err := s.EdgesFrom(context.Background(), a, ""); err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(gotArgs) != 1 {
		t.Errorf("args = %v, want exactly 1 (id only, no kind filter)", gotArgs)
	}
}

func TestEdgesFrom_UnmarshalsMetadata(t *testing.T) {
	a, b := idOf(1), idOf(2)
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{a[:], b[:], "calls", 1.0, []byte(`{"weight_reason":"import"}`)},
			}}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	edges, err := s.EdgesFrom(context.Background(), a, "calls")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if edges[0].Metadata["weight_reason"] != "import" {
		t.Errorf("Metadata = %v, want weight_reason=import", edges[0].Metadata)
	}
}

func TestShardManifest_AggregatesDescriptorsByShard(t *testing.T) {
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{"s1", 3},
				{"s2", 20_000},
			}}, nil
		},
	}
	s := &Store{pool: pool, dimension: 128, metric: codegraph.MetricCosine}

	descs, err := s.ShardManifest(context.Background())
	if err != nil {
		t.Fatalf("ShardManifest: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 shard descriptors, got %d: %+v", len(descs), descs)
	}
	if descs[0].ShardID != "s1" || descs[0].Variant != "flat" {
		t.Errorf("descs[0] = %+v, want ShardID=s1 Variant=flat", descs[0])
	}
	if descs[1].ShardID != "s2" || descs[1].Variant != "ivf" {
		t.Errorf("descs[1] = %+v, want ShardID=s2 Variant=ivf (above threshold)", descs[1])
	}
	for _, d := range descs {
		if d.Dimension != 128 || d.Metric != "cosine" {
			t.Errorf("descriptor = %+v, want Dimension=128 Metric=cosine from Store config", d)
		}
	}
}

func TestShardManifest_PropagatesQueryError(t *testing.T) {
	wantErr := errors.New("manifest query failed")
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return nil, wantErr
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	_, err := s.ShardManifest(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("ShardManifest error = %v, want wrapping %v", err, wantErr)
	}
}

func TestLoad_ReadsShardVectorsInOrder(t *testing.T) {
	a, b := idOf(1), idOf(2)
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			vecA := pgvector.NewVector([]float32{1, 0, 0})
			vecB := pgvector.NewVector([]float32{0, 1, 0})
			return &mockRows{data: [][]any{
				{a[:], vecA},
				{b[:], vecB},
			}}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	desc, vectors, ids, err := s.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if desc.ShardID != "s1" || desc.VectorCount != 2 || desc.Variant != codegraph.VariantFlat {
		t.Errorf("desc = %+v, want ShardID=s1 VectorCount=2 Variant=flat", desc)
	}
	if len(vectors) != 2 || len(ids) != 2 {
		t.Fatalf("expected 2 vectors/ids, got %d/%d", len(vectors), len(ids))
	}
	if ids[0] != codegraph.NodeID(a) || ids[1] != codegraph.NodeID(b) {
		t.Errorf("ids = %v, want [a, b] in scan order", ids)
	}
}

func TestLoad_MarksIVFVariantAtThreshold(t *testing.T) {
	rows := make([][]any, defaultIVFThreshold)
	for i := range rows {
		id := idOf(1)
		vec := pgvector.NewVector([]float32{float32(i), 0, 0})
		rows[i] = []any{id[:], vec}
	}
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{data: rows}, nil
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	desc, _, _, err := s.Load(context.Background(), "big")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if desc.Variant != codegraph.VariantIVFFlat {
		t.Errorf("Variant = %q, want %q at %d vectors", desc.Variant, codegraph.VariantIVFFlat, defaultIVFThreshold)
	}
}

func TestLoad_PropagatesQueryError(t *testing.T) {
	wantErr := errors.New("shard read failed")
	pool := &mockPool{
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return nil, wantErr
		},
	}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}

	_, _, _, err := s.Load(context.Background(), "s1")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Load error = %v, want wrapping %v", err, wantErr)
	}
}

func TestClose_ClosesUnderlyingPool(t *testing.T) {
	pool := &mockPool{}
	s := &Store{pool: pool, dimension: 3, metric: codegraph.MetricCosine}
	s.Close()
	if !pool.closed {
		t.Error("expected Close to close the underlying pool")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
