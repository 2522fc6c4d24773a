package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codegraph/querycore/internal/config"
)

func TestValidate_UnknownProviderNameWarnsNotErrors(t *testing.T) {
	t.Parallel()
	const yaml = `
providers:
  embedder: { name: totally-unknown-vendor }
  llm: { name: openai }
storage:
  postgres_dsn: "postgres://localhost/codegraph"
  embedding_dimension: 768
`
	// An unrecognised provider name only logs a warning; it is not itself
	// a validation error.
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	require.Equal(t, "totally-unknown-vendor", cfg.Providers.Embedder.Name)
}

func TestValidate_NegativeNProbeRejected(t *testing.T) {
	t.Parallel()
	const yaml = `
providers:
  embedder: { name: openai }
  llm: { name: openai }
storage:
  postgres_dsn: "postgres://localhost/codegraph"
  embedding_dimension: 768
retrieval:
  nprobe: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "nprobe")
}

func TestValidate_MissingStorageDSN(t *testing.T) {
	t.Parallel()
	const yaml = `
providers:
  embedder: { name: openai }
  llm: { name: openai }
storage:
  embedding_dimension: 768
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	require.Contains(t, err.Error(), "postgres_dsn")
}
