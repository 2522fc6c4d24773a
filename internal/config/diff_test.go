package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codegraph/querycore/internal/config"
)

func TestDiff_LogLevelChange(t *testing.T) {
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, newCfg)
	require.True(t, d.LogLevelChanged)
	require.Equal(t, config.LogLevelDebug, d.NewLogLevel)
	require.False(t, d.RetrievalChanged)
	require.False(t, d.AgentChanged)
}

func TestDiff_RetrievalChange(t *testing.T) {
	old := &config.Config{Retrieval: config.RetrievalConfig{NProbe: 4}}
	newCfg := &config.Config{Retrieval: config.RetrievalConfig{NProbe: 16}}

	d := config.Diff(old, newCfg)
	require.True(t, d.RetrievalChanged)
	require.Equal(t, 16, d.NewRetrieval.NProbe)
}

func TestDiff_NoChange(t *testing.T) {
	cfg := &config.Config{Agent: config.AgentConfig{StepTimeoutSeconds: 30}}
	d := config.Diff(cfg, cfg)
	require.False(t, d.LogLevelChanged)
	require.False(t, d.RetrievalChanged)
	require.False(t, d.AgentChanged)
}
