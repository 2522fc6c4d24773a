package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per downward capability.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embedder": {"openai", "ollama"},
	"llm":      {"openai", "anyllm"},
	"reranker": {"cross-encoder"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the zero-value knobs the core's components treat
// as "use my own default" with explicit values, so a caller reading back
// cfg after loading sees the values actually in effect.
func applyDefaults(cfg *Config) {
	if cfg.Retrieval.NodeCacheSize == 0 {
		cfg.Retrieval.NodeCacheSize = 10_000
	}
	if cfg.Retrieval.QueryCacheSize == 0 {
		cfg.Retrieval.QueryCacheSize = 1_000
	}
	if cfg.Retrieval.QueryCacheTTLSeconds == 0 {
		cfg.Retrieval.QueryCacheTTLSeconds = 300
	}
	if cfg.Retrieval.IVFThreshold == 0 {
		cfg.Retrieval.IVFThreshold = 10_000
	}
	if cfg.Retrieval.MemoryCapBytes == 0 {
		cfg.Retrieval.MemoryCapBytes = 2 << 30
	}
	if cfg.Retrieval.OverfetchMultiplier == 0 {
		cfg.Retrieval.OverfetchMultiplier = 3
	}
	if cfg.Agent.StepTimeoutSeconds == 0 {
		cfg.Agent.StepTimeoutSeconds = 30
	}
	if cfg.Agent.SessionTimeoutSeconds == 0 {
		cfg.Agent.SessionTimeoutSeconds = 120
	}
	if cfg.Agent.ResultCacheSize == 0 {
		cfg.Agent.ResultCacheSize = 100
	}
	if cfg.Storage.Metric == "" {
		cfg.Storage.Metric = "cosine"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("embedder", cfg.Providers.Embedder.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("reranker", cfg.Providers.Reranker.Name)

	if cfg.Providers.Embedder.Name == "" {
		errs = append(errs, fmt.Errorf("providers.embedder.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required"))
	}

	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("storage.postgres_dsn is required"))
	}
	if cfg.Storage.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimension must be positive"))
	}
	switch cfg.Storage.Metric {
	case "cosine", "ip", "l2":
	default:
		errs = append(errs, fmt.Errorf("storage.metric %q is invalid; valid values: cosine, ip, l2", cfg.Storage.Metric))
	}

	if cfg.Retrieval.NProbe < 0 {
		errs = append(errs, fmt.Errorf("retrieval.nprobe must not be negative"))
	}
	if cfg.Agent.StepTimeoutSeconds > cfg.Agent.SessionTimeoutSeconds {
		slog.Warn("agent.step_timeout_seconds exceeds agent.session_timeout_seconds; the session timeout always wins",
			"step_timeout_seconds", cfg.Agent.StepTimeoutSeconds,
			"session_timeout_seconds", cfg.Agent.SessionTimeoutSeconds)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found
// in the [ValidProviderNames] list for the given capability kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
