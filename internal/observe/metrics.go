// Package observe provides application-wide observability primitives for
// CodeGraph: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all CodeGraph metrics.
const meterName = "github.com/codegraph/querycore"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// RetrievalDuration tracks end-to-end latency of a retrieval query
	// (cache lookup + embedding + shard search + hydration). Use with
	// attribute.String("cache", "hit"|"miss").
	RetrievalDuration metric.Float64Histogram

	// ShardSearchDuration tracks latency of a single shard's vector search
	// within the index pool.
	ShardSearchDuration metric.Float64Histogram

	// LLMDuration tracks latency of LLM inference calls.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks latency of tool-surface invocations
	// (e.g. vector_search, graph_traverse, graph_neighbors).
	ToolExecutionDuration metric.Float64Histogram

	// AgentStepDuration tracks latency of a single agent-loop step (one
	// LLM turn plus any tool calls it triggers).
	AgentStepDuration metric.Float64Histogram

	// ProviderRequests counts provider API requests by provider, kind, and
	// status.
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations by tool name and status.
	ToolCalls metric.Int64Counter

	// CacheLookups counts cache lookups by cache name ("node", "query")
	// and result ("hit", "miss").
	CacheLookups metric.Int64Counter

	// AgentSteps counts agent-loop steps by termination reason
	// ("tool_call", "final_answer", "budget_exceeded", "cancelled").
	AgentSteps metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// ActiveQueries tracks the number of in-flight retrieval queries.
	ActiveQueries metric.Int64UpDownCounter

	// ActiveAgentSessions tracks the number of in-flight agent-loop
	// sessions.
	ActiveAgentSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for query-serving latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RetrievalDuration, err = m.Float64Histogram("codegraph.retrieval.duration",
		metric.WithDescription("Latency of retrieval queries (vector search + graph expansion)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ShardSearchDuration, err = m.Float64Histogram("codegraph.shard_search.duration",
		metric.WithDescription("Latency of a single shard's vector search."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("codegraph.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("codegraph.tool_execution.duration",
		metric.WithDescription("Latency of tool-surface execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentStepDuration, err = m.Float64Histogram("codegraph.agent_step.duration",
		metric.WithDescription("Latency of a single agent-loop step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("codegraph.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("codegraph.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("codegraph.cache.lookups",
		metric.WithDescription("Total cache lookups by cache name and result."),
	); err != nil {
		return nil, err
	}
	if met.AgentSteps, err = m.Int64Counter("codegraph.agent.steps",
		metric.WithDescription("Total agent-loop steps by termination reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("codegraph.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveQueries, err = m.Int64UpDownCounter("codegraph.active_queries",
		metric.WithDescription("Number of in-flight retrieval queries."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAgentSessions, err = m.Int64UpDownCounter("codegraph.active_agent_sessions",
		metric.WithDescription("Number of in-flight agent-loop sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("codegraph.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCacheLookup is a convenience method that records a cache lookup
// counter increment.
func (m *Metrics) RecordCacheLookup(ctx context.Context, cache, result string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("result", result),
		),
	)
}

// RecordAgentStep is a convenience method that records an agent-loop step
// counter increment.
func (m *Metrics) RecordAgentStep(ctx context.Context, reason string) {
	m.AgentSteps.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
