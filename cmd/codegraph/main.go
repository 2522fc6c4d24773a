// Command codegraph is the main entry point for the CodeGraph query core
// server: it loads configuration, wires the downward capability providers,
// the C1–C9 retrieval/agent pipeline, and serves health, metrics, and
// query endpoints over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codegraph/querycore/internal/agentloop"
	"github.com/codegraph/querycore/internal/config"
	"github.com/codegraph/querycore/internal/graphview"
	"github.com/codegraph/querycore/internal/health"
	"github.com/codegraph/querycore/internal/index"
	"github.com/codegraph/querycore/internal/nodecache"
	"github.com/codegraph/querycore/internal/observe"
	"github.com/codegraph/querycore/internal/querycache"
	"github.com/codegraph/querycore/internal/retrieval"
	"github.com/codegraph/querycore/internal/tier"
	"github.com/codegraph/querycore/internal/toolsurface"
	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
	"github.com/codegraph/querycore/pkg/storage/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "codegraph: config file %q not found — pass -config with the path to a YAML configuration file\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "codegraph: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("codegraph starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "codegraph-querycore"})
	if err != nil {
		slog.Error("failed to init telemetry provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	embedder, err := reg.CreateEmbedder(cfg.Providers.Embedder)
	if err != nil {
		slog.Error("failed to create embedder provider", "name", cfg.Providers.Embedder.Name, "err", err)
		return 1
	}
	llmClient, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return 1
	}
	var reranker capability.Reranker
	if cfg.Providers.Reranker.Name != "" {
		reranker, err = reg.CreateReranker(cfg.Providers.Reranker)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("reranker provider not registered — running without rerank", "name", cfg.Providers.Reranker.Name)
		} else if err != nil {
			slog.Error("failed to create reranker provider", "name", cfg.Providers.Reranker.Name, "err", err)
			return 1
		}
	}

	store, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, cfg.Storage.EmbeddingDimension, codegraph.Metric(cfg.Storage.Metric))
	if err != nil {
		slog.Error("failed to connect to storage", "err", err)
		return 1
	}
	defer store.Close()

	loader := &index.ValidatingLoader{Inner: store, Embedder: embedder}
	pool := index.New(loader,
		index.WithMemoryCap(cfg.Retrieval.MemoryCapBytes),
		index.WithIVFThreshold(cfg.Retrieval.IVFThreshold),
		index.WithLogger(logger),
	)

	nodes := nodecache.New(store, nodecache.WithCacheSize(cfg.Retrieval.NodeCacheSize))
	graph := graphview.New(store, nodes)

	qcache := querycache.New(
		querycache.WithSize(cfg.Retrieval.QueryCacheSize),
		querycache.WithTTL(time.Duration(cfg.Retrieval.QueryCacheTTLSeconds)*time.Second),
	)

	var retrievalOpts []retrieval.Option
	if cfg.Retrieval.OverfetchMultiplier > 0 {
		retrievalOpts = append(retrievalOpts, retrieval.WithOverfetchMultiplier(cfg.Retrieval.OverfetchMultiplier))
	}
	retrievalOpts = append(retrievalOpts, retrieval.WithLogger(logger))
	engine := retrieval.New(embedder, store, pool, nodes, qcache, reranker, retrievalOpts...)

	catalog, err := toolsurface.BuildStandardCatalog(engine, graph, llmClient)
	if err != nil {
		slog.Error("failed to build tool catalog", "err", err)
		return 1
	}

	selector := tier.NewSelector()
	loop := agentloop.New(llmClient, catalog, selector, cfg.Agent.ResultCacheSize,
		agentloop.WithStepTimeout(time.Duration(cfg.Agent.StepTimeoutSeconds)*time.Second),
		agentloop.WithSessionTimeout(time.Duration(cfg.Agent.SessionTimeoutSeconds)*time.Second),
		agentloop.WithLogger(logger),
	)

	srv := &queryServer{engine: engine, loop: loop, catalog: catalog, metrics: metrics}

	mux := http.NewServeMux()
	healthHandler := health.New(health.Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			_, err := store.ShardManifest(ctx)
			return err
		},
	})
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /v1/tools/call", observe.Middleware(metrics)(http.HandlerFunc(srv.handleToolCall)))
	mux.Handle("POST /v1/ask", observe.Middleware(metrics)(http.HandlerFunc(srv.handleAsk)))

	httpSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      CodeGraph — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Embedder", cfg.Providers.Embedder.Name)
	printField("LLM", cfg.Providers.LLM.Name)
	printField("Reranker", cfg.Providers.Reranker.Name)
	printField("Storage DSN set", fmt.Sprintf("%v", cfg.Storage.PostgresDSN != ""))
	printField("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}
