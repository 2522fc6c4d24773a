// Package toolsurface implements the Tool Surface (C6): a typed catalog of
// tools — argument schema, observation schema, latency class, handler —
// dispatched by name from the Agent Loop (C8). Every dispatch produces
// exactly one [codegraph.ToolObservation], even on failure, per spec.md's
// 1:1 tool-call/observation invariant.
package toolsurface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codegraph/querycore/pkg/codegraph"
)

// LatencyClass classifies a tool's expected wall-clock cost, used to build
// the tier-aware tool menus C7/C8 offer the LLM.
type LatencyClass string

const (
	LatencyFast   LatencyClass = "fast"   // < 50ms
	LatencyMedium LatencyClass = "medium" // < 500ms
	LatencySlow   LatencyClass = "slow"   // < 5s
)

// Handler executes one tool call against already-validated arguments and
// returns a JSON-marshalable observation payload.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one catalog entry: name, argument/observation schema, latency
// class, and handler.
type Tool struct {
	Name              string
	Description       string
	ArgSchema         *jsonschema.Schema
	ObservationSchema *jsonschema.Schema
	Latency           LatencyClass
	Handler           Handler

	resolved *jsonschema.Resolved
}

// Catalog is the registered set of tools available to dispatch. Safe for
// concurrent use after construction; [Catalog.Register] is typically only
// called during startup wiring.
type Catalog struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewCatalog creates an empty [Catalog].
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{tools: make(map[string]*Tool), logger: logger}
}

// Register adds t to the catalog, resolving its argument schema once so
// that every [Catalog.Dispatch] call validates against a prepared schema
// rather than re-resolving on each call.
func (c *Catalog) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("toolsurface: register: tool name must not be empty")
	}
	if t.ArgSchema != nil {
		resolved, err := t.ArgSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("toolsurface: register %q: resolve arg schema: %w", t.Name, err)
		}
		t.resolved = resolved
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[t.Name] = &t
	return nil
}

// List returns every registered tool, for building tier-scoped menus.
func (c *Catalog) List() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, *t)
	}
	return out
}

// Dispatch validates call.Parameters against the named tool's schema and,
// if valid, invokes its handler. Every path — unknown tool, schema
// violation, handler error, handler success — returns exactly one
// [codegraph.ToolObservation]; Dispatch itself never returns a Go error.
func (c *Catalog) Dispatch(ctx context.Context, call codegraph.ToolCall) codegraph.ToolObservation {
	c.mu.RLock()
	t, ok := c.tools[call.ToolName]
	c.mu.RUnlock()
	if !ok {
		return errObservation(&codegraph.InvalidArgument{Field: "tool_name", Reason: fmt.Sprintf("unknown tool %q", call.ToolName)})
	}

	if t.resolved != nil {
		if err := t.resolved.Validate(call.Parameters); err != nil {
			return errObservation(&codegraph.InvalidArgument{Field: "parameters", Reason: err.Error()})
		}
	}

	result, err := t.Handler(ctx, call.Parameters)
	if err != nil {
		c.logger.Warn("tool call failed", "tool", call.ToolName, "error", err)
		return errObservation(err)
	}
	return codegraph.ToolObservation{OK: true, Result: result}
}

// errObservation converts a Go error into a failed [codegraph.ToolObservation],
// preserving the structured error kind where one is recognized.
func errObservation(err error) codegraph.ToolObservation {
	return codegraph.ToolObservation{OK: false, ErrKind: errorKind(err), ErrMsg: err.Error()}
}

// errorKind classifies err into one of spec.md §7's error kind names.
func errorKind(err error) string {
	var invalidArg *codegraph.InvalidArgument
	var notFound *codegraph.NotFound
	var idxUnavail *codegraph.IndexUnavailable
	var idxFailure *codegraph.IndexFailure
	var embedFailure *codegraph.EmbedderFailure
	var llmFailure *codegraph.LLMFailure
	var timeout *codegraph.Timeout

	switch {
	case errors.As(err, &invalidArg):
		return "InvalidArgument"
	case errors.As(err, &notFound):
		return "NotFound"
	case errors.As(err, &idxUnavail):
		return "IndexUnavailable"
	case errors.As(err, &idxFailure):
		return "IndexFailure"
	case errors.As(err, &embedFailure):
		return "EmbedderFailure"
	case errors.As(err, &llmFailure):
		return "LLMFailure"
	case errors.As(err, &timeout):
		return "Timeout"
	case errors.Is(err, codegraph.ErrRetrievalFailed):
		return "RetrievalFailed"
	case errors.Is(err, codegraph.ErrCancelled):
		return "Cancelled"
	default:
		return "Internal"
	}
}
