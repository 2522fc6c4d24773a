package toolsurface_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codegraph/querycore/internal/toolsurface"
	"github.com/codegraph/querycore/pkg/codegraph"
)

func echoTool() toolsurface.Tool {
	return toolsurface.Tool{
		Name: "echo",
		ArgSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"text": {Type: "string"},
			},
			Required: []string{"text"},
		},
		Latency: toolsurface.LatencyFast,
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func TestRegister_RejectsEmptyName(t *testing.T) {
	c := toolsurface.NewCatalog(nil)
	err := c.Register(toolsurface.Tool{Name: ""})
	if err == nil {
		t.Fatal("expected an error registering a tool with an empty name")
	}
}

func TestDispatch_UnknownToolReturnsInvalidArgumentObservation(t *testing.T) {
	c := toolsurface.NewCatalog(nil)
	obs := c.Dispatch(context.Background(), codegraph.ToolCall{ToolName: "nonexistent"})
	if obs.OK {
		t.Fatal("expected OK=false for an unknown tool")
	}
	if obs.ErrKind != "InvalidArgument" {
		t.Errorf("ErrKind = %q, want InvalidArgument", obs.ErrKind)
	}
}

func TestDispatch_SchemaViolationReturnsInvalidArgumentObservation(t *testing.T) {
	c := toolsurface.NewCatalog(nil)
	if err := c.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	obs := c.Dispatch(context.Background(), codegraph.ToolCall{ToolName: "echo", Parameters: map[string]any{}})
	if obs.OK {
		t.Fatal("expected OK=false when required argument is missing")
	}
	if obs.ErrKind != "InvalidArgument" {
		t.Errorf("ErrKind = %q, want InvalidArgument", obs.ErrKind)
	}
}

func TestDispatch_ValidCallReturnsOKObservation(t *testing.T) {
	c := toolsurface.NewCatalog(nil)
	if err := c.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	obs := c.Dispatch(context.Background(), codegraph.ToolCall{ToolName: "echo", Parameters: map[string]any{"text": "hi"}})
	if !obs.OK {
		t.Fatalf("expected OK=true, got ErrKind=%s ErrMsg=%s", obs.ErrKind, obs.ErrMsg)
	}
	if obs.Result != "hi" {
		t.Errorf("Result = %v, want hi", obs.Result)
	}
}

func TestDispatch_HandlerErrorIsClassifiedByKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{"not found", &codegraph.NotFound{Entity: "node:abc"}, "NotFound"},
		{"index unavailable", &codegraph.IndexUnavailable{Shard: "s1", Cause: errors.New("x")}, "IndexUnavailable"},
		{"index failure", &codegraph.IndexFailure{Shard: "s1", Cause: errors.New("x")}, "IndexFailure"},
		{"embedder failure", &codegraph.EmbedderFailure{Cause: errors.New("x")}, "EmbedderFailure"},
		{"retrieval failed sentinel", codegraph.ErrRetrievalFailed, "RetrievalFailed"},
		{"cancelled sentinel", codegraph.ErrCancelled, "Cancelled"},
		{"unclassified error", errors.New("boom"), "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := toolsurface.NewCatalog(nil)
			failErr := tt.err
			if err := c.Register(toolsurface.Tool{
				Name: "fail",
				Handler: func(context.Context, map[string]any) (any, error) {
					return nil, failErr
				},
			}); err != nil {
				t.Fatalf("Register: %v", err)
			}

			obs := c.Dispatch(context.Background(), codegraph.ToolCall{ToolName: "fail"})
			if obs.OK {
				t.Fatal("expected OK=false")
			}
			if obs.ErrKind != tt.wantKind {
				t.Errorf("ErrKind = %q, want %q", obs.ErrKind, tt.wantKind)
			}
		})
	}
}

func TestList_ReturnsEveryRegisteredTool(t *testing.T) {
	c := toolsurface.NewCatalog(nil)
	if err := c.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Register(toolsurface.Tool{Name: "noop", Handler: func(context.Context, map[string]any) (any, error) { return nil, nil }}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tools := c.List()
	if len(tools) != 2 {
		t.Fatalf("List() returned %d tools, want 2", len(tools))
	}
}
