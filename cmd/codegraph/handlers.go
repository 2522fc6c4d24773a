package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/codegraph/querycore/internal/agentloop"
	"github.com/codegraph/querycore/internal/observe"
	"github.com/codegraph/querycore/internal/progress"
	"github.com/codegraph/querycore/internal/retrieval"
	"github.com/codegraph/querycore/internal/toolsurface"
	"github.com/codegraph/querycore/pkg/codegraph"
)

// queryServer holds the handlers for the HTTP surface described in
// spec.md §6: a transport-agnostic tool-call protocol and an ask()
// agent-session API, exposed here over plain JSON/HTTP.
type queryServer struct {
	engine  *retrieval.Engine
	loop    *agentloop.Loop
	catalog *toolsurface.Catalog
	metrics *observe.Metrics
}

// handleToolCall implements the tool-call protocol: a request shaped like
// {tool_name, arguments} always returns 200 with a body of either
// {ok:true,result} or {ok:false,error:{kind,message}}, mirroring
// [toolsurface.Catalog.Dispatch] never surfacing a transport-level error
// for a well-formed tool invocation.
func (s *queryServer) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}

	obs := s.catalog.Dispatch(r.Context(), codegraph.ToolCall{
		ToolName:   req.ToolName,
		Parameters: req.Arguments,
	})

	status := "ok"
	if !obs.OK {
		status = "error"
	}
	s.metrics.RecordToolCall(r.Context(), req.ToolName, status)

	writeJSON(w, http.StatusOK, toolObservationResponse(obs))
}

func toolObservationResponse(obs codegraph.ToolObservation) map[string]any {
	if obs.OK {
		return map[string]any{"ok": true, "result": obs.Result}
	}
	errBody := map[string]any{"kind": obs.ErrKind, "message": obs.ErrMsg}
	return map[string]any{"ok": false, "error": errBody}
}

// handleAsk implements the ask() API: kind, question and optional
// paths/langs/max_steps_override go in, a FinalAnswer or an error comes
// out. Progress events are not streamed over this endpoint; a collaborator
// that needs the Started/StepBegan/.../Done stream from spec.md §6 should
// front this with its own SSE or websocket framing and supply a
// [progress.Sink] at that layer.
func (s *queryServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind             string   `json:"kind"`
		Question         string   `json:"question"`
		Paths            []string `json:"paths"`
		Langs            []string `json:"langs"`
		MaxStepsOverride int      `json:"max_steps_override"`
		SnapshotID       string   `json:"snapshot_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}

	kind, ok := parseAnalysisKind(req.Kind)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown kind: "+req.Kind)
		return
	}

	answer, err := s.loop.Run(r.Context(), agentloop.Request{
		Kind:             kind,
		Question:         req.Question,
		Paths:            req.Paths,
		Langs:            req.Langs,
		MaxStepsOverride: req.MaxStepsOverride,
		SnapshotID:       req.SnapshotID,
	}, progress.NopSink{})
	if err != nil {
		slog.Error("ask failed", "err", err)
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"text":       answer.Text,
		"steps_used": answer.StepsUsed,
		"tokens":     answer.Tokens,
	})
}

func parseAnalysisKind(s string) (agentloop.AnalysisKind, bool) {
	switch s {
	case "", "general", "code_search", "semantic_question", "context_builder", "api_surface":
		return agentloop.KindGeneral, true
	case "dependency", "dependency_analysis":
		return agentloop.KindDependency, true
	case "cycle", "call_chain":
		return agentloop.KindCycle, true
	case "coupling", "architecture":
		return agentloop.KindCoupling, true
	case "hubs":
		return agentloop.KindHubs, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": map[string]any{"kind": "bad_request", "message": msg}})
}
