// Package agentloop implements the Agent Loop (C8): a ReAct state machine
// over (step_index, conversation, tier, cancel_token) that drives the
// Tool Surface (C6) and an LLMClient toward a final answer, bounded by a
// per-step timeout, an overall session timeout, and a max-steps budget
// enforced via a forced terminal synthesis step.
//
// The loop is a plain state machine, not a coroutine: each call to
// [Loop.Run] drives the conversation to completion or failure in one Go
// call, matching the teacher's own synchronous turn-processing style
// (internal/agent/npc.go's HandleUtterance).
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codegraph/querycore/internal/progress"
	"github.com/codegraph/querycore/internal/tier"
	"github.com/codegraph/querycore/internal/toolsurface"
	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

const (
	defaultStepTimeout    = 30 * time.Second
	defaultSessionTimeout = 120 * time.Second
	maxReplyAttempts      = 3 // 1 original + 2 retries
)

// AnalysisKind names the broad shape of question being asked, used to seed
// the system prompt and as part of the agent-level result cache key.
type AnalysisKind string

const (
	KindGeneral    AnalysisKind = "general"
	KindDependency AnalysisKind = "dependency"
	KindCycle      AnalysisKind = "cycle"
	KindCoupling   AnalysisKind = "coupling"
	KindHubs       AnalysisKind = "hubs"
)

// Request is the input to one agent session, mirroring spec.md's
// ask(kind, question, {paths?, langs?, max_steps_override?}) signature.
type Request struct {
	Kind             AnalysisKind
	Question         string
	Paths            []string
	Langs            []string
	MaxStepsOverride int
	SnapshotID       string // repo snapshot id, part of the result cache key
}

// FinalAnswer is a session's successful terminal output.
type FinalAnswer struct {
	Text      string
	StepsUsed int
	Tokens    int
}

// Option configures a [Loop] at construction time.
type Option func(*config)

type config struct {
	stepTimeout    time.Duration
	sessionTimeout time.Duration
	logger         *slog.Logger
}

// WithStepTimeout overrides the per-step timeout (default 30s).
func WithStepTimeout(d time.Duration) Option {
	return func(c *config) { c.stepTimeout = d }
}

// WithSessionTimeout overrides the overall session wall-clock budget
// (default 120s).
func WithSessionTimeout(d time.Duration) Option {
	return func(c *config) { c.sessionTimeout = d }
}

// WithLogger sets the structured logger used for step-level diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Loop drives ReAct sessions against an LLMClient and a Tool Surface
// catalog, selecting a tier from the LLM's advertised context window.
type Loop struct {
	llm      capability.LLMClient
	catalog  *toolsurface.Catalog
	selector *tier.Selector
	cache    *resultCache
	cfg      config
}

// New creates a [Loop]. resultCacheSize is the capacity of the optional
// agent-layer result cache (default 100, per spec.md); pass 0 to use the
// default.
func New(llm capability.LLMClient, catalog *toolsurface.Catalog, selector *tier.Selector, resultCacheSize int, opts ...Option) *Loop {
	cfg := config{stepTimeout: defaultStepTimeout, sessionTimeout: defaultSessionTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loop{
		llm:      llm,
		catalog:  catalog,
		selector: selector,
		cache:    newResultCache(resultCacheSize),
		cfg:      cfg,
	}
}

// Run executes one agent session end to end: tier selection, cache lookup,
// the ReAct step loop, and forced terminal synthesis at the max-steps
// boundary. progressSink may be nil.
func (l *Loop) Run(ctx context.Context, req Request, progressSink progress.Sink) (FinalAnswer, error) {
	tierProfile := l.selector.Select(l.llm.AdvertisedContextWindow())

	key := cacheKey(req, tierProfile)
	if cached, ok := l.cache.get(key); ok {
		return cached, nil
	}

	maxSteps := tierProfile.MaxSteps
	if req.MaxStepsOverride > 0 {
		maxSteps = req.MaxStepsOverride
	}

	handle := progress.NewHandle(ctx, l.cfg.sessionTimeout, progressSink)

	s := &session{
		loop:         l,
		handle:       handle,
		tier:         tierProfile,
		conversation: []capability.LLMMessage{{Role: "system", Content: systemPrompt(tierProfile, req, l.catalog)}, {Role: "user", Content: req.Question}},
	}

	answer, err := s.run(maxSteps)
	if err != nil {
		handle.Failed(failureKind(err))
		return FinalAnswer{}, err
	}

	handle.Done()
	l.cache.put(key, answer)
	return answer, nil
}

// session holds the mutable state of one in-flight agent run:
// (step_index, conversation, tier, cancel_token) exactly as spec.md's
// design notes describe it, with cancel_token realized as handle.Context().
type session struct {
	loop         *Loop
	handle       *progress.Handle
	tier         codegraph.TierProfile
	conversation []capability.LLMMessage
}

// run drives the state machine to completion: at most maxSteps
// tool-calling iterations, followed by exactly one forced terminal
// synthesis iteration with no further tool calls permitted.
func (s *session) run(maxSteps int) (FinalAnswer, error) {
	for step := 1; step <= maxSteps+1; step++ {
		forced := step == maxSteps+1

		if err := s.handle.Check(); err != nil {
			return FinalAnswer{}, err
		}

		n := s.handle.BeginStep("")
		env, err := s.obtainReply(forced)
		if err != nil {
			s.handle.EndStep(n)
			return FinalAnswer{}, err
		}

		if env.IsFinal {
			s.handle.EndStep(n)
			s.handle.Finalizing()
			return FinalAnswer{Text: env.FinalAnswer, StepsUsed: n, Tokens: s.handle.Tokens()}, nil
		}

		obs := s.dispatch(env.ToolCall)
		s.appendObservation(env.ToolCall.ToolName, obs)
		s.handle.EndStep(n)
	}

	// Unreachable: the forced step (step == maxSteps+1) only returns from
	// obtainReply with env.IsFinal true, by construction of forcedReply's
	// validation.
	return FinalAnswer{}, codegraph.ErrAgentProtocolError
}

// dispatch runs one tool call under the per-step timeout, recording its
// duration via the progress handle. A tool-level failure is recorded as an
// observation, never returned as a session-ending error.
func (s *session) dispatch(call toolCallJSON) codegraph.ToolObservation {
	stepCtx, cancel := s.handle.StepContext(s.loop.cfg.stepTimeout)
	defer cancel()

	start := time.Now()
	obs := s.loop.catalog.Dispatch(stepCtx, codegraph.ToolCall{ToolName: call.ToolName, Parameters: call.Parameters})
	s.handle.ToolCalled(call.ToolName, time.Since(start))
	return obs
}

// appendObservation appends the tool's observation to the conversation as
// a user-role message, truncated to the tier's context budget.
func (s *session) appendObservation(toolName string, obs codegraph.ToolObservation) {
	text := marshalObservation(obs)
	text = truncateToBudget(text, s.tier.ContextBudgetTokens)
	s.conversation = append(s.conversation, capability.LLMMessage{
		Role:    "user",
		Content: fmt.Sprintf("Observation for %s: %s", toolName, text),
	})
}

// failureKind maps a session-ending error to the progress event's
// FailureKind label.
func failureKind(err error) string {
	var timeout *codegraph.Timeout
	var llmFailure *codegraph.LLMFailure
	switch {
	case errors.Is(err, codegraph.ErrAgentProtocolError):
		return "AgentProtocolError"
	case errors.Is(err, codegraph.ErrCancelled):
		return "Cancelled"
	case errors.As(err, &timeout):
		return "Timeout"
	case errors.As(err, &llmFailure):
		return "LLMFailure"
	default:
		return "Internal"
	}
}

// trimSpaceNonEmpty reports whether s has any non-whitespace content.
func trimSpaceNonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}
