// Package progress implements the session-scoped progress and cancellation
// handle (C9): step/token/wall-time accounting, a cooperative cancel token,
// and an optional event sink for streaming progress to a caller.
//
// Cancellation is built directly on [context.Context], matching the
// teacher's own cooperative-cancellation style (internal/agent/npc.go
// checks ctx.Err() before and after acquiring its lock rather than
// maintaining a bespoke cancel flag).
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/codegraph/querycore/pkg/codegraph"
)

// EventKind names one point in an agent session's lifecycle.
type EventKind string

const (
	EventStarted    EventKind = "Started"
	EventStepBegan  EventKind = "StepBegan"
	EventToolCalled EventKind = "ToolCalled"
	EventStepEnded  EventKind = "StepEnded"
	EventFinalizing EventKind = "Finalizing"
	EventDone       EventKind = "Done"
	EventCancelled  EventKind = "Cancelled"
	EventFailed     EventKind = "Failed"
)

// Event is one progress-stream entry.
type Event struct {
	Kind        EventKind
	Step        int
	ToolName    string
	DurationMs  int64
	FailureKind string
}

// Sink receives progress events as a session advances. Implementations must
// not block for long; Handle calls Emit synchronously from the session's
// own goroutine.
type Sink interface {
	Emit(Event)
}

// NopSink discards every event. It is the default when no sink is supplied.
type NopSink struct{}

// Emit implements [Sink].
func (NopSink) Emit(Event) {}

// Handle is a session-scoped progress and cancellation tracker. One Handle
// is created per top-level agent question and destroyed on completion,
// timeout, or cancel.
//
// Handle is single-threaded by contract (spec.md: "Agent sessions: strictly
// single-threaded internally"), except for Cancel, Elapsed, Tokens, and
// Step, which may be called concurrently from a caller wishing to observe
// or cancel a running session.
type Handle struct {
	mu sync.Mutex

	start          time.Time
	sessionTimeout time.Duration
	step           int
	tokens         int
	sink           Sink

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandle creates a [Handle] bound to parent, with an overall session
// timeout applied on top of whatever deadline parent already carries. A nil
// sink is replaced with [NopSink].
func NewHandle(parent context.Context, sessionTimeout time.Duration, sink Sink) *Handle {
	if sink == nil {
		sink = NopSink{}
	}
	ctx, cancel := context.WithTimeout(parent, sessionTimeout)
	h := &Handle{
		start:          time.Now(),
		sessionTimeout: sessionTimeout,
		sink:           sink,
		ctx:            ctx,
		cancel:         cancel,
	}
	h.sink.Emit(Event{Kind: EventStarted})
	return h
}

// Context returns the session's context. It is done when the session is
// cancelled, its timeout elapses, or the parent context passed to
// [NewHandle] is done.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Cancel requests cooperative cancellation of the session. It is idempotent
// and safe to call from any goroutine.
func (h *Handle) Cancel() {
	h.cancel()
}

// Check returns a well-typed error if the session has been cancelled or has
// timed out, and nil otherwise. Every long operation (LLM calls, tool
// dispatches, ANN searches, node hydration) should call Check before
// starting.
func (h *Handle) Check() error {
	select {
	case <-h.ctx.Done():
		if h.ctx.Err() == context.DeadlineExceeded {
			return &codegraph.Timeout{Scope: codegraph.TimeoutSession}
		}
		return codegraph.ErrCancelled
	default:
		return nil
	}
}

// StepContext derives a child context bounded by the per-step timeout, tied
// to the session's own cancellation. The returned cancel func must be
// called once the step completes to release resources.
func (h *Handle) StepContext(stepTimeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, stepTimeout)
}

// BeginStep increments and returns the new current step number, and emits a
// StepBegan event.
func (h *Handle) BeginStep(toolName string) int {
	h.mu.Lock()
	h.step++
	n := h.step
	h.mu.Unlock()
	h.sink.Emit(Event{Kind: EventStepBegan, Step: n, ToolName: toolName})
	return n
}

// EndStep emits a StepEnded event for the given step number.
func (h *Handle) EndStep(step int) {
	h.sink.Emit(Event{Kind: EventStepEnded, Step: step})
}

// ToolCalled emits a ToolCalled event recording how long a tool dispatch
// took.
func (h *Handle) ToolCalled(toolName string, duration time.Duration) {
	h.sink.Emit(Event{Kind: EventToolCalled, ToolName: toolName, DurationMs: duration.Milliseconds()})
}

// Finalizing emits a Finalizing event, signalling that the session is about
// to produce its terminal answer.
func (h *Handle) Finalizing() {
	h.sink.Emit(Event{Kind: EventFinalizing})
}

// Done emits a Done event and releases the session's context resources.
func (h *Handle) Done() {
	h.sink.Emit(Event{Kind: EventDone})
	h.cancel()
}

// Cancelled emits a Cancelled event and releases the session's context
// resources.
func (h *Handle) Cancelled() {
	h.sink.Emit(Event{Kind: EventCancelled})
	h.cancel()
}

// Failed emits a Failed event carrying the failure kind and releases the
// session's context resources.
func (h *Handle) Failed(kind string) {
	h.sink.Emit(Event{Kind: EventFailed, FailureKind: kind})
	h.cancel()
}

// Step returns the current step number.
func (h *Handle) Step() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step
}

// AddTokens accumulates tokens consumed by an LLM call onto the session's
// running total.
func (h *Handle) AddTokens(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens += n
}

// Tokens returns the cumulative LLM tokens consumed so far.
func (h *Handle) Tokens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

// Elapsed returns the wall-clock time since the session began.
func (h *Handle) Elapsed() time.Duration {
	return time.Since(h.start)
}
