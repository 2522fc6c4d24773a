// Package tier selects the agent's budget profile from the LLM's advertised
// context window.
//
// Unlike a heuristic selector that reads conversation text, [Selector] is a
// pure, deterministic function of one integer: the window size. Tier
// selection happens once per agent session and the resulting [codegraph.TierProfile]
// is immutable for the life of that session.
package tier

import "github.com/codegraph/querycore/pkg/codegraph"

// Option is a functional option for configuring a [Selector].
type Option func(*Selector)

// defaultTable holds one profile per tier, in ascending window order. A
// window strictly below defaultBreakpoints[0] selects defaultTable[0]; a
// window at or above the last breakpoint selects the last entry.
var defaultTable = []codegraph.TierProfile{
	{Tier: codegraph.TierSmall, MaxSteps: 5, ResultLimit: 10, Verbosity: codegraph.VerbosityTerse, ContextBudgetTokens: 2048},
	{Tier: codegraph.TierMedium, MaxSteps: 10, ResultLimit: 25, Verbosity: codegraph.VerbosityBalanced, ContextBudgetTokens: 4096},
	{Tier: codegraph.TierLarge, MaxSteps: 15, ResultLimit: 50, Verbosity: codegraph.VerbosityDetailed, ContextBudgetTokens: 8192},
	{Tier: codegraph.TierMassive, MaxSteps: 20, ResultLimit: 100, Verbosity: codegraph.VerbosityExploratory, ContextBudgetTokens: 16384},
}

// defaultBreakpoints are the upper-exclusive window bounds for
// defaultTable[0..2]; defaultTable[3] covers everything above the last one.
var defaultBreakpoints = []int{50_000, 150_000, 500_000}

// WithTable overrides the tier table and its breakpoints together. len(table)
// must equal len(breakpoints)+1. Intended for tests that want to exercise
// boundary behavior without the production thresholds.
func WithTable(table []codegraph.TierProfile, breakpoints []int) Option {
	return func(s *Selector) {
		if len(table) != len(breakpoints)+1 {
			panic("tier: WithTable requires len(table) == len(breakpoints)+1")
		}
		s.table = append([]codegraph.TierProfile(nil), table...)
		s.breakpoints = append([]int(nil), breakpoints...)
	}
}

// Selector maps a context window size to a [codegraph.TierProfile]. It holds
// no mutable state after construction and is safe for concurrent use.
type Selector struct {
	table       []codegraph.TierProfile
	breakpoints []int
}

// NewSelector creates a [Selector] using the spec's default tier table
// unless overridden by options.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{
		table:       append([]codegraph.TierProfile(nil), defaultTable...),
		breakpoints: append([]int(nil), defaultBreakpoints...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the tier profile for the given advertised context window,
// in tokens. Negative windows are treated as zero.
func (s *Selector) Select(contextWindow int) codegraph.TierProfile {
	if contextWindow < 0 {
		contextWindow = 0
	}
	idx := len(s.breakpoints)
	for i, bp := range s.breakpoints {
		if contextWindow < bp {
			idx = i
			break
		}
	}
	return s.table[idx]
}
