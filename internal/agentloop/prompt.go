package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codegraph/querycore/internal/toolsurface"
	"github.com/codegraph/querycore/pkg/capability"
	"github.com/codegraph/querycore/pkg/codegraph"
)

// toolCallJSON is the wire shape of the "tool_call" field in a reply
// envelope.
type toolCallJSON struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// replyEnvelope is the JSON object every LLM turn must produce, per
// spec.md's ReAct protocol: {reasoning, tool_call: {...}|null, is_final}.
// When is_final is true, final_answer carries the terminal text.
type replyEnvelope struct {
	Reasoning   string        `json:"reasoning"`
	ToolCall    *toolCallJSON `json:"tool_call"`
	IsFinal     bool          `json:"is_final"`
	FinalAnswer string        `json:"final_answer"`
}

// parseReply decodes one LLM reply into a [replyEnvelope], validating the
// minimal shape the loop depends on: a non-final reply must carry a
// tool_call naming a tool, and a final reply must carry non-empty
// final_answer text.
func parseReply(text string) (replyEnvelope, error) {
	var env replyEnvelope
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &env); err != nil {
		return replyEnvelope{}, fmt.Errorf("malformed reply: %w", err)
	}
	if env.IsFinal {
		if !trimSpaceNonEmpty(env.FinalAnswer) {
			return replyEnvelope{}, fmt.Errorf("is_final true but final_answer is empty")
		}
		return env, nil
	}
	if env.ToolCall == nil || env.ToolCall.ToolName == "" {
		return replyEnvelope{}, fmt.Errorf("is_final false but tool_call is missing or unnamed")
	}
	return env, nil
}

// extractJSONObject trims any leading/trailing prose an LLM may wrap its
// JSON reply in, returning the substring from the first '{' to the last
// '}'. If no braces are found, the original text is returned unchanged and
// json.Unmarshal will report the parse failure.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// obtainReply calls the LLM and parses its reply, retrying on a malformed
// or protocol-violating response up to [maxReplyAttempts] times total. Each
// failed attempt appends a corrective observation to the conversation so
// the next attempt sees why it was rejected, per spec.md's "append
// corrective observation + retry" rule. Exhausting the attempt budget ends
// the session with [codegraph.ErrAgentProtocolError].
func (s *session) obtainReply(forced bool) (replyEnvelope, error) {
	for attempt := 1; attempt <= maxReplyAttempts; attempt++ {
		if err := s.handle.Check(); err != nil {
			return replyEnvelope{}, err
		}

		resp, err := s.loop.llm.Complete(s.handle.Context(), capability.CompletionRequest{
			Messages:  s.conversation,
			MaxTokens: s.tier.ContextBudgetTokens,
		})
		if err != nil {
			return replyEnvelope{}, &codegraph.LLMFailure{Kind: codegraph.LLMFailureTransient, Cause: err}
		}
		s.handle.AddTokens(resp.InputTokens + resp.OutputTokens)

		env, perr := parseReply(resp.Text)
		if perr == nil && forced && !env.IsFinal {
			perr = fmt.Errorf("forced terminal step must set is_final true")
		}
		if perr != nil {
			s.conversation = append(s.conversation,
				capability.LLMMessage{Role: "assistant", Content: resp.Text},
				capability.LLMMessage{Role: "user", Content: correctiveMessage(perr, forced)},
			)
			continue
		}

		s.conversation = append(s.conversation, capability.LLMMessage{Role: "assistant", Content: resp.Text})
		return env, nil
	}
	return replyEnvelope{}, codegraph.ErrAgentProtocolError
}

func correctiveMessage(err error, forced bool) string {
	if forced {
		return fmt.Sprintf("Your reply did not conform to the required protocol (%v). This is the final step: you must reply with exactly {\"reasoning\": \"...\", \"tool_call\": null, \"is_final\": true, \"final_answer\": \"...\"}.", err)
	}
	return fmt.Sprintf("Your reply did not conform to the required protocol (%v). Reply with exactly {\"reasoning\": \"...\", \"tool_call\": {\"tool_name\": \"...\", \"parameters\": {...}}|null, \"is_final\": true|false, \"final_answer\": \"...\" when is_final}.", err)
}

// marshalObservation renders a tool observation as compact JSON for
// inclusion in the conversation.
func marshalObservation(obs codegraph.ToolObservation) string {
	b, err := json.Marshal(obs)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"err_kind":"Internal","err_msg":%q}`, err.Error())
	}
	return string(b)
}

// truncateToBudget bounds text to approximately budgetTokens using the
// cl100k_base encoding. If the encoding cannot be loaded (no local BPE
// cache and no network access), it falls back to the common
// ~4-characters-per-token estimate, since the exact encoding in that case
// depends on which LLMClient adapter is actually wired in.
func truncateToBudget(text string, budgetTokens int) string {
	if budgetTokens <= 0 {
		return text
	}

	if enc := tokenEncoder(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= budgetTokens {
			return text
		}
		return enc.Decode(tokens[:budgetTokens]) + "...[truncated]"
	}

	const charsPerToken = 4
	limit := budgetTokens * charsPerToken
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "...[truncated]"
}

// systemPrompt builds the session's system message: the ZERO HEURISTICS
// rule, the tier's verbosity guidance, and the available tool catalog.
// Per spec.md, the LLM may only assert facts backed by a tool observation
// it has actually received in this conversation.
func systemPrompt(t codegraph.TierProfile, req Request, catalog *toolsurface.Catalog) string {
	var b strings.Builder
	b.WriteString("You are a code-intelligence analysis agent. Answer the user's question about a codebase by calling tools to gather evidence, then produce a final answer.\n\n")
	b.WriteString("ZERO HEURISTICS: you may only state a fact about the codebase if a tool observation in this conversation actually supports it. Never guess, assume, or rely on general code-pattern intuition. If the tools cannot establish something, say so rather than inferring it.\n\n")
	fmt.Fprintf(&b, "Analysis kind: %s\nVerbosity: %s\nYou have at most %d steps before you must produce a final answer; result limit %d.\n\n", req.Kind, t.Verbosity, t.MaxSteps, t.ResultLimit)
	b.WriteString("Respond with exactly one JSON object per turn:\n")
	b.WriteString(`{"reasoning": "...", "tool_call": {"tool_name": "...", "parameters": {...}} | null, "is_final": true|false, "final_answer": "..." }` + "\n\n")
	b.WriteString("Available tools:\n")
	for _, tl := range catalog.List() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", tl.Name, tl.Latency, tl.Description)
	}
	return b.String()
}
