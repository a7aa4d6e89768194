package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/entrhq/loom/pkg/agent/prompts"
	"github.com/entrhq/loom/pkg/agent/stream"
	"github.com/entrhq/loom/pkg/agent/transcript"
	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/types"
)

// maxPartialResults bounds the tool results quoted in a partial artifact.
const maxPartialResults = 5

// synthesize runs the tool-free pass that expands the completion summary
// into the final artifact. Provider failures fall back to an artifact built
// from the summary; only caller cancellation fails the session.
func (s *Session) synthesize(ctx context.Context, consumer *stream.Consumer, summary string) (*types.Artifact, error) {
	s.setState(StateSynthesizing)
	agentDebugLog.Infof("Session %s: synthesizing final artifact", s.ID)

	synthCtx := ctx
	if timeout := s.engine.synthesisTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := &llm.Request{
		Messages:  s.synthesisMessages(summary),
		MaxTokens: s.engine.cfg.LLM.MaxTokens,
	}
	turn, err := s.streamTurn(synthCtx, consumer, req)
	if err != nil {
		if ctx.Err() != nil {
			return s.partialArtifact("cancelled"), fmt.Errorf("session cancelled: %w", ctx.Err())
		}
		agentDebugLog.Warnf("Session %s: synthesis failed, using the completion summary: %v", s.ID, err)
		s.emitNotice(consumer, "Final synthesis failed; returning the completion summary.")
		return s.summaryArtifact(summary), nil
	}

	content := strings.TrimSpace(turn.Text)
	if content == "" {
		agentDebugLog.Warnf("Session %s: synthesis returned no text, using the completion summary", s.ID)
		return s.summaryArtifact(summary), nil
	}

	s.recordUsage(req, turn)
	s.transcript.Append(types.NewAssistantMessage(content).WithMetadata("kind", "synthesis"))

	return &types.Artifact{
		Content:    content,
		Data:       extractJSONObject(content),
		Source:     types.ArtifactSynthesized,
		Iterations: s.Stats().Iterations,
	}, nil
}

// synthesisMessages renders the full transcript with attachments stripped and
// tool calls flattened to text, so the request carries no tool protocol.
func (s *Session) synthesisMessages(summary string) []*types.Message {
	system := prompts.SynthesisSystemPrompt
	if s.instructions != "" {
		system += "\n\n<instructions>\n" + s.instructions + "\n</instructions>"
	}

	var history []*types.Message
	for _, m := range transcript.StripAll(s.transcript.Messages()) {
		if flat := flattenMessage(m); flat != nil {
			history = append(history, flat)
		}
	}

	if sel, err := s.engine.budget.SelectWindow(history); err == nil {
		history = sel.Messages
	} else {
		agentDebugLog.Warnf("Session %s: synthesis history exceeds the budget, keeping recent messages only", s.ID)
		history = transcript.KeepRecent(history, 3)
	}

	msgs := make([]*types.Message, 0, len(history)+2)
	msgs = append(msgs, types.NewSystemMessage(system))
	msgs = append(msgs, history...)
	msgs = append(msgs, types.NewUserMessage(prompts.BuildSynthesisRequest(summary)))
	return msgs
}

// flattenMessage converts one transcript message to plain text. System
// messages are dropped.
func flattenMessage(m *types.Message) *types.Message {
	switch m.Role {
	case types.RoleSystem:
		return nil
	case types.RoleTool:
		return types.NewUserMessage(fmt.Sprintf("Tool '%s' result:\n%s", m.Name, m.Text()))
	case types.RoleAssistant:
		var b strings.Builder
		b.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			// Embedded calls are already part of the text.
			if tc.Encoding == types.EncodingEmbedded {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "[called %s with %s]", tc.Name, tc.ArgumentsJSON())
		}
		return types.NewAssistantMessage(b.String())
	default:
		return types.NewUserMessage(m.Text())
	}
}

// summaryArtifact is the best-effort result when synthesis fails.
func (s *Session) summaryArtifact(summary string) *types.Artifact {
	content := strings.TrimSpace(summary)
	return &types.Artifact{
		Content:    content,
		Data:       extractJSONObject(content),
		Source:     types.ArtifactSummary,
		Iterations: s.Stats().Iterations,
	}
}

// partialArtifact salvages what a failed session produced. It is never empty.
func (s *Session) partialArtifact(reason string) *types.Artifact {
	st := s.Stats()
	msgs := s.transcript.Messages()

	var b strings.Builder
	fmt.Fprintf(&b, "Session ended before completion after %d iterations (%s).", st.Iterations, reason)

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == types.RoleAssistant && strings.TrimSpace(m.Content) != "" {
			b.WriteString("\n\nLast response:\n")
			b.WriteString(strings.TrimSpace(m.Content))
			break
		}
	}

	var results []string
	for i := len(msgs) - 1; i >= 0 && len(results) < maxPartialResults; i-- {
		m := msgs[i]
		if m.Role != types.RoleTool {
			continue
		}
		if isErr, _ := m.Metadata["is_error"].(bool); isErr {
			continue
		}
		results = append(results, fmt.Sprintf("- %s: %s", m.Name, truncate(m.Content, 200)))
	}
	if len(results) > 0 {
		b.WriteString("\n\nRecent tool results:")
		for i := len(results) - 1; i >= 0; i-- {
			b.WriteString("\n")
			b.WriteString(results[i])
		}
	}

	return &types.Artifact{
		Content: b.String(),
		Data: map[string]interface{}{
			"iterations":   st.Iterations,
			"tools_called": st.ToolCalls,
			"reason":       reason,
		},
		Source:     types.ArtifactPartial,
		Iterations: st.Iterations,
	}
}

// extractJSONObject parses the outermost JSON object in s, ignoring code
// fences and surrounding prose. Returns nil when there is none.
func extractJSONObject(s string) map[string]interface{} {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(s[start:end+1]), &data); err != nil {
		return nil
	}
	return data
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
