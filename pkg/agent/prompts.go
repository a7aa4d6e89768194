package agent

import (
	"github.com/entrhq/loom/pkg/agent/prompts"
	"github.com/entrhq/loom/pkg/types"
)

// buildSystemPrompt constructs the system prompt with tool schemas and the task instructions
func (s *Session) buildSystemPrompt() string {
	return prompts.NewPromptBuilder().
		WithInstructions(s.instructions).
		WithTools(s.engine.registry.Tools()).
		WithProtocol(s.engine.cfg.Tools.Protocol).
		Build()
}

// appendCorrection adds an engine-authored user message to the transcript.
func (s *Session) appendCorrection(content string) {
	s.transcript.Append(types.NewUserMessage(content).WithMetadata("kind", "correction"))
}
