package prompts

import (
	"fmt"
	"strings"
)

// ErrorType classifies a recoverable failure reported back to the model.
type ErrorType int

const (
	// ErrorTypeToolExecution is a tool handler failure.
	ErrorTypeToolExecution ErrorType = iota
	// ErrorTypeUnknownTool is a call to a tool that is not registered.
	ErrorTypeUnknownTool
	// ErrorTypeInvalidCall is a malformed invocation or invalid arguments.
	ErrorTypeInvalidCall
	// ErrorTypeEmptyResponse is a turn with neither text nor a tool call.
	ErrorTypeEmptyResponse
)

// ErrorRecoveryContext describes a failure to explain to the model.
type ErrorRecoveryContext struct {
	Error          error
	ToolName       string
	AvailableTools []string
	Type           ErrorType
}

// BuildErrorRecoveryMessage renders a correction message for the transcript.
func BuildErrorRecoveryMessage(ctx ErrorRecoveryContext) string {
	var b strings.Builder

	switch ctx.Type {
	case ErrorTypeToolExecution:
		b.WriteString(fmt.Sprintf("The tool '%s' failed", ctx.ToolName))
		if ctx.Error != nil {
			b.WriteString(fmt.Sprintf(": %v", ctx.Error))
		}
		b.WriteString(".\n\nReview the error, adjust the arguments or choose a different approach, and try again.")

	case ErrorTypeUnknownTool:
		b.WriteString(fmt.Sprintf("The tool '%s' does not exist.", ctx.ToolName))
		b.WriteString("\n\nOnly call tools from the available list.")

	case ErrorTypeInvalidCall:
		b.WriteString("Your tool call could not be processed")
		if ctx.ToolName != "" {
			b.WriteString(fmt.Sprintf(" (tool '%s')", ctx.ToolName))
		}
		if ctx.Error != nil {
			b.WriteString(fmt.Sprintf(": %v", ctx.Error))
		}
		b.WriteString(".\n\nCheck the call format and the required parameters, then try again.")

	case ErrorTypeEmptyResponse:
		b.WriteString(EmptyTurnPrompt)
	}

	if len(ctx.AvailableTools) > 0 && ctx.Type != ErrorTypeToolExecution {
		b.WriteString("\n\nAvailable tools: ")
		b.WriteString(strings.Join(ctx.AvailableTools, ", "))
	}

	return b.String()
}

// EmptyTurnPrompt corrects a response that contained neither text nor a tool call.
const EmptyTurnPrompt = "Your last response was empty. Either call a tool to continue the work, " +
	"or call task_completion with a summary of your findings if the task is done."

// ContinuationPrompt follows an assistant turn that did not call a tool.
const ContinuationPrompt = "Continue with the task. Call the next tool you need, " +
	"or call task_completion if you are done."

// ForcedCompletionPrompt is injected once the iteration limit is reached.
const ForcedCompletionPrompt = "You have reached the maximum number of steps for this task. " +
	"Call task_completion now with a summary of everything you have found so far. " +
	"Do not call any other tool."

// BuildMilestoneReminder reminds the model of its remaining step budget.
func BuildMilestoneReminder(iteration, maxIterations int) string {
	remaining := maxIterations - iteration
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("Progress check: you have used %d of %d steps (%d remaining). "+
		"Focus on what is still missing and call task_completion as soon as the task is done.",
		iteration, maxIterations, remaining)
}

// BuildSynthesisRequest asks the synthesis pass to expand the completion summary.
func BuildSynthesisRequest(summary string) string {
	return fmt.Sprintf("The work is complete. Summary written at completion:\n\n%s\n\n"+
		"Produce the final result now.", strings.TrimSpace(summary))
}
