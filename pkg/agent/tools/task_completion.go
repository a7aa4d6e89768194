package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/loom/pkg/types"
)

// TaskCompletionToolName is the name of the completion-signal tool.
const TaskCompletionToolName = "task_completion"

// TaskCompletionTool is a loop-breaking tool that lets the model signal it has
// finished. Its result is the terse summary handed to the synthesizer.
type TaskCompletionTool struct{}

// NewTaskCompletionTool creates a new task completion tool
func NewTaskCompletionTool() *TaskCompletionTool {
	return &TaskCompletionTool{}
}

// Name returns the tool's identifier
func (t *TaskCompletionTool) Name() string {
	return TaskCompletionToolName
}

// Description returns a description of what this tool does
func (t *TaskCompletionTool) Description() string {
	return "Signal that the task is complete and summarize the findings. " +
		"Use this only when all required work is finished. " +
		"The summary is used to produce the final structured result."
}

// Schema declares a single required result parameter.
func (t *TaskCompletionTool) Schema() Schema {
	return NewSchema(Param{
		Name:        "result",
		Type:        TypeString,
		Description: "A concise summary of the findings. Must not end with questions or offers for further assistance.",
		Required:    true,
	})
}

// Execute returns the summary as the result payload.
func (t *TaskCompletionTool) Execute(ctx context.Context, args Arguments) (*types.ToolResult, error) {
	result, _ := args.String("result")
	if strings.TrimSpace(result) == "" {
		return nil, fmt.Errorf("result cannot be empty")
	}
	return &types.ToolResult{Payload: result}, nil
}

// IsLoopBreaking returns true because this tool ends the working phase
func (t *TaskCompletionTool) IsLoopBreaking() bool {
	return true
}
