package prompts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/types"
)

type cropTool struct{}

func (cropTool) Name() string        { return "crop_frame" }
func (cropTool) Description() string { return "Crop a region of a frame." }
func (cropTool) Schema() tools.Schema {
	return tools.NewSchema(
		tools.Param{Name: "frame", Type: tools.TypeResource, Required: true},
		tools.Param{Name: "zoom", Type: tools.TypeNumber, Required: true},
		tools.Param{Name: "regions", Type: tools.TypeArray, Required: true},
		tools.Param{Name: "mode", Type: tools.TypeString, Enum: []string{"fast", "exact"}, Required: true},
		tools.Param{Name: "label", Type: tools.TypeString},
	)
}
func (cropTool) Execute(context.Context, tools.Arguments) (*types.ToolResult, error) {
	return nil, nil
}
func (cropTool) IsLoopBreaking() bool { return false }

func TestFormatToolSchema(t *testing.T) {
	tool := tools.NewTaskCompletionTool()

	formatted := FormatToolSchema(tool)

	if !strings.Contains(formatted, "task_completion") {
		t.Error("formatted schema should contain tool name")
	}
	if !strings.Contains(formatted, "Signal that the task is complete") {
		t.Error("formatted schema should contain description")
	}
	if !strings.Contains(formatted, "Parameters") {
		t.Error("formatted schema should contain parameters section")
	}
	if !strings.Contains(formatted, "loop-breaking") {
		t.Error("formatted schema should indicate loop-breaking tool")
	}
	if !strings.Contains(formatted, "<task_completion>") {
		t.Error("formatted schema should include a tagged example")
	}
}

func TestFormatToolSchemas(t *testing.T) {
	t.Run("NoTools", func(t *testing.T) {
		formatted := FormatToolSchemas([]tools.Tool{})
		if !strings.Contains(formatted, "No tools available") {
			t.Error("should indicate no tools available")
		}
	})

	t.Run("Header", func(t *testing.T) {
		formatted := FormatToolSchemas([]tools.Tool{tools.NewTaskCompletionTool()})
		if !strings.Contains(formatted, "AVAILABLE TOOLS") {
			t.Error("should contain AVAILABLE TOOLS header")
		}
	})
}

func TestPromptBuilder(t *testing.T) {
	completion := []tools.Tool{tools.NewTaskCompletionTool()}

	t.Run("EmbeddedDescribesTools", func(t *testing.T) {
		prompt := NewPromptBuilder().
			WithTools(completion).
			WithProtocol(config.ProtocolEmbedded).
			Build()

		assert.Contains(t, prompt, "<available_tools>")
		assert.Contains(t, prompt, "<task_completion>")
		assert.Contains(t, prompt, "<chain_of_thought>")
		assert.Contains(t, prompt, "<tool_use_rules>")
	})

	t.Run("NativeOmitsToolList", func(t *testing.T) {
		prompt := NewPromptBuilder().
			WithTools(completion).
			WithProtocol(config.ProtocolNative).
			Build()

		assert.NotContains(t, prompt, "<available_tools>")
		assert.Contains(t, prompt, "offered as functions")
	})

	t.Run("InstructionsFirst", func(t *testing.T) {
		prompt := NewPromptBuilder().
			WithInstructions("Review the ad for policy issues.").
			Build()

		assert.True(t, strings.HasPrefix(prompt, "<instructions>\nReview the ad for policy issues."))
	})
}

func TestGenerateXMLExample(t *testing.T) {
	example := GenerateXMLExample(cropTool{}.Schema(), "crop_frame")

	assert.True(t, strings.HasPrefix(example, "<crop_frame>\n"))
	assert.True(t, strings.HasSuffix(example, "</crop_frame>"))
	assert.Contains(t, example, "<frame>42</frame>")
	assert.Contains(t, example, "<zoom>3.14</zoom>")
	assert.Contains(t, example, "<region>item1</region>")
	assert.Contains(t, example, "<mode>fast</mode>")
	assert.NotContains(t, example, "label", "optional params are left out")
}

func TestGeneratedExampleParses(t *testing.T) {
	reg, err := tools.NewRegistry()
	require.NoError(t, err)
	reg.MustRegister(tools.NewTaskCompletionTool())

	text := "<thinking>done</thinking>\n" + GenerateXMLExample(tools.NewTaskCompletionTool().Schema(), tools.TaskCompletionToolName)
	parser := tools.NewParser(reg, config.ProtocolEmbedded, config.DefaultSentinels())

	res, err := parser.Parse(text, nil)
	require.NoError(t, err)
	require.True(t, res.HasCalls())

	inv, err := parser.Resolve(res.Calls[0])
	require.NoError(t, err)
	assert.Equal(t, "example & content", inv.Arguments["result"])
}

func TestBuildMessages(t *testing.T) {
	embeddedCall := types.ToolInvocation{Name: "lookup", CallID: "call_e", Encoding: types.EncodingEmbedded}
	structuredCall := types.ToolInvocation{Name: "lookup", CallID: "call_s", Encoding: types.EncodingStructured}

	errMsg := types.NewToolMessage(&types.ToolResult{CallID: "call_e", Name: "lookup", Payload: "boom"}).
		WithMetadata("is_error", true)

	history := []*types.Message{
		types.NewSystemMessage("sys"),
		types.NewUserMessage("task"),
		types.NewAssistantToolCallMessage("<lookup><q>x</q></lookup>", embeddedCall),
		errMsg,
		types.NewAssistantToolCallMessage("", structuredCall),
		types.NewToolMessage(&types.ToolResult{CallID: "call_s", Name: "lookup", Payload: "ok"}),
	}

	messages := BuildMessages(history)
	require.Len(t, messages, 6)

	assert.False(t, messages[2].HasToolCalls(), "embedded calls are replayed as text")
	assert.Equal(t, "<lookup><q>x</q></lookup>", messages[2].Content)
	assert.True(t, history[2].HasToolCalls(), "history is not mutated")

	assert.Equal(t, types.RoleUser, messages[3].Role)
	assert.Equal(t, "Tool 'lookup' error:\nboom", messages[3].Content)

	assert.Same(t, history[4], messages[4])
	assert.Equal(t, types.RoleTool, messages[5].Role)
	assert.Equal(t, "call_s", messages[5].ToolCallID)
}

func TestNormalizeRoleForLLM(t *testing.T) {
	t.Run("RoleToolRemappedToRoleUser", func(t *testing.T) {
		original := types.NewToolMessage(&types.ToolResult{CallID: "c", Name: "lookup", Payload: "found"})
		normalized := normalizeRoleForLLM(original)

		if normalized.Role != types.RoleUser {
			t.Errorf("expected RoleUser after normalization, got %s", normalized.Role)
		}
		if normalized.Content != "Tool 'lookup' result:\nfound" {
			t.Errorf("unexpected content %q", normalized.Content)
		}
		if original.Role != types.RoleTool {
			t.Error("normalizeRoleForLLM must not mutate the original message")
		}
	})

	t.Run("OtherRolesPassThrough", func(t *testing.T) {
		msgs := []*types.Message{
			types.NewUserMessage("user msg"),
			types.NewAssistantMessage("assistant msg"),
			types.NewSystemMessage("system msg"),
		}
		for _, msg := range msgs {
			if result := normalizeRoleForLLM(msg); result != msg {
				t.Errorf("expected same pointer for role %s, got a copy", msg.Role)
			}
		}
	})
}

func TestBuildErrorRecoveryMessage(t *testing.T) {
	tests := []struct {
		name string
		ctx  ErrorRecoveryContext
		want []string
		not  []string
	}{
		{
			name: "tool execution",
			ctx:  ErrorRecoveryContext{Type: ErrorTypeToolExecution, ToolName: "lookup", Error: errors.New("timeout"), AvailableTools: []string{"lookup"}},
			want: []string{"'lookup' failed: timeout"},
			not:  []string{"Available tools"},
		},
		{
			name: "unknown tool lists alternatives",
			ctx:  ErrorRecoveryContext{Type: ErrorTypeUnknownTool, ToolName: "serch", AvailableTools: []string{"search", "task_completion"}},
			want: []string{"'serch' does not exist", "Available tools: search, task_completion"},
		},
		{
			name: "invalid call",
			ctx:  ErrorRecoveryContext{Type: ErrorTypeInvalidCall, ToolName: "lookup", Error: errors.New("missing required parameter \"q\"")},
			want: []string{"(tool 'lookup')", "missing required parameter"},
		},
		{
			name: "empty response",
			ctx:  ErrorRecoveryContext{Type: ErrorTypeEmptyResponse},
			want: []string{"empty", "task_completion"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := BuildErrorRecoveryMessage(tt.ctx)
			for _, w := range tt.want {
				assert.Contains(t, msg, w)
			}
			for _, n := range tt.not {
				assert.NotContains(t, msg, n)
			}
		})
	}
}

func TestBuildMilestoneReminder(t *testing.T) {
	assert.Contains(t, BuildMilestoneReminder(10, 40), "used 10 of 40 steps (30 remaining)")
	assert.Contains(t, BuildMilestoneReminder(45, 40), "(0 remaining)")
}

func TestSchemaToJSON(t *testing.T) {
	jsonStr, err := SchemaToJSON(tools.NewTaskCompletionTool().Schema().JSONSchema())
	require.NoError(t, err)
	assert.Contains(t, jsonStr, `"object"`)
	assert.Contains(t, jsonStr, `"result"`)
}
