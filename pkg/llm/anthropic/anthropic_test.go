package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParams_MergesUserSideBlocks(t *testing.T) {
	calls := []types.ToolInvocation{
		{Name: "a", CallID: "t1", Arguments: map[string]interface{}{"x": 1}},
		{Name: "b", CallID: "t2"},
	}
	req := &llm.Request{
		Model: "claude-test",
		Messages: []*types.Message{
			types.NewSystemMessage("rules"),
			types.NewUserMessage("start"),
			types.NewAssistantToolCallMessage("working", calls...),
			types.NewToolMessage(&types.ToolResult{CallID: "t1", Name: "a", Payload: "one"}),
			types.NewToolMessage(&types.ToolResult{
				CallID:      "t2",
				Name:        "b",
				Payload:     "two",
				Attachments: []types.Attachment{{ID: "img", MimeType: "image/png", Data: []byte{1}}},
			}),
			types.NewUserMessage("keep going"),
		},
		Tools: []llm.ToolDefinition{{
			Name:       "a",
			Parameters: map[string]interface{}{"properties": map[string]interface{}{"x": map[string]interface{}{"type": "integer"}}, "required": []string{"x"}},
		}},
	}

	params, err := buildParams(req)
	require.NoError(t, err)

	// user, assistant, merged user (two tool results + image + text)
	require.Len(t, params.Messages, 3)
	require.Len(t, params.System, 1)
	assert.Equal(t, int64(defaultMaxTokens), params.MaxTokens)

	merged := params.Messages[2]
	assert.Len(t, merged.Content, 4)

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"tool_use_id":"t1"`)
	assert.Contains(t, s, `"tool_use_id":"t2"`)
	assert.Contains(t, s, `"type":"image"`)
	assert.Contains(t, s, `"required":["x"]`)
}

func TestBuildParams_EmptyAssistantGetsPlaceholder(t *testing.T) {
	params, err := buildParams(&llm.Request{
		Model:    "m",
		Messages: []*types.Message{types.NewUserMessage("hi"), types.NewAssistantMessage("")},
	})
	require.NoError(t, err)
	require.Len(t, params.Messages, 2)
	assert.Len(t, params.Messages[1].Content, 1)
}

func TestNewProvider_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewProvider("")
	assert.Error(t, err)
}
