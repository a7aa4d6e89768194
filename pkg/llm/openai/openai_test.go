package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, status int, events []string, capture *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, capture))
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "%s\n\n", e)
		}
	}))
}

func collect(t *testing.T, ch <-chan *llm.StreamChunk) []*llm.StreamChunk {
	t.Helper()
	var out []*llm.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestStreamChat_TextAndToolCalls(t *testing.T) {
	var body map[string]interface{}
	srv := sseServer(t, http.StatusOK, []string{
		": keep-alive",
		`data: {"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
		"data: [DONE]",
	}, &body)
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	stream, err := p.StreamChat(context.Background(), &llm.Request{
		Model:    "gpt-test",
		Messages: []*types.Message{types.NewSystemMessage("sys"), types.NewUserMessage("hi")},
		Tools: []llm.ToolDefinition{{
			Name:        "lookup",
			Description: "look things up",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	chunks := collect(t, stream)

	var text strings.Builder
	var args strings.Builder
	var usage *types.TokenUsage
	for _, c := range chunks {
		require.False(t, c.IsError())
		text.WriteString(c.Content)
		if c.ToolCall != nil {
			assert.Equal(t, 0, c.ToolCall.Index)
			args.WriteString(c.ToolCall.ArgumentsDelta)
		}
		if c.Usage != nil {
			usage = c.Usage
		}
	}

	assert.Equal(t, "Hello", text.String())
	assert.JSONEq(t, `{"q":"x"}`, args.String())
	require.NotNil(t, usage)
	assert.Equal(t, 15, usage.TotalTokens)
	assert.True(t, chunks[len(chunks)-1].Finished)

	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.Len(t, body["messages"], 2)
	assert.Len(t, body["tools"], 1)
}

func TestStreamChat_StatusErrorIsClassifiable(t *testing.T) {
	srv := sseServer(t, http.StatusTooManyRequests, nil, nil)
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.StreamChat(context.Background(), &llm.Request{Model: "m"})
	require.Error(t, err)

	var apiErr *llm.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, llm.FailureRateLimit, llm.ClassifyError(err, "m").Kind)
}

func TestConvertMessages_ToolRoundTrip(t *testing.T) {
	inv := types.ToolInvocation{Name: "render", CallID: "c1", Arguments: map[string]interface{}{"page": 2}}
	result := &types.ToolResult{
		CallID:      "c1",
		Name:        "render",
		Payload:     "rendered page 2",
		Attachments: []types.Attachment{{ID: "img1", MimeType: "image/png", Data: []byte{0x89}}},
	}

	msgs := convertMessages([]*types.Message{
		types.NewAssistantToolCallMessage("", inv),
		types.NewToolMessage(result),
	})

	// assistant, tool, follow-up user message with the image
	require.Len(t, msgs, 3)

	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"tool_call_id":"c1"`)
	assert.Contains(t, s, `"name":"render"`)
	assert.Contains(t, s, `data:image/png;base64,`)
}

func TestNewProvider_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewProvider("")
	assert.Error(t, err)
}
