package openai

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/entrhq/loom/pkg/types"
	"github.com/openai/openai-go"
)

// convertMessages converts transcript messages to chat completion params.
//
// Tool messages cannot carry images on this API, so attachments on a tool
// result are delivered in a follow-up user message.
func convertMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case types.RoleUser:
			out = append(out, userMessage(msg.Text(), msg.Attachments()))
		case types.RoleAssistant:
			out = append(out, assistantMessage(msg))
		case types.RoleTool:
			out = append(out, openai.ToolMessage(msg.Text(), msg.ToolCallID))
			if atts := msg.Attachments(); len(atts) > 0 {
				out = append(out, userMessage(fmt.Sprintf("Attachments returned by tool '%s':", msg.Name), atts))
			}
		default:
			out = append(out, openai.UserMessage(msg.Text()))
		}
	}

	return out
}

func userMessage(text string, attachments []types.Attachment) openai.ChatCompletionMessageParamUnion {
	if len(attachments) == 0 {
		return openai.UserMessage(text)
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(attachments)+1)
	if text != "" {
		parts = append(parts, openai.TextContentPart(text))
	}
	for _, a := range attachments {
		if strings.HasPrefix(a.MimeType, "image/") {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(a),
			}))
			continue
		}
		parts = append(parts, openai.TextContentPart(fmt.Sprintf("[attachment %s: %s, %d bytes]", a.ID, a.MimeType, a.Size())))
	}
	return openai.UserMessage(parts)
}

func assistantMessage(msg *types.Message) openai.ChatCompletionMessageParamUnion {
	if !msg.HasToolCalls() {
		return openai.AssistantMessage(msg.Text())
	}

	calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.CallID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.ArgumentsJSON(),
			},
		})
	}

	param := &openai.ChatCompletionAssistantMessageParam{
		Role:      "assistant",
		ToolCalls: calls,
	}
	if text := msg.Text(); text != "" {
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: param}
}

func dataURL(a types.Attachment) string {
	return "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
