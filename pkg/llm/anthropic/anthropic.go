// Package anthropic provides an llm.Provider backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/types"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

var logger *logging.Logger

func init() {
	logger, _ = logging.NewLogger("anthropic")
}

// Provider implements llm.Provider using anthropic-sdk-go streaming.
type Provider struct {
	client *anthropic.Client
}

// ProviderOption configures the underlying SDK client.
type ProviderOption = option.RequestOption

// NewProvider creates a provider. An empty apiKey falls back to ANTHROPIC_API_KEY.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (provide via parameter or ANTHROPIC_API_KEY environment variable)")
	}

	// Retries belong to the failover policy, not the SDK.
	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)

	client := anthropic.NewClient(clientOpts...)
	return &Provider{client: &client}, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() string {
	return providerName
}

// StreamChat starts a streaming Messages call.
//
// The first stream event is read before returning so that HTTP status
// failures surface as the returned error.
func (p *Provider) StreamChat(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			err = errors.New("stream ended before any event")
		}
		return nil, convertError(err)
	}

	chunks := make(chan *llm.StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var usage types.TokenUsage
		for {
			if !p.forward(ctx, stream.Current(), &usage, chunks) {
				return
			}
			if !stream.Next() {
				break
			}
		}

		if err := stream.Err(); err != nil {
			sendChunk(ctx, chunks, &llm.StreamChunk{Error: convertError(err)})
			return
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		sendChunk(ctx, chunks, &llm.StreamChunk{Usage: &usage, Finished: true})
	}()

	return chunks, nil
}

func (p *Provider) forward(ctx context.Context, event anthropic.MessageStreamEventUnion, usage *types.TokenUsage, chunks chan<- *llm.StreamChunk) bool {
	switch e := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		usage.PromptTokens = int(e.Message.Usage.InputTokens)
		return sendChunk(ctx, chunks, &llm.StreamChunk{Role: string(types.RoleAssistant)})
	case anthropic.ContentBlockStartEvent:
		if e.ContentBlock.Type == "tool_use" {
			return sendChunk(ctx, chunks, &llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
				Index: int(e.Index),
				ID:    e.ContentBlock.ID,
				Name:  e.ContentBlock.Name,
			}})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			if e.Delta.Text != "" {
				return sendChunk(ctx, chunks, &llm.StreamChunk{Content: e.Delta.Text})
			}
		case "input_json_delta":
			return sendChunk(ctx, chunks, &llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
				Index:          int(e.Index),
				ArgumentsDelta: e.Delta.PartialJSON,
			}})
		}
	case anthropic.MessageDeltaEvent:
		usage.CompletionTokens = int(e.Usage.OutputTokens)
	}
	return true
}

func sendChunk(ctx context.Context, chunks chan<- *llm.StreamChunk, chunk *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// convertError exposes the HTTP status of SDK errors to llm.ClassifyError.
func convertError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: providerName, StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return err
}

func buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	// pending collects user-side blocks so that consecutive tool results and
	// corrections are sent as one user message.
	var pending []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pending) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Text()})
		case types.RoleAssistant:
			flush()
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return anthropic.MessageNewParams{}, err
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case types.RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false))
			pending = append(pending, attachmentBlocks(msg.Attachments())...)
		default:
			if text := msg.Text(); text != "" {
				pending = append(pending, anthropic.NewTextBlock(text))
			}
			pending = append(pending, attachmentBlocks(msg.Attachments())...)
		}
	}
	flush()

	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = translateTools(req.Tools)
	}
	return params, nil
}

func assistantBlocks(msg *types.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	if text := msg.Text(); text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, tc := range msg.ToolCalls {
		args := tc.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		// Round-trip to catch values the SDK cannot encode before the request is sent.
		if _, err := json.Marshal(args); err != nil {
			return nil, fmt.Errorf("invalid arguments for tool %s: %w", tc.Name, err)
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.CallID, args, tc.Name))
	}
	if len(blocks) == 0 {
		// The API rejects empty assistant turns.
		blocks = append(blocks, anthropic.NewTextBlock("(no content)"))
	}
	return blocks, nil
}

func attachmentBlocks(atts []types.Attachment) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, a := range atts {
		if strings.HasPrefix(a.MimeType, "image/") {
			blocks = append(blocks, anthropic.NewImageBlockBase64(a.MimeType, base64.StdEncoding.EncodeToString(a.Data)))
			continue
		}
		logger.Debugf("sending non-image attachment %s as a text reference", a.ID)
		blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[attachment %s: %s, %d bytes]", a.ID, a.MimeType, a.Size())))
	}
	return blocks
}

func translateTools(defs []llm.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tool := anthropic.ToolParam{
			Name: def.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters["properties"],
			},
		}
		if def.Description != "" {
			tool.Description = anthropic.String(def.Description)
		}
		if req, ok := def.Parameters["required"].([]string); ok {
			tool.InputSchema.Required = req
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return result
}
