// Package openai provides an OpenAI-compatible LLM provider implementation.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithBaseURL("http://localhost:8080/v1"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	stream, err := provider.StreamChat(ctx, &llm.Request{Model: "gpt-4o", Messages: msgs})
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/types"
	"github.com/openai/openai-go"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	providerName = "openai"
)

var logger *logging.Logger

func init() {
	logger, _ = logging.NewLogger("openai")
}

// Provider implements llm.Provider for OpenAI-compatible chat completion APIs.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client. Call deadlines come from the request context.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, OPENAI_API_KEY is used. If no base URL option is given,
// OPENAI_BASE_URL is consulted before falling back to DefaultBaseURL.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimRight(envBaseURL, "/")
		}
	}

	return p, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() string {
	return providerName
}

// StreamChat sends the request and streams back content and tool-call fragments.
//
// Raw SSE handling is used instead of the SDK stream so that OpenAI-compatible
// servers that emit comments or keep-alive lines are tolerated.
func (p *Provider) StreamChat(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	resp, err := p.sendStreamRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 16)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

func (p *Provider) sendStreamRequest(ctx context.Context, req *llm.Request) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":          req.Model,
		"messages":       convertMessages(req.Messages),
		"stream":         true,
		"stream_options": map[string]interface{}{"include_usage": true},
	}
	if req.MaxTokens > 0 {
		reqBody["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		reqBody["tools"] = convertTools(req.Tools)
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, &llm.APIError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !isDataLine(line) {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			send(ctx, chunks, &llm.StreamChunk{Finished: true})
			return
		}

		if !p.processSSEChunk(ctx, data, chunks) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(ctx, chunks, &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)})
		return
	}
	send(ctx, chunks, &llm.StreamChunk{Finished: true})
}

func isDataLine(line string) bool {
	return line != "" && !strings.HasPrefix(line, ":") && strings.HasPrefix(line, "data:")
}

// send delivers a chunk unless the context is done. It reports whether the stream should continue.
func send(ctx context.Context, chunks chan<- *llm.StreamChunk, chunk *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		select {
		case chunks <- &llm.StreamChunk{Error: ctx.Err()}:
		default:
		}
		return false
	}
}

func (p *Provider) processSSEChunk(ctx context.Context, data string, chunks chan<- *llm.StreamChunk) bool {
	var chunk sseChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		logger.Debugf("skipping malformed SSE chunk: %v", err)
		return true
	}

	if chunk.Error != nil {
		send(ctx, chunks, &llm.StreamChunk{Error: fmt.Errorf("%s: %s", chunk.Error.Type, chunk.Error.Message)})
		return false
	}

	if chunk.Usage != nil {
		if !send(ctx, chunks, &llm.StreamChunk{Usage: &types.TokenUsage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}}) {
			return false
		}
	}

	if len(chunk.Choices) == 0 {
		return true
	}

	delta := chunk.Choices[0].Delta
	if delta.Content != "" || delta.Role != "" {
		if !send(ctx, chunks, &llm.StreamChunk{Role: delta.Role, Content: delta.Content}) {
			return false
		}
	}

	for _, tc := range delta.ToolCalls {
		if !send(ctx, chunks, &llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
			Index:          tc.Index,
			ID:             tc.ID,
			Name:           tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		}}) {
			return false
		}
	}

	return true
}

func convertTools(defs []llm.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	return tools
}
