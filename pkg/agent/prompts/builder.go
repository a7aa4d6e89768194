package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/types"
)

// PromptBuilder constructs the system prompt of a session
type PromptBuilder struct {
	tools        []tools.Tool
	instructions string
	protocol     config.Protocol
}

// NewPromptBuilder creates a new prompt builder with default settings
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		tools:    []tools.Tool{},
		protocol: config.ProtocolAuto,
	}
}

// WithTools sets the tools described to the model
func (pb *PromptBuilder) WithTools(toolsList []tools.Tool) *PromptBuilder {
	pb.tools = toolsList
	return pb
}

// WithInstructions sets the caller's task instructions. They come first in the prompt.
func (pb *PromptBuilder) WithInstructions(instructions string) *PromptBuilder {
	pb.instructions = instructions
	return pb
}

// WithProtocol selects which tool calling section is rendered.
// Embedded and auto describe the tagged-block format with examples;
// native relies on the provider's tool definitions.
func (pb *PromptBuilder) WithProtocol(protocol config.Protocol) *PromptBuilder {
	pb.protocol = protocol
	return pb
}

// Build constructs the complete system prompt by assembling all sections
func (pb *PromptBuilder) Build() string {
	var builder strings.Builder

	if pb.instructions != "" {
		builder.WriteString("<instructions>\n")
		builder.WriteString(strings.TrimSpace(pb.instructions))
		builder.WriteString("\n</instructions>\n\n")
	}

	builder.WriteString(AgentLoopPrompt)
	builder.WriteString("\n\n")

	builder.WriteString(ChainOfThoughtPrompt)
	builder.WriteString("\n\n")

	if pb.protocol == config.ProtocolNative {
		builder.WriteString(NativeToolCallingPrompt)
		builder.WriteString("\n\n")
	} else {
		builder.WriteString(EmbeddedToolCallingPrompt)
		builder.WriteString("\n\n")

		builder.WriteString("<available_tools>\n")
		builder.WriteString(FormatToolSchemas(pb.tools))
		builder.WriteString("</available_tools>\n\n")
	}

	builder.WriteString(ToolUseRulesPrompt)

	return builder.String()
}

// FormatToolSchema renders one tool with its parameters and a usage example.
func FormatToolSchema(tool tools.Tool) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("## %s\n", tool.Name()))
	b.WriteString(tool.Description())
	b.WriteString("\n")
	if tool.IsLoopBreaking() {
		b.WriteString("This is a loop-breaking tool: calling it ends the working phase.\n")
	}

	params := tool.Schema().Params
	if len(params) > 0 {
		b.WriteString("Parameters:\n")
		for _, p := range params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			b.WriteString(fmt.Sprintf("- %s (%s, %s)", p.Name, p.Type, req))
			if p.Description != "" {
				b.WriteString(": " + p.Description)
			}
			if len(p.Enum) > 0 {
				b.WriteString(fmt.Sprintf(" One of: %s.", strings.Join(p.Enum, ", ")))
			}
			b.WriteString("\n")
		}
	}

	example := ""
	if provider, ok := tool.(XMLExampleProvider); ok {
		example = provider.XMLExample()
	}
	if example == "" {
		example = GenerateXMLExample(tool.Schema(), tool.Name())
	}
	b.WriteString("Example:\n")
	b.WriteString(example)
	b.WriteString("\n")

	return b.String()
}

// FormatToolSchemas renders every tool for the available tools section.
func FormatToolSchemas(toolsList []tools.Tool) string {
	if len(toolsList) == 0 {
		return "No tools available.\n"
	}

	var b strings.Builder
	b.WriteString("# AVAILABLE TOOLS\n\n")
	for _, tool := range toolsList {
		b.WriteString(FormatToolSchema(tool))
		b.WriteString("\n")
	}
	return b.String()
}

// SchemaToJSON renders a JSON schema for display.
func SchemaToJSON(schema map[string]interface{}) (string, error) {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(data), nil
}

// BuildMessages prepares a pruned transcript for a provider call.
//
// Invocations that arrived as embedded blocks are replayed the way the model
// wrote them: the assistant keeps its raw text, and the tool result is sent
// as a user message. Structured invocations are passed through unchanged.
func BuildMessages(history []*types.Message) []*types.Message {
	messages := make([]*types.Message, 0, len(history))
	embedded := make(map[string]bool)

	for _, msg := range history {
		switch {
		case msg.Role == types.RoleAssistant && msg.HasToolCalls():
			structured := msg.ToolCalls[:0:0]
			for _, call := range msg.ToolCalls {
				if call.Encoding == types.EncodingEmbedded {
					embedded[call.CallID] = true
					continue
				}
				structured = append(structured, call)
			}
			if len(structured) == len(msg.ToolCalls) {
				messages = append(messages, msg)
				continue
			}
			c := msg.Clone()
			c.ToolCalls = structured
			messages = append(messages, c)

		case msg.Role == types.RoleTool && embedded[msg.ToolCallID]:
			messages = append(messages, normalizeRoleForLLM(msg))

		default:
			messages = append(messages, msg)
		}
	}

	return messages
}

// normalizeRoleForLLM turns a tool-role message into the user message an
// embedded-protocol model expects. Other roles are returned as-is.
func normalizeRoleForLLM(msg *types.Message) *types.Message {
	if msg.Role != types.RoleTool {
		return msg
	}

	c := msg.Clone()
	c.Role = types.RoleUser
	c.ToolCallID = ""
	if isError, _ := msg.Metadata["is_error"].(bool); isError {
		c.Content = fmt.Sprintf("Tool '%s' error:\n%s", msg.Name, msg.Content)
	} else {
		c.Content = fmt.Sprintf("Tool '%s' result:\n%s", msg.Name, msg.Content)
	}
	return c
}
