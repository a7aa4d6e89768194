package types

import (
	"strings"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"    // RoleSystem marks instructions that are never pruned.
	RoleUser      Role = "user"      // RoleUser marks end-user input and engine corrections.
	RoleAssistant Role = "assistant" // RoleAssistant marks model output.
	RoleTool      Role = "tool"      // RoleTool marks a tool result answering a structured call.
)

// Part is one piece of a multi-part message body.
// The set of implementations is closed: TextPart, AttachmentPart and ToolResultPart.
type Part interface {
	isPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

// AttachmentPart carries binary content (usually an image) delivered to the model.
type AttachmentPart struct {
	Attachment Attachment
}

// ToolResultPart references the result of a tool invocation inside a message.
type ToolResultPart struct {
	CallID  string
	Name    string
	Payload string
	IsError bool
}

func (TextPart) isPart()       {}
func (AttachmentPart) isPart() {}
func (ToolResultPart) isPart() {}

// Message is one entry of a session transcript.
type Message struct {
	// Metadata holds optional bookkeeping (e.g. "kind": "correction").
	Metadata map[string]interface{}

	// CreatedAt is stamped by the transcript on append.
	CreatedAt time.Time

	Role    Role
	Content string

	// Parts carries attachments and tool results in addition to Content.
	Parts []Part

	// ToolCalls lists structured invocations requested by an assistant message.
	ToolCalls []ToolInvocation

	// ToolCallID links a tool-role message to the invocation it answers.
	ToolCallID string

	// Name is the tool name for tool-role messages.
	Name string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message with optional attachments.
func NewUserMessage(content string, attachments ...Attachment) *Message {
	m := &Message{Role: RoleUser, Content: content}
	for _, a := range attachments {
		m.Parts = append(m.Parts, AttachmentPart{Attachment: a})
	}
	return m
}

// NewAssistantMessage creates an assistant text message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// NewAssistantToolCallMessage creates an assistant message that requests tool invocations.
func NewAssistantToolCallMessage(content string, calls ...ToolInvocation) *Message {
	return &Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates the tool-role reply to a structured invocation.
func NewToolMessage(result *ToolResult) *Message {
	m := &Message{
		Role:       RoleTool,
		Content:    result.Text(),
		ToolCallID: result.CallID,
		Name:       result.Name,
	}
	for _, a := range result.Attachments {
		m.Parts = append(m.Parts, AttachmentPart{Attachment: a})
	}
	return m
}

// WithMetadata sets a metadata key and returns the message for chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// Attachments returns every attachment carried by the message.
func (m *Message) Attachments() []Attachment {
	var out []Attachment
	for _, p := range m.Parts {
		if ap, ok := p.(AttachmentPart); ok {
			out = append(out, ap.Attachment)
		}
	}
	return out
}

// HasToolCalls reports whether the message requests structured tool invocations.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Text returns Content followed by any text parts.
func (m *Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Content)
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// Clone returns a copy whose Parts, ToolCalls and Metadata can be modified
// without affecting the original.
func (m *Message) Clone() *Message {
	c := *m
	if m.Parts != nil {
		c.Parts = append([]Part(nil), m.Parts...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = append([]ToolInvocation(nil), m.ToolCalls...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
