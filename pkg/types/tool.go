package types

import (
	"encoding/json"
	"fmt"
)

// Encoding records how a tool invocation reached the engine.
type Encoding string

const (
	EncodingStructured Encoding = "structured" // EncodingStructured is a provider-native tool-call object.
	EncodingEmbedded   Encoding = "embedded"   // EncodingEmbedded is a tagged block inside free text.
)

// ToolInvocation is a request from the model to run a named tool.
type ToolInvocation struct {
	Arguments map[string]interface{}
	Name      string
	CallID    string
	Encoding  Encoding
}

// ArgumentsJSON renders the arguments as a JSON object.
func (ti ToolInvocation) ArgumentsJSON() string {
	if len(ti.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(ti.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Attachment is binary content produced by a tool or supplied by the caller.
type Attachment struct {
	ID       string
	MimeType string
	Data     []byte

	// Index keys caller-supplied attachments for resource binding
	// (e.g. a page number or a frame timestamp).
	Index int
}

// Size returns the attachment size in bytes.
func (a Attachment) Size() int {
	return len(a.Data)
}

// ToolResult is the outcome of a dispatched tool invocation.
type ToolResult struct {
	// Payload is the tool's structured or textual output.
	Payload interface{}

	CallID      string
	Name        string
	Attachments []Attachment

	// IsError marks a recoverable failure reported back to the model.
	IsError bool

	// Cached is set when the payload was served from the binary cache.
	Cached bool
}

// NewErrorResult builds an error result for an invocation.
func NewErrorResult(inv ToolInvocation, err error) *ToolResult {
	return &ToolResult{
		CallID:  inv.CallID,
		Name:    inv.Name,
		Payload: err.Error(),
		IsError: true,
	}
}

// Text renders the payload as text for the transcript.
func (r *ToolResult) Text() string {
	switch p := r.Payload.(type) {
	case nil:
		return ""
	case string:
		return p
	case []byte:
		return string(p)
	case fmt.Stringer:
		return p.String()
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprintf("%v", p)
		}
		return string(b)
	}
}
