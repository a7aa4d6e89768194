package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/entrhq/loom/pkg/types"
)

// partRecord is the serialized form of a types.Part.
type partRecord struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Index    int    `json:"index,omitempty"`
	CallID   string `json:"call_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Payload  string `json:"payload,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
}

// Record is the serialized form of a transcript message.
type Record struct {
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Role       types.Role             `json:"role"`
	Content    string                 `json:"content"`
	Parts      []partRecord           `json:"parts,omitempty"`
	ToolCalls  []types.ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Name       string                 `json:"name,omitempty"`
}

// NewRecord converts a message for storage.
func NewRecord(m *types.Message) Record {
	r := Record{
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case types.TextPart:
			r.Parts = append(r.Parts, partRecord{Type: "text", Text: v.Text})
		case types.AttachmentPart:
			r.Parts = append(r.Parts, partRecord{
				Type:     "attachment",
				ID:       v.Attachment.ID,
				MimeType: v.Attachment.MimeType,
				Data:     v.Attachment.Data,
				Index:    v.Attachment.Index,
			})
		case types.ToolResultPart:
			r.Parts = append(r.Parts, partRecord{
				Type:    "tool_result",
				CallID:  v.CallID,
				Name:    v.Name,
				Payload: v.Payload,
				IsError: v.IsError,
			})
		}
	}
	return r
}

// Message converts the record back into a message.
func (r Record) Message() (*types.Message, error) {
	m := &types.Message{
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
		Role:       r.Role,
		Content:    r.Content,
		ToolCalls:  r.ToolCalls,
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
	}
	for _, p := range r.Parts {
		switch p.Type {
		case "text":
			m.Parts = append(m.Parts, types.TextPart{Text: p.Text})
		case "attachment":
			m.Parts = append(m.Parts, types.AttachmentPart{Attachment: types.Attachment{
				ID:       p.ID,
				MimeType: p.MimeType,
				Data:     p.Data,
				Index:    p.Index,
			}})
		case "tool_result":
			m.Parts = append(m.Parts, types.ToolResultPart{
				CallID:  p.CallID,
				Name:    p.Name,
				Payload: p.Payload,
				IsError: p.IsError,
			})
		default:
			return nil, fmt.Errorf("unknown part type %q", p.Type)
		}
	}
	return m, nil
}

// MarshalMessage encodes a message as JSON.
func MarshalMessage(m *types.Message) ([]byte, error) {
	return json.Marshal(NewRecord(m))
}

// UnmarshalMessage decodes a message produced by MarshalMessage.
func UnmarshalMessage(data []byte) (*types.Message, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return r.Message()
}
