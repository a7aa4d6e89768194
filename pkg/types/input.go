package types

// Input is one turn submitted to a session.
type Input struct {
	// Metadata holds optional additional information about the input.
	Metadata map[string]interface{}

	// Content is the text of the turn.
	Content string

	// Attachments are delivered to the model with this turn.
	Attachments []Attachment
}

// NewInput creates a turn input.
func NewInput(content string, attachments ...Attachment) *Input {
	return &Input{
		Content:     content,
		Attachments: attachments,
		Metadata:    make(map[string]interface{}),
	}
}

// WithMetadata adds metadata to the input and returns the input for chaining.
func (i *Input) WithMetadata(key string, value interface{}) *Input {
	if i.Metadata == nil {
		i.Metadata = make(map[string]interface{})
	}
	i.Metadata[key] = value
	return i
}

// Message converts the input into a user transcript message.
func (i *Input) Message() *Message {
	m := NewUserMessage(i.Content, i.Attachments...)
	for k, v := range i.Metadata {
		m.WithMetadata(k, v)
	}
	return m
}
