package types

// StreamEventKind defines the type of event emitted to a session consumer.
type StreamEventKind string

const (
	EventKindText     StreamEventKind = "text"     // EventKindText carries an incremental model text delta or an engine notice.
	EventKindTool     StreamEventKind = "tool"     // EventKindTool carries a complete tool invocation rendered as JSON.
	EventKindError    StreamEventKind = "error"    // EventKindError is terminal and carries the failure plus any partial artifact.
	EventKindComplete StreamEventKind = "complete" // EventKindComplete is terminal and carries the final artifact.
)

// StreamEvent is one element of the ordered event stream of a session turn.
// Exactly one terminal event (Complete or Error) is emitted and it is always last.
type StreamEvent struct {
	// Error is set on Error events.
	Error error

	// Artifact is the final artifact on Complete events and the partial
	// artifact (possibly nil) on Error events.
	Artifact *Artifact

	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Delta is the text fragment for Text events.
	Delta string

	// ToolName and ToolJSON describe the invocation on Tool events.
	ToolName string
	ToolJSON string

	Kind StreamEventKind
}

// IsTerminal reports whether the event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == EventKindComplete || e.Kind == EventKindError
}

// NewTextEvent creates a text event.
func NewTextEvent(delta string) StreamEvent {
	return StreamEvent{Kind: EventKindText, Delta: delta}
}

// NewNoticeEvent creates a text event flagged as an engine notice rather than model output.
func NewNoticeEvent(message string) StreamEvent {
	return StreamEvent{
		Kind:     EventKindText,
		Delta:    message,
		Metadata: map[string]interface{}{"notice": true},
	}
}

// NewThinkingEvent creates a text event carrying private reasoning split out of model output.
func NewThinkingEvent(delta string) StreamEvent {
	return StreamEvent{
		Kind:     EventKindText,
		Delta:    delta,
		Metadata: map[string]interface{}{"thinking": true},
	}
}

// IsNotice reports whether a text event was produced by the engine.
func (e StreamEvent) IsNotice() bool {
	v, _ := e.Metadata["notice"].(bool)
	return v
}

// IsThinking reports whether a text event carries private reasoning.
func (e StreamEvent) IsThinking() bool {
	v, _ := e.Metadata["thinking"].(bool)
	return v
}

// NewToolEvent creates a tool event for a completed invocation.
func NewToolEvent(inv ToolInvocation) StreamEvent {
	return StreamEvent{
		Kind:     EventKindTool,
		ToolName: inv.Name,
		ToolJSON: inv.ArgumentsJSON(),
		Metadata: map[string]interface{}{"call_id": inv.CallID, "encoding": string(inv.Encoding)},
	}
}

// NewErrorEvent creates a terminal error event.
func NewErrorEvent(err error, partial *Artifact) StreamEvent {
	return StreamEvent{Kind: EventKindError, Error: err, Artifact: partial}
}

// NewCompleteEvent creates a terminal completion event.
func NewCompleteEvent(artifact *Artifact) StreamEvent {
	return StreamEvent{Kind: EventKindComplete, Artifact: artifact}
}
