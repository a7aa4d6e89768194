// Package stream turns provider chunk streams into session events.
package stream

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/entrhq/loom/pkg/agent/tools"
	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/llm/parser"
	"github.com/entrhq/loom/pkg/types"
)

// EmitFunc receives events in arrival order.
type EmitFunc func(types.StreamEvent)

// Turn is the aggregated result of one provider stream.
type Turn struct {
	Usage *types.TokenUsage

	// Text is the visible model text with thinking sections removed.
	Text     string
	Thinking string

	ToolCalls []tools.StructuredCall
}

// Empty reports a turn with neither text nor tool calls.
func (t *Turn) Empty() bool {
	return t == nil || (strings.TrimSpace(t.Text) == "" && len(t.ToolCalls) == 0)
}

// pendingCall accumulates the fragments of one structured call.
type pendingCall struct {
	args    strings.Builder
	id      string
	name    string
	emitted bool
}

// Pipeline consumes one stream at a time. It is not safe for concurrent use;
// each session owns its own pipeline.
type Pipeline struct {
	thinking *parser.ThinkingParser
}

// NewPipeline creates a pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{thinking: parser.NewThinkingParser()}
}

// Run drains chunks, emitting Text events for visible deltas and one Tool
// event per structured call once its arguments form a complete JSON object.
// A stream error is returned together with whatever was aggregated so far.
func (p *Pipeline) Run(ctx context.Context, chunks <-chan *llm.StreamChunk, emit EmitFunc) (*Turn, error) {
	p.thinking.Reset()

	var text, thinking strings.Builder
	pending := make(map[int]*pendingCall)
	turn := &Turn{}

	handleContent := func(content string, flush bool) {
		var th, msg string
		if flush {
			th, msg = p.thinking.Flush()
		} else {
			th, msg = p.thinking.Parse(content)
		}
		if th != "" {
			thinking.WriteString(th)
			emit(types.NewThinkingEvent(th))
		}
		if msg != "" {
			text.WriteString(msg)
			emit(types.NewTextEvent(msg))
		}
	}

	finish := func() *Turn {
		handleContent("", true)
		turn.Text = text.String()
		turn.Thinking = thinking.String()
		turn.ToolCalls = flushCalls(pending, emit)
		return turn
	}

	for {
		select {
		case <-ctx.Done():
			return finish(), ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				return finish(), nil
			}
			if chunk == nil {
				continue
			}
			if chunk.IsError() {
				return finish(), chunk.Error
			}

			if chunk.Content != "" {
				handleContent(chunk.Content, false)
			}
			if chunk.ToolCall != nil {
				accumulate(pending, chunk.ToolCall, emit)
			}
			if chunk.Usage != nil {
				u := *chunk.Usage
				turn.Usage = &u
			}
			if chunk.Finished {
				return finish(), nil
			}
		}
	}
}

func accumulate(pending map[int]*pendingCall, d *llm.ToolCallDelta, emit EmitFunc) {
	pc, ok := pending[d.Index]
	if !ok {
		pc = &pendingCall{}
		pending[d.Index] = pc
	}
	if d.ID != "" {
		pc.id = d.ID
	}
	if d.Name != "" {
		pc.name = d.Name
	}
	pc.args.WriteString(d.ArgumentsDelta)

	if !pc.emitted && pc.name != "" && completeObject(pc.args.String()) {
		pc.emitted = true
		emit(toolEvent(pc))
	}
}

// flushCalls emits events for calls that never completed and returns all
// calls ordered by index.
func flushCalls(pending map[int]*pendingCall, emit EmitFunc) []tools.StructuredCall {
	if len(pending) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]tools.StructuredCall, 0, len(indexes))
	for _, i := range indexes {
		pc := pending[i]
		if pc.name == "" {
			continue
		}
		if !pc.emitted {
			pc.emitted = true
			emit(toolEvent(pc))
		}
		calls = append(calls, tools.StructuredCall{ID: pc.id, Name: pc.name, Arguments: pc.args.String()})
	}
	return calls
}

func toolEvent(pc *pendingCall) types.StreamEvent {
	args := strings.TrimSpace(pc.args.String())
	if args == "" {
		args = "{}"
	}
	return types.StreamEvent{
		Kind:     types.EventKindTool,
		ToolName: pc.name,
		ToolJSON: args,
		Metadata: map[string]interface{}{"call_id": pc.id, "encoding": string(types.EncodingStructured)},
	}
}

func completeObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && json.Valid([]byte(s))
}
