// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/types"
)

// ErrScriptExhausted is returned when a call arrives after the last scripted step.
var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Step is the scripted outcome of one StreamChat call.
type Step struct {
	// Err is returned from StreamChat instead of a stream.
	Err error

	// Chunks are delivered in order on the stream.
	Chunks []*llm.StreamChunk

	// Block, when set, holds the stream open until the call context is done.
	Block bool
}

// Text scripts a plain text turn.
func Text(content string) Step {
	return Step{Chunks: []*llm.StreamChunk{
		{Content: content},
		{Finished: true},
	}}
}

// ToolCall scripts a structured tool call with JSON arguments.
func ToolCall(id, name, argsJSON string) Step {
	return Step{Chunks: []*llm.StreamChunk{
		{ToolCall: &llm.ToolCallDelta{Index: 0, ID: id, Name: name}},
		{ToolCall: &llm.ToolCallDelta{Index: 0, ArgumentsDelta: argsJSON}},
		{Finished: true},
	}}
}

// Empty scripts a turn with neither text nor a tool call.
func Empty() Step {
	return Step{Chunks: []*llm.StreamChunk{{Finished: true}}}
}

// Fail scripts a call that cannot be started.
func Fail(err error) Step {
	return Step{Err: err}
}

// StreamError scripts a stream that fails after partial content.
func StreamError(partial string, err error) Step {
	return Step{Chunks: []*llm.StreamChunk{
		{Content: partial},
		{Error: err},
	}}
}

// Hang scripts a call that never produces output.
func Hang() Step {
	return Step{Block: true}
}

// Provider replays scripted steps in order and records every request.
type Provider struct {
	mu       sync.Mutex
	steps    []Step
	respond  func(req *llm.Request) Step
	requests []*llm.Request
	usage    *types.TokenUsage
}

// New creates a provider that plays steps in order.
func New(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// NewFunc creates a provider that computes each step from the request.
func NewFunc(respond func(req *llm.Request) Step) *Provider {
	return &Provider{respond: respond}
}

// WithUsage makes every finished stream report usage.
func (p *Provider) WithUsage(u types.TokenUsage) *Provider {
	p.usage = &u
	return p
}

// Name identifies the fake backend.
func (p *Provider) Name() string {
	return "llmtest"
}

// StreamChat records req and plays the next step.
func (p *Provider) StreamChat(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	step, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}

	chunks := make(chan *llm.StreamChunk)
	go func() {
		defer close(chunks)
		if step.Block {
			<-ctx.Done()
			select {
			case chunks <- &llm.StreamChunk{Error: ctx.Err()}:
			default:
			}
			return
		}
		for _, c := range step.Chunks {
			out := *c
			if out.Finished && p.usage != nil {
				u := *p.usage
				out.Usage = &u
			}
			select {
			case chunks <- &out:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) next(req *llm.Request) (Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := *req
	snapshot.Messages = append([]*types.Message(nil), req.Messages...)
	p.requests = append(p.requests, &snapshot)

	if p.respond != nil {
		return p.respond(&snapshot), nil
	}
	if len(p.steps) == 0 {
		return Step{}, ErrScriptExhausted
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	return step, nil
}

// Requests returns every request received so far.
func (p *Provider) Requests() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llm.Request(nil), p.requests...)
}

// Models returns the model of every request in order.
func (p *Provider) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.requests))
	for i, r := range p.requests {
		out[i] = r.Model
	}
	return out
}

// Remaining returns the number of unplayed steps.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}
