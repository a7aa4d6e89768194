package stream

import (
	"context"
	"sync"

	"github.com/entrhq/loom/pkg/types"
)

// Consumer is the event channel handed to a session caller. It guarantees a
// single terminal event: once Complete or Fail succeeds, later events are
// dropped and the channel is closed.
type Consumer struct {
	ctx  context.Context
	ch   chan types.StreamEvent
	mu   sync.Mutex
	done bool
}

// NewConsumer creates a consumer whose sends give up when ctx is done.
func NewConsumer(ctx context.Context, buffer int) *Consumer {
	return &Consumer{ctx: ctx, ch: make(chan types.StreamEvent, buffer)}
}

// Events returns the receive side of the stream.
func (c *Consumer) Events() <-chan types.StreamEvent {
	return c.ch
}

// Emit delivers a non-terminal event. Terminal events are routed through
// Complete or Fail. It reports whether the event was delivered.
func (c *Consumer) Emit(ev types.StreamEvent) bool {
	switch ev.Kind {
	case types.EventKindComplete:
		return c.Complete(ev.Artifact)
	case types.EventKindError:
		return c.Fail(ev.Error, ev.Artifact)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	select {
	case c.ch <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Complete sends the terminal Complete event. Only the first terminal call wins.
func (c *Consumer) Complete(artifact *types.Artifact) bool {
	return c.finish(types.NewCompleteEvent(artifact))
}

// Fail sends the terminal Error event. Only the first terminal call wins.
func (c *Consumer) Fail(err error, partial *types.Artifact) bool {
	return c.finish(types.NewErrorEvent(err, partial))
}

// Done reports whether a terminal event has been sent.
func (c *Consumer) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Consumer) finish(ev types.StreamEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	c.done = true
	defer close(c.ch)

	select {
	case c.ch <- ev:
		return true
	case <-c.ctx.Done():
		// The caller has gone away; deliver only if there is room.
		select {
		case c.ch <- ev:
			return true
		default:
			return false
		}
	}
}
