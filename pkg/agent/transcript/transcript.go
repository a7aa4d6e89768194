// Package transcript holds the ordered message history of one session.
package transcript

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/loom/pkg/store"
	"github.com/entrhq/loom/pkg/types"
)

// Transcript is the append-only message history of a session.
// Every append hands a snapshot to the durability sink without blocking.
type Transcript struct {
	sink      store.Sink
	now       func() time.Time
	delivered map[string]struct{}
	sessionID string
	messages  []*types.Message
	mu        sync.RWMutex
}

// New creates an empty transcript. A nil sink disables persistence.
func New(sessionID string, sink store.Sink) *Transcript {
	if sink == nil {
		sink = store.NopSink{}
	}
	return &Transcript{
		sink:      sink,
		now:       time.Now,
		delivered: make(map[string]struct{}),
		sessionID: sessionID,
	}
}

// Append adds msg, stamping CreatedAt. It never fails.
func (t *Transcript) Append(msg *types.Message) {
	if msg == nil {
		return
	}
	t.mu.Lock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.now()
	}
	t.messages = append(t.messages, msg)
	snapshot := make([]*types.Message, len(t.messages))
	copy(snapshot, t.messages)
	t.mu.Unlock()

	t.sink.PersistAsync(t.sessionID, snapshot)
}

// Messages returns all messages in append order.
func (t *Transcript) Messages() []*types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*types.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the most recent message, or nil.
func (t *Transcript) Last() *types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}

// View returns every system message plus the maxRecent most recent other
// messages (all of them when maxRecent <= 0) without orphaned tool pairs.
func (t *Transcript) View(maxRecent int) []*types.Message {
	return KeepRecent(t.Messages(), maxRecent)
}

// MarkDelivered records attachments the provider has already received.
func (t *Transcript) MarkDelivered(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			t.delivered[id] = struct{}{}
		}
	}
}

// Delivered reports whether the attachment was already sent to the provider.
func (t *Transcript) Delivered(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.delivered[id]
	return ok
}

// ReferenceToken is the text that replaces an already delivered attachment.
func ReferenceToken(id string) string {
	return fmt.Sprintf("[attachment %s omitted]", id)
}

// KeepRecent selects system messages plus the last n non-system messages.
// A tool message whose invoking assistant message falls outside the window is
// dropped as well, so every kept result stays paired with its call.
func KeepRecent(msgs []*types.Message, n int) []*types.Message {
	nonSystem := 0
	for _, m := range msgs {
		if m.Role != types.RoleSystem {
			nonSystem++
		}
	}
	skip := 0
	if n > 0 && nonSystem > n {
		skip = nonSystem - n
	}

	kept := make([]*types.Message, 0, len(msgs))
	calls := make(map[string]struct{})
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			kept = append(kept, m)
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		if m.Role == types.RoleTool {
			if _, ok := calls[m.ToolCallID]; !ok {
				continue
			}
		}
		for _, tc := range m.ToolCalls {
			calls[tc.CallID] = struct{}{}
		}
		kept = append(kept, m)
	}
	return kept
}

// StripDelivered returns copies of msgs in which attachments accepted by
// delivered are replaced with reference tokens. Messages without such
// attachments are returned as is.
func StripDelivered(msgs []*types.Message, delivered func(id string) bool) []*types.Message {
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		replace := false
		for _, a := range m.Attachments() {
			if delivered(a.ID) {
				replace = true
				break
			}
		}
		if !replace {
			continue
		}

		c := m.Clone()
		c.Parts = c.Parts[:0]
		for _, p := range m.Parts {
			if ap, ok := p.(types.AttachmentPart); ok && delivered(ap.Attachment.ID) {
				c.Parts = append(c.Parts, types.TextPart{Text: ReferenceToken(ap.Attachment.ID)})
				continue
			}
			c.Parts = append(c.Parts, p)
		}
		out[i] = c
	}
	return out
}

// StripAll replaces every attachment with its reference token.
func StripAll(msgs []*types.Message) []*types.Message {
	return StripDelivered(msgs, func(string) bool { return true })
}

// AttachmentIDs lists the attachment IDs carried by msgs.
func AttachmentIDs(msgs []*types.Message) []string {
	var ids []string
	for _, m := range msgs {
		for _, a := range m.Attachments() {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
