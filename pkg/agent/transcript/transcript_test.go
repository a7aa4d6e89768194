package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/loom/pkg/types"
)

type recordingSink struct {
	snapshots [][]*types.Message
}

func (s *recordingSink) PersistAsync(_ string, msgs []*types.Message) {
	s.snapshots = append(s.snapshots, msgs)
}

func toolPair(id string) (*types.Message, *types.Message) {
	call := types.NewAssistantToolCallMessage("", types.ToolInvocation{Name: "lookup", CallID: id})
	result := types.NewToolMessage(&types.ToolResult{CallID: id, Name: "lookup", Payload: "r-" + id})
	return call, result
}

func contents(msgs []*types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func TestAppendStampsAndPersists(t *testing.T) {
	sink := &recordingSink{}
	tr := New("s1", sink)
	fixed := time.Unix(100, 0)
	tr.now = func() time.Time { return fixed }

	tr.Append(types.NewSystemMessage("sys"))
	tr.Append(types.NewUserMessage("hi"))
	tr.Append(nil)

	require.Equal(t, 2, tr.Len())
	assert.Equal(t, fixed, tr.Messages()[1].CreatedAt)
	assert.Equal(t, "hi", tr.Last().Content)

	require.Len(t, sink.snapshots, 2)
	assert.Len(t, sink.snapshots[0], 1)
	assert.Len(t, sink.snapshots[1], 2, "each append persists the full transcript")
}

func TestViewKeepsSystemAndPairs(t *testing.T) {
	tr := New("s", nil)
	tr.Append(types.NewSystemMessage("sys"))
	tr.Append(types.NewUserMessage("task"))
	c1, r1 := toolPair("c1")
	tr.Append(c1)
	tr.Append(r1)
	c2, r2 := toolPair("c2")
	tr.Append(c2)
	tr.Append(r2)

	t.Run("all", func(t *testing.T) {
		assert.Len(t, tr.View(0), 6)
	})

	t.Run("window cuts through a pair", func(t *testing.T) {
		// Last 3 non-system: r1, c2, r2. r1 lost its call, so it goes too.
		view := tr.View(3)
		assert.Equal(t, []string{"system:sys", "assistant:", "tool:r-c2"}, contents(view))
		assert.Equal(t, "c2", view[1].ToolCalls[0].CallID)
	})

	t.Run("window on a boundary", func(t *testing.T) {
		view := tr.View(4)
		assert.Equal(t, []string{"system:sys", "assistant:", "tool:r-c1", "assistant:", "tool:r-c2"}, contents(view))
	})
}

func TestKeepRecentNeverOrphansResults(t *testing.T) {
	var msgs []*types.Message
	msgs = append(msgs, types.NewSystemMessage("a"), types.NewUserMessage("u"))
	for _, id := range []string{"x", "y", "z"} {
		c, r := toolPair(id)
		msgs = append(msgs, c, r)
	}
	msgs = append(msgs, types.NewSystemMessage("late system"))

	for n := 1; n <= len(msgs); n++ {
		view := KeepRecent(msgs, n)
		calls := map[string]bool{}
		systems := 0
		for _, m := range view {
			if m.Role == types.RoleSystem {
				systems++
			}
			for _, tc := range m.ToolCalls {
				calls[tc.CallID] = true
			}
			if m.Role == types.RoleTool {
				assert.True(t, calls[m.ToolCallID], "n=%d: result %s without its call", n, m.ToolCallID)
			}
		}
		assert.Equal(t, 2, systems, "n=%d: system messages are never pruned", n)
	}
}

func TestDeliveredAttachmentsBecomeReferences(t *testing.T) {
	tr := New("s", nil)
	img := types.Attachment{ID: "img-1", MimeType: "image/png", Data: []byte("png")}
	other := types.Attachment{ID: "img-2", MimeType: "image/png", Data: []byte("png2")}
	tr.Append(types.NewUserMessage("look", img, other))

	assert.False(t, tr.Delivered("img-1"))
	tr.MarkDelivered(AttachmentIDs(tr.Messages())[0])
	assert.True(t, tr.Delivered("img-1"))

	original := tr.Messages()
	stripped := StripDelivered(original, tr.Delivered)

	require.Len(t, stripped[0].Parts, 2)
	assert.Equal(t, types.TextPart{Text: "[attachment img-1 omitted]"}, stripped[0].Parts[0])
	assert.Equal(t, types.AttachmentPart{Attachment: other}, stripped[0].Parts[1])
	assert.Len(t, original[0].Attachments(), 2, "the transcript itself is unchanged")

	all := StripAll(original)
	assert.Empty(t, all[0].Attachments())
	assert.Contains(t, all[0].Text(), "[attachment img-2 omitted]")
}
