package context

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/llm/tokenizer"
	"github.com/entrhq/loom/pkg/types"
)

// Every message is 40 characters: 10 heuristic tokens + 4 overhead.
const tokensPerMessage = 14

func fixedMessages(nonSystem int) []*types.Message {
	body := strings.Repeat("a", 40)
	msgs := []*types.Message{types.NewSystemMessage(body)}
	for i := 0; i < nonSystem; i++ {
		if i%2 == 0 {
			msgs = append(msgs, types.NewUserMessage(body))
		} else {
			msgs = append(msgs, types.NewAssistantMessage(body))
		}
	}
	return msgs
}

func newTestManager(window int) *Manager {
	return NewManager(NewEstimator(tokenizer.NewHeuristic()), window, TiersFromConfig(config.DefaultTiers())...)
}

func TestEstimateTokens(t *testing.T) {
	e := NewEstimator(nil)
	msgs := fixedMessages(2)
	assert.Equal(t, 3*tokensPerMessage, e.EstimateTokens(msgs))

	withImage := types.NewUserMessage("", types.Attachment{ID: "a", Data: make([]byte, 4096)})
	assert.Equal(t, 4+302, e.EstimateTokens([]*types.Message{withImage}))
}

func TestAttachmentTokens(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 300},
		{2047, 300},
		{2048, 301},
		{1 << 20, 812},
		{10 << 20, 1500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AttachmentTokens(tt.size), "size %d", tt.size)
	}
}

func TestSelectWindowTiers(t *testing.T) {
	msgs := fixedMessages(20) // 21 * 14 = 294 tokens

	tests := []struct {
		name      string
		window    int
		wantTier  float64
		wantCount int
	}{
		{"below first threshold", 1000, 0, 21},
		{"crosses 65 percent", 400, 0.65, 11},
		{"crosses 80 percent", 350, 0.80, 6},
		{"over the window", 100, 0.90, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := newTestManager(tt.window).SelectWindow(msgs)
			require.NoError(t, err)
			assert.Len(t, sel.Messages, tt.wantCount)
			if tt.wantTier == 0 {
				assert.Nil(t, sel.Tier)
				return
			}
			require.NotNil(t, sel.Tier)
			assert.Equal(t, tt.wantTier, sel.Tier.Threshold)
			assert.LessOrEqual(t, sel.Estimated, tt.window)
			assert.Equal(t, types.RoleSystem, sel.Messages[0].Role)
		})
	}
}

func TestSelectWindowSortsTiers(t *testing.T) {
	msgs := fixedMessages(20) // 294 tokens
	m := NewManager(NewEstimator(nil), 400, NewTier(0.9, 3), NewTier(0.5, 15))

	sel, err := m.SelectWindow(msgs)
	require.NoError(t, err)
	require.NotNil(t, sel.Tier)
	assert.Equal(t, 0.5, sel.Tier.Threshold)
	assert.Len(t, sel.Messages, 16)
	assert.Equal(t, 16*tokensPerMessage, sel.Estimated)
}

func TestSelectWindowBudgetExceeded(t *testing.T) {
	huge := types.NewSystemMessage(strings.Repeat("s", 800))
	msgs := append([]*types.Message{huge}, fixedMessages(4)[1:]...)

	m := newTestManager(100)
	_, err := m.SelectWindow(msgs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBudgetExceeded))

	var budget *types.BudgetExceededError
	require.True(t, errors.As(err, &budget))
	assert.Equal(t, 100, budget.Limit)

	_, err = m.FitMinimal(msgs)
	assert.True(t, errors.Is(err, types.ErrBudgetExceeded))
}

func TestSelectWindowDisabled(t *testing.T) {
	m := NewManager(nil, 0)
	msgs := fixedMessages(50)
	sel, err := m.SelectWindow(msgs)
	require.NoError(t, err)
	assert.Len(t, sel.Messages, 51)
}

func TestMinimalWindow(t *testing.T) {
	call := types.NewAssistantToolCallMessage("", types.ToolInvocation{Name: "lookup", CallID: "c2"})
	msgs := []*types.Message{
		types.NewSystemMessage("sys"),
		types.NewUserMessage("task"),
		types.NewAssistantToolCallMessage("", types.ToolInvocation{Name: "lookup", CallID: "c1"}),
		types.NewToolMessage(&types.ToolResult{CallID: "c1", Payload: "old"}),
		types.NewUserMessage("keep going"),
		call,
		types.NewToolMessage(&types.ToolResult{CallID: "c2", Payload: "new"}),
		types.NewAssistantMessage("thinking out loud"),
	}

	got := MinimalWindow(msgs)
	require.Len(t, got, 4)
	assert.Equal(t, "sys", got[0].Content)
	assert.Equal(t, "keep going", got[1].Content)
	assert.Same(t, call, got[2])
	assert.Equal(t, "new", got[3].Content)
}

func TestNewTierClamps(t *testing.T) {
	assert.Equal(t, Tier{Threshold: 1, KeepRecent: 1}, NewTier(1.5, 0))
	assert.Equal(t, Tier{Threshold: 0, KeepRecent: 3}, NewTier(-1, 3))
}
