package tokenizer

import (
	"strings"
	"testing"

	"github.com/entrhq/loom/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestHeuristicCounts(t *testing.T) {
	tok := NewHeuristic()

	assert.False(t, tok.Exact())
	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Equal(t, 1, tok.CountTokens("abc"))
	assert.Equal(t, 25, tok.CountTokens(strings.Repeat("x", 100)))
}

func TestCountMessagesTokensIncludesOverheadAndCalls(t *testing.T) {
	tok := NewHeuristic()

	plain := types.NewUserMessage(strings.Repeat("a", 40))
	withCall := types.NewAssistantToolCallMessage("", types.ToolInvocation{
		Name:      "abcd",
		Arguments: map[string]interface{}{"k": "v"},
	})

	assert.Equal(t, messageOverhead+10, tok.CountMessageTokens(plain))
	// name (1) + {"k":"v"} (9 chars -> 3)
	assert.Equal(t, messageOverhead+1+3, tok.CountMessageTokens(withCall))
	assert.Equal(t, tok.CountMessageTokens(plain)+tok.CountMessageTokens(withCall),
		tok.CountMessagesTokens([]*types.Message{plain, withCall}))
}
