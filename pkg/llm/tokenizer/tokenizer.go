// Package tokenizer counts tokens for context budgeting.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/types"
)

const (
	// DefaultEncoding is used when no encoding is configured.
	DefaultEncoding = "cl100k_base"

	// messageOverhead approximates the role and separator tokens added per message.
	messageOverhead = 4

	// charsPerToken is the heuristic used when no encoding is available.
	charsPerToken = 4
)

var logger *logging.Logger

func init() {
	logger, _ = logging.NewLogger("tokenizer")
}

// Tokenizer counts tokens with a tiktoken encoding, or with a
// characters-per-token heuristic when the encoding cannot be loaded.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
	mu  sync.Mutex
}

// New loads the named encoding. The returned Tokenizer is always usable;
// the error reports that it fell back to the heuristic.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warnf("tiktoken encoding %s unavailable, using heuristic: %v", encoding, err)
		return &Tokenizer{}, err
	}
	return &Tokenizer{enc: enc}, nil
}

// NewHeuristic returns a tokenizer that never touches tiktoken.
func NewHeuristic() *Tokenizer {
	return &Tokenizer{}
}

// Exact reports whether a real encoding backs the counts.
func (t *Tokenizer) Exact() bool {
	return t.enc != nil
}

// CountTokens returns the token count of text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.enc == nil {
		return (len(text) + charsPerToken - 1) / charsPerToken
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessageTokens returns the text tokens of one message plus its overhead.
// Attachments are not counted here.
func (t *Tokenizer) CountMessageTokens(msg *types.Message) int {
	n := messageOverhead + t.CountTokens(msg.Text())
	for _, tc := range msg.ToolCalls {
		n += t.CountTokens(tc.Name) + t.CountTokens(tc.ArgumentsJSON())
	}
	return n
}

// CountMessagesTokens sums CountMessageTokens over msgs.
func (t *Tokenizer) CountMessagesTokens(msgs []*types.Message) int {
	total := 0
	for _, m := range msgs {
		total += t.CountMessageTokens(m)
	}
	return total
}
