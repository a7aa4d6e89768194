package context

import (
	"github.com/entrhq/loom/pkg/llm/tokenizer"
	"github.com/entrhq/loom/pkg/types"
)

const (
	attachmentBaseTokens = 300
	attachmentMaxTokens  = 1500
	attachmentBytesPer   = 2048 // one extra token per 2KB of attachment data
)

// Estimator approximates the prompt size of a message list.
type Estimator struct {
	tok *tokenizer.Tokenizer
}

// NewEstimator wraps tok. A nil tokenizer falls back to the character heuristic.
func NewEstimator(tok *tokenizer.Tokenizer) *Estimator {
	if tok == nil {
		tok = tokenizer.NewHeuristic()
	}
	return &Estimator{tok: tok}
}

// EstimateTokens returns text tokens plus per-message overhead plus a fixed
// cost per attachment.
func (e *Estimator) EstimateTokens(msgs []*types.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.tok.CountMessageTokens(m)
		for _, a := range m.Attachments() {
			total += AttachmentTokens(a.Size())
		}
	}
	return total
}

// AttachmentTokens is clamp(300 + bytes/2048, 300, 1500).
func AttachmentTokens(size int) int {
	n := attachmentBaseTokens + size/attachmentBytesPer
	if n > attachmentMaxTokens {
		return attachmentMaxTokens
	}
	return n
}
