package types

// TokenUsage contains token usage statistics from an LLM API call.
type TokenUsage struct {
	// PromptTokens is the number of tokens in the input/prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens in the generated completion/response.
	CompletionTokens int

	// TotalTokens is the total number of tokens used (prompt + completion).
	TotalTokens int
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
