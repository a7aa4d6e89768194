package config

import "fmt"

// Provider names accepted in llm.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMConfig configures the provider backend and model preference order.
type LLMConfig struct {
	Provider       string   `yaml:"provider" env:"LOOM_LLM_PROVIDER"`
	Model          string   `yaml:"model" env:"LOOM_LLM_MODEL"`
	FallbackModels []string `yaml:"fallback_models" env:"LOOM_LLM_FALLBACK_MODELS" envSeparator:","`
	BaseURL        string   `yaml:"base_url" env:"LOOM_LLM_BASE_URL"`
	APIKey         string   `yaml:"api_key" env:"LOOM_LLM_API_KEY"`
	MaxTokens      int      `yaml:"max_tokens" env:"LOOM_LLM_MAX_TOKENS"`

	// RequestsPerSecond and Burst bound provider calls across all sessions.
	// Zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"LOOM_LLM_REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"LOOM_LLM_BURST"`
}

// Models returns the preferred model followed by the fallbacks, without duplicates.
func (c LLMConfig) Models() []string {
	seen := make(map[string]bool, len(c.FallbackModels)+1)
	out := make([]string, 0, len(c.FallbackModels)+1)
	for _, m := range append([]string{c.Model}, c.FallbackModels...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Validate checks the LLM section.
func (c LLMConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	return nil
}
