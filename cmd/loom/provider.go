package main

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/llm"
	"github.com/entrhq/loom/pkg/llm/anthropic"
	"github.com/entrhq/loom/pkg/llm/openai"
)

// newProvider creates the backend named by llm.provider.
func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		p, err := openai.NewProvider(cfg.APIKey, openai.WithBaseURL(cfg.BaseURL))
		if err != nil {
			return nil, err
		}
		return p, nil

	case config.ProviderAnthropic:
		var opts []anthropic.ProviderOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		p, err := anthropic.NewProvider(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
