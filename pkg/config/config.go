// Package config loads engine configuration from YAML with environment overrides.
//
// Precedence, lowest to highest: DefaultConfig, the YAML file, LOOM_* environment
// variables. The resulting *Config is validated once and then passed explicitly to
// the engine; there is no package-level instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Session    SessionConfig    `yaml:"session"`
	Budget     BudgetConfig     `yaml:"budget"`
	Retry      RetryConfig      `yaml:"retry"`
	Tools      ToolsConfig      `yaml:"tools"`
	Cache      CacheConfig      `yaml:"cache"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SessionConfig bounds the session loop.
type SessionConfig struct {
	MaxIterations     int           `yaml:"max_iterations" env:"LOOM_SESSION_MAX_ITERATIONS"`
	MilestoneInterval int           `yaml:"milestone_interval" env:"LOOM_SESSION_MILESTONE_INTERVAL"`
	MaxEmptyTurns     int           `yaml:"max_empty_turns" env:"LOOM_SESSION_MAX_EMPTY_TURNS"`
	MaxToolErrors     int           `yaml:"max_tool_errors" env:"LOOM_SESSION_MAX_TOOL_ERRORS"`
	CallTimeout       time.Duration `yaml:"call_timeout" env:"LOOM_SESSION_CALL_TIMEOUT"`
	SynthesisTimeout  time.Duration `yaml:"synthesis_timeout" env:"LOOM_SESSION_SYNTHESIS_TIMEOUT"`
}

// BudgetTier keeps KeepRecent non-system messages once usage crosses Threshold.
type BudgetTier struct {
	Threshold  float64 `yaml:"threshold"`
	KeepRecent int     `yaml:"keep_recent"`
}

// BudgetConfig configures the context budget manager.
type BudgetConfig struct {
	ContextWindow int          `yaml:"context_window" env:"LOOM_BUDGET_CONTEXT_WINDOW"`
	Tiers         []BudgetTier `yaml:"tiers"`
	Encoding      string       `yaml:"encoding" env:"LOOM_BUDGET_ENCODING"`
}

// RetryConfig configures the provider failover policy.
type RetryConfig struct {
	ProviderBackoffs []time.Duration `yaml:"provider_backoffs" env:"LOOM_RETRY_PROVIDER_BACKOFFS" envSeparator:","`
	OtherBase        time.Duration   `yaml:"other_base" env:"LOOM_RETRY_OTHER_BASE"`
	OtherMaxRetries  int             `yaml:"other_max_retries" env:"LOOM_RETRY_OTHER_MAX_RETRIES"`
}

// CacheConfig configures the in-memory binary cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries" env:"LOOM_CACHE_MAX_ENTRIES"`
	TTL        time.Duration `yaml:"ttl" env:"LOOM_CACHE_TTL"`
}

// TranscriptConfig configures transcript durability.
type TranscriptConfig struct {
	// SQLitePath enables the sqlite sink when non-empty.
	SQLitePath string `yaml:"sqlite_path" env:"LOOM_TRANSCRIPT_SQLITE_PATH"`
}

// LoggingConfig configures the process log level.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOOM_LOG_LEVEL"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          ProviderOpenAI,
			Model:             "gpt-4o",
			MaxTokens:         4096,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Session: SessionConfig{
			MaxIterations:     40,
			MilestoneInterval: 10,
			MaxEmptyTurns:     3,
			MaxToolErrors:     5,
			CallTimeout:       3 * time.Minute,
			SynthesisTimeout:  3 * time.Minute,
		},
		Budget: BudgetConfig{
			ContextWindow: 128000,
			Tiers:         DefaultTiers(),
			Encoding:      "cl100k_base",
		},
		Retry: RetryConfig{
			ProviderBackoffs: []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
			OtherBase:        time.Second,
			OtherMaxRetries:  2,
		},
		Tools: ToolsConfig{
			Protocol:  ProtocolAuto,
			Sentinels: DefaultSentinels(),
		},
		Cache: CacheConfig{
			MaxEntries: 256,
			TTL:        time.Hour,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultTiers returns the pruning tiers ordered by threshold.
func DefaultTiers() []BudgetTier {
	return []BudgetTier{
		{Threshold: 0.50, KeepRecent: 15},
		{Threshold: 0.65, KeepRecent: 10},
		{Threshold: 0.80, KeepRecent: 5},
		{Threshold: 0.90, KeepRecent: 3},
	}
}

// Load reads path (if it exists), applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// defaults only
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.Session.MaxIterations <= 0 {
		return fmt.Errorf("session: max_iterations must be positive")
	}
	if c.Session.MilestoneInterval < 0 {
		return fmt.Errorf("session: milestone_interval cannot be negative")
	}
	if c.Session.MaxEmptyTurns < 0 {
		return fmt.Errorf("session: max_empty_turns cannot be negative")
	}
	if c.Session.MaxToolErrors <= 0 {
		return fmt.Errorf("session: max_tool_errors must be positive")
	}
	if c.Session.CallTimeout <= 0 {
		return fmt.Errorf("session: call_timeout must be positive")
	}
	if c.Budget.ContextWindow <= 0 {
		return fmt.Errorf("budget: context_window must be positive")
	}
	prev := 0.0
	for i, tier := range c.Budget.Tiers {
		if tier.Threshold <= prev || tier.Threshold > 1 {
			return fmt.Errorf("budget: tier %d threshold %.2f must be increasing and within (0,1]", i, tier.Threshold)
		}
		if tier.KeepRecent <= 0 {
			return fmt.Errorf("budget: tier %d keep_recent must be positive", i)
		}
		prev = tier.Threshold
	}
	if c.Retry.OtherMaxRetries < 0 {
		return fmt.Errorf("retry: other_max_retries cannot be negative")
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache: max_entries cannot be negative")
	}
	return nil
}
