package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Session.MaxIterations != 40 {
			t.Errorf("expected default max_iterations 40, got %d", cfg.Session.MaxIterations)
		}
		if len(cfg.Budget.Tiers) != 4 {
			t.Errorf("expected 4 default tiers, got %d", len(cfg.Budget.Tiers))
		}
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
llm:
  provider: anthropic
  model: claude-sonnet
  fallback_models: [claude-haiku, claude-sonnet]
session:
  max_iterations: 12
  call_timeout: 45s
retry:
  provider_backoffs: [1s, 2s]
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.LLM.Provider != ProviderAnthropic {
			t.Errorf("expected anthropic provider, got %s", cfg.LLM.Provider)
		}
		if cfg.Session.MaxIterations != 12 {
			t.Errorf("expected max_iterations 12, got %d", cfg.Session.MaxIterations)
		}
		if cfg.Session.CallTimeout != 45*time.Second {
			t.Errorf("expected call_timeout 45s, got %v", cfg.Session.CallTimeout)
		}
		if len(cfg.Retry.ProviderBackoffs) != 2 || cfg.Retry.ProviderBackoffs[1] != 2*time.Second {
			t.Errorf("unexpected backoffs %v", cfg.Retry.ProviderBackoffs)
		}
		// Untouched sections keep defaults.
		if cfg.Session.MilestoneInterval != 10 {
			t.Errorf("expected default milestone interval, got %d", cfg.Session.MilestoneInterval)
		}
	})

	t.Run("environment overrides yaml", func(t *testing.T) {
		path := writeConfig(t, "llm:\n  model: from-file\n")
		t.Setenv("LOOM_LLM_MODEL", "from-env")
		t.Setenv("LOOM_LLM_FALLBACK_MODELS", "a,b")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.LLM.Model != "from-env" {
			t.Errorf("expected env model, got %s", cfg.LLM.Model)
		}
		if len(cfg.LLM.FallbackModels) != 2 {
			t.Errorf("expected 2 fallbacks, got %v", cfg.LLM.FallbackModels)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "llm: [unterminated")
		if _, err := Load(path); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bogus" }},
		{"missing model", func(c *Config) { c.LLM.Model = "" }},
		{"zero iterations", func(c *Config) { c.Session.MaxIterations = 0 }},
		{"zero tool error limit", func(c *Config) { c.Session.MaxToolErrors = 0 }},
		{"negative tool error limit", func(c *Config) { c.Session.MaxToolErrors = -1 }},
		{"zero call timeout", func(c *Config) { c.Session.CallTimeout = 0 }},
		{"decreasing tiers", func(c *Config) {
			c.Budget.Tiers = []BudgetTier{{Threshold: 0.8, KeepRecent: 5}, {Threshold: 0.5, KeepRecent: 3}}
		}},
		{"bad glob", func(c *Config) { c.Tools.Disabled = []string{"[unclosed"} }},
		{"bad protocol", func(c *Config) { c.Tools.Protocol = "smoke-signals" }},
		{"half sentinel", func(c *Config) { c.Tools.Sentinels = []Sentinel{{Open: "<<"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}
