package config

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Protocol selects how tool invocations are requested from the model.
type Protocol string

const (
	ProtocolNative   Protocol = "native"   // ProtocolNative sends tool definitions and expects structured calls only.
	ProtocolEmbedded Protocol = "embedded" // ProtocolEmbedded describes tools in the prompt and parses tagged blocks from text.
	ProtocolAuto     Protocol = "auto"     // ProtocolAuto sends definitions and also accepts tagged blocks.
)

// Sentinel is a pair of markers that may wrap an embedded tool block.
type Sentinel struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// ToolsConfig configures tool exposure and invocation parsing.
type ToolsConfig struct {
	Protocol Protocol `yaml:"protocol" env:"LOOM_TOOLS_PROTOCOL"`

	// Disabled holds glob patterns of tool names hidden from the model.
	Disabled []string `yaml:"disabled" env:"LOOM_TOOLS_DISABLED" envSeparator:","`

	Sentinels []Sentinel `yaml:"sentinels"`
}

// DefaultSentinels returns the markers recognized around embedded blocks.
func DefaultSentinels() []Sentinel {
	return []Sentinel{
		{Open: "[TOOL_CALL]", Close: "[/TOOL_CALL]"},
		{Open: "<|tool_call|>", Close: "<|/tool_call|>"},
	}
}

// Validate checks the tools section.
func (c ToolsConfig) Validate() error {
	switch c.Protocol {
	case ProtocolNative, ProtocolEmbedded, ProtocolAuto:
	default:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	for _, p := range c.Disabled {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("invalid disabled pattern %q: %w", p, err)
		}
	}
	for i, s := range c.Sentinels {
		if s.Open == "" || s.Close == "" {
			return fmt.Errorf("sentinel %d must define open and close markers", i)
		}
	}
	return nil
}
