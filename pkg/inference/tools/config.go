package tools

import (
	"time"

	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"
)

// ToolConfig specifies how tools may be used during a generation
type ToolConfig struct {
	Enabled bool `json:"enabled"`
	// AllowedTools holds glob patterns over tool names. Empty means all
	// registered tools are allowed.
	AllowedTools     []string      `json:"allowed_tools"`
	StrictArgs       bool          `json:"strict_args"`
	ExecutionTimeout time.Duration `json:"execution_timeout"`
}

// DefaultToolConfig returns a sensible default configuration
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Enabled:          true,
		AllowedTools:     nil,
		StrictArgs:       false,
		ExecutionTimeout: 0,
	}
}

func (tc ToolConfig) WithEnabled(enabled bool) ToolConfig {
	tc.Enabled = enabled
	return tc
}

func (tc ToolConfig) WithAllowedTools(patterns []string) ToolConfig {
	tc.AllowedTools = patterns
	return tc
}

func (tc ToolConfig) WithStrictArgs(strict bool) ToolConfig {
	tc.StrictArgs = strict
	return tc
}

func (tc ToolConfig) WithExecutionTimeout(timeout time.Duration) ToolConfig {
	tc.ExecutionTimeout = timeout
	return tc
}

// IsToolAllowed checks name against the allowlist patterns.
func (tc ToolConfig) IsToolAllowed(name string) bool {
	if len(tc.AllowedTools) == 0 {
		return true
	}
	for _, pattern := range tc.AllowedTools {
		matching, err := glob.Match(pattern, name)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("Invalid tool allow pattern")
			continue
		}
		if matching {
			return true
		}
	}
	return false
}
