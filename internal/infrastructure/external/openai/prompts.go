package openai

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the decision prompt and its model parameters
type PromptConfig struct {
	Decision struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		System      string  `yaml:"system"`
	} `yaml:"decision"`
}

// DefaultPrompts returns the built-in decision prompt
func DefaultPrompts() *PromptConfig {
	p := &PromptConfig{}
	p.Decision.Temperature = 0.2
	p.Decision.MaxTokens = 64
	p.Decision.System = "You choose the next state for a running state machine. " +
		"Reply with exactly one state name taken from the possible states, on the " +
		"first line, with no punctuation and no explanation. Prefer states that " +
		"have not been visited yet and never answer with the current state."
	return p
}

// LoadPrompts loads prompt overrides from a YAML file. Fields missing from
// the file keep their built-in defaults.
func LoadPrompts(path string) (*PromptConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	return prompts, nil
}
