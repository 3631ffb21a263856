package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompts holds the fixed phrases the relay speaks or sends.
type Prompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	Greeting     string `yaml:"greeting"`
	Reprompt     string `yaml:"reprompt"` // empty re-arms speech collection silently
	Apology      string `yaml:"apology"`
}

// DefaultPrompts returns the built-in phrases.
func DefaultPrompts() Prompts {
	return Prompts{
		SystemPrompt: "You are a helpful AI assistant. Keep responses concise.",
		Greeting:     "Hello! Please speak.",
		Reprompt:     "I didn't hear anything. Please speak again.",
		Apology:      "I apologize, but I encountered an error. Please try again.",
	}
}

// LoadPrompts reads a YAML prompts file. Keys missing from the file keep
// their value from base.
func LoadPrompts(path string, base Prompts) (Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}

	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	return p, nil
}

func (p Prompts) validate() error {
	switch {
	case p.SystemPrompt == "":
		return fmt.Errorf("system_prompt cannot be empty")
	case p.Greeting == "":
		return fmt.Errorf("greeting cannot be empty")
	case p.Apology == "":
		return fmt.Errorf("apology cannot be empty")
	}
	return nil
}
