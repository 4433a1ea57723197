package agents

import (
	"log/slog"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/systemprompt"
)

type Option func(c *Config)

func WithGateway(gw provider.Invoker) Option {
	return func(c *Config) {
		c.gateway = gw
	}
}

func WithModel(cfg provider.ModelConfig) Option {
	return func(c *Config) {
		c.model = cfg
	}
}

// WithSystemPromptGenerator sets the generator factory, called once per model call
func WithSystemPromptGenerator(fn func() systemprompt.Generator) Option {
	return func(c *Config) {
		c.systemPrompt = fn
	}
}

// WithMemory sends the memory history before the prompt and records every exchange
func WithMemory(m *components.Memory) Option {
	return func(c *Config) {
		c.memory = m
	}
}

func WithName(name string) Option {
	return func(c *Config) {
		c.name = name
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.logger = l
	}
}
