package provider

import (
	"fmt"
	"time"

	"github.com/bububa/nutrition-agents/components"
)

const (
	// DefaultTimeout per attempt
	DefaultTimeout = 60 * time.Second
	// DefaultMaxRetries extra attempts after the first one
	DefaultMaxRetries = 2
	// MaxRetriesLimit upper bound accepted for MaxRetries
	MaxRetriesLimit = 5
	// DefaultMaxTokens completion budget when unset
	DefaultMaxTokens = 2048
)

// ModelConfig selects a provider model for one role
type ModelConfig struct {
	Provider    Provider      `json:"provider" yaml:"provider"`
	Model       string        `json:"model" yaml:"model"`
	Role        Role          `json:"role" yaml:"role"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries  *int          `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Temperature float32       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// NewModelConfig returns a validated config with defaults applied
func NewModelConfig(p Provider, model string, role Role, opts ...ConfigOption) (ModelConfig, error) {
	cfg := ModelConfig{
		Provider: p,
		Model:    model,
		Role:     role,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

// ConfigOption tweaks a ModelConfig
type ConfigOption func(*ModelConfig)

// WithTimeout set per attempt timeout
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *ModelConfig) {
		c.Timeout = d
	}
}

// WithMaxRetries set retries after the first attempt
func WithMaxRetries(n int) ConfigOption {
	return func(c *ModelConfig) {
		c.MaxRetries = &n
	}
}

// WithTemperature set sampling temperature
func WithTemperature(t float32) ConfigOption {
	return func(c *ModelConfig) {
		c.Temperature = t
	}
}

// WithMaxTokens set completion token budget
func WithMaxTokens(n int) ConfigOption {
	return func(c *ModelConfig) {
		c.MaxTokens = n
	}
}

// Retries returns the configured retry count
func (c ModelConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// WithDefaults fills absent fields
func (c ModelConfig) WithDefaults() ModelConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == nil {
		n := DefaultMaxRetries
		c.MaxRetries = &n
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// Merge overlays the non zero fields of o on c
func (c ModelConfig) Merge(o ModelConfig) ModelConfig {
	if o.Provider != "" {
		c.Provider = o.Provider
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Role != "" {
		c.Role = o.Role
	}
	if o.Timeout > 0 {
		c.Timeout = o.Timeout
	}
	if o.MaxRetries != nil {
		c.MaxRetries = o.MaxRetries
	}
	if o.Temperature != 0 {
		c.Temperature = o.Temperature
	}
	if o.MaxTokens > 0 {
		c.MaxTokens = o.MaxTokens
	}
	return c
}

// Validate rejects unknown providers and roles, and combinations a provider cannot serve
func (c ModelConfig) Validate() error {
	if !c.Provider.Valid() {
		return fmt.Errorf("model config: unknown provider %q", c.Provider)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("model config: unknown role %q", c.Role)
	}
	if c.Model == "" {
		return fmt.Errorf("model config: model is required for %s %s", c.Provider, c.Role)
	}
	if !c.Provider.Supports(c.Role) {
		return fmt.Errorf("model config: %s %s: %w", c.Provider, c.Role, components.ErrUnsupportedRole)
	}
	if n := c.Retries(); n < 0 || n > MaxRetriesLimit {
		return fmt.Errorf("model config: max_retries %d out of range [0,%d]", n, MaxRetriesLimit)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("model config: negative timeout")
	}
	return nil
}

// Key identifies the circuit breaker of the (provider, model) pair
func (c ModelConfig) Key() string {
	return string(c.Provider) + "/" + c.Model
}
