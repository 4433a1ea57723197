// Package config loads the YAML configuration of the nutrition agents and builds
// the gateway, knowledge index and pipelines from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bububa/nutrition-agents/components/guideline"
	"github.com/bububa/nutrition-agents/components/observability"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/vectordb"
)

// Config root of the configuration file
type Config struct {
	Models        Models              `yaml:"models"`
	Providers     Providers           `yaml:"providers"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Images        ImagesConfig        `yaml:"images"`
	Nutrition     NutritionConfig     `yaml:"nutrition"`
	Chat          ChatConfig          `yaml:"chat"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Models model per role
type Models struct {
	Vision    provider.ModelConfig `yaml:"vision"`
	Text      provider.ModelConfig `yaml:"text"`
	Embedding provider.ModelConfig `yaml:"embedding"`
}

// Credentials of one provider
type Credentials struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
}

// Providers credentials per provider. An empty api key falls back to the
// provider's usual environment variable.
type Providers struct {
	OpenAI    Credentials `yaml:"openai"`
	Anthropic Credentials `yaml:"anthropic"`
	Cohere    Credentials `yaml:"cohere"`
	Gemini    Credentials `yaml:"gemini"`
}

var apiKeyEnv = map[provider.Provider]string{
	provider.ProviderOpenAI:    "OPENAI_API_KEY",
	provider.ProviderAnthropic: "ANTHROPIC_API_KEY",
	provider.ProviderCohere:    "COHERE_API_KEY",
	provider.ProviderGemini:    "GEMINI_API_KEY",
}

// For returns the credentials of p
func (p Providers) For(name provider.Provider) Credentials {
	var ret Credentials
	switch name {
	case provider.ProviderOpenAI:
		ret = p.OpenAI
	case provider.ProviderAnthropic:
		ret = p.Anthropic
	case provider.ProviderCohere:
		ret = p.Cohere
	case provider.ProviderGemini:
		ret = p.Gemini
	}
	if ret.APIKey == "" {
		ret.APIKey = os.Getenv(apiKeyEnv[name])
	}
	return ret
}

// GatewayConfig cache, circuit breaker and backoff settings
type GatewayConfig struct {
	// CacheTTL zero disables the response cache
	CacheTTL         time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	CacheSize        int           `yaml:"cache_size" validate:"gte=0"`
	BreakerThreshold int           `yaml:"breaker_threshold" validate:"gte=1"`
	BreakerWindow    time.Duration `yaml:"breaker_window" validate:"gt=0"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" validate:"gt=0"`
	BackoffBase      time.Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax       time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffBase"`
}

// KnowledgeConfig knowledge index settings
type KnowledgeConfig struct {
	Engine vectordb.EngineType `yaml:"engine" validate:"oneof=memory chromem milvus"`
	// Path chromem persistence directory, in memory when empty
	Path     string `yaml:"path,omitempty"`
	Compress bool   `yaml:"compress,omitempty"`
	// Address milvus server address
	Address    string  `yaml:"address,omitempty" validate:"required_if=Engine milvus"`
	Collection string  `yaml:"collection"`
	Dimension  int     `yaml:"dimension,omitempty" validate:"gte=0"`
	TopK       int     `yaml:"top_k" validate:"gte=1,lte=50"`
	MinScore   float64 `yaml:"min_score" validate:"gte=0,lte=1"`
	// StrictEmbedding fails runs when the query cannot be embedded instead of
	// continuing without knowledge
	StrictEmbedding bool `yaml:"strict_embedding"`
	ChunkSize       int  `yaml:"chunk_size" validate:"gte=1"`
	ChunkOverlap    int  `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	// Encoding tiktoken encoding used to count chunk tokens, words when empty
	Encoding string `yaml:"encoding,omitempty"`
	// Seed indexes the bundled passages into an empty index
	Seed bool `yaml:"seed"`
}

// ImagesConfig image source settings
type ImagesConfig struct {
	// S3Region enables s3:// references
	S3Region string `yaml:"s3_region,omitempty"`
	MaxSize  int64  `yaml:"max_size,omitempty" validate:"gte=0"`
}

// NutritionConfig nutrition pipeline settings
type NutritionConfig struct {
	SafeAlternatives []string `yaml:"safe_alternatives,omitempty"`
	// Guidelines replace the default guideline rules when set
	Guidelines []guideline.Rule `yaml:"guidelines,omitempty" validate:"dive"`
}

// ChatConfig chat pipeline settings
type ChatConfig struct {
	HistoryWindow int           `yaml:"history_window" validate:"gte=0"`
	TopK          int           `yaml:"top_k" validate:"gte=0,lte=50"`
	Lookback      time.Duration `yaml:"lookback" validate:"gte=0"`
}

// LogConfig logging settings
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ObservabilityConfig metrics and tracing
type ObservabilityConfig struct {
	Metrics observability.MetricsConfig `yaml:"metrics"`
	Tracing observability.TracerConfig  `yaml:"tracing"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Models: Models{
			Vision:    provider.ModelConfig{Provider: provider.ProviderOpenAI, Model: "gpt-4o", Role: provider.RoleVision, Temperature: 0.2},
			Text:      provider.ModelConfig{Provider: provider.ProviderOpenAI, Model: "gpt-4o-mini", Role: provider.RoleTextGeneration, Temperature: 0.5},
			Embedding: provider.ModelConfig{Provider: provider.ProviderOpenAI, Model: "text-embedding-3-small", Role: provider.RoleEmbedding},
		},
		Gateway: GatewayConfig{
			CacheTTL:         10 * time.Minute,
			CacheSize:        provider.DefaultCacheSize,
			BreakerThreshold: provider.DefaultBreakerConfig.Threshold,
			BreakerWindow:    provider.DefaultBreakerConfig.Window,
			BreakerCooldown:  provider.DefaultBreakerConfig.Cooldown,
			BackoffBase:      provider.DefaultBackoff.Base,
			BackoffMax:       provider.DefaultBackoff.Max,
		},
		Knowledge: KnowledgeConfig{
			Engine:       vectordb.Memory,
			Collection:   vectordb.DefaultCollection,
			TopK:         5,
			ChunkSize:    200,
			ChunkOverlap: 50,
			Seed:         true,
		},
		Chat: ChatConfig{
			HistoryWindow: 20,
			TopK:          3,
			Lookback:      7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: observability.MetricsConfig{Addr: ":9464"},
		},
	}
}

// Load reads .env files, then the YAML file at path over Default.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(bs)
}

// Parse decodes YAML over Default, expanding ${VAR} and ${VAR:-default} in scalar values
func Parse(bs []byte) (*Config, error) {
	cfg := Default()
	var root yaml.Node
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if root.Kind == 0 {
		return cfg, cfg.Validate()
	}
	expandNode(&root)
	if err := root.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		if expanded := ExpandEnv(n.Value); expanded != n.Value {
			n.Value = expanded
			// let the target type decide, "${PORT}" should still decode into an int
			n.Tag = ""
			n.Style = 0
		}
		return
	}
	for _, c := range n.Content {
		expandNode(c)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the model of every role
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				errs = append(errs, fmt.Errorf("config: %s failed %q", strings.TrimPrefix(v.Namespace(), "Config."), v.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	for _, m := range []struct {
		name string
		cfg  provider.ModelConfig
		role provider.Role
	}{
		{"vision", c.Models.Vision, provider.RoleVision},
		{"text", c.Models.Text, provider.RoleTextGeneration},
		{"embedding", c.Models.Embedding, provider.RoleEmbedding},
	} {
		if m.cfg.Role == "" {
			m.cfg.Role = m.role
		}
		if m.cfg.Role != m.role {
			errs = append(errs, fmt.Errorf("config: models.%s has role %s", m.name, m.cfg.Role))
			continue
		}
		if err := m.cfg.WithDefaults().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("models.%s: %w", m.name, err))
		}
	}
	return errors.Join(errs...)
}

// Model returns the model of role with defaults applied
func (c *Config) Model(role provider.Role) provider.ModelConfig {
	var ret provider.ModelConfig
	switch role {
	case provider.RoleVision:
		ret = c.Models.Vision
	case provider.RoleTextGeneration:
		ret = c.Models.Text
	case provider.RoleEmbedding:
		ret = c.Models.Embedding
	}
	ret.Role = role
	return ret.WithDefaults()
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
