package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/bububa/nutrition-agents/agents/chat"
	"github.com/bububa/nutrition-agents/agents/nutrition"
	"github.com/bububa/nutrition-agents/components/document"
	"github.com/bububa/nutrition-agents/components/embedder"
	"github.com/bububa/nutrition-agents/components/guideline"
	"github.com/bububa/nutrition-agents/components/knowledge"
	"github.com/bububa/nutrition-agents/components/observability"
	"github.com/bububa/nutrition-agents/components/provider"
	"github.com/bububa/nutrition-agents/components/vectordb"
	"github.com/bububa/nutrition-agents/components/vectordb/engines/chromem"
	"github.com/bububa/nutrition-agents/components/vectordb/engines/memory"
	"github.com/bububa/nutrition-agents/components/vectordb/engines/milvus"
	"github.com/bububa/nutrition-agents/workflow"
)

// ParseLevel converts a log level name, unknown names map to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns a text or json logger writing to w
func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Log.Level)}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Services runtime dependencies built from a Config
type Services struct {
	Config    *Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Gateway   *provider.Gateway
	Engine    vectordb.Engine
	Retriever *knowledge.Retriever
	Images    *document.Resolver
	closers   []func(context.Context) error
}

// Build wires the services. Logs and exported spans go to w.
func (c *Config) Build(ctx context.Context, w io.Writer) (*Services, error) {
	ret := &Services{Config: c, Logger: c.Logger(w)}
	shutdown, err := observability.InitTracer(c.Observability.Tracing, w)
	if err != nil {
		return nil, err
	}
	ret.closers = append(ret.closers, shutdown)
	if ret.Metrics, err = observability.InitMetrics(c.Observability.Metrics); err != nil {
		return nil, ret.closeWith(ctx, err)
	}
	if ret.Metrics != nil {
		ret.closers = append(ret.closers, ret.Metrics.Shutdown)
	}
	if err := ret.buildGateway(ctx); err != nil {
		return nil, ret.closeWith(ctx, err)
	}
	if err := ret.buildEngine(ctx); err != nil {
		return nil, ret.closeWith(ctx, err)
	}
	ret.Retriever = knowledge.NewRetriever(
		embedder.NewGateway(ret.Gateway, c.Model(provider.RoleEmbedding)),
		ret.Engine,
		knowledge.WithCollection(c.Knowledge.Collection),
		knowledge.WithMinScore(c.Knowledge.MinScore),
		knowledge.WithStrictEmbedding(c.Knowledge.StrictEmbedding),
		knowledge.WithLogger(ret.Logger),
		knowledge.WithMetrics(ret.Metrics),
	)
	resolverOpts := []document.ResolverOption{document.WithMaxSize(c.Images.MaxSize)}
	if c.Images.S3Region != "" {
		s3, err := document.NewS3FromRegion(ctx, c.Images.S3Region)
		if err != nil {
			return nil, ret.closeWith(ctx, err)
		}
		resolverOpts = append(resolverOpts, document.WithFetcher(s3))
	}
	ret.Images = document.NewResolver(resolverOpts...)
	return ret, nil
}

func (s *Services) buildGateway(ctx context.Context) error {
	c := s.Config
	opts := []provider.Option{
		provider.WithLogger(s.Logger),
		provider.WithMetrics(s.Metrics),
		provider.WithCache(provider.NewCache(c.Gateway.CacheTTL, c.Gateway.CacheSize, nil)),
		provider.WithBreakerConfig(provider.BreakerConfig{
			Threshold: c.Gateway.BreakerThreshold,
			Window:    c.Gateway.BreakerWindow,
			Cooldown:  c.Gateway.BreakerCooldown,
		}),
		provider.WithBackoff(provider.Backoff{
			Base:       c.Gateway.BackoffBase,
			Max:        c.Gateway.BackoffMax,
			Multiplier: provider.DefaultBackoff.Multiplier,
			Jitter:     provider.DefaultBackoff.Jitter,
		}),
	}
	used := make(map[provider.Provider]bool, 3)
	for _, m := range []provider.ModelConfig{c.Models.Vision, c.Models.Text, c.Models.Embedding} {
		used[m.Provider] = true
	}
	for _, p := range provider.Providers {
		if !used[p] {
			continue
		}
		creds := c.Providers.For(p)
		if creds.APIKey == "" {
			return fmt.Errorf("no api key for %s, set providers.%s.api_key or %s", p, p, apiKeyEnv[p])
		}
		switch p {
		case provider.ProviderOpenAI:
			opts = append(opts, provider.WithTransport(provider.NewOpenAIFromKey(creds.APIKey, creds.BaseURL)))
		case provider.ProviderAnthropic:
			opts = append(opts, provider.WithTransport(provider.NewAnthropicFromKey(creds.APIKey, creds.BaseURL)))
		case provider.ProviderCohere:
			opts = append(opts, provider.WithTransport(provider.NewCohereFromKey(creds.APIKey, creds.BaseURL)))
		case provider.ProviderGemini:
			t, err := provider.NewGeminiFromKey(ctx, creds.APIKey)
			if err != nil {
				return fmt.Errorf("gemini client: %w", err)
			}
			s.closers = append(s.closers, func(context.Context) error { return t.Close() })
			opts = append(opts, provider.WithTransport(t))
		}
	}
	s.Gateway = provider.NewGateway(opts...)
	return nil
}

func (s *Services) buildEngine(ctx context.Context) error {
	k := s.Config.Knowledge
	opts := []vectordb.Option{
		vectordb.WithTopK(k.TopK),
		vectordb.WithMinScore(k.MinScore),
		vectordb.WithDimension(k.Dimension),
	}
	switch k.Engine {
	case vectordb.Chromem:
		if k.Path == "" {
			s.Engine = chromem.New(chromemgo.NewDB(), opts...)
			return nil
		}
		e, err := chromem.NewPersistent(k.Path, k.Compress, opts...)
		if err != nil {
			return fmt.Errorf("open chromem index %s: %w", k.Path, err)
		}
		s.Engine = e
	case vectordb.Milvus:
		e, err := milvus.Dial(ctx, k.Address, opts...)
		if err != nil {
			return fmt.Errorf("dial milvus %s: %w", k.Address, err)
		}
		s.closers = append(s.closers, func(context.Context) error { return e.Close() })
		s.Engine = e
	default:
		s.Engine = memory.New(opts...)
	}
	return nil
}

// Chunker returns the knowledge chunker, counting tiktoken tokens when an encoding is set
func (s *Services) Chunker() (embedder.Chunker, error) {
	k := s.Config.Knowledge
	opts := []embedder.TextChunkerOption{
		embedder.WithChunkSize(k.ChunkSize),
		embedder.WithChunkOverlap(k.ChunkOverlap),
	}
	if k.Encoding != "" {
		counter, err := embedder.NewTikTokenCounter(k.Encoding)
		if err != nil {
			return nil, fmt.Errorf("tiktoken %s: %w", k.Encoding, err)
		}
		opts = append(opts, embedder.WithTokenCounter(counter))
	}
	return embedder.NewTextChunker(opts...), nil
}

// Loader returns a knowledge loader indexing into the retriever
func (s *Services) Loader() (*knowledge.Loader, error) {
	chunker, err := s.Chunker()
	if err != nil {
		return nil, err
	}
	return knowledge.NewLoader(s.Retriever,
		knowledge.WithResolver(s.Images),
		knowledge.WithChunker(chunker),
		knowledge.WithLoaderLogger(s.Logger),
	), nil
}

// EnsureSeeded indexes the bundled passages when seeding is enabled and the index is empty
func (s *Services) EnsureSeeded(ctx context.Context) error {
	if !s.Config.Knowledge.Seed {
		return nil
	}
	n, err := s.Retriever.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	indexed, usage, err := knowledge.Seed(ctx, s.Retriever)
	if err != nil {
		return fmt.Errorf("seed knowledge: %w", err)
	}
	attrs := []any{slog.Int("passages", indexed)}
	if usage != nil {
		attrs = append(attrs, slog.Int64("input_tokens", usage.InputTokens))
	}
	s.Logger.InfoContext(ctx, "seeded knowledge index", attrs...)
	return nil
}

// Executor returns a step executor logging and recording metrics like the other services
func (s *Services) Executor(opts ...workflow.Option) *workflow.Executor {
	list := []workflow.Option{workflow.WithLogger(s.Logger)}
	if s.Metrics != nil {
		list = append(list, workflow.WithMetrics(s.Metrics))
	}
	return workflow.NewExecutor(append(list, opts...)...)
}

// Nutrition returns the nutrition analysis pipeline
func (s *Services) Nutrition() (*nutrition.Pipeline, error) {
	c := s.Config
	opts := []nutrition.Option{
		nutrition.WithTopK(c.Knowledge.TopK),
		nutrition.WithLogger(s.Logger),
	}
	if len(c.Nutrition.SafeAlternatives) > 0 {
		opts = append(opts, nutrition.WithSafeAlternatives(c.Nutrition.SafeAlternatives...))
	}
	if len(c.Nutrition.Guidelines) > 0 {
		rules, err := guideline.New(c.Nutrition.Guidelines...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nutrition.WithGuidelines(rules))
	}
	return nutrition.New(s.Gateway, nutrition.Models{
		Vision: c.Model(provider.RoleVision),
		Text:   c.Model(provider.RoleTextGeneration),
	}, s.Images, s.Retriever, opts...)
}

// Chat returns the conversational pipeline persisting sessions in store
func (s *Services) Chat(store chat.SessionStore) (*chat.Pipeline, error) {
	c := s.Config
	opts := []chat.Option{
		chat.WithHistoryWindow(c.Chat.HistoryWindow),
		chat.WithTopK(c.Chat.TopK),
		chat.WithLookback(c.Chat.Lookback),
		chat.WithLogger(s.Logger),
	}
	if store != nil {
		opts = append(opts, chat.WithStore(store))
	}
	return chat.New(s.Gateway, c.Model(provider.RoleTextGeneration), s.Retriever, opts...)
}

// Close releases clients and flushes telemetry
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Services) closeWith(ctx context.Context, err error) error {
	return errors.Join(err, s.Close(ctx))
}
