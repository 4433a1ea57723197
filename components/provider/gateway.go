package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/components/observability"
)

// Transport performs a single call against one provider API
type Transport interface {
	Provider() Provider
	Call(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error)
}

// Invoker is the gateway seen by agents, retrievers and embedders
type Invoker interface {
	Invoke(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error)
}

// Gateway routes model calls to provider transports.
// Calls for the same cache key are coalesced, successful responses are cached,
// transient failures are retried with backoff and counted by a per (provider, model) breaker.
type Gateway struct {
	transports map[Provider]Transport
	cache      *Cache
	breakers   *Breakers
	breakerCfg BreakerConfig
	backoff    Backoff
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	group      singleflight.Group
}

var _ Invoker = (*Gateway)(nil)

// NewGateway returns a gateway
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		transports: make(map[Provider]Transport),
		breakerCfg: DefaultBreakerConfig,
		backoff:    DefaultBackoff,
		sleep:      Sleep,
		now:        time.Now,
		logger:     slog.Default(),
		tracer:     observability.Tracer("github.com/bububa/nutrition-agents/components/provider"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewCache(DefaultCacheTTL, DefaultCacheSize, g.now)
	}
	g.breakers = NewBreakers(g.breakerCfg, g.now)
	return g
}

// Cache returns the response cache
func (g *Gateway) Cache() *Cache {
	return g.cache
}

// Breaker returns the circuit breaker of cfg
func (g *Gateway) Breaker(cfg ModelConfig) *Breaker {
	return g.breakers.Get(cfg.Key())
}

// Invoke sends req to the model selected by cfg.
// A response failing the request schema is returned together with its *components.ValidationError
// and is never cached.
func (g *Gateway) Invoke(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &components.ProviderError{Provider: string(cfg.Provider), Model: cfg.Model, Err: err}
	}
	if req == nil {
		return nil, &components.InputError{Field: "request", Reason: "nil request"}
	}
	if err := ctx.Err(); err != nil {
		return nil, &components.CancellationError{Err: err}
	}
	transport, ok := g.transports[cfg.Provider]
	if !ok {
		return nil, &components.ProviderError{
			Provider: string(cfg.Provider),
			Model:    cfg.Model,
			Err:      fmt.Errorf("no transport registered for %s", cfg.Provider),
		}
	}
	ctx, span := g.tracer.Start(ctx, "gateway.invoke", trace.WithAttributes(
		attribute.String("provider", string(cfg.Provider)),
		attribute.String("model", cfg.Model),
		attribute.String("role", string(cfg.Role)),
	))
	defer span.End()

	key := req.CacheKey(cfg)
	if resp, ok := g.cache.Get(key); ok {
		g.metrics.RecordCacheLookup(ctx, string(cfg.Role), true)
		span.SetAttributes(attribute.Bool("cached", true))
		return resp, nil
	}
	if g.cache.Enabled() {
		g.metrics.RecordCacheLookup(ctx, string(cfg.Role), false)
	}

	ch := g.group.DoChan(key, func() (any, error) {
		return g.fetch(ctx, key, cfg, transport, req)
	})
	select {
	case <-ctx.Done():
		return nil, &components.CancellationError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil && res.Shared && components.IsCancellation(res.Err) && ctx.Err() == nil {
			// the leading caller went away, run our own call
			resp, err := g.fetch(ctx, key, cfg, transport, req)
			return resp, g.traceErr(span, err)
		}
		resp, _ := res.Val.(*Response)
		if resp != nil && res.Shared {
			resp = resp.clone()
		}
		return resp, g.traceErr(span, res.Err)
	}
}

func (g *Gateway) traceErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Gateway) fetch(ctx context.Context, key string, cfg ModelConfig, transport Transport, req *Request) (*Response, error) {
	resp, err := g.callWithRetry(ctx, cfg, transport, req)
	if err != nil {
		return nil, err
	}
	if req.Schema != nil {
		if err := req.Schema.Check([]byte(resp.Text)); err != nil {
			return resp, err
		}
	}
	g.cache.Put(key, resp)
	return resp, nil
}

func (g *Gateway) callWithRetry(ctx context.Context, cfg ModelConfig, transport Transport, req *Request) (*Response, error) {
	breaker := g.breakers.Get(cfg.Key())
	attempts := cfg.Retries() + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff.Delay(attempt)); err != nil {
				return nil, &components.CancellationError{Err: err}
			}
		}
		if !breaker.Allow() {
			return nil, &components.ProviderError{
				Provider:    string(cfg.Provider),
				Model:       cfg.Model,
				Transient:   true,
				CircuitOpen: true,
				Err:         components.ErrCircuitOpen,
			}
		}
		resp, err := g.attempt(ctx, cfg, transport, req)
		if err == nil {
			breaker.Success()
			if ctx.Err() != nil {
				return nil, &components.CancellationError{Err: ctx.Err()}
			}
			return resp, nil
		}
		var verr *components.ValidationError
		if errors.As(err, &verr) {
			breaker.Success()
			return nil, err
		}
		perr := classify(cfg, err)
		if perr.Transient {
			if breaker.Failure() {
				g.metrics.RecordBreakerOpen(ctx, string(cfg.Provider), cfg.Model)
				g.logger.WarnContext(ctx, "circuit opened", slog.String("provider", string(cfg.Provider)), slog.String("model", cfg.Model))
			}
		} else {
			// the provider answered, it is reachable
			breaker.Success()
		}
		if ctx.Err() != nil {
			return nil, &components.CancellationError{Err: ctx.Err()}
		}
		if !perr.Transient {
			return nil, perr
		}
		lastErr = perr
		g.logger.WarnContext(ctx, "provider call failed",
			slog.String("provider", string(cfg.Provider)),
			slog.String("model", cfg.Model),
			slog.Int("attempt", attempt+1),
			slog.Int("attempts", attempts),
			slog.Any("error", err),
		)
	}
	return nil, lastErr
}

// attempt runs one transport call detached from caller cancellation and bounded by the config timeout
func (g *Gateway) attempt(ctx context.Context, cfg ModelConfig, transport Transport, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
	defer cancel()
	start := g.now()
	resp, err := transport.Call(callCtx, cfg, req)
	latency := g.now().Sub(start)
	var usage components.LLMUsage
	if resp != nil {
		usage.Merge(resp.Usage)
	}
	g.metrics.RecordLLMCall(ctx, string(cfg.Provider), cfg.Model, string(cfg.Role), latency, usage.InputTokens, usage.OutputTokens, err)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &components.ProviderError{
			Provider: string(cfg.Provider),
			Model:    cfg.Model,
			Err:      errors.New("empty response"),
		}
	}
	resp.Provider = cfg.Provider
	if resp.Model == "" {
		resp.Model = cfg.Model
	}
	resp.Latency = latency
	resp.Cached = false
	return resp, nil
}

// classify maps a transport error to a provider error
func classify(cfg ModelConfig, err error) *components.ProviderError {
	var perr *components.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	ret := &components.ProviderError{
		Provider:  string(cfg.Provider),
		Model:     cfg.Model,
		Transient: true,
		Err:       err,
	}
	if status, ok := StatusCode(err); ok {
		ret.StatusCode = status
		ret.Transient = components.TransientStatus(status)
	}
	return ret
}
