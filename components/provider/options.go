package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/bububa/nutrition-agents/components/observability"
)

// Option configures a Gateway
type Option func(*Gateway)

// WithTransport registers the transport of its provider
func WithTransport(t Transport) Option {
	return func(g *Gateway) {
		g.transports[t.Provider()] = t
	}
}

// WithLogger set logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithCache set response cache
func WithCache(c *Cache) Option {
	return func(g *Gateway) {
		g.cache = c
	}
}

// WithBreakerConfig set circuit breaker thresholds
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(g *Gateway) {
		g.breakerCfg = cfg
	}
}

// WithBackoff set retry backoff policy
func WithBackoff(b Backoff) Option {
	return func(g *Gateway) {
		g.backoff = b
	}
}

// WithSleep replaces the backoff wait
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// WithNow replaces the clock used by cache and breakers
func WithNow(fn func() time.Time) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithMetrics set metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}
