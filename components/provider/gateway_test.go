package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/bububa/nutrition-agents/components"
	"github.com/bububa/nutrition-agents/schema"
)

type fakeTransport struct {
	provider Provider
	calls    *atomic.Int64
	fn       func(ctx context.Context, n int64, req *Request) (*Response, error)
}

func newFakeTransport(fn func(ctx context.Context, n int64, req *Request) (*Response, error)) *fakeTransport {
	return &fakeTransport{provider: ProviderOpenAI, calls: atomic.NewInt64(0), fn: fn}
}

func (t *fakeTransport) Provider() Provider {
	return t.provider
}

func (t *fakeTransport) Call(ctx context.Context, cfg ModelConfig, req *Request) (*Response, error) {
	return t.fn(ctx, t.calls.Inc(), req)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func textConfig(t *testing.T, opts ...ConfigOption) ModelConfig {
	cfg, err := NewModelConfig(ProviderOpenAI, "gpt-4o-mini", RoleTextGeneration, opts...)
	require.NoError(t, err)
	return cfg
}

func transientErr() error {
	return &components.ProviderError{Provider: "openai", Model: "gpt-4o-mini", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
}

func TestGatewayCacheHitSkipsTransport(t *testing.T) {
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		return &Response{Text: "hello"}, nil
	})
	gw := NewGateway(WithTransport(tr))
	cfg := textConfig(t)

	first, err := gw.Invoke(context.Background(), cfg, &Request{System: "sys", Prompt: "hi  there"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, ProviderOpenAI, first.Provider)

	second, err := gw.Invoke(context.Background(), cfg, &Request{System: "sys", Prompt: " hi there "})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "hello", second.Text)
	assert.EqualValues(t, 1, tr.calls.Load())

	hits, _ := gw.Cache().Stats()
	assert.EqualValues(t, 1, hits)
}

func TestGatewayCacheExpires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		return &Response{Text: "ok"}, nil
	})
	gw := NewGateway(WithTransport(tr), WithNow(clock.Now), WithCache(NewCache(time.Minute, 0, clock.Now)))
	cfg := textConfig(t)
	req := &Request{Prompt: "same"}

	_, err := gw.Invoke(context.Background(), cfg, req)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	resp, err := gw.Invoke(context.Background(), cfg, req)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestGatewayRetriesTransientWithBackoff(t *testing.T) {
	tr := newFakeTransport(func(_ context.Context, n int64, _ *Request) (*Response, error) {
		if n < 3 {
			return nil, transientErr()
		}
		return &Response{Text: "third time"}, nil
	})
	sleeper := new(sleepRecorder)
	gw := NewGateway(
		WithTransport(tr),
		WithSleep(sleeper.Sleep),
		WithBackoff(Backoff{Base: 500 * time.Millisecond, Max: 8 * time.Second, Multiplier: 2}),
	)
	resp, err := gw.Invoke(context.Background(), textConfig(t), &Request{Prompt: "retry me"})
	require.NoError(t, err)
	assert.Equal(t, "third time", resp.Text)
	assert.EqualValues(t, 3, tr.calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.delays)
}

func TestGatewayExhaustsRetries(t *testing.T) {
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		return nil, transientErr()
	})
	sleeper := new(sleepRecorder)
	gw := NewGateway(WithTransport(tr), WithSleep(sleeper.Sleep))
	_, err := gw.Invoke(context.Background(), textConfig(t, WithMaxRetries(1)), &Request{Prompt: "fail"})
	var perr *components.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Transient)
	assert.EqualValues(t, 2, tr.calls.Load())
	assert.Len(t, sleeper.delays, 1)
}

func TestGatewayPermanentErrorNotRetried(t *testing.T) {
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		return nil, &components.ProviderError{Provider: "openai", StatusCode: 400, Err: errors.New("bad request")}
	})
	gw := NewGateway(WithTransport(tr), WithSleep(new(sleepRecorder).Sleep))
	_, err := gw.Invoke(context.Background(), textConfig(t), &Request{Prompt: "bad"})
	var perr *components.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Transient)
	assert.Equal(t, 400, perr.StatusCode)
	assert.EqualValues(t, 1, tr.calls.Load())
	assert.Equal(t, BreakerClosed, gw.Breaker(textConfig(t)).State())
}

func TestGatewayCircuitBreaker(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	healthy := atomic.NewBool(false)
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		if healthy.Load() {
			return &Response{Text: "back"}, nil
		}
		return nil, transientErr()
	})
	gw := NewGateway(
		WithTransport(tr),
		WithNow(clock.Now),
		WithSleep(new(sleepRecorder).Sleep),
		WithBreakerConfig(BreakerConfig{Threshold: 2, Window: time.Minute, Cooldown: 30 * time.Second}),
	)
	cfg := textConfig(t, WithMaxRetries(0))

	for i := 0; i < 2; i++ {
		_, err := gw.Invoke(context.Background(), cfg, &Request{Prompt: "down"})
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, gw.Breaker(cfg).State())

	_, err := gw.Invoke(context.Background(), cfg, &Request{Prompt: "down"})
	var perr *components.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.CircuitOpen)
	assert.ErrorIs(t, err, components.ErrCircuitOpen)
	assert.False(t, components.IsRetryable(err))
	assert.EqualValues(t, 2, tr.calls.Load())

	clock.Advance(31 * time.Second)
	assert.Equal(t, BreakerHalfOpen, gw.Breaker(cfg).State())
	healthy.Store(true)
	resp, err := gw.Invoke(context.Background(), cfg, &Request{Prompt: "down"})
	require.NoError(t, err)
	assert.Equal(t, "back", resp.Text)
	assert.Equal(t, BreakerClosed, gw.Breaker(cfg).State())
}

func TestGatewayHalfOpenTrialFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		return nil, transientErr()
	})
	gw := NewGateway(
		WithTransport(tr),
		WithNow(clock.Now),
		WithBreakerConfig(BreakerConfig{Threshold: 1, Window: time.Minute, Cooldown: 10 * time.Second}),
	)
	cfg := textConfig(t, WithMaxRetries(0))
	_, err := gw.Invoke(context.Background(), cfg, &Request{Prompt: "x"})
	require.Error(t, err)
	clock.Advance(11 * time.Second)
	_, err = gw.Invoke(context.Background(), cfg, &Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, gw.Breaker(cfg).State())
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestGatewayValidationErrorNotCached(t *testing.T) {
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		return &Response{Text: `{"intent":"astrology","confidence":0.5}`}, nil
	})
	gw := NewGateway(WithTransport(tr))
	cfg := textConfig(t)

	for i := 0; i < 2; i++ {
		resp, err := gw.Invoke(context.Background(), cfg, &Request{Prompt: "classify", Schema: schema.IntentSchema})
		var verr *components.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "IntentClassification", verr.Schema)
		require.NotNil(t, resp)
		assert.Contains(t, resp.Text, "astrology")
	}
	assert.EqualValues(t, 2, tr.calls.Load())
	assert.Equal(t, 0, gw.Cache().Len())
	assert.Equal(t, BreakerClosed, gw.Breaker(cfg).State())
}

func TestStructuredParsesValue(t *testing.T) {
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		return &Response{Text: "```json\n{\"intent\":\"exercise_guidance\",\"confidence\":0.9,\"keywords\":[\" running \"]}\n```"}, nil
	})
	gw := NewGateway(WithTransport(tr))
	ret, resp, err := Structured(context.Background(), gw, textConfig(t), &Request{Prompt: "how far should I run"}, schema.IntentSchema)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, schema.IntentExerciseGuidance, ret.Intent)
	assert.Equal(t, []string{"running"}, ret.Keywords)
}

func TestGatewayCancellationDiscardsInFlight(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		once.Do(func() { close(started) })
		<-release
		return &Response{Text: "late"}, nil
	})
	gw := NewGateway(WithTransport(tr))
	cfg := textConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := gw.Invoke(ctx, cfg, &Request{Prompt: "slow"})
		errCh <- err
	}()
	<-started
	cancel()
	err := <-errCh
	assert.True(t, components.IsCancellation(err))
	var cerr *components.CancellationError
	assert.ErrorAs(t, err, &cerr)

	close(release)
	resp, err := gw.Invoke(context.Background(), cfg, &Request{Prompt: "slow"})
	require.NoError(t, err)
	assert.Equal(t, "late", resp.Text)
	assert.False(t, resp.Cached)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestGatewayRejectsUnknownProvider(t *testing.T) {
	gw := NewGateway()
	_, err := gw.Invoke(context.Background(), ModelConfig{Provider: "mistral", Model: "m", Role: RoleTextGeneration}, &Request{Prompt: "x"})
	var perr *components.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Transient)

	_, err = gw.Invoke(context.Background(), textConfig(t), &Request{Prompt: "x"})
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "no transport")
}

func TestGatewayRejectsUnsupportedRole(t *testing.T) {
	gw := NewGateway(WithTransport(newFakeTransport(nil)))
	_, err := gw.Invoke(context.Background(), ModelConfig{Provider: ProviderAnthropic, Model: "claude", Role: RoleEmbedding}, &Request{Texts: []string{"x"}})
	assert.ErrorIs(t, err, components.ErrUnsupportedRole)
}

func TestGatewayCoalescesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	tr := newFakeTransport(func(context.Context, int64, *Request) (*Response, error) {
		<-release
		return &Response{Text: "shared"}, nil
	})
	gw := NewGateway(WithTransport(tr))
	cfg := textConfig(t)

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := gw.Invoke(context.Background(), cfg, &Request{Prompt: "together"})
			if err == nil {
				results[i] = resp.Text
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
	assert.EqualValues(t, 1, tr.calls.Load())
}
