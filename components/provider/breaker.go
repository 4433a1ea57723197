package provider

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// BreakerState circuit breaker position
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig thresholds of a circuit breaker
type BreakerConfig struct {
	// Threshold consecutive failures that open the circuit
	Threshold int
	// Window the consecutive failures must fall in
	Window time.Duration
	// Cooldown the circuit stays open before a trial call
	Cooldown time.Duration
}

// DefaultBreakerConfig opens after 5 failures in 30s for 30s
var DefaultBreakerConfig = BreakerConfig{
	Threshold: 5,
	Window:    30 * time.Second,
	Cooldown:  30 * time.Second,
}

// breakerSnapshot is immutable once published
type breakerSnapshot struct {
	failures  int
	first     time.Time
	openUntil time.Time
	trial     bool
}

// Breaker consecutive failure circuit breaker.
// State transitions publish new snapshots with compare-and-swap.
type Breaker struct {
	cfg   BreakerConfig
	state *atomic.Pointer[breakerSnapshot]
	now   func() time.Time
}

// NewBreaker returns a closed breaker
func NewBreaker(cfg BreakerConfig, now func() time.Time) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreakerConfig.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerConfig.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig.Cooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		cfg:   cfg,
		state: atomic.NewPointer(&breakerSnapshot{}),
		now:   now,
	}
}

// State returns the current position
func (b *Breaker) State() BreakerState {
	s := b.state.Load()
	switch {
	case s.openUntil.IsZero():
		return BreakerClosed
	case b.now().Before(s.openUntil):
		return BreakerOpen
	default:
		return BreakerHalfOpen
	}
}

// Allow reports whether a call may proceed. After the cool-down exactly one trial call is let through.
func (b *Breaker) Allow() bool {
	for {
		s := b.state.Load()
		if s.openUntil.IsZero() {
			return true
		}
		if b.now().Before(s.openUntil) || s.trial {
			return false
		}
		next := *s
		next.trial = true
		if b.state.CompareAndSwap(s, &next) {
			return true
		}
	}
}

// Success closes the circuit
func (b *Breaker) Success() {
	s := b.state.Load()
	if s.failures == 0 && s.openUntil.IsZero() {
		return
	}
	b.state.Store(&breakerSnapshot{})
}

// Failure records a failed call and reports whether it opened the circuit
func (b *Breaker) Failure() bool {
	for {
		s := b.state.Load()
		now := b.now()
		next := *s
		opened := false
		switch {
		case s.trial:
			next = breakerSnapshot{openUntil: now.Add(b.cfg.Cooldown)}
			opened = true
		case !s.openUntil.IsZero():
			// a call admitted before the circuit opened
			return false
		case s.failures == 0 || now.Sub(s.first) > b.cfg.Window:
			next.failures = 1
			next.first = now
		default:
			next.failures++
		}
		if !opened && next.failures >= b.cfg.Threshold {
			next = breakerSnapshot{openUntil: now.Add(b.cfg.Cooldown)}
			opened = true
		}
		if b.state.CompareAndSwap(s, &next) {
			return opened
		}
	}
}

// Breakers one breaker per (provider, model)
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time
	m   sync.Map
}

// NewBreakers returns an empty breaker set
func NewBreakers(cfg BreakerConfig, now func() time.Time) *Breakers {
	return &Breakers{cfg: cfg, now: now}
}

// Get returns the breaker of key, creating it on first use
func (s *Breakers) Get(key string) *Breaker {
	if v, ok := s.m.Load(key); ok {
		return v.(*Breaker)
	}
	v, _ := s.m.LoadOrStore(key, NewBreaker(s.cfg, s.now))
	return v.(*Breaker)
}
