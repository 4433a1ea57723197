package provider

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff exponential retry delay policy
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the +/- fraction applied to each delay
	Jitter float64
}

// DefaultBackoff base 0.5s, doubling, capped at 8s
var DefaultBackoff = Backoff{
	Base:       500 * time.Millisecond,
	Max:        8 * time.Second,
	Multiplier: 2,
	Jitter:     0.1,
}

// Delay returns the wait before retry n (n >= 1)
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(b.Base) * math.Pow(mult, float64(n-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Sleep waits d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
