package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy parameterizes a retry loop. The zero value is not usable; build
// one with New or fill the fields explicitly.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomized, 0..1
	Fixed       bool    // fixed delay between attempts instead of exponential
}

// Option configures a Policy.
type Option func(*Policy)

// New creates a Policy with sane defaults.
func New(opts ...Option) Policy {
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

// WithBackoff sets base and cap for exponential backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(p *Policy) {
		p.BaseDelay = base
		p.MaxDelay = max
	}
}

// WithJitter sets the randomized fraction of each delay.
func WithJitter(f float64) Option {
	return func(p *Policy) {
		if f >= 0 && f <= 1 {
			p.Jitter = f
		}
	}
}

// WithFixedDelay switches to a constant delay between attempts.
func WithFixedDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.Fixed = true
		p.BaseDelay = d
		p.Jitter = 0
	}
}

// Delay returns the wait before retry number `attempt` (1-based count of
// failures so far). Exponential doubling capped at MaxDelay, with jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	if !p.Fixed {
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It stops
// early on context cancellation or a Permanent error. The returned error
// is the last attempt's error wrapped with the attempt count.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, last)
}
