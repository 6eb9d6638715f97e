package exchange

import (
	"context"
	"fmt"
	"time"

	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/logger"
	"SnipeFlow/pkg/retry"
)

// stableAfter is how long a connection must hold before the reconnect
// attempt counter resets.
const stableAfter = 30 * time.Second

// Supervisor keeps one MarketStream connected, reconnecting with bounded
// exponential backoff on abnormal failures. Events are handed to onEvent
// on the supervisor goroutine.
type Supervisor struct {
	stream  domrepo.MarketStream
	policy  retry.Policy
	log     *logger.Logger
	onEvent func(*domrepo.StreamEvent)

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor over the given stream.
func NewSupervisor(stream domrepo.MarketStream, policy retry.Policy, log *logger.Logger, onEvent func(*domrepo.StreamEvent)) *Supervisor {
	return &Supervisor{
		stream:  stream,
		policy:  policy,
		log:     log,
		onEvent: onEvent,
		sleep:   sleepCtx,
	}
}

// Run connects and consumes the stream until the context ends, a normal
// closure arrives, or the reconnect budget is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= s.policy.MaxAttempts {
			return fmt.Errorf("reconnect budget exhausted after %d attempts", attempt)
		}
		if attempt > 0 {
			delay := s.policy.Delay(attempt)
			s.log.Warn("reconnecting",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay))
			if err := s.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := s.runOnce(ctx, &attempt)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			// Normal closure; the session is over.
			return nil
		case !ShouldReconnect(err):
			s.log.Info("stream closed normally", logger.Error(err))
			return nil
		default:
			attempt++
			s.log.Error("stream failed", logger.Error(err), logger.Int("attempt", attempt))
		}
	}
}

// runOnce runs a single connect-subscribe-consume cycle. attempt is reset
// once the connection proves stable.
func (s *Supervisor) runOnce(ctx context.Context, attempt *int) error {
	if err := s.stream.Connect(ctx); err != nil {
		return err
	}
	defer s.stream.Disconnect()

	if err := s.stream.Subscribe(ctx); err != nil {
		return err
	}

	connectedAt := time.Now()
	events, errs := s.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if *attempt > 0 && time.Since(connectedAt) >= stableAfter {
				*attempt = 0
			}
			s.onEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return fmt.Errorf("stream ended without error")
			}
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
