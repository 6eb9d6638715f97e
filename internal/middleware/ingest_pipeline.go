// Package middleware sits between the stream transport and the market
// data manager: it validates frames, throttles chatty symbols, and
// buffers when the downstream sink stalls.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "SnipeFlow/internal/domain/repository"
)

// Sink is the downstream consumer of validated stream events.
type Sink interface {
	Consume(ctx context.Context, ev *domrepo.StreamEvent) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev *domrepo.StreamEvent) error

func (f SinkFunc) Consume(ctx context.Context, ev *domrepo.StreamEvent) error {
	return f(ctx, ev)
}

// IngestPipeline validates and throttles stream events before handing
// them to the sink. Status updates are never throttled; they are the
// scarce signal the whole system exists for. Tickers and depth frames
// are rate-limited per symbol.
type IngestPipeline struct {
	sink    Sink
	metrics domrepo.Metrics
	maxRPS  int
	bufCh   chan *domrepo.StreamEvent
	stopCh  chan struct{}

	mu       sync.Mutex
	started  bool
	lastSeen map[string]time.Time
}

// PipelineOption configures an IngestPipeline.
type PipelineOption func(*IngestPipeline)

// WithMaxRPS caps ticker/depth events per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer used when the sink errors.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufCh = make(chan *domrepo.StreamEvent, n)
		}
	}
}

// NewIngestPipeline creates a pipeline in front of sink.
func NewIngestPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   20,
		bufCh:    make(chan *domrepo.StreamEvent, 1000),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches background flushing of buffered events.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flushLoop(ctx)
}

func (p *IngestPipeline) flushLoop(ctx context.Context) {
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case ev := <-p.bufCh:
			if ev == nil {
				continue
			}
			if err := p.sink.Consume(ctx, ev); err != nil {
				if backoff < 2*time.Second {
					backoff *= 2
				}
				p.recordError("pipeline_flush")
				time.Sleep(backoff)
				select {
				case p.bufCh <- ev:
				default:
					p.recordError("pipeline_buffer_drop")
				}
			} else {
				backoff = 50 * time.Millisecond
			}
		}
	}
}

// Stop halts the background flusher.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates and forwards one event, buffering it when the sink
// errors. Throttled events are dropped, not errors.
func (p *IngestPipeline) Process(ctx context.Context, ev *domrepo.StreamEvent) error {
	start := time.Now()
	if err := validateEvent(ev); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	if sym, throttleable := throttleKey(ev); throttleable && !p.allow(sym, start) {
		p.recordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.Consume(ctx, ev); err != nil {
		p.recordError("pipeline_process")
		select {
		case p.bufCh <- ev:
		default:
			p.recordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return nil
}

func (p *IngestPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func validateEvent(ev *domrepo.StreamEvent) error {
	if ev == nil {
		return fmt.Errorf("event nil")
	}
	set := 0
	if ev.Status != nil {
		set++
		if ev.Status.Symbol == "" {
			return fmt.Errorf("status symbol empty")
		}
	}
	if ev.Ticker != nil {
		set++
		if ev.Ticker.Symbol == "" {
			return fmt.Errorf("ticker symbol empty")
		}
		if ev.Ticker.Price < 0 || ev.Ticker.Volume < 0 {
			return fmt.Errorf("negative price/volume")
		}
	}
	if ev.Depth != nil {
		set++
		if ev.Depth.Symbol == "" {
			return fmt.Errorf("depth symbol empty")
		}
	}
	if set != 1 {
		return fmt.Errorf("event must carry exactly one payload, has %d", set)
	}
	return nil
}

// throttleKey returns the per-symbol throttle key for rate-limited event
// kinds. Status updates are exempt.
func throttleKey(ev *domrepo.StreamEvent) (string, bool) {
	switch {
	case ev.Ticker != nil:
		return "t:" + ev.Ticker.Symbol, true
	case ev.Depth != nil:
		return "d:" + ev.Depth.Symbol, true
	default:
		return "", false
	}
}

func (p *IngestPipeline) allow(key string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[key]
	if last.IsZero() || now.Sub(last) >= time.Second/time.Duration(p.maxRPS) {
		p.lastSeen[key] = now
		return true
	}
	return false
}
