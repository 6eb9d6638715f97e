package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/internal/middleware"
	"SnipeFlow/pkg/logger"
)

// Runner drives a supervised stream session until the context ends or
// the session is over.
type Runner interface {
	Run(ctx context.Context) error
}

// StreamCollector owns the live ingest path: it runs the stream
// supervisor, pushes decoded frames through the ingest pipeline, and
// routes validated frames into the market data manager.
type StreamCollector struct {
	runner  Runner
	pipe    *middleware.IngestPipeline
	market  *MarketDataManager
	log     *logger.Logger
	metrics domrepo.Metrics

	connected atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewStreamCollector creates a collector feeding market through its own
// ingest pipeline. The runner is attached with Bind; construction is
// split because the runner's event callback is the collector itself.
func NewStreamCollector(market *MarketDataManager, metrics domrepo.Metrics, log *logger.Logger, pipeOpts ...middleware.PipelineOption) *StreamCollector {
	c := &StreamCollector{
		market:  market,
		log:     log,
		metrics: metrics,
	}
	c.pipe = middleware.NewIngestPipeline(middleware.SinkFunc(c.route), metrics, pipeOpts...)
	return c
}

// Bind attaches the stream session runner.
func (c *StreamCollector) Bind(runner Runner) {
	c.mu.Lock()
	c.runner = runner
	c.mu.Unlock()
}

// route dispatches one validated event to the market data manager. It is
// the pipeline's sink.
func (c *StreamCollector) route(_ context.Context, ev *domrepo.StreamEvent) error {
	switch {
	case ev.Status != nil:
		c.market.OnStatus(ev.Status)
	case ev.Ticker != nil:
		c.market.OnTick(ev.Ticker)
	case ev.Depth != nil:
		c.market.OnDepth(ev.Depth)
	}
	return nil
}

// Ingest feeds one raw frame into the pipeline. Used as the runner's
// event callback.
func (c *StreamCollector) Ingest(ev *domrepo.StreamEvent) {
	if err := c.pipe.Process(context.Background(), ev); err != nil {
		c.log.Warn("frame dropped", logger.Error(err))
	}
}

// Start launches the supervised stream session in the background.
func (c *StreamCollector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.runner == nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	c.pipe.Start(runCtx)
	c.connected.Store(true)

	runner := c.runner
	go func(done chan struct{}) {
		defer close(done)
		defer c.connected.Store(false)
		if err := runner.Run(runCtx); err != nil && runCtx.Err() == nil {
			c.log.Error("stream session ended", logger.Error(err))
			if c.metrics != nil {
				c.metrics.RecordError("stream_session")
			}
		}
	}(c.stopped)
}

// IsConnected reports whether a stream session is active.
func (c *StreamCollector) IsConnected() bool {
	return c.connected.Load()
}

// Shutdown stops the session and waits for the runner to exit.
func (c *StreamCollector) Shutdown() {
	c.mu.Lock()
	cancel, done := c.cancel, c.stopped
	c.cancel = nil
	c.stopped = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.pipe.Stop()
}
