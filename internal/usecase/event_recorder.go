package usecase

import (
	"context"
	"sync"
	"time"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/bus"
	"SnipeFlow/pkg/logger"
)

// EventRecorder subscribes to the pattern bus and persists matches into
// the event store in batches, notifying the external channel per event.
// Recording is best-effort: storage failures are logged, never pushed
// back into the detection path.
type EventRecorder struct {
	store    domrepo.EventStore
	notifier domrepo.Notifier
	log      *logger.Logger

	batchSize int
	interval  time.Duration

	mu      sync.Mutex
	pending []*models.PatternMatch
	unsub   func()
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEventRecorder creates a recorder flushing at batchSize matches or
// every interval, whichever comes first.
func NewEventRecorder(store domrepo.EventStore, notifier domrepo.Notifier, log *logger.Logger, batchSize int, interval time.Duration) *EventRecorder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &EventRecorder{
		store:     store,
		notifier:  notifier,
		log:       log,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Start subscribes to the pattern bus and launches the flush ticker.
func (r *EventRecorder) Start(ctx context.Context, patterns *bus.Bus[*models.PatternEvent]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.unsub = patterns.Subscribe(r.onEvent)

	go r.flushLoop(runCtx)
}

func (r *EventRecorder) onEvent(ev *models.PatternEvent) {
	if r.notifier != nil {
		if err := r.notifier.NotifyPattern(context.Background(), ev); err != nil {
			r.log.Warn("pattern notify failed", logger.Error(err))
		}
	}

	r.mu.Lock()
	for i := range ev.Matches {
		m := ev.Matches[i]
		r.pending = append(r.pending, &m)
	}
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full {
		r.flush(context.Background())
	}
}

func (r *EventRecorder) flushLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final flush with a fresh context; ctx is already dead.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *EventRecorder) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := r.store.StoreMatchBatch(ctx, batch); err != nil {
		r.log.Error("match batch store failed",
			logger.Error(err),
			logger.Int("count", len(batch)))
		return
	}
	r.log.Debug("match batch stored", logger.Int("count", len(batch)))
}

// RecordTrade persists one terminal trade outcome immediately.
func (r *EventRecorder) RecordTrade(ctx context.Context, result *models.TradeResult) {
	if result == nil {
		return
	}
	if err := r.store.StoreTradeResult(ctx, result); err != nil {
		r.log.Error("trade result store failed", logger.Error(err))
	}
}

// Pending reports how many matches await the next flush.
func (r *EventRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close detaches from the bus, flushes the remainder, and stops.
func (r *EventRecorder) Close() {
	r.mu.Lock()
	unsub, cancel, done := r.unsub, r.cancel, r.done
	r.unsub = nil
	r.cancel = nil
	r.mu.Unlock()

	if unsub == nil {
		return
	}
	unsub()
	cancel()
	<-done
}
