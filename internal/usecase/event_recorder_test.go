package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SnipeFlow/internal/domain/models"
	"SnipeFlow/pkg/bus"
	"SnipeFlow/pkg/logger"
)

type fakeEventStore struct {
	mu       sync.Mutex
	batches  [][]*models.PatternMatch
	trades   []*models.TradeResult
	batchErr error
}

func (s *fakeEventStore) StoreMatch(ctx context.Context, m *models.PatternMatch) error {
	return s.StoreMatchBatch(ctx, []*models.PatternMatch{m})
}

func (s *fakeEventStore) StoreMatchBatch(_ context.Context, matches []*models.PatternMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	s.batches = append(s.batches, matches)
	return nil
}

func (s *fakeEventStore) StoreTradeResult(_ context.Context, r *models.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, r)
	return nil
}

func (s *fakeEventStore) Health(context.Context) error { return nil }
func (s *fakeEventStore) Close() error                 { return nil }

func (s *fakeEventStore) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type recordingNotifier struct {
	mu       sync.Mutex
	patterns []*models.PatternEvent
	alerts   []*models.Alert
}

func (n *recordingNotifier) NotifyPattern(_ context.Context, ev *models.PatternEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.patterns = append(n.patterns, ev)
	return nil
}

func (n *recordingNotifier) NotifyEmergency(_ context.Context, a *models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) patternCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.patterns)
}

func patternEvent(symbols ...string) *models.PatternEvent {
	ev := &models.PatternEvent{PatternType: models.PatternReadyState}
	for _, s := range symbols {
		ev.Matches = append(ev.Matches, models.PatternMatch{
			Symbol:      s,
			PatternType: models.PatternReadyState,
			Confidence:  85,
			DetectedAt:  time.Now(),
		})
	}
	return ev
}

func newTestRecorder(t *testing.T, batchSize int, interval time.Duration) (*EventRecorder, *fakeEventStore, *recordingNotifier, *bus.Bus[*models.PatternEvent]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	patterns := bus.New[*models.PatternEvent](64)
	patterns.Start(ctx)

	store := &fakeEventStore{}
	notifier := &recordingNotifier{}
	r := NewEventRecorder(store, notifier, logger.Nop(), batchSize, interval)
	r.Start(ctx, patterns)
	t.Cleanup(r.Close)
	return r, store, notifier, patterns
}

func TestRecorderFlushesOnBatchSize(t *testing.T) {
	_, store, _, patterns := newTestRecorder(t, 3, time.Hour)

	patterns.Publish(patternEvent("AAAUSDT", "BBBUSDT", "CCCUSDT"))
	waitFor(t, "size-triggered flush", func() bool { return store.stored() == 3 })
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	_, store, _, patterns := newTestRecorder(t, 100, 50*time.Millisecond)

	patterns.Publish(patternEvent("AAAUSDT"))
	waitFor(t, "interval flush", func() bool { return store.stored() == 1 })
}

func TestRecorderNotifiesPerEvent(t *testing.T) {
	_, _, notifier, patterns := newTestRecorder(t, 100, time.Hour)

	patterns.Publish(patternEvent("AAAUSDT"))
	patterns.Publish(patternEvent("BBBUSDT"))
	waitFor(t, "notifications", func() bool { return notifier.patternCount() == 2 })
}

func TestRecorderCloseFlushesRemainder(t *testing.T) {
	r, store, _, patterns := newTestRecorder(t, 100, time.Hour)

	patterns.Publish(patternEvent("AAAUSDT", "BBBUSDT"))
	waitFor(t, "pending matches", func() bool { return r.Pending() == 2 })

	r.Close()
	if store.stored() != 2 {
		t.Fatalf("close must flush pending matches, stored %d", store.stored())
	}
}

func TestRecorderStoreFailureDoesNotPanic(t *testing.T) {
	r, store, _, patterns := newTestRecorder(t, 2, time.Hour)
	store.mu.Lock()
	store.batchErr = errors.New("clickhouse down")
	store.mu.Unlock()

	patterns.Publish(patternEvent("AAAUSDT", "BBBUSDT"))
	waitFor(t, "failed flush drains pending", func() bool { return r.Pending() == 0 })
	if store.stored() != 0 {
		t.Fatalf("nothing should be stored while the store errors, got %d", store.stored())
	}
}

func TestRecorderTradePassthrough(t *testing.T) {
	r, store, _, _ := newTestRecorder(t, 100, time.Hour)

	r.RecordTrade(context.Background(), &models.TradeResult{Symbol: "AAAUSDT", Success: true})
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.trades) != 1 {
		t.Fatalf("expected 1 trade stored, got %d", len(store.trades))
	}
}
