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

type fakeTargets struct {
	mu      sync.Mutex
	created []*models.SnipeTarget
	failFor map[string]error
	panicOn string
}

func (f *fakeTargets) Create(_ context.Context, t *models.SnipeTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn != "" && t.Symbol == f.panicOn {
		panic("store corrupted")
	}
	if err, ok := f.failFor[t.Symbol]; ok {
		return err
	}
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTargets) Get(_ context.Context, id string) (*models.SnipeTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.created {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeTargets) UpdateStatus(_ context.Context, id string, status models.TargetStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.created {
		if t.ID == id {
			t.Status = status
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeTargets) ListByStatus(_ context.Context, status models.TargetStatus) ([]*models.SnipeTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SnipeTarget
	for _, t := range f.created {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTargets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func readyMatch(symbol string) models.PatternMatch {
	return models.PatternMatch{
		Symbol:         symbol,
		VcoinID:        symbol[:3],
		PatternType:    models.PatternReadyState,
		Confidence:     92,
		Recommendation: models.RecommendImmediateAction,
		DetectedAt:     time.Now(),
	}
}

func newTestBridge(store *fakeTargets) *Bridge {
	b := NewBridge(bus.New[*models.PatternEvent](16), store, nil, logger.Nop(), 100)
	b.StartListening("user-1")
	return b
}

func TestEligibilityRules(t *testing.T) {
	cases := []struct {
		name  string
		match models.PatternMatch
		want  bool
	}{
		{"ready high confidence", readyMatch("NEWUSDT"), true},
		{"ready below bar", func() models.PatternMatch {
			m := readyMatch("NEWUSDT")
			m.Confidence = 84
			return m
		}(), false},
		{"ready without immediate action", func() models.PatternMatch {
			m := readyMatch("NEWUSDT")
			m.Recommendation = models.RecommendMonitorClosely
			return m
		}(), false},
		{"missing vcoin id", models.PatternMatch{
			Symbol:         "NEWUSDT",
			PatternType:    models.PatternReadyState,
			Confidence:     95,
			Recommendation: models.RecommendImmediateAction,
		}, false},
		{"advance in window", models.PatternMatch{
			Symbol:             "NEWUSDT",
			VcoinID:            "NEW",
			PatternType:        models.PatternAdvanceOpp,
			Confidence:         75,
			AdvanceNoticeHours: 24,
		}, true},
		{"advance notice too short", models.PatternMatch{
			Symbol:             "NEWUSDT",
			VcoinID:            "NEW",
			PatternType:        models.PatternAdvanceOpp,
			Confidence:         75,
			AdvanceNoticeHours: 0.5,
		}, false},
		{"advance notice too long", models.PatternMatch{
			Symbol:             "NEWUSDT",
			VcoinID:            "NEW",
			PatternType:        models.PatternAdvanceOpp,
			Confidence:         75,
			AdvanceNoticeHours: 96,
		}, false},
		{"pre ready in window", models.PatternMatch{
			Symbol:             "NEWUSDT",
			VcoinID:            "NEW",
			PatternType:        models.PatternPreReady,
			Confidence:         65,
			Recommendation:     models.RecommendMonitorClosely,
			AdvanceNoticeHours: 6,
		}, true},
		{"pre ready too far out", models.PatternMatch{
			Symbol:             "NEWUSDT",
			VcoinID:            "NEW",
			PatternType:        models.PatternPreReady,
			Confidence:         65,
			Recommendation:     models.RecommendMonitorClosely,
			AdvanceNoticeHours: 20,
		}, false},
	}
	for _, tc := range cases {
		if got := Eligible(&tc.match); got != tc.want {
			t.Fatalf("%s: Eligible = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestReadyStateMatchCreatesTarget(t *testing.T) {
	store := &fakeTargets{}
	b := newTestBridge(store)

	b.handleEvent(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT")},
	})

	if store.count() != 1 {
		t.Fatalf("expected 1 target, got %d", store.count())
	}
	tgt := store.created[0]
	if tgt.UserID != "user-1" {
		t.Fatalf("wrong user: %s", tgt.UserID)
	}
	if tgt.Priority != 1 || tgt.EntryStrategy != models.EntryMarket {
		t.Fatalf("ready targets are priority-1 market entries: %+v", tgt)
	}
	if tgt.Status != models.TargetCreated {
		t.Fatalf("fresh target must be created, got %s", tgt.Status)
	}
	if tgt.PositionSizeUSDT != 100 {
		t.Fatalf("expected default size, got %v", tgt.PositionSizeUSDT)
	}
}

func TestIneligibleMatchesSkipped(t *testing.T) {
	store := &fakeTargets{}
	b := newTestBridge(store)

	weak := readyMatch("NEWUSDT")
	weak.Confidence = 60
	b.handleEvent(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{weak},
	})

	if store.count() != 0 {
		t.Fatalf("ineligible match must not create targets, got %d", store.count())
	}
}

func TestPerItemFailureAttribution(t *testing.T) {
	store := &fakeTargets{failFor: map[string]error{"BADUSDT": errors.New("redis down")}}
	b := newTestBridge(store)

	b.handleEvent(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT"), readyMatch("BADUSDT")},
	})

	if store.count() != 1 {
		t.Fatalf("expected the healthy item to survive, got %d", store.count())
	}
	s := b.Stats()
	if s.TargetsCreated != 1 || s.TargetsFailed != 1 {
		t.Fatalf("per-item attribution wrong: %+v", s)
	}
}

func TestBatchPanicNotPropagated(t *testing.T) {
	store := &fakeTargets{panicOn: "NEWUSDT"}
	b := newTestBridge(store)

	b.handleEvent(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT"), readyMatch("ALTUSDT")},
	})

	s := b.Stats()
	if s.EventsProcessed != 1 {
		t.Fatalf("panicked batch must still be counted: %+v", s)
	}
	if s.TargetsFailed != 2 {
		t.Fatalf("panic attributes failure to all candidates: %+v", s)
	}
}

func TestStartListeningIdempotent(t *testing.T) {
	store := &fakeTargets{}
	eventBus := bus.New[*models.PatternEvent](16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventBus.Start(ctx)

	b := NewBridge(eventBus, store, nil, logger.Nop(), 100)
	b.StartListening("user-1")
	b.StartListening("user-1") // must not double-subscribe
	defer b.StopListening()

	eventBus.Publish(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT")},
	})

	deadline := time.Now().Add(2 * time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond) // allow a duplicate to show up if subscribed twice
	if store.count() != 1 {
		t.Fatalf("expected exactly 1 target, got %d", store.count())
	}
}

func TestStopListeningDetaches(t *testing.T) {
	store := &fakeTargets{}
	eventBus := bus.New[*models.PatternEvent](16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventBus.Start(ctx)

	b := NewBridge(eventBus, store, nil, logger.Nop(), 100)
	b.StartListening("user-1")
	b.StopListening()
	b.StopListening() // safe when not listening

	eventBus.Publish(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT")},
	})
	time.Sleep(50 * time.Millisecond)
	if store.count() != 0 {
		t.Fatalf("detached bridge must not create targets, got %d", store.count())
	}
}

func TestPauseSuppressesTargets(t *testing.T) {
	store := &fakeTargets{}
	b := newTestBridge(store)

	b.Pause()
	b.handleEvent(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT")},
	})
	if store.count() != 0 {
		t.Fatalf("paused bridge must not create targets, got %d", store.count())
	}

	b.Resume()
	b.handleEvent(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT")},
	})
	if store.count() != 1 {
		t.Fatalf("resumed bridge must create targets, got %d", store.count())
	}
}

func TestOnTargetCallback(t *testing.T) {
	store := &fakeTargets{}
	eventBus := bus.New[*models.PatternEvent](16)
	b := NewBridge(eventBus, store, nil, logger.Nop(), 100)

	var got []*models.SnipeTarget
	b.OnTarget(func(tgt *models.SnipeTarget) { got = append(got, tgt) })
	b.StartListening("user-1")

	b.handleEvent(&models.PatternEvent{
		PatternType: models.PatternReadyState,
		Matches:     []models.PatternMatch{readyMatch("NEWUSDT")},
	})
	if len(got) != 1 {
		t.Fatalf("expected callback for created target, got %d", len(got))
	}
}

func TestRollingStatsWindow(t *testing.T) {
	store := &fakeTargets{}
	b := newTestBridge(store)

	for i := 0; i < statsWindow+10; i++ {
		b.handleEvent(&models.PatternEvent{
			PatternType: models.PatternReadyState,
			Matches:     []models.PatternMatch{readyMatch("NEWUSDT")},
		})
	}

	s := b.Stats()
	if s.EventsProcessed != statsWindow+10 {
		t.Fatalf("expected %d events, got %d", statsWindow+10, s.EventsProcessed)
	}
	if s.AvgProcessingMs < 0 {
		t.Fatalf("negative average: %v", s.AvgProcessingMs)
	}
	if s.ByPattern[models.PatternReadyState] != statsWindow+10 {
		t.Fatalf("per-type count wrong: %+v", s.ByPattern)
	}
}
