package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
)

type countingSink struct {
	mu     sync.Mutex
	events []*domrepo.StreamEvent
	err    error
}

func (s *countingSink) Consume(_ context.Context, ev *domrepo.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func tickEvent(symbol string, price float64) *domrepo.StreamEvent {
	return &domrepo.StreamEvent{Ticker: &models.PriceTick{
		Symbol:    symbol,
		Price:     price,
		Volume:    100,
		Timestamp: time.Now(),
	}}
}

func statusEvent(symbol string) *domrepo.StreamEvent {
	return &domrepo.StreamEvent{Status: &models.SymbolStatus{
		Symbol:    symbol,
		Sts:       1,
		Timestamp: time.Now(),
	}}
}

func TestRejectsMalformedEvents(t *testing.T) {
	sink := &countingSink{}
	p := NewIngestPipeline(sink, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		ev   *domrepo.StreamEvent
	}{
		{"nil event", nil},
		{"empty event", &domrepo.StreamEvent{}},
		{"two payloads", &domrepo.StreamEvent{
			Ticker: &models.PriceTick{Symbol: "AAAUSDT", Price: 1},
			Status: &models.SymbolStatus{Symbol: "AAAUSDT"},
		}},
		{"missing symbol", &domrepo.StreamEvent{Ticker: &models.PriceTick{Price: 1}}},
		{"negative price", &domrepo.StreamEvent{Ticker: &models.PriceTick{Symbol: "AAAUSDT", Price: -1}}},
	}
	for _, tc := range cases {
		if err := p.Process(ctx, tc.ev); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
	if sink.count() != 0 {
		t.Fatalf("sink must not see invalid events, saw %d", sink.count())
	}
}

func TestValidEventReachesSink(t *testing.T) {
	sink := &countingSink{}
	p := NewIngestPipeline(sink, nil)

	if err := p.Process(context.Background(), tickEvent("AAAUSDT", 1.5)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 event at sink, got %d", sink.count())
	}
}

func TestTickersThrottledPerSymbol(t *testing.T) {
	sink := &countingSink{}
	p := NewIngestPipeline(sink, nil, WithMaxRPS(1))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := p.Process(ctx, tickEvent("AAAUSDT", float64(i))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 tick through at 1 rps, got %d", sink.count())
	}

	// A different symbol has its own bucket.
	if err := p.Process(ctx, tickEvent("BBBUSDT", 1)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("second symbol should pass, got %d", sink.count())
	}
}

func TestStatusNeverThrottled(t *testing.T) {
	sink := &countingSink{}
	p := NewIngestPipeline(sink, nil, WithMaxRPS(1))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := p.Process(ctx, statusEvent("AAAUSDT")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if sink.count() != 5 {
		t.Fatalf("all status updates must pass, got %d", sink.count())
	}
}

func TestSinkFailureBuffersAndFlushes(t *testing.T) {
	sink := &countingSink{err: errors.New("downstream down")}
	p := NewIngestPipeline(sink, nil, WithBufferSize(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	if err := p.Process(ctx, statusEvent("AAAUSDT")); err == nil {
		t.Fatal("expected error while sink is down")
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("buffered event never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := NewIngestPipeline(&countingSink{}, nil)
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
