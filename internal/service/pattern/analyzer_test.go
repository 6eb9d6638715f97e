package pattern

import (
	"testing"
	"time"

	"SnipeFlow/internal/domain/models"
)

func newStatus(sts, st, tt int) *models.SymbolStatus {
	return &models.SymbolStatus{
		Symbol:    "NEWUSDT",
		VcoinID:   "NEW",
		Sts:       sts,
		St:        st,
		Tt:        tt,
		Timestamp: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeReadyState(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	m := a.Analyze(newStatus(2, 2, 4), nil)
	if m == nil {
		t.Fatal("expected match")
	}
	if m.PatternType != models.PatternReadyState {
		t.Fatalf("expected ready_state, got %s", m.PatternType)
	}
	if m.Recommendation != models.RecommendImmediateAction {
		t.Fatalf("expected immediate_action, got %s", m.Recommendation)
	}
	if m.AdvanceNoticeHours != 0 {
		t.Fatalf("expected zero advance notice, got %v", m.AdvanceNoticeHours)
	}
	if m.Confidence < 80 {
		t.Fatalf("expected high confidence, got %v", m.Confidence)
	}
}

func TestAnalyzePreReady(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	m := a.Analyze(newStatus(2, 2, 3), nil)
	if m == nil {
		t.Fatal("expected match")
	}
	if m.PatternType != models.PatternPreReady {
		t.Fatalf("expected pre_ready, got %s", m.PatternType)
	}
	if m.Recommendation != models.RecommendMonitorClosely {
		t.Fatalf("expected monitor_closely, got %s", m.Recommendation)
	}
	if m.AdvanceNoticeHours <= 0 || m.AdvanceNoticeHours > 12 {
		t.Fatalf("pre_ready notice outside (0,12]: %v", m.AdvanceNoticeHours)
	}
}

func TestAnalyzeAdvanceOpportunity(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	m := a.Analyze(newStatus(1, 1, 3), nil)
	if m == nil {
		t.Fatal("expected match")
	}
	if m.PatternType != models.PatternAdvanceOpp {
		t.Fatalf("expected advance_opportunities, got %s", m.PatternType)
	}
	if m.AdvanceNoticeHours < 1 || m.AdvanceNoticeHours > 72 {
		t.Fatalf("notice outside 1..72: %v", m.AdvanceNoticeHours)
	}
}

func TestAnalyzeFarFromReadyReturnsNil(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	if m := a.Analyze(newStatus(0, 0, 0), nil); m != nil {
		t.Fatalf("expected nil, got %+v", m)
	}
}

func TestConfidenceGrowsWithProximity(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	low := a.Analyze(newStatus(1, 1, 3), nil)
	high := a.Analyze(newStatus(2, 2, 3), nil)
	if low == nil || high == nil {
		t.Fatal("expected matches")
	}
	if high.Confidence <= low.Confidence {
		t.Fatalf("confidence not monotone: %v then %v", low.Confidence, high.Confidence)
	}
}

func TestActivityScoresConfirmSignal(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	quiet := a.Analyze(newStatus(2, 2, 3), nil)
	busy := newStatus(2, 2, 3)
	busy.Ps, busy.Qs, busy.Ca = 80, 90, 5000
	active := a.Analyze(busy, nil)
	if active.Confidence <= quiet.Confidence {
		t.Fatalf("activity scores must raise confidence: %v vs %v", quiet.Confidence, active.Confidence)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	s := newStatus(2, 2, 3)
	tick := &models.PriceTick{Symbol: "NEWUSDT", Price: 1.0, PriceChangePct: 2.5, Volume: 100}
	first := a.Analyze(s, tick)
	second := a.Analyze(s, tick)
	if *first != *second {
		t.Fatalf("non-deterministic: %+v vs %+v", first, second)
	}
}

func TestAnalyzeCarriesPriceContext(t *testing.T) {
	a := NewAnalyzer(50, 50, 1000)
	tick := &models.PriceTick{Symbol: "NEWUSDT", Price: 1.25, PriceChangePct: 3.0, Volume: 42}
	m := a.Analyze(newStatus(2, 2, 4), tick)
	if m.Price != 1.25 || m.Volume != 42 {
		t.Fatalf("price context not carried: %+v", m)
	}
}
