// Package pattern implements the stateless pre-listing signature analyzer.
// Analysis is a pure function of the inputs: no network, no storage, and
// identical inputs always produce identical matches.
package pattern

import (
	"math"

	"SnipeFlow/internal/domain/models"
	domsvc "SnipeFlow/internal/domain/service"
)

const (
	// Matches below this confidence are not worth reporting.
	minReportableConfidence = 30.0

	// Pre-ready estimates assume listing within half a trading day.
	preReadyNoticeHours = 6.0
)

// Analyzer scores symbol status against the canonical ready-state triple.
type Analyzer struct {
	psThreshold float64
	qsThreshold float64
	caThreshold float64
}

// NewAnalyzer creates an analyzer with the given activity-score thresholds.
func NewAnalyzer(psThreshold, qsThreshold, caThreshold float64) *Analyzer {
	return &Analyzer{
		psThreshold: psThreshold,
		qsThreshold: qsThreshold,
		caThreshold: caThreshold,
	}
}

// Analyze scores the status and optional price context. Returns nil when
// the context is too far from the ready-state signature to report.
func (a *Analyzer) Analyze(status *models.SymbolStatus, tick *models.PriceTick) *models.PatternMatch {
	if status == nil || status.Symbol == "" {
		return nil
	}

	proximity := a.proximity(status)
	confidence := 0.8*proximity + a.activityBoost(status) + momentumBoost(tick)
	if confidence > 100 {
		confidence = 100
	}
	if confidence < minReportableConfidence {
		return nil
	}

	m := &models.PatternMatch{
		Symbol:     status.Symbol,
		VcoinID:    status.VcoinID,
		Confidence: confidence,
		DetectedAt: status.Timestamp,
	}
	if tick != nil {
		m.Price = tick.Price
		m.PriceChangePct = tick.PriceChangePct
		m.Volume = tick.Volume
	}

	switch {
	case status.IsReady():
		m.PatternType = models.PatternReadyState
		m.Recommendation = models.RecommendImmediateAction
		m.AdvanceNoticeHours = 0
	case status.Sts >= models.StsReady && status.St >= models.StReady && status.Tt >= models.TtReady-1:
		m.PatternType = models.PatternPreReady
		m.Recommendation = models.RecommendMonitorClosely
		m.AdvanceNoticeHours = preReadyNoticeHours
	default:
		m.PatternType = models.PatternAdvanceOpp
		m.Recommendation = models.RecommendMonitorClosely
		m.AdvanceNoticeHours = noticeFromProximity(proximity)
	}

	return m
}

// proximity maps the status triple onto 0..100, where 100 is the exact
// ready-state signature. tt carries the largest weight since it flips last.
func (a *Analyzer) proximity(s *models.SymbolStatus) float64 {
	sts := math.Min(float64(s.Sts), models.StsReady) / models.StsReady
	st := math.Min(float64(s.St), models.StReady) / models.StReady
	tt := math.Min(float64(s.Tt), models.TtReady) / models.TtReady
	return (0.3*sts + 0.3*st + 0.4*tt) * 100
}

// activityBoost confirms the directional signal: each activity score over
// its threshold adds a fixed bump, capped at 15.
func (a *Analyzer) activityBoost(s *models.SymbolStatus) float64 {
	var boost float64
	if s.Ps > a.psThreshold {
		boost += 5
	}
	if s.Qs > a.qsThreshold {
		boost += 5
	}
	if s.Ca > a.caThreshold {
		boost += 5
	}
	return boost
}

func momentumBoost(tick *models.PriceTick) float64 {
	if tick == nil {
		return 0
	}
	var boost float64
	if tick.PriceChangePct > 0 {
		boost += 3
	}
	if tick.Volume > 0 {
		boost += 2
	}
	return boost
}

// noticeFromProximity estimates lead time: the further from ready, the
// longer the expected wait, clamped to the 1..72h window.
func noticeFromProximity(proximity float64) float64 {
	h := (100 - proximity) * 1.2
	if h < 1 {
		h = 1
	}
	if h > 72 {
		h = 72
	}
	return h
}

var _ domsvc.PatternAnalyzer = (*Analyzer)(nil)
