package service

import (
	"SnipeFlow/internal/domain/models"
)

// PatternAnalyzer scores a symbol's status and optional price context.
// Implementations must be pure: no network or storage access, and
// deterministic for identical inputs.
type PatternAnalyzer interface {
	Analyze(status *models.SymbolStatus, tick *models.PriceTick) *models.PatternMatch
}

// MarketConditions are the live inputs to a risk assessment.
type MarketConditions struct {
	Volatility float64 // annualized, 0..1+
	Liquidity  float64 // 0..1, 1 = deep book
	Sentiment  float64 // -1..1
	Symbol     string
}

// RiskAssessor gates a candidate trade against portfolio state and
// market conditions.
type RiskAssessor interface {
	Assess(tradeValue, portfolioValue float64, cond *MarketConditions) *models.RiskAssessment
}
