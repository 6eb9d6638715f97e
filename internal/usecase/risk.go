package usecase

import (
	"math"
	"time"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	domsvc "SnipeFlow/internal/domain/service"
)

// Component weights. They sum to 1 so the unadjusted composite stays in
// 0..100 when every component is in 0..100.
const (
	weightPositionSize    = 0.25
	weightConcentration   = 0.15
	weightCorrelation     = 0.10
	weightMarket          = 0.20
	weightLiquidity       = 0.20
	weightPortfolioImpact = 0.10
)

// RiskEngine computes the composite risk gate for candidate trades.
// Assessments are recomputed per trade; a rejection is terminal and is
// never retried.
type RiskEngine struct {
	maxScore       float64
	perPositionCap float64
	portfolioCap   float64
	metrics        domrepo.Metrics
}

// NewRiskEngine creates a risk engine with the configured caps.
func NewRiskEngine(maxScore, perPositionCap, portfolioCap float64, metrics domrepo.Metrics) *RiskEngine {
	return &RiskEngine{
		maxScore:       maxScore,
		perPositionCap: perPositionCap,
		portfolioCap:   portfolioCap,
		metrics:        metrics,
	}
}

// Assess scores one candidate trade against portfolio state and market
// conditions. All three approval conditions are independently necessary.
func (e *RiskEngine) Assess(tradeValue, portfolioValue float64, cond *domsvc.MarketConditions) *models.RiskAssessment {
	if cond == nil {
		cond = &domsvc.MarketConditions{Liquidity: 0.5}
	}

	components := e.components(tradeValue, portfolioValue, cond)
	composite := weightPositionSize*components.positionSize +
		weightConcentration*components.concentration +
		weightCorrelation*components.correlation +
		weightMarket*components.market +
		weightLiquidity*components.liquidity +
		weightPortfolioImpact*components.portfolioImpact

	// Condition multipliers are strictly positive, so the composite stays
	// monotone in every individual component.
	composite *= volatilityMultiplier(cond.Volatility)
	composite *= liquidityMultiplier(cond.Liquidity)
	composite *= sentimentMultiplier(cond.Sentiment)
	composite = clampScore(composite)

	maxAllowed := e.maxAllowedSize(composite, portfolioValue)

	a := &models.RiskAssessment{
		RiskScore:      composite,
		MaxAllowedSize: maxAllowed,
		AssessedAt:     time.Now(),
	}

	if composite > e.maxScore {
		a.Reasons = append(a.Reasons, "risk score above threshold")
	}
	if tradeValue > maxAllowed {
		a.Reasons = append(a.Reasons, "trade value exceeds max allowed size")
	}
	if portfolioValue+tradeValue > e.portfolioCap {
		a.Reasons = append(a.Reasons, "portfolio cap exceeded")
	}
	a.Approved = len(a.Reasons) == 0

	if !a.Approved && e.metrics != nil {
		e.metrics.RecordRiskRejection(a.Reasons[0])
	}
	return a
}

type riskComponents struct {
	positionSize    float64
	concentration   float64
	correlation     float64
	market          float64
	liquidity       float64
	portfolioImpact float64
}

func (e *RiskEngine) components(tradeValue, portfolioValue float64, cond *domsvc.MarketConditions) riskComponents {
	c := riskComponents{}

	if e.perPositionCap > 0 {
		c.positionSize = clampScore(tradeValue / e.perPositionCap * 100)
	}
	if e.portfolioCap > 0 {
		c.concentration = clampScore(tradeValue / e.portfolioCap * 100)
	}
	// New listings move with the broad market; negative sentiment makes
	// that co-movement more dangerous.
	c.correlation = clampScore((0.5 + 0.5*math.Max(0, -cond.Sentiment)) * 100)
	c.market = clampScore(cond.Volatility * 100)
	c.liquidity = clampScore((1 - cond.Liquidity) * 100)
	if total := portfolioValue + tradeValue; total > 0 {
		c.portfolioImpact = clampScore(tradeValue / total * 100)
	}
	return c
}

// maxAllowedSize shrinks the per-position cap as the score rises and
// never exceeds the remaining portfolio headroom.
func (e *RiskEngine) maxAllowedSize(score, portfolioValue float64) float64 {
	sizeFactor := 1 - 0.5*score/100
	allowed := e.perPositionCap * sizeFactor
	headroom := e.portfolioCap - portfolioValue
	if headroom < 0 {
		headroom = 0
	}
	return math.Min(allowed, headroom)
}

func volatilityMultiplier(v float64) float64 {
	return 1 + 0.2*math.Max(0, math.Min(v, 2))
}

func liquidityMultiplier(l float64) float64 {
	return 1 + 0.2*(1-math.Max(0, math.Min(l, 1)))
}

func sentimentMultiplier(s float64) float64 {
	return 1 - 0.1*math.Max(-1, math.Min(s, 1))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

var _ domsvc.RiskAssessor = (*RiskEngine)(nil)
