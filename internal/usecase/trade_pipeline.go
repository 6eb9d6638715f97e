package usecase

import (
	"context"
	"math"
	"sync"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	domsvc "SnipeFlow/internal/domain/service"
	"SnipeFlow/pkg/logger"
)

// TradePipeline turns created targets into executed trades: risk gate,
// then executor, then target status bookkeeping. It hooks into the
// bridge via HandleTarget and is the execution half the emergency
// coordinator pauses.
type TradePipeline struct {
	risk      domsvc.RiskAssessor
	executor  Executor
	targets   domrepo.TargetStore
	positions domrepo.PositionStore
	market    *MarketDataManager
	recorder  *EventRecorder
	metrics   domrepo.Metrics
	log       *logger.Logger

	mu     sync.Mutex
	paused bool
}

// NewTradePipeline creates the execution pipeline. recorder may be nil
// when no event store is configured.
func NewTradePipeline(
	risk domsvc.RiskAssessor,
	executor Executor,
	targets domrepo.TargetStore,
	positions domrepo.PositionStore,
	market *MarketDataManager,
	recorder *EventRecorder,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *TradePipeline {
	return &TradePipeline{
		risk:      risk,
		executor:  executor,
		targets:   targets,
		positions: positions,
		market:    market,
		recorder:  recorder,
		metrics:   metrics,
		log:       log,
	}
}

// Pause stops target execution; targets keep arriving and stay created.
func (p *TradePipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.log.Warn("trade pipeline paused")
}

// Resume re-enables target execution.
func (p *TradePipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.log.Info("trade pipeline resumed")
}

func (p *TradePipeline) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// HandleTarget runs one target through risk and execution. A rejection
// or failed execution marks the target failed; it is never retried.
func (p *TradePipeline) HandleTarget(target *models.SnipeTarget) {
	ctx := context.Background()
	if p.isPaused() {
		p.log.Info("target held, pipeline paused", logger.String("symbol", target.Symbol))
		return
	}

	tick, ok := p.market.Tick(target.Symbol)
	if !ok || tick.Price <= 0 {
		p.log.Warn("target without price context",
			logger.String("symbol", target.Symbol),
			logger.String("target", target.ID))
		p.fail(ctx, target)
		return
	}

	portfolio := p.portfolioValue(ctx)
	assessment := p.risk.Assess(target.PositionSizeUSDT, portfolio, p.conditions(target.Symbol, tick))
	if !assessment.Approved {
		p.log.Warn("target rejected by risk gate",
			logger.String("symbol", target.Symbol),
			logger.Float64("score", assessment.RiskScore),
			logger.Strings("reasons", assessment.Reasons))
		p.fail(ctx, target)
		return
	}

	params := buildTradeParameters(target, tick.Price)
	result, err := p.executor.Execute(ctx, params)
	if err != nil {
		p.log.Error("execution aborted", logger.Error(err), logger.String("symbol", target.Symbol))
		p.fail(ctx, target)
		return
	}
	if p.recorder != nil {
		p.recorder.RecordTrade(ctx, result)
	}

	status := models.TargetExecuted
	if !result.Success {
		status = models.TargetFailed
	}
	if err := p.targets.UpdateStatus(ctx, target.ID, status); err != nil {
		p.log.Warn("target status update failed", logger.Error(err), logger.String("target", target.ID))
	}
	p.log.Info("target processed",
		logger.String("symbol", target.Symbol),
		logger.String("status", string(status)),
		logger.Int("attempts", result.Attempts))
}

func (p *TradePipeline) fail(ctx context.Context, target *models.SnipeTarget) {
	if err := p.targets.UpdateStatus(ctx, target.ID, models.TargetFailed); err != nil {
		p.log.Warn("target status update failed", logger.Error(err), logger.String("target", target.ID))
	}
	if p.metrics != nil {
		p.metrics.RecordTargetFailed(string(target.PatternType))
	}
}

// portfolioValue sums open position notionals at entry.
func (p *TradePipeline) portfolioValue(ctx context.Context) float64 {
	open, err := p.positions.ListOpen(ctx)
	if err != nil {
		p.log.Warn("open positions unavailable, assuming empty portfolio", logger.Error(err))
		return 0
	}
	total := 0.0
	for _, pos := range open {
		total += pos.EntryPrice * pos.Quantity
	}
	return total
}

// conditions derives coarse market conditions from cached market data.
// A fresh listing has no history, so these stay deliberately rough.
func (p *TradePipeline) conditions(symbol string, tick *models.PriceTick) *domsvc.MarketConditions {
	cond := &domsvc.MarketConditions{
		Symbol:     symbol,
		Volatility: math.Min(math.Abs(tick.PriceChangePct)/100, 2),
		Liquidity:  0.5,
	}
	if depth, ok := p.market.Depth(symbol); ok {
		cond.Liquidity = bookLiquidity(depth)
	}
	return cond
}

// bookLiquidity maps visible depth to 0..1. Ten units of quote-side
// notional per side is treated as a full book for a new listing.
func bookLiquidity(depth *models.DepthUpdate) float64 {
	notional := 0.0
	for _, lvl := range depth.Bids {
		notional += lvl.Price * lvl.Quantity
	}
	for _, lvl := range depth.Asks {
		notional += lvl.Price * lvl.Quantity
	}
	return math.Min(notional/10000, 1)
}

// buildTradeParameters converts a target into an executable order using
// the latest cached price.
func buildTradeParameters(target *models.SnipeTarget, price float64) *models.TradeParameters {
	params := &models.TradeParameters{
		Symbol:   target.Symbol,
		Side:     models.SideBuy,
		Quantity: target.PositionSizeUSDT / price,
	}
	if target.EntryStrategy == models.EntryMarket {
		params.Type = models.OrderMarket
	} else {
		params.Type = models.OrderLimit
		params.Price = price
		params.TimeInForce = "GTC"
	}
	return params
}

var _ Pipeline = (*TradePipeline)(nil)
