package usecase

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/logger"
)

// paperFeeRate mirrors the exchange taker fee so simulated fills carry
// realistic costs.
const paperFeeRate = 0.001

// PaperExecutor simulates fills without touching the exchange order
// endpoint. Validation runs exactly as in the live path so dry runs catch
// the same parameter mistakes.
type PaperExecutor struct {
	client      domrepo.ExchangeClient
	positions   domrepo.PositionStore
	metrics     domrepo.Metrics
	log         *logger.Logger
	successProb float64
	slippagePct float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPaperExecutor creates a simulated executor. A nil rng falls back to a
// time-seeded source.
func NewPaperExecutor(
	client domrepo.ExchangeClient,
	positions domrepo.PositionStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
	successProb float64,
	slippagePct float64,
	rng *rand.Rand,
) *PaperExecutor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PaperExecutor{
		client:      client,
		positions:   positions,
		metrics:     metrics,
		log:         log,
		successProb: successProb,
		slippagePct: slippagePct,
		rng:         rng,
	}
}

// Execute validates the trade like the live executor, then simulates the
// fill in a single attempt. Failures are probabilistic, never retried.
func (e *PaperExecutor) Execute(ctx context.Context, params *models.TradeParameters) (*models.TradeResult, error) {
	if err := validateShape(params); err != nil {
		return nil, err
	}

	filters, err := e.client.GetSymbolFilters(ctx, params.Symbol)
	if err != nil {
		return nil, &models.ConnectivityError{Op: "get filters", Err: err}
	}
	if !filters.Tradable {
		return nil, models.NewValidationError("symbol", "%s is not currently tradable", params.Symbol)
	}
	params = SnapToFilters(params, filters)

	marketPrice, err := e.client.GetTickerPrice(ctx, params.Symbol)
	if err != nil {
		return nil, &models.ConnectivityError{Op: "get ticker", Err: err}
	}
	refPrice := params.Price
	if params.Type == models.OrderMarket || refPrice <= 0 {
		refPrice = marketPrice
	}
	if err := ValidateAgainstFilters(params, filters, refPrice); err != nil {
		return nil, err
	}

	result := &models.TradeResult{
		Symbol:    params.Symbol,
		Side:      params.Side,
		Attempts:  1,
		Timestamp: time.Now(),
	}

	if e.roll() >= e.successProb {
		result.Error = "simulated exchange rejection"
		if e.metrics != nil {
			e.metrics.RecordTradeResult(params.Symbol, false)
		}
		return result, nil
	}

	result.Success = true
	result.OrderID = "paper-" + uuid.New().String()
	result.ExecutedPrice = e.slip(refPrice, params.Side)
	result.ExecutedQty = params.Quantity
	result.Fees = result.ExecutedPrice * result.ExecutedQty * paperFeeRate

	if e.metrics != nil {
		e.metrics.RecordTradeResult(params.Symbol, true)
	}
	if e.positions != nil {
		pos := &models.Position{
			ID:         uuid.New().String(),
			Symbol:     result.Symbol,
			EntryPrice: result.ExecutedPrice,
			Quantity:   result.ExecutedQty,
			Status:     models.PositionOpen,
			OpenedAt:   result.Timestamp,
		}
		if err := e.positions.Create(ctx, pos); err != nil {
			e.log.Error("paper position persist failed", logger.Error(err), logger.String("symbol", result.Symbol))
		}
	}
	return result, nil
}

func (e *PaperExecutor) roll() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

// slip moves the fill price against the taker by up to the configured
// percentage, scaled by a random factor.
func (e *PaperExecutor) slip(price float64, side models.OrderSide) float64 {
	e.mu.Lock()
	factor := e.rng.Float64()
	e.mu.Unlock()

	adj := price * e.slippagePct / 100 * factor
	if side == models.SideSell {
		return price - adj
	}
	return price + adj
}

var _ Executor = (*PaperExecutor)(nil)
var _ Executor = (*OrderExecutor)(nil)
