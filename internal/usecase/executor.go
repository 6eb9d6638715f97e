package usecase

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/logger"
	"SnipeFlow/pkg/retry"
)

// Executor is the minimal surface the trade pipeline needs; live and
// paper implementations are interchangeable.
type Executor interface {
	Execute(ctx context.Context, params *models.TradeParameters) (*models.TradeResult, error)
}

// OrderExecutor validates trades against exchange filters and executes
// them with bounded retries. Filter violations abort before the order is
// ever dispatched.
type OrderExecutor struct {
	client        domrepo.ExchangeClient
	positions     domrepo.PositionStore
	metrics       domrepo.Metrics
	log           *logger.Logger
	policy        retry.Policy
	quoteAsset    string
	deviationWarn float64 // percent
}

// NewOrderExecutor creates a live executor.
func NewOrderExecutor(
	client domrepo.ExchangeClient,
	positions domrepo.PositionStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
	maxRetries int,
	retryDelay time.Duration,
	quoteAsset string,
	deviationWarnPct float64,
) *OrderExecutor {
	return &OrderExecutor{
		client:        client,
		positions:     positions,
		metrics:       metrics,
		log:           log,
		policy:        retry.New(retry.WithMaxAttempts(maxRetries), retry.WithFixedDelay(retryDelay)),
		quoteAsset:    quoteAsset,
		deviationWarn: deviationWarnPct,
	}
}

// Execute runs the full pipeline for one trade: pre-trade checks, filter
// validation, retried execution, position materialization. A
// ValidationError is returned synchronously; exchange failures after the
// attempt budget become a TradeResult with Success=false.
func (e *OrderExecutor) Execute(ctx context.Context, params *models.TradeParameters) (*models.TradeResult, error) {
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

	snapped := SnapToFilters(params, filters)
	if snapped.Quantity != params.Quantity || snapped.Price != params.Price {
		e.log.Debug("trade parameters snapped to exchange grid",
			logger.String("symbol", params.Symbol),
			logger.Float64("quantity", snapped.Quantity),
			logger.Float64("raw_quantity", params.Quantity),
			logger.Float64("price", snapped.Price),
			logger.Float64("raw_price", params.Price))
	}
	params = snapped

	marketPrice, err := e.client.GetTickerPrice(ctx, params.Symbol)
	if err != nil {
		return nil, &models.ConnectivityError{Op: "get ticker", Err: err}
	}

	refPrice := params.Price
	if params.Type == models.OrderMarket || refPrice <= 0 {
		refPrice = marketPrice
	} else if marketPrice > 0 {
		deviation := math.Abs(refPrice-marketPrice) / marketPrice * 100
		if deviation > e.deviationWarn {
			e.log.Warn("requested price deviates from market",
				logger.String("symbol", params.Symbol),
				logger.Float64("requested", refPrice),
				logger.Float64("market", marketPrice),
				logger.Float64("deviation_pct", deviation))
		}
	}

	if err := e.checkBalance(ctx, params, refPrice); err != nil {
		return nil, err
	}
	if err := ValidateAgainstFilters(params, filters, refPrice); err != nil {
		return nil, err
	}

	result := e.executeWithRetry(ctx, params)
	if e.metrics != nil {
		e.metrics.RecordTradeResult(params.Symbol, result.Success)
	}

	if result.Success {
		pos := e.materializePosition(result)
		if err := e.positions.Create(ctx, pos); err != nil {
			// The order is already filled; losing the record is worth a
			// loud log but not a failed result.
			e.log.Error("position persist failed", logger.Error(err), logger.String("symbol", params.Symbol))
		}
	}
	return result, nil
}

func (e *OrderExecutor) executeWithRetry(ctx context.Context, params *models.TradeParameters) *models.TradeResult {
	var result *models.TradeResult
	attempts := 0
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		attempts++
		r, err := e.client.PlaceOrder(ctx, params)
		if err != nil {
			var vErr *models.ValidationError
			if errors.As(err, &vErr) {
				return retry.Permanent(err)
			}
			if e.metrics != nil {
				e.metrics.RecordError("order_attempt")
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return &models.TradeResult{
			Success:   false,
			Symbol:    params.Symbol,
			Side:      params.Side,
			Attempts:  attempts,
			Error:     err.Error(),
			Timestamp: time.Now(),
		}
	}
	result.Attempts = attempts
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return result
}

func (e *OrderExecutor) checkBalance(ctx context.Context, params *models.TradeParameters, refPrice float64) error {
	asset := e.quoteAsset
	required := params.Quantity * refPrice
	if params.Side == models.SideSell {
		asset = baseAsset(params.Symbol, e.quoteAsset)
		required = params.Quantity
	}
	bal, err := e.client.GetBalance(ctx, asset)
	if err != nil {
		return &models.ConnectivityError{Op: "get balance", Err: err}
	}
	if bal.Free < required {
		return models.NewValidationError("balance", "insufficient %s: have %.8f, need %.8f", asset, bal.Free, required)
	}
	return nil
}

func (e *OrderExecutor) materializePosition(r *models.TradeResult) *models.Position {
	return &models.Position{
		ID:         uuid.New().String(),
		Symbol:     r.Symbol,
		EntryPrice: r.ExecutedPrice,
		Quantity:   r.ExecutedQty,
		Status:     models.PositionOpen,
		OpenedAt:   r.Timestamp,
	}
}

// validateShape checks structural parameter validity before anything else.
func validateShape(params *models.TradeParameters) error {
	if params == nil {
		return models.NewValidationError("", "trade parameters are nil")
	}
	if params.Symbol == "" {
		return models.NewValidationError("symbol", "symbol is required")
	}
	if params.Side != models.SideBuy && params.Side != models.SideSell {
		return models.NewValidationError("side", "invalid side %q", params.Side)
	}
	if params.Quantity <= 0 {
		return models.NewValidationError("quantity", "quantity must be positive")
	}
	if params.Type == models.OrderLimit && params.Price <= 0 {
		return models.NewValidationError("price", "limit orders require a positive price")
	}
	return nil
}

// SnapToFilters rounds the quantity down onto the minQty + k*stepSize
// grid, and a limit price down onto the minPrice + k*tickSize grid,
// returning an adjusted copy. Sized-by-budget quantities almost never
// land on the grid naturally; snapping down keeps the notional within
// budget. Values below the filter minimum are left untouched so
// ValidateAgainstFilters reports them.
func SnapToFilters(params *models.TradeParameters, f *models.SymbolFilters) *models.TradeParameters {
	out := *params
	out.Quantity = snapDown(params.Quantity, f.MinQty, f.StepSize)
	if params.Type == models.OrderLimit {
		out.Price = snapDown(params.Price, f.MinPrice, f.TickSize)
	}
	return &out
}

// snapDown returns the largest min + k*step not exceeding value. The
// epsilon keeps values already on the grid (within float error) from
// dropping a whole step.
func snapDown(value, min, step float64) float64 {
	if step <= 0 || value < min {
		return value
	}
	k := math.Floor((value-min)/step + 1e-9)
	return min + k*step
}

// ValidateAgainstFilters checks quantity, price and notional against the
// exchange's declared trading rules. refPrice stands in for the execution
// price on market orders.
func ValidateAgainstFilters(params *models.TradeParameters, f *models.SymbolFilters, refPrice float64) error {
	if params.Quantity < f.MinQty {
		return models.NewValidationError("quantity", "%.8f below minQty %.8f", params.Quantity, f.MinQty)
	}
	if f.MaxQty > 0 && params.Quantity > f.MaxQty {
		return models.NewValidationError("quantity", "%.8f above maxQty %.8f", params.Quantity, f.MaxQty)
	}
	if !validStep(params.Quantity, f.MinQty, f.StepSize) {
		return models.NewValidationError("quantity", "%.8f is not minQty + k*stepSize (step %.8f)", params.Quantity, f.StepSize)
	}

	if params.Type == models.OrderLimit {
		if params.Price < f.MinPrice {
			return models.NewValidationError("price", "%.8f below minPrice %.8f", params.Price, f.MinPrice)
		}
		if f.MaxPrice > 0 && params.Price > f.MaxPrice {
			return models.NewValidationError("price", "%.8f above maxPrice %.8f", params.Price, f.MaxPrice)
		}
		if !validStep(params.Price, f.MinPrice, f.TickSize) {
			return models.NewValidationError("price", "%.8f is not on the %.8f tick grid", params.Price, f.TickSize)
		}
	}

	if notional := params.Quantity * refPrice; notional < f.MinNotional {
		return models.NewValidationError("notional", "%.8f below minNotional %.8f", notional, f.MinNotional)
	}
	return nil
}

// validStep reports whether value = min + k*step for some integer k >= 0,
// within floating-point tolerance.
func validStep(value, min, step float64) bool {
	if step <= 0 {
		return true
	}
	k := (value - min) / step
	if k < -1e-9 {
		return false
	}
	rounded := math.Round(k)
	return math.Abs(value-(min+rounded*step)) < step*1e-6
}

func baseAsset(symbol, quote string) string {
	if strings.HasSuffix(symbol, quote) {
		return strings.TrimSuffix(symbol, quote)
	}
	return symbol
}
