package repository

import (
	"context"

	"SnipeFlow/internal/domain/models"
)

// StreamEvent is one decoded frame from the market feed. Exactly one of
// the payload fields is set.
type StreamEvent struct {
	Ticker *models.PriceTick
	Depth  *models.DepthUpdate
	Status *models.SymbolStatus
}

// MarketStream is a resilient streaming connection to the exchange feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Send(ctx context.Context, msg interface{}) error
	Read(ctx context.Context) (<-chan *StreamEvent, <-chan error)
	Disconnect() error
	IsConnected() bool
}

// ExchangeClient is the REST surface of the exchange.
type ExchangeClient interface {
	GetBalance(ctx context.Context, asset string) (*models.Balance, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*models.SymbolFilters, error)
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, params *models.TradeParameters) (*models.TradeResult, error)
}

// TargetStore persists snipe targets as a keyed CRUD service. Schema is
// owned by the external collaborator.
type TargetStore interface {
	Create(ctx context.Context, target *models.SnipeTarget) error
	Get(ctx context.Context, id string) (*models.SnipeTarget, error)
	UpdateStatus(ctx context.Context, id string, status models.TargetStatus) error
	ListByStatus(ctx context.Context, status models.TargetStatus) ([]*models.SnipeTarget, error)
}

// PositionStore persists materialized positions.
type PositionStore interface {
	Create(ctx context.Context, pos *models.Position) error
	Get(ctx context.Context, id string) (*models.Position, error)
	ListOpen(ctx context.Context) ([]*models.Position, error)
}

// EventStore records pattern matches and trade results for offline review.
type EventStore interface {
	StoreMatch(ctx context.Context, m *models.PatternMatch) error
	StoreMatchBatch(ctx context.Context, matches []*models.PatternMatch) error
	StoreTradeResult(ctx context.Context, r *models.TradeResult) error
	Health(ctx context.Context) error
	Close() error
}

// Notifier publishes structured alerts to the external channel.
type Notifier interface {
	NotifyPattern(ctx context.Context, ev *models.PatternEvent) error
	NotifyEmergency(ctx context.Context, alert *models.Alert) error
	Close() error
}

// Metrics records domain-level observability counters.
type Metrics interface {
	RecordStatusUpdate(symbol string)
	RecordPatternMatch(patternType string)
	RecordTargetCreated(patternType string)
	RecordTargetFailed(patternType string)
	RecordTradeResult(symbol string, success bool)
	RecordRiskRejection(reason string)
	RecordEmergency(event string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
