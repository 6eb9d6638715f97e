package models

import "time"

// EntryStrategy selects how a target is entered once tradable.
type EntryStrategy string

const (
	EntryMarket EntryStrategy = "market"
	EntryLimit  EntryStrategy = "limit"
)

// TargetStatus is the lifecycle state of a snipe target.
type TargetStatus string

const (
	TargetCreated  TargetStatus = "created"
	TargetExecuted TargetStatus = "executed"
	TargetFailed   TargetStatus = "failed"
)

// SnipeTarget is a persisted intent to trade a symbol once conditions are
// met. Created at most once per eligible pattern match.
type SnipeTarget struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	Symbol           string        `json:"symbol"`
	VcoinID          string        `json:"vcoinId"`
	PatternType      PatternType   `json:"patternType"`
	Confidence       float64       `json:"confidence"`
	EntryStrategy    EntryStrategy `json:"entryStrategy"`
	Priority         int           `json:"priority"`
	PositionSizeUSDT float64       `json:"positionSizeUsdt"`
	Status           TargetStatus  `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// OrderSide is the side of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// TradeParameters is the intent handed to the order executor.
type TradeParameters struct {
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Type        OrderType `json:"type"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price,omitempty"`
	TimeInForce string    `json:"timeInForce,omitempty"`
}

// TradeResult is the terminal outcome of one execution attempt chain.
// Never mutated after return.
type TradeResult struct {
	Success       bool      `json:"success"`
	OrderID       string    `json:"orderId,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	ExecutedPrice float64   `json:"executedPrice,omitempty"`
	ExecutedQty   float64   `json:"executedQty,omitempty"`
	Fees          float64   `json:"fees,omitempty"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is materialized from a successful trade. Closing is owned by a
// separate exit process.
type Position struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	EntryPrice    float64        `json:"entryPrice"`
	Quantity      float64        `json:"quantity"`
	RealizedPnL   float64        `json:"realizedPnl"`
	UnrealizedPnL float64        `json:"unrealizedPnl"`
	Status        PositionStatus `json:"status"`
	OpenedAt      time.Time      `json:"openedAt"`
}

// RiskAssessment is the per-trade gate decision. Recomputed for every
// candidate trade; never persisted as mutable state.
type RiskAssessment struct {
	RiskScore      float64   `json:"riskScore"` // 0..100
	Approved       bool      `json:"approved"`
	MaxAllowedSize float64   `json:"maxAllowedSize"`
	Reasons        []string  `json:"reasons,omitempty"`
	AssessedAt     time.Time `json:"assessedAt"`
}

// SymbolFilters are the exchange trading rules a trade must satisfy
// before any network call is made.
type SymbolFilters struct {
	Symbol      string  `json:"symbol"`
	MinQty      float64 `json:"minQty"`
	MaxQty      float64 `json:"maxQty"`
	StepSize    float64 `json:"stepSize"`
	MinPrice    float64 `json:"minPrice"`
	MaxPrice    float64 `json:"maxPrice"`
	TickSize    float64 `json:"tickSize"`
	MinNotional float64 `json:"minNotional"`
	Tradable    bool    `json:"tradable"`
}

// Balance is a single-asset account balance.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}
