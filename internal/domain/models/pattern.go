package models

import "time"

// PatternType classifies a detected pre-listing signature.
type PatternType string

const (
	PatternReadyState PatternType = "ready_state"
	PatternAdvanceOpp PatternType = "advance_opportunities"
	PatternPreReady   PatternType = "pre_ready"
)

// Recommendation is the analyzer's suggested follow-up for a match.
type Recommendation string

const (
	RecommendImmediateAction Recommendation = "immediate_action"
	RecommendMonitorClosely  Recommendation = "monitor_closely"
	RecommendWait            Recommendation = "wait"
)

// PatternMatch is a confidence-rated detection result. Immutable once
// emitted; downstream components must not mutate it.
type PatternMatch struct {
	Symbol             string         `json:"symbol"`
	VcoinID            string         `json:"vcoinId"`
	PatternType        PatternType    `json:"patternType"`
	Confidence         float64        `json:"confidence"` // 0..100
	Recommendation     Recommendation `json:"recommendation"`
	AdvanceNoticeHours float64        `json:"advanceNoticeHours"`
	Price              float64        `json:"price,omitempty"`
	PriceChangePct     float64        `json:"priceChangePercent,omitempty"`
	Volume             float64        `json:"volume,omitempty"`
	DetectedAt         time.Time      `json:"detectedAt"`
}

// EventMetadata describes the analysis run that produced an event.
type EventMetadata struct {
	Duration            time.Duration `json:"duration"`
	Source              string        `json:"source"`
	SymbolsAnalyzed     int           `json:"symbolsAnalyzed,omitempty"`
	AverageAdvanceHours float64       `json:"averageAdvanceHours,omitempty"`
}

// PatternEvent carries one or more matches of a single pattern type from
// the market data manager to subscribers.
type PatternEvent struct {
	PatternType PatternType    `json:"patternType"`
	Matches     []PatternMatch `json:"matches"`
	Metadata    EventMetadata  `json:"metadata"`
}

// BuySignal is derived from a ready-state detection and carries the most
// recent cached price context for the symbol.
type BuySignal struct {
	Symbol         string    `json:"symbol"`
	VcoinID        string    `json:"vcoinId"`
	Price          float64   `json:"price"`
	PriceChangePct float64   `json:"priceChangePercent"`
	Volume         float64   `json:"volume"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}
