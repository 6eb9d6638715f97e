package models

import "time"

// Ready-state status triple. A listing is immediately tradable when the
// feed reports sts=2, st=2, tt=4.
const (
	StsReady = 2
	StReady  = 2
	TtReady  = 4
)

// SymbolStatus is the raw listing-state snapshot from the status stream.
// Ps/Qs/Ca are optional activity scores; zero means not reported.
type SymbolStatus struct {
	Symbol    string    `json:"symbol"`
	VcoinID   string    `json:"vcoinId"`
	Sts       int       `json:"sts"`
	St        int       `json:"st"`
	Tt        int       `json:"tt"`
	Ps        float64   `json:"ps,omitempty"`
	Qs        float64   `json:"qs,omitempty"`
	Ca        float64   `json:"ca,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsReady reports whether the status matches the exact ready-state triple.
func (s *SymbolStatus) IsReady() bool {
	return s.Sts == StsReady && s.St == StReady && s.Tt == TtReady
}

// StatusKey collapses the triple into a comparable value for
// duplicate-suppression of identical consecutive updates.
func (s *SymbolStatus) StatusKey() [3]int {
	return [3]int{s.Sts, s.St, s.Tt}
}

// PriceTick is the latest ticker snapshot for a symbol. The market data
// cache replaces it wholesale on every update; no field-level merging.
type PriceTick struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"close"`
	PriceChange    float64   `json:"priceChange"`
	PriceChangePct float64   `json:"priceChangePercent"`
	Volume         float64   `json:"volume"`
	QuoteVolume    float64   `json:"quoteVolume"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Open           float64   `json:"open"`
	Timestamp      time.Time `json:"timestamp"`
}

// DepthLevel is one price level of the order book.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// DepthUpdate is the latest order-book snapshot for a symbol.
type DepthUpdate struct {
	Symbol    string       `json:"symbol"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}
