package exchange

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"SnipeFlow/internal/domain/models"
	"SnipeFlow/pkg/logger"
)

func TestSignDeterministic(t *testing.T) {
	sig := Sign("secret", "symbol=NEWUSDT&timestamp=1738407600000")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if sig != Sign("secret", "symbol=NEWUSDT&timestamp=1738407600000") {
		t.Fatal("signature must be deterministic")
	}
	if sig == Sign("other", "symbol=NEWUSDT&timestamp=1738407600000") {
		t.Fatal("different secrets must produce different signatures")
	}
}

func TestFiltersFromInfo(t *testing.T) {
	info := &symbolInfo{Symbol: "NEWUSDT", Status: "TRADING"}
	info.Filters = []struct {
		FilterType  string `json:"filterType"`
		MinQty      string `json:"minQty"`
		MaxQty      string `json:"maxQty"`
		StepSize    string `json:"stepSize"`
		MinPrice    string `json:"minPrice"`
		MaxPrice    string `json:"maxPrice"`
		TickSize    string `json:"tickSize"`
		MinNotional string `json:"minNotional"`
	}{
		{FilterType: "LOT_SIZE", MinQty: "10", MaxQty: "100000", StepSize: "5"},
		{FilterType: "PRICE_FILTER", MinPrice: "0.001", MaxPrice: "1000", TickSize: "0.001"},
		{FilterType: "MIN_NOTIONAL", MinNotional: "5"},
	}

	f := filtersFromInfo(info)
	if !f.Tradable {
		t.Fatal("TRADING status must map to tradable")
	}
	if f.MinQty != 10 || f.StepSize != 5 {
		t.Fatalf("lot size wrong: %+v", f)
	}
	if f.TickSize != 0.001 || f.MinNotional != 5 {
		t.Fatalf("price/notional wrong: %+v", f)
	}

	info.Status = "BREAK"
	if filtersFromInfo(info).Tradable {
		t.Fatal("non-trading status must not be tradable")
	}
}

func TestFillAverages(t *testing.T) {
	resp := orderResponse{}
	resp.Fills = []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	}{
		{Price: "1.0", Qty: "10", Commission: "0.01"},
		{Price: "1.2", Qty: "30", Commission: "0.03"},
	}

	price, fees := fillAverages(resp)
	if math.Abs(price-1.15) > 1e-9 {
		t.Fatalf("vwap wrong: %v", price)
	}
	if math.Abs(fees-0.04) > 1e-9 {
		t.Fatalf("fees wrong: %v", fees)
	}
}

func TestGetSymbolFiltersCached(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbols":[{"symbol":"NEWUSDT","status":"TRADING","filters":[
			{"filterType":"LOT_SIZE","minQty":"1","maxQty":"1000","stepSize":"1"},
			{"filterType":"MIN_NOTIONAL","minNotional":"5"}]}]}`))
	}))
	defer srv.Close()

	c := NewRESTClient(RESTConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s"}, nil, logger.Nop())

	f, err := c.GetSymbolFilters(context.Background(), "NEWUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.MinQty != 1 || !f.Tradable {
		t.Fatalf("filters wrong: %+v", f)
	}

	if _, err := c.GetSymbolFilters(context.Background(), "NEWUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("second lookup must hit the cache, got %d requests", hits.Load())
	}
}

func TestGetTickerPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "NEWUSDT" {
			t.Errorf("symbol param missing: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"NEWUSDT","price":"1.2345"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(RESTConfig{BaseURL: srv.URL}, nil, logger.Nop())
	price, err := c.GetTickerPrice(context.Background(), "NEWUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 1.2345 {
		t.Fatalf("price wrong: %v", price)
	}
}

func TestPlaceOrderSignedAndParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("signature") == "" || q.Get("timestamp") == "" {
			t.Errorf("order request must be signed: %s", r.URL.RawQuery)
		}
		if q.Get("symbol") != "NEWUSDT" || q.Get("side") != "BUY" {
			t.Errorf("order params wrong: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orderId":42,"status":"FILLED","executedQty":"10",
			"fills":[{"price":"1.5","qty":"10","commission":"0.015"}]}`))
	}))
	defer srv.Close()

	c := NewRESTClient(RESTConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s"}, nil, logger.Nop())
	result, err := c.PlaceOrder(context.Background(), &models.TradeParameters{
		Symbol:   "NEWUSDT",
		Side:     models.SideBuy,
		Type:     models.OrderMarket,
		Quantity: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.OrderID != "42" {
		t.Fatalf("result wrong: %+v", result)
	}
	if result.ExecutedPrice != 1.5 || result.Fees != 0.015 {
		t.Fatalf("fill data wrong: %+v", result)
	}
}

func TestGetBalanceFindsAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0"},
			{"asset":"USDT","free":"1500.25","locked":"10"}]}`))
	}))
	defer srv.Close()

	c := NewRESTClient(RESTConfig{BaseURL: srv.URL, APISecret: "s"}, nil, logger.Nop())
	bal, err := c.GetBalance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Free != 1500.25 || bal.Locked != 10 {
		t.Fatalf("balance wrong: %+v", bal)
	}

	missing, err := c.GetBalance(context.Background(), "XRP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing.Free != 0 {
		t.Fatalf("unknown asset must read as zero: %+v", missing)
	}
}
