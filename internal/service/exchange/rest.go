package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/internal/service/ratelimit"
	"SnipeFlow/pkg/cache"
	pkghttp "SnipeFlow/pkg/http"
	"SnipeFlow/pkg/logger"
)

// REST rate-limit bucket: burst of 20, refilling 10 requests per second.
const (
	restBucketKey      = "exchange_rest"
	restBucketCapacity = 20
	restBucketRefill   = 10
)

// filtersTTL bounds how stale a cached symbol-filter set may get.
const filtersTTL = 5 * time.Minute

// RESTConfig configures the signed REST client.
type RESTConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// RESTClient implements ExchangeClient against the exchange HTTP API.
// Symbol filters are cached; everything else hits the API directly.
type RESTClient struct {
	cfg     RESTConfig
	http    *pkghttp.Client
	limiter *ratelimit.Limiter
	log     *logger.Logger
	filters *cache.Keyed[*models.SymbolFilters]
}

// NewRESTClient creates a REST client.
func NewRESTClient(cfg RESTConfig, limiter *ratelimit.Limiter, log *logger.Logger) *RESTClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RESTClient{
		cfg:     cfg,
		http:    pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout)),
		limiter: limiter,
		log:     log,
		filters: cache.NewKeyed[*models.SymbolFilters](cache.WithMaxSize(500), cache.WithTTL(filtersTTL)),
	}
}

func (c *RESTClient) allow() error {
	if c.limiter == nil {
		return nil
	}
	if !c.limiter.Allow(restBucketKey, restBucketCapacity, restBucketRefill) {
		return &models.ConnectivityError{Op: "rate limit", Err: fmt.Errorf("request budget exceeded")}
	}
	return nil
}

type balanceEntry struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountResponse struct {
	Balances []balanceEntry `json:"balances"`
}

// GetBalance fetches the account balance for one asset.
func (c *RESTClient) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	if err := c.allow(); err != nil {
		return nil, err
	}

	var resp accountResponse
	if err := c.signedGet(ctx, "/api/v3/account", url.Values{}, &resp); err != nil {
		return nil, &models.ConnectivityError{Op: "get account", Err: err}
	}
	for _, b := range resp.Balances {
		if b.Asset != asset {
			continue
		}
		return &models.Balance{
			Asset:  b.Asset,
			Free:   parseFloat(b.Free),
			Locked: parseFloat(b.Locked),
		}, nil
	}
	return &models.Balance{Asset: asset}, nil
}

type symbolInfo struct {
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
	Filters []struct {
		FilterType  string `json:"filterType"`
		MinQty      string `json:"minQty"`
		MaxQty      string `json:"maxQty"`
		StepSize    string `json:"stepSize"`
		MinPrice    string `json:"minPrice"`
		MaxPrice    string `json:"maxPrice"`
		TickSize    string `json:"tickSize"`
		MinNotional string `json:"minNotional"`
	} `json:"filters"`
}

type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

// GetSymbolFilters fetches the trading rules for symbol, served from the
// cache when fresh.
func (c *RESTClient) GetSymbolFilters(ctx context.Context, symbol string) (*models.SymbolFilters, error) {
	if f, ok := c.filters.Get(symbol); ok {
		return f, nil
	}
	if err := c.allow(); err != nil {
		return nil, err
	}

	var resp exchangeInfoResponse
	q := url.Values{}
	q.Set("symbol", symbol)
	if err := c.get(ctx, "/api/v3/exchangeInfo", q, &resp); err != nil {
		return nil, &models.ConnectivityError{Op: "get exchange info", Err: err}
	}
	for i := range resp.Symbols {
		if resp.Symbols[i].Symbol != symbol {
			continue
		}
		f := filtersFromInfo(&resp.Symbols[i])
		c.filters.Put(symbol, f)
		return f, nil
	}
	return nil, fmt.Errorf("symbol %s not listed", symbol)
}

func filtersFromInfo(info *symbolInfo) *models.SymbolFilters {
	f := &models.SymbolFilters{
		Symbol:   info.Symbol,
		Tradable: info.Status == "TRADING" || info.Status == "ENABLED",
	}
	for _, flt := range info.Filters {
		switch flt.FilterType {
		case "LOT_SIZE":
			f.MinQty = parseFloat(flt.MinQty)
			f.MaxQty = parseFloat(flt.MaxQty)
			f.StepSize = parseFloat(flt.StepSize)
		case "PRICE_FILTER":
			f.MinPrice = parseFloat(flt.MinPrice)
			f.MaxPrice = parseFloat(flt.MaxPrice)
			f.TickSize = parseFloat(flt.TickSize)
		case "MIN_NOTIONAL":
			f.MinNotional = parseFloat(flt.MinNotional)
		}
	}
	return f
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetTickerPrice fetches the last traded price for symbol.
func (c *RESTClient) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.allow(); err != nil {
		return 0, err
	}

	var resp tickerPriceResponse
	q := url.Values{}
	q.Set("symbol", symbol)
	if err := c.get(ctx, "/api/v3/ticker/price", q, &resp); err != nil {
		return 0, &models.ConnectivityError{Op: "get ticker", Err: err}
	}
	return parseFloat(resp.Price), nil
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	ExecutedQty string `json:"executedQty"`
	Fills       []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	} `json:"fills"`
}

// PlaceOrder submits a signed order. The caller owns retries; a single
// call is a single attempt.
func (c *RESTClient) PlaceOrder(ctx context.Context, params *models.TradeParameters) (*models.TradeResult, error) {
	if err := c.allow(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", params.Symbol)
	q.Set("side", string(params.Side))
	q.Set("type", string(params.Type))
	q.Set("quantity", strconv.FormatFloat(params.Quantity, 'f', -1, 64))
	if params.Type == models.OrderLimit {
		q.Set("price", strconv.FormatFloat(params.Price, 'f', -1, 64))
		tif := params.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		q.Set("timeInForce", tif)
	}

	var resp orderResponse
	if err := c.signedPost(ctx, "/api/v3/order", q, &resp); err != nil {
		return nil, err
	}

	result := &models.TradeResult{
		Success:     resp.Status == "FILLED" || resp.Status == "PARTIALLY_FILLED" || resp.Status == "NEW",
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      params.Symbol,
		Side:        params.Side,
		ExecutedQty: parseFloat(resp.ExecutedQty),
		Timestamp:   time.Now(),
	}
	result.ExecutedPrice, result.Fees = fillAverages(resp)
	if result.ExecutedPrice == 0 {
		result.ExecutedPrice = parseFloat(resp.Price)
	}
	if !result.Success {
		result.Error = "order status " + resp.Status
	}
	return result, nil
}

// fillAverages derives the volume-weighted fill price and total fees.
func fillAverages(resp orderResponse) (price, fees float64) {
	var qty, notional float64
	for _, f := range resp.Fills {
		p := parseFloat(f.Price)
		v := parseFloat(f.Qty)
		qty += v
		notional += p * v
		fees += parseFloat(f.Commission)
	}
	if qty > 0 {
		price = notional / qty
	}
	return price, fees
}

func (c *RESTClient) get(ctx context.Context, path string, q url.Values, dest interface{}) error {
	return c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.cfg.BaseURL + path,
		QueryParams: q,
		Headers:     map[string]string{"X-API-KEY": c.cfg.APIKey},
	}, dest)
}

func (c *RESTClient) signedGet(ctx context.Context, path string, q url.Values, dest interface{}) error {
	c.signQuery(q)
	return c.get(ctx, path, q, dest)
}

func (c *RESTClient) signedPost(ctx context.Context, path string, q url.Values, dest interface{}) error {
	c.signQuery(q)
	return c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodPost,
		URL:         c.cfg.BaseURL + path,
		QueryParams: q,
		Headers:     map[string]string{"X-API-KEY": c.cfg.APIKey},
	}, dest)
}

// signQuery appends the timestamp and an HMAC-SHA256 signature over the
// encoded query, as the exchange's signed endpoints require.
func (c *RESTClient) signQuery(q url.Values) {
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("signature", Sign(c.cfg.APISecret, q.Encode()))
}

// Sign computes the hex HMAC-SHA256 of payload with the given secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

var _ domrepo.ExchangeClient = (*RESTClient)(nil)
