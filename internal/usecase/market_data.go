package usecase

import (
	"math"
	"sync"
	"time"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	domsvc "SnipeFlow/internal/domain/service"
	"SnipeFlow/pkg/bus"
	"SnipeFlow/pkg/cache"
	"SnipeFlow/pkg/logger"
)

// readyStateFixedConfidence is assigned to detections coming straight from
// the exact status triple; the signal needs no model scoring.
const readyStateFixedConfidence = 85.0

// MarketDataConfig tunes the manager's emission behavior.
type MarketDataConfig struct {
	NearReadyBar       float64       // analyzer confidence bar for near-ready emission
	PriceMoveThreshold float64       // percent move that triggers a price signal
	PriceCheckInterval time.Duration // per-symbol debounce between price signals
	RetriggerIdentical bool          // re-emit on identical consecutive status triples
	PsThreshold        float64
	QsThreshold        float64
	CaThreshold        float64
	CacheMaxSymbols    int
	CacheTTL           time.Duration
}

type priceMark struct {
	price float64
	at    time.Time
}

// MarketDataManager owns the per-symbol caches and turns raw stream
// updates into pattern events and buy signals. All caches replace values
// wholesale on write.
type MarketDataManager struct {
	cfg      MarketDataConfig
	analyzer domsvc.PatternAnalyzer
	patterns *bus.Bus[*models.PatternEvent]
	signals  *bus.Bus[*models.BuySignal]
	metrics  domrepo.Metrics
	log      *logger.Logger

	statuses *cache.Keyed[*models.SymbolStatus]
	ticks    *cache.Keyed[*models.PriceTick]
	depths   *cache.Keyed[*models.DepthUpdate]
	lastKeys *cache.Keyed[[3]int]
	marks    *cache.Keyed[priceMark]

	mu     sync.Mutex
	paused bool
}

// NewMarketDataManager creates the manager with bounded caches.
func NewMarketDataManager(
	cfg MarketDataConfig,
	analyzer domsvc.PatternAnalyzer,
	patterns *bus.Bus[*models.PatternEvent],
	signals *bus.Bus[*models.BuySignal],
	metrics domrepo.Metrics,
	log *logger.Logger,
) *MarketDataManager {
	opts := []cache.Option{cache.WithMaxSize(cfg.CacheMaxSymbols)}
	if cfg.CacheTTL > 0 {
		opts = append(opts, cache.WithTTL(cfg.CacheTTL))
	}
	return &MarketDataManager{
		cfg:      cfg,
		analyzer: analyzer,
		patterns: patterns,
		signals:  signals,
		metrics:  metrics,
		log:      log,
		statuses: cache.NewKeyed[*models.SymbolStatus](opts...),
		ticks:    cache.NewKeyed[*models.PriceTick](opts...),
		depths:   cache.NewKeyed[*models.DepthUpdate](opts...),
		lastKeys: cache.NewKeyed[[3]int](opts...),
		marks:    cache.NewKeyed[priceMark](opts...),
	}
}

// Pause suspends event emission. Caches keep absorbing updates so state
// is current when detection resumes.
func (m *MarketDataManager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume re-enables event emission.
func (m *MarketDataManager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

func (m *MarketDataManager) isPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// OnStatus caches the update and emits detection events. The exact ready
// triple produces a synchronous ready_state event plus a buy signal;
// near-ready updates go through the analyzer.
func (m *MarketDataManager) OnStatus(status *models.SymbolStatus) {
	if status == nil || status.Symbol == "" {
		return
	}
	start := time.Now()

	duplicate := false
	if prev, ok := m.lastKeys.Get(status.Symbol); ok && prev == status.StatusKey() {
		duplicate = true
	}
	m.lastKeys.Put(status.Symbol, status.StatusKey())
	m.statuses.Put(status.Symbol, status)

	if m.metrics != nil {
		m.metrics.RecordStatusUpdate(status.Symbol)
	}
	if m.isPaused() {
		return
	}
	if duplicate && !m.cfg.RetriggerIdentical {
		return
	}

	tick, _ := m.ticks.Get(status.Symbol)

	if status.IsReady() {
		m.emitReady(status, tick, start)
		return
	}
	if m.nearReady(status) {
		m.emitNearReady(status, tick, start)
	}
}

// OnTick caches the tick and signals significant price moves, debounced
// per symbol.
func (m *MarketDataManager) OnTick(tick *models.PriceTick) {
	if tick == nil || tick.Symbol == "" {
		return
	}
	m.ticks.Put(tick.Symbol, tick)
	if m.metrics != nil {
		m.metrics.RecordLastPrice(tick.Symbol, tick.Price)
	}
	if m.isPaused() {
		return
	}

	mark, ok := m.marks.Get(tick.Symbol)
	if !ok || mark.price <= 0 {
		m.marks.Put(tick.Symbol, priceMark{price: tick.Price, at: tick.Timestamp})
		return
	}
	if tick.Timestamp.Sub(mark.at) < m.cfg.PriceCheckInterval {
		return
	}
	movePct := math.Abs(tick.Price-mark.price) / mark.price * 100
	if movePct <= m.cfg.PriceMoveThreshold {
		return
	}

	m.marks.Put(tick.Symbol, priceMark{price: tick.Price, at: tick.Timestamp})
	m.signals.Publish(&models.BuySignal{
		Symbol:         tick.Symbol,
		Price:          tick.Price,
		PriceChangePct: movePct,
		Volume:         tick.Volume,
		Reason:         "price_move",
		Timestamp:      tick.Timestamp,
	})
}

// OnDepth caches the order-book snapshot.
func (m *MarketDataManager) OnDepth(depth *models.DepthUpdate) {
	if depth == nil || depth.Symbol == "" {
		return
	}
	m.depths.Put(depth.Symbol, depth)
}

// Status returns the cached status for symbol.
func (m *MarketDataManager) Status(symbol string) (*models.SymbolStatus, bool) {
	return m.statuses.Get(symbol)
}

// Tick returns the cached price tick for symbol.
func (m *MarketDataManager) Tick(symbol string) (*models.PriceTick, bool) {
	return m.ticks.Get(symbol)
}

// Depth returns the cached order book for symbol.
func (m *MarketDataManager) Depth(symbol string) (*models.DepthUpdate, bool) {
	return m.depths.Get(symbol)
}

// TrackedSymbols returns the symbols with a cached status.
func (m *MarketDataManager) TrackedSymbols() []string {
	return m.statuses.Keys()
}

// Close releases the cache cleanup goroutines.
func (m *MarketDataManager) Close() {
	m.statuses.Close()
	m.ticks.Close()
	m.depths.Close()
	m.lastKeys.Close()
	m.marks.Close()
}

func (m *MarketDataManager) emitReady(status *models.SymbolStatus, tick *models.PriceTick, start time.Time) {
	match := models.PatternMatch{
		Symbol:         status.Symbol,
		VcoinID:        status.VcoinID,
		PatternType:    models.PatternReadyState,
		Confidence:     readyStateFixedConfidence,
		Recommendation: models.RecommendImmediateAction,
		DetectedAt:     status.Timestamp,
	}
	signal := &models.BuySignal{
		Symbol:    status.Symbol,
		VcoinID:   status.VcoinID,
		Reason:    "ready_state",
		Timestamp: status.Timestamp,
	}
	if tick != nil {
		match.Price = tick.Price
		match.PriceChangePct = tick.PriceChangePct
		match.Volume = tick.Volume
		signal.Price = tick.Price
		signal.PriceChangePct = tick.PriceChangePct
		signal.Volume = tick.Volume
	}

	m.publishEvent(models.PatternReadyState, match, start)
	if !m.signals.Publish(signal) {
		m.log.Warn("buy signal dropped", logger.String("symbol", status.Symbol))
	}
	m.log.Info("ready state detected",
		logger.String("symbol", status.Symbol),
		logger.Float64("price", signal.Price))
}

func (m *MarketDataManager) emitNearReady(status *models.SymbolStatus, tick *models.PriceTick, start time.Time) {
	match := m.analyzer.Analyze(status, tick)
	if match == nil || match.Confidence <= m.cfg.NearReadyBar {
		return
	}
	m.publishEvent(match.PatternType, *match, start)
}

func (m *MarketDataManager) publishEvent(pt models.PatternType, match models.PatternMatch, start time.Time) {
	ev := &models.PatternEvent{
		PatternType: pt,
		Matches:     []models.PatternMatch{match},
		Metadata: models.EventMetadata{
			Duration:            time.Since(start),
			Source:              "status_stream",
			SymbolsAnalyzed:     1,
			AverageAdvanceHours: match.AdvanceNoticeHours,
		},
	}
	if !m.patterns.Publish(ev) {
		m.log.Warn("pattern event dropped",
			logger.String("symbol", match.Symbol),
			logger.String("pattern", string(pt)))
	}
	if m.metrics != nil {
		m.metrics.RecordPatternMatch(string(pt))
	}
}

// nearReady is the cheap pre-filter that decides whether the analyzer is
// worth invoking: partial progress on the triple, or unusual activity.
func (m *MarketDataManager) nearReady(s *models.SymbolStatus) bool {
	if s.Sts >= 1 && s.St >= 1 && s.Tt >= models.TtReady-1 {
		return true
	}
	return s.Ps > m.cfg.PsThreshold || s.Qs > m.cfg.QsThreshold || s.Ca > m.cfg.CaThreshold
}
