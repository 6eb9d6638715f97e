package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/bus"
	"SnipeFlow/pkg/logger"
)

// Eligibility thresholds per pattern type.
const (
	readyStateMinConfidence = 85.0
	advanceMinConfidence    = 70.0
	preReadyMinConfidence   = 60.0

	advanceMinNoticeHours  = 1.0
	advanceMaxNoticeHours  = 72.0
	preReadyMaxNoticeHours = 12.0

	statsWindow = 50
)

// BridgeStats is a snapshot of bridge throughput counters.
type BridgeStats struct {
	EventsProcessed int64                        `json:"eventsProcessed"`
	TargetsCreated  int64                        `json:"targetsCreated"`
	TargetsFailed   int64                        `json:"targetsFailed"`
	ByPattern       map[models.PatternType]int64 `json:"byPattern"`
	AvgProcessingMs float64                      `json:"avgProcessingMs"`
}

// Bridge converts eligible pattern events into persisted snipe targets.
// One bridge serves one user at a time; StartListening is idempotent.
type Bridge struct {
	events      *bus.Bus[*models.PatternEvent]
	targets     domrepo.TargetStore
	metrics     domrepo.Metrics
	log         *logger.Logger
	defaultSize float64

	// onTarget, when set, receives every successfully created target.
	// The trade pipeline hooks in here.
	onTarget func(*models.SnipeTarget)

	mu        sync.Mutex
	listening bool
	paused    bool
	userID    string
	unsub     func()

	statsMu   sync.Mutex
	processed int64
	created   int64
	failed    int64
	byPattern map[models.PatternType]int64
	samples   []float64 // processing times in ms, ring of statsWindow
	sampleAt  int
}

// NewBridge creates a bridge over the given pattern-event bus.
func NewBridge(
	events *bus.Bus[*models.PatternEvent],
	targets domrepo.TargetStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
	defaultSizeUSDT float64,
) *Bridge {
	return &Bridge{
		events:      events,
		targets:     targets,
		metrics:     metrics,
		log:         log,
		defaultSize: defaultSizeUSDT,
		byPattern:   make(map[models.PatternType]int64),
	}
}

// OnTarget registers the downstream consumer for created targets. Must be
// called before StartListening.
func (b *Bridge) OnTarget(fn func(*models.SnipeTarget)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTarget = fn
}

// StartListening subscribes to the pattern-event bus on behalf of userID.
// Calling it again while listening is a no-op.
func (b *Bridge) StartListening(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening {
		return
	}
	b.listening = true
	b.userID = userID
	b.unsub = b.events.Subscribe(b.handleEvent)
	b.log.Info("bridge listening", logger.String("user_id", userID))
}

// StopListening detaches from the bus. Safe to call when not listening.
func (b *Bridge) StopListening() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.listening {
		return
	}
	b.listening = false
	b.unsub()
	b.unsub = nil
	b.log.Info("bridge stopped", logger.String("user_id", b.userID))
}

// Pause suspends target creation without detaching from the bus. Events
// arriving while paused are counted but produce no targets.
func (b *Bridge) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// Resume re-enables target creation.
func (b *Bridge) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
}

// handleEvent runs on the bus dispatch goroutine. A panic anywhere in the
// batch is attributed to every candidate and never propagated.
func (b *Bridge) handleEvent(ev *models.PatternEvent) {
	start := time.Now()

	b.mu.Lock()
	paused := b.paused
	userID := b.userID
	onTarget := b.onTarget
	b.mu.Unlock()

	if ev == nil {
		return
	}

	var candidates []*models.SnipeTarget
	for i := range ev.Matches {
		m := &ev.Matches[i]
		if !Eligible(m) {
			continue
		}
		candidates = append(candidates, b.buildTarget(userID, m))
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bridge batch panicked", logger.Any("panic", r))
			b.recordBatch(ev, candidates, len(candidates), start)
		}
	}()

	if paused {
		b.recordBatch(ev, nil, 0, start)
		return
	}

	failures := 0
	for _, t := range candidates {
		if err := b.targets.Create(context.Background(), t); err != nil {
			failures++
			b.log.Error("target create failed",
				logger.Error(err),
				logger.String("symbol", t.Symbol),
				logger.String("pattern", string(t.PatternType)))
			if b.metrics != nil {
				b.metrics.RecordTargetFailed(string(t.PatternType))
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.RecordTargetCreated(string(t.PatternType))
		}
		if onTarget != nil {
			onTarget(t)
		}
	}
	b.recordBatch(ev, candidates, failures, start)
}

func (b *Bridge) buildTarget(userID string, m *models.PatternMatch) *models.SnipeTarget {
	now := time.Now()
	t := &models.SnipeTarget{
		ID:               uuid.New().String(),
		UserID:           userID,
		Symbol:           m.Symbol,
		VcoinID:          m.VcoinID,
		PatternType:      m.PatternType,
		Confidence:       m.Confidence,
		PositionSizeUSDT: b.defaultSize,
		Status:           models.TargetCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	switch m.PatternType {
	case models.PatternReadyState:
		t.EntryStrategy = models.EntryMarket
		t.Priority = 1
	case models.PatternPreReady:
		t.EntryStrategy = models.EntryLimit
		t.Priority = 2
	default:
		t.EntryStrategy = models.EntryLimit
		t.Priority = 3
	}
	return t
}

func (b *Bridge) recordBatch(ev *models.PatternEvent, candidates []*models.SnipeTarget, failures int, start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	b.processed++
	if ev != nil {
		b.byPattern[ev.PatternType]++
	}
	b.created += int64(len(candidates) - failures)
	b.failed += int64(failures)

	if len(b.samples) < statsWindow {
		b.samples = append(b.samples, elapsed)
	} else {
		b.samples[b.sampleAt] = elapsed
		b.sampleAt = (b.sampleAt + 1) % statsWindow
	}
}

// Stats returns a snapshot of the bridge counters. The average processing
// time covers the most recent window of events.
func (b *Bridge) Stats() BridgeStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	byPattern := make(map[models.PatternType]int64, len(b.byPattern))
	for k, v := range b.byPattern {
		byPattern[k] = v
	}

	var avg float64
	if len(b.samples) > 0 {
		var sum float64
		for _, s := range b.samples {
			sum += s
		}
		avg = sum / float64(len(b.samples))
	}

	return BridgeStats{
		EventsProcessed: b.processed,
		TargetsCreated:  b.created,
		TargetsFailed:   b.failed,
		ByPattern:       byPattern,
		AvgProcessingMs: avg,
	}
}

// Eligible applies the per-pattern admission rules for target creation.
func Eligible(m *models.PatternMatch) bool {
	if m == nil || m.Symbol == "" || m.VcoinID == "" {
		return false
	}
	switch m.PatternType {
	case models.PatternReadyState:
		return m.Confidence >= readyStateMinConfidence &&
			m.Recommendation == models.RecommendImmediateAction
	case models.PatternAdvanceOpp:
		return m.Confidence >= advanceMinConfidence &&
			m.AdvanceNoticeHours >= advanceMinNoticeHours &&
			m.AdvanceNoticeHours <= advanceMaxNoticeHours
	case models.PatternPreReady:
		return m.Confidence >= preReadyMinConfidence &&
			m.Recommendation == models.RecommendMonitorClosely &&
			m.AdvanceNoticeHours <= preReadyMaxNoticeHours
	default:
		return false
	}
}
