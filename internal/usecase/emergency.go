package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/logger"
)

var (
	ErrUnknownProtocol    = errors.New("unknown emergency protocol")
	ErrTooManyEmergencies = errors.New("concurrent emergency limit reached")
	ErrSessionNotFound    = errors.New("emergency session not found")
	ErrSessionNotActive   = errors.New("emergency session is not active")
	ErrVerifierRequired   = errors.New("resolution requires a verifier")
)

// Pipeline is a pausable stage of the detection-to-execution flow.
type Pipeline interface {
	Pause()
	Resume()
}

// EmergencyCoordinator owns protocol activation and the session lifecycle.
// Protocols are read-only after construction; sessions are the only
// mutable state.
type EmergencyCoordinator struct {
	protocols     map[string]*models.EmergencyProtocol
	maxConcurrent int
	autoRecovery  bool
	notifier      domrepo.Notifier
	targets       domrepo.TargetStore
	metrics       domrepo.Metrics
	log           *logger.Logger
	detection     Pipeline
	execution     Pipeline

	mu         sync.Mutex
	sessions   map[string]*models.EmergencySession
	recoverFns []func() error
}

// NewEmergencyCoordinator creates a coordinator over the configured
// protocols. detection and execution may be nil when a stage is absent.
func NewEmergencyCoordinator(
	protocols []models.EmergencyProtocol,
	maxConcurrent int,
	autoRecovery bool,
	notifier domrepo.Notifier,
	targets domrepo.TargetStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
	detection Pipeline,
	execution Pipeline,
) *EmergencyCoordinator {
	byID := make(map[string]*models.EmergencyProtocol, len(protocols))
	for i := range protocols {
		byID[protocols[i].ID] = &protocols[i]
	}
	return &EmergencyCoordinator{
		protocols:     byID,
		maxConcurrent: maxConcurrent,
		autoRecovery:  autoRecovery,
		notifier:      notifier,
		targets:       targets,
		metrics:       metrics,
		log:           log,
		detection:     detection,
		execution:     execution,
		sessions:      make(map[string]*models.EmergencySession),
	}
}

// RegisterRecovery adds a component recovery callback run during
// automatic resolution.
func (c *EmergencyCoordinator) RegisterRecovery(fn func() error) {
	c.mu.Lock()
	c.recoverFns = append(c.recoverFns, fn)
	c.mu.Unlock()
}

// ActivateProtocol starts a session for protocolID and applies its
// actions in order. Rejected when the protocol is unknown or the
// concurrent-session cap is already reached.
func (c *EmergencyCoordinator) ActivateProtocol(ctx context.Context, protocolID, triggeredBy, reason string) (*models.EmergencySession, error) {
	proto, ok := c.protocols[protocolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, protocolID)
	}

	c.mu.Lock()
	if c.activeCountLocked() >= c.maxConcurrent {
		c.mu.Unlock()
		return nil, ErrTooManyEmergencies
	}
	now := time.Now()
	session := &models.EmergencySession{
		ID:          uuid.New().String(),
		ProtocolID:  protocolID,
		Status:      models.SessionCreated,
		Severity:    proto.Priority,
		TriggeredBy: triggeredBy,
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.sessions[session.ID] = session
	c.mu.Unlock()

	c.log.Warn("emergency protocol activated",
		logger.String("protocol", protocolID),
		logger.String("session", session.ID),
		logger.String("triggered_by", triggeredBy),
		logger.String("reason", reason))
	if c.metrics != nil {
		c.metrics.RecordEmergency("activated")
	}

	c.applyActions(ctx, proto, session)
	return session, nil
}

func (c *EmergencyCoordinator) applyActions(ctx context.Context, proto *models.EmergencyProtocol, session *models.EmergencySession) {
	for _, action := range proto.Actions {
		switch action {
		case models.ActionPauseDetection:
			if c.detection != nil {
				c.detection.Pause()
			}
		case models.ActionPauseExecution:
			if c.execution != nil {
				c.execution.Pause()
			}
		case models.ActionCancelTargets:
			c.cancelOpenTargets(ctx)
		case models.ActionNotifyOperators:
			c.notify(ctx, session, "emergency protocol activated: "+session.Reason)
		default:
			c.log.Error("unknown protocol action", logger.String("action", string(action)))
		}
	}
}

func (c *EmergencyCoordinator) cancelOpenTargets(ctx context.Context) {
	open, err := c.targets.ListByStatus(ctx, models.TargetCreated)
	if err != nil {
		c.log.Error("listing open targets failed", logger.Error(err))
		return
	}
	for _, t := range open {
		if err := c.targets.UpdateStatus(ctx, t.ID, models.TargetFailed); err != nil {
			c.log.Error("target cancel failed", logger.Error(err), logger.String("target", t.ID))
		}
	}
	c.log.Warn("open targets cancelled", logger.Int("count", len(open)))
}

func (c *EmergencyCoordinator) notify(ctx context.Context, session *models.EmergencySession, msg string) {
	if c.notifier == nil {
		return
	}
	alert := &models.Alert{
		Kind:      "emergency",
		Severity:  fmt.Sprintf("%d", session.Severity),
		SessionID: session.ID,
		Message:   msg,
		Timestamp: time.Now(),
	}
	if err := c.notifier.NotifyEmergency(ctx, alert); err != nil {
		c.log.Error("emergency notification failed", logger.Error(err))
	}
}

// Escalate raises a session's severity and re-notifies operators.
func (c *EmergencyCoordinator) Escalate(ctx context.Context, sessionID, escalatedBy, reason string) error {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	if !session.Active() {
		c.mu.Unlock()
		return ErrSessionNotActive
	}
	session.Severity++
	session.Status = models.SessionEscalated
	session.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.log.Warn("emergency escalated",
		logger.String("session", sessionID),
		logger.String("escalated_by", escalatedBy),
		logger.Int("severity", session.Severity))
	if c.metrics != nil {
		c.metrics.RecordEmergency("escalated")
	}
	c.notify(ctx, session, "emergency escalated: "+reason)
	return nil
}

// Resolve closes out a session. Automatic resolution runs the registered
// recovery callbacks; a callback failure marks the session failed and
// leaves the system paused for manual intervention.
func (c *EmergencyCoordinator) Resolve(ctx context.Context, sessionID string, method models.ResolutionMethod, verifier string) error {
	if verifier == "" {
		return ErrVerifierRequired
	}

	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	if !session.Active() {
		c.mu.Unlock()
		return ErrSessionNotActive
	}
	proto := c.protocols[session.ProtocolID]
	fns := make([]func() error, len(c.recoverFns))
	copy(fns, c.recoverFns)
	c.mu.Unlock()

	if method == models.ResolutionAutomatic && c.autoRecovery && proto != nil && proto.AutoRecovery {
		for _, fn := range fns {
			if err := fn(); err != nil {
				c.failSession(ctx, session, err)
				return fmt.Errorf("recovery failed, manual intervention required: %w", err)
			}
		}
	}

	c.mu.Lock()
	now := time.Now()
	session.Status = models.SessionResolved
	session.Resolution = method
	session.ResolvedBy = verifier
	session.ResolvedAt = now
	session.UpdatedAt = now
	stillPaused := c.pausesHeldLocked()
	c.mu.Unlock()

	if !stillPaused {
		c.resumePipelines()
	}

	c.log.Info("emergency resolved",
		logger.String("session", sessionID),
		logger.String("method", string(method)),
		logger.String("verifier", verifier))
	if c.metrics != nil {
		c.metrics.RecordEmergency("resolved")
	}
	c.notify(ctx, session, "emergency resolved by "+verifier)
	return nil
}

func (c *EmergencyCoordinator) failSession(ctx context.Context, session *models.EmergencySession, cause error) {
	c.mu.Lock()
	session.Status = models.SessionFailed
	session.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.log.Error("emergency recovery failed",
		logger.String("session", session.ID),
		logger.Error(cause))
	if c.metrics != nil {
		c.metrics.RecordEmergency("failed")
	}
	c.notify(ctx, session, "recovery failed, manual intervention required")
}

// pausesHeldLocked reports whether any remaining active session's
// protocol holds a pause action. Caller holds the lock.
func (c *EmergencyCoordinator) pausesHeldLocked() bool {
	for _, s := range c.sessions {
		if !s.Active() {
			continue
		}
		proto := c.protocols[s.ProtocolID]
		if proto == nil {
			continue
		}
		for _, a := range proto.Actions {
			if a == models.ActionPauseDetection || a == models.ActionPauseExecution {
				return true
			}
		}
	}
	return false
}

func (c *EmergencyCoordinator) resumePipelines() {
	if c.detection != nil {
		c.detection.Resume()
	}
	if c.execution != nil {
		c.execution.Resume()
	}
}

// ExecuteDrill validates a protocol and the notification channel without
// creating a session or touching the pipeline.
func (c *EmergencyCoordinator) ExecuteDrill(ctx context.Context, protocolID string) *models.DrillResult {
	start := time.Now()
	result := &models.DrillResult{ProtocolID: protocolID, RanAt: start}

	proto, ok := c.protocols[protocolID]
	if !ok {
		result.Issues = append(result.Issues, "protocol not found")
		result.Duration = time.Since(start)
		return result
	}
	if len(proto.Actions) == 0 {
		result.Issues = append(result.Issues, "protocol declares no actions")
	}
	for _, a := range proto.Actions {
		switch a {
		case models.ActionPauseDetection, models.ActionPauseExecution,
			models.ActionCancelTargets, models.ActionNotifyOperators:
		default:
			result.Issues = append(result.Issues, "unknown action: "+string(a))
		}
	}

	if c.notifier != nil {
		alert := &models.Alert{
			Kind:      "emergency",
			Severity:  "drill",
			Message:   "drill for protocol " + protocolID,
			Timestamp: time.Now(),
		}
		if err := c.notifier.NotifyEmergency(ctx, alert); err != nil {
			result.Issues = append(result.Issues, "notification channel: "+err.Error())
		}
	}

	result.Success = len(result.Issues) == 0
	result.Duration = time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordEmergency("drill")
	}
	return result
}

// Session returns a session by id.
func (c *EmergencyCoordinator) Session(id string) (*models.EmergencySession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// ActiveSessions returns the sessions currently counting against the cap.
func (c *EmergencyCoordinator) ActiveSessions() []*models.EmergencySession {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.EmergencySession
	for _, s := range c.sessions {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

func (c *EmergencyCoordinator) activeCountLocked() int {
	n := 0
	for _, s := range c.sessions {
		if s.Active() {
			n++
		}
	}
	return n
}
