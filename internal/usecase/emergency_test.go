package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"SnipeFlow/internal/domain/models"
	"SnipeFlow/pkg/logger"
)

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (f *fakeNotifier) NotifyPattern(_ context.Context, _ *models.PatternEvent) error { return f.err }

func (f *fakeNotifier) NotifyEmergency(_ context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) Close() error { return nil }

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type pausable struct {
	mu     sync.Mutex
	paused bool
}

func (p *pausable) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *pausable) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *pausable) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func testProtocols() []models.EmergencyProtocol {
	return []models.EmergencyProtocol{
		{
			ID:   "halt-all",
			Name: "Halt detection and execution",
			Actions: []models.EmergencyAction{
				models.ActionPauseDetection,
				models.ActionPauseExecution,
				models.ActionCancelTargets,
				models.ActionNotifyOperators,
			},
			Priority:     3,
			AutoRecovery: true,
		},
		{
			ID:       "notify-only",
			Name:     "Page the operators",
			Actions:  []models.EmergencyAction{models.ActionNotifyOperators},
			Priority: 1,
		},
	}
}

type coordinatorFixture struct {
	coord     *EmergencyCoordinator
	notifier  *fakeNotifier
	targets   *fakeTargets
	detection *pausable
	execution *pausable
}

func newCoordinator(maxConcurrent int, autoRecovery bool) *coordinatorFixture {
	f := &coordinatorFixture{
		notifier:  &fakeNotifier{},
		targets:   &fakeTargets{},
		detection: &pausable{},
		execution: &pausable{},
	}
	f.coord = NewEmergencyCoordinator(
		testProtocols(), maxConcurrent, autoRecovery,
		f.notifier, f.targets, nil, logger.Nop(),
		f.detection, f.execution,
	)
	return f
}

func TestActivateUnknownProtocol(t *testing.T) {
	f := newCoordinator(3, false)
	_, err := f.coord.ActivateProtocol(context.Background(), "no-such", "watchdog", "test")
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
}

func TestActivateAppliesActionsInOrder(t *testing.T) {
	f := newCoordinator(3, false)
	f.targets.created = []*models.SnipeTarget{
		{ID: "t1", Symbol: "NEWUSDT", Status: models.TargetCreated},
		{ID: "t2", Symbol: "ALTUSDT", Status: models.TargetCreated},
	}

	session, err := f.coord.ActivateProtocol(context.Background(), "halt-all", "watchdog", "stream flood")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status != models.SessionCreated {
		t.Fatalf("fresh session must be created, got %s", session.Status)
	}
	if session.Severity != 3 {
		t.Fatalf("severity must come from protocol priority, got %d", session.Severity)
	}
	if !f.detection.isPaused() || !f.execution.isPaused() {
		t.Fatal("both pipeline stages must be paused")
	}
	for _, tgt := range f.targets.created {
		if tgt.Status != models.TargetFailed {
			t.Fatalf("open target %s not cancelled: %s", tgt.ID, tgt.Status)
		}
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected one operator notification, got %d", f.notifier.count())
	}
}

func TestConcurrentSessionCap(t *testing.T) {
	f := newCoordinator(1, false)
	ctx := context.Background()

	first, err := f.coord.ActivateProtocol(ctx, "notify-only", "watchdog", "one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.coord.ActivateProtocol(ctx, "notify-only", "watchdog", "two"); !errors.Is(err, ErrTooManyEmergencies) {
		t.Fatalf("expected ErrTooManyEmergencies, got %v", err)
	}

	if err := f.coord.Resolve(ctx, first.ID, models.ResolutionManual, "operator"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := f.coord.ActivateProtocol(ctx, "notify-only", "watchdog", "three"); err != nil {
		t.Fatalf("slot must free up after resolution: %v", err)
	}
}

func TestEscalateRaisesSeverity(t *testing.T) {
	f := newCoordinator(3, false)
	ctx := context.Background()

	session, _ := f.coord.ActivateProtocol(ctx, "notify-only", "watchdog", "odd prints")
	if err := f.coord.Escalate(ctx, session.ID, "operator", "getting worse"); err != nil {
		t.Fatalf("escalate failed: %v", err)
	}

	got, _ := f.coord.Session(session.ID)
	if got.Status != models.SessionEscalated {
		t.Fatalf("expected escalated, got %s", got.Status)
	}
	if got.Severity != 2 {
		t.Fatalf("expected severity 2, got %d", got.Severity)
	}

	if err := f.coord.Escalate(ctx, "no-such", "operator", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestResolveRequiresVerifier(t *testing.T) {
	f := newCoordinator(3, false)
	ctx := context.Background()
	session, _ := f.coord.ActivateProtocol(ctx, "notify-only", "watchdog", "x")

	if err := f.coord.Resolve(ctx, session.ID, models.ResolutionManual, ""); !errors.Is(err, ErrVerifierRequired) {
		t.Fatalf("expected ErrVerifierRequired, got %v", err)
	}
	if err := f.coord.Resolve(ctx, session.ID, models.ResolutionManual, "operator"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	got, _ := f.coord.Session(session.ID)
	if got.Status != models.SessionResolved || got.ResolvedBy != "operator" {
		t.Fatalf("resolution not recorded: %+v", got)
	}
	if err := f.coord.Resolve(ctx, session.ID, models.ResolutionManual, "operator"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("double resolution must fail, got %v", err)
	}
}

func TestAutomaticResolutionRunsRecovery(t *testing.T) {
	f := newCoordinator(3, true)
	ctx := context.Background()

	recovered := false
	f.coord.RegisterRecovery(func() error {
		recovered = true
		return nil
	})

	session, _ := f.coord.ActivateProtocol(ctx, "halt-all", "watchdog", "x")
	if err := f.coord.Resolve(ctx, session.ID, models.ResolutionAutomatic, "watchdog"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !recovered {
		t.Fatal("recovery callback must run on automatic resolution")
	}
	if f.detection.isPaused() || f.execution.isPaused() {
		t.Fatal("pipelines must resume after the last pause-holding session resolves")
	}
}

func TestFailedRecoveryMarksSessionFailed(t *testing.T) {
	f := newCoordinator(3, true)
	ctx := context.Background()

	f.coord.RegisterRecovery(func() error { return errors.New("socket still down") })

	session, _ := f.coord.ActivateProtocol(ctx, "halt-all", "watchdog", "x")
	err := f.coord.Resolve(ctx, session.ID, models.ResolutionAutomatic, "watchdog")
	if err == nil {
		t.Fatal("failed recovery must surface an error")
	}

	got, _ := f.coord.Session(session.ID)
	if got.Status != models.SessionFailed {
		t.Fatalf("expected failed session, got %s", got.Status)
	}
	if !f.detection.isPaused() {
		t.Fatal("failed recovery must leave the system paused")
	}
}

func TestResolveKeepsPausesWhileAnotherSessionHoldsThem(t *testing.T) {
	f := newCoordinator(3, false)
	ctx := context.Background()

	first, _ := f.coord.ActivateProtocol(ctx, "halt-all", "watchdog", "one")
	second, _ := f.coord.ActivateProtocol(ctx, "halt-all", "watchdog", "two")

	if err := f.coord.Resolve(ctx, first.ID, models.ResolutionManual, "operator"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !f.detection.isPaused() {
		t.Fatal("pause must hold while another session is active")
	}

	if err := f.coord.Resolve(ctx, second.ID, models.ResolutionManual, "operator"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if f.detection.isPaused() {
		t.Fatal("last resolution must release the pause")
	}
}

func TestDrillValidatesWithoutSession(t *testing.T) {
	f := newCoordinator(3, false)

	result := f.coord.ExecuteDrill(context.Background(), "halt-all")
	if !result.Success {
		t.Fatalf("expected successful drill: %+v", result.Issues)
	}
	if len(f.coord.ActiveSessions()) != 0 {
		t.Fatal("drills must not create sessions")
	}
	if f.detection.isPaused() {
		t.Fatal("drills must not touch the pipeline")
	}
	if f.notifier.count() != 1 {
		t.Fatalf("drill must exercise the notification channel, got %d alerts", f.notifier.count())
	}
}

func TestDrillReportsIssues(t *testing.T) {
	f := newCoordinator(3, false)

	result := f.coord.ExecuteDrill(context.Background(), "no-such")
	if result.Success || len(result.Issues) == 0 {
		t.Fatalf("unknown protocol must fail the drill: %+v", result)
	}

	f.notifier.err = errors.New("kafka unreachable")
	result = f.coord.ExecuteDrill(context.Background(), "halt-all")
	if result.Success {
		t.Fatal("broken notification channel must fail the drill")
	}
}
