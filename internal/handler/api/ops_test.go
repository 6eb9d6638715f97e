package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"SnipeFlow/internal/domain/models"
	"SnipeFlow/internal/service/pattern"
	"SnipeFlow/internal/usecase"
	"SnipeFlow/pkg/bus"
	"SnipeFlow/pkg/logger"
)

type memTargets struct {
	targets map[string]*models.SnipeTarget
}

func newMemTargets() *memTargets {
	return &memTargets{targets: make(map[string]*models.SnipeTarget)}
}

func (s *memTargets) Create(_ context.Context, t *models.SnipeTarget) error {
	s.targets[t.ID] = t
	return nil
}

func (s *memTargets) Get(_ context.Context, id string) (*models.SnipeTarget, error) {
	return s.targets[id], nil
}

func (s *memTargets) UpdateStatus(_ context.Context, id string, status models.TargetStatus) error {
	if t, ok := s.targets[id]; ok {
		t.Status = status
	}
	return nil
}

func (s *memTargets) ListByStatus(_ context.Context, status models.TargetStatus) ([]*models.SnipeTarget, error) {
	var out []*models.SnipeTarget
	for _, t := range s.targets {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

type memPositions struct {
	open []*models.Position
}

func (s *memPositions) Create(_ context.Context, p *models.Position) error {
	s.open = append(s.open, p)
	return nil
}

func (s *memPositions) Get(context.Context, string) (*models.Position, error) { return nil, nil }

func (s *memPositions) ListOpen(context.Context) ([]*models.Position, error) {
	return s.open, nil
}

type memMatches struct {
	rows      []*models.PatternMatch
	healthErr error
}

func (m *memMatches) QueryMatches(_ context.Context, symbol string, limit int) ([]*models.PatternMatch, error) {
	var out []*models.PatternMatch
	for _, r := range m.rows {
		if r.Symbol == symbol && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memMatches) Health(context.Context) error { return m.healthErr }

type silentNotifier struct{}

func (silentNotifier) NotifyPattern(context.Context, *models.PatternEvent) error { return nil }
func (silentNotifier) NotifyEmergency(context.Context, *models.Alert) error      { return nil }
func (silentNotifier) Close() error                                              { return nil }

type noopPipeline struct{}

func (noopPipeline) Pause()  {}
func (noopPipeline) Resume() {}

type opsFixture struct {
	e         *echo.Echo
	targets   *memTargets
	positions *memPositions
	matches   *memMatches
	coord     *usecase.EmergencyCoordinator
}

func newOpsFixture(t *testing.T) *opsFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	patterns := bus.New[*models.PatternEvent](16)
	signals := bus.New[*models.BuySignal](16)
	patterns.Start(ctx)
	signals.Start(ctx)

	analyzer := pattern.NewAnalyzer(50, 50, 1000)
	market := usecase.NewMarketDataManager(usecase.MarketDataConfig{
		NearReadyBar:    70,
		CacheMaxSymbols: 100,
	}, analyzer, patterns, signals, nil, logger.Nop())
	t.Cleanup(market.Close)

	f := &opsFixture{
		targets:   newMemTargets(),
		positions: &memPositions{},
		matches:   &memMatches{},
	}

	collector := usecase.NewStreamCollector(market, nil, logger.Nop())
	bridge := usecase.NewBridge(patterns, f.targets, nil, logger.Nop(), 100)
	f.coord = usecase.NewEmergencyCoordinator(
		[]models.EmergencyProtocol{{
			ID:       "halt-all",
			Name:     "Halt everything",
			Actions:  []models.EmergencyAction{models.ActionPauseDetection, models.ActionNotifyOperators},
			Priority: 3,
		}},
		3, false, silentNotifier{}, f.targets, nil, logger.Nop(),
		noopPipeline{}, noopPipeline{},
	)

	h := NewOpsHandler(logger.Nop(), collector, market, bridge, f.coord, f.targets, f.positions, f.matches)
	f.e = echo.New()
	h.RegisterRoutes(f.e)
	return f
}

type apiEnvelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestHealthReportsStreamAndStore(t *testing.T) {
	f := newOpsFixture(t)
	_, env := doJSON(t, f.e, http.MethodGet, "/healthz", "")
	if env.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", env.Status)
	}
	var hs struct {
		Stream     string `json:"stream"`
		EventStore string `json:"eventStore"`
	}
	if err := json.Unmarshal(env.Data, &hs); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if hs.Stream != "disconnected" {
		t.Fatalf("no runner bound, stream should be disconnected, got %q", hs.Stream)
	}
	if hs.EventStore != "ok" {
		t.Fatalf("event store should be ok, got %q", hs.EventStore)
	}
}

func TestStatusSnapshot(t *testing.T) {
	f := newOpsFixture(t)
	_, env := doJSON(t, f.e, http.MethodGet, "/api/status", "")
	var ps struct {
		StreamConnected bool `json:"streamConnected"`
		ActiveSessions  int  `json:"activeSessions"`
	}
	if err := json.Unmarshal(env.Data, &ps); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if ps.StreamConnected {
		t.Fatal("stream should not be connected")
	}
	if ps.ActiveSessions != 0 {
		t.Fatalf("expected 0 sessions, got %d", ps.ActiveSessions)
	}
}

func TestTargetsListing(t *testing.T) {
	f := newOpsFixture(t)
	f.targets.targets["t1"] = &models.SnipeTarget{ID: "t1", Symbol: "NEWUSDT", Status: models.TargetCreated}
	f.targets.targets["t2"] = &models.SnipeTarget{ID: "t2", Symbol: "ALTUSDT", Status: models.TargetFailed}

	_, env := doJSON(t, f.e, http.MethodGet, "/api/targets", "")
	var list struct {
		Rows  []json.RawMessage `json:"rows"`
		Total int64             `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 {
		t.Fatalf("default status is created, expected 1 row, got %d", list.Total)
	}
}

func TestMatchesRequiresSymbol(t *testing.T) {
	f := newOpsFixture(t)
	_, env := doJSON(t, f.e, http.MethodGet, "/api/matches", "")
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected embedded 400, got %d", env.Status)
	}
}

func TestMatchesFiltersBySymbol(t *testing.T) {
	f := newOpsFixture(t)
	f.matches.rows = []*models.PatternMatch{
		{Symbol: "NEWUSDT", Confidence: 85},
		{Symbol: "ALTUSDT", Confidence: 70},
	}
	_, env := doJSON(t, f.e, http.MethodGet, "/api/matches?symbol=NEWUSDT", "")
	var list struct {
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 {
		t.Fatalf("expected 1 match, got %d", list.Total)
	}
}

func TestActivateValidatesBody(t *testing.T) {
	f := newOpsFixture(t)
	_, env := doJSON(t, f.e, http.MethodPost, "/api/emergency/activate", `{"protocolId":"halt-all"}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("missing operator should 400, got %d", env.Status)
	}
}

func TestActivateUnknownProtocolIs404(t *testing.T) {
	f := newOpsFixture(t)
	_, env := doJSON(t, f.e, http.MethodPost, "/api/emergency/activate",
		`{"protocolId":"no-such","operator":"oncall"}`)
	if env.Status != http.StatusNotFound {
		t.Fatalf("unknown protocol should 404, got %d", env.Status)
	}
}

func TestActivateAndResolveFlow(t *testing.T) {
	f := newOpsFixture(t)
	_, env := doJSON(t, f.e, http.MethodPost, "/api/emergency/activate",
		`{"protocolId":"halt-all","operator":"oncall","reason":"api test"}`)
	if env.Status != http.StatusCreated {
		t.Fatalf("expected embedded 201, got %d", env.Status)
	}
	var session models.EmergencySession
	if err := json.Unmarshal(env.Data, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	_, env = doJSON(t, f.e, http.MethodGet, "/api/sessions", "")
	var list struct {
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if list.Total != 1 {
		t.Fatalf("expected 1 active session, got %d", list.Total)
	}

	_, env = doJSON(t, f.e, http.MethodPost, "/api/emergency/"+session.ID+"/resolve",
		`{"operator":"oncall"}`)
	if env.Status != http.StatusOK {
		t.Fatalf("resolve failed with %d", env.Status)
	}
	got, _ := f.coord.Session(session.ID)
	if got.Status != models.SessionResolved {
		t.Fatalf("expected resolved, got %s", got.Status)
	}
}

func TestDrillEndpoint(t *testing.T) {
	f := newOpsFixture(t)
	_, env := doJSON(t, f.e, http.MethodPost, "/api/drill", `{"protocolId":"halt-all"}`)
	if env.Status != http.StatusOK {
		t.Fatalf("drill failed with %d", env.Status)
	}
	var result models.DrillResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode drill: %v", err)
	}
	if !result.Success {
		t.Fatalf("drill should pass, issues: %v", result.Issues)
	}
}
