// Package api exposes the operational HTTP surface: health, pipeline
// status, target/position listings, and emergency controls.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/internal/service/ratelimit"
	"SnipeFlow/internal/usecase"
	xhttp "SnipeFlow/pkg/http"
	xlogger "SnipeFlow/pkg/logger"
)

// MatchQuerier reads back recorded pattern matches. Satisfied by the
// ClickHouse event store.
type MatchQuerier interface {
	QueryMatches(ctx context.Context, symbol string, limit int) ([]*models.PatternMatch, error)
	Health(ctx context.Context) error
}

// OpsHandler implements the Echo route surface over the running
// pipeline.
type OpsHandler struct {
	logger      *xlogger.Logger
	collector   *usecase.StreamCollector
	market      *usecase.MarketDataManager
	bridge      *usecase.Bridge
	coordinator *usecase.EmergencyCoordinator
	targets     domrepo.TargetStore
	positions   domrepo.PositionStore
	matches     MatchQuerier
	rl          *ratelimit.Limiter
}

// NewOpsHandler creates the ops handler. matches may be nil when no
// event store is configured.
func NewOpsHandler(
	logger *xlogger.Logger,
	collector *usecase.StreamCollector,
	market *usecase.MarketDataManager,
	bridge *usecase.Bridge,
	coordinator *usecase.EmergencyCoordinator,
	targets domrepo.TargetStore,
	positions domrepo.PositionStore,
	matches MatchQuerier,
) *OpsHandler {
	return &OpsHandler{
		logger:      logger,
		collector:   collector,
		market:      market,
		bridge:      bridge,
		coordinator: coordinator,
		targets:     targets,
		positions:   positions,
		matches:     matches,
		rl:          ratelimit.New(),
	}
}

// RegisterRoutes attaches all ops routes.
func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/targets", h.Targets)
	g.GET("/positions", h.Positions)
	g.GET("/matches", h.Matches)
	g.GET("/sessions", h.Sessions)
	g.POST("/emergency/activate", h.Activate)
	g.POST("/emergency/:id/escalate", h.Escalate)
	g.POST("/emergency/:id/resolve", h.Resolve)
	g.POST("/drill", h.Drill)
}

type healthStatus struct {
	Stream     string `json:"stream"`
	EventStore string `json:"eventStore,omitempty"`
}

// Health reports liveness of the stream session and the event store.
func (h *OpsHandler) Health(c echo.Context) error {
	out := healthStatus{Stream: "disconnected"}
	if h.collector.IsConnected() {
		out.Stream = "connected"
	}
	if h.matches != nil {
		out.EventStore = "ok"
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.matches.Health(ctx); err != nil {
			out.EventStore = "unreachable"
		}
	}
	return xhttp.SuccessResponse(c, out)
}

type pipelineStatus struct {
	StreamConnected bool                `json:"streamConnected"`
	TrackedSymbols  int                 `json:"trackedSymbols"`
	Bridge          usecase.BridgeStats `json:"bridge"`
	ActiveSessions  int                 `json:"activeSessions"`
}

// Status returns a snapshot of the whole detection-to-execution path.
func (h *OpsHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, pipelineStatus{
		StreamConnected: h.collector.IsConnected(),
		TrackedSymbols:  len(h.market.TrackedSymbols()),
		Bridge:          h.bridge.Stats(),
		ActiveSessions:  len(h.coordinator.ActiveSessions()),
	})
}

// Targets lists targets by status; defaults to created.
func (h *OpsHandler) Targets(c echo.Context) error {
	status := models.TargetStatus(c.QueryParam("status"))
	if status == "" {
		status = models.TargetCreated
	}
	rows, err := h.targets.ListByStatus(c.Request().Context(), status)
	if err != nil {
		h.logger.Error("targets list error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Positions lists all open positions.
func (h *OpsHandler) Positions(c echo.Context) error {
	rows, err := h.positions.ListOpen(c.Request().Context())
	if err != nil {
		h.logger.Error("positions list error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Matches returns recent recorded matches for one symbol.
func (h *OpsHandler) Matches(c echo.Context) error {
	if h.matches == nil {
		return xhttp.NotFoundResponse(c, "event store not configured")
	}
	symbol := c.QueryParam("symbol")
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol required")
	}
	if !h.rl.Allow(c.RealIP()+":matches", 5, 2) {
		return xhttp.DataResponse(c, 429, "rate limited")
	}
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)
	rows, err := h.matches.QueryMatches(c.Request().Context(), symbol, limit)
	if err != nil {
		h.logger.Error("matches query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	since := xhttp.ParseTimeDefault(c.QueryParam("since"), time.Time{})
	if !since.IsZero() {
		filtered := rows[:0]
		for _, m := range rows {
			if !m.DetectedAt.Before(since) {
				filtered = append(filtered, m)
			}
		}
		rows = filtered
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Sessions lists active emergency sessions.
func (h *OpsHandler) Sessions(c echo.Context) error {
	rows := h.coordinator.ActiveSessions()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// coordError maps coordinator sentinels to API errors.
func coordError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrUnknownProtocol), errors.Is(err, usecase.ErrSessionNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrSessionNotActive), errors.Is(err, usecase.ErrVerifierRequired):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrTooManyEmergencies):
		return xhttp.NewAppError("ERR_CONFLICT", "", err.Error(), 409).WithError(err)
	default:
		return err
	}
}

type activateRequest struct {
	ProtocolID string `json:"protocolId" validate:"required"`
	Operator   string `json:"operator" validate:"required"`
	Reason     string `json:"reason"`
}

// Activate starts an emergency protocol on operator request.
func (h *OpsHandler) Activate(c echo.Context) error {
	req := &activateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	session, err := h.coordinator.ActivateProtocol(c.Request().Context(), req.ProtocolID, req.Operator, req.Reason)
	if err != nil {
		h.logger.Error("emergency activate error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, coordError(err))
	}
	h.logger.Warn("emergency activated via api",
		xlogger.String("session", session.ID),
		xlogger.String("protocol", req.ProtocolID))
	return xhttp.CreatedResponse(c, session)
}

type sessionActionRequest struct {
	Operator string `json:"operator" validate:"required"`
	Reason   string `json:"reason"`
}

// Escalate raises the severity of an active session.
func (h *OpsHandler) Escalate(c echo.Context) error {
	req := &sessionActionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := c.Param("id")
	if err := h.coordinator.Escalate(c.Request().Context(), id, req.Operator, req.Reason); err != nil {
		return xhttp.AppErrorResponse(c, coordError(err))
	}
	session, _ := h.coordinator.Session(id)
	return xhttp.SuccessResponse(c, session)
}

// Resolve closes an active session manually.
func (h *OpsHandler) Resolve(c echo.Context) error {
	req := &sessionActionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := c.Param("id")
	if err := h.coordinator.Resolve(c.Request().Context(), id, models.ResolutionManual, req.Operator); err != nil {
		return xhttp.AppErrorResponse(c, coordError(err))
	}
	session, _ := h.coordinator.Session(id)
	return xhttp.SuccessResponse(c, session)
}

type drillRequest struct {
	ProtocolID string `json:"protocolId" validate:"required"`
}

// Drill validates a protocol without opening a session.
func (h *OpsHandler) Drill(c echo.Context) error {
	req := &drillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":drill", 3, 1) {
		return xhttp.DataResponse(c, 429, "rate limited")
	}
	result := h.coordinator.ExecuteDrill(c.Request().Context(), req.ProtocolID)
	return xhttp.SuccessResponse(c, result)
}
