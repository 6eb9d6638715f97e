// Package exchange implements the exchange-facing transport: the
// streaming market-data connection and the signed REST client.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"SnipeFlow/internal/domain/models"
	domrepo "SnipeFlow/internal/domain/repository"
	"SnipeFlow/pkg/logger"
)

// StreamConfig configures the websocket stream.
type StreamConfig struct {
	URL          string
	APIKey       string
	Symbols      []string
	PingInterval time.Duration
	EventBuffer  int
}

// Stream implements a MarketStream over the exchange websocket feed.
type Stream struct {
	cfg StreamConfig
	log *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// NewStream creates a stream. The connection is not opened until Connect.
func NewStream(cfg StreamConfig, log *logger.Logger) *Stream {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	return &Stream{cfg: cfg, log: log}
}

// Connect dials the websocket endpoint.
func (s *Stream) Connect(ctx context.Context) error {
	u := s.cfg.URL
	if s.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", s.cfg.URL, s.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return &models.ConnectivityError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.log.Info("stream connected", logger.String("url", s.cfg.URL))
	return nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Subscribe requests the status, ticker and depth channels for the
// configured symbols. The status channel is account-wide.
func (s *Stream) Subscribe(ctx context.Context) error {
	params := []string{"status"}
	for _, sym := range s.cfg.Symbols {
		params = append(params, "ticker@"+sym, "depth@"+sym)
	}
	return s.Send(ctx, &subscribeRequest{Method: "SUBSCRIPTION", Params: params})
}

// Send writes one JSON message to the socket.
func (s *Stream) Send(_ context.Context, msg interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return &models.ConnectivityError{Op: "send", Err: fmt.Errorf("not connected")}
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return &models.ConnectivityError{Op: "send", Err: err}
	}
	return nil
}

// Read starts the ping and read loops and returns the event and error
// channels. Both close when the read loop exits.
func (s *Stream) Read(ctx context.Context) (<-chan *domrepo.StreamEvent, <-chan error) {
	events := make(chan *domrepo.StreamEvent, s.cfg.EventBuffer)
	errs := make(chan error, 1)

	go s.pingLoop(ctx)
	go s.readLoop(ctx, events, errs)

	return events, errs
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn, ok := s.conn, s.connected
			s.mu.Unlock()
			if !ok || conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// The read loop will surface the broken connection.
				s.log.Warn("ping failed", logger.Error(err))
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, events chan<- *domrepo.StreamEvent, errs chan<- error) {
	defer close(events)
	defer close(errs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			errs <- &models.ConnectivityError{Op: "read", Err: fmt.Errorf("connection closed")}
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			errs <- &models.ConnectivityError{Op: "read", Err: err}
			return
		}

		ev, err := decodeFrame(raw)
		if err != nil {
			s.log.Debug("undecodable frame skipped", logger.Error(err))
			continue
		}
		if ev == nil {
			continue
		}
		select {
		case events <- ev:
		default:
			// Replace-on-write caches downstream make dropped frames
			// recoverable; blocking the read loop is not.
			s.log.Warn("stream event dropped")
		}
	}
}

// Disconnect closes the connection with a normal-closure frame.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := s.conn.Close()
	s.conn = nil
	return err
}

// IsConnected reports the connection state.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// wsFrame is the envelope of every feed message.
type wsFrame struct {
	Channel string          `json:"c"`
	Symbol  string          `json:"s"`
	Data    json.RawMessage `json:"d"`
	Ts      int64           `json:"t"` // ms
}

type statusPayload struct {
	VcoinID string  `json:"vcoinId"`
	Sts     int     `json:"sts"`
	St      int     `json:"st"`
	Tt      int     `json:"tt"`
	Ps      float64 `json:"ps"`
	Qs      float64 `json:"qs"`
	Ca      float64 `json:"ca"`
}

type tickerPayload struct {
	Price          float64 `json:"c"`
	PriceChange    float64 `json:"pc"`
	PriceChangePct float64 `json:"pcp"`
	Volume         float64 `json:"v"`
	QuoteVolume    float64 `json:"qv"`
	High           float64 `json:"h"`
	Low            float64 `json:"l"`
	Open           float64 `json:"o"`
}

type depthPayload struct {
	Bids [][2]float64 `json:"bids"`
	Asks [][2]float64 `json:"asks"`
}

// decodeFrame turns one raw feed message into a typed event. Frames on
// unknown channels return (nil, nil) and are skipped silently.
func decodeFrame(raw []byte) (*domrepo.StreamEvent, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("frame envelope: %w", err)
	}
	ts := time.UnixMilli(frame.Ts)

	switch frame.Channel {
	case "status":
		var p statusPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return nil, fmt.Errorf("status payload: %w", err)
		}
		return &domrepo.StreamEvent{Status: &models.SymbolStatus{
			Symbol:    frame.Symbol,
			VcoinID:   p.VcoinID,
			Sts:       p.Sts,
			St:        p.St,
			Tt:        p.Tt,
			Ps:        p.Ps,
			Qs:        p.Qs,
			Ca:        p.Ca,
			Timestamp: ts,
		}}, nil
	case "ticker":
		var p tickerPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return nil, fmt.Errorf("ticker payload: %w", err)
		}
		return &domrepo.StreamEvent{Ticker: &models.PriceTick{
			Symbol:         frame.Symbol,
			Price:          p.Price,
			PriceChange:    p.PriceChange,
			PriceChangePct: p.PriceChangePct,
			Volume:         p.Volume,
			QuoteVolume:    p.QuoteVolume,
			High:           p.High,
			Low:            p.Low,
			Open:           p.Open,
			Timestamp:      ts,
		}}, nil
	case "depth":
		var p depthPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return nil, fmt.Errorf("depth payload: %w", err)
		}
		return &domrepo.StreamEvent{Depth: &models.DepthUpdate{
			Symbol:    frame.Symbol,
			Bids:      toLevels(p.Bids),
			Asks:      toLevels(p.Asks),
			Timestamp: ts,
		}}, nil
	default:
		return nil, nil
	}
}

func toLevels(raw [][2]float64) []models.DepthLevel {
	levels := make([]models.DepthLevel, 0, len(raw))
	for _, l := range raw {
		levels = append(levels, models.DepthLevel{Price: l[0], Quantity: l[1]})
	}
	return levels
}

// ShouldReconnect classifies a stream error: normal closures end the
// session, everything else (including abnormal 1006 closures and plain
// socket errors) warrants a reconnect.
func ShouldReconnect(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code != websocket.CloseNormalClosure &&
			closeErr.Code != websocket.CloseGoingAway
	}
	return true
}

var _ domrepo.MarketStream = (*Stream)(nil)
