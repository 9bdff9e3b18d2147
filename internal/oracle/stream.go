package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures trade stream behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default trade stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

type streamPrice struct {
	price      float64
	observedAt time.Time
}

// TradeStream taps a trade feed over WebSocket and caches the last traded
// USD price per mint. The cache is consulted by the oracle client only when
// both HTTP providers fail, and only while the entry is fresh.
type TradeStream struct {
	endpoint string
	config   StreamConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	prices   map[string]streamPrice
	pricesMu sync.RWMutex

	// subscribed stores mints for resubscription after reconnect
	subscribed   map[string]bool
	subscribedMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewTradeStream creates a trade stream tap and connects to the endpoint.
func NewTradeStream(ctx context.Context, endpoint string, config *StreamConfig, logger *log.Logger) (*TradeStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[stream] ", log.LstdFlags)
	}

	s := &TradeStream{
		endpoint:   endpoint,
		config:     cfg,
		logger:     logger,
		prices:     make(map[string]streamPrice),
		subscribed: make(map[string]bool),
		done:       make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

var _ streamCache = (*TradeStream)(nil)

// connect establishes the WebSocket connection.
func (s *TradeStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// Subscribe starts receiving trades for the given mints. Mints are
// remembered and resubscribed after a reconnect.
func (s *TradeStream) Subscribe(mints ...string) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}
	if len(mints) == 0 {
		return nil
	}

	s.subscribedMu.Lock()
	for _, mint := range mints {
		s.subscribed[mint] = true
	}
	s.subscribedMu.Unlock()

	return s.writeSubscribe(mints)
}

func (s *TradeStream) writeSubscribe(mints []string) error {
	req := streamRequest{
		Method: "subscribeTokenTrade",
		Keys:   mints,
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// LastPrice returns the cached price for a mint if it is no older than
// maxAge.
func (s *TradeStream) LastPrice(mint string, maxAge time.Duration) (float64, bool) {
	s.pricesMu.RLock()
	entry, ok := s.prices[mint]
	s.pricesMu.RUnlock()

	if !ok || entry.price <= 0 {
		return 0, false
	}
	if time.Since(entry.observedAt) > maxAge {
		return 0, false
	}
	return entry.price, true
}

// Close closes the WebSocket connection.
func (s *TradeStream) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

// readLoop reads trade messages and updates the price cache.
func (s *TradeStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (s *TradeStream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	s.subscribedMu.Lock()
	mints := make([]string, 0, len(s.subscribed))
	for mint := range s.subscribed {
		mints = append(mints, mint)
	}
	s.subscribedMu.Unlock()

	if len(mints) > 0 {
		if err := s.writeSubscribe(mints); err != nil {
			s.logger.Printf("resubscribe after reconnect failed: %v", err)
		}
	}
}

// handleMessage parses a trade message and records the price.
func (s *TradeStream) handleMessage(message []byte) {
	var trade tradeMessage
	if err := json.Unmarshal(message, &trade); err != nil {
		return
	}
	if trade.Mint == "" || trade.PriceUSD <= 0 {
		return
	}

	s.pricesMu.Lock()
	s.prices[trade.Mint] = streamPrice{
		price:      trade.PriceUSD,
		observedAt: time.Now(),
	}
	s.pricesMu.Unlock()
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *TradeStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}

type streamRequest struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys"`
}

type tradeMessage struct {
	Mint     string  `json:"mint"`
	PriceUSD float64 `json:"priceUsd"`
	TxType   string  `json:"txType"`
}
