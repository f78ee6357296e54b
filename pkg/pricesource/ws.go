package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSSource keeps a live price table fed by an exchange-style websocket ticker
// stream. FetchBaselinePrices serves from that table, so the simulator's
// refresh never waits on the network once the stream is up.
type WSSource struct {
	url     string
	symbols []string
	logger  *zap.Logger

	// mu guards the connection (replaced on reconnect) and the price table.
	mu   sync.RWMutex
	conn *websocket.Conn
	last map[string]float64
}

// tickerMessage is the wire format of one ticker update.
type tickerMessage struct {
	Topic  string  `json:"topic"` // e.g. "ticker.BTC"
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

func NewWSSource(url string, symbols []string, logger *zap.Logger) *WSSource {
	return &WSSource{
		url:     url,
		symbols: append([]string(nil), symbols...),
		logger:  logger,
		last:    make(map[string]float64),
	}
}

// Connect establishes the websocket connection and subscribes to the ticker
// channels for all configured symbols. It does not start the listener.
func (c *WSSource) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.logger.Error("Failed to connect to WebSocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	c.setConn(conn)
	c.logger.Info("WebSocket connected", zap.String("url", c.url))

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": c.topics(),
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		c.logger.Error("Failed to send subscription", zap.Error(err))
		return err
	}

	return nil
}

// Listen consumes ticker updates until ctx is cancelled, reconnecting after
// read failures. Cancellation closes the connection to unblock the read.
func (c *WSSource) Listen(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.closeConn()
	}()

	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("WebSocket read error", zap.Error(err))
			if !c.reconnectLoop(ctx) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

// reconnectLoop retries until a connection is re-established or ctx is
// cancelled. Returns false on cancellation.
func (c *WSSource) reconnectLoop(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(3 * time.Second):
		}

		if err := c.reconnectAndResubscribe(); err != nil {
			c.logger.Warn("Retrying reconnect...")
			continue
		}
		c.logger.Info("Reconnected successfully")
		return true
	}
}

func (c *WSSource) handleMessage(msg []byte) {
	var parsed tickerMessage
	if err := json.Unmarshal(msg, &parsed); err != nil {
		c.logger.Warn("failed to parse ticker payload", zap.Error(err))
		return
	}
	if parsed.Symbol == "" || parsed.Price <= 0 {
		return // subscription acks and heartbeats
	}

	c.mu.Lock()
	c.last[parsed.Symbol] = parsed.Price
	c.mu.Unlock()
}

func (c *WSSource) reconnectAndResubscribe() error {
	newConn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": c.topics(),
	}
	if err := newConn.WriteJSON(subMsg); err != nil {
		_ = newConn.Close()
		return fmt.Errorf("websocket subscribe failed: %w", err)
	}

	c.closeConn()
	c.setConn(newConn)
	return nil
}

func (c *WSSource) currentConn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *WSSource) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *WSSource) closeConn() {
	if conn := c.currentConn(); conn != nil {
		_ = conn.Close()
	}
}

func (c *WSSource) topics() []string {
	topics := make([]string, 0, len(c.symbols))
	for _, symbol := range c.symbols {
		topics = append(topics, fmt.Sprintf("ticker.%s", symbol))
	}
	return topics
}

// FetchBaselinePrices returns the last streamed price for each requested
// symbol. It fails only when nothing has been received yet.
func (c *WSSource) FetchBaselinePrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.last) == 0 {
		return nil, fmt.Errorf("%w: no ticker data received yet", ErrSourceUnavailable)
	}

	out := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if p, ok := c.last[symbol]; ok {
			out[symbol] = p
		}
	}
	return out, nil
}
