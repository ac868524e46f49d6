package asterdex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// BookTicker is one top-of-book update from a venue stream.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	AskPrice float64
}

// Mid is the midpoint of the top of book.
func (t BookTicker) Mid() float64 {
	return (t.BidPrice + t.AskPrice) / 2
}

type TickerHandler func(BookTicker)

// BookTickerStream subscribes to a symbol's book-ticker websocket
// stream and feeds each update to the handler.
type BookTickerStream struct {
	url     string
	symbol  string
	handler TickerHandler
	logger  *logrus.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

type bookTickerMessage struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

func NewBookTickerStream(wsURL, symbol string, handler TickerHandler, logger *logrus.Logger) *BookTickerStream {
	return &BookTickerStream{
		url:     wsURL,
		symbol:  symbol,
		handler: handler,
		logger:  logger,
	}
}

func (s *BookTickerStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	endpoint := fmt.Sprintf("%s/ws/%s@bookTicker", s.url, strings.ToLower(s.symbol))
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to ticker stream: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.readLoop(ctx)
	go s.keepAlive(ctx)

	return nil
}

func (s *BookTickerStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *BookTickerStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.handleDisconnect()
			return
		default:
			var msg bookTickerMessage
			if err := s.conn.ReadJSON(&msg); err != nil {
				s.logger.WithError(err).Error("Failed to read ticker stream message")
				s.handleDisconnect()
				return
			}
			s.handler(BookTicker{
				Symbol:   msg.Symbol,
				BidPrice: parseFloat(msg.BidPrice),
				AskPrice: parseFloat(msg.AskPrice),
			})
		}
	}
}

func (s *BookTickerStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.connected {
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.logger.WithError(err).Error("Failed to send ping")
					s.mu.Unlock()
					s.handleDisconnect()
					return
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *BookTickerStream) handleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *BookTickerStream) Close() {
	s.handleDisconnect()
}
