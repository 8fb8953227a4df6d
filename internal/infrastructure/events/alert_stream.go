package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/domain/monitoring"
)

// StreamConfig configures the websocket alert stream.
type StreamConfig struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SendBufferSize int
}

// DefaultStreamConfig returns production defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		SendBufferSize: 64,
	}
}

// streamMessage is the wire envelope pushed to subscribers.
type streamMessage struct {
	Type      string                      `json:"type"`
	Alert     *monitoring.ComplianceAlert `json:"alert,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// AlertStream fans newly raised alerts out to websocket subscribers.
// Implements the alert manager's publisher interface; publishing is
// best-effort and a slow subscriber is dropped rather than blocking intake.
type AlertStream struct {
	logger   *zap.Logger
	cfg      StreamConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewAlertStream creates the alert broadcast hub.
func NewAlertStream(logger *zap.Logger, cfg StreamConfig) *AlertStream {
	return &AlertStream{
		logger: logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// PublishAlert broadcasts one alert to every connected subscriber.
func (s *AlertStream) PublishAlert(_ context.Context, alert *monitoring.ComplianceAlert) {
	data, err := json.Marshal(streamMessage{
		Type:      "compliance_alert",
		Alert:     alert,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to marshal alert for stream", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Buffer full: subscriber is too slow, drop the message.
			s.logger.Warn("dropping alert for slow subscriber", zap.String("client_id", c.id))
		}
	}
}

// ServeHTTP upgrades the request to a websocket subscription.
func (s *AlertStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.cfg.SendBufferSize),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("alert subscriber connected", zap.String("client_id", c.id))

	go s.writeLoop(c)
	go s.readLoop(c)
}

// Close disconnects all subscribers.
func (s *AlertStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		close(c.send)
		delete(s.clients, id)
	}
}

func (s *AlertStream) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

func (s *AlertStream) writeLoop(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.drop(c)
				return
			}
		}
	}
}

func (s *AlertStream) readLoop(c *client) {
	defer s.drop(c)
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})
	for {
		// Subscribers only listen; any read error ends the session.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
