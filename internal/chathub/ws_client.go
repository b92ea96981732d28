package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"tinchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	id     string
	conn   *websocket.Conn
	hub    *ManagerService
	logger zerolog.Logger
	send   chan models.Envelope

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	slow   bool
}

// NewWebSocketClient wraps an upgraded connection with a fresh connection ID.
func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, logger *zerolog.Logger) *WebSocketClient {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketClient{
		id:     id,
		conn:   conn,
		hub:    hub,
		logger: logger.With().Str("component", "ws").Str("connID", id).Logger(),
		send:   make(chan models.Envelope, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *WebSocketClient) GetConnectionID() string { return c.id }

// Deliver queues env for the write pump. A client whose buffer is full is
// closed as a slow consumer.
func (c *WebSocketClient) Deliver(env models.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		c.logger.Warn().Str("event", env.Event).Msg("send buffer full, closing slow client")
		c.slow = true
		c.closeLocked()
		return false
	}
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *WebSocketClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

func (c *WebSocketClient) readPump() {
	reason := ReasonTransportClose
	defer func() {
		c.hub.Disconnect(c.id, reason)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			reason = c.disconnectReason(err)
			if reason == ReasonTransportError {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
		c.hub.DispatchRaw(c.ctx, c.id, data)
	}
}

func (c *WebSocketClient) disconnectReason(err error) string {
	c.mu.Lock()
	slow, closed := c.slow, c.closed
	c.mu.Unlock()
	return disconnectReason(err, slow, closed)
}

// disconnectReason classifies why the read loop ended.
func disconnectReason(err error, slow, closedByServer bool) string {
	if slow {
		return ReasonSlowConsumer
	}
	if closedByServer {
		return ReasonServerShutdown
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonClientLeave
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) {
		return ReasonTransportClose
	}
	return ReasonTransportError
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error().Err(err).Str("event", env.Event).Msg("failed to encode event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
