package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client is a Conn backed by a gorilla websocket. Outbound frames go through
// a buffered queue drained by writePump; inbound frames are read and relayed
// by readPump.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	identity models.Identity
	id       string

	writeWait      time.Duration
	maxMessageSize int64

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, identity models.Identity, cfg config.RealtimeConfig) *Client {
	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		identity:       identity,
		writeWait:      cfg.WriteWait,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and releases the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

func (c *Client) readPump(ctx context.Context, m *Manager) {
	defer func() {
		m.registry.Unregister(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		m.monitor.Pong(c.id)
		return nil
	})

	from := Sender{ConnectionID: c.id, Identity: c.identity}
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error on connection %s: %v", c.id, err)
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				logger.Warn("Connection %s exceeded maximum frame size of %d bytes", c.id, c.maxMessageSize)
			}
			return
		}

		frame, err := DecodeFrame(raw)
		if err == nil {
			relayCtx, cancel := context.WithTimeout(ctx, c.writeWait)
			_, err = m.relay.Relay(relayCtx, from, frame)
			cancel()
		}
		if err != nil {
			logger.Warn("Rejected frame from user %s on %s: %v", c.identity.UserID, c.id, err)
			c.Send(ErrorFrame(err))
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debug("Write error on connection %s: %v", c.id, err)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
