package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// Session receives the frames read from a connection.
type Session interface {
	HandleFrame(ctx context.Context, data []byte)
	Close()
}

// Client represents a single WebSocket connection
type Client struct {
	// WebSocket connection
	conn *websocket.Conn

	// Outbound frames queued by the hub; closed when the hub drops the connection
	send <-chan []byte

	// session handles inbound frames and owns the lifecycle
	session Session

	// ID is the connection id
	ID string

	maxMessageSize int64
	log            *zap.Logger
}

// NewClient creates a new Client instance
func NewClient(conn *websocket.Conn, id string, send <-chan []byte, sess Session, maxMessageSize int64, log *zap.Logger) *Client {
	return &Client{
		conn:           conn,
		send:           send,
		session:        sess,
		ID:             id,
		maxMessageSize: maxMessageSize,
		log:            log,
	}
}

// ReadPump pumps messages from the WebSocket connection to the session
// This runs in its own goroutine per client
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.session.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Info("read_error", zap.String("conn", c.ID), zap.Error(err))
			}
			break
		}
		c.session.HandleFrame(ctx, message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// Send each message as a separate WebSocket frame
			// (concatenating with newlines would break JSON parsing on the frontend)
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
