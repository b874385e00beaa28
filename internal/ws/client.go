package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 512
)

// Client is a change stream subscriber on a websocket connection. Pulls are
// minutes apart, so the connection is kept alive with pings between events.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

// NewClient wraps conn.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, log: logger, done: make(chan struct{})}
}

// Send writes one text frame. A failed write closes the client.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.TextMessage, payload)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("websocket send failed", "error", err)
		c.Close()
	}
	return err
}

// Serve blocks until the peer disconnects or stops answering pings. Inbound
// frames are discarded. onClose runs before the connection is closed.
func (c *Client) Serve(onClose func()) {
	defer func() {
		if onClose != nil {
			onClose()
		}
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepAlive()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket closed", "error", err)
			}
			return
		}
	}
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}
