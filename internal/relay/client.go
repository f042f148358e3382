package relay

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/logger"
)

// Client is the foreground-session end of the cross-context channel. It
// dials the notifier's relay websocket and hands every validated frame to
// the registered handler.
type Client struct {
	addr string
	log  *logger.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	closed  bool
	handler func(*Message)
}

func NewClient(addr string, log *logger.Logger) *Client {
	return &Client{addr: addr, log: log}
}

// OnMessage sets the frame handler. Must be called before Connect.
func (c *Client) OnMessage(fn func(*Message)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Connect dials the relay and starts the read loop. A missing notifier is
// not an error worth failing session start over; callers decide.
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/relay"}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return ripple_errors.NewTransportError("relay_dial", err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ripple_errors.ErrRelayClosed
	}
	c.ws = ws
	c.mu.Unlock()

	go c.readLoop(ws)
	return nil
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Warnf("relay: connection lost: %v", err)
			}
			return
		}
		m, err := Decode(data)
		if err != nil {
			c.log.Warnf("relay: rejecting frame: %v", err)
			continue
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(m)
		}
	}
}

// Send writes one frame to the notifier side.
func (c *Client) Send(m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.closed {
		return ripple_errors.ErrRelayClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}
