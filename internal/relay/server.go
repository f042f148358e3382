package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ripple-chat/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Both ends live on the same host; the relay never faces the network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the notifier-side end of the cross-context channel. Foreground
// sessions connect over a local websocket; the background context fans
// call signals out to every connected session.
type Server struct {
	log *logger.Logger

	mu    sync.Mutex
	conns map[*conn]bool
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

func NewServer(log *logger.Logger) *Server {
	return &Server{log: log, conns: make(map[*conn]bool)}
}

// ServeHTTP upgrades a foreground session connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("relay: upgrade failed: %v", err)
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, 16)}
	s.mu.Lock()
	s.conns[c] = true
	s.mu.Unlock()
	s.log.Infof("relay: foreground session connected (%d active)", s.count())

	go s.writeLoop(c)
	go s.readLoop(c)
}

// Broadcast sends a frame to every connected foreground session. Sessions
// with a full queue are skipped; relay traffic is best-effort by design.
func (s *Server) Broadcast(m *Message) {
	data, err := Encode(m)
	if err != nil {
		s.log.Errorf("relay: encode %s: %v", m.Kind, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.send <- data:
		default:
			s.log.Warnf("relay: dropping %s frame for slow session", m.Kind)
		}
	}
}

// HasSessions reports whether any foreground instance is connected.
func (s *Server) HasSessions() bool {
	return s.count() > 0
}

func (s *Server) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) drop(c *conn) {
	s.mu.Lock()
	if s.conns[c] {
		delete(s.conns, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.ws.Close()
}

func (s *Server) readLoop(c *conn) {
	defer s.drop(c)
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// The foreground never initiates relay traffic today; reads only
		// service pings and detect disconnects.
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
